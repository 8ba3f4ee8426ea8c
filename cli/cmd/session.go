package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/cliprdr/adapter"
	"github.com/pithecene-io/cliprdr/adapter/redis"
	"github.com/pithecene-io/cliprdr/adapter/webhook"
	"github.com/pithecene-io/cliprdr/backend"
	"github.com/pithecene-io/cliprdr/backend/dirboard"
	"github.com/pithecene-io/cliprdr/backend/memory"
	"github.com/pithecene-io/cliprdr/cli/config"
	"github.com/pithecene-io/cliprdr/lode"
	"github.com/pithecene-io/cliprdr/log"
	"github.com/pithecene-io/cliprdr/metrics"
	"github.com/pithecene-io/cliprdr/runtime"
	"github.com/pithecene-io/cliprdr/types"
)

// exitConfigError is returned for invalid flags or configuration, before
// any connection is made.
const exitConfigError = runtime.ExitCodeConfig

// Session command defaults.
const (
	DefaultAddress        = "127.0.0.1:9940"
	defaultDownloadPrefix = "incoming"
)

// ServeCommand returns the serve command. It accepts channel connections
// one at a time and runs a session on each.
func ServeCommand() *cli.Command {
	flags := append(sessionFlags(),
		&cli.BoolFlag{
			Name:  "once",
			Usage: "Exit after the first session ends",
		},
	)
	return &cli.Command{
		Name:  "serve",
		Usage: "Listen for clipboard channel connections",
		Flags: flags,
		Action: func(c *cli.Context) error {
			return sessionAction(c, types.RoleListen)
		},
	}
}

// ConnectCommand returns the connect command. It dials the peer and runs
// a single session.
func ConnectCommand() *cli.Command {
	return &cli.Command{
		Name:  "connect",
		Usage: "Dial a clipboard channel peer and run one session",
		Flags: sessionFlags(),
		Action: func(c *cli.Context) error {
			return sessionAction(c, types.RoleConnect)
		},
	}
}

func sessionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "Path to cliprdr.yaml (CLI flags override its values)",
		},
		&cli.StringFlag{
			Name:  "address",
			Usage: "Channel address (host:port)",
			Value: DefaultAddress,
		},
		&cli.StringSliceFlag{
			Name:  "capability",
			Usage: "Advertised capability (repeatable; default all)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Minimum log level: debug, info, warn, error",
			Value: "info",
		},
		// Local clipboard
		&cli.StringFlag{
			Name:  "backend",
			Usage: "Local clipboard: memory or dir",
			Value: "memory",
		},
		&cli.StringFlag{
			Name:  "backend-dir",
			Usage: "Board directory for the dir backend",
		},
		&cli.DurationFlag{
			Name:  "backend-poll",
			Usage: "Rescan interval for the dir backend (0 relies on fsnotify only)",
		},
		// Download storage
		&cli.StringFlag{
			Name:  "storage-backend",
			Usage: "Download storage: fs, s3 or memory",
			Value: lode.BackendFS,
		},
		&cli.StringFlag{
			Name:  "storage-path",
			Usage: "Download storage path (fs: directory, s3: bucket/prefix); empty disables downloads",
		},
		&cli.StringFlag{
			Name:  "storage-region",
			Usage: "AWS region for S3 storage (optional, uses default chain)",
		},
		&cli.StringFlag{
			Name:  "storage-endpoint",
			Usage: "Custom S3 endpoint URL (R2, MinIO)",
		},
		&cli.BoolFlag{
			Name:  "storage-s3-path-style",
			Usage: "Force path-style S3 addressing",
		},
		// Served files
		&cli.StringFlag{
			Name:  "share-backend",
			Usage: "Storage the local file list is served from: fs, s3 or memory",
			Value: lode.BackendFS,
		},
		&cli.StringFlag{
			Name:  "share-path",
			Usage: "Root of served files; file locations outside it are not offered",
			Value: "/",
		},
		// Transfer tuning
		&cli.Uint64Flag{
			Name:  "chunk-size",
			Usage: "Bytes requested per file contents stream",
			Value: runtime.DefaultChunkSize,
		},
		&cli.IntFlag{
			Name:  "max-inflight",
			Usage: "Outstanding range requests per file",
			Value: runtime.DefaultMaxInflight,
		},
		&cli.DurationFlag{
			Name:  "stream-timeout",
			Usage: "Fail a stream with no response after this long (0 disables)",
			Value: 30 * time.Second,
		},
		&cli.BoolFlag{
			Name:  "auto-download",
			Usage: "Download files the peer announces",
			Value: true,
		},
		&cli.StringFlag{
			Name:  "download-prefix",
			Usage: "Key prefix for downloaded files",
			Value: defaultDownloadPrefix,
		},
		// Event adapter
		&cli.StringFlag{
			Name:  "adapter",
			Usage: "Event adapter: webhook or redis (optional)",
		},
		&cli.StringFlag{
			Name:  "adapter-url",
			Usage: "Adapter endpoint URL",
		},
		&cli.StringFlag{
			Name:  "adapter-channel",
			Usage: "Redis pub/sub channel",
		},
		&cli.StringSliceFlag{
			Name:  "adapter-header",
			Usage: "Webhook header as key=value (repeatable)",
		},
		&cli.DurationFlag{
			Name:  "adapter-timeout",
			Usage: "Per-publish timeout",
			Value: 10 * time.Second,
		},
		&cli.IntFlag{
			Name:  "adapter-retries",
			Usage: "Publish retry attempts",
			Value: 3,
		},
		// Output
		&cli.StringFlag{
			Name:  "report",
			Usage: "Write a JSON session report to this path (- for stderr)",
		},
		&cli.BoolFlag{
			Name:  "quiet",
			Usage: "Suppress the session summary",
		},
	}
}

// backendChoice holds the parsed local clipboard configuration.
type backendChoice struct {
	kind string // "memory" or "dir"
	dir  string
	poll time.Duration
}

// adapterChoice holds the parsed adapter configuration.
type adapterChoice struct {
	adapterType string
	url         string
	channel     string
	headers     map[string]string
	timeout     time.Duration
	retries     int
}

// sessionSettings is the merged flag and config file configuration.
type sessionSettings struct {
	address   string
	caps      types.CapabilitySet
	logLevel  string
	backend   backendChoice
	storage   lode.StorageConfig
	share     lode.StorageConfig
	transfer  runtime.TransferConfig
	prefix    string
	adapter   *adapterChoice
	report    string
	quiet     bool
	downloads bool
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return nil, nil
	}
	return config.Load(path)
}

func resolveSettings(c *cli.Context, cfg *config.Config, role types.SessionRole) (*sessionSettings, error) {
	if cfgRole := configVal(cfg, func(c *config.Config) string { return c.Role }); cfgRole != "" && types.SessionRole(cfgRole) != role {
		return nil, fmt.Errorf("config role %q conflicts with the command role %q", cfgRole, role)
	}

	s := &sessionSettings{
		address:  resolveString(c, "address", configVal(cfg, func(c *config.Config) string { return c.Address })),
		logLevel: resolveString(c, "log-level", configVal(cfg, func(c *config.Config) string { return c.LogLevel })),
		report:   c.String("report"),
		quiet:    c.Bool("quiet"),
		prefix:   resolveString(c, "download-prefix", configVal(cfg, func(c *config.Config) string { return c.Transfer.Prefix })),
	}

	capNames := resolveStringSlice(c, "capability", configVal(cfg, func(c *config.Config) []string { return c.Capabilities }))
	if len(capNames) == 0 {
		s.caps = types.LocalCapabilities()
	} else {
		caps, err := types.ParseCapabilitySet(capNames)
		if err != nil {
			return nil, fmt.Errorf("invalid --capability: %w", err)
		}
		s.caps = caps
	}

	s.backend = backendChoice{
		kind: resolveString(c, "backend", configVal(cfg, func(c *config.Config) string { return c.Backend.Type })),
		dir:  resolveString(c, "backend-dir", configVal(cfg, func(c *config.Config) string { return c.Backend.Path })),
		poll: resolveDuration(c, "backend-poll", configVal(cfg, func(c *config.Config) time.Duration { return c.Backend.Poll.Duration })),
	}
	switch s.backend.kind {
	case "memory":
	case "dir":
		if s.backend.dir == "" {
			return nil, errors.New("--backend-dir is required for the dir backend")
		}
	default:
		return nil, fmt.Errorf("unknown --backend %q (expected memory or dir)", s.backend.kind)
	}

	s.storage = resolveStorage(c, "storage", configVal(cfg, func(c *config.Config) config.StorageConfig { return c.Storage }))
	s.share = resolveStorage(c, "share", configVal(cfg, func(c *config.Config) config.StorageConfig { return c.Share }))
	s.downloads = s.storage.Path != "" || s.storage.Backend == lode.BackendMemory

	s.transfer = runtime.TransferConfig{
		ChunkSize:     resolveUint64(c, "chunk-size", configVal(cfg, func(c *config.Config) uint64 { return c.Transfer.ChunkSize })),
		MaxInflight:   resolveInt(c, "max-inflight", configVal(cfg, func(c *config.Config) int { return c.Transfer.MaxInflight })),
		StreamTimeout: resolveDuration(c, "stream-timeout", configVal(cfg, func(c *config.Config) time.Duration { return c.Transfer.StreamTimeout.Duration })),
		AutoDownload:  resolveOptionalBool(c, "auto-download", configVal(cfg, func(c *config.Config) *bool { return c.Transfer.AutoDownload })),
	}
	if err := s.transfer.Validate(); err != nil {
		return nil, err
	}
	if s.transfer.MaxInflight < 0 {
		return nil, fmt.Errorf("--max-inflight must be >= 0, got %d", s.transfer.MaxInflight)
	}

	adapterType := resolveString(c, "adapter", configVal(cfg, func(c *config.Config) string { return c.Adapter.Type }))
	if adapterType != "" {
		ac, err := parseAdapterConfigWithPrecedence(c, cfg, adapterType)
		if err != nil {
			return nil, err
		}
		s.adapter = ac
	}
	return s, nil
}

// resolveStorage merges the <prefix>-backend, <prefix>-path and the S3
// flags with one storage section of the config file. Region, endpoint and
// path style are shared by both storages on the command line.
func resolveStorage(c *cli.Context, prefix string, cfg config.StorageConfig) lode.StorageConfig {
	sc := lode.StorageConfig{
		Backend: resolveString(c, prefix+"-backend", cfg.Backend),
		Path:    resolveString(c, prefix+"-path", cfg.Path),
	}
	if prefix == "storage" {
		sc.Region = resolveString(c, "storage-region", cfg.Region)
		sc.Endpoint = resolveString(c, "storage-endpoint", cfg.Endpoint)
		sc.UsePathStyle = resolveBool(c, "storage-s3-path-style", cfg.S3PathStyle)
	} else {
		sc.Region = cfg.Region
		sc.Endpoint = cfg.Endpoint
		sc.UsePathStyle = cfg.S3PathStyle
	}
	return sc
}

// parseAdapterConfigWithPrecedence reads adapter flags, falling back to
// the config file. Config headers are merged under CLI headers.
func parseAdapterConfigWithPrecedence(c *cli.Context, cfg *config.Config, adapterType string) (*adapterChoice, error) {
	ac := &adapterChoice{
		adapterType: adapterType,
		url:         resolveString(c, "adapter-url", configVal(cfg, func(c *config.Config) string { return c.Adapter.URL })),
		channel:     resolveString(c, "adapter-channel", configVal(cfg, func(c *config.Config) string { return c.Adapter.Channel })),
		timeout:     resolveDuration(c, "adapter-timeout", configVal(cfg, func(c *config.Config) time.Duration { return c.Adapter.Timeout.Duration })),
		retries:     c.Int("adapter-retries"),
		headers:     make(map[string]string),
	}
	if !c.IsSet("adapter-retries") {
		if r := configVal(cfg, func(c *config.Config) *int { return c.Adapter.Retries }); r != nil {
			ac.retries = *r
		}
	}

	switch adapterType {
	case "webhook", "redis":
	default:
		return nil, fmt.Errorf("unknown --adapter %q (expected webhook or redis)", adapterType)
	}
	if ac.url == "" {
		return nil, fmt.Errorf("--adapter-url is required for the %s adapter", adapterType)
	}
	if ac.retries < 0 {
		return nil, fmt.Errorf("--adapter-retries must be >= 0, got %d", ac.retries)
	}

	for k, v := range configVal(cfg, func(c *config.Config) map[string]string { return c.Adapter.Headers }) {
		ac.headers[k] = v
	}
	for _, h := range c.StringSlice("adapter-header") {
		k, v, ok := strings.Cut(h, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --adapter-header %q: expected key=value", h)
		}
		ac.headers[k] = v
	}
	return ac, nil
}

// environment is the state shared by every session of one process.
type environment struct {
	backend   backend.Backend
	share     *lode.Share
	downloads *lode.Storage
	notifier  adapter.Notifier
}

func (e *environment) close() {
	if e.notifier != nil {
		_ = e.notifier.Close()
	}
	if e.backend != nil {
		_ = e.backend.Close()
	}
}

func openEnvironment(ctx context.Context, s *sessionSettings, logger *log.Logger) (*environment, error) {
	env := &environment{}

	b, err := buildBackend(s.backend, logger)
	if err != nil {
		return nil, err
	}
	env.backend = b

	shareStorage, err := lode.NewStorage(ctx, s.share)
	if err != nil {
		env.close()
		return nil, fmt.Errorf("share storage: %w", err)
	}
	env.share = lode.NewShare(shareStorage)

	if s.downloads {
		env.downloads, err = lode.NewStorage(ctx, s.storage)
		if err != nil {
			env.close()
			return nil, fmt.Errorf("download storage: %w", err)
		}
	} else {
		logger.Info("no download storage configured, file lists will not be fetched", nil)
	}

	if s.adapter != nil {
		env.notifier, err = buildNotifier(s.adapter)
		if err != nil {
			env.close()
			return nil, err
		}
	}
	return env, nil
}

func buildBackend(choice backendChoice, logger *log.Logger) (backend.Backend, error) {
	switch choice.kind {
	case "dir":
		return dirboard.Open(dirboard.Config{Dir: choice.dir, Poll: choice.poll, Logger: logger})
	case "memory", "":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", choice.kind)
	}
}

func buildNotifier(ac *adapterChoice) (adapter.Notifier, error) {
	switch ac.adapterType {
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     ac.url,
			Headers: ac.headers,
			Timeout: ac.timeout,
			Retries: ac.retries,
		})
	case "redis":
		return redis.New(redis.Config{
			URL:     ac.url,
			Channel: ac.channel,
			Timeout: ac.timeout,
			Retries: ac.retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter %q", ac.adapterType)
	}
}

func sessionAction(c *cli.Context, role types.SessionRole) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	settings, err := resolveSettings(c, cfg, role)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	logger, err := log.NewLoggerWithLevel(&types.SessionMeta{Role: role}, os.Stderr, settings.logLevel)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid --log-level: %v", err), exitConfigError)
	}
	defer func() { _ = logger.Sync() }()

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	env, err := openEnvironment(ctx, settings, logger)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	defer env.close()

	if role == types.RoleListen {
		return serve(ctx, c.Bool("once"), settings, env, logger)
	}
	return connect(ctx, settings, env, logger)
}

func serve(ctx context.Context, once bool, s *sessionSettings, env *environment, logger *log.Logger) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.address)
	if err != nil {
		return cli.Exit(fmt.Sprintf("listen %s: %v", s.address, err), runtime.ExitCodeTransport)
	}
	defer func() { _ = ln.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	logger.Info("listening", map[string]any{"address": ln.Addr().String()})

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return cli.Exit("", runtime.ExitCodeClosed)
			}
			return cli.Exit(fmt.Sprintf("accept: %v", err), runtime.ExitCodeTransport)
		}

		result, err := runSession(ctx, conn, types.RoleListen, s, env)
		if err != nil {
			return cli.Exit(err.Error(), exitConfigError)
		}
		if once || ctx.Err() != nil {
			return cli.Exit("", result.Outcome.ExitCode())
		}
	}
}

func connect(ctx context.Context, s *sessionSettings, env *environment, logger *log.Logger) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.address)
	if err != nil {
		return cli.Exit(fmt.Sprintf("connect %s: %v", s.address, err), runtime.ExitCodeTransport)
	}
	logger.Debug("connected", map[string]any{"address": s.address})

	result, err := runSession(ctx, conn, types.RoleConnect, s, env)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	return cli.Exit("", result.Outcome.ExitCode())
}

// runSession runs one session over conn and emits its summary and report.
func runSession(ctx context.Context, conn net.Conn, role types.SessionRole, s *sessionSettings, env *environment) (*runtime.SessionResult, error) {
	peer := conn.RemoteAddr().String()
	meta := &types.SessionMeta{
		SessionID: uuid.NewString(),
		Role:      role,
		Peer:      &peer,
	}
	logger, err := log.NewLoggerWithLevel(meta, os.Stderr, s.logLevel)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	storageBackend := "none"
	if env.downloads != nil {
		storageBackend = env.downloads.Backend()
	}
	collector := metrics.NewCollector(meta.SessionID, string(role), env.backend.Name(), storageBackend)

	var receiver *lode.Receiver
	if env.downloads != nil {
		receiver = lode.NewReceiver(env.downloads, s.prefix, collector)
	}

	session, err := runtime.NewSession(runtime.SessionConfig{
		Conn:         conn,
		Meta:         meta,
		Capabilities: s.caps,
		Backend:      env.backend,
		Share:        env.share,
		Receiver:     receiver,
		Notifier:     env.notifier,
		Transfer:     s.transfer,
		Logger:       logger,
		Collector:    collector,
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	result := session.Run(ctx)
	report := runtime.BuildSessionReport(result, collector.Snapshot())

	if s.report != "" {
		if err := runtime.WriteSessionReport(report, s.report); err != nil {
			logger.Warn("failed to write session report", map[string]any{"error": err.Error()})
		}
	}
	if !s.quiet {
		printSessionResult(report)
	}
	return result, nil
}

func printSessionResult(report *runtime.SessionReport) {
	fmt.Printf("\nsession_id=%s, role=%s, outcome=%s, duration=%s\n",
		report.SessionID,
		report.Role,
		report.Outcome,
		(time.Duration(report.DurationMs) * time.Millisecond).Round(time.Millisecond),
	)

	fmt.Printf("\n=== Session Result ===\n")
	fmt.Printf("Session ID:   %s\n", report.SessionID)
	if report.Peer != "" {
		fmt.Printf("Peer:         %s\n", report.Peer)
	}
	fmt.Printf("Outcome:      %s\n", report.Outcome)
	fmt.Printf("Message:      %s\n", report.Message)

	if report.Transfers != nil {
		fmt.Printf("\n=== Transfers ===\n")
		fmt.Printf("Files Received:  %d\n", report.Transfers.FilesReceived)
		fmt.Printf("Files Failed:    %d\n", report.Transfers.FilesFailed)
		fmt.Printf("Bytes Received:  %d\n", report.Transfers.BytesReceived)
		fmt.Printf("Bytes Served:    %d\n", report.Transfers.BytesServed)
	}

	if m := report.Metrics; m != nil {
		fmt.Printf("\n=== Channel ===\n")
		fmt.Printf("PDUs Sent:       %d\n", m.PDUsSent)
		fmt.Printf("PDUs Received:   %d\n", m.PDUsReceived)
		fmt.Printf("Decode Errors:   %d\n", m.FrameDecodeError)
	}
}
