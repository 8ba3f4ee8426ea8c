package cmd

import (
	"flag"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/cliprdr/cli/config"
)

// newTestCLIContext builds a minimal *cli.Context with the given flags set.
// flagValues maps flag names to their string values. All listed flags are
// registered and marked as explicitly set (c.IsSet returns true).
// defaultFlags maps flag names to default values (not explicitly set).
func newTestCLIContext(t *testing.T, flagValues map[string]string, defaultFlags map[string]string) *cli.Context {
	t.Helper()
	app := cli.NewApp()

	allFlags := make(map[string]string)
	for k, v := range defaultFlags {
		allFlags[k] = v
	}
	for k, v := range flagValues {
		allFlags[k] = v
	}

	var cliFlags []cli.Flag
	for name, val := range allFlags {
		cliFlags = append(cliFlags, &cli.StringFlag{Name: name, Value: val})
	}
	app.Flags = cliFlags

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	for name, val := range allFlags {
		fs.String(name, val, "")
	}

	// Only set the flagValues (not defaults) so c.IsSet works
	for name, val := range flagValues {
		if err := fs.Set(name, val); err != nil {
			t.Fatalf("failed to set flag %s: %v", name, err)
		}
	}

	return cli.NewContext(app, fs, nil)
}

func TestResolveString_CLIWins(t *testing.T) {
	c := newTestCLIContext(t, map[string]string{"address": "10.0.0.1:9940"}, nil)
	got := resolveString(c, "address", "10.0.0.2:9940")
	if got != "10.0.0.1:9940" {
		t.Errorf("expected CLI to win, got %q", got)
	}
}

func TestResolveString_ConfigFallback(t *testing.T) {
	c := newTestCLIContext(t, nil, map[string]string{"address": DefaultAddress})
	got := resolveString(c, "address", "10.0.0.2:9940")
	if got != "10.0.0.2:9940" {
		t.Errorf("expected config fallback, got %q", got)
	}
}

func TestResolveString_UrfaveDefault(t *testing.T) {
	c := newTestCLIContext(t, nil, map[string]string{"backend": "memory"})
	got := resolveString(c, "backend", "")
	if got != "memory" {
		t.Errorf("expected urfave default, got %q", got)
	}
}

func TestConfigVal_NilConfig(t *testing.T) {
	got := configVal(nil, func(c *config.Config) string { return c.Address })
	if got != "" {
		t.Errorf("expected empty for nil config, got %q", got)
	}
}

func TestConfigVal_NonNil(t *testing.T) {
	cfg := &config.Config{Address: "from-config"}
	got := configVal(cfg, func(c *config.Config) string { return c.Address })
	if got != "from-config" {
		t.Errorf("expected from-config, got %q", got)
	}
}

func TestResolveInt(t *testing.T) {
	tests := []struct {
		name   string
		set    string
		cfgVal int
		want   int
	}{
		{"cli wins", "8", 2, 8},
		{"config fallback", "", 2, 2},
		{"flag default", "", 0, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := cli.NewApp()
			app.Flags = []cli.Flag{&cli.IntFlag{Name: "max-inflight", Value: 4}}
			fs := flag.NewFlagSet("test", flag.ContinueOnError)
			fs.Int("max-inflight", 4, "")
			if tt.set != "" {
				_ = fs.Set("max-inflight", tt.set)
			}
			c := cli.NewContext(app, fs, nil)

			if got := resolveInt(c, "max-inflight", tt.cfgVal); got != tt.want {
				t.Errorf("resolveInt = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestResolveUint64_ConfigFallback(t *testing.T) {
	app := cli.NewApp()
	app.Flags = []cli.Flag{&cli.Uint64Flag{Name: "chunk-size", Value: 65536}}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Uint64("chunk-size", 65536, "")
	c := cli.NewContext(app, fs, nil)

	if got := resolveUint64(c, "chunk-size", 4096); got != 4096 {
		t.Errorf("expected config fallback 4096, got %d", got)
	}
}

func TestResolveBool_CLIWins(t *testing.T) {
	app := cli.NewApp()
	app.Flags = []cli.Flag{&cli.BoolFlag{Name: "storage-s3-path-style"}}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Bool("storage-s3-path-style", false, "")
	_ = fs.Set("storage-s3-path-style", "true")
	c := cli.NewContext(app, fs, nil)

	if !resolveBool(c, "storage-s3-path-style", false) {
		t.Error("expected CLI true to win")
	}
}

func TestResolveOptionalBool(t *testing.T) {
	no := false
	yes := true

	tests := []struct {
		name   string
		set    string
		cfgVal *bool
		want   bool
	}{
		{"unset uses flag default", "", nil, true},
		{"config false overrides default", "", &no, false},
		{"cli wins over config", "true", &no, true},
		{"cli false wins over config true", "false", &yes, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := cli.NewApp()
			app.Flags = []cli.Flag{&cli.BoolFlag{Name: "auto-download", Value: true}}
			fs := flag.NewFlagSet("test", flag.ContinueOnError)
			fs.Bool("auto-download", true, "")
			if tt.set != "" {
				_ = fs.Set("auto-download", tt.set)
			}
			c := cli.NewContext(app, fs, nil)

			if got := resolveOptionalBool(c, "auto-download", tt.cfgVal); got != tt.want {
				t.Errorf("resolveOptionalBool = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolveDuration_CLIWins(t *testing.T) {
	app := cli.NewApp()
	app.Flags = []cli.Flag{&cli.DurationFlag{Name: "stream-timeout"}}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Duration("stream-timeout", 0, "")
	_ = fs.Set("stream-timeout", "5s")
	c := cli.NewContext(app, fs, nil)

	if got := resolveDuration(c, "stream-timeout", time.Minute); got != 5*time.Second {
		t.Errorf("expected CLI 5s to win, got %v", got)
	}
}

func TestResolveDuration_ConfigFallback(t *testing.T) {
	app := cli.NewApp()
	app.Flags = []cli.Flag{&cli.DurationFlag{Name: "stream-timeout", Value: 30 * time.Second}}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Duration("stream-timeout", 30*time.Second, "")
	c := cli.NewContext(app, fs, nil)

	if got := resolveDuration(c, "stream-timeout", time.Minute); got != time.Minute {
		t.Errorf("expected config fallback 1m, got %v", got)
	}
}
