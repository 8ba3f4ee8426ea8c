package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/cliprdr/types"
)

// Config represents a cliprdr.yaml configuration file.
// All values are optional and act as defaults for the session command flags.
// CLI flags always override config values.
type Config struct {
	Role         string         `yaml:"role"`
	Address      string         `yaml:"address"`
	Capabilities []string       `yaml:"capabilities"`
	LogLevel     string         `yaml:"log_level"`
	Backend      BackendConfig  `yaml:"backend"`
	Storage      StorageConfig  `yaml:"storage"`
	Share        StorageConfig  `yaml:"share"`
	Transfer     TransferConfig `yaml:"transfer"`
	Adapter      AdapterConfig  `yaml:"adapter"`
}

// BackendConfig selects the local clipboard.
type BackendConfig struct {
	Type string   `yaml:"type"`
	Path string   `yaml:"path"`
	Poll Duration `yaml:"poll"`
}

// StorageConfig holds storage defaults from the config file.
// Used for both the download store and the share store.
type StorageConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// TransferConfig holds file download defaults from the config file.
type TransferConfig struct {
	ChunkSize     uint64   `yaml:"chunk_size"`
	MaxInflight   int      `yaml:"max_inflight"`
	StreamTimeout Duration `yaml:"stream_timeout"`
	AutoDownload  *bool    `yaml:"auto_download,omitempty"`
	Prefix        string   `yaml:"prefix"`
}

// AdapterConfig holds adapter defaults from the config file.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// CapabilitySet parses the configured capability names. An empty list
// means every capability this build supports.
func (c *Config) CapabilitySet() (types.CapabilitySet, error) {
	if len(c.Capabilities) == 0 {
		return types.LocalCapabilities(), nil
	}
	return types.ParseCapabilitySet(c.Capabilities)
}

// Validate checks values that can be rejected without touching the network
// or the filesystem.
func (c *Config) Validate() error {
	var errs []error
	if c.Role != "" && !types.SessionRole(c.Role).Valid() {
		errs = append(errs, fmt.Errorf("role: unknown role %q (expected listen or connect)", c.Role))
	}
	if _, err := c.CapabilitySet(); err != nil {
		errs = append(errs, fmt.Errorf("capabilities: %w", err))
	}
	switch c.Backend.Type {
	case "", "memory":
	case "dir":
		if c.Backend.Path == "" {
			errs = append(errs, errors.New("backend: dir backend requires a path"))
		}
	default:
		errs = append(errs, fmt.Errorf("backend: unknown type %q (expected memory or dir)", c.Backend.Type))
	}
	if c.Transfer.MaxInflight < 0 {
		errs = append(errs, fmt.Errorf("transfer: max_inflight must be >= 0, got %d", c.Transfer.MaxInflight))
	}
	switch c.Adapter.Type {
	case "", "webhook", "redis":
	default:
		errs = append(errs, fmt.Errorf("adapter: unknown type %q (expected webhook or redis)", c.Adapter.Type))
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		errs = append(errs, fmt.Errorf("adapter: %s adapter requires a url", c.Adapter.Type))
	}
	return errors.Join(errs...)
}
