package cmd

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/cliprdr/cli/config"
)

// Precedence for every session setting: explicit CLI flag, then config
// file, then the flag's default.

func resolveString(c *cli.Context, name, cfgVal string) string {
	if c.IsSet(name) {
		return c.String(name)
	}
	if cfgVal != "" {
		return cfgVal
	}
	return c.String(name)
}

func resolveInt(c *cli.Context, name string, cfgVal int) int {
	if c.IsSet(name) || cfgVal == 0 {
		return c.Int(name)
	}
	return cfgVal
}

func resolveUint64(c *cli.Context, name string, cfgVal uint64) uint64 {
	if c.IsSet(name) || cfgVal == 0 {
		return c.Uint64(name)
	}
	return cfgVal
}

// resolveBool lets a config true stand when the flag is not set. A config
// false cannot be told apart from "unset"; use resolveOptionalBool for
// settings whose default is true.
func resolveBool(c *cli.Context, name string, cfgVal bool) bool {
	if c.IsSet(name) {
		return c.Bool(name)
	}
	return cfgVal || c.Bool(name)
}

func resolveOptionalBool(c *cli.Context, name string, cfgVal *bool) bool {
	if c.IsSet(name) || cfgVal == nil {
		return c.Bool(name)
	}
	return *cfgVal
}

func resolveDuration(c *cli.Context, name string, cfgVal time.Duration) time.Duration {
	if c.IsSet(name) || cfgVal == 0 {
		return c.Duration(name)
	}
	return cfgVal
}

func resolveStringSlice(c *cli.Context, name string, cfgVal []string) []string {
	if c.IsSet(name) || len(cfgVal) == 0 {
		return c.StringSlice(name)
	}
	return cfgVal
}

// configVal reads a field from cfg, or returns the zero value when no
// config file was given.
func configVal[T any](cfg *config.Config, get func(*config.Config) T) T {
	if cfg == nil {
		var zero T
		return zero
	}
	return get(cfg)
}
