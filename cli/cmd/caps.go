package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/cliprdr/cli/render"
	"github.com/pithecene-io/cliprdr/types"
)

// CapabilityRow is one row of the caps command output.
type CapabilityRow struct {
	Name    string `json:"name"`
	Flag    string `json:"flag"`
	Enabled bool   `json:"enabled"`
}

// CapsCommand returns the caps command. It lists the general capability
// flags and which of them a session would advertise.
func CapsCommand() *cli.Command {
	flags := append(ReadOnlyFlags(),
		&cli.StringSliceFlag{
			Name:  "capability",
			Usage: "Capability to advertise (repeatable; default all)",
		},
	)
	return &cli.Command{
		Name:   "caps",
		Usage:  "List general capability flags",
		Flags:  flags,
		Action: capsAction,
	}
}

func capsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	enabled := types.LocalCapabilities()
	if names := c.StringSlice("capability"); len(names) > 0 {
		enabled, err = types.ParseCapabilitySet(names)
		if err != nil {
			return cli.Exit(fmt.Sprintf("invalid --capability: %v", err), exitConfigError)
		}
	}

	return r.Render(capabilityRows(enabled))
}

func capabilityRows(enabled types.CapabilitySet) []CapabilityRow {
	all := types.LocalCapabilities().List()
	rows := make([]CapabilityRow, 0, len(all))
	for _, capability := range all {
		rows = append(rows, CapabilityRow{
			Name:    capability.String(),
			Flag:    fmt.Sprintf("0x%08x", uint32(capability)),
			Enabled: enabled.Has(capability),
		})
	}
	return rows
}
