// Package devices implements the devices command.
package devices

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/streamsplit/internal/conf"
	"github.com/tphakala/streamsplit/internal/hal"
)

// Command creates the devices command, which lists capture devices.
func Command(settings *conf.Settings) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List audio capture devices",
		Long:  "List the capture devices reported by the audio backend. Device ids are the values accepted by monitor --device.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			provider, err := hal.NewProvider(settings.Hardware)
			if err != nil {
				return err
			}
			devices, err := provider.Devices().CaptureDevices()
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), devices)
			}
			return writeTable(cmd.OutOrStdout(), devices)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print devices as JSON")
	return cmd
}

func writeJSON(w io.Writer, devices []hal.DeviceInfo) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(devices)
}

func writeTable(w io.Writer, devices []hal.DeviceInfo) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDEFAULT\tBACKEND ID")
	for _, d := range devices {
		def := ""
		if d.IsDefault {
			def = "*"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", d.DeviceID, d.Name, def, d.ID)
	}
	return tw.Flush()
}
