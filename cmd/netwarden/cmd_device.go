package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/netwarden/netwarden/pkg/model"
	"github.com/netwarden/netwarden/pkg/store"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Inspect the managed device inventory",
}

var (
	deviceEnv    string
	deviceStatus string
	deviceTag    string
	deviceJSON   bool
)

var deviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := db.ListDevices(cmd.Context(), store.DeviceFilter{
			Environment: model.Environment(deviceEnv),
			Status:      model.DeviceStatus(deviceStatus),
			Tag:         deviceTag,
		})
		if err != nil {
			return err
		}
		if deviceJSON {
			return json.NewEncoder(os.Stdout).Encode(devices)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tADDRESS\tENV\tSTATUS\tWRITES")
		for _, d := range devices {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				d.ID, d.Name, d.ManagementAddress, d.Environment, d.Status, writeFamilies(d))
		}
		return w.Flush()
	},
}

var deviceShowCmd = &cobra.Command{
	Use:   "show <device-id>",
	Short: "Show one device record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := db.GetDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	},
}

// writeFamilies renders the enabled write families compactly.
func writeFamilies(d *model.Device) string {
	out := ""
	add := func(enabled bool, tag string) {
		if enabled {
			if out != "" {
				out += ","
			}
			out += tag
		}
	}
	add(d.Capabilities.AllowFirewallWrites, "fw")
	add(d.Capabilities.AllowRoutingWrites, "route")
	add(d.Capabilities.AllowWirelessWrites, "wifi")
	add(d.Capabilities.AllowDHCPWrites, "dhcp")
	add(d.Capabilities.AllowBridgeWrites, "bridge")
	if out == "" {
		return "-"
	}
	return out
}

func init() {
	deviceListCmd.Flags().StringVar(&deviceEnv, "env", "", "filter by environment (lab, staging, prod)")
	deviceListCmd.Flags().StringVar(&deviceStatus, "status", "", "filter by status")
	deviceListCmd.Flags().StringVar(&deviceTag, "tag", "", "filter by tag")
	deviceListCmd.Flags().BoolVar(&deviceJSON, "json", false, "JSON output")
	deviceCmd.AddCommand(deviceListCmd)
	deviceCmd.AddCommand(deviceShowCmd)
}
