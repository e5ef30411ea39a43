package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/netwarden/netwarden/pkg/model"
	"github.com/netwarden/netwarden/pkg/warden"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Propose a configuration change and mint an approval token",
	Long: `Propose a configuration change.

A plan validates the change, classifies its risk, renders per-device
previews and returns an approval token. Nothing touches a device until
the plan is applied with that token.

Examples:
  netwarden plan firewall add -d dev-lab-01 --chain forward --action accept \
      --src-address 192.168.1.0/24 --dst-port 443
  netwarden plan routing add -d dev-lab-01 --dst-address 10.9.0.0/16 --gateway 192.168.1.1
  netwarden plan firewall remove -d dev-lab-01 --target-id '*A'`,
}

var (
	planDevices  []string
	planBatch    int
	planPause    int
	planNoRB     bool
	planShowJSON bool
)

// familyFlags lists the tool parameters exposed as flags per family.
var familyFlags = map[string][]string{
	"firewall": {"chain", "action", "src-address", "dst-address", "protocol", "dst-port", "comment", "disabled"},
	"routing":  {"dst-address", "gateway", "distance", "comment"},
	"wireless": {"name", "ssid", "band", "disabled", "comment"},
	"dhcp":     {"name", "interface", "address-pool", "ranges", "lease-time", "comment"},
	"bridge":   {"bridge", "vlan-ids", "tagged", "untagged", "comment"},
}

func newFamilyCmd(family string) *cobra.Command {
	famCmd := &cobra.Command{
		Use:   family,
		Short: fmt.Sprintf("Plan %s changes", family),
	}
	for _, op := range []string{"add", "modify", "remove"} {
		famCmd.AddCommand(newPlanOpCmd(family, op))
	}
	return famCmd
}

func newPlanOpCmd(family, op string) *cobra.Command {
	fields := map[string]*string{}
	cmd := &cobra.Command{
		Use:   op,
		Short: fmt.Sprintf("Plan a %s %s", family, op),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newWarden()
			if err != nil {
				return err
			}

			params := map[string]string{}
			for flag, value := range fields {
				if *value != "" {
					params[flagToParam(flag)] = *value
				}
			}

			result, err := svc.PlanTool(cmd.Context(), warden.PlanRequest{
				UserSub:           userSub,
				ToolName:          family + "." + op,
				DeviceIDs:         planDevices,
				Params:            params,
				BatchSize:         planBatch,
				PauseSeconds:      planPause,
				RollbackOnFailure: !planNoRB,
			})
			if err != nil {
				return err
			}
			return printResult(result)
		},
	}

	cmd.Flags().StringSliceVarP(&planDevices, "device", "d", nil, "target device id (repeatable)")
	cmd.MarkFlagRequired("device")
	cmd.Flags().IntVar(&planBatch, "batch-size", 0, "devices per batch (0 = default)")
	cmd.Flags().IntVar(&planPause, "pause", 0, "seconds between batches (0 = default)")
	cmd.Flags().BoolVar(&planNoRB, "no-rollback", false, "do not roll back on failure")
	cmd.Flags().BoolVar(&planShowJSON, "json", false, "JSON output")

	for _, flag := range familyFlags[family] {
		v := new(string)
		fields[flag] = v
		cmd.Flags().StringVar(v, flag, "", flag+" value")
	}
	if op != "add" {
		v := new(string)
		fields["target-id"] = v
		cmd.Flags().StringVar(v, "target-id", "", "device-assigned id of the target object")
	}
	return cmd
}

func flagToParam(flag string) string {
	out := make([]byte, len(flag))
	for i := 0; i < len(flag); i++ {
		if flag[i] == '-' {
			out[i] = '_'
		} else {
			out[i] = flag[i]
		}
	}
	return string(out)
}

func printResult(result *warden.ToolResult) error {
	if planShowJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	for _, c := range result.Content {
		fmt.Println(c.Text)
	}
	if token, ok := result.Meta["approval_token"]; ok {
		fmt.Printf("\nApproval token: %v\n", token)
	}
	return nil
}

var planShowCmd = &cobra.Command{
	Use:   "show <plan-id>",
	Short: "Show a plan record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		plans := newPlanService(newAuditSink())
		p, err := plans.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

var planApproveCmd = &cobra.Command{
	Use:   "approve <plan-id>",
	Short: "Record an approval decision on a pending plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		plans := newPlanService(newAuditSink())
		p, err := plans.UpdateStatus(cmd.Context(), args[0], model.PlanApproved, userSub)
		if err != nil {
			return err
		}
		fmt.Printf("Plan %s approved by %s\n", p.ID, p.ApprovedBy)
		return nil
	},
}

func init() {
	for _, family := range []string{"firewall", "routing", "wireless", "dhcp", "bridge"} {
		planCmd.AddCommand(newFamilyCmd(family))
	}
	planCmd.AddCommand(planShowCmd)
	planCmd.AddCommand(planApproveCmd)
}
