package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/netwarden/netwarden/pkg/store"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the audit trail",
	Long: `Query the append-only audit trail.

Every decision is recorded: plans created, denied and approved, apply
starts, per-device outcomes, rollbacks, and terminal plan states.

Examples:
  netwarden audit list --plan 5f0c...
  netwarden audit list --device dev-lab-01 --last 24h
  netwarden audit list --action plan.denied`,
}

var (
	auditDevice string
	auditUser   string
	auditAction string
	auditPlan   string
	auditLast   string
	auditLimit  int
	auditJSON   bool
)

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit events",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := store.AuditFilter{
			DeviceID: auditDevice,
			UserSub:  auditUser,
			Action:   auditAction,
			PlanID:   auditPlan,
			Limit:    auditLimit,
		}
		if auditLast != "" {
			d, err := time.ParseDuration(auditLast)
			if err != nil {
				return fmt.Errorf("invalid duration: %s", auditLast)
			}
			filter.StartTime = time.Now().Add(-d)
		}

		events, err := db.QueryAudit(cmd.Context(), filter)
		if err != nil {
			return err
		}
		if auditJSON {
			return json.NewEncoder(os.Stdout).Encode(events)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tUSER\tACTION\tDEVICE\tPLAN\tRESULT")
		for _, e := range events {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				e.Timestamp.Format("2006-01-02 15:04:05"),
				e.UserSub, e.Action, dash(e.DeviceID), dash(e.PlanID), e.Result)
		}
		return w.Flush()
	},
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	auditListCmd.Flags().StringVar(&auditDevice, "device", "", "filter by device id")
	auditListCmd.Flags().StringVar(&auditUser, "user-sub", "", "filter by acting user")
	auditListCmd.Flags().StringVar(&auditAction, "action", "", "filter by action")
	auditListCmd.Flags().StringVar(&auditPlan, "plan", "", "filter by plan id")
	auditListCmd.Flags().StringVar(&auditLast, "last", "", "time window, e.g. 24h")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "maximum events")
	auditListCmd.Flags().BoolVar(&auditJSON, "json", false, "JSON output")
	auditCmd.AddCommand(auditListCmd)
}
