package main

import (
	"github.com/spf13/cobra"

	"github.com/netwarden/netwarden/pkg/warden"
)

var applyToken string

var applyCmd = &cobra.Command{
	Use:   "apply <plan-id>",
	Short: "Execute a plan with its approval token",
	Long: `Execute a pending or approved plan.

Each target device is snapshotted before the change, mutated, health
checked, and rolled back from the snapshot if the health check fails
(unless the plan was created with --no-rollback). Devices are processed
in batches of the plan's batch size.

Example:
  netwarden apply 5f0c... --token 9a41...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newWarden()
		if err != nil {
			return err
		}
		result, err := svc.ApplyTool(cmd.Context(), warden.ApplyRequest{
			UserSub:       userSub,
			PlanID:        args[0],
			ApprovalToken: applyToken,
		})
		if err != nil {
			return err
		}
		return printResult(result)
	},
}

func init() {
	applyCmd.Flags().StringVar(&applyToken, "token", "", "approval token from the plan")
	applyCmd.MarkFlagRequired("token")
}
