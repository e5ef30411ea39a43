package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/netwarden/netwarden/pkg/model"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administer devices, users, roles and permissions",
}

var (
	adminEnv    string
	adminAddr   string
	adminCaps   []string
	adminTags   []string
	adminRole   string
	adminScopes []string
)

var adminDeviceAddCmd = &cobra.Command{
	Use:   "device-add <device-id>",
	Short: "Register a device",
	Long: `Register a device.

Write families are disabled by default; enable them per device with
--allow. Flags: firewall, routing, wireless, dhcp, bridge, advanced,
professional.

Example:
  netwarden admin device-add dev-lab-01 --env lab --address 10.0.0.5 \
      --allow firewall,routing --allow professional`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d := &model.Device{
			ID:                args[0],
			Name:              args[0],
			ManagementAddress: adminAddr,
			Environment:       model.Environment(strings.ToLower(adminEnv)),
			Status:            model.DeviceUnknown,
			Tags:              adminTags,
		}
		for _, cap := range adminCaps {
			switch cap {
			case "firewall":
				d.Capabilities.AllowFirewallWrites = true
			case "routing":
				d.Capabilities.AllowRoutingWrites = true
			case "wireless":
				d.Capabilities.AllowWirelessWrites = true
			case "dhcp":
				d.Capabilities.AllowDHCPWrites = true
			case "bridge":
				d.Capabilities.AllowBridgeWrites = true
			case "advanced":
				d.Capabilities.AllowAdvancedWrites = true
			case "professional":
				d.Capabilities.AllowProfessionalWorkflows = true
			default:
				return fmt.Errorf("unknown capability %q", cap)
			}
		}
		if err := db.PutDevice(cmd.Context(), d); err != nil {
			return err
		}
		fmt.Printf("Device %s registered (%s)\n", d.ID, d.Environment)
		return nil
	},
}

var adminUserAddCmd = &cobra.Command{
	Use:   "user-add <sub>",
	Short: "Register a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		u := &model.User{
			Sub:          args[0],
			RoleName:     adminRole,
			DeviceScopes: adminScopes,
			IsActive:     true,
		}
		if err := db.PutUser(cmd.Context(), u); err != nil {
			return err
		}
		fmt.Printf("User %s registered with role %s\n", u.Sub, u.RoleName)
		return nil
	},
}

var adminRoleAddCmd = &cobra.Command{
	Use:   "role-add <name> <resource-type>:<resource-id>:<action>...",
	Short: "Create a role with permissions",
	Long: `Create a role with permissions.

Each permission is resource-type:resource-id:action; resource-id "*"
matches every resource of the type.

Example:
  netwarden admin role-add operator 'device:*:firewall.write' 'device:*:plan.apply'`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		role := &model.Role{ID: uuid.NewString(), Name: args[0]}
		if err := db.PutRole(cmd.Context(), role); err != nil {
			return err
		}
		for _, spec := range args[1:] {
			parts := strings.SplitN(spec, ":", 3)
			if len(parts) != 3 {
				return fmt.Errorf("invalid permission %q (want type:id:action)", spec)
			}
			p := model.Permission{
				ID:           uuid.NewString(),
				ResourceType: parts[0],
				ResourceID:   parts[1],
				Action:       parts[2],
			}
			if err := db.GrantPermission(cmd.Context(), role.ID, p); err != nil {
				return err
			}
		}
		fmt.Printf("Role %s created with %d permission(s)\n", role.Name, len(args)-1)
		return nil
	},
}

func init() {
	adminDeviceAddCmd.Flags().StringVar(&adminEnv, "env", "lab", "environment (lab, staging, prod)")
	adminDeviceAddCmd.Flags().StringVar(&adminAddr, "address", "", "management address")
	adminDeviceAddCmd.MarkFlagRequired("address")
	adminDeviceAddCmd.Flags().StringSliceVar(&adminCaps, "allow", nil, "write families to enable")
	adminDeviceAddCmd.Flags().StringSliceVar(&adminTags, "tag", nil, "device tags")

	adminUserAddCmd.Flags().StringVar(&adminRole, "role", "", "role name")
	adminUserAddCmd.MarkFlagRequired("role")
	adminUserAddCmd.Flags().StringSliceVar(&adminScopes, "scope", nil, "device scope (empty = all devices)")

	adminCmd.AddCommand(adminDeviceAddCmd)
	adminCmd.AddCommand(adminUserAddCmd)
	adminCmd.AddCommand(adminRoleAddCmd)
}
