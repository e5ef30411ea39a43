// Netwarden - plan/apply change control for network devices
//
// A CLI for proposing and executing configuration changes with:
//   - Two-phase workflow: plan (validate, assess risk, preview, mint an
//     approval token) then apply (snapshot, mutate, health-check,
//     rollback on failure)
//   - Per-device capability flags and environment gates
//   - Role-based access control with per-user device scopes
//   - Append-only audit of every decision
//
// Examples:
//
//	netwarden device list --env lab
//	netwarden plan firewall add -d dev-lab-01 --chain forward --action accept \
//	    --src-address 192.168.1.0/24 --dst-port 443
//	netwarden apply <plan-id> --token <approval-token>
//	netwarden audit list --plan <plan-id>
//	netwarden credential set dev-lab-01 --kind rest --username admin
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/netwarden/netwarden/pkg/apply"
	"github.com/netwarden/netwarden/pkg/audit"
	"github.com/netwarden/netwarden/pkg/auth"
	"github.com/netwarden/netwarden/pkg/config"
	"github.com/netwarden/netwarden/pkg/credential"
	"github.com/netwarden/netwarden/pkg/device"
	"github.com/netwarden/netwarden/pkg/plan"
	"github.com/netwarden/netwarden/pkg/store"
	"github.com/netwarden/netwarden/pkg/transport"
	"github.com/netwarden/netwarden/pkg/util"
	"github.com/netwarden/netwarden/pkg/warden"
)

// keyEnv holds the hex-encoded 32-byte credential sealing key.
const keyEnv = "NETWARDEN_KEY"

var (
	configPath string
	userSub    string
	verbose    bool

	cfg *config.Config
	db  *store.SQLiteStore
)

var rootCmd = &cobra.Command{
	Use:   "netwarden",
	Short: "Plan/apply change control for network devices",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadFrom(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.LogLevel = "debug"
		}
		if err := util.SetLogLevel(cfg.LogLevel); err != nil {
			return err
		}
		if cfg.LogJSON {
			util.SetJSONFormat()
		}
		if userSub == "" {
			userSub = os.Getenv("NETWARDEN_USER")
		}
		if userSub == "" {
			userSub = os.Getenv("USER")
		}

		db, err = store.Open(cfg.StorePath)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if db != nil {
			db.Close()
		}
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// sealingCipher builds the secretbox cipher from the environment key.
func sealingCipher() (credential.Cipher, error) {
	raw := os.Getenv(keyEnv)
	if raw == "" {
		return nil, fmt.Errorf("%s is not set (expected 64 hex chars)", keyEnv)
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", keyEnv, err)
	}
	return credential.NewSecretboxCipher(key)
}

// newAuditSink combines the store sink with the optional file sink.
func newAuditSink() audit.Sink {
	storeSink := audit.NewStoreSink(db)
	if cfg.AuditLogPath == "" {
		return storeSink
	}
	fileSink, err := audit.NewFileSink(cfg.AuditLogPath)
	if err != nil {
		util.Warnf("audit file sink disabled: %v", err)
		return storeSink
	}
	return audit.Multi{storeSink, fileSink}
}

// newWarden wires the full service. Commands that mutate devices need
// the sealing key; read-only commands use newPlanService and the store
// directly.
func newWarden() (*warden.Service, error) {
	cipher, err := sealingCipher()
	if err != nil {
		return nil, err
	}

	sink := newAuditSink()
	registry := device.NewRegistry(db)
	gate := auth.NewGate(db)
	plans := newPlanService(sink)

	creds := credential.NewSource(db, cipher)
	factory := transport.NewFactory(creds, time.Duration(cfg.Apply.TransportTimeoutSeconds)*time.Second)

	var lock *apply.DeviceLock
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		lock = apply.NewDeviceLock(client, time.Duration(cfg.Apply.DeviceTimeoutSeconds)*time.Second)
	}

	executor := apply.NewExecutor(db, plans, registry, factory, sink, lock, apply.Options{
		DeviceTimeout:    time.Duration(cfg.Apply.DeviceTimeoutSeconds) * time.Second,
		DefaultBatchSize: cfg.Apply.DefaultBatchSize,
		DefaultPause:     time.Duration(cfg.Apply.DefaultPauseSeconds) * time.Second,
	})

	return warden.New(cfg, registry, gate, plans, executor, sink), nil
}

func newPlanService(sink audit.Sink) *plan.Service {
	return plan.NewService(db, sink, time.Duration(cfg.ApprovalTTLSeconds)*time.Second)
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "config file path")
	rootCmd.PersistentFlags().StringVarP(&userSub, "user", "u", "", "acting user (defaults to $NETWARDEN_USER)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(deviceCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(credentialCmd)
	rootCmd.AddCommand(adminCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
