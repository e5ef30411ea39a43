package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	c := Default()
	if c.ApprovalTTLSeconds != 900 {
		t.Errorf("approval ttl = %d, want 900", c.ApprovalTTLSeconds)
	}
	if c.Apply.DeviceTimeoutSeconds != 300 || c.Apply.TransportTimeoutSeconds != 30 {
		t.Errorf("apply timeouts = %+v", c.Apply)
	}
	if c.Apply.DefaultBatchSize != 5 || c.Apply.DefaultPauseSeconds != 60 {
		t.Errorf("apply batching = %+v", c.Apply)
	}
	if !c.ProdWriteDenied() {
		t.Error("prod writes must be denied by default")
	}
	if c.LogLevel != "info" {
		t.Errorf("log level = %q", c.LogLevel)
	}
}

func TestLoadFromMissingFile(t *testing.T) {
	c, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should yield defaults: %v", err)
	}
	if c.ApprovalTTLSeconds != 900 {
		t.Errorf("approval ttl = %d", c.ApprovalTTLSeconds)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
approval_ttl_seconds: 120
apply:
  default_batch_size: 2
rbac:
  prod_write_default_denied: false
store_path: /tmp/test.db
log_level: debug
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	c, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if c.ApprovalTTLSeconds != 120 {
		t.Errorf("approval ttl = %d, want 120", c.ApprovalTTLSeconds)
	}
	if c.Apply.DefaultBatchSize != 2 {
		t.Errorf("batch size = %d, want 2", c.Apply.DefaultBatchSize)
	}
	// Unset fields still pick up defaults.
	if c.Apply.DefaultPauseSeconds != 60 {
		t.Errorf("pause = %d, want default 60", c.Apply.DefaultPauseSeconds)
	}
	if c.ProdWriteDenied() {
		t.Error("prod_write_default_denied: false was not honored")
	}
	if c.StorePath != "/tmp/test.db" || c.LogLevel != "debug" {
		t.Errorf("config = %+v", c)
	}
}

func TestLoadFromBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("approval_ttl_seconds: [nope"), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Error("malformed yaml should fail")
	}
}
