package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestLoad_Defaults tests that a missing path yields the built-in defaults
func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Node.ID != "qcored-node" {
		t.Errorf("node id = %q, want qcored-node", cfg.Node.ID)
	}
	if cfg.Storage.KVBackend != "pebble" {
		t.Errorf("kv backend = %q, want pebble", cfg.Storage.KVBackend)
	}
	if cfg.Ledger.Retention != 30*24*time.Hour {
		t.Errorf("retention = %v, want 720h", cfg.Ledger.Retention)
	}
	if cfg.Payment.IntentTTL != time.Hour {
		t.Errorf("intent ttl = %v, want 1h", cfg.Payment.IntentTTL)
	}
	if cfg.Consensus.Participants != 5 {
		t.Errorf("participants = %d, want 5", cfg.Consensus.Participants)
	}
}

// TestLoad_File tests TOML file values overriding defaults
func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "qcored.toml")
	content := `
[node]
id = "validator-7"
data_dir = "/var/lib/qcored"
sandbox = true

[storage]
kv_backend = "leveldb"
kv_path = "kv"

[consensus]
node_pool = ["n1", "n2", "n3", "n4", "n5"]
vote_timeout = "750ms"

[payment]
intent_ttl = "30m"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Node.ID != "validator-7" || !cfg.Node.Sandbox {
		t.Errorf("node = %+v, want validator-7 in sandbox", cfg.Node)
	}
	if cfg.Storage.KVBackend != "leveldb" {
		t.Errorf("kv backend = %q, want leveldb", cfg.Storage.KVBackend)
	}
	if got := cfg.KVPath(); got != filepath.Join("/var/lib/qcored", "kv") {
		t.Errorf("kv path = %q, want anchored under data dir", got)
	}
	if len(cfg.Consensus.NodePool) != 5 || cfg.Consensus.VoteTimeout != 750*time.Millisecond {
		t.Errorf("consensus = %+v", cfg.Consensus)
	}
	if cfg.Payment.IntentTTL != 30*time.Minute {
		t.Errorf("intent ttl = %v, want 30m", cfg.Payment.IntentTTL)
	}
	// Untouched sections keep their defaults.
	if cfg.Gossip.MaxBackoff != 3 {
		t.Errorf("gossip max backoff = %d, want default 3", cfg.Gossip.MaxBackoff)
	}
}

// TestLoad_Environment tests QCORED_ environment overrides
func TestLoad_Environment(t *testing.T) {
	t.Setenv("QCORED_NODE_ID", "env-node")
	t.Setenv("QCORED_STORAGE_KV_BACKEND", "memory")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Node.ID != "env-node" {
		t.Errorf("node id = %q, want env-node", cfg.Node.ID)
	}
	if cfg.Storage.KVBackend != "memory" {
		t.Errorf("kv backend = %q, want memory", cfg.Storage.KVBackend)
	}
}

// TestValidate tests rejection of inconsistent configurations
func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown kv backend", func(c *Config) { c.Storage.KVBackend = "etcd" }},
		{"driver without dsn", func(c *Config) { c.Storage.RelationalDriver = "postgres" }},
		{"zero retention", func(c *Config) { c.Ledger.Retention = 0 }},
		{"zero sweep interval", func(c *Config) { c.Ledger.SweepInterval = 0 }},
		{"step tolerance out of range", func(c *Config) { c.Replay.StepTolerance = 1.5 }},
		{"empty currencies", func(c *Config) { c.Payment.Currencies = nil }},
		{"error budget out of range", func(c *Config) { c.Observability.ErrorBudget = 1.0 }},
		{"zero sample retention", func(c *Config) { c.Observability.SampleRetention = 0 }},
		{"zero probe timeout", func(c *Config) { c.Observability.ProbeTimeout = 0 }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(cfg)
		if err := Validate(cfg); err == nil {
			t.Errorf("%s: validation passed, want error", tc.name)
		}
	}

	if err := Validate(Default()); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

// TestLoad_MissingFile tests the explicit-path error
func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("load of a missing explicit path should fail")
	}
}
