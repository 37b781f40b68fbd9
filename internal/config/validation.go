package config

import "fmt"

var kvBackends = map[string]bool{"pebble": true, "leveldb": true, "memory": true}

var relationalDrivers = map[string]bool{"": true, "sqlite": true, "postgres": true}

// Validate rejects configurations a component would choke on later. It
// checks cross-field consistency, not just ranges.
func Validate(cfg *Config) error {
	if cfg.Node.ID == "" {
		return fmt.Errorf("node.id must be set")
	}
	if !kvBackends[cfg.Storage.KVBackend] {
		return fmt.Errorf("storage.kv_backend %q: want pebble, leveldb or memory", cfg.Storage.KVBackend)
	}
	if cfg.Storage.KVBackend != "memory" && cfg.KVPath() == "" {
		return fmt.Errorf("storage.kv_path must be set for backend %q", cfg.Storage.KVBackend)
	}
	if !relationalDrivers[cfg.Storage.RelationalDriver] {
		return fmt.Errorf("storage.relational_driver %q: want sqlite or postgres", cfg.Storage.RelationalDriver)
	}
	if cfg.Storage.RelationalDriver != "" && cfg.Storage.RelationalDSN == "" {
		return fmt.Errorf("storage.relational_dsn must be set when a driver is configured")
	}

	if cfg.Ledger.Retention <= 0 {
		return fmt.Errorf("ledger.retention must be positive")
	}
	if cfg.Ledger.SweepInterval <= 0 {
		return fmt.Errorf("ledger.sweep_interval must be positive")
	}
	if cfg.Ledger.CacheSize <= 0 {
		return fmt.Errorf("ledger.cache_size must be positive")
	}

	if cfg.Replay.StepTolerance < 0 || cfg.Replay.StepTolerance >= 1 {
		return fmt.Errorf("replay.step_tolerance %v: want [0, 1)", cfg.Replay.StepTolerance)
	}
	if cfg.Replay.TimingTolerance < 0 || cfg.Replay.TimingTolerance >= 1 {
		return fmt.Errorf("replay.timing_tolerance %v: want [0, 1)", cfg.Replay.TimingTolerance)
	}

	if cfg.Gossip.MaxBackoff < 1 {
		return fmt.Errorf("gossip.max_backoff must be at least 1")
	}
	if cfg.Stress.Parallelism < 1 {
		return fmt.Errorf("stress.parallelism must be at least 1")
	}
	if cfg.Stress.MaxErrorRate < 0 || cfg.Stress.MaxErrorRate > 1 {
		return fmt.Errorf("stress.max_error_rate %v: want [0, 1]", cfg.Stress.MaxErrorRate)
	}

	if cfg.Consensus.Participants < 1 {
		return fmt.Errorf("consensus.participants must be at least 1")
	}
	if cfg.Consensus.MaxRecovery < 0 {
		return fmt.Errorf("consensus.max_recovery must be non-negative")
	}

	if cfg.Payment.IntentTTL <= 0 {
		return fmt.Errorf("payment.intent_ttl must be positive")
	}
	if len(cfg.Payment.Currencies) == 0 {
		return fmt.Errorf("payment.currencies must not be empty")
	}

	if cfg.Observability.ErrorBudget <= 0 || cfg.Observability.ErrorBudget >= 1 {
		return fmt.Errorf("observability.error_budget %v: want (0, 1)", cfg.Observability.ErrorBudget)
	}
	if cfg.Observability.SampleRetention <= 0 {
		return fmt.Errorf("observability.sample_retention must be positive")
	}
	if cfg.Observability.EvictionInterval <= 0 {
		return fmt.Errorf("observability.eviction_interval must be positive")
	}
	if cfg.Observability.ProbeTimeout <= 0 {
		return fmt.Errorf("observability.probe_timeout must be positive")
	}
	return nil
}
