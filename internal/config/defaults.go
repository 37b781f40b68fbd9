package config

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaults seeds viper with the standing defaults. Every key a component
// reads has a default so a bare `qcored serve` works out of the box.
func setDefaults(v *viper.Viper) {
	v.SetDefault("node.id", "qcored-node")
	v.SetDefault("node.data_dir", "data")
	v.SetDefault("node.sandbox", false)

	v.SetDefault("storage.kv_backend", "pebble")
	v.SetDefault("storage.kv_path", "kv")
	v.SetDefault("storage.artifacts_dir", "artifacts")
	v.SetDefault("storage.relational_driver", "")
	v.SetDefault("storage.relational_dsn", "")

	v.SetDefault("ledger.retention", 30*24*time.Hour)
	v.SetDefault("ledger.sweep_interval", time.Hour)
	v.SetDefault("ledger.cache_size", 1024)
	v.SetDefault("ledger.publish_retries", 5)
	v.SetDefault("ledger.publish_backoff", 500*time.Millisecond)
	v.SetDefault("ledger.publish_timeout", 5*time.Second)
	v.SetDefault("ledger.sync_publish", false)

	v.SetDefault("pipeline.default_level", "standard")

	v.SetDefault("replay.step_tolerance", 0.01)
	v.SetDefault("replay.timing_tolerance", 0.10)

	v.SetDefault("gossip.max_backoff", 3)
	v.SetDefault("gossip.max_lost_fraction", 0.01)
	v.SetDefault("gossip.seed", 1)

	v.SetDefault("stress.events", 1000)
	v.SetDefault("stress.parallelism", 16)
	v.SetDefault("stress.max_error_rate", 0.05)
	v.SetDefault("stress.failure_rate", 0.02)

	v.SetDefault("consensus.participants", 5)
	v.SetDefault("consensus.vote_timeout", 3*time.Second)
	v.SetDefault("consensus.max_recovery", 3)
	v.SetDefault("consensus.recovery_backoff", 100*time.Millisecond)
	v.SetDefault("consensus.node_pool", []string{})

	v.SetDefault("payment.intent_ttl", time.Hour)
	v.SetDefault("payment.sweep_interval", 5*time.Minute)
	v.SetDefault("payment.currencies", []string{"QToken", "QUBIC", "PI"})

	v.SetDefault("integrity.probe_timeout", 5*time.Second)
	v.SetDefault("integrity.publish_timeout", 5*time.Second)
	v.SetDefault("integrity.ipfs_gateway", "")
	v.SetDefault("integrity.libp2p_peers", 0)

	v.SetDefault("observability.sample_capacity", 4096)
	v.SetDefault("observability.sample_retention", time.Hour)
	v.SetDefault("observability.eviction_interval", time.Minute)
	v.SetDefault("observability.poll_interval", 30*time.Second)
	v.SetDefault("observability.probe_timeout", 5*time.Second)
	v.SetDefault("observability.slo_interval", 30*time.Second)
	v.SetDefault("observability.slo_p50", 50*time.Millisecond)
	v.SetDefault("observability.slo_p95", 150*time.Millisecond)
	v.SetDefault("observability.slo_p99", 200*time.Millisecond)
	v.SetDefault("observability.error_budget", 0.001)
	v.SetDefault("observability.min_rate", 10.0)
}
