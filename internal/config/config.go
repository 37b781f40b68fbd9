// Package config defines the qcored configuration and its loader.
// Configuration merges, in priority order: built-in defaults, the TOML
// configuration file, and QCORED_-prefixed environment variables.
package config

import (
	"path/filepath"
	"time"
)

// Config is the complete qcored configuration.
type Config struct {
	Node          NodeConfig          `toml:"node" mapstructure:"node"`
	Storage       StorageConfig       `toml:"storage" mapstructure:"storage"`
	Ledger        LedgerConfig        `toml:"ledger" mapstructure:"ledger"`
	Pipeline      PipelineConfig      `toml:"pipeline" mapstructure:"pipeline"`
	Replay        ReplayConfig        `toml:"replay" mapstructure:"replay"`
	Gossip        GossipConfig        `toml:"gossip" mapstructure:"gossip"`
	Stress        StressConfig        `toml:"stress" mapstructure:"stress"`
	Consensus     ConsensusConfig     `toml:"consensus" mapstructure:"consensus"`
	Payment       PaymentConfig       `toml:"payment" mapstructure:"payment"`
	Integrity     IntegrityConfig     `toml:"integrity" mapstructure:"integrity"`
	Observability ObservabilityConfig `toml:"observability" mapstructure:"observability"`

	configPath string `toml:"-" mapstructure:"-"`
}

// NodeConfig identifies this node.
type NodeConfig struct {
	ID      string `toml:"id" mapstructure:"id"`
	DataDir string `toml:"data_dir" mapstructure:"data_dir"`
	// Sandbox switches identity verification to the fixed test-signature
	// format. Never enable outside local development.
	Sandbox bool `toml:"sandbox" mapstructure:"sandbox"`
}

// StorageConfig selects the persistence backends.
type StorageConfig struct {
	KVBackend    string `toml:"kv_backend" mapstructure:"kv_backend"` // pebble, leveldb or memory
	KVPath       string `toml:"kv_path" mapstructure:"kv_path"`
	ArtifactsDir string `toml:"artifacts_dir" mapstructure:"artifacts_dir"`
	// Relational archive for settlements and distributions. Empty driver
	// disables archiving.
	RelationalDriver string `toml:"relational_driver" mapstructure:"relational_driver"` // sqlite or postgres
	RelationalDSN    string `toml:"relational_dsn" mapstructure:"relational_dsn"`
}

// LedgerConfig tunes the execution ledger.
type LedgerConfig struct {
	Retention      time.Duration `toml:"retention" mapstructure:"retention"`
	SweepInterval  time.Duration `toml:"sweep_interval" mapstructure:"sweep_interval"`
	CacheSize      int           `toml:"cache_size" mapstructure:"cache_size"`
	PublishRetries int           `toml:"publish_retries" mapstructure:"publish_retries"`
	PublishBackoff time.Duration `toml:"publish_backoff" mapstructure:"publish_backoff"`
	PublishTimeout time.Duration `toml:"publish_timeout" mapstructure:"publish_timeout"`
	SyncPublish    bool          `toml:"sync_publish" mapstructure:"sync_publish"`
}

// PipelineConfig tunes the data-flow executor.
type PipelineConfig struct {
	DefaultLevel string `toml:"default_level" mapstructure:"default_level"`
}

// ReplayConfig holds the determinism tolerances.
type ReplayConfig struct {
	StepTolerance   float64 `toml:"step_tolerance" mapstructure:"step_tolerance"`
	TimingTolerance float64 `toml:"timing_tolerance" mapstructure:"timing_tolerance"`
}

// GossipConfig tunes the fair distributor.
type GossipConfig struct {
	MaxBackoff      int     `toml:"max_backoff" mapstructure:"max_backoff"`
	MaxLostFraction float64 `toml:"max_lost_fraction" mapstructure:"max_lost_fraction"`
	Seed            int64   `toml:"seed" mapstructure:"seed"`
}

// StressConfig tunes the stress harness.
type StressConfig struct {
	Events       int     `toml:"events" mapstructure:"events"`
	Parallelism  int64   `toml:"parallelism" mapstructure:"parallelism"`
	MaxErrorRate float64 `toml:"max_error_rate" mapstructure:"max_error_rate"`
	FailureRate  float64 `toml:"failure_rate" mapstructure:"failure_rate"`
}

// ConsensusConfig tunes the consensus coordinator.
type ConsensusConfig struct {
	Participants    int           `toml:"participants" mapstructure:"participants"`
	VoteTimeout     time.Duration `toml:"vote_timeout" mapstructure:"vote_timeout"`
	MaxRecovery     int           `toml:"max_recovery" mapstructure:"max_recovery"`
	RecoveryBackoff time.Duration `toml:"recovery_backoff" mapstructure:"recovery_backoff"`
	NodePool        []string      `toml:"node_pool" mapstructure:"node_pool"`
}

// PaymentConfig tunes the payment engine.
type PaymentConfig struct {
	IntentTTL     time.Duration `toml:"intent_ttl" mapstructure:"intent_ttl"`
	SweepInterval time.Duration `toml:"sweep_interval" mapstructure:"sweep_interval"`
	Currencies    []string      `toml:"currencies" mapstructure:"currencies"`
}

// IntegrityConfig tunes the integrity validator and describes the
// deployment for attestation.
type IntegrityConfig struct {
	ProbeTimeout   time.Duration `toml:"probe_timeout" mapstructure:"probe_timeout"`
	PublishTimeout time.Duration `toml:"publish_timeout" mapstructure:"publish_timeout"`
	IPFSGateway    string        `toml:"ipfs_gateway" mapstructure:"ipfs_gateway"`
	LibP2PPeers    int           `toml:"libp2p_peers" mapstructure:"libp2p_peers"`
}

// ObservabilityConfig tunes metric retention, polling and SLO targets.
type ObservabilityConfig struct {
	SampleCapacity   int           `toml:"sample_capacity" mapstructure:"sample_capacity"`
	SampleRetention  time.Duration `toml:"sample_retention" mapstructure:"sample_retention"`
	EvictionInterval time.Duration `toml:"eviction_interval" mapstructure:"eviction_interval"`
	PollInterval     time.Duration `toml:"poll_interval" mapstructure:"poll_interval"`
	ProbeTimeout     time.Duration `toml:"probe_timeout" mapstructure:"probe_timeout"`
	SLOInterval      time.Duration `toml:"slo_interval" mapstructure:"slo_interval"`
	SLOP50           time.Duration `toml:"slo_p50" mapstructure:"slo_p50"`
	SLOP95           time.Duration `toml:"slo_p95" mapstructure:"slo_p95"`
	SLOP99           time.Duration `toml:"slo_p99" mapstructure:"slo_p99"`
	ErrorBudget      float64       `toml:"error_budget" mapstructure:"error_budget"`
	MinRate          float64       `toml:"min_rate" mapstructure:"min_rate"`
}

// Path returns the file this configuration was loaded from, if any.
func (c *Config) Path() string {
	return c.configPath
}

// KVPath returns the key-value store path, anchored under the data
// directory when relative.
func (c *Config) KVPath() string {
	return c.anchor(c.Storage.KVPath)
}

// ArtifactsDir returns the artifacts directory, anchored under the data
// directory when relative.
func (c *Config) ArtifactsDir() string {
	return c.anchor(c.Storage.ArtifactsDir)
}

func (c *Config) anchor(path string) string {
	if path == "" || filepath.IsAbs(path) || c.Node.DataDir == "" {
		return path
	}
	return filepath.Join(c.Node.DataDir, path)
}
