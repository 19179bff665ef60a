// Package config defines the validated configuration for a dlog namespace.
//
// NamespaceConfig is a plain struct with named fields and explicit defaults,
// validated as a unit before any connection is opened. Per-call overrides are
// expressed as an Override with optional fields and merged on top of the
// namespace configuration, never mutating it.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/dlog/errors"
	"github.com/c360/dlog/pkg/retry"
)

// NamespaceConfig is the immutable configuration owned by a namespace for its
// lifetime. Ensemble addresses and the federated flag are propagated into it
// from the resolved binding during construction.
type NamespaceConfig struct {
	// Scheduler pools
	NumWorkerThreads          int           `yaml:"num_worker_threads"`
	NumReadAheadWorkerThreads int           `yaml:"num_readahead_worker_threads"` // 0 shares the general pool
	SchedulerQueueSize        int           `yaml:"scheduler_queue_size"`
	SchedulerShutdownTimeout  time.Duration `yaml:"scheduler_shutdown_timeout"`

	// Metadata ensemble client
	MetadataSessionTimeout time.Duration `yaml:"metadata_session_timeout"`
	MetadataRetry          retry.Policy  `yaml:"metadata_retry"`

	// Ledger ensemble client
	LedgerSessionTimeout time.Duration `yaml:"ledger_session_timeout"`
	LedgerRetry          retry.Policy  `yaml:"ledger_retry"`

	// Write admission
	GlobalOutstandingWriteLimit int  `yaml:"global_outstanding_write_limit"` // negative disables
	WriteLimitDarkmode          bool `yaml:"write_limit_darkmode"`

	// Ledger allocator pool
	EnableLedgerAllocatorPool   bool   `yaml:"enable_ledger_allocator_pool"`
	LedgerAllocatorPoolPath     string `yaml:"ledger_allocator_pool_path"`
	LedgerAllocatorPoolName     string `yaml:"ledger_allocator_pool_name"`
	LedgerAllocatorPoolCoreSize int    `yaml:"ledger_allocator_pool_core_size"`

	// Stats
	EnablePerStreamStat bool `yaml:"enable_per_stream_stat"`

	// Federation
	FederatedNamespaceEnabled bool `yaml:"federated_namespace_enabled"`

	// Log segment metadata cache
	LogSegmentCacheTTL time.Duration `yaml:"log_segment_cache_ttl"`

	// Namespace listener change detection
	ListenerPollInterval time.Duration `yaml:"listener_poll_interval"`

	// Replication knobs consumed by log handles; also the source of the
	// static dynamic-config view.
	EnsembleSize        int           `yaml:"ensemble_size"`
	WriteQuorumSize     int           `yaml:"write_quorum_size"`
	AckQuorumSize       int           `yaml:"ack_quorum_size"`
	RetentionPeriod     time.Duration `yaml:"retention_period"`
	ReadAheadMaxRecords int           `yaml:"readahead_max_records"`

	// Propagated from the resolved namespace binding; not read from files.
	LedgerRootPath string `yaml:"-"`
	ACLRootPath    string `yaml:"-"`
	Federated      bool   `yaml:"-"`
}

// Default returns a NamespaceConfig with production defaults.
func Default() NamespaceConfig {
	return NamespaceConfig{
		NumWorkerThreads:            4,
		NumReadAheadWorkerThreads:   0,
		SchedulerQueueSize:          1024,
		SchedulerShutdownTimeout:    5 * time.Second,
		MetadataSessionTimeout:      30 * time.Second,
		MetadataRetry:               retry.DefaultPolicy(),
		LedgerSessionTimeout:        30 * time.Second,
		LedgerRetry:                 retry.DefaultPolicy(),
		GlobalOutstandingWriteLimit: -1,
		LedgerAllocatorPoolCoreSize: 20,
		LogSegmentCacheTTL:          10 * time.Minute,
		ListenerPollInterval:        10 * time.Second,
		EnsembleSize:                3,
		WriteQuorumSize:             3,
		AckQuorumSize:               2,
		RetentionPeriod:             72 * time.Hour,
		ReadAheadMaxRecords:         10,
	}
}

// Validate checks the configuration as a unit.
func (c *NamespaceConfig) Validate() error {
	if c == nil {
		return errors.ErrMissingConfig
	}
	if c.NumWorkerThreads <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("num_worker_threads must be positive, got %d", c.NumWorkerThreads),
			"NamespaceConfig", "Validate", "check worker threads")
	}
	if c.NumReadAheadWorkerThreads < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("num_readahead_worker_threads must not be negative, got %d", c.NumReadAheadWorkerThreads),
			"NamespaceConfig", "Validate", "check readahead threads")
	}
	if c.SchedulerShutdownTimeout <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("scheduler_shutdown_timeout must be positive, got %v", c.SchedulerShutdownTimeout),
			"NamespaceConfig", "Validate", "check shutdown timeout")
	}
	if c.MetadataSessionTimeout <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("metadata_session_timeout must be positive, got %v", c.MetadataSessionTimeout),
			"NamespaceConfig", "Validate", "check metadata session timeout")
	}
	if c.LedgerSessionTimeout <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("ledger_session_timeout must be positive, got %v", c.LedgerSessionTimeout),
			"NamespaceConfig", "Validate", "check ledger session timeout")
	}
	if c.EnableLedgerAllocatorPool && c.LedgerAllocatorPoolCoreSize <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("ledger_allocator_pool_core_size must be positive, got %d", c.LedgerAllocatorPoolCoreSize),
			"NamespaceConfig", "Validate", "check allocator pool size")
	}
	if c.WriteQuorumSize > c.EnsembleSize {
		return errors.WrapInvalid(
			fmt.Errorf("write_quorum_size %d exceeds ensemble_size %d", c.WriteQuorumSize, c.EnsembleSize),
			"NamespaceConfig", "Validate", "check quorum sizes")
	}
	if c.AckQuorumSize > c.WriteQuorumSize {
		return errors.WrapInvalid(
			fmt.Errorf("ack_quorum_size %d exceeds write_quorum_size %d", c.AckQuorumSize, c.WriteQuorumSize),
			"NamespaceConfig", "Validate", "check quorum sizes")
	}
	return nil
}

// Clone returns a copy of the configuration.
func (c *NamespaceConfig) Clone() NamespaceConfig {
	return *c
}

// LoadFile reads a YAML configuration file on top of defaults and validates
// the result.
func LoadFile(path string) (NamespaceConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.WrapInvalid(err, "NamespaceConfig", "LoadFile", "read file")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.WrapInvalid(err, "NamespaceConfig", "LoadFile", "parse yaml")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Override carries per-call configuration overrides. Nil fields keep the
// namespace-level value.
type Override struct {
	MetadataSessionTimeout *time.Duration
	MetadataRetry          *retry.Policy
	LedgerSessionTimeout   *time.Duration
	LedgerRetry            *retry.Policy
	LogSegmentCacheTTL     *time.Duration
	EnsembleSize           *int
	WriteQuorumSize        *int
	AckQuorumSize          *int
	RetentionPeriod        *time.Duration
	ReadAheadMaxRecords    *int
}

// Merge returns a copy of the base configuration with override values applied
// on top. A nil override returns a plain copy.
func (c *NamespaceConfig) Merge(o *Override) NamespaceConfig {
	merged := c.Clone()
	if o == nil {
		return merged
	}
	if o.MetadataSessionTimeout != nil {
		merged.MetadataSessionTimeout = *o.MetadataSessionTimeout
	}
	if o.MetadataRetry != nil {
		merged.MetadataRetry = *o.MetadataRetry
	}
	if o.LedgerSessionTimeout != nil {
		merged.LedgerSessionTimeout = *o.LedgerSessionTimeout
	}
	if o.LedgerRetry != nil {
		merged.LedgerRetry = *o.LedgerRetry
	}
	if o.LogSegmentCacheTTL != nil {
		merged.LogSegmentCacheTTL = *o.LogSegmentCacheTTL
	}
	if o.EnsembleSize != nil {
		merged.EnsembleSize = *o.EnsembleSize
	}
	if o.WriteQuorumSize != nil {
		merged.WriteQuorumSize = *o.WriteQuorumSize
	}
	if o.AckQuorumSize != nil {
		merged.AckQuorumSize = *o.AckQuorumSize
	}
	if o.RetentionPeriod != nil {
		merged.RetentionPeriod = *o.RetentionPeriod
	}
	if o.ReadAheadMaxRecords != nil {
		merged.ReadAheadMaxRecords = *o.ReadAheadMaxRecords
	}
	return merged
}
