package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dlog/errors"
	"github.com/c360/dlog/pkg/retry"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, -1, cfg.GlobalOutstandingWriteLimit, "write limit disabled by default")
	assert.Equal(t, 0, cfg.NumReadAheadWorkerThreads, "readahead shares general pool by default")
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*NamespaceConfig)
	}{
		{"zero workers", func(c *NamespaceConfig) { c.NumWorkerThreads = 0 }},
		{"negative readahead workers", func(c *NamespaceConfig) { c.NumReadAheadWorkerThreads = -1 }},
		{"zero shutdown timeout", func(c *NamespaceConfig) { c.SchedulerShutdownTimeout = 0 }},
		{"zero metadata session timeout", func(c *NamespaceConfig) { c.MetadataSessionTimeout = 0 }},
		{"zero ledger session timeout", func(c *NamespaceConfig) { c.LedgerSessionTimeout = 0 }},
		{"allocator pool without size", func(c *NamespaceConfig) {
			c.EnableLedgerAllocatorPool = true
			c.LedgerAllocatorPoolCoreSize = 0
		}},
		{"write quorum exceeds ensemble", func(c *NamespaceConfig) { c.WriteQuorumSize = c.EnsembleSize + 1 }},
		{"ack quorum exceeds write quorum", func(c *NamespaceConfig) { c.AckQuorumSize = c.WriteQuorumSize + 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestValidateNil(t *testing.T) {
	var cfg *NamespaceConfig
	assert.ErrorIs(t, cfg.Validate(), errors.ErrMissingConfig)
}

func TestMergeOverridePrecedence(t *testing.T) {
	base := Default()
	base.MetadataSessionTimeout = 30 * time.Second
	base.EnsembleSize = 5
	base.WriteQuorumSize = 3

	timeout := 10 * time.Second
	quorum := 2
	merged := base.Merge(&Override{
		MetadataSessionTimeout: &timeout,
		WriteQuorumSize:        &quorum,
	})

	// Overridden keys take the override value.
	assert.Equal(t, 10*time.Second, merged.MetadataSessionTimeout)
	assert.Equal(t, 2, merged.WriteQuorumSize)
	// Unspecified keys retain the namespace-level value.
	assert.Equal(t, 5, merged.EnsembleSize)
	assert.Equal(t, base.SchedulerShutdownTimeout, merged.SchedulerShutdownTimeout)
	// The base is never mutated.
	assert.Equal(t, 30*time.Second, base.MetadataSessionTimeout)
	assert.Equal(t, 3, base.WriteQuorumSize)
}

func TestMergeNilOverride(t *testing.T) {
	base := Default()
	merged := base.Merge(nil)
	assert.Equal(t, base, merged)
}

func TestMergeRetryPolicy(t *testing.T) {
	base := Default()
	policy := retry.Policy{MaxAttempts: 9, InitialDelay: time.Millisecond, MaxDelay: time.Second, Multiplier: 3}
	merged := base.Merge(&Override{LedgerRetry: &policy})
	assert.Equal(t, 9, merged.LedgerRetry.MaxAttempts)
	assert.Equal(t, retry.DefaultPolicy().MaxAttempts, base.LedgerRetry.MaxAttempts)
}

func TestConstDynamicReflectsMergedConfig(t *testing.T) {
	cfg := Default()
	cfg.EnsembleSize = 7
	cfg.WriteQuorumSize = 5
	cfg.AckQuorumSize = 3
	cfg.RetentionPeriod = time.Hour
	cfg.ReadAheadMaxRecords = 42

	dyn := ConstDynamic(cfg)
	assert.Equal(t, 7, dyn.EnsembleSize())
	assert.Equal(t, 5, dyn.WriteQuorumSize())
	assert.Equal(t, 3, dyn.AckQuorumSize())
	assert.Equal(t, time.Hour, dyn.RetentionPeriod())
	assert.Equal(t, 42, dyn.ReadAheadMaxRecords())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "namespace.yaml")
	data := []byte(`
num_worker_threads: 8
num_readahead_worker_threads: 2
global_outstanding_write_limit: 1000
enable_ledger_allocator_pool: true
ledger_allocator_pool_path: .allocation_pool
ledger_allocator_pool_name: pool-1
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.NumWorkerThreads)
	assert.Equal(t, 2, cfg.NumReadAheadWorkerThreads)
	assert.Equal(t, 1000, cfg.GlobalOutstandingWriteLimit)
	assert.True(t, cfg.EnableLedgerAllocatorPool)
	assert.Equal(t, ".allocation_pool", cfg.LedgerAllocatorPoolPath)
	// Defaults survive for unspecified keys.
	assert.Equal(t, 20, cfg.LedgerAllocatorPoolCoreSize)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile("/nonexistent/namespace.yaml")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestLoadFileInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("num_worker_threads: -3\n"), 0o600))
	_, err := LoadFile(path)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
