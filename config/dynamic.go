package config

import "time"

// DynamicConfig exposes configuration values that may change while a log
// handle is open. When a caller supplies no dynamic configuration, a static
// view over the merged namespace configuration is used and every lookup
// returns the construction-time value.
type DynamicConfig interface {
	EnsembleSize() int
	WriteQuorumSize() int
	AckQuorumSize() int
	RetentionPeriod() time.Duration
	ReadAheadMaxRecords() int
}

// staticDynamic is a DynamicConfig frozen over one NamespaceConfig.
type staticDynamic struct {
	cfg NamespaceConfig
}

// ConstDynamic derives a static DynamicConfig from the given configuration.
func ConstDynamic(cfg NamespaceConfig) DynamicConfig {
	return &staticDynamic{cfg: cfg}
}

func (s *staticDynamic) EnsembleSize() int              { return s.cfg.EnsembleSize }
func (s *staticDynamic) WriteQuorumSize() int           { return s.cfg.WriteQuorumSize }
func (s *staticDynamic) AckQuorumSize() int             { return s.cfg.AckQuorumSize }
func (s *staticDynamic) RetentionPeriod() time.Duration { return s.cfg.RetentionPeriod }
func (s *staticDynamic) ReadAheadMaxRecords() int       { return s.cfg.ReadAheadMaxRecords }
