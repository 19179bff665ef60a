// Package feature provides runtime feature flags for dlog subsystems.
//
// A Feature carries an availability value: 0 means fully disabled, anything
// above zero means enabled (graduated rollouts use intermediate values).
// Providers hand out features by name and can be scoped per subsystem, so the
// flag "disable_write_limit" under scope "dl" resolves as
// "dl.disable_write_limit".
package feature

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Core feature keys recognized by the namespace orchestrator.
const (
	// KeyDisableWriteLimit turns the global write limiter into a no-op even
	// when a limit is configured.
	KeyDisableWriteLimit = "disable_write_limit"
)

// Feature is a runtime-adjustable flag.
type Feature interface {
	Name() string
	Availability() int
	IsAvailable() bool
}

// Provider hands out features by name and supports sub-scoping.
type Provider interface {
	GetFeature(name string) Feature
	Scope(name string) Provider
}

// SettableFeature is a Feature whose availability can be changed at runtime.
type SettableFeature struct {
	name         string
	availability atomic.Int64
}

// NewSettableFeature creates a feature with the given initial availability.
func NewSettableFeature(name string, availability int) *SettableFeature {
	f := &SettableFeature{name: name}
	f.availability.Store(int64(availability))
	return f
}

// Name returns the feature's fully-qualified name.
func (f *SettableFeature) Name() string { return f.name }

// Availability returns the current availability value.
func (f *SettableFeature) Availability() int { return int(f.availability.Load()) }

// IsAvailable reports whether the feature is enabled at all.
func (f *SettableFeature) IsAvailable() bool { return f.availability.Load() > 0 }

// Set updates the availability value.
func (f *SettableFeature) Set(availability int) {
	f.availability.Store(int64(availability))
}

// SettableProvider is an in-memory Provider. Features default to the
// provider's default availability on first access and are memoized, so a
// feature handed to a consumer stays live when later adjusted.
type SettableProvider struct {
	scope               string
	defaultAvailability int

	mu       sync.Mutex
	features map[string]*SettableFeature
}

// NewSettableProvider creates a provider rooted at scope. Features created on
// demand start at defaultAvailability.
func NewSettableProvider(scope string, defaultAvailability int) *SettableProvider {
	return &SettableProvider{
		scope:               scope,
		defaultAvailability: defaultAvailability,
		features:            make(map[string]*SettableFeature),
	}
}

func (p *SettableProvider) qualified(name string) string {
	if p.scope == "" {
		return name
	}
	return p.scope + "." + name
}

// GetFeature returns the named feature, creating it at the default
// availability if it does not exist yet.
func (p *SettableProvider) GetFeature(name string) Feature {
	p.mu.Lock()
	defer p.mu.Unlock()

	qualified := p.qualified(name)
	if f, ok := p.features[qualified]; ok {
		return f
	}
	f := NewSettableFeature(qualified, p.defaultAvailability)
	p.features[qualified] = f
	return f
}

// SetFeature sets the availability of the named feature, creating it if
// needed, and returns it.
func (p *SettableProvider) SetFeature(name string, availability int) *SettableFeature {
	f := p.GetFeature(name).(*SettableFeature)
	f.Set(availability)
	return f
}

// Scope returns a child provider sharing this provider's feature map, so a
// flag set through any scope is observed by all of them.
func (p *SettableProvider) Scope(name string) Provider {
	return &scopedProvider{parent: p, scope: name}
}

type scopedProvider struct {
	parent *SettableProvider
	scope  string
}

func (s *scopedProvider) qualified(name string) string {
	if s.scope == "" {
		return name
	}
	return s.scope + "." + strings.TrimPrefix(name, ".")
}

func (s *scopedProvider) GetFeature(name string) Feature {
	return s.parent.GetFeature(s.qualified(name))
}

func (s *scopedProvider) Scope(name string) Provider {
	return &scopedProvider{parent: s.parent, scope: s.qualified(name)}
}
