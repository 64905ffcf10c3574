package config

import "sync/atomic"

// Snapshot holds the current Config behind an atomic pointer. Background
// tasks read the snapshot at the start of each tick; a reload swaps the
// whole pointer, never mutating a Config in place.
type Snapshot struct {
	cfg atomic.Pointer[Config]
}

// NewSnapshot creates a Snapshot with an initial config.
func NewSnapshot(cfg *Config) *Snapshot {
	s := &Snapshot{}
	s.cfg.Store(cfg)
	return s
}

// Load returns the current config.
func (s *Snapshot) Load() *Config {
	return s.cfg.Load()
}

// Store atomically replaces the current config.
func (s *Snapshot) Store(cfg *Config) {
	s.cfg.Store(cfg)
}
