package store

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownSource is returned for a source name that is neither "proxy"
// nor "wireguard".
var ErrUnknownSource = errors.New("store: unknown source")

// Source identifies a traffic source being sampled.
type Source string

const (
	SourceProxy     Source = "proxy"
	SourceWireGuard Source = "wireguard"
)

// Sources lists all known sources in a stable order.
var Sources = []Source{SourceProxy, SourceWireGuard}

// ParseSource validates a source name supplied by an external caller.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceProxy:
		return SourceProxy, nil
	case SourceWireGuard:
		return SourceWireGuard, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSource, s)
}

// Sample is one immutable accounting row: the interval deltas for one
// identity at one tick, plus the raw cumulative counters behind them.
type Sample struct {
	Source    Source
	Identity  string
	Timestamp int64
	UpDelta   int64
	DownDelta int64
	UpRaw     int64
	DownRaw   int64
}

// RawCounters is the last observed cumulative counter pair for an
// identity, used to derive the next tick's deltas.
type RawCounters struct {
	UpRaw     int64
	DownRaw   int64
	Timestamp int64
}

// RunRecord is one audit entry for a sampler execution attempt.
type RunRecord struct {
	Source    Source
	Timestamp int64
	Inserted  int
	Resets    int
	Duration  time.Duration
	Error     string
}

// SeriesPoint is one fixed-width bucket of a chart series.
type SeriesPoint struct {
	Bucket int64 `json:"bucket"`
	Up     int64 `json:"up"`
	Down   int64 `json:"down"`
}

// IdentityTotals is the summed traffic for one identity over a window.
type IdentityTotals struct {
	Identity string `json:"identity"`
	Up       int64  `json:"up"`
	Down     int64  `json:"down"`
}

// Total returns combined up+down bytes.
func (t IdentityTotals) Total() int64 { return t.Up + t.Down }

// DailyBucket is the compacted form of one (source, identity, day) group
// of samples.
type DailyBucket struct {
	Source      Source
	Identity    string
	Day         int64
	UpTotal     int64
	DownTotal   int64
	SampleCount int64
}
