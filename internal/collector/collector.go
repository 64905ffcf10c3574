// Package collector holds the adapters that snapshot cumulative traffic
// counters from upstream services: the proxy daemon's stats endpoint and
// the WireGuard control interface.
package collector

import "context"

// Counters is one identity's cumulative byte counters as reported by the
// upstream service. Uplink is traffic sent by the identity, downlink is
// traffic delivered to it.
type Counters struct {
	Uplink   int64
	Downlink int64
}

// Snapshot maps identity (proxy user name or peer public key) to its
// current cumulative counters.
type Snapshot map[string]Counters

// Collector captures a point-in-time snapshot of one traffic source.
// A transport or parse failure surfaces as an error; the scheduler records
// it as a failed run and retries on the next tick.
type Collector interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}
