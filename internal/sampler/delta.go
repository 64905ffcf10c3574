// Package sampler drives periodic traffic collection: one runner per
// source polls its collector, normalizes cumulative counters into
// interval deltas, and commits the tick to the store.
package sampler

import (
	"sort"

	"github.com/blikh/wg-traffic-panel/internal/collector"
	"github.com/blikh/wg-traffic-panel/internal/store"
)

// normalizeChannel converts one cumulative counter observation to an
// interval delta. A counter that went backwards means the upstream
// service restarted; the full current value is treated as traffic since
// the reset. Traffic accumulated between the previous poll and the reset
// itself is lost — no monotonic counter source exists to recover it.
func normalizeChannel(prev, cur int64) (delta int64, reset bool) {
	if cur < prev {
		return cur, true
	}
	return cur - prev, false
}

// normalizeSnapshot turns a raw counter snapshot into samples for one
// tick, using the previously stored counters as the baseline. An identity
// seen for the first time gets a zero-delta sample that establishes its
// baseline and makes it visible in the series from this tick onward.
// Channels are normalized independently; resets counts identities where
// either channel went backwards.
func normalizeSnapshot(source store.Source, ts int64, snap collector.Snapshot, last map[string]store.RawCounters) (samples []store.Sample, resets int) {
	identities := make([]string, 0, len(snap))
	for id := range snap {
		identities = append(identities, id)
	}
	sort.Strings(identities)

	samples = make([]store.Sample, 0, len(identities))
	for _, id := range identities {
		cur := snap[id]
		smp := store.Sample{
			Source:    source,
			Identity:  id,
			Timestamp: ts,
			UpRaw:     cur.Uplink,
			DownRaw:   cur.Downlink,
		}

		if prev, ok := last[id]; ok {
			var upReset, downReset bool
			smp.UpDelta, upReset = normalizeChannel(prev.UpRaw, cur.Uplink)
			smp.DownDelta, downReset = normalizeChannel(prev.DownRaw, cur.Downlink)
			if upReset || downReset {
				resets++
			}
		}

		samples = append(samples, smp)
	}
	return samples, resets
}
