package sampler

import (
	"testing"

	"github.com/blikh/wg-traffic-panel/internal/collector"
	"github.com/blikh/wg-traffic-panel/internal/store"
)

func TestNormalizeChannel(t *testing.T) {
	tests := []struct {
		name      string
		prev, cur int64
		want      int64
		wantReset bool
	}{
		{"no traffic", 1000, 1000, 0, false},
		{"normal increase", 1000, 1500, 500, false},
		{"reset to zero", 1500, 0, 0, true},
		{"reset with traffic", 1500, 50, 50, true},
		{"first byte", 0, 1, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reset := normalizeChannel(tt.prev, tt.cur)
			if got != tt.want || reset != tt.wantReset {
				t.Fatalf("normalizeChannel(%d, %d) = (%d, %v), want (%d, %v)",
					tt.prev, tt.cur, got, reset, tt.want, tt.wantReset)
			}
		})
	}
}

// A counter that only grows must yield deltas summing to last - first.
func TestDeltaSumEqualsCounterSpan(t *testing.T) {
	observations := []int64{1000, 1000, 1200, 1750, 1750, 4000}

	var sum int64
	prev := observations[0]
	for _, cur := range observations[1:] {
		d, reset := normalizeChannel(prev, cur)
		if reset {
			t.Fatalf("unexpected reset at %d -> %d", prev, cur)
		}
		sum += d
		prev = cur
	}

	if want := observations[len(observations)-1] - observations[0]; sum != want {
		t.Fatalf("sum of deltas = %d, want %d", sum, want)
	}
}

func TestNormalizeSnapshotDeltas(t *testing.T) {
	// Previous tick observed raw (1000, 2000); this tick reads (1500, 2600).
	last := map[string]store.RawCounters{
		"alice": {UpRaw: 1000, DownRaw: 2000, Timestamp: 100},
	}
	snap := collector.Snapshot{
		"alice": {Uplink: 1500, Downlink: 2600},
	}

	samples, resets := normalizeSnapshot(store.SourceProxy, 160, snap, last)
	if resets != 0 {
		t.Fatalf("resets = %d, want 0", resets)
	}
	if len(samples) != 1 {
		t.Fatalf("got %d samples, want 1", len(samples))
	}
	smp := samples[0]
	if smp.UpDelta != 500 || smp.DownDelta != 600 {
		t.Fatalf("deltas = (%d, %d), want (500, 600)", smp.UpDelta, smp.DownDelta)
	}
	if smp.UpRaw != 1500 || smp.DownRaw != 2600 {
		t.Fatalf("raw = (%d, %d), want (1500, 2600)", smp.UpRaw, smp.DownRaw)
	}
}

func TestNormalizeSnapshotReset(t *testing.T) {
	// Service restart dropped the counters from (1500, 2600) to (50, 80).
	last := map[string]store.RawCounters{
		"alice": {UpRaw: 1500, DownRaw: 2600, Timestamp: 160},
	}
	snap := collector.Snapshot{
		"alice": {Uplink: 50, Downlink: 80},
	}

	samples, resets := normalizeSnapshot(store.SourceProxy, 220, snap, last)
	if resets != 1 {
		t.Fatalf("resets = %d, want 1", resets)
	}
	smp := samples[0]
	if smp.UpDelta != 50 || smp.DownDelta != 80 {
		t.Fatalf("deltas = (%d, %d), want (50, 80)", smp.UpDelta, smp.DownDelta)
	}
}

func TestNormalizeSnapshotFirstObservation(t *testing.T) {
	snap := collector.Snapshot{
		"pk1": {Uplink: 9000, Downlink: 12000},
	}

	samples, resets := normalizeSnapshot(store.SourceWireGuard, 100, snap, nil)
	if resets != 0 {
		t.Fatalf("resets = %d, want 0", resets)
	}
	if len(samples) != 1 {
		t.Fatalf("got %d samples, want 1", len(samples))
	}
	smp := samples[0]
	// Baseline only: zero deltas, but the raw counters are retained so the
	// next tick can compute a real delta.
	if smp.UpDelta != 0 || smp.DownDelta != 0 {
		t.Fatalf("first observation deltas = (%d, %d), want (0, 0)", smp.UpDelta, smp.DownDelta)
	}
	if smp.UpRaw != 9000 || smp.DownRaw != 12000 {
		t.Fatalf("raw = (%d, %d), want (9000, 12000)", smp.UpRaw, smp.DownRaw)
	}
}

func TestNormalizeSnapshotIndependentChannels(t *testing.T) {
	// Only the uplink counter went backwards; downlink keeps its normal delta.
	last := map[string]store.RawCounters{
		"alice": {UpRaw: 1000, DownRaw: 2000},
	}
	snap := collector.Snapshot{
		"alice": {Uplink: 10, Downlink: 2500},
	}

	samples, resets := normalizeSnapshot(store.SourceProxy, 100, snap, last)
	if resets != 1 {
		t.Fatalf("resets = %d, want 1", resets)
	}
	smp := samples[0]
	if smp.UpDelta != 10 {
		t.Fatalf("up delta = %d, want 10 (reset)", smp.UpDelta)
	}
	if smp.DownDelta != 500 {
		t.Fatalf("down delta = %d, want 500 (normal)", smp.DownDelta)
	}
}

func TestNormalizeSnapshotSortedOutput(t *testing.T) {
	snap := collector.Snapshot{
		"charlie": {Uplink: 1, Downlink: 1},
		"alice":   {Uplink: 2, Downlink: 2},
		"bob":     {Uplink: 3, Downlink: 3},
	}

	samples, _ := normalizeSnapshot(store.SourceProxy, 100, snap, nil)
	want := []string{"alice", "bob", "charlie"}
	for i, smp := range samples {
		if smp.Identity != want[i] {
			t.Fatalf("samples[%d].Identity = %q, want %q", i, smp.Identity, want[i])
		}
	}
}
