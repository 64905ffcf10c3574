package sampler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/blikh/wg-traffic-panel/internal/collector"
	"github.com/blikh/wg-traffic-panel/internal/config"
	"github.com/blikh/wg-traffic-panel/internal/quota"
	"github.com/blikh/wg-traffic-panel/internal/store"
)

// fakeCollector serves a settable snapshot or error.
type fakeCollector struct {
	mu   sync.Mutex
	snap collector.Snapshot
	err  error
}

func (f *fakeCollector) Snapshot(ctx context.Context) (collector.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(collector.Snapshot, len(f.snap))
	for id, c := range f.snap {
		out[id] = c
	}
	return out, nil
}

func (f *fakeCollector) set(snap collector.Snapshot, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap, f.err = snap, err
}

func testConfig() *config.Snapshot {
	// An hour-long interval keeps the timer from firing during tests;
	// everything is driven through RunNow.
	return config.NewSnapshot(&config.Config{
		Sources: config.SourcesConfig{
			Proxy: config.ProxySourceConfig{
				Enabled: true, IntervalSec: 3600, TimeoutSec: 5,
				StatsURL: "http://127.0.0.1:1/stats",
			},
		},
	})
}

func startRunner(t *testing.T, fc *fakeCollector) (*Runner, *store.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(filepath.Join(t.TempDir(), "panel.db"), logger)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	r := NewRunner(store.SourceProxy, fc, st, testConfig(), logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r, st
}

func TestRunNowCommitsTick(t *testing.T) {
	fc := &fakeCollector{snap: collector.Snapshot{
		"alice": {Uplink: 1000, Downlink: 2000},
	}}
	r, st := startRunner(t, fc)

	// First run establishes the baseline.
	res, err := r.RunNow()
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if res.Err != nil {
		t.Fatalf("run error: %v", res.Err)
	}
	if res.Inserted != 1 || res.Resets != 0 {
		t.Fatalf("result = %+v, want 1 insert, 0 resets", res)
	}

	// Second run produces real deltas.
	fc.set(collector.Snapshot{"alice": {Uplink: 1500, Downlink: 2600}}, nil)
	res, err = r.RunNow()
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if res.Inserted != 1 {
		t.Fatalf("result = %+v, want 1 insert", res)
	}

	samples, err := st.QueryRange(store.SourceProxy, 0, time.Now().Unix()+100)
	if err != nil {
		t.Fatalf("QueryRange: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("got %d samples, want 2", len(samples))
	}
	if samples[0].UpDelta != 0 || samples[0].DownDelta != 0 {
		t.Fatalf("baseline sample deltas = (%d, %d), want (0, 0)", samples[0].UpDelta, samples[0].DownDelta)
	}
	if samples[1].UpDelta != 500 || samples[1].DownDelta != 600 {
		t.Fatalf("second sample deltas = (%d, %d), want (500, 600)", samples[1].UpDelta, samples[1].DownDelta)
	}
	// Back-to-back runs within one second still get distinct timestamps.
	if samples[1].Timestamp <= samples[0].Timestamp {
		t.Fatalf("timestamps not strictly increasing: %d then %d", samples[0].Timestamp, samples[1].Timestamp)
	}
}

func TestRunNowCountsReset(t *testing.T) {
	fc := &fakeCollector{snap: collector.Snapshot{
		"alice": {Uplink: 1500, Downlink: 2600},
	}}
	r, _ := startRunner(t, fc)

	if _, err := r.RunNow(); err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	fc.set(collector.Snapshot{"alice": {Uplink: 50, Downlink: 80}}, nil)
	res, err := r.RunNow()
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if res.Resets != 1 {
		t.Fatalf("resets = %d, want 1", res.Resets)
	}
}

func TestRunNowUpdatesQuota(t *testing.T) {
	fc := &fakeCollector{snap: collector.Snapshot{
		"alice": {Uplink: 1000, Downlink: 2000},
	}}
	r, st := startRunner(t, fc)

	err := st.SyncQuotaLimits(map[string]quota.Limit{
		"alice": {LimitBytes: 10000, Period: quota.PeriodMonthly, ResetDay: 1},
	}, time.Now())
	if err != nil {
		t.Fatalf("SyncQuotaLimits: %v", err)
	}

	if _, err := r.RunNow(); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	fc.set(collector.Snapshot{"alice": {Uplink: 1500, Downlink: 2600}}, nil)
	if _, err := r.RunNow(); err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	qs, ok, err := st.QuotaState("alice")
	if err != nil || !ok {
		t.Fatalf("QuotaState: ok=%v err=%v", ok, err)
	}
	// Baseline tick applies zero, second tick applies 500+600.
	if qs.ConsumedBytes != 1100 {
		t.Fatalf("ConsumedBytes = %d, want 1100", qs.ConsumedBytes)
	}
}

func TestCollectorFailureRecordsRun(t *testing.T) {
	fc := &fakeCollector{err: errors.New("stats endpoint unreachable")}
	r, st := startRunner(t, fc)

	res, err := r.RunNow()
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if res.Err == nil {
		t.Fatal("run succeeded against a failing collector")
	}

	runs, err := st.RunHistory(store.SourceProxy, 10)
	if err != nil {
		t.Fatalf("RunHistory: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d run records, want 1", len(runs))
	}
	if runs[0].Error == "" {
		t.Fatal("failed run recorded without its error")
	}

	// A failure leaves no samples behind and the next success recovers.
	fc.set(collector.Snapshot{"alice": {Uplink: 100, Downlink: 100}}, nil)
	res, err = r.RunNow()
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if res.Err != nil {
		t.Fatalf("recovery run failed: %v", res.Err)
	}
}

func TestPauseResume(t *testing.T) {
	fc := &fakeCollector{snap: collector.Snapshot{
		"alice": {Uplink: 100, Downlink: 100},
	}}
	r, _ := startRunner(t, fc)

	if err := r.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	// Manual runs still execute while paused.
	res, err := r.RunNow()
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if res.Err != nil {
		t.Fatalf("paused manual run failed: %v", res.Err)
	}
	if err := r.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
}

func TestControlAfterStop(t *testing.T) {
	fc := &fakeCollector{snap: collector.Snapshot{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(filepath.Join(t.TempDir(), "panel.db"), logger)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	r := NewRunner(store.SourceProxy, fc, st, testConfig(), logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	cancel()
	<-done

	if _, err := r.RunNow(); !errors.Is(err, ErrStopped) {
		t.Fatalf("RunNow after stop: err = %v, want ErrStopped", err)
	}
	if err := r.Pause(); !errors.Is(err, ErrStopped) {
		t.Fatalf("Pause after stop: err = %v, want ErrStopped", err)
	}
}

func TestSchedulerLookup(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(filepath.Join(t.TempDir(), "panel.db"), logger)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	sched := New(logger)
	fc := &fakeCollector{snap: collector.Snapshot{}}
	sched.Add(NewRunner(store.SourceProxy, fc, st, testConfig(), logger))

	if got := sched.Sources(); len(got) != 1 || got[0] != store.SourceProxy {
		t.Fatalf("Sources = %v, want [proxy]", got)
	}
	if _, err := sched.RunNow(store.SourceWireGuard); err == nil {
		t.Fatal("RunNow on an unscheduled source succeeded")
	}
	if err := sched.Pause(store.SourceWireGuard); err == nil {
		t.Fatal("Pause on an unscheduled source succeeded")
	}
}
