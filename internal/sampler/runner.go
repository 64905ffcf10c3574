package sampler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/blikh/wg-traffic-panel/internal/collector"
	"github.com/blikh/wg-traffic-panel/internal/config"
	"github.com/blikh/wg-traffic-panel/internal/metrics"
	"github.com/blikh/wg-traffic-panel/internal/quota"
	"github.com/blikh/wg-traffic-panel/internal/store"
)

// ErrStopped is returned by control operations after the runner has exited.
var ErrStopped = errors.New("sampler: runner stopped")

// RunResult is the outcome of a single sampler execution.
type RunResult struct {
	Inserted int           `json:"inserted"`
	Resets   int           `json:"resets"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

type ctrlKind int

const (
	ctrlRunNow ctrlKind = iota
	ctrlPause
	ctrlResume
)

type ctrlMsg struct {
	kind   ctrlKind
	result chan RunResult // ctrlRunNow
	ack    chan struct{}  // ctrlPause / ctrlResume
}

// Runner owns all sampling state for one source. Pause, resume, and
// run-now arrive as control messages; nothing outside the run loop
// touches its fields.
type Runner struct {
	source store.Source
	coll   collector.Collector
	store  *store.Store
	cfg    *config.Snapshot
	logger *slog.Logger

	ctrl chan ctrlMsg
	done chan struct{}

	// Loop-owned state.
	paused bool
	lastTS int64
}

// NewRunner creates a runner for source. The initial paused state comes
// from the config snapshot.
func NewRunner(source store.Source, coll collector.Collector, st *store.Store, cfg *config.Snapshot, logger *slog.Logger) *Runner {
	return &Runner{
		source: source,
		coll:   coll,
		store:  st,
		cfg:    cfg,
		logger: logger,
		ctrl:   make(chan ctrlMsg),
		done:   make(chan struct{}),
		paused: cfg.Load().SourcePaused(string(source)),
	}
}

// Source returns the source this runner samples.
func (r *Runner) Source() store.Source { return r.source }

// Run executes the sampling loop until ctx is cancelled. The interval is
// re-read from the config snapshot on every iteration, so interval
// changes apply without restart. A paused tick is skipped without being
// recorded; missed intervals are not backfilled on resume.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)

	r.logger.Info("sampler started",
		"source", r.source,
		"interval", r.cfg.Load().SourceInterval(string(r.source)),
		"paused", r.paused,
	)

	for {
		timer := time.NewTimer(r.cfg.Load().SourceInterval(string(r.source)))
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("sampler stopped", "source", r.source)
			return nil
		case msg := <-r.ctrl:
			timer.Stop()
			r.handle(ctx, msg)
		case <-timer.C:
			if r.paused {
				continue
			}
			res := r.execute(ctx)
			r.drain(res)
		}
	}
}

func (r *Runner) handle(ctx context.Context, msg ctrlMsg) {
	switch msg.kind {
	case ctrlPause:
		r.paused = true
		r.logger.Info("sampler paused", "source", r.source)
		close(msg.ack)
	case ctrlResume:
		r.paused = false
		r.logger.Info("sampler resumed", "source", r.source)
		close(msg.ack)
	case ctrlRunNow:
		res := r.execute(ctx)
		msg.result <- res
		r.drain(res)
	}
}

// drain answers control messages that queued up while a run was in
// flight. Run-now requests coalesce onto the just-finished run's result
// instead of triggering another execution.
func (r *Runner) drain(res RunResult) {
	for {
		select {
		case msg := <-r.ctrl:
			switch msg.kind {
			case ctrlRunNow:
				msg.result <- res
			case ctrlPause:
				r.paused = true
				r.logger.Info("sampler paused", "source", r.source)
				close(msg.ack)
			case ctrlResume:
				r.paused = false
				r.logger.Info("sampler resumed", "source", r.source)
				close(msg.ack)
			}
		default:
			return
		}
	}
}

func (r *Runner) execute(ctx context.Context) RunResult {
	cfg := r.cfg.Load()
	start := time.Now()

	snapCtx, cancel := context.WithTimeout(ctx, cfg.SourceTimeout(string(r.source)))
	snap, err := r.coll.Snapshot(snapCtx)
	cancel()
	if err != nil {
		return r.fail(start, err)
	}

	last, err := r.store.LastRaw(r.source)
	if err != nil {
		return r.fail(start, err)
	}

	// Strictly increasing timestamps per source, even across restarts
	// within the same second.
	ts := time.Now().Unix()
	if ts <= r.lastTS {
		ts = r.lastTS + 1
	}
	for _, rc := range last {
		if ts <= rc.Timestamp {
			ts = rc.Timestamp + 1
		}
	}

	samples, resets := normalizeSnapshot(r.source, ts, snap, last)

	duration := time.Since(start)
	tick := store.Tick{
		Source:  r.source,
		Now:     time.Now(),
		Samples: samples,
		Run: store.RunRecord{
			Source:    r.source,
			Timestamp: ts,
			Inserted:  len(samples),
			Resets:    resets,
			Duration:  duration,
		},
	}
	if err := r.store.CommitTick(tick); err != nil {
		return r.fail(start, err)
	}
	r.lastTS = ts

	metrics.SamplerRunsTotal.WithLabelValues(string(r.source), "ok").Inc()
	metrics.SamplerSamplesInserted.WithLabelValues(string(r.source)).Add(float64(len(samples)))
	metrics.SamplerCounterResets.WithLabelValues(string(r.source)).Add(float64(resets))
	metrics.SamplerRunDuration.WithLabelValues(string(r.source)).Observe(duration.Seconds())
	r.reportExceeded()

	r.logger.Debug("sampler tick",
		"source", r.source,
		"inserted", len(samples),
		"resets", resets,
		"duration", duration,
	)
	return RunResult{Inserted: len(samples), Resets: resets, Duration: duration}
}

// reportExceeded publishes the number of identities over their limit
// after a committed tick.
func (r *Runner) reportExceeded() {
	states, err := r.store.QuotaStates()
	if err != nil {
		r.logger.Error("failed to read quota states", "source", r.source, "err", err)
		return
	}
	exceeded := 0
	for _, st := range states {
		if quota.Exceeded(st) {
			exceeded++
		}
	}
	metrics.QuotaExceeded.Set(float64(exceeded))
}

func (r *Runner) fail(start time.Time, cause error) RunResult {
	duration := time.Since(start)
	rec := store.RunRecord{
		Source:    r.source,
		Timestamp: start.Unix(),
		Duration:  duration,
		Error:     cause.Error(),
	}
	if err := r.store.RecordRun(rec); err != nil {
		r.logger.Error("failed to record failed run", "source", r.source, "err", err)
	}

	metrics.SamplerRunsTotal.WithLabelValues(string(r.source), "error").Inc()
	metrics.SamplerRunDuration.WithLabelValues(string(r.source)).Observe(duration.Seconds())

	r.logger.Error("sampler run failed", "source", r.source, "duration", duration, "err", cause)
	return RunResult{Duration: duration, Err: cause}
}

// RunNow requests an out-of-band execution and blocks for its result. If
// a run is already in flight, the request attaches to that run.
func (r *Runner) RunNow() (RunResult, error) {
	msg := ctrlMsg{kind: ctrlRunNow, result: make(chan RunResult, 1)}
	select {
	case r.ctrl <- msg:
		return <-msg.result, nil
	case <-r.done:
		return RunResult{}, ErrStopped
	}
}

// Pause stops the ticker from firing for this source. Synchronous: the
// flag is set by the run loop before Pause returns.
func (r *Runner) Pause() error {
	return r.sendCtrl(ctrlPause)
}

// Resume re-enables ticking. Missed intervals are not backfilled.
func (r *Runner) Resume() error {
	return r.sendCtrl(ctrlResume)
}

func (r *Runner) sendCtrl(kind ctrlKind) error {
	msg := ctrlMsg{kind: kind, ack: make(chan struct{})}
	select {
	case r.ctrl <- msg:
		<-msg.ack
		return nil
	case <-r.done:
		return ErrStopped
	}
}
