// Package retention bounds storage growth: it compacts old fine-grained
// samples into daily buckets and prunes data past the retention horizon.
// It runs on its own schedule and never blocks sampling.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/blikh/wg-traffic-panel/internal/config"
	"github.com/blikh/wg-traffic-panel/internal/metrics"
	"github.com/blikh/wg-traffic-panel/internal/store"
)

const daySeconds = 86400

// Manager owns the retention/aggregation cycle.
type Manager struct {
	store  *store.Store
	cfg    *config.Snapshot
	logger *slog.Logger
}

// New creates a retention manager.
func New(st *store.Store, cfg *config.Snapshot, logger *slog.Logger) *Manager {
	return &Manager{store: st, cfg: cfg, logger: logger}
}

// PruneResult reports what a prune removed and the cutoff it used.
type PruneResult struct {
	Deleted int64 `json:"deleted"`
	Buckets int64 `json:"buckets_deleted"`
	Cutoff  int64 `json:"cutoff"`
}

// Run executes retention cycles until ctx is cancelled. One cycle runs at
// startup, then every configured interval. A failed cycle is logged and
// retried on the next one.
func (m *Manager) Run(ctx context.Context) error {
	m.cycle()

	for {
		interval := time.Duration(m.cfg.Load().Retention.IntervalSec) * time.Second
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			m.cycle()
		}
	}
}

func (m *Manager) cycle() {
	cfg := m.cfg.Load()

	days, aggErr := m.Aggregate()
	if aggErr != nil {
		m.logger.Error("aggregation failed", "err", aggErr)
	}

	// Pruning still runs when compaction failed; each bounds storage on
	// its own.
	res, pruneErr := m.PruneNow()
	if pruneErr != nil {
		m.logger.Error("pruning failed", "err", pruneErr)
	}

	if aggErr != nil || pruneErr != nil {
		metrics.RetentionRunsTotal.WithLabelValues("error").Inc()
		return
	}

	metrics.RetentionRunsTotal.WithLabelValues("ok").Inc()
	m.logger.Info("retention cycle complete",
		"aggregated_days", days,
		"pruned", res.Deleted,
		"pruned_buckets", res.Buckets,
		"cutoff", res.Cutoff,
		"retention_days", cfg.Retention.Days,
	)
}

// Aggregate compacts samples older than the configured aggregation
// horizon into daily buckets and returns the number of days compacted.
func (m *Manager) Aggregate() (int, error) {
	cfg := m.cfg.Load()
	cutoff := time.Now().Unix() - int64(cfg.Retention.AggregateAfterDays)*daySeconds

	days, err := m.store.AggregateBefore(cutoff)
	if err != nil {
		return 0, err
	}
	metrics.RetentionAggregatedDays.Add(float64(days))
	return days, nil
}

// PruneNow deletes samples (and, when configured, daily buckets) older
// than the retention horizon. Quota state is never touched: consumption
// reflects the billing period, not a re-derivable sum of live samples.
func (m *Manager) PruneNow() (PruneResult, error) {
	cfg := m.cfg.Load()
	cutoff := time.Now().Unix() - int64(cfg.Retention.Days)*daySeconds

	deleted, err := m.store.DeleteBefore(cutoff)
	if err != nil {
		return PruneResult{}, err
	}
	res := PruneResult{Deleted: deleted, Cutoff: cutoff}
	if cfg.Retention.PruneBuckets {
		buckets, err := m.store.DeleteBucketsBefore(cutoff)
		if err != nil {
			return PruneResult{}, err
		}
		res.Buckets = buckets
	}

	metrics.RetentionPrunedSamples.Add(float64(deleted))
	return res, nil
}
