// Package panel wires the accounting engine together: the sample store,
// per-source samplers, retention, the JSON API, and config reload.
package panel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/blikh/wg-traffic-panel/internal/api"
	"github.com/blikh/wg-traffic-panel/internal/collector"
	"github.com/blikh/wg-traffic-panel/internal/config"
	"github.com/blikh/wg-traffic-panel/internal/quota"
	"github.com/blikh/wg-traffic-panel/internal/report"
	"github.com/blikh/wg-traffic-panel/internal/retention"
	"github.com/blikh/wg-traffic-panel/internal/sampler"
	"github.com/blikh/wg-traffic-panel/internal/store"
)

type Panel struct {
	configPath string
	logger     *slog.Logger
	cfg        *config.Snapshot
	store      *store.Store
}

func New(configPath string, cfg *config.Config, logger *slog.Logger) *Panel {
	return &Panel{
		configPath: configPath,
		logger:     logger,
		cfg:        config.NewSnapshot(cfg),
	}
}

// Run starts the engine and blocks until ctx is cancelled. On shutdown,
// in-flight ticks drain before the store is closed.
func (p *Panel) Run(ctx context.Context) error {
	cfg := p.cfg.Load()

	st, err := store.Open(cfg.Database, p.logger)
	if err != nil {
		return err
	}
	p.store = st

	if err := st.SyncQuotaLimits(quotaLimits(cfg), time.Now()); err != nil {
		st.Close()
		return fmt.Errorf("syncing quota limits: %w", err)
	}

	sched := sampler.New(p.logger)

	if cfg.Sources.Proxy.Enabled {
		coll := collector.NewProxyCollector(cfg.Sources.Proxy.StatsURL, cfg.Sources.Proxy.APIToken)
		sched.Add(sampler.NewRunner(store.SourceProxy, coll, st, p.cfg, p.logger))
	}
	if cfg.Sources.WireGuard.Enabled {
		coll, err := collector.NewWireGuardCollector(cfg.Sources.WireGuard.Device)
		if err != nil {
			st.Close()
			return err
		}
		defer coll.Close()
		sched.Add(sampler.NewRunner(store.SourceWireGuard, coll, st, p.cfg, p.logger))
	}

	reports := report.New(st)
	ret := retention.New(st, p.cfg, p.logger)
	apiSrv := api.New(st, reports, sched, ret, p.cfg, p.logger)

	p.logger.Info("panel running",
		"database", cfg.Database,
		"sources", sched.Sources(),
		"retention_days", cfg.Retention.Days,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return ret.Run(gctx) })
	g.Go(func() error { return apiSrv.Run(gctx) })
	g.Go(func() error { return config.Watch(gctx, p.configPath, p.logger, p.applyConfig) })

	runErr := g.Wait()

	if err := st.Close(); err != nil {
		p.logger.Error("failed to close store", "err", err)
	}
	p.logger.Info("panel stopped")
	return runErr
}

// applyConfig installs a freshly loaded config snapshot and projects its
// quota limits into the store. Interval, retention, and threshold changes
// take effect at the next tick of each task.
func (p *Panel) applyConfig(cfg *config.Config) {
	p.cfg.Store(cfg)
	if err := p.store.SyncQuotaLimits(quotaLimits(cfg), time.Now()); err != nil {
		p.logger.Error("failed to sync quota limits after reload", "err", err)
	}
}

// quotaLimits converts configured quotas into limits. A zero limit means
// unlimited, so no state row is created for it.
func quotaLimits(cfg *config.Config) map[string]quota.Limit {
	limits := make(map[string]quota.Limit, len(cfg.Quotas))
	for identity, q := range cfg.Quotas {
		if q.LimitBytes <= 0 {
			continue
		}
		l := quota.Limit{
			LimitBytes: q.LimitBytes,
			Period:     quota.PeriodType(q.Period),
			ResetDay:   q.ResetDay,
		}
		if l.Period == "" {
			l.Period = quota.PeriodMonthly
		}
		if l.Period == quota.PeriodMonthly && l.ResetDay == 0 {
			l.ResetDay = 1
		}
		limits[identity] = l
	}
	return limits
}
