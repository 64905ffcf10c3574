package commands

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/blikh/wg-traffic-panel/internal/config"
	"github.com/blikh/wg-traffic-panel/internal/retention"
	"github.com/blikh/wg-traffic-panel/internal/store"
)

// Prune runs one retention cycle against the configured database and exits.
func Prune(args []string, logger *slog.Logger) {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	configPath := fs.String("config", "configs/panel.yaml", "path to config file")
	skipAggregate := fs.Bool("skip-aggregate", false, "prune only, without compacting old samples first")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.Database, logger)
	if err != nil {
		logger.Error("failed to open store", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	mgr := retention.New(st, config.NewSnapshot(cfg), logger)

	if !*skipAggregate {
		days, err := mgr.Aggregate()
		if err != nil {
			logger.Error("aggregation failed", "err", err)
			os.Exit(1)
		}
		fmt.Printf("aggregated %d day(s) into daily buckets\n", days)
	}

	res, err := mgr.PruneNow()
	if err != nil {
		logger.Error("pruning failed", "err", err)
		os.Exit(1)
	}
	fmt.Printf("deleted %d sample(s) older than %s\n",
		res.Deleted, time.Unix(res.Cutoff, 0).UTC().Format(time.RFC3339))
}
