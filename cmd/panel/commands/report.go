package commands

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/blikh/wg-traffic-panel/internal/config"
	"github.com/blikh/wg-traffic-panel/internal/report"
	"github.com/blikh/wg-traffic-panel/internal/store"
)

// Report prints per-identity usage totals for a time window.
func Report(args []string, logger *slog.Logger) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	configPath := fs.String("config", "configs/panel.yaml", "path to config file")
	startStr := fs.String("start", "", "window start (RFC3339, default 30 days ago)")
	endStr := fs.String("end", "", "window end (RFC3339, default now)")
	limitBytes := fs.Int64("limit-bytes", 0, "flag identities whose total exceeds this many bytes")
	fs.Parse(args)

	end := time.Now()
	start := end.AddDate(0, 0, -30)
	var err error
	if *startStr != "" {
		if start, err = time.Parse(time.RFC3339, *startStr); err != nil {
			logger.Error("invalid -start", "err", err)
			os.Exit(1)
		}
	}
	if *endStr != "" {
		if end, err = time.Parse(time.RFC3339, *endStr); err != nil {
			logger.Error("invalid -end", "err", err)
			os.Exit(1)
		}
	}

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

	rows, err := report.New(st).UsageReport(start.Unix(), end.Unix(), *limitBytes)
	if err != nil {
		logger.Error("report failed", "err", err)
		os.Exit(1)
	}

	fmt.Printf("usage %s to %s\n\n",
		start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tUPLINK\tDOWNLINK\tTOTAL\tOVER LIMIT")
	for _, row := range rows {
		over := ""
		if row.Exceeded {
			over = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			row.Identity, formatBytes(row.Up), formatBytes(row.Down), formatBytes(row.Total), over)
	}
	w.Flush()
}

func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
