package commands

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/blikh/wg-traffic-panel/internal/config"
	"github.com/blikh/wg-traffic-panel/internal/panel"
)

// Run starts the accounting engine and blocks until SIGINT/SIGTERM.
func Run(args []string, logger *slog.Logger) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "configs/panel.yaml", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	var logOut io.Writer = os.Stdout
	if cfg.LogFile != "" {
		logOut = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}
	logger = slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: cfg.ParseLogLevel()}))

	logger.Info("starting wg-traffic-panel", "config", *configPath)

	if obs := cfg.Observability; obs.Addr != "" {
		mux := http.NewServeMux()
		if obs.Pprof {
			// Re-register pprof handlers on our mux (net/http/pprof init registers on DefaultServeMux).
			mux.HandleFunc("/debug/pprof/", http.DefaultServeMux.ServeHTTP)
		}
		if obs.Metrics {
			mux.Handle("/metrics", promhttp.Handler())
		}
		go func() {
			logger.Info("starting observability server", "addr", obs.Addr, "pprof", obs.Pprof, "metrics", obs.Metrics)
			if err := http.ListenAndServe(obs.Addr, mux); err != nil {
				logger.Error("observability server failed", "err", err)
			}
		}()
	}

	p := panel.New(*configPath, cfg, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	if err := p.Run(ctx); err != nil {
		cancel()
		logger.Error("panel error", "err", err)
		os.Exit(1)
	}
	cancel()
}
