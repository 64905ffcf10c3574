// Package api exposes the accounting engine's query and control
// operations as a JSON API. The dashboard UI and other CRUD surfaces live
// elsewhere; this is only the boundary they call.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/blikh/wg-traffic-panel/internal/config"
	"github.com/blikh/wg-traffic-panel/internal/report"
	"github.com/blikh/wg-traffic-panel/internal/retention"
	"github.com/blikh/wg-traffic-panel/internal/sampler"
	"github.com/blikh/wg-traffic-panel/internal/store"
)

// Server serves the JSON API.
type Server struct {
	store     *store.Store
	reports   *report.Engine
	scheduler *sampler.Scheduler
	retention *retention.Manager
	cfg       *config.Snapshot
	logger    *slog.Logger
}

// New creates an API server.
func New(st *store.Store, reports *report.Engine, sched *sampler.Scheduler, ret *retention.Manager, cfg *config.Snapshot, logger *slog.Logger) *Server {
	return &Server{
		store:     st,
		reports:   reports,
		scheduler: sched,
		retention: ret,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	listen := s.cfg.Load().API.Listen
	if listen == "" {
		<-ctx.Done()
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/series", s.auth(s.handleSeries))
	mux.HandleFunc("/api/totals", s.auth(s.handleTotals))
	mux.HandleFunc("/api/top", s.auth(s.handleTop))
	mux.HandleFunc("/api/active", s.auth(s.handleActive))
	mux.HandleFunc("/api/report", s.auth(s.handleReport))
	mux.HandleFunc("/api/runs", s.auth(s.handleRuns))
	mux.HandleFunc("/api/quotas", s.auth(s.handleQuotas))
	mux.HandleFunc("/api/sampler/run", s.auth(s.handleRunNow))
	mux.HandleFunc("/api/sampler/pause", s.auth(s.handlePause))
	mux.HandleFunc("/api/sampler/resume", s.auth(s.handleResume))
	mux.HandleFunc("/api/retention/prune", s.auth(s.handlePrune))

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", listen, err)
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server started", "listen", listen)
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: serve: %w", err)
	}
	return nil
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := s.cfg.Load().API.Token
		got := r.Header.Get("X-API-Token")
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
