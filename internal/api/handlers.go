package api

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/blikh/wg-traffic-panel/internal/quota"
	"github.com/blikh/wg-traffic-panel/internal/report"
	"github.com/blikh/wg-traffic-panel/internal/store"
)

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	source, ok := s.sourceParam(w, r)
	if !ok {
		return
	}
	start, end, ok := s.rangeParams(w, r)
	if !ok {
		return
	}
	width := queryInt64(r, "width", 300)

	points, err := s.reports.Series(source, start, end, width)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": source, "points": points})
}

func (s *Server) handleTotals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	source, ok := s.sourceParam(w, r)
	if !ok {
		return
	}
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "identity is required"})
		return
	}
	start, end, ok := s.rangeParams(w, r)
	if !ok {
		return
	}

	totals, err := s.reports.Totals(source, identity, start, end)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (s *Server) handleTop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	source, ok := s.sourceParam(w, r)
	if !ok {
		return
	}
	start, end, ok := s.rangeParams(w, r)
	if !ok {
		return
	}
	n := int(queryInt64(r, "n", 10))

	top, err := s.reports.TopConsumers(source, start, end, n)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": source, "top": top})
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	source, ok := s.sourceParam(w, r)
	if !ok {
		return
	}

	cfg := s.cfg.Load()
	window := time.Duration(queryInt64(r, "window", int64(cfg.Active.WindowSec))) * time.Second
	threshold := queryInt64(r, "threshold", cfg.Active.ThresholdBytes)

	active, err := s.reports.ActiveIdentities(source, window, threshold)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source":          source,
		"window_seconds":  int64(window.Seconds()),
		"threshold_bytes": threshold,
		"active":          active,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	start, end, ok := s.rangeParams(w, r)
	if !ok {
		return
	}
	limit := queryInt64(r, "limit_bytes", 0)

	rows, err := s.reports.UsageReport(start, end, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"start": start, "end": end, "rows": rows})
}

type runInfo struct {
	Timestamp  int64  `json:"timestamp"`
	Inserted   int    `json:"inserted"`
	Resets     int    `json:"resets"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	source, ok := s.sourceParam(w, r)
	if !ok {
		return
	}
	limit := int(queryInt64(r, "limit", 20))

	runs, err := s.store.RunHistory(source, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]runInfo, 0, len(runs))
	for _, run := range runs {
		out = append(out, runInfo{
			Timestamp:  run.Timestamp,
			Inserted:   run.Inserted,
			Resets:     run.Resets,
			DurationMs: run.Duration.Milliseconds(),
			Error:      run.Error,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": source, "runs": out})
}

type quotaInfo struct {
	Identity      string `json:"identity"`
	Period        string `json:"period"`
	ResetDay      int    `json:"reset_day,omitempty"`
	LimitBytes    int64  `json:"limit_bytes"`
	ConsumedBytes int64  `json:"consumed_bytes"`
	PeriodStart   int64  `json:"period_start"`
	Exceeded      bool   `json:"exceeded"`
}

func (s *Server) handleQuotas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	states, err := s.store.QuotaStates()
	if err != nil {
		s.writeError(w, err)
		return
	}

	// Roll states forward for display so an identity idle since its reset
	// boundary still shows the fresh period.
	now := time.Now()
	out := make([]quotaInfo, 0, len(states))
	for _, st := range states {
		st = quota.Advance(st, now)
		out = append(out, quotaInfo{
			Identity:      st.Identity,
			Period:        string(st.Period),
			ResetDay:      st.ResetDay,
			LimitBytes:    st.LimitBytes,
			ConsumedBytes: st.ConsumedBytes,
			PeriodStart:   st.PeriodStart,
			Exceeded:      quota.Exceeded(st),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	writeJSON(w, http.StatusOK, map[string]any{"quotas": out})
}

func (s *Server) handleRunNow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	source, ok := s.sourceParam(w, r)
	if !ok {
		return
	}

	res, err := s.scheduler.RunNow(source)
	if err != nil {
		s.writeError(w, err)
		return
	}
	info := runInfo{
		Inserted:   res.Inserted,
		Resets:     res.Resets,
		DurationMs: res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		info.Error = res.Err.Error()
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.handleToggle(w, r, s.scheduler.Pause, "paused")
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.handleToggle(w, r, s.scheduler.Resume, "resumed")
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request, op func(store.Source) error, state string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	source, ok := s.sourceParam(w, r)
	if !ok {
		return
	}
	if err := op(source); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"source": string(source), "state": state})
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	res, err := s.retention.PruneNow()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) sourceParam(w http.ResponseWriter, r *http.Request) (store.Source, bool) {
	source, err := store.ParseSource(r.URL.Query().Get("source"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return "", false
	}
	return source, true
}

func (s *Server) rangeParams(w http.ResponseWriter, r *http.Request) (start, end int64, ok bool) {
	now := time.Now().Unix()
	start = queryInt64(r, "start", now-3600)
	end = queryInt64(r, "end", now)
	if start > end {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "start must not be after end"})
		return 0, 0, false
	}
	return start, end, true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, report.ErrInvalidRange) || errors.Is(err, store.ErrUnknownSource) {
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("api request failed", "err", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func queryInt64(r *http.Request, key string, def int64) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
