// Package report answers windowed reads against the sample store: chart
// series, per-identity totals, top consumers, the active set, and usage
// reports. It never writes; dashboard reads are fully independent of the
// sampling path.
package report

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/blikh/wg-traffic-panel/internal/store"
)

// ErrInvalidRange is returned for start > end, non-positive bucket
// widths, or negative windows. Rejected synchronously; no partial result.
var ErrInvalidRange = errors.New("report: invalid range")

// Engine executes read-side queries.
type Engine struct {
	store *store.Store
}

// New creates a report engine over st.
func New(st *store.Store) *Engine {
	return &Engine{store: st}
}

// Series returns the bucketed chart series for source over [start, end).
// Buckets with no data are omitted; the caller fills gaps for display.
func (e *Engine) Series(source store.Source, start, end, width int64) ([]store.SeriesPoint, error) {
	if start > end {
		return nil, fmt.Errorf("%w: start %d after end %d", ErrInvalidRange, start, end)
	}
	if width <= 0 {
		return nil, fmt.Errorf("%w: bucket width %d", ErrInvalidRange, width)
	}
	return e.store.QueryBuckets(source, start, end, width)
}

// Totals returns one identity's summed traffic for source over [start, end).
func (e *Engine) Totals(source store.Source, identity string, start, end int64) (store.IdentityTotals, error) {
	if start > end {
		return store.IdentityTotals{}, fmt.Errorf("%w: start %d after end %d", ErrInvalidRange, start, end)
	}
	up, down, err := e.store.Totals(source, identity, start, end)
	if err != nil {
		return store.IdentityTotals{}, err
	}
	return store.IdentityTotals{Identity: identity, Up: up, Down: down}, nil
}

// TopConsumers returns the n identities with the most combined traffic
// for source over [start, end), descending by total bytes. Ties break by
// identity name ascending.
func (e *Engine) TopConsumers(source store.Source, start, end int64, n int) ([]store.IdentityTotals, error) {
	if start > end {
		return nil, fmt.Errorf("%w: start %d after end %d", ErrInvalidRange, start, end)
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: top count %d", ErrInvalidRange, n)
	}

	totals, err := e.store.TotalsByIdentity(source, start, end)
	if err != nil {
		return nil, err
	}
	sortByTotalDesc(totals)
	if len(totals) > n {
		totals = totals[:n]
	}
	return totals, nil
}

// ActiveIdentities returns the identities whose combined traffic over the
// trailing window meets threshold bytes.
func (e *Engine) ActiveIdentities(source store.Source, window time.Duration, threshold int64) ([]store.IdentityTotals, error) {
	return e.activeAt(source, time.Now(), window, threshold)
}

func (e *Engine) activeAt(source store.Source, now time.Time, window time.Duration, threshold int64) ([]store.IdentityTotals, error) {
	if window <= 0 {
		return nil, fmt.Errorf("%w: window %s", ErrInvalidRange, window)
	}

	end := now.Unix() + 1 // include the current second
	start := now.Add(-window).Unix()
	totals, err := e.store.TotalsByIdentity(source, start, end)
	if err != nil {
		return nil, err
	}

	active := totals[:0]
	for _, t := range totals {
		if t.Total() >= threshold {
			active = append(active, t)
		}
	}
	sortByTotalDesc(active)
	return active, nil
}

// UsageRow is one identity's line in a usage report.
type UsageRow struct {
	Identity string `json:"identity"`
	Up       int64  `json:"up"`
	Down     int64  `json:"down"`
	Total    int64  `json:"total"`
	Exceeded bool   `json:"exceeded"`
}

// UsageReport returns per-identity totals across all sources over
// [start, end). limitBytes, when positive, is an ad-hoc report-scoped
// limit: rows over it are flagged exceeded. It is unrelated to the
// identity's persistent quota. Compacted traffic is included via the
// daily buckets so long windows survive aggregation.
func (e *Engine) UsageReport(start, end, limitBytes int64) ([]UsageRow, error) {
	if start > end {
		return nil, fmt.Errorf("%w: start %d after end %d", ErrInvalidRange, start, end)
	}

	sampleTotals, err := e.store.TotalsAllSources(start, end)
	if err != nil {
		return nil, err
	}
	bucketTotals, err := e.store.BucketTotalsByIdentity(start, end)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]store.IdentityTotals)
	for _, t := range append(sampleTotals, bucketTotals...) {
		m := merged[t.Identity]
		m.Identity = t.Identity
		m.Up += t.Up
		m.Down += t.Down
		merged[t.Identity] = m
	}

	rows := make([]UsageRow, 0, len(merged))
	for _, t := range merged {
		rows = append(rows, UsageRow{
			Identity: t.Identity,
			Up:       t.Up,
			Down:     t.Down,
			Total:    t.Total(),
			Exceeded: limitBytes > 0 && t.Total() > limitBytes,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Total != rows[j].Total {
			return rows[i].Total > rows[j].Total
		}
		return rows[i].Identity < rows[j].Identity
	})
	return rows, nil
}

func sortByTotalDesc(totals []store.IdentityTotals) {
	sort.Slice(totals, func(i, j int) bool {
		if totals[i].Total() != totals[j].Total() {
			return totals[i].Total() > totals[j].Total()
		}
		return totals[i].Identity < totals[j].Identity
	})
}
