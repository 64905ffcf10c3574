package store

import (
	"database/sql"
	"fmt"
	"time"
)

// QueryRange returns raw samples for source within [start, end), ordered
// by timestamp then identity.
func (s *Store) QueryRange(source Source, start, end int64) ([]Sample, error) {
	rows, err := s.db.Query(
		`SELECT identity, ts, up_delta, down_delta, up_raw, down_raw
		 FROM samples WHERE source = ? AND ts >= ? AND ts < ?
		 ORDER BY ts, identity`,
		string(source), start, end)
	if err != nil {
		return nil, fmt.Errorf("store: query range: %w", err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		smp := Sample{Source: source}
		if err := rows.Scan(&smp.Identity, &smp.Timestamp, &smp.UpDelta, &smp.DownDelta, &smp.UpRaw, &smp.DownRaw); err != nil {
			return nil, fmt.Errorf("store: scan sample: %w", err)
		}
		out = append(out, smp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate samples: %w", err)
	}
	return out, nil
}

// QueryBuckets returns samples within [start, end) pre-summed into
// fixed-width buckets. Bucket boundaries are floor(ts/width)*width;
// buckets with no samples are omitted.
func (s *Store) QueryBuckets(source Source, start, end, width int64) ([]SeriesPoint, error) {
	rows, err := s.db.Query(
		`SELECT (ts / ?) * ? AS bucket, SUM(up_delta), SUM(down_delta)
		 FROM samples WHERE source = ? AND ts >= ? AND ts < ?
		 GROUP BY bucket ORDER BY bucket`,
		width, width, string(source), start, end)
	if err != nil {
		return nil, fmt.Errorf("store: query buckets: %w", err)
	}
	defer rows.Close()

	var out []SeriesPoint
	for rows.Next() {
		var p SeriesPoint
		if err := rows.Scan(&p.Bucket, &p.Up, &p.Down); err != nil {
			return nil, fmt.Errorf("store: scan bucket: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate buckets: %w", err)
	}
	return out, nil
}

// Totals sums one identity's deltas for source over [start, end).
func (s *Store) Totals(source Source, identity string, start, end int64) (up, down int64, err error) {
	err = s.db.QueryRow(
		`SELECT COALESCE(SUM(up_delta), 0), COALESCE(SUM(down_delta), 0)
		 FROM samples WHERE source = ? AND identity = ? AND ts >= ? AND ts < ?`,
		string(source), identity, start, end,
	).Scan(&up, &down)
	if err != nil {
		return 0, 0, fmt.Errorf("store: totals %s/%s: %w", source, identity, err)
	}
	return up, down, nil
}

// TotalsByIdentity returns summed deltas per identity for source over
// [start, end), ordered by identity.
func (s *Store) TotalsByIdentity(source Source, start, end int64) ([]IdentityTotals, error) {
	rows, err := s.db.Query(
		`SELECT identity, SUM(up_delta), SUM(down_delta)
		 FROM samples WHERE source = ? AND ts >= ? AND ts < ?
		 GROUP BY identity ORDER BY identity`,
		string(source), start, end)
	if err != nil {
		return nil, fmt.Errorf("store: totals by identity: %w", err)
	}
	return scanTotals(rows)
}

// TotalsAllSources returns summed deltas per identity across all sources
// over [start, end). Identities are unique per source in practice (user
// names vs public keys), so no collision handling is attempted beyond
// summation.
func (s *Store) TotalsAllSources(start, end int64) ([]IdentityTotals, error) {
	rows, err := s.db.Query(
		`SELECT identity, SUM(up_delta), SUM(down_delta)
		 FROM samples WHERE ts >= ? AND ts < ?
		 GROUP BY identity ORDER BY identity`,
		start, end)
	if err != nil {
		return nil, fmt.Errorf("store: totals all sources: %w", err)
	}
	return scanTotals(rows)
}

// BucketTotalsByIdentity returns per-identity totals from the daily
// aggregation buckets whose day falls in [start, end). Used so windowed
// reports still see traffic that has been compacted out of samples.
func (s *Store) BucketTotalsByIdentity(start, end int64) ([]IdentityTotals, error) {
	rows, err := s.db.Query(
		`SELECT identity, SUM(up_total), SUM(down_total)
		 FROM daily_buckets WHERE day >= ? AND day < ?
		 GROUP BY identity ORDER BY identity`,
		start, end)
	if err != nil {
		return nil, fmt.Errorf("store: bucket totals: %w", err)
	}
	return scanTotals(rows)
}

func scanTotals(rows *sql.Rows) ([]IdentityTotals, error) {
	defer rows.Close()
	var out []IdentityTotals
	for rows.Next() {
		var t IdentityTotals
		if err := rows.Scan(&t.Identity, &t.Up, &t.Down); err != nil {
			return nil, fmt.Errorf("store: scan totals: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate totals: %w", err)
	}
	return out, nil
}

// RunHistory returns the most recent run records for source, newest first.
func (s *Store) RunHistory(source Source, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = defaultRunHistory
	}
	rows, err := s.db.Query(
		`SELECT ts, inserted, resets, duration_ms, error
		 FROM sampler_runs WHERE source = ? ORDER BY id DESC LIMIT ?`,
		string(source), limit)
	if err != nil {
		return nil, fmt.Errorf("store: query run history: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		r := RunRecord{Source: source}
		var durationMs int64
		if err := rows.Scan(&r.Timestamp, &r.Inserted, &r.Resets, &durationMs, &r.Error); err != nil {
			return nil, fmt.Errorf("store: scan run record: %w", err)
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate run history: %w", err)
	}
	return out, nil
}

// Buckets returns the daily aggregation buckets for source within
// [start, end), ordered by day then identity.
func (s *Store) Buckets(source Source, start, end int64) ([]DailyBucket, error) {
	rows, err := s.db.Query(
		`SELECT identity, day, up_total, down_total, sample_count
		 FROM daily_buckets WHERE source = ? AND day >= ? AND day < ?
		 ORDER BY day, identity`,
		string(source), start, end)
	if err != nil {
		return nil, fmt.Errorf("store: query daily buckets: %w", err)
	}
	defer rows.Close()

	var out []DailyBucket
	for rows.Next() {
		b := DailyBucket{Source: source}
		if err := rows.Scan(&b.Identity, &b.Day, &b.UpTotal, &b.DownTotal, &b.SampleCount); err != nil {
			return nil, fmt.Errorf("store: scan daily bucket: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate daily buckets: %w", err)
	}
	return out, nil
}
