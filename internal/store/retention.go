package store

import (
	"fmt"
)

const daySeconds = 86400

// DeleteBefore removes all samples with ts < cutoff and returns the count
// deleted.
func (s *Store) DeleteBefore(cutoff int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM samples WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: delete samples before %d: %w", cutoff, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: delete samples rows affected: %w", err)
	}
	return n, nil
}

// DeleteBucketsBefore removes daily buckets whose day < cutoff and returns
// the count deleted.
func (s *Store) DeleteBucketsBefore(cutoff int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM daily_buckets WHERE day < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: delete buckets before %d: %w", cutoff, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: delete buckets rows affected: %w", err)
	}
	return n, nil
}

// AggregateBefore compacts samples older than cutoff into daily buckets,
// one transaction per day so a crash mid-aggregation leaves every day
// either fully in samples or fully in its bucket, never both. Only days
// that lie entirely before cutoff are compacted. Returns the number of
// days compacted.
func (s *Store) AggregateBefore(cutoff int64) (int, error) {
	cutoffDay := (cutoff / daySeconds) * daySeconds

	days, err := s.aggregationDays(cutoffDay)
	if err != nil {
		return 0, err
	}

	for _, day := range days {
		if err := s.aggregateDay(day); err != nil {
			return 0, err
		}
	}
	return len(days), nil
}

func (s *Store) aggregationDays(cutoffDay int64) ([]int64, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT (ts / ?) * ? AS day FROM samples WHERE ts < ? ORDER BY day`,
		int64(daySeconds), int64(daySeconds), cutoffDay)
	if err != nil {
		return nil, fmt.Errorf("store: query aggregation days: %w", err)
	}
	defer rows.Close()

	var days []int64
	for rows.Next() {
		var day int64
		if err := rows.Scan(&day); err != nil {
			return nil, fmt.Errorf("store: scan aggregation day: %w", err)
		}
		days = append(days, day)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate aggregation days: %w", err)
	}
	return days, nil
}

// aggregateDay collapses one UTC day of samples into daily_buckets rows
// and deletes the source samples, atomically. The lock is taken per day so
// long compactions do not starve sampling ticks.
func (s *Store) aggregateDay(day int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin aggregate tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO daily_buckets (source, identity, day, up_total, down_total, sample_count)
		 SELECT source, identity, ?, SUM(up_delta), SUM(down_delta), COUNT(*)
		 FROM samples WHERE ts >= ? AND ts < ?
		 GROUP BY source, identity
		 ON CONFLICT(source, identity, day) DO UPDATE SET
		   up_total = up_total + excluded.up_total,
		   down_total = down_total + excluded.down_total,
		   sample_count = sample_count + excluded.sample_count`,
		day, day, day+daySeconds,
	); err != nil {
		return fmt.Errorf("store: aggregate day %d: %w", day, err)
	}

	if _, err := tx.Exec(
		`DELETE FROM samples WHERE ts >= ? AND ts < ?`,
		day, day+daySeconds,
	); err != nil {
		return fmt.Errorf("store: delete aggregated samples for day %d: %w", day, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit aggregate day %d: %w", day, err)
	}
	return nil
}
