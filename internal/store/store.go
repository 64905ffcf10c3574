// Package store is the embedded SQLite sample store shared by the whole
// accounting engine: the append-only traffic time-series, per-identity
// counter state, daily aggregation buckets, quota state, and the sampler
// run history. All mutations go through a single write path; readers run
// concurrently against the WAL snapshot.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/blikh/wg-traffic-panel/internal/quota"
)

const defaultRunHistory = 50

// Store is a SQLite-backed persistent sample store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// mu serializes all writes; SQLite is not safe for concurrent writers.
	mu sync.Mutex

	runHistory int
}

// Open opens (or creates) the SQLite database at path and initialises the schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	s := &Store{db: db, logger: logger, runHistory: defaultRunHistory}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS samples (
  source TEXT NOT NULL,
  identity TEXT NOT NULL,
  ts INTEGER NOT NULL,
  up_delta INTEGER NOT NULL CHECK (up_delta >= 0),
  down_delta INTEGER NOT NULL CHECK (down_delta >= 0),
  up_raw INTEGER NOT NULL,
  down_raw INTEGER NOT NULL,
  PRIMARY KEY (source, identity, ts)
);
CREATE INDEX IF NOT EXISTS samples_source_ts ON samples (source, ts);

CREATE TABLE IF NOT EXISTS counter_state (
  source TEXT NOT NULL,
  identity TEXT NOT NULL,
  up_raw INTEGER NOT NULL DEFAULT 0,
  down_raw INTEGER NOT NULL DEFAULT 0,
  ts INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (source, identity)
);

CREATE TABLE IF NOT EXISTS daily_buckets (
  source TEXT NOT NULL,
  identity TEXT NOT NULL,
  day INTEGER NOT NULL,
  up_total INTEGER NOT NULL DEFAULT 0,
  down_total INTEGER NOT NULL DEFAULT 0,
  sample_count INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (source, identity, day)
);

CREATE TABLE IF NOT EXISTS quota_state (
  identity TEXT PRIMARY KEY,
  period_type TEXT NOT NULL,
  reset_day INTEGER NOT NULL DEFAULT 0,
  limit_bytes INTEGER NOT NULL DEFAULT 0,
  consumed_bytes INTEGER NOT NULL DEFAULT 0 CHECK (consumed_bytes >= 0),
  period_start INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sampler_runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  source TEXT NOT NULL,
  ts INTEGER NOT NULL,
  inserted INTEGER NOT NULL DEFAULT 0,
  resets INTEGER NOT NULL DEFAULT 0,
  duration_ms INTEGER NOT NULL DEFAULT 0,
  error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS sampler_runs_source_id ON sampler_runs (source, id);`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	return nil
}

// Tick is one sampler execution's worth of writes, committed atomically:
// the samples, the counter state they advance, the quota consumption they
// imply, and the audit record.
type Tick struct {
	Source  Source
	Now     time.Time // clock for quota period rollover; zero means now
	Samples []Sample
	Run     RunRecord
}

// CommitTick writes one tick in a single transaction. Any failure rolls
// back the whole batch; readers never observe a partial tick. Quota rows
// for sampled identities are read, rolled over, and incremented inside
// the same transaction, so a concurrent limit sync is never overwritten
// with stale fields.
func (s *Store) CommitTick(t Tick) error {
	now := t.Now
	if now.IsZero() {
		now = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tick tx: %w", err)
	}
	defer tx.Rollback()

	insSample, err := tx.Prepare(
		`INSERT INTO samples (source, identity, ts, up_delta, down_delta, up_raw, down_raw)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare sample insert: %w", err)
	}
	defer insSample.Close()

	upsState, err := tx.Prepare(
		`INSERT INTO counter_state (source, identity, up_raw, down_raw, ts)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(source, identity) DO UPDATE SET
		   up_raw = excluded.up_raw, down_raw = excluded.down_raw, ts = excluded.ts`)
	if err != nil {
		return fmt.Errorf("store: prepare counter state upsert: %w", err)
	}
	defer upsState.Close()

	for _, smp := range t.Samples {
		if smp.Source != t.Source {
			return fmt.Errorf("store: %s sample for %s in %s tick", smp.Source, smp.Identity, t.Source)
		}
		if smp.UpDelta < 0 || smp.DownDelta < 0 {
			return fmt.Errorf("store: negative delta for %s/%s at %d", smp.Source, smp.Identity, smp.Timestamp)
		}
		if _, err := insSample.Exec(
			string(smp.Source), smp.Identity, smp.Timestamp,
			smp.UpDelta, smp.DownDelta, smp.UpRaw, smp.DownRaw,
		); err != nil {
			return fmt.Errorf("store: insert sample %s/%s: %w", smp.Source, smp.Identity, err)
		}
		if _, err := upsState.Exec(
			string(smp.Source), smp.Identity, smp.UpRaw, smp.DownRaw, smp.Timestamp,
		); err != nil {
			return fmt.Errorf("store: update counter state %s/%s: %w", smp.Source, smp.Identity, err)
		}
	}

	if err := applyQuota(tx, t.Samples, now); err != nil {
		return err
	}

	if err := insertRun(tx, t.Run, s.runHistory); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit tick: %w", err)
	}
	return nil
}

// RecordRun appends a run record outside a tick transaction. Used for
// failed runs, which have no samples to commit.
func (s *Store) RecordRun(r RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin run tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertRun(tx, r, s.runHistory); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit run record: %w", err)
	}
	return nil
}

func insertRun(tx *sql.Tx, r RunRecord, keep int) error {
	if _, err := tx.Exec(
		`INSERT INTO sampler_runs (source, ts, inserted, resets, duration_ms, error)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(r.Source), r.Timestamp, r.Inserted, r.Resets, r.Duration.Milliseconds(), r.Error,
	); err != nil {
		return fmt.Errorf("store: insert run record: %w", err)
	}
	// Bounded history: keep only the most recent rows per source.
	if _, err := tx.Exec(
		`DELETE FROM sampler_runs
		 WHERE source = ? AND id NOT IN (
		   SELECT id FROM sampler_runs WHERE source = ? ORDER BY id DESC LIMIT ?)`,
		string(r.Source), string(r.Source), keep,
	); err != nil {
		return fmt.Errorf("store: trim run history: %w", err)
	}
	return nil
}

// applyQuota folds the tick's deltas into the quota rows of the sampled
// identities. Identities without a row are not tracked.
func applyQuota(tx *sql.Tx, samples []Sample, now time.Time) error {
	for _, smp := range samples {
		var st quota.State
		var period string
		err := tx.QueryRow(
			`SELECT identity, period_type, reset_day, limit_bytes, consumed_bytes, period_start
			 FROM quota_state WHERE identity = ?`, smp.Identity,
		).Scan(&st.Identity, &period, &st.ResetDay, &st.LimitBytes, &st.ConsumedBytes, &st.PeriodStart)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return fmt.Errorf("store: select quota %s: %w", smp.Identity, err)
		}
		st.Period = quota.PeriodType(period)

		st = quota.Advance(st, now)
		st = quota.Apply(st, smp.UpDelta, smp.DownDelta)
		if err := upsertQuota(tx, st); err != nil {
			return err
		}
	}
	return nil
}

func upsertQuota(tx *sql.Tx, q quota.State) error {
	if _, err := tx.Exec(
		`INSERT INTO quota_state (identity, period_type, reset_day, limit_bytes, consumed_bytes, period_start)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(identity) DO UPDATE SET
		   period_type = excluded.period_type,
		   reset_day = excluded.reset_day,
		   limit_bytes = excluded.limit_bytes,
		   consumed_bytes = excluded.consumed_bytes,
		   period_start = excluded.period_start`,
		q.Identity, string(q.Period), q.ResetDay, q.LimitBytes, q.ConsumedBytes, q.PeriodStart,
	); err != nil {
		return fmt.Errorf("store: upsert quota %s: %w", q.Identity, err)
	}
	return nil
}

// LastRaw returns the last observed cumulative counters per identity for
// source, feeding the delta normalizer on the next tick.
func (s *Store) LastRaw(source Source) (map[string]RawCounters, error) {
	rows, err := s.db.Query(
		`SELECT identity, up_raw, down_raw, ts FROM counter_state WHERE source = ?`,
		string(source))
	if err != nil {
		return nil, fmt.Errorf("store: query counter state: %w", err)
	}
	defer rows.Close()

	out := make(map[string]RawCounters)
	for rows.Next() {
		var identity string
		var rc RawCounters
		if err := rows.Scan(&identity, &rc.UpRaw, &rc.DownRaw, &rc.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan counter state: %w", err)
		}
		out[identity] = rc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate counter state: %w", err)
	}
	return out, nil
}

// SyncQuotaLimits projects configured limits into quota_state rows:
// new identities get fresh states, existing rows pick up limit changes
// without losing accumulated consumption. A period type change restarts
// the state, since consumption under one period semantics is meaningless
// under the other. Identities absent from limits keep their rows.
func (s *Store) SyncQuotaLimits(limits map[string]quota.Limit, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin quota sync tx: %w", err)
	}
	defer tx.Rollback()

	identities := make([]string, 0, len(limits))
	for id := range limits {
		identities = append(identities, id)
	}
	sort.Strings(identities)

	for _, id := range identities {
		l := limits[id]
		if err := l.Validate(); err != nil {
			s.logger.Warn("skipping invalid quota config", "identity", id, "err", err)
			continue
		}

		var cur quota.State
		var period string
		err := tx.QueryRow(
			`SELECT period_type, reset_day, limit_bytes, consumed_bytes, period_start
			 FROM quota_state WHERE identity = ?`, id,
		).Scan(&period, &cur.ResetDay, &cur.LimitBytes, &cur.ConsumedBytes, &cur.PeriodStart)
		if err == sql.ErrNoRows {
			if err := upsertQuota(tx, quota.NewState(id, l, now)); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("store: select quota %s: %w", id, err)
		}

		cur.Identity = id
		cur.Period = quota.PeriodType(period)
		if cur.Period != l.Period {
			cur = quota.NewState(id, l, now)
		} else {
			cur.LimitBytes = l.LimitBytes
			cur.ResetDay = l.ResetDay
		}
		if err := upsertQuota(tx, cur); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit quota sync: %w", err)
	}
	return nil
}

// QuotaStates returns all quota states keyed by identity.
func (s *Store) QuotaStates() (map[string]quota.State, error) {
	rows, err := s.db.Query(
		`SELECT identity, period_type, reset_day, limit_bytes, consumed_bytes, period_start
		 FROM quota_state`)
	if err != nil {
		return nil, fmt.Errorf("store: query quota states: %w", err)
	}
	defer rows.Close()

	out := make(map[string]quota.State)
	for rows.Next() {
		var q quota.State
		var period string
		if err := rows.Scan(&q.Identity, &period, &q.ResetDay, &q.LimitBytes, &q.ConsumedBytes, &q.PeriodStart); err != nil {
			return nil, fmt.Errorf("store: scan quota state: %w", err)
		}
		q.Period = quota.PeriodType(period)
		out[q.Identity] = q
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate quota states: %w", err)
	}
	return out, nil
}

// QuotaState returns one identity's quota state, if it has one.
func (s *Store) QuotaState(identity string) (quota.State, bool, error) {
	var q quota.State
	var period string
	err := s.db.QueryRow(
		`SELECT identity, period_type, reset_day, limit_bytes, consumed_bytes, period_start
		 FROM quota_state WHERE identity = ?`, identity,
	).Scan(&q.Identity, &period, &q.ResetDay, &q.LimitBytes, &q.ConsumedBytes, &q.PeriodStart)
	if err == sql.ErrNoRows {
		return quota.State{}, false, nil
	}
	if err != nil {
		return quota.State{}, false, fmt.Errorf("store: select quota %s: %w", identity, err)
	}
	q.Period = quota.PeriodType(period)
	return q, true, nil
}
