// Package quota implements per-identity traffic quota accounting: period
// rollover for monthly limits and monotonic lifetime limits. All functions
// are pure so the store can apply them inside a tick transaction.
package quota

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig marks a malformed quota configuration. The affected
// identity is skipped for quota tracking; sampling continues.
var ErrInvalidConfig = errors.New("quota: invalid config")

type PeriodType string

const (
	// PeriodMonthly resets consumption on a configured day of each month.
	PeriodMonthly PeriodType = "monthly"
	// PeriodTotal never resets; consumption is monotone for the identity's lifetime.
	PeriodTotal PeriodType = "total"
)

// Limit is the configured quota for one identity.
type Limit struct {
	LimitBytes int64
	Period     PeriodType
	ResetDay   int // 1-31, monthly only
}

// Validate checks the limit configuration.
func (l Limit) Validate() error {
	switch l.Period {
	case PeriodMonthly:
		if l.ResetDay < 1 || l.ResetDay > 31 {
			return fmt.Errorf("%w: reset_day %d out of range 1-31", ErrInvalidConfig, l.ResetDay)
		}
	case PeriodTotal:
	default:
		return fmt.Errorf("%w: unknown period %q", ErrInvalidConfig, l.Period)
	}
	if l.LimitBytes < 0 {
		return fmt.Errorf("%w: negative limit_bytes %d", ErrInvalidConfig, l.LimitBytes)
	}
	return nil
}

// State is the persisted quota state for one identity.
type State struct {
	Identity      string
	Period        PeriodType
	ResetDay      int
	LimitBytes    int64
	ConsumedBytes int64
	PeriodStart   int64 // unix seconds
}

// NewState creates the initial state for an identity with limit l.
func NewState(identity string, l Limit, now time.Time) State {
	s := State{
		Identity:   identity,
		Period:     l.Period,
		ResetDay:   l.ResetDay,
		LimitBytes: l.LimitBytes,
	}
	switch l.Period {
	case PeriodMonthly:
		s.PeriodStart = periodStart(now, l.ResetDay).Unix()
	default:
		s.PeriodStart = now.Unix()
	}
	return s
}

// Advance rolls s forward to the period containing now. Monthly states
// whose reset boundary has been crossed since PeriodStart restart at zero
// consumption; total states never roll. If the process was down across
// several boundaries, intermediate periods are discarded and the state
// lands in the current one.
func Advance(s State, now time.Time) State {
	if s.Period != PeriodMonthly {
		return s
	}
	boundary := periodStart(now, s.ResetDay)
	if boundary.Unix() > s.PeriodStart {
		s.ConsumedBytes = 0
		s.PeriodStart = boundary.Unix()
	}
	return s
}

// Apply adds one sampling interval's deltas to the consumed total.
func Apply(s State, up, down int64) State {
	s.ConsumedBytes += up + down
	return s
}

// Exceeded reports whether consumption is over the limit. A limit of 0
// means unlimited.
func Exceeded(s State) bool {
	return s.LimitBytes > 0 && s.ConsumedBytes > s.LimitBytes
}

// periodStart returns the most recent occurrence of resetDay at 00:00 UTC
// that is not after now. A resetDay beyond the month's length clamps to
// the month's last day.
func periodStart(now time.Time, resetDay int) time.Time {
	now = now.UTC()
	y, m, _ := now.Date()
	b := monthBoundary(y, m, resetDay)
	if b.After(now) {
		b = monthBoundary(y, m-1, resetDay)
	}
	return b
}

func monthBoundary(year int, month time.Month, resetDay int) time.Time {
	day := resetDay
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	// Day 0 of the next month normalizes to this month's last day.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
