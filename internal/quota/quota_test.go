package quota

import (
	"errors"
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		limit   Limit
		wantErr bool
	}{
		{"monthly ok", Limit{LimitBytes: 100, Period: PeriodMonthly, ResetDay: 1}, false},
		{"monthly day 31", Limit{LimitBytes: 100, Period: PeriodMonthly, ResetDay: 31}, false},
		{"total ok", Limit{LimitBytes: 100, Period: PeriodTotal}, false},
		{"unlimited", Limit{LimitBytes: 0, Period: PeriodTotal}, false},
		{"reset day zero", Limit{LimitBytes: 100, Period: PeriodMonthly, ResetDay: 0}, true},
		{"reset day 32", Limit{LimitBytes: 100, Period: PeriodMonthly, ResetDay: 32}, true},
		{"bad period", Limit{LimitBytes: 100, Period: "weekly", ResetDay: 1}, true},
		{"negative limit", Limit{LimitBytes: -1, Period: PeriodTotal}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.limit.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("error %v should wrap ErrInvalidConfig", err)
			}
		})
	}
}

func TestNewStateMonthlyPeriodStart(t *testing.T) {
	now := time.Date(2026, time.March, 20, 15, 0, 0, 0, time.UTC)
	s := NewState("alice", Limit{LimitBytes: 100, Period: PeriodMonthly, ResetDay: 10}, now)
	if got, want := s.PeriodStart, date(2026, time.March, 10).Unix(); got != want {
		t.Fatalf("PeriodStart = %d, want %d", got, want)
	}

	// Before the reset day the period started in the previous month.
	now = time.Date(2026, time.March, 5, 0, 0, 0, 0, time.UTC)
	s = NewState("alice", Limit{LimitBytes: 100, Period: PeriodMonthly, ResetDay: 10}, now)
	if got, want := s.PeriodStart, date(2026, time.February, 10).Unix(); got != want {
		t.Fatalf("PeriodStart = %d, want %d", got, want)
	}
}

func TestAdvanceMonthlyRollover(t *testing.T) {
	start := time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC)
	s := NewState("alice", Limit{LimitBytes: 1 << 30, Period: PeriodMonthly, ResetDay: 1}, start)
	s = Apply(s, 500, 700)

	// Still inside January: nothing rolls.
	s = Advance(s, time.Date(2026, time.January, 31, 23, 59, 59, 0, time.UTC))
	if s.ConsumedBytes != 1200 {
		t.Fatalf("ConsumedBytes = %d, want 1200 before rollover", s.ConsumedBytes)
	}

	// First tick of February restarts the period.
	s = Advance(s, time.Date(2026, time.February, 1, 0, 0, 1, 0, time.UTC))
	if s.ConsumedBytes != 0 {
		t.Fatalf("ConsumedBytes = %d, want 0 after rollover", s.ConsumedBytes)
	}
	if got, want := s.PeriodStart, date(2026, time.February, 1).Unix(); got != want {
		t.Fatalf("PeriodStart = %d, want %d", got, want)
	}
}

func TestAdvanceSkipsMissedPeriods(t *testing.T) {
	// Process down from mid-January to mid-April: the state lands directly
	// in the April period with zero consumption.
	start := time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC)
	s := NewState("alice", Limit{LimitBytes: 100, Period: PeriodMonthly, ResetDay: 1}, start)
	s = Apply(s, 50, 50)

	s = Advance(s, time.Date(2026, time.April, 20, 0, 0, 0, 0, time.UTC))
	if s.ConsumedBytes != 0 {
		t.Fatalf("ConsumedBytes = %d, want 0", s.ConsumedBytes)
	}
	if got, want := s.PeriodStart, date(2026, time.April, 1).Unix(); got != want {
		t.Fatalf("PeriodStart = %d, want %d", got, want)
	}
}

func TestAdvanceTotalNeverRolls(t *testing.T) {
	start := time.Date(2020, time.June, 1, 0, 0, 0, 0, time.UTC)
	s := NewState("bob", Limit{LimitBytes: 1000, Period: PeriodTotal}, start)
	s = Apply(s, 300, 200)

	s = Advance(s, start.AddDate(5, 0, 0))
	if s.ConsumedBytes != 500 {
		t.Fatalf("ConsumedBytes = %d, want 500", s.ConsumedBytes)
	}
}

func TestResetDayClampsToShortMonth(t *testing.T) {
	// reset_day 31 in February lands on the 28th (2026 is not a leap year).
	now := time.Date(2026, time.February, 28, 12, 0, 0, 0, time.UTC)
	s := NewState("alice", Limit{LimitBytes: 100, Period: PeriodMonthly, ResetDay: 31}, now)
	if got, want := s.PeriodStart, date(2026, time.February, 28).Unix(); got != want {
		t.Fatalf("PeriodStart = %d, want %d", got, want)
	}

	// Day 27 of February is still in the January-31 period.
	now = time.Date(2026, time.February, 27, 12, 0, 0, 0, time.UTC)
	s = NewState("alice", Limit{LimitBytes: 100, Period: PeriodMonthly, ResetDay: 31}, now)
	if got, want := s.PeriodStart, date(2026, time.January, 31).Unix(); got != want {
		t.Fatalf("PeriodStart = %d, want %d", got, want)
	}

	// Leap year February clamps to the 29th.
	now = time.Date(2028, time.February, 29, 12, 0, 0, 0, time.UTC)
	s = NewState("alice", Limit{LimitBytes: 100, Period: PeriodMonthly, ResetDay: 31}, now)
	if got, want := s.PeriodStart, date(2028, time.February, 29).Unix(); got != want {
		t.Fatalf("PeriodStart = %d, want %d", got, want)
	}
}

func TestExceeded(t *testing.T) {
	s := State{LimitBytes: 1000, ConsumedBytes: 1000}
	if Exceeded(s) {
		t.Fatal("consumption equal to the limit should not exceed it")
	}
	s.ConsumedBytes = 1001
	if !Exceeded(s) {
		t.Fatal("consumption over the limit should exceed it")
	}

	// Zero limit means unlimited.
	s = State{LimitBytes: 0, ConsumedBytes: 1 << 50}
	if Exceeded(s) {
		t.Fatal("zero limit should never exceed")
	}
}

func TestApplyAccumulates(t *testing.T) {
	var s State
	for i := 0; i < 10; i++ {
		s = Apply(s, 7, 3)
	}
	if s.ConsumedBytes != 100 {
		t.Fatalf("ConsumedBytes = %d, want 100", s.ConsumedBytes)
	}
}
