package panel

import (
	"testing"

	"github.com/blikh/wg-traffic-panel/internal/config"
	"github.com/blikh/wg-traffic-panel/internal/quota"
)

func TestQuotaLimits(t *testing.T) {
	cfg := &config.Config{
		Quotas: map[string]config.QuotaConfig{
			"alice":     {LimitBytes: 1000, Period: "monthly", ResetDay: 15},
			"bob":       {LimitBytes: 500, Period: "total"},
			"defaults":  {LimitBytes: 100},
			"unlimited": {LimitBytes: 0},
		},
	}

	limits := quotaLimits(cfg)
	if len(limits) != 3 {
		t.Fatalf("got %d limits, want 3 (unlimited skipped)", len(limits))
	}

	if l := limits["alice"]; l.Period != quota.PeriodMonthly || l.ResetDay != 15 {
		t.Fatalf("alice = %+v", l)
	}
	if l := limits["bob"]; l.Period != quota.PeriodTotal || l.ResetDay != 0 {
		t.Fatalf("bob = %+v", l)
	}
	// Omitted period and reset day default to monthly on the 1st.
	if l := limits["defaults"]; l.Period != quota.PeriodMonthly || l.ResetDay != 1 {
		t.Fatalf("defaults = %+v", l)
	}
	if _, ok := limits["unlimited"]; ok {
		t.Fatal("zero-limit quota produced a limit")
	}
}
