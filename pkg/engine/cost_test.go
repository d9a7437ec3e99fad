package engine

import (
	"math"
	"testing"

	"github.com/tern-dev/tern/pkg/ai"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestCostTrackerKnownModel(t *testing.T) {
	c := NewCostTracker()
	// claude-sonnet-4-5: $3/M input, $15/M output, cached at 10%.
	usd := c.Add("claude-sonnet-4-5", ai.Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000, CachedTokens: 1_000_000})
	want := 3.0 + 15.0 + 0.3
	if !approx(usd, want) {
		t.Errorf("usd = %v, want %v", usd, want)
	}
	total, by := c.Totals()
	if !approx(total.USD, want) || total.InputTokens != 1_000_000 {
		t.Errorf("totals: %+v", total)
	}
	if len(by) != 1 || !approx(by["claude-sonnet-4-5"].USD, want) {
		t.Errorf("by model: %+v", by)
	}
}

func TestCostTrackerUnknownModel(t *testing.T) {
	c := NewCostTracker()
	if usd := c.Add("not-a-model", ai.Usage{InputTokens: 100}); usd != 0 {
		t.Errorf("unknown model priced: %v", usd)
	}
	total, _ := c.Totals()
	if total.InputTokens != 100 || total.USD != 0 {
		t.Errorf("tokens should accumulate at zero cost: %+v", total)
	}
}

func TestTurnDelta(t *testing.T) {
	c := NewCostTracker()
	c.Add("claude-sonnet-4-5", ai.Usage{InputTokens: 500})
	c.BeginTurn()
	c.Add("claude-sonnet-4-5", ai.Usage{InputTokens: 200, OutputTokens: 50})
	d := c.TurnDelta()
	if d.InputTokens != 200 || d.OutputTokens != 50 {
		t.Errorf("delta: %+v", d)
	}
	total, _ := c.Totals()
	if total.InputTokens != 700 {
		t.Errorf("total: %+v", total)
	}
}
