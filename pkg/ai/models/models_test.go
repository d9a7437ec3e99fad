package models

import (
	"math"
	"testing"
)

func TestLookupExact(t *testing.T) {
	m := Lookup("claude-sonnet-4-5")
	if m == nil {
		t.Fatal("expected a hit")
	}
	if m.Provider != "anthropic" || m.ContextWindow != 200000 {
		t.Errorf("unexpected info: %+v", m)
	}
}

func TestLookupVersionedID(t *testing.T) {
	m := Lookup("claude-sonnet-4-5-20251219")
	if m == nil {
		t.Fatal("versioned id should resolve by prefix")
	}
	if m.ID != "claude-sonnet-4-5" {
		t.Errorf("resolved %q", m.ID)
	}
}

func TestLookupBedrockRegionalPrefix(t *testing.T) {
	m := Lookup("us.anthropic.claude-sonnet-4-5")
	if m == nil {
		t.Fatal("regional bedrock id should resolve")
	}
	if m.Provider != "bedrock" && m.Provider != "anthropic" {
		t.Errorf("provider = %q", m.Provider)
	}
}

func TestLookupUnknown(t *testing.T) {
	if m := Lookup("not-a-model"); m != nil {
		t.Errorf("expected nil, got %+v", m)
	}
	if w := ContextWindowFor("not-a-model"); w != 0 {
		t.Errorf("ContextWindowFor = %d, want 0", w)
	}
}

func TestCost(t *testing.T) {
	m := Lookup("claude-sonnet-4-5")
	// 1M input + 1M output + 1M cached at a 0.1 discount.
	got := m.Cost(1_000_000, 1_000_000, 1_000_000)
	want := 3.0 + 15.0 + 0.3
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Cost = %v, want %v", got, want)
	}
}

func TestCostNoDiscountBillsFullRate(t *testing.T) {
	m := &ModelInfo{InputCostPer1M: 2, OutputCostPer1M: 4}
	got := m.Cost(0, 0, 1_000_000)
	if math.Abs(got-2.0) > 1e-9 {
		t.Errorf("Cost = %v, want 2", got)
	}
}
