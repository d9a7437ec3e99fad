// Package models is a static catalogue of well-known model metadata: context
// windows and prices. It exists so the engine can price usage reports and
// derive compaction thresholds without asking the provider.
//
//	info := models.Lookup("claude-sonnet-4-5-20251219")
//	if info != nil {
//	    fmt.Println(info.ContextWindow) // 200000
//	}
package models

import "strings"

// ModelInfo holds static metadata for a known model.
type ModelInfo struct {
	// ID is the canonical model identifier.
	ID string

	// Provider is the canonical provider name ("anthropic", "openai", "bedrock").
	Provider string

	// ContextWindow is the maximum number of input tokens.
	ContextWindow int

	// MaxOutputTokens is the per-response generation ceiling.
	MaxOutputTokens int

	// InputCostPer1M and OutputCostPer1M are USD per million tokens.
	InputCostPer1M  float64
	OutputCostPer1M float64

	// CachedDiscount is the fraction of the input price charged for a
	// cached input token (0.1 = 90% off). Zero means caching is unpriced
	// and cached tokens are billed at the full input rate.
	CachedDiscount float64
}

// Cost converts token counts to USD. input excludes cached tokens.
func (m *ModelInfo) Cost(input, output, cached int) float64 {
	perTok := func(n int, per1M float64) float64 { return float64(n) * per1M / 1e6 }
	cachedRate := m.InputCostPer1M
	if m.CachedDiscount > 0 {
		cachedRate = m.InputCostPer1M * m.CachedDiscount
	}
	return perTok(input, m.InputCostPer1M) + perTok(output, m.OutputCostPer1M) + perTok(cached, cachedRate)
}

// registry holds all known models indexed by canonical ID.
var registry = buildRegistry()

// Lookup returns the ModelInfo for id: exact match first, then prefix match
// in either direction, so a versioned id like "claude-sonnet-4-5-20251219"
// resolves against the "claude-sonnet-4-5" entry. Returns nil if unknown.
func Lookup(id string) *ModelInfo {
	if m, ok := registry[id]; ok {
		return m
	}
	id = strings.ToLower(id)
	// Bedrock ids carry regional prefixes like "us.anthropic.".
	if i := strings.LastIndex(id, "."); i >= 0 {
		if m, ok := registry[id[i+1:]]; ok {
			return m
		}
	}
	for k, m := range registry {
		kl := strings.ToLower(k)
		if strings.HasPrefix(id, kl) || strings.HasPrefix(kl, id) {
			return m
		}
	}
	return nil
}

// ContextWindowFor returns the context window for id, or 0 if unknown.
func ContextWindowFor(id string) int {
	if m := Lookup(id); m != nil {
		return m.ContextWindow
	}
	return 0
}

// All returns every registered ModelInfo, unsorted.
func All() []*ModelInfo {
	out := make([]*ModelInfo, 0, len(registry))
	for _, m := range registry {
		out = append(out, m)
	}
	return out
}

func reg(m ModelInfo) *ModelInfo { return &m }

func buildRegistry() map[string]*ModelInfo {
	ms := []*ModelInfo{
		// Anthropic
		reg(ModelInfo{
			ID: "claude-opus-4-5", Provider: "anthropic",
			ContextWindow: 200000, MaxOutputTokens: 32000,
			InputCostPer1M: 15, OutputCostPer1M: 75, CachedDiscount: 0.1,
		}),
		reg(ModelInfo{
			ID: "claude-sonnet-4-5", Provider: "anthropic",
			ContextWindow: 200000, MaxOutputTokens: 64000,
			InputCostPer1M: 3, OutputCostPer1M: 15, CachedDiscount: 0.1,
		}),
		reg(ModelInfo{
			ID: "claude-haiku-4-5", Provider: "anthropic",
			ContextWindow: 200000, MaxOutputTokens: 64000,
			InputCostPer1M: 1, OutputCostPer1M: 5, CachedDiscount: 0.1,
		}),

		// OpenAI
		reg(ModelInfo{
			ID: "gpt-5.1", Provider: "openai",
			ContextWindow: 400000, MaxOutputTokens: 128000,
			InputCostPer1M: 1.25, OutputCostPer1M: 10, CachedDiscount: 0.1,
		}),
		reg(ModelInfo{
			ID: "gpt-5-mini", Provider: "openai",
			ContextWindow: 400000, MaxOutputTokens: 128000,
			InputCostPer1M: 0.25, OutputCostPer1M: 2, CachedDiscount: 0.1,
		}),
		reg(ModelInfo{
			ID: "gpt-4o", Provider: "openai",
			ContextWindow: 128000, MaxOutputTokens: 16384,
			InputCostPer1M: 2.5, OutputCostPer1M: 10, CachedDiscount: 0.5,
		}),
		reg(ModelInfo{
			ID: "gpt-4o-mini", Provider: "openai",
			ContextWindow: 128000, MaxOutputTokens: 16384,
			InputCostPer1M: 0.15, OutputCostPer1M: 0.6, CachedDiscount: 0.5,
		}),

		// Bedrock-hosted Anthropic ids resolve via the suffix rule in
		// Lookup; these entries cover the bare form.
		reg(ModelInfo{
			ID: "anthropic.claude-sonnet-4-5", Provider: "bedrock",
			ContextWindow: 200000, MaxOutputTokens: 64000,
			InputCostPer1M: 3, OutputCostPer1M: 15, CachedDiscount: 0.1,
		}),
		reg(ModelInfo{
			ID: "anthropic.claude-haiku-4-5", Provider: "bedrock",
			ContextWindow: 200000, MaxOutputTokens: 64000,
			InputCostPer1M: 1, OutputCostPer1M: 5, CachedDiscount: 0.1,
		}),
	}

	out := make(map[string]*ModelInfo, len(ms))
	for _, m := range ms {
		out[m.ID] = m
	}
	return out
}
