package engine

import (
	"sync"

	"github.com/tern-dev/tern/pkg/ai"
	"github.com/tern-dev/tern/pkg/ai/models"
)

// ModelCost is the accumulated spend for one model (or the grand total).
type ModelCost struct {
	InputTokens  int
	OutputTokens int
	CachedTokens int
	USD          float64
}

func (m *ModelCost) add(u ai.Usage, usd float64) {
	m.InputTokens += u.InputTokens
	m.OutputTokens += u.OutputTokens
	m.CachedTokens += u.CachedTokens
	m.USD += usd
}

func (m ModelCost) sub(o ModelCost) ModelCost {
	return ModelCost{
		InputTokens:  m.InputTokens - o.InputTokens,
		OutputTokens: m.OutputTokens - o.OutputTokens,
		CachedTokens: m.CachedTokens - o.CachedTokens,
		USD:          m.USD - o.USD,
	}
}

// CostTracker accumulates token usage per model and converts it to USD via
// the static price table in pkg/ai/models. Written by the turn driver, read
// by anyone after done; a mutex covers both.
type CostTracker struct {
	mu        sync.Mutex
	byModel   map[string]*ModelCost
	total     ModelCost
	turnStart ModelCost
}

func NewCostTracker() *CostTracker {
	return &CostTracker{byModel: map[string]*ModelCost{}}
}

// Add records usage for model and returns the USD value of this addition.
// Unknown models accumulate tokens at zero cost.
func (c *CostTracker) Add(model string, u ai.Usage) float64 {
	var usd float64
	if info := models.Lookup(model); info != nil {
		usd = info.Cost(u.InputTokens, u.OutputTokens, u.CachedTokens)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	mc := c.byModel[model]
	if mc == nil {
		mc = &ModelCost{}
		c.byModel[model] = mc
	}
	mc.add(u, usd)
	c.total.add(u, usd)
	return usd
}

// BeginTurn marks the current total as the baseline for TurnDelta.
func (c *CostTracker) BeginTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turnStart = c.total
}

// TurnDelta returns the spend since the last BeginTurn.
func (c *CostTracker) TurnDelta() ModelCost {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total.sub(c.turnStart)
}

// Totals returns the session total and a copy of the per-model breakdown.
func (c *CostTracker) Totals() (ModelCost, map[string]ModelCost) {
	c.mu.Lock()
	defer c.mu.Unlock()
	by := make(map[string]ModelCost, len(c.byModel))
	for k, v := range c.byModel {
		by[k] = *v
	}
	return c.total, by
}
