package llm

import (
	"sort"
	"strings"
	"sync"
)

// Price is the cost of a model in USD per million tokens.
type Price struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// DefaultPrice is Claude Sonnet pricing: $3/1M input, $15/1M output.
var DefaultPrice = Price{InputPerMillion: 3.0, OutputPerMillion: 15.0}

// AgentUsage is the accumulated usage of one agent.
type AgentUsage struct {
	Agent        string  `json:"agent"`
	Calls        int     `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Accountant tracks token usage per agent. One accountant is shared by every
// agent of a run and passed to them explicitly.
type Accountant struct {
	mu       sync.Mutex
	usage    map[string]*AgentUsage
	prices   map[string]Price // Keyed by model name prefix
	fallback Price
}

// NewAccountant creates an accountant. prices maps model name prefixes to
// prices; models without a match are charged at fallback.
func NewAccountant(prices map[string]Price, fallback Price) *Accountant {
	return &Accountant{
		usage:    make(map[string]*AgentUsage),
		prices:   prices,
		fallback: fallback,
	}
}

func (a *Accountant) price(model string) Price {
	best, bestLen := a.fallback, -1
	for prefix, p := range a.prices {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = p, len(prefix)
		}
	}
	return best
}

// Record adds the usage of one reply to agent.
func (a *Accountant) Record(agent string, reply Reply) {
	if agent == "" {
		agent = "unknown"
	}
	p := a.price(reply.Model)
	cost := float64(reply.InputTokens)/1_000_000*p.InputPerMillion +
		float64(reply.OutputTokens)/1_000_000*p.OutputPerMillion

	a.mu.Lock()
	defer a.mu.Unlock()

	u, ok := a.usage[agent]
	if !ok {
		u = &AgentUsage{Agent: agent}
		a.usage[agent] = u
	}
	u.Calls++
	u.InputTokens += reply.InputTokens
	u.OutputTokens += reply.OutputTokens
	u.CostUSD += cost
}

// Snapshot returns per-agent usage sorted by agent name.
func (a *Accountant) Snapshot() []AgentUsage {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]AgentUsage, 0, len(a.usage))
	for _, u := range a.usage {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Agent < out[j].Agent })
	return out
}

// Total returns the usage summed over all agents.
func (a *Accountant) Total() AgentUsage {
	total := AgentUsage{Agent: "total"}
	for _, u := range a.Snapshot() {
		total.Calls += u.Calls
		total.InputTokens += u.InputTokens
		total.OutputTokens += u.OutputTokens
		total.CostUSD += u.CostUSD
	}
	return total
}
