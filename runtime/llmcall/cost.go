package llmcall

import "github.com/agentexec/core/runtime/agent/model"

// Rate is a per-model per-token-class pricing row, expressed in USD per
// token (providers publish per-million-token prices; callers construct
// Rate by dividing by 1e6 once at table-build time).
type Rate struct {
	InputPerToken      float64
	OutputPerToken     float64
	CacheReadPerToken  float64
	CacheWritePerToken float64
}

// CostTable maps a model id to its Rate. model.Response carries only
// TokenUsage, never a cost, so the LLM Call Activity is the one place that
// turns usage into the `cost` field §4.4's output contract requires.
type CostTable map[string]Rate

// Cost computes the USD cost of usage for modelID. Unknown models cost
// zero rather than erroring, since an LLM call that already succeeded must
// not be retroactively failed by a missing price entry.
func (t CostTable) Cost(modelID string, usage model.TokenUsage) float64 {
	rate, ok := t[modelID]
	if !ok {
		return 0
	}
	return float64(usage.InputTokens)*rate.InputPerToken +
		float64(usage.OutputTokens)*rate.OutputPerToken +
		float64(usage.CacheReadTokens)*rate.CacheReadPerToken +
		float64(usage.CacheWriteTokens)*rate.CacheWritePerToken
}

// DefaultCostTable seeds published per-token pricing (USD, as of this
// writing) for the three wired provider backends. Deployments override
// entries via configuration; this table is plain data, not a dependency.
func DefaultCostTable() CostTable {
	return CostTable{
		"claude-sonnet-4": {
			InputPerToken:      3.0 / 1_000_000,
			OutputPerToken:     15.0 / 1_000_000,
			CacheReadPerToken:  0.3 / 1_000_000,
			CacheWritePerToken: 3.75 / 1_000_000,
		},
		"claude-haiku-4": {
			InputPerToken:  0.8 / 1_000_000,
			OutputPerToken: 4.0 / 1_000_000,
		},
		"gpt-4o": {
			InputPerToken:  2.5 / 1_000_000,
			OutputPerToken: 10.0 / 1_000_000,
		},
		"gpt-4o-mini": {
			InputPerToken:  0.15 / 1_000_000,
			OutputPerToken: 0.6 / 1_000_000,
		},
		"bedrock-titan-text-express": {
			InputPerToken:  0.2 / 1_000_000,
			OutputPerToken: 0.6 / 1_000_000,
		},
	}
}
