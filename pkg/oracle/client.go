// Package oracle wraps the external text-generation service used for
// correction, translation, and annotation. The pipeline treats it as an
// opaque collaborator with a structured-output contract; everything
// here is the transport, not the reasoning.
package oracle

import (
	"context"

	"go.uber.org/zap"
)

// Client is the completion operation the pipeline depends on. A failed
// call surfaces either a resilience.RateLimitError (retryable) or a
// plain error (fatal for the work item).
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Request is a single completion request. The prompt text is assembled
// by the pipeline; System is split out so it can be cached upstream.
type Request struct {
	Model       string
	MaxTokens   int64
	System      string
	Prompt      string
	Temperature *float64
}

// Response is the oracle's reply: the raw text payload plus usage
// accounting. Parsing into the enrichment shape happens in the result
// validator, not here.
type Response struct {
	ID         string
	Model      string
	Text       string
	StopReason string
	Usage      TokenUsage
}

// TokenUsage tracks token consumption for one call.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
}

// Add accumulates usage from another call.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// modelPricing holds per-million-token pricing for known models.
var modelPricing = map[string][2]float64{
	// model: {input $/MTok, output $/MTok}
	"claude-haiku-4-5-20251001":  {0.80, 4.00},
	"claude-sonnet-4-5-20250929": {3.00, 15.00},
}

// EstimateCost computes an estimated cost in USD for a model. Returns 0
// for unknown models.
func (u TokenUsage) EstimateCost(model string) float64 {
	pricing, ok := modelPricing[model]
	if !ok {
		return 0
	}
	inCost := (float64(u.InputTokens) / 1e6) * pricing[0]
	outCost := (float64(u.OutputTokens) / 1e6) * pricing[1]
	return inCost + outCost
}

// LogCost logs token usage and estimated cost with structured fields.
func (u TokenUsage) LogCost(model, phase string) {
	zap.L().Info("oracle cost",
		zap.String("model", model),
		zap.String("phase", phase),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Float64("estimated_cost_usd", u.EstimateCost(model)),
	)
}
