package oracle

import (
	"errors"
	"testing"

	"github.com/lexbook/lexipipe/internal/resilience"
)

func TestTokenUsage_Add(t *testing.T) {
	u := TokenUsage{InputTokens: 100, OutputTokens: 50}
	u.Add(TokenUsage{InputTokens: 10, OutputTokens: 5})
	if u.InputTokens != 110 || u.OutputTokens != 55 {
		t.Errorf("unexpected usage after add: %+v", u)
	}
}

func TestEstimateCost_KnownModel(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	got := u.EstimateCost("claude-haiku-4-5-20251001")
	want := 0.80 + 4.00
	if got != want {
		t.Errorf("expected %.2f, got %.2f", want, got)
	}
}

func TestEstimateCost_UnknownModel(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000}
	if got := u.EstimateCost("some-future-model"); got != 0 {
		t.Errorf("expected 0 for unknown model, got %f", got)
	}
}

func TestClassify_PlainError(t *testing.T) {
	err := classify(errors.New("dial tcp: connection refused"))
	var rle *resilience.RateLimitError
	if errors.As(err, &rle) {
		t.Error("plain errors must not be tagged as rate limits here")
	}
	// The network heuristics still pick it up at the policy layer.
	if !resilience.IsRetryable(err) {
		t.Error("connection refused should be retryable via heuristics")
	}
}
