package resilience

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsRetryable_RateLimitError(t *testing.T) {
	err := NewRateLimitError(errors.New("too many requests"), 429)
	if !IsRetryable(err) {
		t.Error("expected rate-limit error to be retryable")
	}
}

func TestIsRetryable_WrappedRateLimit(t *testing.T) {
	err := fmt.Errorf("oracle: complete: %w", NewRateLimitError(errors.New("429"), 429))
	if !IsRetryable(err) {
		t.Error("expected wrapped rate-limit error to be retryable")
	}
}

func TestIsRetryable_PlainError(t *testing.T) {
	if IsRetryable(errors.New("invalid api key")) {
		t.Error("expected plain error to be permanent")
	}
}

func TestIsRetryable_Nil(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil must not be retryable")
	}
}

func TestIsRetryable_MessagePatterns(t *testing.T) {
	for _, msg := range []string{
		"HTTP 429: rate limit exceeded",
		"api overloaded, slow down",
		"read tcp: i/o timeout",
	} {
		if !IsRetryable(errors.New(msg)) {
			t.Errorf("expected %q to be retryable", msg)
		}
	}
}

func TestIsInvalidPayload(t *testing.T) {
	err := NewInvalidPayloadError(errors.New("unexpected end of JSON input"))
	if !IsInvalidPayload(err) {
		t.Error("expected invalid payload detection")
	}
	if IsRetryable(err) {
		t.Error("invalid payload must never be retryable")
	}
}

func TestIsRetryableHTTPStatus(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504, 529} {
		if !IsRetryableHTTPStatus(code) {
			t.Errorf("expected %d retryable", code)
		}
	}
	for _, code := range []int{200, 400, 401, 404, 422} {
		if IsRetryableHTTPStatus(code) {
			t.Errorf("expected %d permanent", code)
		}
	}
}
