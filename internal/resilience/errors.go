package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// RateLimitError wraps an oracle failure that is safe to retry: a 429,
// an overloaded signal, or a transport-level hiccup. Everything else is
// permanent for the call and fails only the offending work item.
type RateLimitError struct {
	Err        error
	StatusCode int
}

func (e *RateLimitError) Error() string {
	return e.Err.Error()
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// NewRateLimitError wraps an error as retryable with an optional HTTP
// status code.
func NewRateLimitError(err error, statusCode int) *RateLimitError {
	return &RateLimitError{Err: err, StatusCode: statusCode}
}

// InvalidPayloadError marks a structurally invalid oracle response: the
// call itself succeeded but the payload could not be parsed into the
// required shape. Never retried; distinct from a rate-limit failure.
type InvalidPayloadError struct {
	Err error
}

func (e *InvalidPayloadError) Error() string {
	return e.Err.Error()
}

func (e *InvalidPayloadError) Unwrap() error {
	return e.Err
}

// NewInvalidPayloadError wraps a parse/shape failure.
func NewInvalidPayloadError(err error) *InvalidPayloadError {
	return &InvalidPayloadError{Err: err}
}

// IsInvalidPayload reports whether the error chain contains an
// InvalidPayloadError.
func IsInvalidPayload(err error) bool {
	var ipe *InvalidPayloadError
	return errors.As(err, &ipe)
}

// IsRetryable reports whether the error (or any error in its chain) is
// a RateLimitError, or matches common transient network patterns.
// An InvalidPayloadError is never retryable, even if a rate-limit
// error sits deeper in the chain.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if IsInvalidPayload(err) {
		return false
	}

	var rle *RateLimitError
	if errors.As(err, &rle) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	patterns := []string{
		"rate limit",
		"too many requests",
		"overloaded",
		"connection reset by peer",
		"connection refused",
		"broken pipe",
		"tls handshake timeout",
		"i/o timeout",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsRetryableHTTPStatus reports whether an HTTP status code from the
// oracle indicates a retryable condition.
func IsRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504, // Gateway Timeout
		529: // Anthropic overloaded
		return true
	default:
		return false
	}
}
