package resilience

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsRateLimit_ExplicitWrap(t *testing.T) {
	err := NewRateLimitError(errors.New("slow down"), 429, 0)
	if !IsRateLimit(err) {
		t.Error("RateLimitError should be rate-limit-class")
	}
	wrapped := fmt.Errorf("extraction: %w", err)
	if !IsRateLimit(wrapped) {
		t.Error("wrapped RateLimitError should be rate-limit-class")
	}
}

func TestIsRateLimit_Transient429(t *testing.T) {
	if !IsRateLimit(NewTransientError(errors.New("busy"), 429)) {
		t.Error("429 TransientError should be rate-limit-class")
	}
	if IsRateLimit(NewTransientError(errors.New("boom"), 500)) {
		t.Error("500 TransientError is transient but not rate-limit-class")
	}
}

func TestIsRateLimit_MessagePatterns(t *testing.T) {
	cases := []string{
		"anthropic: rate limit exceeded",
		"HTTP 429 Too Many Requests",
		"api error: overloaded_error",
		"REQUEST_LIMIT_EXCEEDED: TotalRequests Limit exceeded",
	}
	for _, msg := range cases {
		if !IsRateLimit(errors.New(msg)) {
			t.Errorf("expected %q to classify as rate limit", msg)
		}
	}
	if IsRateLimit(errors.New("field Email is required")) {
		t.Error("validation message must not classify as rate limit")
	}
	if IsRateLimit(nil) {
		t.Error("nil is not rate limit")
	}
}

func TestRetryAfterHint(t *testing.T) {
	err := fmt.Errorf("call: %w", NewRateLimitError(errors.New("429"), 429, 5*time.Second))
	if got := RetryAfterHint(err); got != 5*time.Second {
		t.Errorf("expected 5s hint, got %v", got)
	}
	if got := RetryAfterHint(errors.New("plain")); got != 0 {
		t.Errorf("expected zero hint, got %v", got)
	}
}

func TestIsTransient_CoversRateLimit(t *testing.T) {
	if !IsTransient(NewRateLimitError(errors.New("429"), 429, 0)) {
		t.Error("rate limit errors are transient")
	}
	if !IsTransient(NewTransientError(errors.New("boom"), 503)) {
		t.Error("TransientError is transient")
	}
	if IsTransient(errors.New("record rejected: bad email")) {
		t.Error("business rejection is not transient")
	}
	if IsTransient(nil) {
		t.Error("nil is not transient")
	}
}

func TestIsTransient_NetworkPatterns(t *testing.T) {
	for _, msg := range []string{
		"read tcp: connection reset by peer",
		"dial tcp: i/o timeout",
		"Post \"https://x\": tls handshake timeout",
	} {
		if !IsTransient(errors.New(msg)) {
			t.Errorf("expected %q to be transient", msg)
		}
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("%d should be transient", code)
		}
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("%d should not be transient", code)
		}
	}
}
