package providers

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func withFastBackoff(t *testing.T) {
	t.Helper()
	orig := backoffBase
	backoffBase = time.Millisecond
	t.Cleanup(func() { backoffBase = orig })
}

func TestNew_UnknownProvider(t *testing.T) {
	if _, err := New("unknown", "model", Options{}); err == nil {
		t.Error("Expected error for unknown provider")
	}
}

func TestNew_Aliases(t *testing.T) {
	tests := []struct {
		provider string
		wantName string
	}{
		{"anthropic", "anthropic"},
		{"openai", "openai"},
		{"gemini", "gemini"},
		{"google", "gemini"},
		{"ollama", "ollama"},
		{"lmstudio", "ollama"},
	}
	for _, tt := range tests {
		r, err := New(tt.provider, "m", Options{APIKey: "k"})
		if err != nil {
			t.Fatalf("New(%q) error: %v", tt.provider, err)
		}
		if r.Name() != tt.wantName || r.Model() != "m" {
			t.Errorf("New(%q) = %s/%s", tt.provider, r.Name(), r.Model())
		}
	}
}

func TestNew_MissingKeyIsAuthError(t *testing.T) {
	for _, p := range []string{"anthropic", "openai", "gemini"} {
		if _, err := New(p, "m", Options{}); !IsAuthError(err) {
			t.Errorf("New(%q) without key: %v, want auth error", p, err)
		}
	}
}

func TestDefaultModel(t *testing.T) {
	if DefaultModel("gemini") != "gemini-1.5-pro-latest" {
		t.Errorf("gemini default = %q", DefaultModel("gemini"))
	}
	if DefaultModel("nope") != "" {
		t.Error("unknown provider should have no default model")
	}
}

func TestIsAuthError(t *testing.T) {
	if IsAuthError(nil) {
		t.Error("nil should not be auth error")
	}
	if IsAuthError(&rateLimitError{}) {
		t.Error("rateLimitError should not be auth error")
	}
	if !IsAuthError(fmt.Errorf("wrapped: %w", &authError{message: "test"})) {
		t.Error("wrapped authError should be auth error")
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(fmt.Errorf("call: %w", context.DeadlineExceeded)) {
		t.Error("DeadlineExceeded should be a timeout")
	}
	if IsTimeout(errors.New("boom")) {
		t.Error("plain error should not be a timeout")
	}
}

func TestIsRetryable(t *testing.T) {
	if isRetryable(&authError{message: "test"}) {
		t.Error("authError should not be retryable")
	}
	if !isRetryable(&rateLimitError{}) {
		t.Error("rateLimitError should be retryable")
	}
	if !isRetryable(&serverError{statusCode: 500}) {
		t.Error("serverError should be retryable")
	}
	if isRetryable(context.Canceled) {
		t.Error("context.Canceled should not be retryable")
	}
}

func TestErrorMessages(t *testing.T) {
	if got := (&rateLimitError{}).Error(); got != "rate limited" {
		t.Errorf("rateLimitError.Error() = %q", got)
	}
	if got := (&serverError{statusCode: 500, body: "oops"}).Error(); got != "server error: oops" {
		t.Errorf("serverError.Error() = %q", got)
	}
	if got := (&authError{message: "bad key"}).Error(); got != "authentication error: bad key" {
		t.Errorf("authError.Error() = %q", got)
	}
}

func TestRetryWithBackoff_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retryWithBackoff(ctx, 3, func() error {
		return &rateLimitError{}
	})
	if err != context.Canceled {
		t.Errorf("Expected context.Canceled, got: %v", err)
	}
}

func TestRetryWithBackoff_NonRetryable(t *testing.T) {
	attempts := 0
	err := retryWithBackoff(context.Background(), 3, func() error {
		attempts++
		return &authError{message: "bad"}
	})
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for auth error, got %d", attempts)
	}
	if !IsAuthError(err) {
		t.Errorf("Expected auth error, got: %v", err)
	}
}

func TestRetryWithBackoff_GivesUp(t *testing.T) {
	withFastBackoff(t)
	attempts := 0
	err := retryWithBackoff(context.Background(), 2, func() error {
		attempts++
		return &serverError{statusCode: 503, body: "down"}
	})
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if err == nil {
		t.Error("expected final error")
	}
}
