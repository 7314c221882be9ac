package engine

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"http 503", errors.New("ERROR: HTTP Error 503: Service Unavailable"), true},
		{"read timed out", errors.New("Read timed out. (read timeout=20)"), true},
		{"connection reset", errors.New("[Errno 104] Connection reset by peer"), true},
		{"rate limited", errors.New("HTTP Error 429: Too Many Requests"), false},
		{"regular error", errors.New("something"), false},
		{"dns timeout", &net.DNSError{IsTimeout: true}, true},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"no media", errors.New("No video could be found in this tweet"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryable(tt.err); got != tt.want {
				t.Errorf("isRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

var errTransient = errors.New("connection refused")

func TestRetryDoSuccess(t *testing.T) {
	rc := RetryConfig{MaxRetries: 3, Wait: time.Millisecond}
	calls := 0
	got, err := RetryDo(context.Background(), rc, func() (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("got %q, want %q", got, "ok")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetryDoRetryThenSuccess(t *testing.T) {
	rc := RetryConfig{MaxRetries: 3, Wait: time.Millisecond}
	calls := 0
	got, err := RetryDo(context.Background(), rc, func() (string, error) {
		calls++
		if calls < 3 {
			return "", errTransient
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("got %q, want %q", got, "ok")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryDoExhausted(t *testing.T) {
	rc := RetryConfig{MaxRetries: 2, Wait: time.Millisecond}
	calls := 0
	_, err := RetryDo(context.Background(), rc, func() (string, error) {
		calls++
		return "", errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("expected last transient error, got %v", err)
	}
	if calls != 3 { // initial + 2 retries
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryDoNonRetryable(t *testing.T) {
	rc := RetryConfig{MaxRetries: 3, Wait: time.Millisecond}
	calls := 0
	perm := errors.New("unsupported url")
	_, err := RetryDo(context.Background(), rc, func() (string, error) {
		calls++
		return "", perm
	})
	if !errors.Is(err, perm) {
		t.Fatalf("expected %v, got %v", perm, err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call (no retry for non-retryable), got %d", calls)
	}
}

func TestRetryDoContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rc := RetryConfig{MaxRetries: 3, Wait: time.Millisecond}
	_, err := RetryDo(ctx, rc, func() (string, error) {
		return "", errTransient
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestConfigRetryDefaults(t *testing.T) {
	if got := DefaultConfig().Retry(); got != DefaultRetryConfig {
		t.Errorf("DefaultConfig().Retry() = %+v, want %+v", got, DefaultRetryConfig)
	}
	cfg := Config{TransientRetries: -1}.Normalized()
	if got := cfg.Retry(); got.MaxRetries != 0 || got.Wait != DefaultRetryConfig.Wait {
		t.Errorf("normalized Retry() = %+v", got)
	}
}
