package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"testing"
	"time"
)

// fakeSleeper records requested delays instead of sleeping.
type fakeSleeper struct {
	delays []time.Duration
}

func (f *fakeSleeper) sleep(_ context.Context, d time.Duration) error {
	f.delays = append(f.delays, d)
	return nil
}

func identityJitter(d time.Duration) time.Duration { return d }

func TestRetryPolicy_SucceedsAfterTransientErrors(t *testing.T) {
	sleeper := &fakeSleeper{}
	policy := NewRetryPolicy(3, 2*time.Second)
	policy.sleep = sleeper.sleep
	policy.jitter = identityJitter

	calls := 0
	err := policy.Do(context.Background(), func(_ context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("http 503: service unavailable")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Do() error = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	// Exponential: 2s then 4s.
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(sleeper.delays) != len(want) {
		t.Fatalf("got %d sleeps, want %d", len(sleeper.delays), len(want))
	}
	for i, d := range want {
		if sleeper.delays[i] != d {
			t.Errorf("delay[%d] = %v, want %v", i, sleeper.delays[i], d)
		}
	}
}

func TestRetryPolicy_NonRetryableErrorPropagatesImmediately(t *testing.T) {
	sleeper := &fakeSleeper{}
	policy := NewRetryPolicy(3, time.Second)
	policy.sleep = sleeper.sleep
	policy.jitter = identityJitter

	authErr := errors.New("401 unauthorized: invalid api key")

	calls := 0
	err := policy.Do(context.Background(), func(_ context.Context) error {
		calls++
		return authErr
	})

	if !errors.Is(err, authErr) {
		t.Errorf("Do() error = %v, want %v", err, authErr)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(sleeper.delays) != 0 {
		t.Errorf("slept %d times, want 0", len(sleeper.delays))
	}
}

func TestRetryPolicy_ExhaustsAttempts(t *testing.T) {
	sleeper := &fakeSleeper{}
	policy := NewRetryPolicy(3, time.Second)
	policy.sleep = sleeper.sleep
	policy.jitter = identityJitter

	calls := 0
	err := policy.Do(context.Background(), func(_ context.Context) error {
		calls++
		return errors.New("connection reset by peer")
	})

	if err == nil {
		t.Fatal("Do() error = nil, want exhaustion error")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if got, want := err.Error(), "failed after 3 attempts"; !strings.Contains(got, want) {
		t.Errorf("error %q does not mention %q", got, want)
	}
}

func TestRetryPolicy_DelayCappedAtMax(t *testing.T) {
	sleeper := &fakeSleeper{}
	policy := NewRetryPolicy(6, 10*time.Second)
	policy.MaxDelay = 20 * time.Second
	policy.sleep = sleeper.sleep
	policy.jitter = identityJitter

	policy.Do(context.Background(), func(_ context.Context) error {
		return errors.New("timeout")
	})

	for i, d := range sleeper.delays {
		if d > 20*time.Second {
			t.Errorf("delay[%d] = %v, exceeds cap", i, d)
		}
	}
}

func TestLinearRetryPolicy_Backoff(t *testing.T) {
	sleeper := &fakeSleeper{}
	policy := NewLinearRetryPolicy(3, 2*time.Second)
	policy.sleep = sleeper.sleep

	calls := 0
	policy.Do(context.Background(), func(_ context.Context) error {
		calls++
		return errors.New("network is unreachable")
	})

	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	// Linear: 2s after the first failure, 4s after the second.
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(sleeper.delays) != len(want) {
		t.Fatalf("got %d sleeps, want %d", len(sleeper.delays), len(want))
	}
	for i, d := range want {
		if sleeper.delays[i] != d {
			t.Errorf("delay[%d] = %v, want %v", i, sleeper.delays[i], d)
		}
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", errors.New("googleapi: Error 429: rate limit exceeded"), true},
		{"internal 500", errors.New("500 internal error"), true},
		{"unavailable 503", errors.New("503 service unavailable"), true},
		{"timeout message", errors.New("request timeout while waiting for response"), true},
		{"network message", errors.New("network connection lost"), true},
		{"connection reset errno", fmt.Errorf("write: %w", syscall.ECONNRESET), true},
		{"dns failure", &net.DNSError{Err: "no such host", Name: "api.example.com", IsNotFound: true}, true},
		{"auth failure", errors.New("401 unauthorized"), false},
		{"malformed request", errors.New("400 bad request: invalid payload"), false},
		{"context canceled", context.Canceled, false},
		{"context deadline", context.DeadlineExceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableError(tt.err); got != tt.want {
				t.Errorf("IsRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
