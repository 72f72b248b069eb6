package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"
)

// RetryPolicy is the outer retry loop wrapped around every provider call:
// bounded attempts, exponential backoff with jitter, retrying only errors
// classified as transient. Sleep and jitter sources are injectable so tests
// run against a fake clock.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(d time.Duration) time.Duration
}

func NewRetryPolicy(maxAttempts int, initialDelay time.Duration) *RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if initialDelay <= 0 {
		initialDelay = 2 * time.Second
	}
	return &RetryPolicy{
		MaxAttempts:  maxAttempts,
		InitialDelay: initialDelay,
		MaxDelay:     30 * time.Second,
		sleep:        sleepCtx,
		jitter:       fullJitter,
	}
}

// Do runs fn until it succeeds, exhausts the attempt budget, or hits a
// non-retryable error.
func (p *RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error

	delay := p.InitialDelay
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if !IsRetryableError(err) {
			return err
		}
		lastErr = err

		if attempt == p.MaxAttempts {
			break
		}

		if err := p.sleep(ctx, p.jitter(delay)); err != nil {
			return fmt.Errorf("retry interrupted: %w", err)
		}

		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", p.MaxAttempts, lastErr)
}

// LinearRetryPolicy retries with a fixed increment per attempt (2s, 4s, 6s for
// an increment of 2s). The embedding provider is retried this way.
type LinearRetryPolicy struct {
	MaxAttempts int
	Increment   time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

func NewLinearRetryPolicy(maxAttempts int, increment time.Duration) *LinearRetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if increment <= 0 {
		increment = 2 * time.Second
	}
	return &LinearRetryPolicy{
		MaxAttempts: maxAttempts,
		Increment:   increment,
		sleep:       sleepCtx,
	}
}

func (p *LinearRetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if !IsRetryableError(err) {
			return err
		}
		lastErr = err

		if attempt == p.MaxAttempts {
			break
		}

		if err := p.sleep(ctx, time.Duration(attempt)*p.Increment); err != nil {
			return fmt.Errorf("retry interrupted: %w", err)
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", p.MaxAttempts, lastErr)
}

// IsRetryableError reports whether a provider error is transient: rate
// limiting, transient 5xx, connection resets, timeouts, DNS failures, or an
// error message naming a timeout/network problem. Auth and malformed-request
// errors are not retryable and propagate immediately.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "500", "503",
		"rate limit", "resource exhausted", "unavailable", "internal error",
		"timeout", "deadline exceeded", "network", "connection reset",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// fullJitter picks a uniform delay in (0, d], keeping concurrent workers from
// hammering a recovering provider in lockstep.
func fullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d))) + 1
}
