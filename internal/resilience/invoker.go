// Package resilience provides the rate-limit-aware invoker, per-resource
// cooldown tracking, and circuit breakers for external service calls.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// InvokerConfig controls backoff behavior for rate-limited calls.
type InvokerConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	// Zero disables retries; DefaultInvokerConfig carries the usual 3.
	MaxRetries int

	// InitialDelay is the base delay before the first retry. Default: 1s.
	InitialDelay time.Duration

	// MaxDelay caps the backoff duration before jitter. Default: 60s.
	MaxDelay time.Duration

	// Base scales the backoff after each attempt. Default: 2.0.
	Base float64

	// OnRetry is called before each backoff sleep.
	OnRetry func(resource string, attempt int, delay time.Duration, err error)
}

// DefaultInvokerConfig returns a sensible configuration for API calls.
func DefaultInvokerConfig() InvokerConfig {
	return InvokerConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		Base:         2.0,
	}
}

// Invoker executes external calls with exponential backoff on rate-limit
// errors and tracks per-resource cooldowns so that unrelated resources are
// not penalized by one resource's limiting. It is a purely functional
// wrapper around the supplied call: its only side effects are cooldown
// bookkeeping and log emission.
type Invoker struct {
	cfg       InvokerConfig
	cooldowns CooldownStore

	// now and sleep allow test injection of time.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewInvoker creates an Invoker with the given config and cooldown store.
// MaxRetries is taken as configured, so zero means a single attempt. A
// nil store gets an in-process MemoryCooldowns.
func NewInvoker(cfg InvokerConfig, cooldowns CooldownStore) *Invoker {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 1 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 60 * time.Second
	}
	if cfg.Base <= 1 {
		cfg.Base = 2.0
	}
	if cooldowns == nil {
		cooldowns = NewMemoryCooldowns()
	}
	return &Invoker{
		cfg:       cfg,
		cooldowns: cooldowns,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// Invoke runs an error-only call through the invoker. See InvokeVal.
func (inv *Invoker) Invoke(ctx context.Context, resource string, call func(ctx context.Context) error, fallback func(ctx context.Context) error) (degraded bool, err error) {
	wrap := func(fn func(ctx context.Context) error) func(ctx context.Context) (struct{}, error) {
		if fn == nil {
			return nil
		}
		return func(ctx context.Context) (struct{}, error) {
			return struct{}{}, fn(ctx)
		}
	}
	_, degraded, err = InvokeVal(ctx, inv, resource, wrap(call), wrap(fallback))
	return degraded, err
}

// InvokeVal executes call under the invoker's retry policy, generic over
// the call's return type.
//
// If the resource is cooling down the invoker waits out the cooldown
// before the first attempt. Rate-limit-class failures are retried with
// exponential backoff plus jitter, honoring any retry-after hint the
// failure carried; each computed delay also extends the resource's
// cooldown so concurrent callers back off too. Non-rate-limit errors
// propagate immediately. On exhaustion, fallback (when supplied) is
// invoked and its result returned with degraded=true.
func InvokeVal[T any](ctx context.Context, inv *Invoker, resource string, call func(ctx context.Context) (T, error), fallback func(ctx context.Context) (T, error)) (val T, degraded bool, err error) {
	var zero T

	// Honor an existing cooldown before the first attempt: a call issued
	// inside the window is a guaranteed failure.
	if until, ok := inv.cooldowns.Until(resource); ok {
		if wait := until.Sub(inv.now()); wait > 0 {
			zap.L().Debug("resource cooling down, holding call",
				zap.String("resource", resource),
				zap.Duration("wait", wait),
			)
			if err := inv.sleep(ctx, wait); err != nil {
				return zero, false, err
			}
		}
	}

	var lastErr error
	for attempt := 0; attempt <= inv.cfg.MaxRetries; attempt++ {
		val, err := call(ctx)
		if err == nil {
			inv.cooldowns.Clear(resource)
			return val, false, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, false, lastErr
		}
		if !IsRateLimit(lastErr) {
			return zero, false, lastErr
		}
		if attempt >= inv.cfg.MaxRetries {
			break
		}

		delay := inv.backoff(attempt)
		if hint := RetryAfterHint(lastErr); hint > delay {
			delay = hint
		}
		inv.cooldowns.Extend(resource, inv.now().Add(delay))

		if inv.cfg.OnRetry != nil {
			inv.cfg.OnRetry(resource, attempt+1, delay, lastErr)
		}
		if err := inv.sleep(ctx, delay); err != nil {
			return zero, false, lastErr
		}
	}

	if fallback != nil {
		val, err := fallback(ctx)
		if err != nil {
			return zero, false, err
		}
		zap.L().Warn("retries exhausted, used fallback",
			zap.String("resource", resource),
			zap.Error(lastErr),
		)
		return val, true, nil
	}
	return zero, false, lastErr
}

// backoff computes min(initial * base^attempt, max) plus uniform jitter
// in [0, 0.1*delay). Jitter is additive only, so the pre-jitter delay is
// monotonic across attempts.
func (inv *Invoker) backoff(attempt int) time.Duration {
	delay := float64(inv.cfg.InitialDelay) * math.Pow(inv.cfg.Base, float64(attempt))
	if delay > float64(inv.cfg.MaxDelay) {
		delay = float64(inv.cfg.MaxDelay)
	}
	delay += rand.Float64() * 0.1 * delay
	return time.Duration(delay)
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

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(operation string) func(string, int, time.Duration, error) {
	return func(resource string, attempt int, delay time.Duration, err error) {
		zap.L().Warn("rate limited, backing off",
			zap.String("operation", operation),
			zap.String("resource", resource),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}
}
