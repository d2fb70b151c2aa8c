package resilience

import (
	"context"
	"log/slog"
	"time"
)

// HintExtractor pulls a provider-suggested minimum retry delay out of an
// error, when the provider supplied one.
type HintExtractor func(err error) (time.Duration, bool)

// RetryPolicy drives bounded retries against an external provider. Unlike
// Executor's exponential backoff, it honors provider delay hints and an
// overall time budget: it stops early rather than sleep past the budget.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt, so the
	// total attempt count is MaxRetries+1.
	MaxRetries int
	// Budget bounds the whole call including sleeps. Zero means unbounded.
	Budget time.Duration

	HintMargin time.Duration
	HintCap    time.Duration
	LinearStep time.Duration
	LinearCap  time.Duration

	Retryable func(err error) bool
	Hint      HintExtractor

	// Sleep is overridable in tests. Defaults to a context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns the standard provider retry schedule.
func DefaultRetryPolicy(maxRetries int, budget time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxRetries: maxRetries,
		Budget:     budget,
		HintMargin: 500 * time.Millisecond,
		HintCap:    90 * time.Second,
		LinearStep: 2 * time.Second,
		LinearCap:  6 * time.Second,
	}
}

func (p RetryPolicy) normalize() RetryPolicy {
	def := DefaultRetryPolicy(p.MaxRetries, p.Budget)
	if p.HintMargin <= 0 {
		p.HintMargin = def.HintMargin
	}
	if p.HintCap <= 0 {
		p.HintCap = def.HintCap
	}
	if p.LinearStep <= 0 {
		p.LinearStep = def.LinearStep
	}
	if p.LinearCap <= 0 {
		p.LinearCap = def.LinearCap
	}
	if p.Sleep == nil {
		p.Sleep = sleepCtx
	}
	if p.Retryable == nil {
		p.Retryable = func(error) bool { return false }
	}
	return p
}

// Do runs fn with the policy's retry schedule and returns the last error
// when all attempts fail.
func (p RetryPolicy) Do(ctx context.Context, operation string, fn func(context.Context) error) error {
	policy := p.normalize()

	var deadline time.Time
	if policy.Budget > 0 {
		deadline = time.Now().Add(policy.Budget)
	}

	attempts := policy.MaxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !policy.Retryable(lastErr) || attempt == attempts {
			return lastErr
		}

		wait := policy.backoff(attempt, lastErr)
		if !deadline.IsZero() && time.Until(deadline) < wait {
			slog.Warn("retry_budget_exhausted",
				"operation", operation,
				"attempt", attempt,
				"wanted_backoff_ms", wait.Milliseconds(),
				"error", lastErr,
			)
			return lastErr
		}

		slog.Warn("retry_attempt",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", attempts,
			"backoff_ms", wait.Milliseconds(),
			"error", lastErr,
		)
		if err := policy.Sleep(ctx, wait); err != nil {
			return lastErr
		}
	}

	return lastErr
}

func (p RetryPolicy) backoff(attempt int, err error) time.Duration {
	if p.Hint != nil {
		if hint, ok := p.Hint(err); ok {
			wait := hint + p.HintMargin
			if wait > p.HintCap {
				wait = p.HintCap
			}
			return wait
		}
	}
	wait := time.Duration(attempt) * p.LinearStep
	if wait > p.LinearCap {
		wait = p.LinearCap
	}
	return wait
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
