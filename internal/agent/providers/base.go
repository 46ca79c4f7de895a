package providers

import (
	"context"
	"time"

	"github.com/ouro-ai-labs/ouro/internal/backoff"
)

// BaseProvider holds shared retry configuration for LLM providers. Retry
// applies the same jittered-exponential formula spec §5 specifies for
// rate_limited retries (delay = min(initial*base^attempt, max) *
// uniform(0.75, 1.25)) -- a rate_limited outcome is strictly an
// LLM-adapter-level concern (spec §4.7), never something the Tool
// Executor retries.
type BaseProvider struct {
	name       string
	maxRetries int
	policy     backoff.BackoffPolicy
}

// NewBaseProvider creates a base provider with sane defaults. retryDelay
// becomes the policy's initial delay; the cap and jitter bounds match
// backoff.DefaultPolicy.
func NewBaseProvider(name string, maxRetries int, retryDelay time.Duration) BaseProvider {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	policy := backoff.DefaultPolicy()
	policy.InitialMs = float64(retryDelay.Milliseconds())
	return BaseProvider{
		name:       name,
		maxRetries: maxRetries,
		policy:     policy,
	}
}

// Retry executes op with jittered exponential backoff if isRetryable
// returns true.
func (b *BaseProvider) Retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	if op == nil {
		return nil
	}
	var lastErr error
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := op(); err == nil {
			return nil
		} else {
			lastErr = err
			if isRetryable == nil || !isRetryable(err) {
				return err
			}
			if attempt >= b.maxRetries {
				break
			}
			if err := backoff.SleepWithBackoff(ctx, b.policy, attempt); err != nil {
				return ctx.Err()
			}
		}
	}
	return lastErr
}
