package ai

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/paperforge/pkg/models"
)

// RetryPolicy bounds retries of transient provider failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

type retryingGenerator struct {
	base   models.Generator
	policy RetryPolicy
}

// WithRetry wraps g so transient errors (see IsTransient) are retried with
// exponential backoff. Non-transient errors return immediately.
func WithRetry(g models.Generator, policy RetryPolicy) models.Generator {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &retryingGenerator{base: g, policy: policy}
}

func (r *retryingGenerator) Name() string { return r.base.Name() }

func (r *retryingGenerator) Generate(ctx context.Context, req models.GenerationRequest) (models.GenerationResult, error) {
	delay := r.policy.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		res, err := r.base.Generate(ctx, req)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !IsTransient(err) || attempt == r.policy.MaxAttempts {
			break
		}

		slog.Warn("generation failed, retrying",
			"provider", r.base.Name(), "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return models.GenerationResult{}, ctx.Err()
		}
		delay *= 2
		if r.policy.MaxDelay > 0 && delay > r.policy.MaxDelay {
			delay = r.policy.MaxDelay
		}
	}
	return models.GenerationResult{}, lastErr
}
