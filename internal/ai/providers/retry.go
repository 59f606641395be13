package providers

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryConfig controls the backoff schedule for provider calls.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig matches the service-wide retry policy.
var DefaultRetryConfig = RetryConfig{
	MaxRetries: 3,
	BaseDelay:  2 * time.Second,
	MaxDelay:   60 * time.Second,
}

// sleepFn is swapped in tests to avoid real delays.
var sleepFn = sleepCtx

// ChatWithRetry calls the provider, retrying rate-limited and transient
// failures with exponential backoff and full jitter. Auth, model-not-found
// and fatal errors are returned immediately. A vendor-supplied Retry-After
// overrides the computed delay.
func ChatWithRetry(ctx context.Context, p Provider, req ChatRequest, cfg RetryConfig) (*ChatResponse, error) {
	if cfg.MaxRetries <= 0 {
		cfg = DefaultRetryConfig
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		resp, err := p.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.Retryable() {
			log.Error().Err(err).Str("provider", p.Name()).Msg("Non-retryable provider error")
			return nil, err
		}
		lastErr = err

		if attempt == cfg.MaxRetries {
			log.Error().Err(err).Str("provider", p.Name()).Int("retries", cfg.MaxRetries).
				Msg("All retries exhausted")
			break
		}

		delay := apiErr.RetryAfter
		if delay <= 0 {
			delay = cfg.BaseDelay << uint(attempt)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
			delay = time.Duration(float64(delay) * (0.5 + rand.Float64()))
		}

		log.Warn().Err(err).Str("provider", p.Name()).
			Int("attempt", attempt+1).Int("max_retries", cfg.MaxRetries).
			Dur("delay", delay).Msg("Retrying provider call")

		if err := sleepFn(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
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
