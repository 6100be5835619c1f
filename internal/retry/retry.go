package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/dre-pipeline/internal/domain"
	"github.com/dvloznov/dre-pipeline/internal/logger"
)

// Policy is the exponential backoff shared by the download manager and the batch loader.
// Attempt n (1-based) that fails waits min(BaseDelay*2^(n-1), MaxDelay) before attempt n+1.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// Retryable decides whether an error is worth another attempt.
	// Defaults to domain.IsTransient.
	Retryable func(error) bool

	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns 3 retries with 5s base and 60s cap.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  5 * time.Second,
		MaxDelay:   60 * time.Second,
	}
}

// Delay returns the wait after the given failed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// MaxAttempts is MaxRetries+1.
func (p Policy) MaxAttempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Execute runs fn until it succeeds, returns a non-retryable error,
// exhausts MaxAttempts, or ctx is cancelled. It returns the number of attempts made.
func (p Policy) Execute(ctx context.Context, operation string, fn func(ctx context.Context, attempt int) error) (int, error) {
	log := logger.FromContext(ctx)
	retryable := p.Retryable
	if retryable == nil {
		retryable = domain.IsTransient
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		err := fn(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				log.Info().Str("operation", operation).Int("attempts", attempt).Msg("Operation succeeded after retry")
			}
			return attempt, nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt, errors.Join(ctxErr, err)
		}
		if !retryable(err) {
			return attempt, err
		}
		if attempt == p.MaxAttempts() {
			break
		}

		delay := p.Delay(attempt)
		log.Warn().
			Str("operation", operation).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Err(err).
			Msg("Operation failed, retrying")

		if err := sleep(ctx, delay); err != nil {
			return attempt, errors.Join(err, lastErr)
		}
	}

	return p.MaxAttempts(), fmt.Errorf("%s failed after %d attempts: %w", operation, p.MaxAttempts(), lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
