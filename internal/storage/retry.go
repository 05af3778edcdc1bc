package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"shopetl/internal/errs"
)

// RetryPolicy bounds the retries of one unit of work. Zero values get
// defaults: 5 attempts, 200ms initial backoff, 10s cap.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 200 * time.Millisecond
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 10 * time.Second
	}
	return p
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.InitialBackoff),
		backoff.WithMaxInterval(p.MaxBackoff),
		backoff.WithMaxElapsedTime(0),
	)
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1)), ctx)
}

// Retry runs op until it succeeds, fails with a non-transient error, or the
// attempt budget is spent.
//
//   - transient failures are retried with exponential backoff; when the
//     budget runs out the last one is returned wrapped in
//     errs.ErrStoreUnavailable
//   - constraint failures are returned at once wrapped in
//     errs.ErrConstraintViolation
//   - anything else is returned as is
func Retry(ctx context.Context, p RetryPolicy, classify func(error) Class, what string, op func() error) error {
	p = p.withDefaults()

	var (
		attempts  int
		transient bool
	)
	wrapped := func() error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		switch classify(err) {
		case Transient:
			transient = true
			return err
		case Constraint:
			transient = false
			return backoff.Permanent(fmt.Errorf("%w: %w", errs.ErrConstraintViolation, err))
		default:
			transient = false
			return backoff.Permanent(err)
		}
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("storage: retrying", "op", what, "attempt", attempts, "wait", wait, "err", err)
	}

	err := backoff.RetryNotify(wrapped, p.backOff(ctx), notify)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return err
	case transient:
		return fmt.Errorf("%w: %s failed after %d attempts: %w", errs.ErrStoreUnavailable, what, attempts, err)
	default:
		return err
	}
}
