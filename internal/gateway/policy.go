// Package gateway wraps exchange calls with bounded retries.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"perp-core/pkg/exchanges/common"
)

// ErrExhaustedRetries is matched by every ExhaustedError.
var ErrExhaustedRetries = errors.New("retries exhausted")

// ExhaustedError reports the last failure after all attempts were used.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: %d attempts failed: %v", e.Op, e.Attempts, e.Err)
}

// Unwrap exposes both the sentinel and the last underlying error.
func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhaustedRetries, e.Err}
}

// Policy bounds how a call is retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Retryable   func(error) bool

	// OnRetry is called before each wait; used for metrics.
	OnRetry func(op string, attempt int, err error)
	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy is three attempts, 2s then 4s apart, on transient errors.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		Retryable:   common.IsTransient,
	}
}

// WritePolicy only retries requests the venue certainly never accepted.
func WritePolicy() Policy {
	p := DefaultPolicy()
	p.Retryable = common.IsRequestNotSent
	return p
}

// Call runs fn under policy p. Non-retryable errors are returned as-is;
// running out of attempts yields an *ExhaustedError.
func Call[T any](ctx context.Context, p Policy, log *zap.Logger, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	if log == nil {
		log = zap.NewNop()
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = common.IsTransient
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var zero T
	var lastErr error
	for i := 0; i < attempts; i++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !retryable(err) {
			return zero, err
		}
		lastErr = err
		if i == attempts-1 {
			break
		}

		delay := p.BaseDelay * time.Duration(1<<i)
		log.Warn("exchange call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", i+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		if p.OnRetry != nil {
			p.OnRetry(op, i+1, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	log.Error("exchange call exhausted retries",
		zap.String("op", op),
		zap.Int("attempts", attempts),
		zap.Error(lastErr))
	return zero, &ExhaustedError{Op: op, Attempts: attempts, Err: lastErr}
}

// Do is Call for operations without a result.
func Do(ctx context.Context, p Policy, log *zap.Logger, op string, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, p, log, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
