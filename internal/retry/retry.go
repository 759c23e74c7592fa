package retry

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
)

var ErrRetriesExhausted = errors.New("retries exhausted")

// Config is the resilience policy shared by every remote call. Generic failures and
// timeouts are counted on separate tracks, each with its own budget and backoff.
type Config struct {
	MaxRetries        uint
	MaxTimeoutRetries uint
	InitialBackoff    time.Duration
	TimeoutBackoff    time.Duration
	// MaxBackoff caps every wait. Zero falls back to five minutes.
	MaxBackoff time.Duration
	// RequestTimeout bounds a single attempt. Zero disables it.
	RequestTimeout time.Duration
}

var DefaultConfig = Config{
	MaxRetries:        100,
	MaxTimeoutRetries: 5,
	InitialBackoff:    100 * time.Millisecond,
	TimeoutBackoff:    100 * time.Millisecond,
	MaxBackoff:        30 * time.Second,
	RequestTimeout:    45 * time.Second,
}

// exhaustedError matches ErrRetriesExhausted and unwraps to the last failure.
type exhaustedError struct {
	op       string
	attempts int
	last     error
}

func (e *exhaustedError) Error() string {
	return fmt.Sprintf("%s: %v after %d attempts: %v", e.op, ErrRetriesExhausted, e.attempts, e.last)
}

func (e *exhaustedError) Is(target error) bool { return target == ErrRetriesExhausted }
func (e *exhaustedError) Unwrap() error        { return e.last }

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns it unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// IsTimeout reports whether err is a deadline or a network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Do runs fn until it succeeds, fails permanently, ctx is done or a retry track is exhausted.
func Do(ctx context.Context, cfg Config, op string, fn func(ctx context.Context) error) error {
	var generic, timeouts uint
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := attemptOnce(ctx, cfg.RequestTimeout, fn)
		if err == nil {
			return nil
		}
		var p *permanentError
		if errors.As(err, &p) {
			return p.err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var wait time.Duration
		if IsTimeout(err) {
			if timeouts >= cfg.MaxTimeoutRetries {
				return &exhaustedError{op: op, attempts: attempt + 1, last: err}
			}
			wait = backoff(cfg.TimeoutBackoff, timeouts, cfg.MaxBackoff)
			timeouts++
		} else {
			if generic >= cfg.MaxRetries {
				return &exhaustedError{op: op, attempts: attempt + 1, last: err}
			}
			wait = backoff(cfg.InitialBackoff, generic, cfg.MaxBackoff)
			generic++
		}
		log.Warn("remote call failed, retrying", "op", op, "attempt", attempt, "backoff", wait, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Value is Do for calls that produce a result.
func Value[T any](ctx context.Context, cfg Config, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, op, func(ctx context.Context) error {
		got, err := fn(ctx)
		if err != nil {
			return err
		}
		result = got
		return nil
	})
	return result, err
}

func attemptOnce(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

// maxBackoff caps the wait when the config sets no cap.
const maxBackoff = 5 * time.Minute

func backoff(base time.Duration, n uint, limit time.Duration) time.Duration {
	if limit <= 0 || limit > maxBackoff {
		limit = maxBackoff
	}
	wait := base
	for i := uint(0); i < n && wait < limit; i++ {
		wait *= 2
	}
	if wait > limit {
		wait = limit
	}
	return wait
}
