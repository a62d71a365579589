// Package retry implements the bounded exponential backoff used for every
// outbound call to a managed service.
//
// A Policy is a plain value: callers build one from configuration and hand it
// to the code that performs the call. Attempt n (starting at 0) that fails is
// followed by a wait of BaseDelay * Multiplier^n, optionally capped by MaxDelay,
// unless it was the last attempt. The schedule itself is run by
// cenkalti/backoff with randomization turned off.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrInvalidPolicy is returned when a Policy cannot be executed.
var ErrInvalidPolicy = errors.New("retry: invalid policy")

// Sleeper waits for d or until ctx is done, whichever comes first.
type Sleeper func(ctx context.Context, d time.Duration) error

// Policy describes how many times an operation is attempted and how long to
// wait between attempts.
type Policy struct {
	MaxAttempts int           // total attempts, including the first one (>= 1)
	BaseDelay   time.Duration // wait after the first failure
	Multiplier  float64       // growth factor, 2 when zero
	MaxDelay    time.Duration // cap on a single wait, 0 = uncapped

	// OnRetry is called before each wait with the 1-based attempt number that
	// just failed, its error and the upcoming delay.
	OnRetry func(attempt int, err error, delay time.Duration)

	// Sleep replaces the real timer. Tests use it to record delays.
	Sleep Sleeper
}

// Exponential returns a doubling policy with the given budget.
func Exponential(attempts int, base time.Duration) Policy {
	return Policy{
		MaxAttempts: attempts,
		BaseDelay:   base,
		Multiplier:  2,
	}
}

// Validate reports whether the policy can be run.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: MaxAttempts must be >= 1, got %d", ErrInvalidPolicy, p.MaxAttempts)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("%w: BaseDelay must be >= 0, got %v", ErrInvalidPolicy, p.BaseDelay)
	}
	if p.Multiplier < 0 {
		return fmt.Errorf("%w: Multiplier must be >= 0, got %v", ErrInvalidPolicy, p.Multiplier)
	}
	if p.MaxDelay < 0 {
		return fmt.Errorf("%w: MaxDelay must be >= 0, got %v", ErrInvalidPolicy, p.MaxDelay)
	}
	return nil
}

// schedule builds the deterministic exponential backoff for p.
func (p Policy) schedule() *backoff.ExponentialBackOff {
	mult := p.Multiplier
	if mult == 0 {
		mult = 2
	}
	maxInterval := p.MaxDelay
	if maxInterval == 0 {
		maxInterval = time.Duration(math.MaxInt64)
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          mult,
		MaxInterval:         maxInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// Delay returns the wait that follows the failure of attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	b := p.schedule()
	d := b.NextBackOff()
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Permanent marks err as not worth retrying. Do returns it immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *backoff.PermanentError
	return errors.As(err, &pe)
}

// Do runs fn until it succeeds, returns a permanent error, the budget is spent
// or ctx is cancelled. attempt is 0-based. The error of the last attempt is
// returned unwrapped from any Permanent marker, also when ctx ends the wait.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	if err := p.Validate(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var timer backoff.Timer
	if p.Sleep != nil {
		timer = &sleeperTimer{ctx: runCtx, sleep: p.Sleep, abort: cancel, c: make(chan time.Time, 1)}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(p.schedule(), uint64(p.MaxAttempts-1)), runCtx)

	attempt := 0
	var lastErr error
	op := func() error {
		lastErr = fn(ctx, attempt)
		attempt++
		return lastErr
	}
	notify := func(err error, delay time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
	}

	err := backoff.RetryNotifyWithTimer(op, b, notify, timer)
	if err != nil && lastErr != nil && runCtx.Err() != nil && !IsPermanent(lastErr) {
		return lastErr
	}
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context, attempt int) error {
		v, err := fn(ctx, attempt)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// sleeperTimer drives the backoff loop with a Sleeper. A failed sleep aborts
// the run through its context.
type sleeperTimer struct {
	ctx   context.Context
	sleep Sleeper
	abort context.CancelFunc
	c     chan time.Time
}

func (t *sleeperTimer) Start(d time.Duration) {
	if err := t.sleep(t.ctx, d); err != nil {
		t.abort()
		return
	}
	t.c <- time.Now()
}

func (t *sleeperTimer) Stop() {}

func (t *sleeperTimer) C() <-chan time.Time { return t.c }
