// Package retry provides the bounded fixed-interval polling primitive
// used by the bootstrap orchestrator to wait for the application to
// come up. No backoff: the budget is exactly max attempts times the
// interval.
package retry

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Sleeper abstracts the inter-attempt delay so tests do not have to
// wait wall-clock time.
type Sleeper func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Poller runs a predicate at a fixed interval up to a bounded number
// of attempts.
type Poller struct {
	MaxAttempts int
	Interval    time.Duration

	sleep Sleeper
}

// NewPoller builds a poller with the given budget. A non-positive
// attempt count or interval is rejected at call time, not here, so the
// zero value stays inert.
func NewPoller(maxAttempts int, interval time.Duration) *Poller {
	return &Poller{
		MaxAttempts: maxAttempts,
		Interval:    interval,
		sleep:       defaultSleep,
	}
}

// WithSleeper overrides the delay implementation. Test hook.
func (p *Poller) WithSleeper(s Sleeper) *Poller {
	p.sleep = s
	return p
}

// Do calls fn until it returns nil, the attempt budget runs out, or
// the context is cancelled. It sleeps the interval between attempts
// but not after the last one, so total wait never exceeds
// (MaxAttempts-1) * Interval plus the time spent in fn itself.
// On exhaustion it returns the last error from fn, wrapped.
func (p *Poller) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		return errors.New("poller: max attempts must be positive")
	}
	if p.Interval <= 0 {
		return errors.New("poller: interval must be positive")
	}

	sleep := p.sleep
	if sleep == nil {
		sleep = defaultSleep
	}

	var last error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn(ctx)
		if last == nil {
			return nil
		}
		if attempt == p.MaxAttempts {
			break
		}
		if err := sleep(ctx, p.Interval); err != nil {
			return err
		}
	}
	return errors.Wrapf(last, "gave up after %d attempts", p.MaxAttempts)
}
