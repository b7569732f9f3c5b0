package timeutil

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Default polling parameters for confirming eventually-consistent state.
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultPollTimeout  = 4 * time.Second
)

// ErrPollTimeout is returned by Poll when the condition did not hold before
// the timeout elapsed.
var ErrPollTimeout = errors.New("condition not satisfied before timeout")

// PollOptions bounds a Poll call.
type PollOptions struct {
	Interval time.Duration
	Timeout  time.Duration
}

func (o PollOptions) withDefaults() PollOptions {
	if o.Interval <= 0 {
		o.Interval = DefaultPollInterval
	}
	if o.Timeout < 0 {
		o.Timeout = 0
	}
	return o
}

// Condition reports whether the awaited state holds. A non-nil error is
// treated as "not yet" and remembered for the timeout report.
type Condition func(ctx context.Context) (bool, error)

// Poll evaluates cond immediately and then once per interval until it holds,
// the timeout elapses, or ctx is cancelled.
//
// When cond is not immediately true Poll returns no earlier than one interval
// after the call and no later than Timeout plus one interval (plus the cost of
// the condition itself). Cancellation is checked on every iteration and
// returns ctx.Err().
func Poll(ctx context.Context, clock Clock, opts PollOptions, cond Condition) error {
	opts = opts.withDefaults()
	start := clock.Now()

	ok, lastErr := cond(ctx)
	if ok {
		return nil
	}

	ticker := clock.NewTicker(opts.Interval)
	defer ticker.Stop()

	polls := 1
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
		}

		ok, err := cond(ctx)
		polls++
		if ok {
			return nil
		}
		if err != nil {
			lastErr = err
		}
		if elapsed := clock.Since(start); elapsed >= opts.Timeout {
			if lastErr != nil {
				return fmt.Errorf("%w after %v (%d polls, last error: %v)", ErrPollTimeout, elapsed, polls, lastErr)
			}
			return fmt.Errorf("%w after %v (%d polls)", ErrPollTimeout, elapsed, polls)
		}
	}
}
