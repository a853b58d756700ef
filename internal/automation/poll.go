package automation

import (
	"context"
	"errors"
	"time"
)

// errPollTimeout is returned by pollUntil when the condition never held
var errPollTimeout = errors.New("poll timed out")

// pollUntil evaluates cond right away and then every interval until it holds,
// the timeout elapses or ctx is done. cond receives a context bounded by the
// same timeout so a hung probe cannot outlive the wait.
func pollUntil(ctx context.Context, interval, timeout time.Duration, cond func(context.Context) bool) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if cond(pctx) {
			return nil
		}
		select {
		case <-pctx.Done():
			if err := ctx.Err(); err != nil {
				return err
			}
			return errPollTimeout
		case <-ticker.C:
		}
	}
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
