package automation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// State is a retry controller state
type State int

const (
	StateIdle State = iota
	StateAttempting
	StateRetrying
	StateSucceeded
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttempting:
		return "attempting"
	case StateRetrying:
		return "retrying"
	case StateSucceeded:
		return "succeeded"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// RetryContext describes the attempt in progress
type RetryContext struct {
	Attempt    int // 1-based
	MaxRetries int
	Backoff    time.Duration
}

// Controller runs an operation in a bounded retry loop with a fixed backoff.
// Cleanup runs after every failed attempt so no attempt reuses a half-broken
// session.
type Controller struct {
	Backoff time.Duration
	// Sleep waits out the backoff; tests replace it to count delays
	Sleep func(ctx context.Context, d time.Duration) error
	// OnTransition observes every state change
	OnTransition func(from, to State, rc RetryContext)

	log *zap.SugaredLogger
}

// NewController returns a controller with a fixed backoff between attempts
func NewController(backoff time.Duration, log *zap.SugaredLogger) *Controller {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Controller{Backoff: backoff, Sleep: sleep, log: log}
}

// Run calls attempt until it succeeds or maxRetries attempts have failed
// (maxRetries <= 0 means one attempt). k attempts are separated by exactly
// k-1 backoffs. ErrShutdown ends the loop at once. Any failure comes back as
// a single *AutomationError.
func (c *Controller) Run(ctx context.Context, op string, maxRetries int, attempt func(context.Context, RetryContext) error, cleanup func()) error {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	rc := RetryContext{MaxRetries: maxRetries, Backoff: c.Backoff}
	state := StateIdle
	move := func(to State) {
		if c.OnTransition != nil {
			c.OnTransition(state, to, rc)
		}
		state = to
	}

	var lastErr error
	for rc.Attempt = 1; rc.Attempt <= maxRetries; rc.Attempt++ {
		move(StateAttempting)
		c.log.Debugf("%s attempt %d/%d", op, rc.Attempt, maxRetries)

		lastErr = attempt(ctx, rc)
		if lastErr == nil {
			move(StateSucceeded)
			return nil
		}
		c.log.Warnf("%s attempt %d/%d failed: %v", op, rc.Attempt, maxRetries, lastErr)

		if cleanup != nil {
			cleanup()
		}

		if rc.Attempt == maxRetries || errors.Is(lastErr, ErrShutdown) {
			break
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		move(StateRetrying)
		if err := c.Sleep(ctx, c.Backoff); err != nil {
			lastErr = err
			break
		}
	}

	attempts := rc.Attempt
	if attempts > maxRetries {
		attempts = maxRetries
	}
	rc.Attempt = attempts
	move(StateExhausted)
	c.log.Errorf("%s failed after %d attempt(s)", op, attempts)

	return &AutomationError{
		Op:         op,
		Attempts:   attempts,
		Diagnostic: diagnose(lastErr),
		Err:        lastErr,
	}
}
