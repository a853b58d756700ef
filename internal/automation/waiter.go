package automation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lance13c/chatgate/internal/browser"
	"go.uber.org/zap"
)

// Waiter watches the assistant messages for a new reply
type Waiter struct {
	candidates   []string
	pollInterval time.Duration
	settleDelay  time.Duration
	log          *zap.SugaredLogger
}

// NewWaiter builds a waiter over the assistant-message candidates
func NewWaiter(candidates []string, pollInterval, settleDelay time.Duration, log *zap.SugaredLogger) *Waiter {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Waiter{
		candidates:   candidates,
		pollInterval: pollInterval,
		settleDelay:  settleDelay,
		log:          log,
	}
}

// CountReplies counts assistant messages using the first candidate that
// matches anything. Zero matches everywhere is a count of zero; an error is
// returned only when every candidate failed.
func (w *Waiter) CountReplies(ctx context.Context, page browser.Page) (int, error) {
	return countFirst(ctx, page, w.candidates)
}

func countFirst(ctx context.Context, page browser.Page, candidates []string) (int, error) {
	var errs []error
	for _, sel := range candidates {
		n, err := page.Count(ctx, sel)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if n > 0 {
			return n, nil
		}
	}
	if len(errs) > 0 && len(errs) == len(candidates) {
		return 0, errors.Join(errs...)
	}
	return 0, nil
}

// lastText returns the trimmed text of the last element of the first
// candidate that matches, plus how many elements that candidate matched
func lastText(ctx context.Context, page browser.Page, candidates []string) (string, int, error) {
	var lastErr error
	for _, sel := range candidates {
		elements, err := page.QueryAll(ctx, sel)
		if err != nil {
			lastErr = err
			continue
		}
		if len(elements) == 0 {
			continue
		}
		text, err := elements[len(elements)-1].Text(ctx)
		if err != nil {
			return "", len(elements), err
		}
		return strings.TrimSpace(text), len(elements), nil
	}
	return "", 0, lastErr
}

// WaitForReply blocks until more than previousCount assistant messages exist,
// lets the newest one finish rendering and returns its trimmed text. Nothing
// that existed at previousCount is ever returned.
func (w *Waiter) WaitForReply(ctx context.Context, page browser.Page, previousCount int, timeout time.Duration) (string, error) {
	start := time.Now()
	var count int

	err := pollUntil(ctx, w.pollInterval, timeout, func(ctx context.Context) bool {
		n, err := w.CountReplies(ctx, page)
		if err != nil {
			w.log.Debugf("Counting replies failed: %v", err)
			return false
		}
		count = n
		return n > previousCount
	})
	if errors.Is(err, errPollTimeout) {
		return "", &WaitError{Kind: WaitTimeout, Waited: timeout, PreviousCount: previousCount, LastCount: count}
	}
	if err != nil {
		return "", err
	}
	w.log.Debugf("Reply %d appeared after %s", count, time.Since(start).Round(time.Millisecond))

	if err := sleep(ctx, w.settleDelay); err != nil {
		return "", err
	}

	text, n, err := lastText(ctx, page, w.candidates)
	if err != nil {
		return "", err
	}

	// Streaming is done once two reads in a row agree
	deadline := start.Add(timeout)
	for time.Until(deadline) > 0 {
		if err := sleep(ctx, w.pollInterval); err != nil {
			return "", err
		}
		next, nextN, err := lastText(ctx, page, w.candidates)
		if err != nil {
			break
		}
		if next == text && nextN == n {
			break
		}
		text, n = next, nextN
	}

	if n <= previousCount {
		// The new message vanished between the count and the read
		return "", &WaitError{Kind: WaitTimeout, Waited: time.Since(start), PreviousCount: previousCount, LastCount: n}
	}
	if text == "" {
		return "", &WaitError{Kind: WaitEmptyResponse, PreviousCount: previousCount, LastCount: n}
	}
	return text, nil
}
