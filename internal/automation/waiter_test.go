package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const assistantSel = `[data-message-author-role="assistant"]`

func newTestWaiter(t *testing.T, candidates ...string) *Waiter {
	if len(candidates) == 0 {
		candidates = []string{assistantSel}
	}
	return NewWaiter(candidates, 5*time.Millisecond, time.Millisecond, zaptest.NewLogger(t).Sugar())
}

func TestWaitForReply_ReturnsNewMessageTrimmed(t *testing.T) {
	page := newFakePage()
	page.set(assistantSel, message("older answer"))
	w := newTestWaiter(t)

	timer := time.AfterFunc(20*time.Millisecond, func() { page.add(assistantSel, message("\n  pong  \n")) })
	defer timer.Stop()

	reply, err := w.WaitForReply(context.Background(), page, 1, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "pong", reply)
}

func TestWaitForReply_NeverReturnsExistingMessages(t *testing.T) {
	page := newFakePage()
	page.set(assistantSel, message("first"), message("second"))
	w := newTestWaiter(t)

	start := time.Now()
	reply, err := w.WaitForReply(context.Background(), page, 2, 50*time.Millisecond)

	assert.Empty(t, reply)
	assert.ErrorIs(t, err, ErrWaitTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	var waitErr *WaitError
	require.ErrorAs(t, err, &waitErr)
	assert.Equal(t, WaitTimeout, waitErr.Kind)
	assert.Equal(t, 2, waitErr.PreviousCount)
	assert.Equal(t, 2, waitErr.LastCount)
}

func TestWaitForReply_EmptyTextIsEmptyResponse(t *testing.T) {
	page := newFakePage()
	page.set(assistantSel, message("   \n\t "))
	w := newTestWaiter(t)

	_, err := w.WaitForReply(context.Background(), page, 0, 100*time.Millisecond)

	assert.ErrorIs(t, err, ErrEmptyResponse)
	assert.False(t, errors.Is(err, ErrWaitTimeout))
}

func TestWaitForReply_WaitsForStreamingToSettle(t *testing.T) {
	page := newFakePage()
	streaming := message("")
	// Each read sees one more streamed chunk until the reply is complete
	chunks := []string{"The answer", "The answer is", "The answer is forty", "The answer is forty two."}
	reads := 0
	streaming.readback = func(string) string {
		text := chunks[min(reads, len(chunks)-1)]
		reads++
		return text
	}
	page.set(assistantSel, streaming)
	w := newTestWaiter(t)

	reply, err := w.WaitForReply(context.Background(), page, 0, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "The answer is forty two.", reply)
	assert.Equal(t, len(chunks)+1, reads)
}

func TestWaitForReply_Cancelled(t *testing.T) {
	page := newFakePage()
	w := newTestWaiter(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err := w.WaitForReply(ctx, page, 0, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCountReplies_UsesFirstCandidateWithMatches(t *testing.T) {
	page := newFakePage()
	page.queryErr["broken"] = errors.New("invalid selector")
	page.set("secondary", message("a"), message("b"))
	page.set("tertiary", message("c"))
	w := newTestWaiter(t, "broken", "primary", "secondary", "tertiary")

	n, err := w.CountReplies(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = newTestWaiter(t, "primary").CountReplies(context.Background(), page)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = newTestWaiter(t, "broken").CountReplies(context.Background(), page)
	assert.Error(t, err)
}
