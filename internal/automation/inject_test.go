package automation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestInjector(t *testing.T) *Injector {
	return NewInjector(0, zaptest.NewLogger(t).Sugar())
}

func TestInject_FieldRoundTrip(t *testing.T) {
	in := newTestInjector(t)
	prompts := []string{
		"ping",
		"  padded prompt  ",
		"unicode: héllo wörld ✓ 你好",
		`quotes "and" <tags> & symbols +-*/`,
		strings.Repeat("long ", 40),
	}
	for _, prompt := range prompts {
		el := field()
		el.value = "stale draft"

		require.NoError(t, in.Inject(context.Background(), el, prompt))
		assert.Equal(t, strings.TrimSpace(prompt), strings.TrimSpace(el.value))
	}
}

func TestInject_TypesOneRuneAtATime(t *testing.T) {
	el := field()
	require.NoError(t, newTestInjector(t).Inject(context.Background(), el, "héllo"))
	assert.Equal(t, 5, el.typed)
}

func TestInject_MismatchIsInjectionError(t *testing.T) {
	el := field()
	// The page drops the last character, e.g. a maxlength cap
	el.readback = func(v string) string {
		r := []rune(v)
		return string(r[:len(r)-1])
	}

	err := newTestInjector(t).Inject(context.Background(), el, "ping")

	var injErr *InjectionError
	require.ErrorAs(t, err, &injErr)
	assert.Equal(t, "ping", injErr.Expected)
	assert.Equal(t, "pin", injErr.Got)
}

func TestInject_TypeErrorPropagates(t *testing.T) {
	el := field()
	el.typeErr = errors.New("node is detached")

	err := newTestInjector(t).Inject(context.Background(), el, "ping")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "node is detached")
	var injErr *InjectionError
	assert.False(t, errors.As(err, &injErr))
}

func TestInject_RichClearsWithControlA(t *testing.T) {
	el := rich()
	el.value = "old text"

	require.NoError(t, newTestInjector(t).Inject(context.Background(), el, "ping"))

	assert.Equal(t, "ping", el.value)
	assert.Equal(t, []string{"Control+a", "Backspace"}, el.pressed)
	assert.False(t, el.cleared)
}

func TestInject_RichFallsBackToMetaA(t *testing.T) {
	el := rich()
	el.value = "old"
	el.selectAll = map[string]bool{"Meta+a": true}

	require.NoError(t, newTestInjector(t).Inject(context.Background(), el, "ping"))

	assert.Equal(t, "ping", el.value)
	assert.Equal(t, []string{"Control+a", "Backspace", "Meta+a", "Backspace"}, el.pressed)
	assert.False(t, el.cleared)
}

func TestInject_RichFallsBackToDirectClear(t *testing.T) {
	el := rich()
	el.value = "old text"
	el.selectAll = map[string]bool{}

	require.NoError(t, newTestInjector(t).Inject(context.Background(), el, "ping"))

	assert.True(t, el.cleared)
	assert.Equal(t, "ping", el.value)
}

func TestInject_NewlinesUseShiftEnter(t *testing.T) {
	el := rich()

	require.NoError(t, newTestInjector(t).Inject(context.Background(), el, "line one\r\nline two"))

	assert.Equal(t, "line one\nline two", el.value)
	assert.Contains(t, el.pressed, "Shift+Enter")
	assert.NotContains(t, el.pressed, "Enter")
}

func TestInject_RejectsNonEditableElement(t *testing.T) {
	err := newTestInjector(t).Inject(context.Background(), message("assistant text"), "ping")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "other")
}

func TestInject_HonoursCancellationBetweenKeystrokes(t *testing.T) {
	in := NewInjector(20*time.Millisecond, zaptest.NewLogger(t).Sugar())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	el := field()
	err := in.Inject(ctx, el, "a fairly long prompt")

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, el.typed, len("a fairly long prompt"))
}
