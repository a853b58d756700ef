package automation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lance13c/chatgate/internal/browser"
	"go.uber.org/zap"
)

// selectAllChords are tried in order to clear a rich input through the keyboard
var selectAllChords = []string{"Control+a", "Meta+a"}

// Injector types a prompt into the chat input and verifies it landed intact
type Injector struct {
	typingDelay time.Duration
	log         *zap.SugaredLogger
}

// NewInjector returns an injector pausing typingDelay between keystrokes
func NewInjector(typingDelay time.Duration, log *zap.SugaredLogger) *Injector {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Injector{typingDelay: typingDelay, log: log}
}

// Inject clears el, types text and reads it back. A read-back that differs
// from text after trimming is an *InjectionError; nothing is retried here.
func (in *Injector) Inject(ctx context.Context, el browser.Element, text string) error {
	var got string
	var err error

	switch kind := el.Kind(); kind {
	case browser.KindField:
		got, err = in.fillField(ctx, el, text)
	case browser.KindRich:
		got, err = in.fillRich(ctx, el, text)
	default:
		return fmt.Errorf("cannot inject text into a %s element", kind)
	}
	if err != nil {
		return err
	}

	// Carriage returns are never typed, so they are not expected back
	want := strings.TrimSpace(strings.ReplaceAll(text, "\r", ""))
	if strings.TrimSpace(got) != want {
		return &InjectionError{Expected: want, Got: strings.TrimSpace(got)}
	}
	return nil
}

func (in *Injector) fillField(ctx context.Context, el browser.Element, text string) (string, error) {
	if err := el.Focus(ctx); err != nil {
		return "", fmt.Errorf("failed to focus input: %w", err)
	}
	if err := el.Clear(ctx); err != nil {
		return "", fmt.Errorf("failed to clear input: %w", err)
	}
	if err := in.typeText(ctx, el, text); err != nil {
		return "", err
	}
	return el.Value(ctx)
}

func (in *Injector) fillRich(ctx context.Context, el browser.Element, text string) (string, error) {
	if err := el.Focus(ctx); err != nil {
		return "", fmt.Errorf("failed to focus input: %w", err)
	}
	if err := in.clearRich(ctx, el); err != nil {
		return "", err
	}
	if err := in.typeText(ctx, el, text); err != nil {
		return "", err
	}
	return el.Text(ctx)
}

// clearRich selects all and deletes with each platform shortcut in turn,
// falling back to emptying the element directly
func (in *Injector) clearRich(ctx context.Context, el browser.Element) error {
	for _, chord := range selectAllChords {
		if err := el.Press(ctx, chord); err != nil {
			in.log.Debugf("Select all with %s failed: %v", chord, err)
			continue
		}
		if err := el.Press(ctx, "Backspace"); err != nil {
			in.log.Debugf("Delete after %s failed: %v", chord, err)
			continue
		}
		if rest, err := el.Text(ctx); err == nil && strings.TrimSpace(rest) == "" {
			return nil
		}
	}

	in.log.Debugf("Keyboard clear left content behind, clearing directly")
	if err := el.ClearContent(ctx); err != nil {
		return fmt.Errorf("failed to clear input: %w", err)
	}
	return nil
}

// typeText sends one keystroke per rune. Newlines go in as Shift+Enter so a
// multi-line prompt is not submitted early.
func (in *Injector) typeText(ctx context.Context, el browser.Element, text string) error {
	first := true
	for _, r := range text {
		if r == '\r' {
			continue
		}
		if !first {
			if err := sleep(ctx, in.typingDelay); err != nil {
				return err
			}
		}
		first = false

		var err error
		if r == '\n' {
			err = el.Press(ctx, "Shift+Enter")
		} else {
			err = el.Type(ctx, string(r))
		}
		if err != nil {
			return fmt.Errorf("failed to type prompt: %w", err)
		}
	}
	return nil
}
