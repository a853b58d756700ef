package automation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lance13c/chatgate/internal/browser"
)

var (
	// ErrNotInitialized is returned when a chat operation runs before bootstrap
	ErrNotInitialized = errors.New("session not initialized")
	// ErrEmptyPrompt rejects blank prompts before any browser work
	ErrEmptyPrompt = errors.New("prompt is empty")
	// ErrWaitTimeout matches a WaitError of kind WaitTimeout
	ErrWaitTimeout = errors.New("timed out waiting for a reply")
	// ErrEmptyResponse matches a WaitError of kind WaitEmptyResponse
	ErrEmptyResponse = errors.New("reply text was empty")
	// ErrShutdown is returned once the automator has been shut down. The
	// retry controller does not retry it.
	ErrShutdown = errors.New("automator is shut down")
)

// BootstrapError reports which launch step failed
type BootstrapError struct {
	Step string // launch, page, headers, navigate
	Err  error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("bootstrap failed at %s: %v", e.Step, e.Err)
}

func (e *BootstrapError) Unwrap() error { return e.Err }

// NotReadyError means the chat input never showed up, usually a login wall
type NotReadyError struct {
	Waited       time.Duration
	URL          string
	AuthRedirect bool // the page sat on a URL matching an auth pattern
	LoginWall    bool // a login indicator was found on the page
}

func (e *NotReadyError) Error() string {
	var b strings.Builder
	if e.Waited > 0 {
		fmt.Fprintf(&b, "chat input not found after %s", e.Waited)
	} else {
		b.WriteString("chat input not found")
	}
	if e.URL != "" {
		fmt.Fprintf(&b, " (url %s)", e.URL)
	}
	switch {
	case e.AuthRedirect:
		b.WriteString(": redirected to a login page, log in manually")
	case e.LoginWall:
		b.WriteString(": login required, log in manually")
	}
	return b.String()
}

// SelectorMissError carries the candidates tried and a dump of the elements
// that were on the page instead
type SelectorMissError struct {
	Target   Target
	Tried    []Attempt
	Elements []browser.ElementSummary
}

func (e *SelectorMissError) Error() string {
	return fmt.Sprintf("no selector matched %s (tried %d candidates)", e.Target, len(e.Tried))
}

// Diagnostic is the multi-line report an operator needs to fix the candidates
func (e *SelectorMissError) Diagnostic() string {
	var b strings.Builder
	b.WriteString(e.Error())
	for _, a := range e.Tried {
		if a.Err != nil {
			fmt.Fprintf(&b, "\n  tried %s: %v", a.Selector, a.Err)
		} else {
			fmt.Fprintf(&b, "\n  tried %s: no match", a.Selector)
		}
	}
	if len(e.Elements) == 0 {
		b.WriteString("\n  no candidate elements on the page")
		return b.String()
	}
	fmt.Fprintf(&b, "\n  %d elements on the page:", len(e.Elements))
	for i, el := range e.Elements {
		fmt.Fprintf(&b, "\n  [%d] %s (try %s)", i, el, el.Selector)
	}
	return b.String()
}

// InjectionError means the text read back from the input differs from the prompt
type InjectionError struct {
	Expected string
	Got      string
}

func (e *InjectionError) Error() string {
	return fmt.Sprintf("injected text mismatch: expected %q, got %q", e.Expected, e.Got)
}

// WaitKind distinguishes the two ways waiting for a reply fails
type WaitKind int

const (
	WaitTimeout WaitKind = iota
	WaitEmptyResponse
)

// WaitError reports a failed reply wait. Use errors.Is with ErrWaitTimeout or
// ErrEmptyResponse to match the kind.
type WaitError struct {
	Kind          WaitKind
	Waited        time.Duration
	PreviousCount int
	LastCount     int
}

func (e *WaitError) Error() string {
	if e.Kind == WaitEmptyResponse {
		return fmt.Sprintf("%v (reply %d)", ErrEmptyResponse, e.LastCount)
	}
	return fmt.Sprintf("%v after %s (replies %d, expected more than %d)", ErrWaitTimeout, e.Waited, e.LastCount, e.PreviousCount)
}

func (e *WaitError) Is(target error) bool {
	switch target {
	case ErrWaitTimeout:
		return e.Kind == WaitTimeout
	case ErrEmptyResponse:
		return e.Kind == WaitEmptyResponse
	}
	return false
}

// AutomationError is the single failure surfaced to callers once retries are
// exhausted. Callers treat it as "temporarily unavailable".
type AutomationError struct {
	Op         string
	Attempts   int
	Diagnostic string
	Err        error
}

func (e *AutomationError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %s", e.Op, e.Attempts, e.Diagnostic)
}

func (e *AutomationError) Unwrap() error { return e.Err }

// diagnose renders the most useful description of err for an operator
func diagnose(err error) string {
	var miss *SelectorMissError
	if errors.As(err, &miss) {
		return miss.Diagnostic()
	}
	return err.Error()
}
