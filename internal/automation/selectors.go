package automation

import (
	"context"
	"fmt"

	"github.com/lance13c/chatgate/internal/browser"
)

// Target is a logical UI role resolved to a page element
type Target string

const (
	TargetChatInput        Target = "chat_input"
	TargetSendButton       Target = "send_button"
	TargetAssistantMessage Target = "assistant_message"
	TargetUserMessage      Target = "user_message"
	TargetLoginIndicator   Target = "login_indicator"
)

// Targets lists every target in a stable order
var Targets = []Target{
	TargetChatInput,
	TargetSendButton,
	TargetAssistantMessage,
	TargetUserMessage,
	TargetLoginIndicator,
}

// Candidates maps each target to its ordered selector list, most specific first
type Candidates map[Target][]string

// DefaultCandidates returns the built-in selectors for the chat UI
func DefaultCandidates() Candidates {
	return Candidates{
		TargetChatInput: {
			`textarea[placeholder*="Message"]`,
			`#prompt-textarea`,
			`div[contenteditable="true"][data-virtualkeyboard]`,
			`div[contenteditable="true"]`,
			`textarea`,
		},
		TargetSendButton: {
			`button[data-testid="send-button"]`,
			`#composer-submit-button`,
			`button[aria-label*="Send"]`,
			`form button[type="submit"]`,
		},
		TargetAssistantMessage: {
			`[data-message-author-role="assistant"]`,
		},
		TargetUserMessage: {
			`[data-message-author-role="user"]`,
		},
		TargetLoginIndicator: {
			`button[data-testid="login-button"]`,
			`a[href*="/auth/login"]`,
			`button[data-testid="signup-button"]`,
			`input[type="password"]`,
		},
	}
}

// Merge returns a copy of c where every non-empty list in override replaces
// the default list for that target
func (c Candidates) Merge(override map[string][]string) (Candidates, error) {
	merged := make(Candidates, len(c))
	for t, list := range c {
		merged[t] = append([]string(nil), list...)
	}
	for name, list := range override {
		t := Target(name)
		if !knownTarget(t) {
			return nil, fmt.Errorf("unknown selector target %q", name)
		}
		if len(list) > 0 {
			merged[t] = append([]string(nil), list...)
		}
	}
	return merged, nil
}

func knownTarget(t Target) bool {
	for _, k := range Targets {
		if k == t {
			return true
		}
	}
	return false
}

// diagnosticQueries select the elements dumped when a target misses
var diagnosticQueries = map[Target]string{
	TargetChatInput:        "textarea, input, [contenteditable]",
	TargetSendButton:       "button",
	TargetAssistantMessage: "[data-message-author-role], article",
	TargetUserMessage:      "[data-message-author-role], article",
	TargetLoginIndicator:   "button, a",
}

// Attempt records one candidate query and its error, if the query failed
type Attempt struct {
	Selector string
	Err      error
}

// Resolution is the tagged result of Resolve: Found reports which case it is
type Resolution struct {
	Target   Target
	Element  browser.Element
	Selector string
	Tried    []Attempt
}

// Found reports whether a candidate matched
func (r Resolution) Found() bool { return r.Element != nil }

// Resolve queries candidates in order and returns the first element of the
// first candidate that matches. Query errors are recorded, never returned,
// and no candidate after the first match is queried.
func Resolve(ctx context.Context, q browser.Querier, target Target, candidates []string) Resolution {
	res := Resolution{Target: target}
	for _, sel := range candidates {
		if ctx.Err() != nil {
			res.Tried = append(res.Tried, Attempt{Selector: sel, Err: ctx.Err()})
			break
		}
		elements, err := q.QueryAll(ctx, sel)
		res.Tried = append(res.Tried, Attempt{Selector: sel, Err: err})
		if err == nil && len(elements) > 0 {
			res.Element = elements[0]
			res.Selector = sel
			return res
		}
	}
	return res
}

// Diagnose turns a miss into a SelectorMissError carrying a dump of the
// elements the page had where the target was expected
func Diagnose(ctx context.Context, page browser.Page, res Resolution) *SelectorMissError {
	miss := &SelectorMissError{Target: res.Target, Tried: res.Tried}

	query, ok := diagnosticQueries[res.Target]
	if !ok {
		return miss
	}
	html, err := page.HTML(ctx)
	if err != nil {
		return miss
	}
	if summaries, err := browser.SummarizeElements(html, query, 25); err == nil {
		miss.Elements = summaries
	}
	return miss
}
