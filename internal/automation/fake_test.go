package automation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lance13c/chatgate/internal/browser"
	"go.uber.org/zap/zaptest"
)

// fakeElement is an in-memory element. Fields, rich regions and message
// containers all keep their content in value.
type fakeElement struct {
	mu        sync.Mutex
	kind      browser.ElementKind
	value     string
	selected  bool
	selectAll map[string]bool // chords that select all; nil means every chord works
	readback  func(string) string
	typeErr   error
	pressed   []string
	typed     int
	cleared   bool
	clicks    int
	onEnter   func(value string)
	onClick   func()
}

func field() *fakeElement              { return &fakeElement{kind: browser.KindField} }
func rich() *fakeElement               { return &fakeElement{kind: browser.KindRich} }
func message(text string) *fakeElement { return &fakeElement{kind: browser.KindOther, value: text} }

func (e *fakeElement) Kind() browser.ElementKind { return e.kind }

func (e *fakeElement) Focus(ctx context.Context) error { return ctx.Err() }

func (e *fakeElement) Click(ctx context.Context) error {
	e.mu.Lock()
	e.clicks++
	cb := e.onClick
	e.mu.Unlock()
	if cb != nil {
		cb()
	}
	return nil
}

func (e *fakeElement) Clear(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value = ""
	return nil
}

func (e *fakeElement) ClearContent(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value = ""
	e.cleared = true
	return nil
}

func (e *fakeElement) Type(ctx context.Context, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.typeErr != nil {
		return e.typeErr
	}
	e.value += text
	e.typed++
	return nil
}

func (e *fakeElement) Press(ctx context.Context, chord string) error {
	e.mu.Lock()
	e.pressed = append(e.pressed, chord)
	var cb func(string)
	var v string
	switch chord {
	case "Control+a", "Meta+a":
		if e.selectAll == nil || e.selectAll[chord] {
			e.selected = true
		}
	case "Backspace":
		if e.selected {
			e.value = ""
			e.selected = false
		} else if r := []rune(e.value); len(r) > 0 {
			e.value = string(r[:len(r)-1])
		}
	case "Shift+Enter":
		e.value += "\n"
	case "Enter":
		cb, v = e.onEnter, e.value
	}
	e.mu.Unlock()
	if cb != nil {
		cb(v)
	}
	return nil
}

func (e *fakeElement) Value(ctx context.Context) (string, error) { return e.read(), nil }
func (e *fakeElement) Text(ctx context.Context) (string, error)  { return e.read(), nil }

func (e *fakeElement) read() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.readback != nil {
		return e.readback(e.value)
	}
	return e.value
}

func (e *fakeElement) clickCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

// fakePage maps selectors to element lists
type fakePage struct {
	mu       sync.Mutex
	url      string
	html     string
	elements map[string][]*fakeElement
	queryErr map[string]error
	queries  []string
	headers  map[string]string
	navErr   error
	closed   int
}

func newFakePage() *fakePage {
	return &fakePage{
		url:      "https://chat.example.test/",
		html:     "<html><body></body></html>",
		elements: make(map[string][]*fakeElement),
		queryErr: make(map[string]error),
	}
}

func (p *fakePage) set(sel string, els ...*fakeElement) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements[sel] = els
}

func (p *fakePage) add(sel string, el *fakeElement) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements[sel] = append(p.elements[sel], el)
}

func (p *fakePage) count(sel string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.elements[sel])
}

func (p *fakePage) setURL(u string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = u
}

func (p *fakePage) queried() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.queries...)
}

func (p *fakePage) QueryAll(ctx context.Context, sel string) ([]browser.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries = append(p.queries, sel)
	if err := p.queryErr[sel]; err != nil {
		return nil, err
	}
	out := make([]browser.Element, 0, len(p.elements[sel]))
	for _, el := range p.elements[sel] {
		out = append(out, el)
	}
	return out, nil
}

func (p *fakePage) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.headers = headers
	return nil
}

func (p *fakePage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.navErr
}

func (p *fakePage) Count(ctx context.Context, sel string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.queryErr[sel]; err != nil {
		return 0, err
	}
	return len(p.elements[sel]), nil
}

func (p *fakePage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *fakePage) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

// fakeDriver hands out the same page on every launch so page state survives
// the cleanup between attempts, like a conversation left open server side
type fakeDriver struct {
	mu        sync.Mutex
	page      *fakePage
	launchErr error
	launches  int
	browsers  []*fakeBrowser
}

func (d *fakeDriver) Name() string { return "fake" }

func (d *fakeDriver) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Browser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.launches++
	if d.launchErr != nil {
		return nil, d.launchErr
	}
	b := &fakeBrowser{page: d.page}
	d.browsers = append(d.browsers, b)
	return b, nil
}

func (d *fakeDriver) launchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.launches
}

type fakeBrowser struct {
	mu     sync.Mutex
	page   *fakePage
	closed int
}

func (b *fakeBrowser) NewPage(ctx context.Context) (browser.Page, error) { return b.page, nil }

func (b *fakeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed++
	return nil
}

// chatApp wires a fakePage up like the chat UI: the input, a send button,
// user and assistant message lists, and a reply that shows up after a delay
type chatApp struct {
	mu         sync.Mutex
	page       *fakePage
	input      *fakeElement
	send       *fakeElement
	enterSends bool
	clickSends bool
	replyDelay time.Duration
	reply      func(prompt string) string
	timers     []*time.Timer
}

var defaults = DefaultCandidates()

func newChatApp(t *testing.T) *chatApp {
	app := &chatApp{
		page:       newFakePage(),
		input:      field(),
		send:       message("Send"),
		enterSends: true,
		reply:      func(prompt string) string { return "  reply to " + prompt + "\n" },
	}
	app.page.set(defaults[TargetChatInput][0], app.input)
	app.page.set(defaults[TargetSendButton][0], app.send)

	app.input.onEnter = func(v string) {
		app.mu.Lock()
		ok := app.enterSends
		app.mu.Unlock()
		if ok {
			app.deliver(v)
		}
	}
	app.send.onClick = func() {
		app.mu.Lock()
		ok := app.clickSends
		app.mu.Unlock()
		if ok {
			app.deliver(app.input.read())
		}
	}

	t.Cleanup(func() {
		app.mu.Lock()
		defer app.mu.Unlock()
		for _, tm := range app.timers {
			tm.Stop()
		}
	})
	return app
}

func (app *chatApp) deliver(prompt string) {
	app.input.mu.Lock()
	app.input.value = ""
	app.input.mu.Unlock()

	app.page.add(defaults[TargetUserMessage][0], message(prompt))

	app.mu.Lock()
	defer app.mu.Unlock()
	text := app.reply(prompt)
	post := func() { app.page.add(defaults[TargetAssistantMessage][0], message(text)) }
	if app.replyDelay <= 0 {
		post()
		return
	}
	app.timers = append(app.timers, time.AfterFunc(app.replyDelay, post))
}

func (app *chatApp) replies() int { return app.page.count(defaults[TargetAssistantMessage][0]) }

func (app *chatApp) userMessages() int { return app.page.count(defaults[TargetUserMessage][0]) }

func testOptions(t *testing.T, d *fakeDriver) Options {
	opts := DefaultOptions()
	opts.Driver = d
	opts.TargetURL = "https://chat.example.test/"
	opts.LoginPollInterval = 5 * time.Millisecond
	opts.LoginMaxWait = 100 * time.Millisecond
	opts.TypingDelay = 0
	opts.ResponseTimeout = 300 * time.Millisecond
	opts.FallbackTimeout = 300 * time.Millisecond
	opts.ReplyPollInterval = 5 * time.Millisecond
	opts.SettleDelay = time.Millisecond
	opts.Backoff = time.Millisecond
	opts.Logger = zaptest.NewLogger(t).Sugar()
	return opts
}
