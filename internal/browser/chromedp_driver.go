package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/lance13c/chatgate/internal/logging"
)

const defaultNavigationTimeout = 30 * time.Second

var chromeKeys = map[string]string{
	"Enter":      kb.Enter,
	"Backspace":  kb.Backspace,
	"Delete":     kb.Delete,
	"Tab":        kb.Tab,
	"Escape":     kb.Escape,
	"ArrowUp":    kb.ArrowUp,
	"ArrowDown":  kb.ArrowDown,
	"ArrowLeft":  kb.ArrowLeft,
	"ArrowRight": kb.ArrowRight,
}

var chromeModifiers = map[string]input.Modifier{
	ModControl: input.ModifierCtrl,
	ModMeta:    input.ModifierMeta,
	ModShift:   input.ModifierShift,
	ModAlt:     input.ModifierAlt,
}

// ChromeDPDriver drives Chrome over the DevTools protocol with chromedp
type ChromeDPDriver struct{}

// Name implements Driver
func (d *ChromeDPDriver) Name() string { return DriverChromeDP }

// Launch starts Chrome, or attaches to one when opts.RemoteURL is set
func (d *ChromeDPDriver) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	log := logging.Named("chromedp")

	var allocCtx context.Context
	var allocCancel context.CancelFunc

	if opts.RemoteURL != "" {
		wsURL, err := ResolveDebuggerURL(ctx, opts.RemoteURL)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DevTools endpoint: %w", err)
		}
		log.Infof("Attaching to running Chrome at %s", wsURL)
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), wsURL)
	} else {
		execPath := opts.ExecPath
		if execPath == "" {
			var err error
			if execPath, err = FindChrome(); err != nil {
				return nil, err
			}
		}
		log.Infof("Using Chrome from: %s (headless=%t)", execPath, opts.Headless)
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), chromeAllocatorOptions(execPath, opts)...)
	}

	browserCtx, browserCancel := chromedp.NewContext(
		allocCtx,
		chromedp.WithLogf(log.Debugf),
		chromedp.WithErrorf(log.Debugf),
	)

	// Start Chrome on the browser context itself; a timeout context here would
	// bound the lifetime of the whole browser.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx) }()

	select {
	case err := <-started:
		if err != nil {
			browserCancel()
			allocCancel()
			return nil, fmt.Errorf("failed to start Chrome: %w", err)
		}
	case <-ctx.Done():
		browserCancel()
		allocCancel()
		return nil, ctx.Err()
	}

	return &chromeBrowser{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
	}, nil
}

func chromeAllocatorOptions(execPath string, opts LaunchOptions) []chromedp.ExecAllocatorOption {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(execPath),
	)

	if !opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}

	width, height := opts.WindowWidth, opts.WindowHeight
	if width <= 0 || height <= 0 {
		width, height = 1920, 1080
	}
	allocOpts = append(allocOpts, chromedp.WindowSize(width, height))

	if opts.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
	}

	for _, arg := range launchArgs(opts.Args) {
		name, value := splitFlag(arg)
		if value == "true" {
			allocOpts = append(allocOpts, chromedp.Flag(name, true))
		} else {
			allocOpts = append(allocOpts, chromedp.Flag(name, value))
		}
	}
	return allocOpts
}

type chromeBrowser struct {
	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	closed      bool
}

func (b *chromeBrowser) NewPage(ctx context.Context) (Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	tabCtx, tabCancel := chromedp.NewContext(b.ctx)
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	return &chromePage{ctx: tabCtx, cancel: tabCancel}, nil
}

func (b *chromeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.cancel()
	b.allocCancel()
	return nil
}

type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// bind derives a chromedp-capable context from the tab that also stops when
// the caller's ctx does, optionally bounded by timeout.
func (p *chromePage) bind(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	c, cancel := context.WithCancel(p.ctx)
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		c, cancelDeadline = context.WithDeadline(c, deadline)
		prev := cancel
		cancel = func() { cancelDeadline(); prev() }
	}
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		c, cancelTimeout = context.WithTimeout(c, timeout)
		prev := cancel
		cancel = func() { cancelTimeout(); prev() }
	}
	stop := context.AfterFunc(ctx, cancel)
	return c, func() {
		stop()
		cancel()
	}
}

func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	if p.ctx.Err() != nil {
		return ErrClosed
	}
	rctx, cancel := p.bind(ctx, 0)
	defer cancel()
	return chromedp.Run(rctx, actions...)
}

func (p *chromePage) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	h := make(network.Headers, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	return p.run(ctx, network.Enable(), network.SetExtraHTTPHeaders(h))
}

func (p *chromePage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultNavigationTimeout
	}
	rctx, cancel := p.bind(ctx, timeout)
	defer cancel()

	if err := chromedp.Run(rctx, page.SetLifecycleEventsEnabled(true)); err != nil {
		return fmt.Errorf("failed to enable lifecycle events: %w", err)
	}

	// Only count networkIdle after the new document's init event, so a stale
	// event for the previous document cannot satisfy the wait.
	idle := make(chan struct{}, 1)
	var sawInit bool
	chromedp.ListenTarget(rctx, func(ev interface{}) {
		e, ok := ev.(*page.EventLifecycleEvent)
		if !ok {
			return
		}
		switch e.Name {
		case "init":
			sawInit = true
		case "networkIdle":
			if sawInit {
				select {
				case idle <- struct{}{}:
				default:
				}
			}
		}
	})

	if err := chromedp.Run(rctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}

	select {
	case <-idle:
		return nil
	case <-rctx.Done():
		return fmt.Errorf("timed out waiting for network idle on %s: %w", url, rctx.Err())
	}
}

func (p *chromePage) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	var nodes []*cdp.Node
	if err := p.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return nil, err
	}
	elements := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		elements = append(elements, &chromeElement{page: p, node: n})
	}
	return elements, nil
}

func (p *chromePage) Count(ctx context.Context, selector string) (int, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return 0, err
	}
	var n int
	script := fmt.Sprintf(`document.querySelectorAll(%s).length`, quoted)
	if err := p.run(ctx, chromedp.Evaluate(script, &n)); err != nil {
		return 0, err
	}
	return n, nil
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var u string
	err := p.run(ctx, chromedp.Location(&u))
	return u, err
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *chromePage) Close() error {
	p.once.Do(p.cancel)
	return nil
}

type chromeElement struct {
	page *chromePage
	node *cdp.Node
}

func (e *chromeElement) ids() []cdp.NodeID {
	return []cdp.NodeID{e.node.NodeID}
}

func (e *chromeElement) Kind() ElementKind {
	switch e.node.LocalName {
	case "textarea", "input":
		return KindField
	}
	if v, ok := e.node.Attribute("contenteditable"); ok && v != "false" {
		return KindRich
	}
	return KindOther
}

func (e *chromeElement) Focus(ctx context.Context) error {
	return e.page.run(ctx, chromedp.Focus(e.ids(), chromedp.ByNodeID))
}

func (e *chromeElement) Click(ctx context.Context) error {
	return e.page.run(ctx, chromedp.Click(e.ids(), chromedp.ByNodeID))
}

func (e *chromeElement) Clear(ctx context.Context) error {
	return e.page.run(ctx, chromedp.Clear(e.ids(), chromedp.ByNodeID))
}

func (e *chromeElement) ClearContent(ctx context.Context) error {
	return e.page.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(e.node.NodeID).Do(ctx)
		if err != nil {
			return err
		}
		defer runtime.ReleaseObject(obj.ObjectID).Do(ctx)

		return chromedp.CallFunctionOn(clearContentScript, nil, func(p *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
			return p.WithObjectID(obj.ObjectID)
		}).Do(ctx)
	}))
}

func (e *chromeElement) Type(ctx context.Context, text string) error {
	return e.page.run(ctx, chromedp.SendKeys(e.ids(), text, chromedp.ByNodeID))
}

func (e *chromeElement) Press(ctx context.Context, chord string) error {
	c, err := ParseChord(chord)
	if err != nil {
		return err
	}
	key, ok := chromeKeys[c.Key]
	if !ok {
		key = c.Key
	}
	mods := make([]input.Modifier, 0, len(c.Modifiers))
	for _, m := range c.Modifiers {
		mods = append(mods, chromeModifiers[m])
	}
	return e.page.run(ctx,
		chromedp.Focus(e.ids(), chromedp.ByNodeID),
		chromedp.KeyEvent(key, chromedp.KeyModifiers(mods...)),
	)
}

func (e *chromeElement) Value(ctx context.Context) (string, error) {
	var v string
	err := e.page.run(ctx, chromedp.Value(e.ids(), &v, chromedp.ByNodeID))
	return v, err
}

func (e *chromeElement) Text(ctx context.Context) (string, error) {
	var t string
	err := e.page.run(ctx, chromedp.Text(e.ids(), &t, chromedp.ByNodeID))
	return t, err
}
