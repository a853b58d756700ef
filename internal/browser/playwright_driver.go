package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lance13c/chatgate/internal/logging"
	"github.com/playwright-community/playwright-go"
)

const defaultActionTimeout = 30 * time.Second

// PlaywrightDriver drives Chromium through the Playwright driver process
type PlaywrightDriver struct{}

// Name implements Driver
func (d *PlaywrightDriver) Name() string { return DriverPlaywright }

// Launch starts the Playwright driver and a Chromium instance. A RemoteURL
// attaches over CDP; a UserDataDir launches a persistent context.
func (d *PlaywrightDriver) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := logging.Named("playwright")

	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   logging.Writer(),
		Stderr:   logging.Writer(),
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		log.Infof("Playwright driver not ready (%v), installing", err)
		if installErr := playwright.Install(runOpts); installErr != nil {
			return nil, fmt.Errorf("failed to install playwright: %w", installErr)
		}
		if pw, err = playwright.Run(runOpts); err != nil {
			return nil, fmt.Errorf("failed to start playwright: %w", err)
		}
	}

	b := &playwrightBrowser{pw: pw}
	width, height := opts.WindowWidth, opts.WindowHeight
	if width <= 0 || height <= 0 {
		width, height = 1920, 1080
	}
	viewport := &playwright.Size{Width: width, Height: height}

	switch {
	case opts.RemoteURL != "":
		log.Infof("Attaching to running Chrome at %s", opts.RemoteURL)
		b.browser, err = pw.Chromium.ConnectOverCDP(opts.RemoteURL)
	case opts.UserDataDir != "":
		persistent := playwright.BrowserTypeLaunchPersistentContextOptions{
			Headless: playwright.Bool(opts.Headless),
			Args:     launchArgs(opts.Args),
			Viewport: viewport,
		}
		if opts.ExecPath != "" {
			persistent.ExecutablePath = playwright.String(opts.ExecPath)
		}
		b.persistent, err = pw.Chromium.LaunchPersistentContext(opts.UserDataDir, persistent)
	default:
		launch := playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(opts.Headless),
			Args:     launchArgs(opts.Args),
		}
		if opts.ExecPath != "" {
			launch.ExecutablePath = playwright.String(opts.ExecPath)
		}
		b.browser, err = pw.Chromium.Launch(launch)
	}
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	b.viewport = viewport
	return b, nil
}

type playwrightBrowser struct {
	mu         sync.Mutex
	pw         *playwright.Playwright
	browser    playwright.Browser
	persistent playwright.BrowserContext
	viewport   *playwright.Size
	closed     bool
}

func (b *playwrightBrowser) NewPage(ctx context.Context) (Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if b.persistent != nil {
		// A persistent context opens with one tab already
		if pages := b.persistent.Pages(); len(pages) > 0 {
			return newPlaywrightPage(pages[0], nil), nil
		}
		p, err := b.persistent.NewPage()
		if err != nil {
			return nil, fmt.Errorf("failed to create page: %w", err)
		}
		return newPlaywrightPage(p, nil), nil
	}

	bctx, err := b.browser.NewContext(playwright.BrowserNewContextOptions{Viewport: b.viewport})
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}
	p, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	return newPlaywrightPage(p, bctx), nil
}

func (b *playwrightBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	if b.persistent != nil {
		_ = b.persistent.Close()
	}
	if b.browser != nil {
		_ = b.browser.Close()
	}
	if err := b.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

type playwrightPage struct {
	page    playwright.Page
	context playwright.BrowserContext // nil when the page belongs to a persistent context
	once    sync.Once
}

func newPlaywrightPage(p playwright.Page, bctx playwright.BrowserContext) *playwrightPage {
	p.SetDefaultTimeout(float64(defaultActionTimeout.Milliseconds()))
	return &playwrightPage{page: p, context: bctx}
}

func (p *playwrightPage) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.SetExtraHTTPHeaders(headers)
}

func (p *playwrightPage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = defaultNavigationTimeout
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (p *playwrightPage) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	handles, err := p.page.QuerySelectorAll(selector)
	if err != nil {
		return nil, err
	}
	elements := make([]Element, 0, len(handles))
	for _, h := range handles {
		elements = append(elements, &playwrightElement{handle: h, kind: handleKind(h)})
	}
	return elements, nil
}

func handleKind(h playwright.ElementHandle) ElementKind {
	v, err := h.Evaluate(`el => {
		const tag = el.tagName.toLowerCase();
		if (tag === "input" || tag === "textarea") return "field";
		return el.isContentEditable ? "rich" : "other";
	}`)
	if err != nil {
		return KindOther
	}
	switch v {
	case "field":
		return KindField
	case "rich":
		return KindRich
	default:
		return KindOther
	}
}

func (p *playwrightPage) Count(ctx context.Context, selector string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return p.page.Locator(selector).Count()
}

func (p *playwrightPage) URL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.page.URL(), nil
}

func (p *playwrightPage) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.page.Content()
}

func (p *playwrightPage) Close() error {
	var err error
	p.once.Do(func() {
		err = p.page.Close()
		if p.context != nil {
			_ = p.context.Close()
		}
	})
	return err
}

type playwrightElement struct {
	handle playwright.ElementHandle
	kind   ElementKind
}

func (e *playwrightElement) Kind() ElementKind { return e.kind }

func (e *playwrightElement) Focus(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.handle.Focus()
}

func (e *playwrightElement) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.handle.Click()
}

func (e *playwrightElement) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.handle.Fill("")
}

func (e *playwrightElement) ClearContent(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := e.handle.Evaluate("el => (" + clearContentScript + ").call(el)")
	return err
}

func (e *playwrightElement) Type(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.handle.Type(text)
}

func (e *playwrightElement) Press(ctx context.Context, chord string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := ParseChord(chord)
	if err != nil {
		return err
	}
	return e.handle.Press(c.String())
}

func (e *playwrightElement) Value(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return e.handle.InputValue()
}

func (e *playwrightElement) Text(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return e.handle.InnerText()
}
