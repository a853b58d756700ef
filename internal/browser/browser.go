// Package browser wraps the headless browser backends behind the small
// surface the automation core needs: launch, one page, structural queries
// and keyboard/mouse input on the returned elements.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Driver names accepted in configuration
const (
	DriverChromeDP   = "chromedp"
	DriverPlaywright = "playwright"
)

// DefaultUserAgent is sent as an extra header on every request the page makes
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// DefaultLaunchArgs is the fixed flag set for constrained and headless hosts.
var DefaultLaunchArgs = []string{
	"--no-sandbox",
	"--disable-dev-shm-usage",
	"--disable-gpu",
	"--disable-web-security",
	"--disable-features=VizDisplayCompositor",
	"--disable-background-timer-throttling",
	"--disable-backgrounding-occluded-windows",
	"--disable-renderer-backgrounding",
	"--disable-field-trial-config",
	"--disable-back-forward-cache",
	"--disable-ipc-flooding-protection",
}

var (
	ErrUnknownDriver  = errors.New("unknown browser driver")
	ErrClosed         = errors.New("browser page is closed")
	ErrChromeNotFound = errors.New("Chrome browser not found. Please install Chrome or Chromium")
)

// ElementKind tells the injector how text gets into an element
type ElementKind int

const (
	// KindField is a plain input or textarea with a value property
	KindField ElementKind = iota
	// KindRich is a contenteditable region
	KindRich
	// KindOther is anything else (buttons, message containers)
	KindOther
)

func (k ElementKind) String() string {
	switch k {
	case KindField:
		return "field"
	case KindRich:
		return "rich"
	default:
		return "other"
	}
}

// clearContentScript empties a contenteditable region called as its this,
// and fires input so editor frameworks drop their copy of the text
const clearContentScript = `function() { this.innerHTML = ""; this.dispatchEvent(new Event("input", { bubbles: true })); }`

// LaunchOptions configures a browser launch
type LaunchOptions struct {
	Headless     bool
	ExecPath     string   // empty means discover
	RemoteURL    string   // attach to a running browser instead of launching one
	UserDataDir  string   // reuse a profile, e.g. one with a logged-in session
	Args         []string // extra flags appended to DefaultLaunchArgs
	WindowWidth  int
	WindowHeight int
}

// Driver launches browsers
type Driver interface {
	Name() string
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}

// Browser is a launched (or attached) browser process
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Querier runs a structural query against the live document
type Querier interface {
	QueryAll(ctx context.Context, selector string) ([]Element, error)
}

// Page is the single tab the session drives
type Page interface {
	Querier
	SetExtraHeaders(ctx context.Context, headers map[string]string) error
	// Navigate loads url and waits for network quiescence, bounded by timeout
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	Count(ctx context.Context, selector string) (int, error)
	URL(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Close() error
}

// Element is a handle to a node found by a query
type Element interface {
	Kind() ElementKind
	Focus(ctx context.Context) error
	Click(ctx context.Context) error
	// Clear empties a field's value
	Clear(ctx context.Context) error
	// ClearContent empties a rich region directly, bypassing the keyboard
	ClearContent(ctx context.Context) error
	// Type sends the text as key presses to the element
	Type(ctx context.Context, text string) error
	// Press sends a key chord such as "Enter", "Shift+Enter" or "Control+a"
	Press(ctx context.Context, chord string) error
	Value(ctx context.Context) (string, error)
	Text(ctx context.Context) (string, error)
}

// NewDriver returns the driver registered under name
func NewDriver(name string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", DriverChromeDP:
		return &ChromeDPDriver{}, nil
	case DriverPlaywright:
		return &PlaywrightDriver{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, name)
	}
}

// launchArgs merges the fixed flags with user-supplied extras, dropping duplicates
func launchArgs(extra []string) []string {
	seen := make(map[string]bool, len(DefaultLaunchArgs)+len(extra))
	args := make([]string, 0, len(DefaultLaunchArgs)+len(extra))
	for _, a := range append(append([]string{}, DefaultLaunchArgs...), extra...) {
		a = strings.TrimSpace(a)
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		args = append(args, a)
	}
	return args
}

// splitFlag turns "--name=value" into ("name", "value"); bare flags get "true"
func splitFlag(arg string) (string, string) {
	arg = strings.TrimLeft(arg, "-")
	if name, value, ok := strings.Cut(arg, "="); ok {
		return name, value
	}
	return arg, "true"
}
