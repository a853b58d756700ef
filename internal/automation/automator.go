// Package automation drives one browser session against a web chat UI and
// turns it into a prompt-in, reply-out call.
package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lance13c/chatgate/internal/browser"
	"github.com/lance13c/chatgate/internal/logging"
	"go.uber.org/zap"
)

// ReadinessPolicy decides how login is detected after bootstrap
type ReadinessPolicy string

const (
	// PolicyInteractive waits for a human to log in
	PolicyInteractive ReadinessPolicy = "interactive"
	// PolicyPermissive assumes the session is logged in and lets the first
	// submission discover a login wall
	PolicyPermissive ReadinessPolicy = "permissive"
)

// ParsePolicy validates a policy name
func ParsePolicy(name string) (ReadinessPolicy, error) {
	switch p := ReadinessPolicy(strings.ToLower(strings.TrimSpace(name))); p {
	case PolicyInteractive, PolicyPermissive:
		return p, nil
	case "":
		return PolicyInteractive, nil
	default:
		return "", fmt.Errorf("unknown readiness policy %q (want interactive or permissive)", name)
	}
}

// Options configures an Automator
type Options struct {
	TargetURL         string
	Driver            browser.Driver
	Launch            browser.LaunchOptions
	UserAgent         string
	NavigationTimeout time.Duration

	Policy               ReadinessPolicy
	LoginPollInterval    time.Duration
	LoginMaxWait         time.Duration
	AuthRedirectPatterns []string

	TypingDelay       time.Duration
	ResponseTimeout   time.Duration
	FallbackTimeout   time.Duration
	ReplyPollInterval time.Duration
	SettleDelay       time.Duration
	Backoff           time.Duration
	StartupRetries    int

	Candidates Candidates
	Logger     *zap.SugaredLogger
}

// DefaultOptions returns the stock timings and selectors. TargetURL and
// Driver still have to be set.
func DefaultOptions() Options {
	return Options{
		TargetURL:            "https://chat.openai.com/",
		UserAgent:            browser.DefaultUserAgent,
		NavigationTimeout:    30 * time.Second,
		Policy:               PolicyInteractive,
		LoginPollInterval:    2 * time.Second,
		LoginMaxWait:         300 * time.Second,
		AuthRedirectPatterns: []string{"/auth/login", "/login", "auth.openai.com", "auth0.openai.com"},
		TypingDelay:          50 * time.Millisecond,
		ResponseTimeout:      30 * time.Second,
		FallbackTimeout:      15 * time.Second,
		ReplyPollInterval:    500 * time.Millisecond,
		SettleDelay:          2 * time.Second,
		Backoff:              5 * time.Second,
		StartupRetries:       3,
		Candidates:           DefaultCandidates(),
	}
}

// ConversationTurn is one prompt and its reply. It lives for a single attempt.
type ConversationTurn struct {
	ID                string
	Prompt            string
	PreviousCount     int
	PreviousUserCount int
	Response          string
	FallbackClicks    int
}

func newTurn(prompt string) *ConversationTurn {
	return &ConversationTurn{ID: uuid.NewString(), Prompt: prompt}
}

// Automator owns the session and serializes every operation against it
type Automator struct {
	opts       Options
	opMu       sync.Mutex
	session    *Session
	controller *Controller
	injector   *Injector
	waiter     *Waiter
	log        *zap.SugaredLogger
}

// New validates opts and returns an Automator with a closed session
func New(opts Options) (*Automator, error) {
	if opts.Driver == nil {
		return nil, errors.New("automation: no browser driver configured")
	}
	if strings.TrimSpace(opts.TargetURL) == "" {
		return nil, errors.New("automation: target URL is required")
	}
	if opts.Candidates == nil {
		opts.Candidates = DefaultCandidates()
	}
	if err := requireCandidates(opts.Candidates); err != nil {
		return nil, err
	}
	if opts.Policy == "" {
		opts.Policy = PolicyInteractive
	}
	if opts.FallbackTimeout <= 0 {
		opts.FallbackTimeout = opts.ResponseTimeout / 2
	}

	log := opts.Logger
	if log == nil {
		log = logging.Named("automation")
	}

	return &Automator{
		opts:       opts,
		session:    &Session{},
		controller: NewController(opts.Backoff, log),
		injector:   NewInjector(opts.TypingDelay, log),
		waiter:     NewWaiter(opts.Candidates[TargetAssistantMessage], opts.ReplyPollInterval, opts.SettleDelay, log),
		log:        log,
	}, nil
}

func requireCandidates(c Candidates) error {
	for _, t := range []Target{TargetChatInput, TargetAssistantMessage} {
		if len(c[t]) == 0 {
			return fmt.Errorf("automation: no selector candidates for %s", t)
		}
	}
	return nil
}

// SetCandidates swaps the selector lists. It waits for the operation in
// flight, so a submission never sees a mix of old and new selectors.
func (a *Automator) SetCandidates(c Candidates) error {
	if err := requireCandidates(c); err != nil {
		return err
	}
	a.opMu.Lock()
	defer a.opMu.Unlock()

	a.opts.Candidates = c
	a.waiter = NewWaiter(c[TargetAssistantMessage], a.opts.ReplyPollInterval, a.opts.SettleDelay, a.log)
	return nil
}

// Controller exposes the retry controller so callers can observe transitions
func (a *Automator) Controller() *Controller { return a.controller }

// IsReady reports the session flags without side effects
func (a *Automator) IsReady() Readiness {
	return a.session.Readiness()
}

// Start bootstraps the session and waits for readiness under the retry
// controller, the way the server warms up before taking requests
func (a *Automator) Start(ctx context.Context) error {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	return a.controller.Run(ctx, "startup", a.opts.StartupRetries, func(ctx context.Context, _ RetryContext) error {
		return a.ensureReady(ctx)
	}, a.cleanup)
}

// Bootstrap launches the browser and opens the target page once, without
// retries. On failure the session stays uninitialized.
func (a *Automator) Bootstrap(ctx context.Context) error {
	a.opMu.Lock()
	defer a.opMu.Unlock()
	return a.bootstrap(ctx)
}

// DetectReadiness applies the readiness policy to an initialized session
func (a *Automator) DetectReadiness(ctx context.Context) error {
	a.opMu.Lock()
	defer a.opMu.Unlock()
	return a.detectReadiness(ctx)
}

// Reply is the outcome of a successful submission
type Reply struct {
	TurnID   string
	Text     string
	Attempts int
	Elapsed  time.Duration
}

// SubmitPrompt sends text and returns the reply. Every failure, after up to
// maxRetries attempts, is an *AutomationError; the session is cleaned up and
// reusable afterwards.
func (a *Automator) SubmitPrompt(ctx context.Context, text string, maxRetries int) (string, error) {
	reply, err := a.Submit(ctx, text, maxRetries)
	if err != nil {
		return "", err
	}
	return reply.Text, nil
}

// Submit is SubmitPrompt with the turn id, attempt count and elapsed time
func (a *Automator) Submit(ctx context.Context, text string, maxRetries int) (*Reply, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &AutomationError{Op: "submit", Diagnostic: ErrEmptyPrompt.Error(), Err: ErrEmptyPrompt}
	}

	a.opMu.Lock()
	defer a.opMu.Unlock()

	start := time.Now()
	reply := &Reply{}
	err := a.controller.Run(ctx, "submit", maxRetries, func(ctx context.Context, rc RetryContext) error {
		reply.Attempts = rc.Attempt
		if err := a.ensureReady(ctx); err != nil {
			return err
		}
		turn := newTurn(text)
		reply.TurnID = turn.ID
		if err := a.submit(ctx, turn); err != nil {
			return err
		}
		reply.Text = turn.Response
		return nil
	}, a.cleanup)
	if err != nil {
		return nil, err
	}
	reply.Elapsed = time.Since(start)
	return reply, nil
}

// Shutdown releases the browser for good. A submission still running fails
// with ErrShutdown instead of relaunching. Safe to call more than once and on
// a session that never opened.
func (a *Automator) Shutdown() {
	if err := a.session.shutdown(); err != nil {
		a.log.Warnf("Error closing browser: %v", err)
		return
	}
	a.log.Debugf("Browser session closed")
}

func (a *Automator) cleanup() {
	if err := a.session.close(); err != nil {
		a.log.Debugf("Cleanup after failed attempt: %v", err)
	}
}

func (a *Automator) ensureReady(ctx context.Context) error {
	r := a.session.Readiness()
	if !r.Initialized {
		if err := a.bootstrap(ctx); err != nil {
			return err
		}
	}
	if !a.session.Readiness().LoggedIn {
		return a.detectReadiness(ctx)
	}
	return nil
}

func (a *Automator) bootstrap(ctx context.Context) error {
	if a.session.isShut() {
		return ErrShutdown
	}
	b, err := a.opts.Driver.Launch(ctx, a.opts.Launch)
	if err != nil {
		return &BootstrapError{Step: "launch", Err: err}
	}

	page, err := b.NewPage(ctx)
	if err != nil {
		b.Close()
		return &BootstrapError{Step: "page", Err: err}
	}

	fail := func(step string, err error) error {
		page.Close()
		b.Close()
		return &BootstrapError{Step: step, Err: err}
	}

	if a.opts.UserAgent != "" {
		if err := page.SetExtraHeaders(ctx, map[string]string{"User-Agent": a.opts.UserAgent}); err != nil {
			return fail("headers", err)
		}
	}

	if err := page.Navigate(ctx, a.opts.TargetURL, a.opts.NavigationTimeout); err != nil {
		return fail("navigate", err)
	}

	if err := a.session.attach(b, page); err != nil {
		page.Close()
		b.Close()
		return err
	}
	a.log.Infof("Browser initialized (%s) and navigated to %s", a.opts.Driver.Name(), a.opts.TargetURL)
	return nil
}

func (a *Automator) detectReadiness(ctx context.Context) error {
	page := a.session.Page()
	if page == nil {
		return ErrNotInitialized
	}

	if a.opts.Policy == PolicyPermissive {
		a.session.setLoggedIn(true)
		a.log.Infof("Readiness policy is permissive, assuming logged in")
		return nil
	}

	if Resolve(ctx, page, TargetChatInput, a.opts.Candidates[TargetChatInput]).Found() {
		a.session.setLoggedIn(true)
		a.log.Infof("Already logged in")
		return nil
	}

	a.log.Warnf("Not logged in. Please log in manually in the browser, waiting up to %s", a.opts.LoginMaxWait)

	var lastURL string
	var authRedirect bool
	err := pollUntil(ctx, a.opts.LoginPollInterval, a.opts.LoginMaxWait, func(ctx context.Context) bool {
		if Resolve(ctx, page, TargetChatInput, a.opts.Candidates[TargetChatInput]).Found() {
			return true
		}
		if u, err := page.URL(ctx); err == nil && u != lastURL {
			lastURL = u
			if a.isAuthURL(u) {
				authRedirect = true
				a.log.Infof("Login page at %s, waiting for login to finish", u)
			}
		}
		return false
	})

	switch {
	case err == nil:
		a.session.setLoggedIn(true)
		a.log.Infof("Login detected, ready to process requests")
		return nil
	case errors.Is(err, errPollTimeout):
		a.log.Errorf("Login timeout after %s", a.opts.LoginMaxWait)
		return &NotReadyError{Waited: a.opts.LoginMaxWait, URL: lastURL, AuthRedirect: authRedirect}
	default:
		return err
	}
}

func (a *Automator) isAuthURL(u string) bool {
	for _, p := range a.opts.AuthRedirectPatterns {
		if p != "" && strings.Contains(u, p) {
			return true
		}
	}
	return false
}

// loginWall reports a NotReadyError when the page shows signs of a login
// wall, nil when it does not
func (a *Automator) loginWall(ctx context.Context, page browser.Page) error {
	wall := &NotReadyError{}
	if u, err := page.URL(ctx); err == nil {
		wall.URL = u
		wall.AuthRedirect = a.isAuthURL(u)
	}
	wall.LoginWall = Resolve(ctx, page, TargetLoginIndicator, a.opts.Candidates[TargetLoginIndicator]).Found()
	if wall.AuthRedirect || wall.LoginWall {
		return wall
	}
	return nil
}

// submit runs one injection, dispatch and wait cycle for turn
func (a *Automator) submit(ctx context.Context, turn *ConversationTurn) error {
	page := a.session.Page()
	if page == nil {
		return ErrNotInitialized
	}
	log := a.log.With("turn", turn.ID)

	input := Resolve(ctx, page, TargetChatInput, a.opts.Candidates[TargetChatInput])
	if !input.Found() {
		if err := a.loginWall(ctx, page); err != nil {
			a.session.setLoggedIn(false)
			return err
		}
		miss := Diagnose(ctx, page, input)
		log.Warnf("Chat input not found\n%s", miss.Diagnostic())
		return miss
	}
	log.Debugf("Chat input matched %s", input.Selector)

	userCandidates := a.opts.Candidates[TargetUserMessage]
	if len(userCandidates) > 0 {
		turn.PreviousUserCount, _ = countFirst(ctx, page, userCandidates)
	}

	if err := a.injector.Inject(ctx, input.Element, turn.Prompt); err != nil {
		return err
	}

	count, err := a.waiter.CountReplies(ctx, page)
	if err != nil {
		return fmt.Errorf("failed to count replies: %w", err)
	}
	turn.PreviousCount = count

	if err := input.Element.Press(ctx, "Enter"); err != nil {
		return fmt.Errorf("failed to send prompt: %w", err)
	}
	log.Infof("Prompt sent (%d chars, %d replies before)", len(turn.Prompt), turn.PreviousCount)

	reply, err := a.waiter.WaitForReply(ctx, page, turn.PreviousCount, a.opts.ResponseTimeout)
	if err == nil {
		turn.Response = reply
		log.Infof("Received reply (%d chars)", len(reply))
		return nil
	}
	if !errors.Is(err, ErrWaitTimeout) {
		return err
	}

	log.Warnf("No reply after Enter: %v", err)
	if err := a.fallbackSend(ctx, page, turn); err != nil {
		return err
	}

	reply, err = a.waiter.WaitForReply(ctx, page, turn.PreviousCount, a.opts.FallbackTimeout)
	if err != nil {
		return err
	}
	turn.Response = reply
	log.Infof("Received reply after fallback (%d chars)", len(reply))
	return nil
}

// fallbackSend clicks the send control once, unless the prompt already shows
// up as the newest user message, in which case Enter did deliver it and a
// click would send it twice
func (a *Automator) fallbackSend(ctx context.Context, page browser.Page, turn *ConversationTurn) error {
	if a.promptDelivered(ctx, page, turn) {
		a.log.Infof("Prompt already delivered, waiting again without clicking send")
		return nil
	}

	send := Resolve(ctx, page, TargetSendButton, a.opts.Candidates[TargetSendButton])
	if !send.Found() {
		miss := Diagnose(ctx, page, send)
		a.log.Warnf("Send button not found\n%s", miss.Diagnostic())
		return miss
	}
	if err := send.Element.Click(ctx); err != nil {
		return fmt.Errorf("failed to click send button: %w", err)
	}
	turn.FallbackClicks++
	a.log.Infof("Clicked send button %s", send.Selector)
	return nil
}

func (a *Automator) promptDelivered(ctx context.Context, page browser.Page, turn *ConversationTurn) bool {
	candidates := a.opts.Candidates[TargetUserMessage]
	if len(candidates) == 0 {
		return false
	}
	text, n, err := lastText(ctx, page, candidates)
	if err != nil || n <= turn.PreviousUserCount {
		return false
	}
	return text == strings.TrimSpace(turn.Prompt)
}
