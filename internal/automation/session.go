package automation

import (
	"errors"
	"sync"

	"github.com/lance13c/chatgate/internal/browser"
)

// Readiness is a snapshot of the session flags
type Readiness struct {
	Initialized bool `json:"initialized"`
	LoggedIn    bool `json:"logged_in"`
}

// Ready reports whether a prompt can be sent without bootstrapping first
func (r Readiness) Ready() bool { return r.Initialized && r.LoggedIn }

// Session owns the browser and its single page. Reads of the flags never block
// behind a running operation; mutation happens only inside the Automator.
type Session struct {
	mu          sync.RWMutex
	browser     browser.Browser
	page        browser.Page
	initialized bool
	loggedIn    bool
	shut        bool
}

// Readiness returns the current flags without side effects
func (s *Session) Readiness() Readiness {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Readiness{Initialized: s.initialized, LoggedIn: s.loggedIn}
}

// Page returns the active page, nil before bootstrap
func (s *Session) Page() browser.Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.page
}

// attach stores freshly opened handles and marks the session initialized.
// After shutdown it refuses them and the caller must close them.
func (s *Session) attach(b browser.Browser, p browser.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shut {
		return ErrShutdown
	}
	s.browser = b
	s.page = p
	s.initialized = true
	s.loggedIn = false
	return nil
}

// isShut reports whether shutdown has been called
func (s *Session) isShut() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shut
}

// shutdown closes the session for good; later attaches fail with ErrShutdown
func (s *Session) shutdown() error {
	s.mu.Lock()
	s.shut = true
	s.mu.Unlock()
	return s.close()
}

func (s *Session) setLoggedIn(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// loggedIn implies a live page
	s.loggedIn = v && s.page != nil
}

// close releases both handles and clears the flags. Safe to call repeatedly
// and on a session that was never opened.
func (s *Session) close() error {
	s.mu.Lock()
	b, p := s.browser, s.page
	s.browser, s.page = nil, nil
	s.initialized, s.loggedIn = false, false
	s.mu.Unlock()

	var errs []error
	if p != nil {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if b != nil {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
