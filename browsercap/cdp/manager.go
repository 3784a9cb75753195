// Package cdp implements the browsercap.Provider port against a Chrome
// instance driven over the DevTools protocol with Rod.
//
// The adapter either attaches to a running browser (remote control URL — the
// normal deployment, sharing the human's real session) or launches a
// disposable headless Chrome of its own.
package cdp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// Config configures the browser connection.
type Config struct {
	// RemoteURL is the WebSocket/devtools URL of an external Chrome.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Headless controls the locally launched Chrome. Ignored for remote.
	Headless bool

	// CookiePollInterval tunes cookie-change detection; the DevTools
	// protocol has no cookie mutation event, so the adapter diffs the jar.
	// Default: 2s.
	CookiePollInterval time.Duration

	Logger *slog.Logger
}

const defaultCookiePoll = 2 * time.Second

// Manager owns the Chrome connection lifecycle.
type Manager struct {
	cfg     Config
	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewManager creates a Manager. Call Start to connect.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CookiePollInterval <= 0 {
		cfg.CookiePollInterval = defaultCookiePoll
	}
	return &Manager{cfg: cfg}
}

// Start connects to Chrome (or launches one) and returns the Rod handle.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("cdp: manager is closed")
	}
	if m.browser != nil {
		return m.browser, nil
	}

	log := m.cfg.Logger
	var wsURL string

	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("cdp: connecting to remote browser", "url", wsURL)
	} else {
		l := launcher.New().
			Headless(m.cfg.Headless).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("cdp: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("cdp: launched local chrome", "url", wsURL, "headless", m.cfg.Headless)
	}

	b := rod.New().ControlURL(wsURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("cdp: connect: %w", err)
	}
	m.browser = b
	return b, nil
}

// Browser returns the current Rod handle, or nil before Start.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// OpenPage opens a fresh stealth tab navigated to the URL. Used when the
// site has no existing tab to operate on.
func (m *Manager) OpenPage(ctx context.Context, pageURL string) (*rod.Page, error) {
	b := m.Browser()
	if b == nil {
		return nil, fmt.Errorf("cdp: not started")
	}
	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("cdp: create tab: %w", err)
	}
	if err := page.Context(ctx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("cdp: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(ctx).WaitLoad(); err != nil {
		m.cfg.Logger.Warn("cdp: wait load timeout", "url", pageURL, "error", err)
	}
	return page, nil
}

// Close disconnects and, for a locally launched Chrome, kills it.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	return err
}
