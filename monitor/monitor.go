// Package monitor turns raw browser mutation events into debounced sync
// pushes. Only changes to fields a site profile actually requires ever
// schedule work; everything else is dropped at the door.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ravi-ivar-7/choco-sub000/browsercap"
	"github.com/ravi-ivar-7/choco-sub000/session"
	"github.com/ravi-ivar-7/choco-sub000/siteprofile"
	"github.com/ravi-ivar-7/choco-sub000/syncer"
)

// DefaultSettle is how long a cookie removal is held back before it is
// believed. Browsers report a cookie overwrite as remove-then-set; a set
// arriving within the settle window cancels the pending removal.
const DefaultSettle = 100 * time.Millisecond

// Pusher runs the push path of the sync state machine.
// *syncer.Orchestrator satisfies it.
type Pusher interface {
	Push(ctx context.Context, siteKey string, target browsercap.Target, source session.Source) (*syncer.Outcome, error)
}

// Config wires a Monitor.
type Config struct {
	Registry *siteprofile.Registry
	Provider browsercap.Provider
	Pusher   Pusher
	// Window overrides the debounce window; zero means DefaultWindow.
	Window time.Duration
	// Settle overrides the cookie-removal settle delay; zero means
	// DefaultSettle.
	Settle time.Duration
	Logger *slog.Logger
}

// Monitor subscribes to cookie and storage mutations and triggers one
// debounced push per (site, field) burst.
type Monitor struct {
	cfg      Config
	log      *slog.Logger
	debounce *DebounceRegistry
	settle   time.Duration

	mu           sync.Mutex
	removals     map[string]*time.Timer
	instrumented map[string]bool
	runCtx       context.Context
}

// New creates a Monitor. Call Start to begin receiving signals.
func New(cfg Config) *Monitor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	settle := cfg.Settle
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &Monitor{
		cfg:          cfg,
		log:          cfg.Logger,
		debounce:     NewDebounceRegistry(cfg.Window),
		settle:       settle,
		removals:     make(map[string]*time.Timer),
		instrumented: make(map[string]bool),
	}
}

// Start subscribes to cookie mutations for every registered site. Storage
// mutations additionally need per-target instrumentation; see
// InstrumentTarget. The context bounds all subscriptions and all pushes the
// monitor ever triggers.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()

	for _, profile := range m.cfg.Registry.Profiles() {
		p := profile
		err := m.cfg.Provider.WatchCookies(ctx, p.PrimaryHost, func(ch browsercap.CookieChange) {
			m.onCookieChange(&p, ch)
		})
		if err != nil {
			return err
		}
	}
	go func() {
		<-ctx.Done()
		m.Dispose()
	}()
	return nil
}

// InstrumentTarget injects the storage shim into one page context and
// routes its mutation reports through the monitor. Call it for every tab
// whose host resolves to a registered site.
func (m *Monitor) InstrumentTarget(ctx context.Context, profile *siteprofile.Profile, targetID string) error {
	m.mu.Lock()
	if m.instrumented[targetID] {
		m.mu.Unlock()
		return nil
	}
	m.instrumented[targetID] = true
	m.mu.Unlock()

	err := m.cfg.Provider.WatchStorage(ctx, targetID, func(ch browsercap.StorageChange) {
		m.onStorageChange(profile, ch)
	})
	if err != nil {
		m.mu.Lock()
		delete(m.instrumented, targetID)
		m.mu.Unlock()
	}
	return err
}

// Dispose cancels every pending debounce timer and settle timer. Safe to
// call more than once.
func (m *Monitor) Dispose() {
	m.debounce.Dispose()
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, t := range m.removals {
		t.Stop()
		delete(m.removals, key)
	}
}

func (m *Monitor) onCookieChange(profile *siteprofile.Profile, ch browsercap.CookieChange) {
	name := ch.Cookie.Name
	if !profile.RequiresCookie(name) {
		return
	}
	sig := session.ChangeSignal{
		Kind:    session.SignalCookie,
		SiteKey: profile.Key,
		Field:   name,
		Removed: ch.Removed,
	}
	if ch.Removed {
		m.holdRemoval(sig)
		return
	}
	m.cancelRemoval(sig)
	m.schedule(sig)
}

func (m *Monitor) onStorageChange(profile *siteprofile.Profile, ch browsercap.StorageChange) {
	if ch.Cleared {
		// a wholesale clear wipes every required key in the area
		for _, key := range requiredKeys(profile, ch.Area) {
			m.schedule(session.ChangeSignal{
				Kind:    session.SignalStorage,
				SiteKey: profile.Key,
				Field:   key,
				Removed: true,
			})
		}
		return
	}
	if !profile.RequiresStorageKey(ch.Area, ch.Key) {
		return
	}
	m.schedule(session.ChangeSignal{
		Kind:    session.SignalStorage,
		SiteKey: profile.Key,
		Field:   ch.Key,
		Removed: ch.Removed,
	})
}

// holdRemoval delays a cookie removal by the settle window. A set for the
// same cookie within the window means the browser was overwriting, not
// deleting, and the removal is discarded.
func (m *Monitor) holdRemoval(sig session.ChangeSignal) {
	key := sig.DebounceKey()
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.removals[key]; ok {
		t.Stop()
	}
	m.removals[key] = time.AfterFunc(m.settle, func() {
		m.mu.Lock()
		delete(m.removals, key)
		m.mu.Unlock()
		m.schedule(sig)
	})
}

func (m *Monitor) cancelRemoval(sig session.ChangeSignal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.removals[sig.DebounceKey()]; ok {
		t.Stop()
		delete(m.removals, sig.DebounceKey())
	}
}

func (m *Monitor) schedule(sig session.ChangeSignal) {
	m.debounce.Trigger(sig.DebounceKey(), func() {
		m.push(sig)
	})
}

func (m *Monitor) push(sig session.ChangeSignal) {
	m.mu.Lock()
	ctx := m.runCtx
	m.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	profile := m.cfg.Registry.ByKey(sig.SiteKey)
	if profile == nil {
		return
	}
	target := m.pickTarget(ctx, profile)
	out, err := m.cfg.Pusher.Push(ctx, sig.SiteKey, target, session.SourceAutoDetected)
	if err != nil {
		m.log.Warn("monitor: push failed", "site", sig.SiteKey, "field", sig.Field, "error", err)
		return
	}
	m.log.Info("monitor: change synchronized",
		"site", sig.SiteKey, "field", sig.Field, "kind", sig.Kind, "outcome", out.Kind)
}

// pickTarget finds an open tab on the site so storage can be read during
// collection. A zero target still allows cookie-only capture.
func (m *Monitor) pickTarget(ctx context.Context, profile *siteprofile.Profile) browsercap.Target {
	targets, err := m.cfg.Provider.ListTargets(ctx, profile.PrimaryHost)
	if err != nil || len(targets) == 0 {
		return browsercap.Target{}
	}
	for _, t := range targets {
		if t.Active {
			return t
		}
	}
	return targets[0]
}

func requiredKeys(p *siteprofile.Profile, area string) []string {
	switch area {
	case "localStorage":
		return p.RequiredLocal
	case "sessionStorage":
		return p.RequiredSession
	}
	return nil
}
