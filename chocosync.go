// CLAUDE:SUMMARY Engine composition root: wires browser, registry, collector,
// orchestrator and monitor into one running agent.

// Package chocosync synchronizes browser session snapshots across a team:
// it captures cookies and web storage for recognized sites, pushes complete
// sessions to a shared store, and applies a teammate's session locally when
// no usable one exists.
package chocosync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ravi-ivar-7/choco-sub000/agentstate"
	"github.com/ravi-ivar-7/choco-sub000/apply"
	"github.com/ravi-ivar-7/choco-sub000/browsercap"
	"github.com/ravi-ivar-7/choco-sub000/browsercap/cdp"
	"github.com/ravi-ivar-7/choco-sub000/collect"
	"github.com/ravi-ivar-7/choco-sub000/monitor"
	"github.com/ravi-ivar-7/choco-sub000/session"
	"github.com/ravi-ivar-7/choco-sub000/siteprofile"
	"github.com/ravi-ivar-7/choco-sub000/storeclient"
	"github.com/ravi-ivar-7/choco-sub000/syncer"
)

// Engine is one running agent: a browser connection, a site registry, and
// the sync machinery on top.
type Engine struct {
	cfg      *Config
	log      *slog.Logger
	mgr      *cdp.Manager
	provider browsercap.Provider
	registry *siteprofile.Registry
	state    *agentstate.Store
	orch     *syncer.Orchestrator
	mon      *monitor.Monitor
}

// New assembles an Engine. Nothing touches the browser until Start.
func New(cfg *Config, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg.applyDefaults()

	profiles := siteprofile.Builtin()
	if cfg.SitesFile != "" {
		extra, err := siteprofile.LoadFile(cfg.SitesFile)
		if err != nil {
			return nil, fmt.Errorf("chocosync: sites file: %w", err)
		}
		profiles = append(profiles, extra...)
	}
	registry, err := siteprofile.NewRegistry(profiles)
	if err != nil {
		return nil, fmt.Errorf("chocosync: %w", err)
	}

	store, err := storeclient.New(storeclient.Config{
		BaseURL:      cfg.Store.URL,
		Token:        cfg.Store.Token,
		AllowPrivate: cfg.Store.AllowPrivate,
		Timeout:      cfg.Store.Timeout,
		Logger:       log,
	})
	if err != nil {
		return nil, err
	}

	state, err := agentstate.Open(cfg.StatePath)
	if err != nil {
		return nil, err
	}

	mgr := cdp.NewManager(cdp.Config{
		RemoteURL:          cfg.Browser.Remote,
		Headless:           cfg.Browser.Headless,
		CookiePollInterval: cfg.Browser.CookiePoll,
		Logger:             log,
	})
	provider := cdp.NewProvider(mgr)

	collector := collect.New(provider, log)
	applier := apply.New(provider, log)
	orch := syncer.New(syncer.Config{
		TeamID:    cfg.TeamID,
		Registry:  registry,
		Collector: collector,
		Applier:   applier,
		Store:     store,
		Selectors: session.ParseSelectors(cfg.Selectors),
		State:     state,
		Logger:    log,
	})
	mon := monitor.New(monitor.Config{
		Registry: registry,
		Provider: provider,
		Pusher:   orch,
		Window:   cfg.Sync.DebounceWindow,
		Settle:   cfg.Sync.RemovalSettle,
		Logger:   log,
	})

	return &Engine{
		cfg:      cfg,
		log:      log,
		mgr:      mgr,
		provider: provider,
		registry: registry,
		state:    state,
		orch:     orch,
		mon:      mon,
	}, nil
}

// Registry exposes the site table.
func (e *Engine) Registry() *siteprofile.Registry { return e.registry }

// Orchestrator exposes the sync state machine for one-shot invocations.
func (e *Engine) Orchestrator() *syncer.Orchestrator { return e.orch }

// Start connects to the browser and begins monitoring cookie mutations for
// every registered site. Storage monitoring attaches per tab as tabs are
// discovered; see WatchTabs.
func (e *Engine) Start(ctx context.Context) error {
	if _, err := e.mgr.Start(ctx); err != nil {
		return err
	}
	return e.mon.Start(ctx)
}

// SyncSite runs one full sync pass for the site against its best open tab.
func (e *Engine) SyncSite(ctx context.Context, siteKey string) (*syncer.Outcome, error) {
	profile := e.registry.ByKey(siteKey)
	if profile == nil {
		return nil, syncer.ErrUnknownSite
	}
	target, err := e.siteTarget(ctx, profile)
	if err != nil {
		return nil, err
	}
	return e.orch.Run(ctx, siteKey, target, session.SourceManual)
}

// WatchTabs instruments every currently open tab of registered sites for
// storage mutations. Call again after navigation opens new tabs.
func (e *Engine) WatchTabs(ctx context.Context) error {
	for _, profile := range e.registry.Profiles() {
		p := profile
		targets, err := e.provider.ListTargets(ctx, p.PrimaryHost)
		if err != nil {
			return err
		}
		for _, t := range targets {
			if err := e.mon.InstrumentTarget(ctx, &p, t.ID); err != nil {
				e.log.Warn("chocosync: instrument tab", "site", p.Key, "target", t.ID, "error", err)
			}
		}
	}
	return nil
}

// siteTarget picks an open tab on the site, or opens one on its primary
// host when none exists.
func (e *Engine) siteTarget(ctx context.Context, profile *siteprofile.Profile) (browsercap.Target, error) {
	targets, err := e.provider.ListTargets(ctx, profile.PrimaryHost)
	if err != nil {
		return browsercap.Target{}, err
	}
	for _, t := range targets {
		if t.Active {
			return t, nil
		}
	}
	if len(targets) > 0 {
		return targets[0], nil
	}

	page, err := e.mgr.OpenPage(ctx, profile.URL())
	if err != nil {
		return browsercap.Target{}, err
	}
	info, err := page.Info()
	if err != nil {
		return browsercap.Target{}, fmt.Errorf("chocosync: new tab info: %w", err)
	}
	return browsercap.Target{ID: string(info.TargetID), URL: info.URL, Title: info.Title}, nil
}

// Close tears down the monitor, the browser connection and local state.
func (e *Engine) Close() error {
	e.mon.Dispose()
	err := e.mgr.Close()
	if cerr := e.state.Close(); err == nil {
		err = cerr
	}
	return err
}
