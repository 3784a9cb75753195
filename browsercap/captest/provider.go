// Package captest provides an in-memory browsercap.Provider for tests: a
// fake cookie jar and web storage per target, with hooks to inject per-item
// failures and to emit change events.
package captest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/ravi-ivar-7/choco-sub000/browsercap"
	"github.com/ravi-ivar-7/choco-sub000/session"
)

// Provider is a fake capability provider. The zero value is usable.
type Provider struct {
	mu sync.Mutex

	// Jar holds cookies per bare domain ("maang.in").
	Jar map[string][]session.CookieRecord
	// Local / Session hold storage per target ID.
	Local   map[string]map[string]string
	Session map[string]map[string]string
	// Targets enumerated by ListTargets/ActiveTarget.
	Targets []browsercap.Target

	Env browsercap.Ambient

	// FingerprintJSON / GeoJSON are returned verbatim for the probe
	// scripts; empty means null.
	FingerprintJSON string
	GeoJSON         string

	// SetCookieErr, when set, is consulted per cookie name to inject
	// write failures.
	SetCookieErr func(name string) error
	// FailWriteKeys lists storage keys whose writes report failure.
	FailWriteKeys []string
	// RunInPageErr, when set, fails every page evaluation.
	RunInPageErr error
	// CookiesErr, when set, fails cookie reads.
	CookiesErr error

	// SetCalls records every SetCookie invocation in order.
	SetCalls []session.CookieRecord

	cookieWatchers  map[string][]func(browsercap.CookieChange)
	storageWatchers map[string][]func(browsercap.StorageChange)
}

var _ browsercap.Provider = (*Provider)(nil)

func (p *Provider) init() {
	if p.Jar == nil {
		p.Jar = make(map[string][]session.CookieRecord)
	}
	if p.Local == nil {
		p.Local = make(map[string]map[string]string)
	}
	if p.Session == nil {
		p.Session = make(map[string]map[string]string)
	}
	if p.cookieWatchers == nil {
		p.cookieWatchers = make(map[string][]func(browsercap.CookieChange))
	}
	if p.storageWatchers == nil {
		p.storageWatchers = make(map[string][]func(browsercap.StorageChange))
	}
}

func (p *Provider) CookiesForDomain(ctx context.Context, domain string) ([]session.CookieRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.init()
	if p.CookiesErr != nil {
		return nil, p.CookiesErr
	}
	out := append([]session.CookieRecord(nil), p.Jar[domain]...)
	return out, nil
}

func (p *Provider) SetCookie(ctx context.Context, targetURL string, c session.CookieRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.init()
	p.SetCalls = append(p.SetCalls, c)
	if p.SetCookieErr != nil {
		if err := p.SetCookieErr(c.Name); err != nil {
			return err
		}
	}
	domain := strings.TrimPrefix(c.Domain, ".")
	if domain == "" {
		domain = hostOf(targetURL)
	}
	jar := p.Jar[domain]
	for i := range jar {
		if jar[i].Name == c.Name {
			jar[i] = c
			p.Jar[domain] = jar
			return nil
		}
	}
	p.Jar[domain] = append(jar, c)
	return nil
}

func (p *Provider) RunInPage(ctx context.Context, targetID, js string, args ...any) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.init()
	if p.RunInPageErr != nil {
		return nil, p.RunInPageErr
	}

	switch js {
	case browsercap.ScriptReadStorage:
		data := browsercap.StorageData{
			LocalStorage:   copyMap(p.Local[targetID]),
			SessionStorage: copyMap(p.Session[targetID]),
		}
		return json.Marshal(data)

	case browsercap.ScriptWriteStorage:
		var failed []browsercap.WriteFailure
		writeArea := func(area string, store map[string]map[string]string, arg any) {
			data, _ := arg.(map[string]string)
			for k, v := range data {
				if p.failsWrite(k) {
					failed = append(failed, browsercap.WriteFailure{Area: area, Key: k, Error: "quota exceeded"})
					continue
				}
				if store[targetID] == nil {
					store[targetID] = make(map[string]string)
				}
				store[targetID][k] = v
			}
		}
		if len(args) > 0 {
			writeArea("localStorage", p.Local, args[0])
		}
		if len(args) > 1 {
			writeArea("sessionStorage", p.Session, args[1])
		}
		return json.Marshal(map[string]any{"failed": failed})

	case browsercap.ScriptFingerprint:
		if p.FingerprintJSON == "" {
			return json.RawMessage("null"), nil
		}
		return json.RawMessage(p.FingerprintJSON), nil

	case browsercap.ScriptGeolocation:
		if p.GeoJSON == "" {
			return json.RawMessage("null"), nil
		}
		return json.RawMessage(p.GeoJSON), nil
	}
	return nil, fmt.Errorf("captest: unknown script")
}

func (p *Provider) ListTargets(ctx context.Context, hostSuffix string) ([]browsercap.Target, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []browsercap.Target
	for _, t := range p.Targets {
		if hostSuffix == "" || hostMatches(hostOf(t.URL), hostSuffix) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (p *Provider) ActiveTarget(ctx context.Context) (browsercap.Target, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.Targets {
		if t.Active {
			return t, nil
		}
	}
	if len(p.Targets) > 0 {
		return p.Targets[0], nil
	}
	return browsercap.Target{}, fmt.Errorf("captest: no targets")
}

func (p *Provider) Ambient(ctx context.Context) (browsercap.Ambient, error) {
	return p.Env, nil
}

func (p *Provider) WatchCookies(ctx context.Context, domain string, fn func(browsercap.CookieChange)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.init()
	p.cookieWatchers[domain] = append(p.cookieWatchers[domain], fn)
	return nil
}

func (p *Provider) WatchStorage(ctx context.Context, targetID string, fn func(browsercap.StorageChange)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.init()
	p.storageWatchers[targetID] = append(p.storageWatchers[targetID], fn)
	return nil
}

// EmitCookieChange delivers a change to every watcher of the domain.
func (p *Provider) EmitCookieChange(domain string, ch browsercap.CookieChange) {
	p.mu.Lock()
	fns := append(([]func(browsercap.CookieChange))(nil), p.cookieWatchers[domain]...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn(ch)
	}
}

// EmitStorageChange delivers a change to every watcher of the target.
func (p *Provider) EmitStorageChange(targetID string, ch browsercap.StorageChange) {
	p.mu.Lock()
	fns := append(([]func(browsercap.StorageChange))(nil), p.storageWatchers[targetID]...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn(ch)
	}
}

func (p *Provider) failsWrite(key string) bool {
	for _, k := range p.FailWriteKeys {
		if k == key {
			return true
		}
	}
	return false
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func hostOf(rawURL string) string {
	h := rawURL
	if i := strings.Index(h, "://"); i >= 0 {
		h = h[i+3:]
	}
	if i := strings.IndexAny(h, "/:?"); i >= 0 {
		h = h[:i]
	}
	return h
}

func hostMatches(host, suffix string) bool {
	return host == suffix || strings.HasSuffix(host, "."+suffix)
}
