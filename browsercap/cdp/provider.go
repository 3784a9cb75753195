package cdp

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/ravi-ivar-7/choco-sub000/browsercap"
	"github.com/ravi-ivar-7/choco-sub000/session"
)

//go:embed monitor_storage.js
var monitorStorageJS string

// storageBinding is the name of the page-world function the shim calls.
const storageBinding = "chocoStorageChanged"

// Provider implements browsercap.Provider over a live Chrome.
type Provider struct {
	mgr  *Manager
	http *http.Client
}

var _ browsercap.Provider = (*Provider)(nil)

// NewProvider wraps a started Manager.
func NewProvider(mgr *Manager) *Provider {
	return &Provider{
		mgr:  mgr,
		http: &http.Client{Timeout: 3 * time.Second},
	}
}

func (p *Provider) browser() (*rod.Browser, error) {
	b := p.mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("cdp: browser not started")
	}
	return b, nil
}

// CookiesForDomain reads the browser-wide jar and keeps cookies scoped to the
// domain or any of its subdomains.
func (p *Provider) CookiesForDomain(ctx context.Context, domain string) ([]session.CookieRecord, error) {
	b, err := p.browser()
	if err != nil {
		return nil, err
	}
	all, err := b.Context(ctx).GetCookies()
	if err != nil {
		return nil, fmt.Errorf("cdp: get cookies: %w", err)
	}
	var out []session.CookieRecord
	for _, c := range all {
		if !domainMatches(c.Domain, domain) {
			continue
		}
		rec := session.CookieRecord{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: sameSiteString(c.SameSite),
		}
		if !c.Session && c.Expires > 0 {
			rec.ExpirationDate = float64(c.Expires)
		}
		out = append(out, rec)
	}
	return out, nil
}

// SetCookie writes one cookie. When the record carries no Domain the URL
// determines the scope, mirroring a document.cookie write from that page.
func (p *Provider) SetCookie(ctx context.Context, targetURL string, rec session.CookieRecord) error {
	b, err := p.browser()
	if err != nil {
		return err
	}
	param := &proto.NetworkCookieParam{
		Name:     rec.Name,
		Value:    rec.Value,
		URL:      targetURL,
		Domain:   rec.Domain,
		Path:     rec.Path,
		Secure:   rec.Secure,
		HTTPOnly: rec.HTTPOnly,
		SameSite: sameSiteParam(rec.SameSite),
	}
	if exp := cookieExpiry(rec); !exp.IsZero() {
		param.Expires = proto.TimeSinceEpoch(float64(exp.UnixNano()) / float64(time.Second))
	}
	if err := b.Context(ctx).SetCookies([]*proto.NetworkCookieParam{param}); err != nil {
		return fmt.Errorf("cdp: set cookie %q: %w", rec.Name, err)
	}
	return nil
}

// RunInPage evaluates a JS function in the target's page world and returns
// the awaited result as raw JSON.
func (p *Provider) RunInPage(ctx context.Context, targetID, js string, args ...any) (json.RawMessage, error) {
	page, err := p.page(targetID)
	if err != nil {
		return nil, err
	}
	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		JSArgs:       args,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, fmt.Errorf("cdp: evaluate in %s: %w", targetID, err)
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("cdp: marshal eval result: %w", err)
	}
	return json.RawMessage(raw), nil
}

// ListTargets enumerates open tabs, filtered by hostname suffix.
func (p *Provider) ListTargets(ctx context.Context, hostSuffix string) ([]browsercap.Target, error) {
	b, err := p.browser()
	if err != nil {
		return nil, err
	}
	pages, err := b.Context(ctx).Pages()
	if err != nil {
		return nil, fmt.Errorf("cdp: list pages: %w", err)
	}
	var out []browsercap.Target
	for _, pg := range pages {
		info, err := pg.Info()
		if err != nil {
			continue
		}
		host := hostnameOf(info.URL)
		if hostSuffix != "" && !domainMatches(host, hostSuffix) {
			continue
		}
		out = append(out, browsercap.Target{
			ID:     string(info.TargetID),
			URL:    info.URL,
			Title:  info.Title,
			Active: pageVisible(ctx, pg),
		})
	}
	return out, nil
}

// ActiveTarget returns the visible tab, falling back to the first open one.
func (p *Provider) ActiveTarget(ctx context.Context) (browsercap.Target, error) {
	targets, err := p.ListTargets(ctx, "")
	if err != nil {
		return browsercap.Target{}, err
	}
	if len(targets) == 0 {
		return browsercap.Target{}, fmt.Errorf("cdp: no open targets")
	}
	for _, t := range targets {
		if t.Active {
			return t, nil
		}
	}
	return targets[0], nil
}

// Ambient gathers environment signals. Each is best-effort; a blank field
// means the signal was unavailable.
func (p *Provider) Ambient(ctx context.Context) (browsercap.Ambient, error) {
	var amb browsercap.Ambient
	b, err := p.browser()
	if err != nil {
		return amb, err
	}
	if ver, err := b.Context(ctx).Version(); err == nil {
		amb.UserAgent = ver.UserAgent
		amb.Platform = platformFromUA(ver.UserAgent)
		amb.Browser = browserFromProduct(ver.Product)
	}
	amb.IPAddress = p.publicIP(ctx)
	return amb, nil
}

// WatchCookies polls the jar and reports the diff. The DevTools protocol has
// no cookie mutation event, so this is the closest the adapter can get to
// chrome.cookies.onChanged.
func (p *Provider) WatchCookies(ctx context.Context, domain string, fn func(browsercap.CookieChange)) error {
	prev, err := p.CookiesForDomain(ctx, domain)
	if err != nil {
		return err
	}
	go func() {
		known := cookieIndex(prev)
		tick := time.NewTicker(p.mgr.cfg.CookiePollInterval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
			}
			cur, err := p.CookiesForDomain(ctx, domain)
			if err != nil {
				continue
			}
			next := cookieIndex(cur)
			for key, rec := range next {
				old, ok := known[key]
				if !ok || old.Value != rec.Value || old.ExpirationDate != rec.ExpirationDate {
					fn(browsercap.CookieChange{Cookie: rec})
				}
			}
			for key, rec := range known {
				if _, ok := next[key]; !ok {
					fn(browsercap.CookieChange{Cookie: rec, Removed: true})
				}
			}
			known = next
		}
	}()
	return nil
}

// WatchStorage instruments the target page with the storage shim and streams
// its reports through a runtime binding.
func (p *Provider) WatchStorage(ctx context.Context, targetID string, fn func(browsercap.StorageChange)) error {
	page, err := p.page(targetID)
	if err != nil {
		return err
	}
	page = page.Context(ctx)
	if err := (proto.RuntimeAddBinding{Name: storageBinding}).Call(page); err != nil {
		return fmt.Errorf("cdp: add binding: %w", err)
	}
	go page.EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != storageBinding {
			return
		}
		var change browsercap.StorageChange
		if err := json.Unmarshal([]byte(e.Payload), &change); err != nil {
			return
		}
		fn(change)
	})()
	if _, err := page.Evaluate(&rod.EvalOptions{JS: monitorStorageJS, ByValue: true}); err != nil {
		return fmt.Errorf("cdp: install storage shim: %w", err)
	}
	return nil
}

func (p *Provider) page(targetID string) (*rod.Page, error) {
	b, err := p.browser()
	if err != nil {
		return nil, err
	}
	page, err := b.PageFromTarget(proto.TargetTargetID(targetID))
	if err != nil {
		return nil, fmt.Errorf("cdp: target %s: %w", targetID, err)
	}
	return page, nil
}

func (p *Provider) publicIP(ctx context.Context) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.ipify.org?format=json", nil)
	if err != nil {
		return ""
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return ""
	}
	var parsed struct {
		IP string `json:"ip"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	return parsed.IP
}

// domainMatches reports whether host (a hostname or cookie domain, possibly
// dot-prefixed) is the domain itself or a subdomain of it.
func domainMatches(host, domain string) bool {
	host = strings.TrimPrefix(host, ".")
	domain = strings.TrimPrefix(domain, ".")
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func hostnameOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func pageVisible(ctx context.Context, pg *rod.Page) bool {
	res, err := pg.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:      `() => document.visibilityState === "visible"`,
		ByValue: true,
	})
	if err != nil {
		return false
	}
	return res.Value.Bool()
}

func cookieIndex(recs []session.CookieRecord) map[string]session.CookieRecord {
	idx := make(map[string]session.CookieRecord, len(recs))
	for _, r := range recs {
		idx[r.Name+"|"+r.Domain+"|"+r.Path] = r
	}
	return idx
}

func cookieExpiry(rec session.CookieRecord) time.Time {
	if rec.ExpirationDate > 0 {
		sec := int64(rec.ExpirationDate)
		nsec := int64((rec.ExpirationDate - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec)
	}
	if rec.Expires != "" {
		for _, layout := range []string{time.RFC3339, time.RFC1123, time.RFC850} {
			if t, err := time.Parse(layout, rec.Expires); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

// Chrome extension cookie stores use "no_restriction"/"lax"/"strict".
func sameSiteParam(s string) proto.NetworkCookieSameSite {
	switch strings.ToLower(s) {
	case "no_restriction", "none":
		return proto.NetworkCookieSameSiteNone
	case "lax":
		return proto.NetworkCookieSameSiteLax
	case "strict":
		return proto.NetworkCookieSameSiteStrict
	}
	return ""
}

func sameSiteString(s proto.NetworkCookieSameSite) string {
	switch s {
	case proto.NetworkCookieSameSiteNone:
		return "no_restriction"
	case proto.NetworkCookieSameSiteLax:
		return "lax"
	case proto.NetworkCookieSameSiteStrict:
		return "strict"
	}
	return ""
}

func platformFromUA(ua string) string {
	switch {
	case strings.Contains(ua, "Windows"):
		return "Windows"
	case strings.Contains(ua, "Mac OS X"), strings.Contains(ua, "Macintosh"):
		return "macOS"
	case strings.Contains(ua, "Android"):
		return "Android"
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPad"):
		return "iOS"
	case strings.Contains(ua, "Linux"):
		return "Linux"
	}
	return ""
}

func browserFromProduct(product string) string {
	// Product looks like "Chrome/126.0.6478.62" or "HeadlessChrome/...".
	name, _, ok := strings.Cut(product, "/")
	if !ok {
		return product
	}
	return strings.TrimPrefix(name, "Headless")
}
