// Package collect captures browser session state into snapshots.
package collect

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ravi-ivar-7/choco-sub000/browsercap"
	"github.com/ravi-ivar-7/choco-sub000/session"
	"github.com/ravi-ivar-7/choco-sub000/siteprofile"
)

// Collector reads credential-bearing state out of a live browser. Every
// signal is captured best-effort: a source that fails leaves its field empty
// and never aborts the run. Emptiness is judged later by validation, not
// here.
type Collector struct {
	provider browsercap.Provider
	log      *slog.Logger
	now      func() time.Time
}

// New creates a Collector on a browser capability provider.
func New(p browsercap.Provider, log *slog.Logger) *Collector {
	if log == nil {
		log = slog.Default()
	}
	return &Collector{provider: p, now: time.Now, log: log}
}

// Collect builds a snapshot of the site's session state in the given target,
// keeping only what the team's field policy selects. The caller assigns
// Source and TeamID.
func (c *Collector) Collect(ctx context.Context, profile *siteprofile.Profile, sel session.Selectors, targetID string) (*session.Snapshot, error) {
	snap := &session.Snapshot{CapturedAt: c.now()}

	if sel.Cookies.Mode != session.SelectNone {
		cookies, err := c.provider.CookiesForDomain(ctx, profile.PrimaryHost)
		if err != nil {
			c.log.Warn("collect: cookies unavailable", "site", profile.Key, "error", err)
		} else {
			snap.Cookies = make(map[string]session.CookieRecord, len(cookies))
			for _, ck := range cookies {
				if !selectKey(sel.Cookies, ck.Name) {
					continue
				}
				snap.Cookies[ck.Name] = ck
			}
		}
	}

	wantLocal := sel.LocalStorage.Mode != session.SelectNone
	wantSession := sel.SessionStorage.Mode != session.SelectNone
	if wantLocal || wantSession {
		data, err := browsercap.ReadStorage(ctx, c.provider, targetID)
		if err != nil {
			c.log.Warn("collect: storage unavailable", "site", profile.Key, "error", err)
		} else {
			for _, msg := range data.Errors {
				c.log.Warn("collect: storage key unreadable", "site", profile.Key, "detail", msg)
			}
			if wantLocal {
				snap.LocalStorage = filterStrings(data.LocalStorage, sel.LocalStorage)
			}
			if wantSession {
				snap.SessionStorage = filterStrings(data.SessionStorage, sel.SessionStorage)
			}
		}
	}

	if sel.Fingerprint.Mode != session.SelectNone {
		snap.Fingerprint = filterAny(c.runJSON(ctx, targetID, browsercap.ScriptFingerprint, "fingerprint", profile.Key), sel.Fingerprint)
	}
	if sel.GeoLocation.Mode != session.SelectNone {
		snap.GeoLocation = filterAny(c.runJSON(ctx, targetID, browsercap.ScriptGeolocation, "geolocation", profile.Key), sel.GeoLocation)
	}

	if sel.IPAddress || sel.UserAgent || sel.Platform || sel.Browser {
		amb, err := c.provider.Ambient(ctx)
		if err != nil {
			c.log.Warn("collect: ambient signals unavailable", "site", profile.Key, "error", err)
		} else {
			if sel.IPAddress {
				snap.IPAddress = amb.IPAddress
			}
			if sel.UserAgent {
				snap.UserAgent = amb.UserAgent
			}
			if sel.Platform {
				snap.Platform = amb.Platform
			}
			if sel.Browser {
				snap.Browser = amb.Browser
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return snap, nil
}

// runJSON executes a best-effort in-page program and decodes its object
// result. Any failure, or a null result, yields nil.
func (c *Collector) runJSON(ctx context.Context, targetID, js, signal, site string) map[string]any {
	raw, err := c.provider.RunInPage(ctx, targetID, js)
	if err != nil {
		c.log.Warn("collect: signal unavailable", "signal", signal, "site", site, "error", err)
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		c.log.Warn("collect: signal undecodable", "signal", signal, "site", site, "error", err)
		return nil
	}
	return out
}

func selectKey(sel session.FieldSelector, key string) bool {
	if sel.Mode == session.SelectFull {
		return true
	}
	for _, k := range sel.Keys {
		if k == key {
			return true
		}
	}
	return false
}

func filterStrings(in map[string]string, sel session.FieldSelector) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if selectKey(sel, k) {
			out[k] = v
		}
	}
	return out
}

func filterAny(in map[string]any, sel session.FieldSelector) map[string]any {
	if in == nil || sel.Mode == session.SelectFull {
		return in
	}
	out := make(map[string]any, len(sel.Keys))
	for k, v := range in {
		if selectKey(sel, k) {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
