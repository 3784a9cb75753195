// Package browsercap defines the capability port between the sync engine and
// a host browser environment: cookie jar access, in-page script execution,
// target enumeration and mutation subscriptions.
//
// Core logic never talks to a browser directly — it consumes this interface,
// so the engine runs unchanged against the CDP adapter (browsercap/cdp) or
// the in-memory fake (browsercap/captest).
package browsercap

import (
	"context"
	"encoding/json"

	"github.com/ravi-ivar-7/choco-sub000/session"
)

// Target is one observable page context (a tab).
type Target struct {
	ID     string
	URL    string
	Title  string
	Active bool
}

// Ambient carries best-effort environment signals of the host browser.
// Missing fields stay empty; the collector tolerates any subset.
type Ambient struct {
	IPAddress string
	UserAgent string
	Platform  string
	Browser   string
}

// CookieChange is a cookie-jar mutation event.
type CookieChange struct {
	Cookie  session.CookieRecord
	Removed bool
}

// StorageChange is a web-storage mutation event reported by an instrumented
// page context. Cleared marks a wholesale Storage.clear().
type StorageChange struct {
	Area     string // "localStorage" | "sessionStorage"
	Key      string
	OldValue string
	NewValue string
	Removed  bool
	Cleared  bool
	URL      string
}

// Provider is the full capability surface the engine requires from a host
// environment. All calls may suspend; implementations must honour ctx.
type Provider interface {
	// CookiesForDomain returns every cookie visible for the domain,
	// including subdomain-scoped ones.
	CookiesForDomain(ctx context.Context, domain string) ([]session.CookieRecord, error)

	// SetCookie writes one cookie scoped to targetURL. A record whose
	// Domain is empty lets the host derive the domain from the URL.
	SetCookie(ctx context.Context, targetURL string, c session.CookieRecord) error

	// RunInPage evaluates a JS function in the page context of the target
	// and returns its result as raw JSON. Used for both storage reads and
	// storage writes.
	RunInPage(ctx context.Context, targetID, js string, args ...any) (json.RawMessage, error)

	// ListTargets returns page contexts whose URL hostname matches the
	// given host suffix; empty suffix returns all.
	ListTargets(ctx context.Context, hostSuffix string) ([]Target, error)

	// ActiveTarget returns the currently focused page context.
	ActiveTarget(ctx context.Context) (Target, error)

	// Ambient returns environment signals. Best-effort.
	Ambient(ctx context.Context) (Ambient, error)

	// WatchCookies delivers cookie mutations for the domain until ctx is
	// cancelled.
	WatchCookies(ctx context.Context, domain string, fn func(CookieChange)) error

	// WatchStorage instruments the target's page context and delivers
	// storage mutations until ctx is cancelled.
	WatchStorage(ctx context.Context, targetID string, fn func(StorageChange)) error
}
