// CLAUDE:SUMMARY Defines the Snapshot type: the unit of shareable browser session state.
// Package session defines the shareable session state model: snapshots of
// cookies, web storage and ambient browser signals, plus the expiry
// heuristic applied to them.
//
// A Snapshot is never mutated after capture. Usability for a site is a
// derived predicate (see the validate package), recomputed on every use
// because cookie expiry is time-dependent.
package session

import (
	"encoding/json"
	"time"
)

// Source records how a snapshot came into existence.
type Source string

const (
	SourceManual       Source = "manual"
	SourceAutoDetected Source = "auto_detected"
	SourceTeamShared   Source = "team_shared"
)

// CookieRecord is one captured cookie. Expiry is the authoritative liveness
// signal; when both expiry fields are zero the cookie is assumed live.
type CookieRecord struct {
	Name     string `json:"name,omitempty"`
	Value    string `json:"value"`
	Domain   string `json:"domain,omitempty"`
	Path     string `json:"path,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
	SameSite string `json:"sameSite,omitempty"`

	// ExpirationDate is epoch seconds (Chrome cookie store convention).
	ExpirationDate float64 `json:"expirationDate,omitempty"`
	// Expires is an ISO timestamp, kept for payloads produced by hosts
	// that serialise expiry as a string.
	Expires string `json:"expires,omitempty"`
}

// Snapshot is the unit of shareable session state. Field names follow the
// store wire format.
type Snapshot struct {
	ID         string     `json:"id,omitempty"`
	TeamID     string     `json:"teamId,omitempty"`
	CapturedAt time.Time  `json:"createdAt,omitzero"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	Source     Source     `json:"credentialSource,omitempty"`

	Cookies        map[string]CookieRecord `json:"cookies,omitempty"`
	LocalStorage   map[string]string       `json:"localStorage,omitempty"`
	SessionStorage map[string]string       `json:"sessionStorage,omitempty"`

	Fingerprint map[string]any `json:"fingerprint,omitempty"`
	GeoLocation map[string]any `json:"geoLocation,omitempty"`

	IPAddress string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Platform  string `json:"platform,omitempty"`
	Browser   string `json:"browser,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`

	// Extended signals are opaque payload: collected best-effort, stored
	// verbatim, never validated or compared.
	BrowserHistory json.RawMessage `json:"browserHistory,omitempty"`
	Tabs           json.RawMessage `json:"tabs,omitempty"`
	Bookmarks      json.RawMessage `json:"bookmarks,omitempty"`
	Downloads      json.RawMessage `json:"downloads,omitempty"`
	Extensions     json.RawMessage `json:"extensions,omitempty"`
}

// Empty reports whether the snapshot carries no credential-bearing state.
func (s *Snapshot) Empty() bool {
	return len(s.Cookies) == 0 && len(s.LocalStorage) == 0 && len(s.SessionStorage) == 0
}

// SignalKind discriminates change signals by their origin.
type SignalKind string

const (
	SignalCookie  SignalKind = "cookie"
	SignalStorage SignalKind = "storage"
)

// ChangeSignal is an ephemeral mutation event consumed by the change
// monitor. Never persisted.
type ChangeSignal struct {
	Kind    SignalKind
	SiteKey string
	Field   string
	Removed bool
}

// DebounceKey coalesces signals per (site, field) pair.
func (s ChangeSignal) DebounceKey() string {
	return s.SiteKey + "/" + s.Field
}
