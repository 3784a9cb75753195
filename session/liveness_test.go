package session

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func jwtWithExp(t *testing.T, exp int64) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	claims, err := json.Marshal(map[string]any{"exp": exp})
	if err != nil {
		t.Fatal(err)
	}
	return fmt.Sprintf("%s.%s.sig", header, base64.RawURLEncoding.EncodeToString(claims))
}

func TestExpiredCookie(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		cookie  CookieRecord
		expired bool
	}{
		{"no expiry at all", CookieRecord{Value: "v"}, false},
		{"future epoch", CookieRecord{Value: "v", ExpirationDate: float64(now.Add(time.Hour).Unix())}, false},
		{"past epoch", CookieRecord{Value: "v", ExpirationDate: float64(now.Add(-time.Hour).Unix())}, true},
		{"past RFC3339", CookieRecord{Value: "v", Expires: "2026-07-01T00:00:00Z"}, true},
		{"future RFC3339", CookieRecord{Value: "v", Expires: "2026-09-01T00:00:00Z"}, false},
		{"unparseable string treated live", CookieRecord{Value: "v", Expires: "tomorrow-ish"}, false},
	}
	for _, tt := range tests {
		s := &Snapshot{Cookies: map[string]CookieRecord{"session": tt.cookie}}
		if got := Expired(s, now); got != tt.expired {
			t.Errorf("%s: Expired = %v, want %v", tt.name, got, tt.expired)
		}
	}
}

func TestExpiredStorageToken(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	expiredJWT := jwtWithExp(t, now.Add(-time.Minute).Unix())
	liveJWT := jwtWithExp(t, now.Add(time.Hour).Unix())

	tests := []struct {
		name    string
		value   string
		expired bool
	}{
		{"expired jwt", expiredJWT, true},
		{"live jwt", liveJWT, false},
		{"malformed jwt treated live", "aaa.bbb.ccc", false},
		{"json exp past", fmt.Sprintf(`{"exp": %d}`, now.Add(-time.Minute).Unix()), true},
		{"json expires_at future", `{"expires_at": "2026-09-01T00:00:00Z"}`, false},
		{"json expires_at past", `{"expires_at": "2026-07-01T00:00:00Z"}`, true},
		{"opaque value treated live", "just-a-session-id", false},
		{"broken json treated live", "{not json", false},
	}
	for _, tt := range tests {
		s := &Snapshot{LocalStorage: map[string]string{"token": tt.value}}
		if got := Expired(s, now); got != tt.expired {
			t.Errorf("%s: Expired = %v, want %v", tt.name, got, tt.expired)
		}
		s = &Snapshot{SessionStorage: map[string]string{"token": tt.value}}
		if got := Expired(s, now); got != tt.expired {
			t.Errorf("%s (sessionStorage): Expired = %v, want %v", tt.name, got, tt.expired)
		}
	}
}

func TestExpiredOneBadCookieTaintsSnapshot(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s := &Snapshot{
		Cookies: map[string]CookieRecord{
			"live":  {Value: "v", ExpirationDate: float64(now.Add(time.Hour).Unix())},
			"stale": {Value: "v", ExpirationDate: float64(now.Add(-time.Hour).Unix())},
		},
	}
	if !Expired(s, now) {
		t.Fatal("snapshot with one expired cookie must be expired")
	}
}

func TestEmpty(t *testing.T) {
	s := &Snapshot{UserAgent: "Mozilla/5.0", Fingerprint: map[string]any{"w": 1920}}
	if !s.Empty() {
		t.Fatal("snapshot without cookies or storage must be empty")
	}
	s.SessionStorage = map[string]string{"k": "v"}
	if s.Empty() {
		t.Fatal("snapshot with sessionStorage must not be empty")
	}
}

func TestDebounceKey(t *testing.T) {
	a := ChangeSignal{Kind: SignalCookie, SiteKey: "maang", Field: "access_token"}
	b := ChangeSignal{Kind: SignalStorage, SiteKey: "maang", Field: "access_token"}
	if a.DebounceKey() != b.DebounceKey() {
		t.Fatal("signals for the same site and field must coalesce")
	}
	c := ChangeSignal{Kind: SignalCookie, SiteKey: "other", Field: "access_token"}
	if a.DebounceKey() == c.DebounceKey() {
		t.Fatal("signals for different sites must not coalesce")
	}
}
