package session

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Expired applies the best-effort liveness heuristic: a snapshot is expired
// when any cookie's expiry is in the past, or when any storage value that
// decodes as a bearer-token-like structure carries an expiry in the past.
// Absence of any expiry signal across all fields means "treat as live".
//
// This is a heuristic, not a guarantee — a site can invalidate a session
// server-side without any client-visible expiry, and opaque values are
// assumed live.
func Expired(s *Snapshot, now time.Time) bool {
	for _, c := range s.Cookies {
		if exp, ok := cookieExpiry(c); ok && exp.Before(now) {
			return true
		}
	}
	for _, v := range s.LocalStorage {
		if exp, ok := tokenExpiry(v); ok && exp.Before(now) {
			return true
		}
	}
	for _, v := range s.SessionStorage {
		if exp, ok := tokenExpiry(v); ok && exp.Before(now) {
			return true
		}
	}
	return false
}

func cookieExpiry(c CookieRecord) (time.Time, bool) {
	if c.ExpirationDate > 0 {
		sec := int64(c.ExpirationDate)
		nsec := int64((c.ExpirationDate - float64(sec)) * 1e9)
		return time.Unix(sec, nsec), true
	}
	if c.Expires != "" {
		for _, layout := range []string{time.RFC3339, time.RFC1123, time.RFC850} {
			if t, err := time.Parse(layout, c.Expires); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// tokenExpiry probes a storage value for an embedded expiry: either a JWT
// (three dot-separated segments, parsed without signature verification) or a
// JSON object with an exp/expires_at/expiry field. Malformed values yield no
// signal rather than an error.
func tokenExpiry(value string) (time.Time, bool) {
	if strings.Count(value, ".") == 2 {
		if exp, ok := jwtExpiry(value); ok {
			return exp, true
		}
	}
	if strings.HasPrefix(strings.TrimSpace(value), "{") {
		return jsonExpiry(value)
	}
	return time.Time{}, false
}

func jwtExpiry(token string) (time.Time, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

func jsonExpiry(value string) (time.Time, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(value), &obj); err != nil {
		return time.Time{}, false
	}
	for _, field := range []string{"exp", "expires_at", "expiry"} {
		v, ok := obj[field]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case float64:
			return time.Unix(int64(t), 0), true
		case string:
			if parsed, err := time.Parse(time.RFC3339, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}
