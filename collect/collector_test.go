package collect

import (
	"context"
	"errors"
	"testing"

	"github.com/ravi-ivar-7/choco-sub000/browsercap"
	"github.com/ravi-ivar-7/choco-sub000/browsercap/captest"
	"github.com/ravi-ivar-7/choco-sub000/session"
	"github.com/ravi-ivar-7/choco-sub000/siteprofile"
)

var profile = &siteprofile.Profile{
	Key:             "maang",
	PrimaryHost:     "maang.in",
	RequiredCookies: []string{"access_token"},
	RequiredLocal:   []string{"user_id"},
}

func fullSelectors() session.Selectors {
	return session.Selectors{
		Cookies:        session.FieldSelector{Mode: session.SelectFull},
		LocalStorage:   session.FieldSelector{Mode: session.SelectFull},
		SessionStorage: session.FieldSelector{Mode: session.SelectFull},
		Fingerprint:    session.FieldSelector{Mode: session.SelectFull},
		UserAgent:      true,
		Platform:       true,
	}
}

func seededProvider() *captest.Provider {
	return &captest.Provider{
		Jar: map[string][]session.CookieRecord{
			"maang.in": {
				{Name: "access_token", Value: "tok", Domain: ".maang.in"},
				{Name: "_ga", Value: "GA1.1", Domain: ".maang.in"},
			},
		},
		Local:           map[string]map[string]string{"tab-1": {"user_id": "42", "theme": "dark"}},
		Session:         map[string]map[string]string{"tab-1": {"csrf": "x"}},
		FingerprintJSON: `{"screenWidth": 1920, "timezone": "Asia/Kolkata"}`,
		Env:             browsercap.Ambient{UserAgent: "Mozilla/5.0", Platform: "Linux x86_64", Browser: "Chrome/127"},
	}
}

func TestCollectFull(t *testing.T) {
	snap, err := New(seededProvider(), nil).Collect(context.Background(), profile, fullSelectors(), "tab-1")
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if snap.CapturedAt.IsZero() {
		t.Error("CapturedAt not stamped")
	}
	if len(snap.Cookies) != 2 || snap.Cookies["access_token"].Value != "tok" {
		t.Errorf("Cookies = %v", snap.Cookies)
	}
	if snap.LocalStorage["user_id"] != "42" || snap.SessionStorage["csrf"] != "x" {
		t.Errorf("storage = %v / %v", snap.LocalStorage, snap.SessionStorage)
	}
	if snap.Fingerprint["timezone"] != "Asia/Kolkata" {
		t.Errorf("Fingerprint = %v", snap.Fingerprint)
	}
	if snap.UserAgent == "" || snap.Platform == "" {
		t.Error("selected ambient scalars missing")
	}
	if snap.Browser != "" {
		t.Error("unselected ambient scalar must stay empty")
	}
	if snap.GeoLocation != nil {
		t.Error("unselected geolocation must stay empty")
	}
}

func TestCollectKeyedSelectors(t *testing.T) {
	sel := session.Selectors{
		Cookies:      session.FieldSelector{Mode: session.SelectKeys, Keys: []string{"access_token"}},
		LocalStorage: session.FieldSelector{Mode: session.SelectKeys, Keys: []string{"user_id"}},
	}
	snap, err := New(seededProvider(), nil).Collect(context.Background(), profile, sel, "tab-1")
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(snap.Cookies) != 1 {
		t.Errorf("Cookies = %v, want only access_token", snap.Cookies)
	}
	if len(snap.LocalStorage) != 1 {
		t.Errorf("LocalStorage = %v, want only user_id", snap.LocalStorage)
	}
}

// A failing signal source leaves its field empty; the run itself never fails.
func TestCollectBestEffort(t *testing.T) {
	p := seededProvider()
	p.CookiesErr = errors.New("browser busy")
	p.RunInPageErr = errors.New("target detached")

	snap, err := New(p, nil).Collect(context.Background(), profile, fullSelectors(), "tab-1")
	if err != nil {
		t.Fatalf("partial failure must not abort collection: %v", err)
	}
	if snap.Cookies != nil || snap.LocalStorage != nil || snap.Fingerprint != nil {
		t.Errorf("failed signals must stay empty: %+v", snap)
	}
	if snap.UserAgent == "" {
		t.Error("ambient signals must still be collected")
	}
}

func TestCollectCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(seededProvider(), nil).Collect(ctx, profile, fullSelectors(), "tab-1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
