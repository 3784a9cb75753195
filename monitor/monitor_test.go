package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ravi-ivar-7/choco-sub000/browsercap"
	"github.com/ravi-ivar-7/choco-sub000/browsercap/captest"
	"github.com/ravi-ivar-7/choco-sub000/session"
	"github.com/ravi-ivar-7/choco-sub000/siteprofile"
	"github.com/ravi-ivar-7/choco-sub000/syncer"
)

type recordingPusher struct {
	mu    sync.Mutex
	calls []string // site keys, in order
	srcs  []session.Source
}

func (p *recordingPusher) Push(ctx context.Context, siteKey string, target browsercap.Target, source session.Source) (*syncer.Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, siteKey)
	p.srcs = append(p.srcs, source)
	return &syncer.Outcome{Kind: syncer.KindPushed, SiteKey: siteKey}, nil
}

func (p *recordingPusher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func newMonitor(t *testing.T, provider browsercap.Provider, pusher Pusher, window, settle time.Duration) (*Monitor, *siteprofile.Registry) {
	t.Helper()
	reg, err := siteprofile.NewRegistry([]siteprofile.Profile{{
		Key:             "maang",
		PrimaryHost:     "maang.in",
		RequiredCookies: []string{"access_token"},
		RequiredLocal:   []string{"user_id", "workspace"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	return New(Config{
		Registry: reg,
		Provider: provider,
		Pusher:   pusher,
		Window:   window,
		Settle:   settle,
	}), reg
}

func setSignal(name string) browsercap.CookieChange {
	return browsercap.CookieChange{Cookie: session.CookieRecord{Name: name, Value: "v", Domain: ".maang.in"}}
}

func removeSignal(name string) browsercap.CookieChange {
	return browsercap.CookieChange{Cookie: session.CookieRecord{Name: name, Domain: ".maang.in"}, Removed: true}
}

// A burst of mutations to one required cookie collapses into a single push.
func TestBurstTriggersOnePush(t *testing.T) {
	provider := &captest.Provider{}
	pusher := &recordingPusher{}
	m, _ := newMonitor(t, provider, pusher, 30*time.Millisecond, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < 8; i++ {
		provider.EmitCookieChange("maang.in", setSignal("access_token"))
	}
	time.Sleep(120 * time.Millisecond)

	if got := pusher.count(); got != 1 {
		t.Fatalf("pushes = %d, want exactly 1", got)
	}
	pusher.mu.Lock()
	defer pusher.mu.Unlock()
	if pusher.calls[0] != "maang" || pusher.srcs[0] != session.SourceAutoDetected {
		t.Fatalf("push = %s/%s", pusher.calls[0], pusher.srcs[0])
	}
}

// Mutations to cookies the profile does not require never schedule work.
func TestIrrelevantCookieDropped(t *testing.T) {
	provider := &captest.Provider{}
	pusher := &recordingPusher{}
	m, _ := newMonitor(t, provider, pusher, 10*time.Millisecond, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	provider.EmitCookieChange("maang.in", setSignal("_ga"))
	provider.EmitCookieChange("maang.in", setSignal("tracking_consent"))
	time.Sleep(60 * time.Millisecond)

	if got := pusher.count(); got != 0 {
		t.Fatalf("pushes = %d, want 0", got)
	}
}

// A removal followed quickly by a set is a browser-level overwrite: the
// removal must be swallowed and only the set synchronized.
func TestRemovalSettledBySet(t *testing.T) {
	provider := &captest.Provider{}
	pusher := &recordingPusher{}
	m, _ := newMonitor(t, provider, pusher, 20*time.Millisecond, 40*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	provider.EmitCookieChange("maang.in", removeSignal("access_token"))
	time.Sleep(5 * time.Millisecond)
	provider.EmitCookieChange("maang.in", setSignal("access_token"))
	time.Sleep(150 * time.Millisecond)

	if got := pusher.count(); got != 1 {
		t.Fatalf("pushes = %d, want 1 (overwrite, not delete)", got)
	}
}

// A lone removal survives the settle window and is synchronized.
func TestLoneRemovalFires(t *testing.T) {
	provider := &captest.Provider{}
	pusher := &recordingPusher{}
	m, _ := newMonitor(t, provider, pusher, 10*time.Millisecond, 15*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	provider.EmitCookieChange("maang.in", removeSignal("access_token"))
	time.Sleep(100 * time.Millisecond)

	if got := pusher.count(); got != 1 {
		t.Fatalf("pushes = %d, want 1", got)
	}
}

func TestStorageChanges(t *testing.T) {
	provider := &captest.Provider{}
	pusher := &recordingPusher{}
	m, reg := newMonitor(t, provider, pusher, 15*time.Millisecond, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	profile := reg.ByKey("maang")
	if err := m.InstrumentTarget(ctx, profile, "tab-1"); err != nil {
		t.Fatalf("InstrumentTarget: %v", err)
	}

	// one required key, one irrelevant key
	provider.EmitStorageChange("tab-1", browsercap.StorageChange{Area: "localStorage", Key: "user_id", NewValue: "42"})
	provider.EmitStorageChange("tab-1", browsercap.StorageChange{Area: "localStorage", Key: "theme", NewValue: "dark"})
	time.Sleep(80 * time.Millisecond)

	if got := pusher.count(); got != 1 {
		t.Fatalf("pushes = %d, want 1", got)
	}
}

// Storage.clear() counts as a removal of every required key in the area; the
// per-key debounce still collapses it into one push per key.
func TestStorageClear(t *testing.T) {
	provider := &captest.Provider{}
	pusher := &recordingPusher{}
	m, reg := newMonitor(t, provider, pusher, 15*time.Millisecond, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.InstrumentTarget(ctx, reg.ByKey("maang"), "tab-1"); err != nil {
		t.Fatal(err)
	}

	provider.EmitStorageChange("tab-1", browsercap.StorageChange{Area: "localStorage", Cleared: true})
	time.Sleep(80 * time.Millisecond)

	// user_id and workspace each get their own debounce key.
	if got := pusher.count(); got != 2 {
		t.Fatalf("pushes = %d, want 2", got)
	}
}

func TestInstrumentTargetIdempotent(t *testing.T) {
	provider := &captest.Provider{}
	pusher := &recordingPusher{}
	m, reg := newMonitor(t, provider, pusher, 15*time.Millisecond, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	profile := reg.ByKey("maang")
	for i := 0; i < 3; i++ {
		if err := m.InstrumentTarget(ctx, profile, "tab-1"); err != nil {
			t.Fatal(err)
		}
	}

	provider.EmitStorageChange("tab-1", browsercap.StorageChange{Area: "localStorage", Key: "user_id", NewValue: "42"})
	time.Sleep(80 * time.Millisecond)

	if got := pusher.count(); got != 1 {
		t.Fatalf("pushes = %d after repeated instrumentation, want 1", got)
	}
}

// After Dispose no pending debounce may fire, even if its window had begun.
func TestDisposeStopsPendingPushes(t *testing.T) {
	provider := &captest.Provider{}
	pusher := &recordingPusher{}
	m, _ := newMonitor(t, provider, pusher, 30*time.Millisecond, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	provider.EmitCookieChange("maang.in", setSignal("access_token"))
	m.Dispose()
	time.Sleep(100 * time.Millisecond)

	if got := pusher.count(); got != 0 {
		t.Fatalf("pushes = %d after Dispose, want 0", got)
	}
}
