package audit

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ravi-ivar-7/choco-sub000/dbopen"
)

func newTrail(t *testing.T) *Trail {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	tr := New(db, 16, nil)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestRecordAndRecent(t *testing.T) {
	tr := newTrail(t)

	tr.Record(Entry{
		TeamID:       "team-1",
		MemberID:     "mem-1",
		Action:       ActionCredentialStore,
		CredentialID: "cred-abc",
		Site:         "maang",
	})
	tr.Record(Entry{
		TeamID:  "team-1",
		Action:  ActionLogin,
		Outcome: OutcomeDenied,
		Detail:  "wrong password",
	})
	// Close drains the buffer, so the entries are queryable afterwards.
	tr.Close()

	entries, err := tr.Recent(context.Background(), "team-1", 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	for _, e := range entries {
		if e.ID == "" || !strings.HasPrefix(e.ID, "aud_") {
			t.Errorf("entry id = %q, want aud_ prefix", e.ID)
		}
		if e.At.IsZero() {
			t.Errorf("entry %s has zero timestamp", e.ID)
		}
	}

	byAction := map[string]Entry{}
	for _, e := range entries {
		byAction[e.Action] = e
	}
	store := byAction[ActionCredentialStore]
	if store.Outcome != OutcomeOK {
		t.Errorf("store outcome = %q, want ok default", store.Outcome)
	}
	if store.CredentialID != "cred-abc" || store.Site != "maang" {
		t.Errorf("store entry lost fields: %+v", store)
	}
	login := byAction[ActionLogin]
	if login.Outcome != OutcomeDenied || login.Detail != "wrong password" {
		t.Errorf("login entry lost fields: %+v", login)
	}
}

func TestRecentScopedByTeam(t *testing.T) {
	tr := newTrail(t)
	tr.Record(Entry{TeamID: "team-a", Action: ActionCredentialStore})
	tr.Record(Entry{TeamID: "team-b", Action: ActionCredentialPurge})
	tr.Close()

	entries, err := tr.Recent(context.Background(), "team-a", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != ActionCredentialStore {
		t.Fatalf("team-a sees %+v, want only its own store entry", entries)
	}
}

func TestRecentLimitAndOrder(t *testing.T) {
	tr := newTrail(t)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		tr.Record(Entry{
			TeamID: "team-1",
			Action: ActionCredentialStore,
			At:     base.Add(time.Duration(i) * time.Minute),
			Detail: fmt.Sprintf("push %d", i),
		})
	}
	tr.Close()

	entries, err := tr.Recent(context.Background(), "team-1", 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].Detail != "push 4" {
		t.Errorf("first entry = %q, want newest", entries[0].Detail)
	}
}

func TestRecordFullBufferFallsBackToSync(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	tr := New(db, 1, nil)
	t.Cleanup(func() { tr.Close() })

	for i := 0; i < 20; i++ {
		tr.Record(Entry{TeamID: "team-1", Action: ActionCredentialStore})
	}
	tr.Close()

	entries, err := tr.Recent(context.Background(), "team-1", 100)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 20 {
		t.Fatalf("got %d entries, want all 20 despite tiny buffer", len(entries))
	}
}

func TestPrune(t *testing.T) {
	tr := newTrail(t)
	tr.Record(Entry{TeamID: "team-1", Action: ActionLogin, At: time.Now().Add(-48 * time.Hour)})
	tr.Record(Entry{TeamID: "team-1", Action: ActionLogin})
	tr.Close()

	removed, err := tr.Prune(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("pruned %d entries, want 1", removed)
	}
	entries, err := tr.Recent(context.Background(), "team-1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("%d entries survive, want 1", len(entries))
	}
}
