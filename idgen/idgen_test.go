package idgen

import (
	"sort"
	"strings"
	"testing"
	"time"
)

func TestUUIDv7Sortable(t *testing.T) {
	gen := UUIDv7()
	ids := make([]string, 5)
	for i := range ids {
		ids[i] = gen()
		time.Sleep(2 * time.Millisecond)
	}
	if !sort.StringsAreSorted(ids) {
		t.Fatalf("v7 IDs not time-sorted: %v", ids)
	}
	seen := make(map[string]bool)
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate ID %s", id)
		}
		seen[id] = true
	}
}

func TestNanoID(t *testing.T) {
	gen := NanoID(12)
	id := gen()
	if len(id) != 12 {
		t.Fatalf("len = %d, want 12", len(id))
	}
	for _, r := range id {
		if !strings.ContainsRune("0123456789abcdefghijklmnopqrstuvwxyz", r) {
			t.Fatalf("unexpected character %q in %s", r, id)
		}
	}
	if gen() == gen() {
		t.Fatal("consecutive NanoIDs collided")
	}
}

func TestPrefixed(t *testing.T) {
	gen := Prefixed("cred_", UUIDv7())
	id := gen()
	if !strings.HasPrefix(id, "cred_") {
		t.Fatalf("id = %q", id)
	}
	if _, err := Parse(strings.TrimPrefix(id, "cred_")); err != nil {
		t.Fatalf("suffix is not a UUID: %v", err)
	}
}

func TestParse(t *testing.T) {
	id := New()
	got, err := Parse(id)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got != id {
		t.Fatalf("Parse(%q) = %q", id, got)
	}
	if _, err := Parse("not-a-uuid"); err == nil {
		t.Fatal("expected error for malformed UUID")
	}
}
