package storeclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ravi-ivar-7/choco-sub000/session"
)

func newTestClient(t *testing.T, h http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, Token: "tok", AllowPrivate: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, srv
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{BaseURL: "https://store.example.com", Token: ""}); err == nil {
		t.Fatal("expected error for empty token")
	}
	if _, err := New(Config{BaseURL: "ftp://store.example.com", Token: "t"}); err == nil {
		t.Fatal("expected error for non-http scheme")
	}
	if _, err := New(Config{BaseURL: "http://127.0.0.1:9999", Token: "t"}); err == nil {
		t.Fatal("expected error for loopback store without AllowPrivate")
	}
	if _, err := New(Config{BaseURL: "http://127.0.0.1:9999", Token: "t", AllowPrivate: true}); err != nil {
		t.Fatalf("AllowPrivate must permit loopback: %v", err)
	}
}

func TestPush(t *testing.T) {
	var gotAuth, gotPath string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.Method + " " + r.URL.Path
		var snap session.Snapshot
		if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
			t.Errorf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"credential": "cred_123"},
		})
	}))

	id, err := c.Push(context.Background(), &session.Snapshot{
		LocalStorage: map[string]string{"user_id": "42"},
	})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if id != "cred_123" {
		t.Errorf("id = %q", id)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPath != "POST /api/credentials/store" {
		t.Errorf("request = %q", gotPath)
	}
}

func TestList(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/credentials/get" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"credentials": []map[string]any{
					{"id": "cred_1", "localStorage": map[string]string{"user_id": "42"}},
					{"id": "cred_2"},
				},
				"count": 2,
			},
		})
	}))

	snaps, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(snaps) != 2 || snaps[0].ID != "cred_1" || snaps[0].LocalStorage["user_id"] != "42" {
		t.Fatalf("snaps = %+v", snaps)
	}
}

func TestDeleteAndPurge(t *testing.T) {
	var lastQuery string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"deletedCount": 3},
		})
	}))

	n, err := c.Delete(context.Background(), "cred_1")
	if err != nil || n != 3 {
		t.Fatalf("Delete = %d, %v", n, err)
	}
	if lastQuery != "credentialId=cred_1" {
		t.Errorf("query = %q", lastQuery)
	}

	if _, err := c.Delete(context.Background(), "../../etc"); err == nil {
		t.Fatal("expected error for unsafe credential id")
	}

	n, err = c.Purge(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("Purge = %d, %v", n, err)
	}
	if lastQuery != "" {
		t.Errorf("purge must not carry a credentialId, got %q", lastQuery)
	}
}

// A failing request is one attempt, surfaced as ErrTransport, never retried.
func TestTransportErrorSingleAttempt(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))

	_, err := c.Push(context.Background(), &session.Snapshot{})
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("store hit %d times, want exactly 1", got)
	}
}

func TestRejectedEnvelope(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "credential data is required"})
	}))

	_, err := c.Push(context.Background(), &session.Snapshot{})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	if errors.Is(err, ErrTransport) {
		t.Fatal("a 2xx rejection is not a transport failure")
	}
}
