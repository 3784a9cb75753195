// Package apply writes snapshots back into a live browser context.
package apply

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/ravi-ivar-7/choco-sub000/browsercap"
	"github.com/ravi-ivar-7/choco-sub000/session"
)

// Item kinds in result entries.
const (
	KindCookie         = "cookie"
	KindLocalStorage   = "localStorage"
	KindSessionStorage = "sessionStorage"
)

// ItemResult is the outcome of one attempted write.
type ItemResult struct {
	Kind string
	Name string
	OK   bool
	Err  string
}

// Result collects per-item outcomes of one apply pass.
type Result struct {
	Items []ItemResult
}

// Applied counts successful writes.
func (r *Result) Applied() int {
	n := 0
	for _, it := range r.Items {
		if it.OK {
			n++
		}
	}
	return n
}

// AnyApplied reports whether at least one write landed.
func (r *Result) AnyApplied() bool { return r.Applied() > 0 }

// Failed returns the failed items.
func (r *Result) Failed() []ItemResult {
	var out []ItemResult
	for _, it := range r.Items {
		if !it.OK {
			out = append(out, it)
		}
	}
	return out
}

// Applier restores a snapshot's cookies and storage into a target context.
// A failing item never stops the remaining writes; only inability to reach
// the page context at all is an error.
type Applier struct {
	provider browsercap.Provider
	log      *slog.Logger
}

// New creates an Applier on a browser capability provider.
func New(p browsercap.Provider, log *slog.Logger) *Applier {
	if log == nil {
		log = slog.Default()
	}
	return &Applier{provider: p, log: log}
}

// Apply writes every cookie and storage entry of the snapshot into the
// target. Cookies whose domain lacks a leading dot are set without a domain
// so the browser derives it from the target URL, keeping their scope exactly
// as captured.
func (a *Applier) Apply(ctx context.Context, s *session.Snapshot, target browsercap.Target) (*Result, error) {
	res := &Result{}

	for _, name := range sortedCookieNames(s.Cookies) {
		rec := s.Cookies[name]
		if rec.Name == "" {
			rec.Name = name
		}
		if !strings.HasPrefix(rec.Domain, ".") {
			rec.Domain = ""
		}
		item := ItemResult{Kind: KindCookie, Name: name, OK: true}
		if err := a.provider.SetCookie(ctx, target.URL, rec); err != nil {
			item.OK = false
			item.Err = err.Error()
			a.log.Warn("apply: cookie write failed", "cookie", name, "error", err)
		}
		res.Items = append(res.Items, item)
	}

	if len(s.LocalStorage) > 0 || len(s.SessionStorage) > 0 {
		failures, err := browsercap.WriteStorage(ctx, a.provider, target.ID, s.LocalStorage, s.SessionStorage)
		if err != nil {
			// the page context itself is unreachable
			return res, fmt.Errorf("apply: storage write in %s: %w", target.ID, err)
		}
		failed := make(map[string]string, len(failures))
		for _, f := range failures {
			failed[f.Area+"\x00"+f.Key] = f.Error
		}
		appendStorageItems(res, KindLocalStorage, s.LocalStorage, failed)
		appendStorageItems(res, KindSessionStorage, s.SessionStorage, failed)
	}

	return res, nil
}

func appendStorageItems(res *Result, kind string, entries map[string]string, failed map[string]string) {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		item := ItemResult{Kind: kind, Name: k, OK: true}
		if msg, ok := failed[kind+"\x00"+k]; ok {
			item.OK = false
			item.Err = msg
		}
		res.Items = append(res.Items, item)
	}
}

func sortedCookieNames(m map[string]session.CookieRecord) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
