// CLAUDE:SUMMARY Sync orchestrator state machine: collect, validate locally,
// then push to the team store or fall back to fetching and applying a
// team-shared snapshot.

// Package syncer sequences one synchronization run per site context:
// COLLECT, VALIDATE_LOCAL, then PUSH or FETCH_REMOTE plus APPLY. A live
// local session is always preferred over the team pool; the pool is only
// consulted when the local session is absent or incomplete.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ravi-ivar-7/choco-sub000/apply"
	"github.com/ravi-ivar-7/choco-sub000/browsercap"
	"github.com/ravi-ivar-7/choco-sub000/collect"
	"github.com/ravi-ivar-7/choco-sub000/session"
	"github.com/ravi-ivar-7/choco-sub000/siteprofile"
	"github.com/ravi-ivar-7/choco-sub000/validate"
)

// Store is the remote persistence surface the orchestrator needs.
// *storeclient.Client satisfies it.
type Store interface {
	Push(ctx context.Context, snap *session.Snapshot) (string, error)
	List(ctx context.Context) ([]session.Snapshot, error)
}

// Notifier receives human-facing side effects of a run. Implementations
// must not block.
type Notifier interface {
	// ReloadRequired fires after a team snapshot was applied; the new
	// session only takes effect on the next navigation.
	ReloadRequired(siteKey string)
	// LoginRequired fires when the team has no usable credential left.
	LoginRequired(siteKey string)
}

// LogNotifier is the default Notifier: it only writes the prompt to the
// log. Deployments with a UI surface replace it.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) logger() *slog.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return slog.Default()
}

// ReloadRequired logs the reload prompt.
func (n LogNotifier) ReloadRequired(siteKey string) {
	n.logger().Info("syncer: reload the page to pick up the applied session", "site", siteKey)
}

// LoginRequired logs the human-login prompt.
func (n LogNotifier) LoginRequired(siteKey string) {
	n.logger().Warn("syncer: team has no usable access, someone must sign in", "site", siteKey)
}

// StateStore persists the agent's non-authoritative context between
// invocations. May be nil.
type StateStore interface {
	SetSelectedSite(key string) error
	SetLastTarget(url string) error
	TouchSite(key string, at time.Time) error
}

// ErrUnknownSite is returned for a site key outside the registry.
var ErrUnknownSite = errors.New("syncer: unknown site key")

// Kind classifies a run's terminal outcome.
type Kind string

const (
	// KindPushed — local session was valid and persisted to the store.
	KindPushed Kind = "pushed"
	// KindDuplicateSkip — local session already stored verbatim; no call
	// to persist was made. Not an error.
	KindDuplicateSkip Kind = "duplicate_skip"
	// KindLocalIncomplete — explicit push requested but the local session
	// fails structural validation; nothing fetched, nothing stored.
	KindLocalIncomplete Kind = "local_incomplete"
	// KindApplied — a team snapshot was applied and verified usable.
	KindApplied Kind = "applied"
	// KindAppliedUnverified — a team snapshot was applied but the
	// post-apply re-check did not confirm a usable session.
	KindAppliedUnverified Kind = "applied_unverified"
	// KindNoViableCredential — every team candidate failed; a human must
	// sign in.
	KindNoViableCredential Kind = "no_viable_credential"
)

// Outcome is the structured result of one run. Failures of individual steps
// are folded into the outcome rather than thrown across this boundary; only
// transport and context errors surface as Go errors.
type Outcome struct {
	Kind         Kind
	SiteKey      string
	CredentialID string
	// Missing carries structural-validation detail for local_incomplete
	// and no_viable_credential outcomes.
	Missing []string
	// Apply carries per-item write results when a candidate was applied.
	Apply *apply.Result
}

// Config wires an Orchestrator.
type Config struct {
	TeamID    string
	Registry  *siteprofile.Registry
	Collector *collect.Collector
	Applier   *apply.Applier
	Store     Store
	Selectors session.Selectors
	Notifier  Notifier // optional
	State     StateStore
	Logger    *slog.Logger
}

// Orchestrator runs the sync state machine. Safe for concurrent use; PUSH
// attempts for the same site are serialized to keep the duplicate-push race
// window small.
type Orchestrator struct {
	cfg Config
	log *slog.Logger
	now func() time.Time

	mu       sync.Mutex
	pushLock map[string]*sync.Mutex
	lastGood map[string]*session.Snapshot
}

// New builds an Orchestrator from fully-constructed parts.
func New(cfg Config) *Orchestrator {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = LogNotifier{Logger: log}
	}
	return &Orchestrator{
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		pushLock: make(map[string]*sync.Mutex),
		lastGood: make(map[string]*session.Snapshot),
	}
}

// LastGood returns the most recent snapshot known usable for the site, or
// nil. Process-lifetime cache, never persisted.
func (o *Orchestrator) LastGood(siteKey string) *session.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastGood[siteKey]
}

// Run executes one full pass for a site context: collect the local session,
// push it when structurally complete, otherwise fall back to the team pool.
func (o *Orchestrator) Run(ctx context.Context, siteKey string, target browsercap.Target, source session.Source) (*Outcome, error) {
	profile, _, res, err := o.collectLocal(ctx, siteKey, target, source)
	if err != nil {
		return nil, err
	}
	if res.OK {
		return o.push(ctx, profile, res.Reduced)
	}
	o.log.Info("syncer: local session incomplete, trying team pool",
		"site", siteKey, "missing", res.Missing)
	return o.fetchRemote(ctx, profile, target)
}

// Push executes only the PUSH path: collect, validate, persist. Used by the
// change monitor, which must never clobber the local session with a remote
// one just because a single field flickered.
func (o *Orchestrator) Push(ctx context.Context, siteKey string, target browsercap.Target, source session.Source) (*Outcome, error) {
	profile, _, res, err := o.collectLocal(ctx, siteKey, target, source)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return &Outcome{Kind: KindLocalIncomplete, SiteKey: profile.Key, Missing: res.Missing}, nil
	}
	return o.push(ctx, profile, res.Reduced)
}

func (o *Orchestrator) collectLocal(ctx context.Context, siteKey string, target browsercap.Target, source session.Source) (*siteprofile.Profile, *session.Snapshot, validate.StructureResult, error) {
	profile := o.cfg.Registry.ByKey(siteKey)
	if profile == nil {
		return nil, nil, validate.StructureResult{}, ErrUnknownSite
	}
	o.rememberContext(profile.Key, target)

	snap, err := o.cfg.Collector.Collect(ctx, profile, o.cfg.Selectors, target.ID)
	if err != nil {
		return nil, nil, validate.StructureResult{}, err
	}
	snap.Source = source
	snap.TeamID = o.cfg.TeamID
	return profile, snap, validate.Structure(snap, profile), nil
}

func (o *Orchestrator) push(ctx context.Context, profile *siteprofile.Profile, reduced *session.Snapshot) (*Outcome, error) {
	lock := o.siteLock(profile.Key)
	lock.Lock()
	defer lock.Unlock()

	existing, err := o.cfg.Store.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range existing {
		if validate.Match(reduced, &existing[i]).OK {
			o.log.Info("syncer: exact duplicate already stored",
				"site", profile.Key, "credential", existing[i].ID)
			o.setLastGood(profile.Key, reduced)
			return &Outcome{Kind: KindDuplicateSkip, SiteKey: profile.Key, CredentialID: existing[i].ID}, nil
		}
	}

	id, err := o.cfg.Store.Push(ctx, reduced)
	if err != nil {
		return nil, err
	}
	o.log.Info("syncer: pushed snapshot", "site", profile.Key, "credential", id)
	o.setLastGood(profile.Key, reduced)
	o.touchSite(profile.Key)
	return &Outcome{Kind: KindPushed, SiteKey: profile.Key, CredentialID: id}, nil
}

// fetchRemote walks the team pool newest-first and applies the first
// structurally valid, unexpired candidate. An apply that lands nothing
// counts as failed outright and the walk continues; an apply that lands
// anything ends the walk even when the post-apply re-check stays negative.
func (o *Orchestrator) fetchRemote(ctx context.Context, profile *siteprofile.Profile, target browsercap.Target) (*Outcome, error) {
	candidates, err := o.cfg.Store.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].CapturedAt.Equal(candidates[j].CapturedAt) {
			return candidates[i].CapturedAt.After(candidates[j].CapturedAt)
		}
		// UUIDv7 ids order by mint time, so the higher id is the later push.
		return candidates[i].ID > candidates[j].ID
	})

	var lastMissing []string
	for i := range candidates {
		cand := &candidates[i]
		res := validate.Structure(cand, profile)
		if !res.OK {
			lastMissing = res.Missing
			o.log.Debug("syncer: candidate structurally invalid",
				"site", profile.Key, "credential", cand.ID, "missing", res.Missing)
			continue
		}
		if session.Expired(cand, o.now()) {
			o.log.Debug("syncer: candidate expired", "site", profile.Key, "credential", cand.ID)
			continue
		}

		applied, err := o.cfg.Applier.Apply(ctx, cand, target)
		if err != nil || !applied.AnyApplied() {
			o.log.Warn("syncer: apply failed, trying next candidate",
				"site", profile.Key, "credential", cand.ID, "error", err)
			continue
		}

		outcome := &Outcome{Kind: KindAppliedUnverified, SiteKey: profile.Key, CredentialID: cand.ID, Apply: applied}
		if recheck, err := o.cfg.Collector.Collect(ctx, profile, o.cfg.Selectors, target.ID); err == nil {
			if validate.Structure(recheck, profile).OK {
				outcome.Kind = KindApplied
			}
		}
		o.setLastGood(profile.Key, cand)
		o.touchSite(profile.Key)
		o.cfg.Notifier.ReloadRequired(profile.Key)
		o.log.Info("syncer: team snapshot applied",
			"site", profile.Key, "credential", cand.ID, "verified", outcome.Kind == KindApplied)
		return outcome, nil
	}

	o.cfg.Notifier.LoginRequired(profile.Key)
	o.log.Warn("syncer: no viable team credential", "site", profile.Key)
	return &Outcome{Kind: KindNoViableCredential, SiteKey: profile.Key, Missing: lastMissing}, nil
}

func (o *Orchestrator) siteLock(siteKey string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := o.cfg.TeamID + "/" + siteKey
	lock, ok := o.pushLock[key]
	if !ok {
		lock = &sync.Mutex{}
		o.pushLock[key] = lock
	}
	return lock
}

func (o *Orchestrator) setLastGood(siteKey string, snap *session.Snapshot) {
	o.mu.Lock()
	o.lastGood[siteKey] = snap
	o.mu.Unlock()
}

func (o *Orchestrator) rememberContext(siteKey string, target browsercap.Target) {
	if o.cfg.State == nil {
		return
	}
	if err := o.cfg.State.SetSelectedSite(siteKey); err != nil {
		o.log.Warn("syncer: persist selected site", "error", err)
	}
	if target.URL != "" {
		if err := o.cfg.State.SetLastTarget(target.URL); err != nil {
			o.log.Warn("syncer: persist last target", "error", err)
		}
	}
}

func (o *Orchestrator) touchSite(siteKey string) {
	if o.cfg.State == nil {
		return
	}
	if err := o.cfg.State.TouchSite(siteKey, o.now()); err != nil {
		o.log.Warn("syncer: persist site timestamp", "error", err)
	}
}
