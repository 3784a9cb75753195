// Package audit records credential operations against the store, so a team
// can answer "who replaced the shared session, and when". Entries are
// buffered and flushed in batches to keep the hot request path off the
// write lock.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ravi-ivar-7/choco-sub000/idgen"
)

// Schema creates the audit_log table. Idempotent; apply alongside the
// store's own schema.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_log (
    entry_id      TEXT PRIMARY KEY,
    at            INTEGER NOT NULL,
    team_id       TEXT NOT NULL,
    member_id     TEXT NOT NULL DEFAULT '',
    action        TEXT NOT NULL,
    credential_id TEXT NOT NULL DEFAULT '',
    site          TEXT NOT NULL DEFAULT '',
    trace_id      TEXT NOT NULL DEFAULT '',
    outcome       TEXT NOT NULL DEFAULT 'ok',
    detail        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_team_at ON audit_log (team_id, at DESC);
`

// Actions recorded by the store.
const (
	ActionLogin            = "login"
	ActionCredentialStore  = "credential_store"
	ActionCredentialDelete = "credential_delete"
	ActionCredentialPurge  = "credential_purge"
)

// Outcomes for an entry.
const (
	OutcomeOK     = "ok"
	OutcomeDenied = "denied"
	OutcomeError  = "error"
)

// Entry is a single recorded operation.
type Entry struct {
	ID           string    `json:"id"`
	At           time.Time `json:"at"`
	TeamID       string    `json:"teamId"`
	MemberID     string    `json:"memberId,omitempty"`
	Action       string    `json:"action"`
	CredentialID string    `json:"credentialId,omitempty"`
	Site         string    `json:"site,omitempty"`
	TraceID      string    `json:"traceId,omitempty"`
	Outcome      string    `json:"outcome"`
	Detail       string    `json:"detail,omitempty"`
}

// Trail buffers entries and persists them in batches. Close drains the
// buffer before returning, so short-lived processes lose nothing.
type Trail struct {
	db    *sql.DB
	newID idgen.Generator
	log   *slog.Logger
	ch    chan Entry
	syncc chan chan struct{}
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// New starts a trail over db. The audit_log table must exist (apply Schema
// at open time). buffer bounds the in-flight queue; 256 is plenty for a
// team-sized store.
func New(db *sql.DB, buffer int, log *slog.Logger) *Trail {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = slog.Default()
	}
	t := &Trail{
		db:    db,
		newID: idgen.Prefixed("aud_", idgen.Default),
		log:   log,
		ch:    make(chan Entry, buffer),
		syncc: make(chan chan struct{}),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go t.flushLoop()
	return t
}

// Record queues an entry. If the buffer is full the entry is written
// synchronously rather than dropped; an audit trail with holes is worse
// than a slow request.
func (t *Trail) Record(e Entry) {
	t.fill(&e)
	select {
	case t.ch <- e:
	default:
		if err := t.insert(context.Background(), e); err != nil {
			t.log.Error("audit: sync fallback insert failed", "error", err, "action", e.Action)
		}
	}
}

// Flush writes every entry queued so far before returning. No-op after
// Close.
func (t *Trail) Flush() {
	reply := make(chan struct{})
	select {
	case t.syncc <- reply:
		<-reply
	case <-t.done:
	}
}

// Recent returns the newest entries for a team, capped at limit
// (default 50). Queued entries are flushed first so callers see their own
// writes.
func (t *Trail) Recent(ctx context.Context, teamID string, limit int) ([]Entry, error) {
	t.Flush()
	if limit <= 0 {
		limit = 50
	}
	rows, err := t.db.QueryContext(ctx, `
		SELECT entry_id, at, team_id, member_id, action, credential_id, site, trace_id, outcome, detail
		FROM audit_log WHERE team_id = ? ORDER BY at DESC, entry_id DESC LIMIT ?`,
		teamID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var at int64
		if err := rows.Scan(&e.ID, &at, &e.TeamID, &e.MemberID, &e.Action,
			&e.CredentialID, &e.Site, &e.TraceID, &e.Outcome, &e.Detail); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.At = time.Unix(at, 0).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries older than keep. Returns the number removed.
func (t *Trail) Prune(ctx context.Context, keep time.Duration) (int64, error) {
	cutoff := time.Now().Add(-keep).Unix()
	res, err := t.db.ExecContext(ctx, `DELETE FROM audit_log WHERE at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit: prune: %w", err)
	}
	return res.RowsAffected()
}

// Close drains pending entries and stops the flush goroutine. Safe to call
// more than once.
func (t *Trail) Close() error {
	t.once.Do(func() { close(t.stop) })
	<-t.done
	return nil
}

func (t *Trail) fill(e *Entry) {
	if e.ID == "" {
		e.ID = t.newID()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if e.Outcome == "" {
		e.Outcome = OutcomeOK
	}
}

func (t *Trail) flushLoop() {
	defer close(t.done)
	tick := time.NewTicker(2 * time.Second)
	defer tick.Stop()
	batch := make([]Entry, 0, 64)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := t.insertBatch(ctx, batch); err != nil {
			t.log.Error("audit: batch flush failed", "error", err, "entries", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-t.stop:
			for {
				select {
				case e := <-t.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-t.ch:
			batch = append(batch, e)
			if len(batch) >= 64 {
				flush()
			}
		case reply := <-t.syncc:
			for drained := false; !drained; {
				select {
				case e := <-t.ch:
					batch = append(batch, e)
				default:
					drained = true
				}
			}
			flush()
			close(reply)
		case <-tick.C:
			flush()
		}
	}
}

func (t *Trail) insertBatch(ctx context.Context, batch []Entry) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, e := range batch {
		if _, err := stmt.ExecContext(ctx, e.ID, e.At.Unix(), e.TeamID, e.MemberID,
			e.Action, e.CredentialID, e.Site, e.TraceID, e.Outcome, e.Detail); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

const insertSQL = `INSERT INTO audit_log
	(entry_id, at, team_id, member_id, action, credential_id, site, trace_id, outcome, detail)
	VALUES (?,?,?,?,?,?,?,?,?,?)`

func (t *Trail) insert(ctx context.Context, e Entry) error {
	_, err := t.db.ExecContext(ctx, insertSQL, e.ID, e.At.Unix(), e.TeamID, e.MemberID,
		e.Action, e.CredentialID, e.Site, e.TraceID, e.Outcome, e.Detail)
	return err
}
