// Package agentstate persists the agent's non-authoritative context between
// invocations: the selected site, the last browsing target, and per-site
// sync timestamps. Everything here is rebuildable from scratch; losing the
// file costs nothing but a cold start.
package agentstate

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ravi-ivar-7/choco-sub000/dbopen"
)

const schema = `
CREATE TABLE IF NOT EXISTS agent_kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS site_sync (
	site_key     TEXT PRIMARY KEY,
	last_update  TEXT NOT NULL
);
`

const (
	keySelectedSite = "selectedSiteKey"
	keyLastTarget   = "lastTarget"
)

// Store is the agent's local state database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the state database at path.
func Open(path string) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("agentstate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Wrap builds a Store on an already-open database. Used in tests with
// dbopen.OpenMemory.
func Wrap(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("agentstate: schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// SetSelectedSite remembers the site the agent last operated on.
func (s *Store) SetSelectedSite(key string) error {
	return s.setKV(keySelectedSite, key)
}

// SelectedSite returns the remembered site key, or "" when none is stored.
func (s *Store) SelectedSite() (string, error) {
	return s.getKV(keySelectedSite)
}

// SetLastTarget remembers the URL of the last relevant browsing context.
func (s *Store) SetLastTarget(url string) error {
	return s.setKV(keyLastTarget, url)
}

// LastTarget returns the remembered target URL, or "" when none is stored.
func (s *Store) LastTarget() (string, error) {
	return s.getKV(keyLastTarget)
}

// TouchSite records when a site last synchronized successfully.
func (s *Store) TouchSite(key string, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO site_sync (site_key, last_update) VALUES (?, ?)
		ON CONFLICT(site_key) DO UPDATE SET last_update = excluded.last_update`,
		key, at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("agentstate: touch site %s: %w", key, err)
	}
	return nil
}

// SiteTouched returns the last successful sync time for the site. The bool
// is false when the site has never synced.
func (s *Store) SiteTouched(key string) (time.Time, bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT last_update FROM site_sync WHERE site_key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("agentstate: site %s: %w", key, err)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("agentstate: bad timestamp for %s: %w", key, err)
	}
	return t, true, nil
}

// Reset wipes all state. The agent rebuilds it on the next run.
func (s *Store) Reset() error {
	for _, stmt := range []string{`DELETE FROM agent_kv`, `DELETE FROM site_sync`} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("agentstate: reset: %w", err)
		}
	}
	return nil
}

func (s *Store) setKV(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO agent_kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("agentstate: set %s: %w", key, err)
	}
	return nil
}

func (s *Store) getKV(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM agent_kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("agentstate: get %s: %w", key, err)
	}
	return value, nil
}
