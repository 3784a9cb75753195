package storesrv

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ravi-ivar-7/choco-sub000/dbopen"
	"github.com/ravi-ivar-7/choco-sub000/idgen"
	"github.com/ravi-ivar-7/choco-sub000/session"
)

// ErrNotFound marks a missing row.
var ErrNotFound = errors.New("storesrv: not found")

// Team is a credential-sharing group.
type Team struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Member is one authenticated agent identity inside a team.
type Member struct {
	ID           string
	TeamID       string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Stats summarizes a team's stored credentials.
type Stats struct {
	Total          int        `json:"total"`
	Active         int        `json:"active"`
	LastCapturedAt *time.Time `json:"lastCapturedAt,omitempty"`
}

// Repo is the store's data access layer. Credential payloads go through the
// vault; metadata columns stay queryable.
type Repo struct {
	db    *sql.DB
	vault *Vault
	ids   idgen.Generator
	now   func() time.Time
}

// NewRepo builds a Repo. gen defaults to "cred_"-prefixed UUIDv7.
func NewRepo(db *sql.DB, vault *Vault, gen idgen.Generator) *Repo {
	if gen == nil {
		gen = idgen.Prefixed("cred_", idgen.Default)
	}
	return &Repo{db: db, vault: vault, ids: gen, now: time.Now}
}

// CreateTeam inserts a team.
func (r *Repo) CreateTeam(ctx context.Context, name string) (Team, error) {
	t := Team{ID: idgen.Prefixed("team_", idgen.Default)(), Name: name, CreatedAt: r.now().UTC()}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO teams (id, name, created_at) VALUES (?, ?, ?)`,
		t.ID, t.Name, t.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Team{}, fmt.Errorf("storesrv: create team: %w", err)
	}
	return t, nil
}

// CreateMember inserts a member with a bcrypt-hashed password.
func (r *Repo) CreateMember(ctx context.Context, teamID, email, password string) (Member, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Member{}, fmt.Errorf("storesrv: hash password: %w", err)
	}
	m := Member{
		ID:        idgen.Prefixed("mem_", idgen.Default)(),
		TeamID:    teamID,
		Email:     strings.ToLower(email),
		CreatedAt: r.now().UTC(),
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO members (id, team_id, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.TeamID, m.Email, string(hash), m.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Member{}, fmt.Errorf("storesrv: create member: %w", err)
	}
	return m, nil
}

// MemberByEmail looks a member up for login.
func (r *Repo) MemberByEmail(ctx context.Context, email string) (Member, error) {
	var m Member
	var created string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, team_id, email, password_hash, created_at FROM members WHERE email = ?`,
		strings.ToLower(email)).Scan(&m.ID, &m.TeamID, &m.Email, &m.PasswordHash, &created)
	if err == sql.ErrNoRows {
		return Member{}, ErrNotFound
	}
	if err != nil {
		return Member{}, fmt.Errorf("storesrv: member by email: %w", err)
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return m, nil
}

// InsertCredential seals and stores a snapshot for a team, returning the
// assigned id. The store owns id and capture time.
func (r *Repo) InsertCredential(ctx context.Context, teamID string, snap *session.Snapshot) (string, error) {
	stored := *snap
	stored.ID = r.ids()
	stored.TeamID = teamID
	stored.CapturedAt = r.now().UTC()
	stored.LastUsedAt = nil

	hash := payloadHash(&stored)
	plain, err := json.Marshal(&stored)
	if err != nil {
		return "", fmt.Errorf("storesrv: encode credential: %w", err)
	}
	sealed, err := r.vault.Seal(plain)
	if err != nil {
		return "", err
	}

	err = dbopen.RunTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO credentials (id, team_id, source, captured_at, last_used_at, is_active, payload_hash, payload)
			VALUES (?, ?, ?, ?, NULL, 1, ?, ?)`,
			stored.ID, teamID, string(stored.Source),
			stored.CapturedAt.Format(time.RFC3339Nano), hash, sealed)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("storesrv: insert credential: %w", err)
	}
	return stored.ID, nil
}

// ListCredentials returns the team's active snapshots newest-first,
// deduplicated by payload hash (two racing pushes of the same session yield
// one row on read), and touches last_used_at on everything returned.
func (r *Repo) ListCredentials(ctx context.Context, teamID string) ([]session.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, payload_hash, payload FROM credentials
		WHERE team_id = ? AND is_active = 1
		ORDER BY captured_at DESC, id DESC`, teamID)
	if err != nil {
		return nil, fmt.Errorf("storesrv: list credentials: %w", err)
	}
	defer rows.Close()

	var out []session.Snapshot
	var touched []any
	seen := make(map[string]bool)
	for rows.Next() {
		var id, hash string
		var sealed []byte
		if err := rows.Scan(&id, &hash, &sealed); err != nil {
			return nil, fmt.Errorf("storesrv: scan credential: %w", err)
		}
		if seen[hash] {
			continue
		}
		seen[hash] = true

		plain, err := r.vault.Open(sealed)
		if err != nil {
			return nil, fmt.Errorf("storesrv: unseal %s: %w", id, err)
		}
		var snap session.Snapshot
		if err := json.Unmarshal(plain, &snap); err != nil {
			return nil, fmt.Errorf("storesrv: decode %s: %w", id, err)
		}
		out = append(out, snap)
		touched = append(touched, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storesrv: list credentials: %w", err)
	}

	if len(touched) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(touched)), ",")
		args := append([]any{r.now().UTC().Format(time.RFC3339Nano)}, touched...)
		if _, err := r.db.ExecContext(ctx,
			`UPDATE credentials SET last_used_at = ? WHERE id IN (`+placeholders+`)`, args...); err != nil {
			return nil, fmt.Errorf("storesrv: touch credentials: %w", err)
		}
	}
	return out, nil
}

// DeleteCredential removes one credential of the team.
func (r *Repo) DeleteCredential(ctx context.Context, teamID, id string) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE team_id = ? AND id = ?`, teamID, id)
	if err != nil {
		return 0, fmt.Errorf("storesrv: delete credential: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PurgeCredentials removes every credential of the team.
func (r *Repo) PurgeCredentials(ctx context.Context, teamID string) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE team_id = ?`, teamID)
	if err != nil {
		return 0, fmt.Errorf("storesrv: purge credentials: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// TeamStats reports credential counts for a team.
func (r *Repo) TeamStats(ctx context.Context, teamID string) (Stats, error) {
	var s Stats
	var last sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(is_active), 0),
		       MAX(CASE WHEN is_active = 1 THEN captured_at END)
		FROM credentials WHERE team_id = ?`, teamID).Scan(&s.Total, &s.Active, &last)
	if err != nil {
		return Stats{}, fmt.Errorf("storesrv: stats: %w", err)
	}
	if last.Valid {
		if t, err := time.Parse(time.RFC3339Nano, last.String); err == nil {
			s.LastCapturedAt = &t
		}
	}
	return s, nil
}

// payloadHash fingerprints the credential-bearing content of a snapshot,
// ignoring identity and bookkeeping fields so racing pushes of the same
// session hash alike.
func payloadHash(s *session.Snapshot) string {
	c := *s
	c.ID = ""
	c.TeamID = ""
	c.CapturedAt = time.Time{}
	c.LastUsedAt = nil
	buf, _ := json.Marshal(&c)
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}
