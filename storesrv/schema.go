package storesrv

// Schema is the store's SQLite layout. Credential payloads are sealed blobs;
// everything the API filters on (team, active flag, capture time, payload
// hash) is lifted into columns.
const Schema = `
CREATE TABLE IF NOT EXISTS teams (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS members (
	id            TEXT PRIMARY KEY,
	team_id       TEXT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS credentials (
	id           TEXT PRIMARY KEY,
	team_id      TEXT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
	source       TEXT NOT NULL DEFAULT 'manual',
	captured_at  TEXT NOT NULL,
	last_used_at TEXT,
	is_active    INTEGER NOT NULL DEFAULT 1,
	payload_hash TEXT NOT NULL,
	payload      BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_credentials_team
	ON credentials(team_id, is_active, captured_at DESC);
`
