package store

import "fmt"

// Migrate applies all pending schema migrations in numbered order inside
// a transaction per migration. Safe to call on every startup.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Teams},
		{2, migrationV2Participants},
		{3, migrationV3Repos},
		{4, migrationV4Tasks},
		{5, migrationV5Messages},
		{6, migrationV6Sessions},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Teams = `
CREATE TABLE IF NOT EXISTS teams (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL
);
`

const migrationV2Participants = `
CREATE TABLE IF NOT EXISTS participants (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	kind TEXT NOT NULL CHECK (kind IN ('agent', 'member')),
	role TEXT,
	model TEXT,
	bio TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS team_roster (
	team_id INTEGER NOT NULL REFERENCES teams(id),
	participant_id INTEGER NOT NULL REFERENCES participants(id),
	PRIMARY KEY (team_id, participant_id)
);
`

const migrationV3Repos = `
CREATE TABLE IF NOT EXISTS repos (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	team_id INTEGER NOT NULL REFERENCES teams(id),
	name TEXT NOT NULL,
	path TEXT NOT NULL,
	approval TEXT NOT NULL DEFAULT 'manual' CHECK (approval IN ('auto', 'manual')),
	created_at TEXT NOT NULL,
	UNIQUE (team_id, name)
);

CREATE TABLE IF NOT EXISTS pipeline_steps (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	repo_id INTEGER NOT NULL REFERENCES repos(id),
	position INTEGER NOT NULL,
	name TEXT NOT NULL,
	command TEXT NOT NULL,
	timeout_seconds INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_pipeline_steps_repo ON pipeline_steps(repo_id, position);
`

const migrationV4Tasks = `
CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	team_id INTEGER NOT NULL REFERENCES teams(id),
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	dri TEXT,
	status TEXT NOT NULL DEFAULT 'unassigned',
	merge_attempts INTEGER NOT NULL DEFAULT 0,
	retry_after TEXT,
	rejection_reason TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_team ON tasks(team_id);
CREATE INDEX IF NOT EXISTS idx_tasks_team_status ON tasks(team_id, status);
CREATE INDEX IF NOT EXISTS idx_tasks_team_dri ON tasks(team_id, dri);

CREATE TABLE IF NOT EXISTS task_repos (
	task_id INTEGER NOT NULL REFERENCES tasks(id),
	repo_name TEXT NOT NULL,
	branch TEXT,
	base_sha TEXT,
	merge_tip TEXT,
	PRIMARY KEY (task_id, repo_name)
);
`

const migrationV5Messages = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	team_id INTEGER NOT NULL REFERENCES teams(id),
	sender TEXT NOT NULL,
	recipient TEXT NOT NULL,
	body TEXT NOT NULL,
	kind TEXT NOT NULL DEFAULT 'chat' CHECK (kind IN ('chat', 'event')),
	created_at TEXT NOT NULL,
	delivered_at TEXT,
	seen_at TEXT,
	processed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_messages_team_recipient ON messages(team_id, recipient, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_team_sender ON messages(team_id, sender, created_at);
`

const migrationV6Sessions = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	team_id INTEGER NOT NULL REFERENCES teams(id),
	agent TEXT NOT NULL,
	generation INTEGER NOT NULL DEFAULT 0,
	memory TEXT NOT NULL DEFAULT '',
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cache_read_tokens INTEGER NOT NULL DEFAULT 0,
	cache_write_tokens INTEGER NOT NULL DEFAULT 0,
	cost REAL NOT NULL DEFAULT 0,
	turns INTEGER NOT NULL DEFAULT 0,
	external_handle TEXT,
	updated_at TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_team_agent ON sessions(team_id, agent);
`
