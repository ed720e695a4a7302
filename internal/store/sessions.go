package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SessionRecord is the persisted snapshot of one agent's bounded-context
// conversation — enough to resume the live internal/session.Session
// across a daemon restart. This row is the only place memory is
// persisted; nothing writes projects/<team>/agents/<name>/context.md.
type SessionRecord struct {
	ID               string
	TeamID           int64
	Agent            string
	Generation       int
	Memory           string
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	Cost             float64
	Turns            int
	ExternalHandle   string
	UpdatedAt        time.Time
}

// UpsertSession writes or replaces the session row for (team, agent).
func (db *DB) UpsertSession(r SessionRecord) error {
	_, err := db.Exec(`
		INSERT INTO sessions (id, team_id, agent, generation, memory, input_tokens, output_tokens,
		                       cache_read_tokens, cache_write_tokens, cost, turns, external_handle, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (team_id, agent) DO UPDATE SET
			id = excluded.id,
			generation = excluded.generation,
			memory = excluded.memory,
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			cache_read_tokens = excluded.cache_read_tokens,
			cache_write_tokens = excluded.cache_write_tokens,
			cost = excluded.cost,
			turns = excluded.turns,
			external_handle = excluded.external_handle,
			updated_at = excluded.updated_at
	`, r.ID, r.TeamID, r.Agent, r.Generation, r.Memory, r.InputTokens, r.OutputTokens,
		r.CacheReadTokens, r.CacheWriteTokens, r.Cost, r.Turns, nullableString(r.ExternalHandle), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// GetSessionRecord returns the persisted session snapshot for an agent.
func (db *DB) GetSessionRecord(teamID int64, agent string) (*SessionRecord, error) {
	row := db.QueryRow(`
		SELECT id, team_id, agent, generation, memory, input_tokens, output_tokens,
		       cache_read_tokens, cache_write_tokens, cost, turns, COALESCE(external_handle, ''), updated_at
		FROM sessions WHERE team_id = ? AND agent = ?
	`, teamID, agent)

	var r SessionRecord
	var updatedAt string
	if err := row.Scan(&r.ID, &r.TeamID, &r.Agent, &r.Generation, &r.Memory, &r.InputTokens, &r.OutputTokens,
		&r.CacheReadTokens, &r.CacheWriteTokens, &r.Cost, &r.Turns, &r.ExternalHandle, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("session record: %w", sql.ErrNoRows)
		}
		return nil, fmt.Errorf("scan session record: %w", err)
	}
	ts, err := parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse session updated_at: %w", err)
	}
	r.UpdatedAt = ts
	return &r, nil
}

// DeleteSessionRecord removes a persisted session, e.g. when its agent
// dies per the Session lifecycle.
func (db *DB) DeleteSessionRecord(teamID int64, agent string) error {
	_, err := db.Exec(`DELETE FROM sessions WHERE team_id = ? AND agent = ?`, teamID, agent)
	if err != nil {
		return fmt.Errorf("delete session record: %w", err)
	}
	return nil
}
