package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ParticipantKind distinguishes an autonomous Agent from a human Member.
type ParticipantKind string

const (
	KindAgent  ParticipantKind = "agent"
	KindMember ParticipantKind = "member"
)

// Participant is either an Agent (per-team, carries role+model) or a
// Member (org-global, auto-joined to every team roster). Names are
// globally unique; a name resolves to exactly one kind.
type Participant struct {
	ID        int64
	Name      string
	Kind      ParticipantKind
	Role      string
	Model     string
	Bio       string
	CreatedAt time.Time
}

// CreateAgent inserts a new agent participant and joins it to the team
// roster.
func (db *DB) CreateAgent(teamID int64, name, role, model, bio string) (*Participant, error) {
	var p *Participant
	err := db.Transaction(func(tx *sql.Tx) error {
		now := time.Now()
		res, err := tx.Exec(`
			INSERT INTO participants (name, kind, role, model, bio, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, name, string(KindAgent), role, model, bio, formatTime(now))
		if err != nil {
			return fmt.Errorf("create agent: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("create agent: %w", err)
		}
		if _, err := tx.Exec(`INSERT INTO team_roster (team_id, participant_id) VALUES (?, ?)`, teamID, id); err != nil {
			return fmt.Errorf("join roster: %w", err)
		}
		p = &Participant{ID: id, Name: name, Kind: KindAgent, Role: role, Model: model, Bio: bio, CreatedAt: now}
		return nil
	})
	return p, err
}

// CreateMember inserts a new org-global human member and auto-joins it
// to every existing team's roster.
func (db *DB) CreateMember(name, bio string) (*Participant, error) {
	var p *Participant
	err := db.Transaction(func(tx *sql.Tx) error {
		now := time.Now()
		res, err := tx.Exec(`
			INSERT INTO participants (name, kind, bio, created_at)
			VALUES (?, ?, ?, ?)
		`, name, string(KindMember), bio, formatTime(now))
		if err != nil {
			return fmt.Errorf("create member: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("create member: %w", err)
		}

		rows, err := tx.Query(`SELECT id FROM teams`)
		if err != nil {
			return fmt.Errorf("list teams for roster: %w", err)
		}
		var teamIDs []int64
		for rows.Next() {
			var tid int64
			if err := rows.Scan(&tid); err != nil {
				rows.Close()
				return fmt.Errorf("scan team id: %w", err)
			}
			teamIDs = append(teamIDs, tid)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, tid := range teamIDs {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO team_roster (team_id, participant_id) VALUES (?, ?)`, tid, id); err != nil {
				return fmt.Errorf("join roster: %w", err)
			}
		}

		p = &Participant{ID: id, Name: name, Kind: KindMember, Bio: bio, CreatedAt: now}
		return nil
	})
	return p, err
}

// GetParticipant resolves a globally-unique name to its participant row.
func (db *DB) GetParticipant(name string) (*Participant, error) {
	row := db.QueryRow(`
		SELECT id, name, kind, COALESCE(role, ''), COALESCE(model, ''), COALESCE(bio, ''), created_at
		FROM participants WHERE name = ?
	`, name)
	return scanParticipant(row)
}

func scanParticipant(row *sql.Row) (*Participant, error) {
	var p Participant
	var kind, createdAt string
	if err := row.Scan(&p.ID, &p.Name, &kind, &p.Role, &p.Model, &p.Bio, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("participant: %w", sql.ErrNoRows)
		}
		return nil, fmt.Errorf("scan participant: %w", err)
	}
	p.Kind = ParticipantKind(kind)
	ts, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse participant created_at: %w", err)
	}
	p.CreatedAt = ts
	return &p, nil
}

// ListRoster returns every participant (agent or member) joined to a
// team's roster, ordered by name.
func (db *DB) ListRoster(teamID int64) ([]Participant, error) {
	rows, err := db.Query(`
		SELECT p.id, p.name, p.kind, COALESCE(p.role, ''), COALESCE(p.model, ''), COALESCE(p.bio, ''), p.created_at
		FROM participants p
		JOIN team_roster r ON r.participant_id = p.id
		WHERE r.team_id = ?
		ORDER BY p.name
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list roster: %w", err)
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		var p Participant
		var kind, createdAt string
		if err := rows.Scan(&p.ID, &p.Name, &kind, &p.Role, &p.Model, &p.Bio, &createdAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		p.Kind = ParticipantKind(kind)
		ts, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse participant created_at: %w", err)
		}
		p.CreatedAt = ts
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListAgents returns only the agent participants on a team's roster.
func (db *DB) ListAgents(teamID int64) ([]Participant, error) {
	roster, err := db.ListRoster(teamID)
	if err != nil {
		return nil, err
	}
	var agents []Participant
	for _, p := range roster {
		if p.Kind == KindAgent {
			agents = append(agents, p)
		}
	}
	return agents, nil
}

// RemoveParticipant deletes a participant (agent or member) by name from
// every team roster it belongs to, then the participant row itself.
func (db *DB) RemoveParticipant(name string) error {
	return db.Transaction(func(tx *sql.Tx) error {
		var id int64
		if err := tx.QueryRow(`SELECT id FROM participants WHERE name = ?`, name).Scan(&id); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("participant %q: %w", name, sql.ErrNoRows)
			}
			return fmt.Errorf("lookup participant: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM team_roster WHERE participant_id = ?`, id); err != nil {
			return fmt.Errorf("remove from roster: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM participants WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete participant: %w", err)
		}
		return nil
	})
}
