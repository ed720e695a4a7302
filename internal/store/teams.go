package store

import (
	"database/sql"
	"fmt"
	"regexp"
	"time"
)

// TeamNamePattern is the validation pattern for team slugs.
var TeamNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Team is a named workspace owning agents, tasks, repos, and mailbox rows.
type Team struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// ErrInvalidTeamName is returned when a team name fails TeamNamePattern.
var ErrInvalidTeamName = fmt.Errorf("team name must be lowercase, e.g. \"backend-team\" (letters, digits, hyphens, underscores, starting with a letter or digit)")

// CreateTeam inserts a new team. Fails if the name is invalid or already
// taken (teams are globally unique).
func (db *DB) CreateTeam(name string) (*Team, error) {
	if !TeamNamePattern.MatchString(name) {
		return nil, ErrInvalidTeamName
	}

	now := time.Now()
	res, err := db.Exec(`INSERT INTO teams (name, created_at) VALUES (?, ?)`, name, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("create team: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create team: %w", err)
	}
	return &Team{ID: id, Name: name, CreatedAt: now}, nil
}

// GetTeam retrieves a team by name.
func (db *DB) GetTeam(name string) (*Team, error) {
	row := db.QueryRow(`SELECT id, name, created_at FROM teams WHERE name = ?`, name)
	return scanTeam(row)
}

// GetTeamByID retrieves a team by id.
func (db *DB) GetTeamByID(id int64) (*Team, error) {
	row := db.QueryRow(`SELECT id, name, created_at FROM teams WHERE id = ?`, id)
	return scanTeam(row)
}

func scanTeam(row *sql.Row) (*Team, error) {
	var t Team
	var createdAt string
	if err := row.Scan(&t.ID, &t.Name, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("team: %w", sql.ErrNoRows)
		}
		return nil, fmt.Errorf("scan team: %w", err)
	}
	ts, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse team created_at: %w", err)
	}
	t.CreatedAt = ts
	return &t, nil
}

// ListTeams returns all teams ordered by name.
func (db *DB) ListTeams() ([]Team, error) {
	rows, err := db.Query(`SELECT id, name, created_at FROM teams ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	var teams []Team
	for rows.Next() {
		var t Team
		var createdAt string
		if err := rows.Scan(&t.ID, &t.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		ts, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse team created_at: %w", err)
		}
		t.CreatedAt = ts
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

// DeleteTeam removes a team and its rosters, repos, tasks, and messages.
func (db *DB) DeleteTeam(teamID int64) error {
	return db.Transaction(func(tx *sql.Tx) error {
		stmts := []string{
			`DELETE FROM team_roster WHERE team_id = ?`,
			`DELETE FROM pipeline_steps WHERE repo_id IN (SELECT id FROM repos WHERE team_id = ?)`,
			`DELETE FROM repos WHERE team_id = ?`,
			`DELETE FROM task_repos WHERE task_id IN (SELECT id FROM tasks WHERE team_id = ?)`,
			`DELETE FROM tasks WHERE team_id = ?`,
			`DELETE FROM messages WHERE team_id = ?`,
			`DELETE FROM sessions WHERE team_id = ?`,
			`DELETE FROM teams WHERE id = ?`,
		}
		for _, s := range stmts {
			if _, err := tx.Exec(s, teamID); err != nil {
				return fmt.Errorf("delete team: %w", err)
			}
		}
		return nil
	})
}
