package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Approval controls whether a repo's merges require a human click.
type Approval string

const (
	ApprovalAuto   Approval = "auto"
	ApprovalManual Approval = "manual"
)

// PipelineStep is one named shell step run in an agent worktree before a
// task's branches fast-forward onto main.
type PipelineStep struct {
	Name           string
	Command        string
	TimeoutSeconds int
}

// Repo is a registered local git checkout, symbolically named within a
// team, with an approval mode and an ordered pre-merge pipeline.
type Repo struct {
	ID        int64
	TeamID    int64
	Name      string
	Path      string
	Approval  Approval
	Pipeline  []PipelineStep
	CreatedAt time.Time
}

// RegisterRepo inserts a repo row and its pipeline steps. Registering the
// same (team, path) combination again returns the existing row untouched
// rather than erroring, matching the register_repo idempotence law.
func (db *DB) RegisterRepo(teamID int64, name, path string, approval Approval, pipeline []PipelineStep) (*Repo, error) {
	if existing, err := db.GetRepoByPath(teamID, path); err == nil {
		return existing, nil
	}

	var r *Repo
	err := db.Transaction(func(tx *sql.Tx) error {
		now := time.Now()
		res, err := tx.Exec(`
			INSERT INTO repos (team_id, name, path, approval, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, teamID, name, path, string(approval), formatTime(now))
		if err != nil {
			return fmt.Errorf("register repo: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("register repo: %w", err)
		}
		for i, step := range pipeline {
			if _, err := tx.Exec(`
				INSERT INTO pipeline_steps (repo_id, position, name, command, timeout_seconds)
				VALUES (?, ?, ?, ?, ?)
			`, id, i, step.Name, step.Command, step.TimeoutSeconds); err != nil {
				return fmt.Errorf("register pipeline step: %w", err)
			}
		}
		r = &Repo{ID: id, TeamID: teamID, Name: name, Path: path, Approval: approval, Pipeline: pipeline, CreatedAt: now}
		return nil
	})
	return r, err
}

// GetRepoByPath returns the repo registered for a team at the given
// absolute path, if any.
func (db *DB) GetRepoByPath(teamID int64, path string) (*Repo, error) {
	row := db.QueryRow(`
		SELECT id, team_id, name, path, approval, created_at
		FROM repos WHERE team_id = ? AND path = ?
	`, teamID, path)
	r, err := scanRepo(row)
	if err != nil {
		return nil, err
	}
	r.Pipeline, err = db.getPipeline(r.ID)
	return r, err
}

// GetRepo returns a team's repo by its symbolic name.
func (db *DB) GetRepo(teamID int64, name string) (*Repo, error) {
	row := db.QueryRow(`
		SELECT id, team_id, name, path, approval, created_at
		FROM repos WHERE team_id = ? AND name = ?
	`, teamID, name)
	r, err := scanRepo(row)
	if err != nil {
		return nil, err
	}
	r.Pipeline, err = db.getPipeline(r.ID)
	return r, err
}

func scanRepo(row *sql.Row) (*Repo, error) {
	var r Repo
	var approval, createdAt string
	if err := row.Scan(&r.ID, &r.TeamID, &r.Name, &r.Path, &approval, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("repo: %w", sql.ErrNoRows)
		}
		return nil, fmt.Errorf("scan repo: %w", err)
	}
	r.Approval = Approval(approval)
	ts, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse repo created_at: %w", err)
	}
	r.CreatedAt = ts
	return &r, nil
}

func (db *DB) getPipeline(repoID int64) ([]PipelineStep, error) {
	rows, err := db.Query(`
		SELECT name, command, timeout_seconds FROM pipeline_steps
		WHERE repo_id = ? ORDER BY position
	`, repoID)
	if err != nil {
		return nil, fmt.Errorf("load pipeline: %w", err)
	}
	defer rows.Close()

	var steps []PipelineStep
	for rows.Next() {
		var s PipelineStep
		if err := rows.Scan(&s.Name, &s.Command, &s.TimeoutSeconds); err != nil {
			return nil, fmt.Errorf("scan pipeline step: %w", err)
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// ListRepos returns every repo registered to a team.
func (db *DB) ListRepos(teamID int64) ([]Repo, error) {
	rows, err := db.Query(`
		SELECT id, team_id, name, path, approval, created_at
		FROM repos WHERE team_id = ? ORDER BY name
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list repos: %w", err)
	}
	defer rows.Close()

	var out []Repo
	for rows.Next() {
		var r Repo
		var approval, createdAt string
		if err := rows.Scan(&r.ID, &r.TeamID, &r.Name, &r.Path, &approval, &createdAt); err != nil {
			return nil, fmt.Errorf("scan repo: %w", err)
		}
		r.Approval = Approval(approval)
		ts, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse repo created_at: %w", err)
		}
		r.CreatedAt = ts
		out = append(out, r)
	}
	for i := range out {
		pipeline, err := db.getPipeline(out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Pipeline = pipeline
	}
	return out, rows.Err()
}

// WrapLegacyTestCmd wraps a single legacy test_cmd string as a one-step
// pipeline named "test", for repos configured the old way.
func WrapLegacyTestCmd(testCmd string) []PipelineStep {
	if testCmd == "" {
		return nil
	}
	return []PipelineStep{{Name: "test", Command: testCmd}}
}
