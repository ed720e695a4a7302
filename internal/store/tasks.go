package store

import (
	"database/sql"
	"fmt"
	"time"
)

// TaskStatus is one state in the task workflow (see internal/workflow for
// the transition table; this package only persists the current value).
type TaskStatus string

const (
	StatusUnassigned  TaskStatus = "unassigned"
	StatusAssigned    TaskStatus = "assigned"
	StatusInProgress  TaskStatus = "in_progress"
	StatusInReview    TaskStatus = "in_review"
	StatusInApproval  TaskStatus = "in_approval"
	StatusMerging     TaskStatus = "merging"
	StatusMergeFailed TaskStatus = "merge_failed"
	StatusRejected    TaskStatus = "rejected"
	StatusDone        TaskStatus = "done"
	StatusDiscarded   TaskStatus = "discarded"
)

// RepoState is the per-repo branch/base/merge-tip bookkeeping a task
// accumulates as it moves through assignment, implementation, and merge.
type RepoState struct {
	Branch   string
	BaseSHA  string
	MergeTip string
}

// Task is the unit of work routed through the workflow state machine.
type Task struct {
	ID              int64
	TeamID          int64
	Title           string
	Description     string
	DRI             string // responsible agent name; empty if unassigned
	Status          TaskStatus
	Repos           map[string]RepoState
	MergeAttempts   int
	RetryAfter      *time.Time
	RejectionReason string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CreateTask allocates a new task in status unassigned.
func (db *DB) CreateTask(teamID int64, title, description string) (*Task, error) {
	now := time.Now()
	res, err := db.Exec(`
		INSERT INTO tasks (team_id, title, description, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, teamID, title, description, string(StatusUnassigned), formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return &Task{
		ID: id, TeamID: teamID, Title: title, Description: description,
		Status: StatusUnassigned, Repos: map[string]RepoState{},
		CreatedAt: now, UpdatedAt: now,
	}, nil
}

// GetTask retrieves a task, scoped to its team.
func (db *DB) GetTask(teamID, taskID int64) (*Task, error) {
	row := db.QueryRow(`
		SELECT id, team_id, title, description, COALESCE(dri, ''), status,
		       merge_attempts, retry_after, COALESCE(rejection_reason, ''), created_at, updated_at
		FROM tasks WHERE team_id = ? AND id = ?
	`, teamID, taskID)
	t, err := scanTask(row)
	if err != nil {
		return nil, err
	}
	t.Repos, err = db.getTaskRepos(taskID)
	return t, err
}

func scanTask(row *sql.Row) (*Task, error) {
	var t Task
	var status, createdAt, updatedAt string
	var retryAfter sql.NullString
	if err := row.Scan(&t.ID, &t.TeamID, &t.Title, &t.Description, &t.DRI, &status,
		&t.MergeAttempts, &retryAfter, &t.RejectionReason, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("task: %w", sql.ErrNoRows)
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.Status = TaskStatus(status)
	t.RetryAfter = parseNullableTime(retryAfter)
	var err error
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse task created_at: %w", err)
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse task updated_at: %w", err)
	}
	return &t, nil
}

func (db *DB) getTaskRepos(taskID int64) (map[string]RepoState, error) {
	rows, err := db.Query(`
		SELECT repo_name, COALESCE(branch, ''), COALESCE(base_sha, ''), COALESCE(merge_tip, '')
		FROM task_repos WHERE task_id = ?
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("load task repos: %w", err)
	}
	defer rows.Close()

	out := map[string]RepoState{}
	for rows.Next() {
		var name string
		var rs RepoState
		if err := rows.Scan(&name, &rs.Branch, &rs.BaseSHA, &rs.MergeTip); err != nil {
			return nil, fmt.Errorf("scan task repo: %w", err)
		}
		out[name] = rs
	}
	return out, rows.Err()
}

// TaskPatch merges only the fields set; per-repo maps merge key-by-key
// rather than replacing the whole map.
type TaskPatch struct {
	Title       *string
	Description *string
	DRI         *string
	Repos       map[string]RepoState // merged key-by-key, not replaced wholesale
}

// UpdateTask applies a partial patch to a task.
func (db *DB) UpdateTask(teamID, taskID int64, patch TaskPatch) error {
	return db.Transaction(func(tx *sql.Tx) error {
		if patch.Title != nil {
			if _, err := tx.Exec(`UPDATE tasks SET title = ?, updated_at = ? WHERE team_id = ? AND id = ?`,
				*patch.Title, formatTime(time.Now()), teamID, taskID); err != nil {
				return fmt.Errorf("update task title: %w", err)
			}
		}
		if patch.Description != nil {
			if _, err := tx.Exec(`UPDATE tasks SET description = ?, updated_at = ? WHERE team_id = ? AND id = ?`,
				*patch.Description, formatTime(time.Now()), teamID, taskID); err != nil {
				return fmt.Errorf("update task description: %w", err)
			}
		}
		if patch.DRI != nil {
			if _, err := tx.Exec(`UPDATE tasks SET dri = ?, updated_at = ? WHERE team_id = ? AND id = ?`,
				nullableString(*patch.DRI), formatTime(time.Now()), teamID, taskID); err != nil {
				return fmt.Errorf("update task dri: %w", err)
			}
		}
		for name, rs := range patch.Repos {
			if _, err := tx.Exec(`
				INSERT INTO task_repos (task_id, repo_name, branch, base_sha, merge_tip)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT (task_id, repo_name) DO UPDATE SET
					branch = excluded.branch,
					base_sha = excluded.base_sha,
					merge_tip = excluded.merge_tip
			`, taskID, name, nullableString(rs.Branch), nullableString(rs.BaseSHA), nullableString(rs.MergeTip)); err != nil {
				return fmt.Errorf("update task repo %s: %w", name, err)
			}
		}
		return nil
	})
}

// ErrInvalidTransition names a rejected task status transition. Nothing
// in this package returns it: ChangeStatus writes unconditionally, and
// internal/workflow rejects illegal transitions with its own
// workflow.ErrInvalidTransition.
var ErrInvalidTransition = fmt.Errorf("invalid task status transition")

// ChangeStatus persists a new task status. Callers (internal/workflow)
// are responsible for validating the transition is legal before calling
// this; the write itself is unconditional and atomic.
func (db *DB) ChangeStatus(teamID, taskID int64, newStatus TaskStatus) error {
	res, err := db.Exec(`
		UPDATE tasks SET status = ?, updated_at = ? WHERE team_id = ? AND id = ?
	`, string(newStatus), formatTime(time.Now()), teamID, taskID)
	if err != nil {
		return fmt.Errorf("change task status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("change task status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("change task status: %w", sql.ErrNoRows)
	}
	return nil
}

// SetRejection records a rejection reason alongside the status change.
func (db *DB) SetRejection(teamID, taskID int64, reason string) error {
	_, err := db.Exec(`
		UPDATE tasks SET rejection_reason = ?, updated_at = ? WHERE team_id = ? AND id = ?
	`, reason, formatTime(time.Now()), teamID, taskID)
	if err != nil {
		return fmt.Errorf("set rejection: %w", err)
	}
	return nil
}

// ClearRejection clears the rejection reason, e.g. when reworking.
func (db *DB) ClearRejection(teamID, taskID int64) error {
	return db.SetRejection(teamID, taskID, "")
}

// IncrementMergeAttempts bumps merge_attempts and sets retry_after,
// returning the new attempt count. merge_attempts is non-decreasing.
func (db *DB) IncrementMergeAttempts(teamID, taskID int64, retryAfter *time.Time) (int, error) {
	var attempts int
	err := db.Transaction(func(tx *sql.Tx) error {
		row := tx.QueryRow(`SELECT merge_attempts FROM tasks WHERE team_id = ? AND id = ?`, teamID, taskID)
		if err := row.Scan(&attempts); err != nil {
			return fmt.Errorf("read merge_attempts: %w", err)
		}
		attempts++
		if _, err := tx.Exec(`
			UPDATE tasks SET merge_attempts = ?, retry_after = ?, updated_at = ?
			WHERE team_id = ? AND id = ?
		`, attempts, formatNullableTime(retryAfter), formatTime(time.Now()), teamID, taskID); err != nil {
			return fmt.Errorf("update merge_attempts: %w", err)
		}
		return nil
	})
	return attempts, err
}

// ClearRetryGate sets retry_after to null so a subsequent skip check
// does not stall the task once a merge attempt has actually started.
func (db *DB) ClearRetryGate(teamID, taskID int64) error {
	_, err := db.Exec(`UPDATE tasks SET retry_after = NULL WHERE team_id = ? AND id = ?`, teamID, taskID)
	if err != nil {
		return fmt.Errorf("clear retry gate: %w", err)
	}
	return nil
}

// SetRetryAfter sets retry_after without touching merge_attempts, used
// once the attempt count for this failure is already known.
func (db *DB) SetRetryAfter(teamID, taskID int64, retryAfter *time.Time) error {
	_, err := db.Exec(`
		UPDATE tasks SET retry_after = ?, updated_at = ? WHERE team_id = ? AND id = ?
	`, formatNullableTime(retryAfter), formatTime(time.Now()), teamID, taskID)
	if err != nil {
		return fmt.Errorf("set retry_after: %w", err)
	}
	return nil
}

// TaskFilter narrows ListTasks results.
type TaskFilter struct {
	Status *TaskStatus
	DRI    *string
}

// ListTasks returns tasks for a team matching the optional filter,
// ordered by creation time.
func (db *DB) ListTasks(teamID int64, filter TaskFilter) ([]Task, error) {
	query := `
		SELECT id, team_id, title, description, COALESCE(dri, ''), status,
		       merge_attempts, retry_after, COALESCE(rejection_reason, ''), created_at, updated_at
		FROM tasks WHERE team_id = ?
	`
	args := []any{teamID}
	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*filter.Status))
	}
	if filter.DRI != nil {
		query += ` AND dri = ?`
		args = append(args, *filter.DRI)
	}
	query += ` ORDER BY created_at`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		var status, createdAt, updatedAt string
		var retryAfter sql.NullString
		if err := rows.Scan(&t.ID, &t.TeamID, &t.Title, &t.Description, &t.DRI, &status,
			&t.MergeAttempts, &retryAfter, &t.RejectionReason, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Status = TaskStatus(status)
		t.RetryAfter = parseNullableTime(retryAfter)
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse task created_at: %w", err)
		}
		if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parse task updated_at: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		repos, err := db.getTaskRepos(out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Repos = repos
	}
	return out, nil
}

// TasksInMerging returns every task across all teams currently in the
// merging status, for the MergeCoordinator's poll loop.
func (db *DB) TasksInMerging() ([]Task, error) {
	rows, err := db.Query(`
		SELECT id, team_id, title, description, COALESCE(dri, ''), status,
		       merge_attempts, retry_after, COALESCE(rejection_reason, ''), created_at, updated_at
		FROM tasks WHERE status = ?
	`, string(StatusMerging))
	if err != nil {
		return nil, fmt.Errorf("list merging tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		var status, createdAt, updatedAt string
		var retryAfter sql.NullString
		if err := rows.Scan(&t.ID, &t.TeamID, &t.Title, &t.Description, &t.DRI, &status,
			&t.MergeAttempts, &retryAfter, &t.RejectionReason, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Status = TaskStatus(status)
		t.RetryAfter = parseNullableTime(retryAfter)
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		repos, err := db.getTaskRepos(out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Repos = repos
	}
	return out, nil
}
