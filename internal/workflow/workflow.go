// Package workflow implements the task lifecycle state machine:
// unassigned -> assigned -> in_progress -> in_review -> in_approval ->
// merging -> done, with side branches to rejected, merge_failed, and
// discarded. Every transition is guarded here before internal/store
// persists it, and every transition broadcasts on the EventBus.
package workflow

import (
	"errors"
	"fmt"

	"github.com/foreman-dev/foreman/internal/eventbus"
	"github.com/foreman-dev/foreman/internal/store"
)

// ErrInvalidTransition is returned when a requested transition is not in
// the table below.
var ErrInvalidTransition = errors.New("invalid task status transition")

// ErrNotReady is returned when a transition's guard fails even though the
// transition itself exists in the table (e.g. assigning without a DRI).
var ErrNotReady = errors.New("task is not ready for this transition")

// validTransitions enumerates every legal (from, to) pair. Anything not
// listed here is rejected as ErrInvalidTransition.
var validTransitions = map[store.TaskStatus]map[store.TaskStatus]bool{
	store.StatusUnassigned: {
		store.StatusAssigned:  true,
		store.StatusDiscarded: true,
	},
	store.StatusAssigned: {
		store.StatusInProgress: true,
		store.StatusDiscarded:  true,
	},
	store.StatusInProgress: {
		store.StatusInReview:  true,
		store.StatusDiscarded: true,
	},
	store.StatusInReview: {
		store.StatusInApproval: true,
		store.StatusRejected:   true,
		store.StatusDiscarded:  true,
	},
	store.StatusInApproval: {
		store.StatusMerging:   true,
		store.StatusRejected:  true,
		store.StatusDiscarded: true,
	},
	store.StatusMerging: {
		store.StatusDone:        true,
		store.StatusMerging:     true, // retryable failure, same state
		store.StatusMergeFailed: true,
		store.StatusDiscarded:   true,
	},
	store.StatusRejected: {
		store.StatusInProgress: true,
		store.StatusDiscarded:  true,
	},
	store.StatusMergeFailed: {
		store.StatusDiscarded: true,
	},
	store.StatusDone:      {},
	store.StatusDiscarded: {},
}

// CanTransition reports whether (from, to) is a legal transition.
func CanTransition(from, to store.TaskStatus) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Engine applies guarded transitions to tasks, persisting through store
// and broadcasting through bus.
type Engine struct {
	db  *store.DB
	bus *eventbus.Bus
}

// New creates a workflow Engine.
func New(db *store.DB, bus *eventbus.Bus) *Engine {
	return &Engine{db: db, bus: bus}
}

func (e *Engine) transition(teamName string, task *store.Task, to store.TaskStatus) error {
	from := task.Status
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if err := e.db.ChangeStatus(task.TeamID, task.ID, to); err != nil {
		return fmt.Errorf("persist transition: %w", err)
	}
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{
			Type:   eventbus.TaskChanged,
			Team:   teamName,
			TaskID: task.ID,
		})
	}
	return nil
}

// AssignTask moves a task from unassigned to assigned, validating that
// dri resolves to an agent.
func (e *Engine) AssignTask(teamName string, task *store.Task, dri *store.Participant) error {
	if dri == nil || dri.Kind != store.KindAgent {
		return fmt.Errorf("%w: dri must resolve to an agent", ErrNotReady)
	}
	driName := dri.Name
	if err := e.db.UpdateTask(task.TeamID, task.ID, store.TaskPatch{DRI: &driName}); err != nil {
		return fmt.Errorf("assign task: %w", err)
	}
	return e.transition(teamName, task, store.StatusAssigned)
}

// AcceptTask moves a task from assigned to in_progress. The guard
// requires repo, branch, and base_sha to already be present for every
// repo entry on the task.
func (e *Engine) AcceptTask(teamName string, task *store.Task) error {
	if task.DRI == "" {
		return fmt.Errorf("%w: missing dri", ErrNotReady)
	}
	if len(task.Repos) == 0 {
		return fmt.Errorf("%w: missing repo assignment", ErrNotReady)
	}
	for name, rs := range task.Repos {
		if rs.Branch == "" || rs.BaseSHA == "" {
			return fmt.Errorf("%w: repo %s missing branch or base_sha", ErrNotReady, name)
		}
	}
	return e.transition(teamName, task, store.StatusInProgress)
}

// DeclareDone moves a task from in_progress to in_review.
func (e *Engine) DeclareDone(teamName string, task *store.Task) error {
	return e.transition(teamName, task, store.StatusInReview)
}

// ApproveReview moves a task from in_review to in_approval (QA approved).
func (e *Engine) ApproveReview(teamName string, task *store.Task) error {
	return e.transition(teamName, task, store.StatusInApproval)
}

// RejectReview moves a task from in_review (or in_approval) to rejected,
// recording the reason and notifying the manager via the caller.
func (e *Engine) RejectReview(teamName string, task *store.Task, reason string) error {
	if task.Status != store.StatusInReview && task.Status != store.StatusInApproval {
		return fmt.Errorf("%w: reject only valid from in_review or in_approval", ErrInvalidTransition)
	}
	if err := e.db.SetRejection(task.TeamID, task.ID, reason); err != nil {
		return fmt.Errorf("reject review: %w", err)
	}
	return e.transition(teamName, task, store.StatusRejected)
}

// Release moves a task from in_approval to merging. It takes no
// approval-mode argument and does not check the repo's approval setting.
func (e *Engine) Release(teamName string, task *store.Task) error {
	return e.transition(teamName, task, store.StatusMerging)
}

// Rework moves a rejected task back to in_progress, clearing the
// rejection reason.
func (e *Engine) Rework(teamName string, task *store.Task) error {
	if err := e.db.ClearRejection(task.TeamID, task.ID); err != nil {
		return fmt.Errorf("rework: %w", err)
	}
	return e.transition(teamName, task, store.StatusInProgress)
}

// Discard moves any non-terminal task to discarded.
func (e *Engine) Discard(teamName string, task *store.Task) error {
	if task.Status == store.StatusDone || task.Status == store.StatusMergeFailed ||
		task.Status == store.StatusRejected || task.Status == store.StatusDiscarded {
		// done, merge_failed, rejected and discarded are all refused here
		// with an explicit error, even though validTransitions also lists
		// rejected -> discarded and merge_failed -> discarded; this method
		// is the only path to discarded, so those table entries are never
		// taken.
		return fmt.Errorf("%w: task already in terminal state %s", ErrInvalidTransition, task.Status)
	}
	return e.transition(teamName, task, store.StatusDiscarded)
}

// CompleteMerge moves a task from merging to done.
func (e *Engine) CompleteMerge(teamName string, task *store.Task) error {
	return e.transition(teamName, task, store.StatusDone)
}

// RetryMerge keeps a task in merging after a retryable failure,
// recording the incremented attempt count and retry_after via
// internal/store.IncrementMergeAttempts (the caller, internal/merge, is
// responsible for that call — this just re-asserts the merging status,
// which is a same-state transition the table explicitly allows).
func (e *Engine) RetryMerge(teamName string, task *store.Task) error {
	return e.transition(teamName, task, store.StatusMerging)
}

// FailMerge moves a task from merging to merge_failed, either because a
// retryable failure hit the attempt cap or because the failure was
// non-retryable.
func (e *Engine) FailMerge(teamName string, task *store.Task) error {
	return e.transition(teamName, task, store.StatusMergeFailed)
}
