package workflow

import (
	"path/filepath"
	"testing"

	"github.com/foreman-dev/foreman/internal/eventbus"
	"github.com/foreman-dev/foreman/internal/store"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name     string
		from     store.TaskStatus
		to       store.TaskStatus
		expected bool
	}{
		{"unassigned to assigned", store.StatusUnassigned, store.StatusAssigned, true},
		{"unassigned to in_progress", store.StatusUnassigned, store.StatusInProgress, false},
		{"assigned to in_progress", store.StatusAssigned, store.StatusInProgress, true},
		{"in_progress to in_review", store.StatusInProgress, store.StatusInReview, true},
		{"in_review to in_approval", store.StatusInReview, store.StatusInApproval, true},
		{"in_review to rejected", store.StatusInReview, store.StatusRejected, true},
		{"in_approval to merging", store.StatusInApproval, store.StatusMerging, true},
		{"in_approval to rejected", store.StatusInApproval, store.StatusRejected, true},
		{"merging to done", store.StatusMerging, store.StatusDone, true},
		{"merging to merging", store.StatusMerging, store.StatusMerging, true},
		{"merging to merge_failed", store.StatusMerging, store.StatusMergeFailed, true},
		{"rejected to in_progress", store.StatusRejected, store.StatusInProgress, true},
		{"done to anything", store.StatusDone, store.StatusInProgress, false},
		{"merge_failed to in_progress", store.StatusMergeFailed, store.StatusInProgress, false},
		{"unknown state", store.TaskStatus("bogus"), store.StatusAssigned, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.expected {
				t.Errorf("CanTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.expected)
			}
		})
	}
}

func setupEngine(t *testing.T) (*Engine, *store.DB, *store.Team) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	team, err := db.CreateTeam("alpha")
	if err != nil {
		t.Fatalf("CreateTeam failed: %v", err)
	}
	return New(db, eventbus.New()), db, team
}

func TestAssignTask_RequiresAgentDRI(t *testing.T) {
	eng, db, team := setupEngine(t)
	task, _ := db.CreateTask(team.ID, "fix bug", "")
	member, _ := db.CreateMember("alice", "")

	if err := eng.AssignTask(team.Name, task, member); err == nil {
		t.Fatal("expected error assigning a member as DRI")
	}

	agent, _ := db.CreateAgent(team.ID, "edison", "engineer", "sonnet", "")
	if err := eng.AssignTask(team.Name, task, agent); err != nil {
		t.Fatalf("AssignTask failed: %v", err)
	}

	got, err := db.GetTask(team.ID, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != store.StatusAssigned {
		t.Errorf("status = %q, want assigned", got.Status)
	}
	if got.DRI != "edison" {
		t.Errorf("dri = %q, want edison", got.DRI)
	}
}

func TestAcceptTask_RequiresRepoBranchBaseSHA(t *testing.T) {
	eng, db, team := setupEngine(t)
	task, _ := db.CreateTask(team.ID, "fix bug", "")
	agent, _ := db.CreateAgent(team.ID, "edison", "engineer", "sonnet", "")
	if err := eng.AssignTask(team.Name, task, agent); err != nil {
		t.Fatalf("AssignTask failed: %v", err)
	}
	task, _ = db.GetTask(team.ID, task.ID)

	if err := eng.AcceptTask(team.Name, task); err == nil {
		t.Fatal("expected error accepting task without repo/branch/base_sha")
	}

	if err := db.UpdateTask(team.ID, task.ID, store.TaskPatch{
		Repos: map[string]store.RepoState{"app": {Branch: "agent-edison", BaseSHA: "deadbeef"}},
	}); err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	task, _ = db.GetTask(team.ID, task.ID)

	if err := eng.AcceptTask(team.Name, task); err != nil {
		t.Fatalf("AcceptTask failed: %v", err)
	}
	got, _ := db.GetTask(team.ID, task.ID)
	if got.Status != store.StatusInProgress {
		t.Errorf("status = %q, want in_progress", got.Status)
	}
}

func TestRejectReview_RecordsReasonAndOnlyFromReviewStates(t *testing.T) {
	eng, db, team := setupEngine(t)
	task, _ := db.CreateTask(team.ID, "fix bug", "")

	if err := eng.RejectReview(team.Name, task, "not good enough"); err == nil {
		t.Fatal("expected error rejecting from unassigned")
	}

	db.ChangeStatus(team.ID, task.ID, store.StatusInReview)
	task, _ = db.GetTask(team.ID, task.ID)

	if err := eng.RejectReview(team.Name, task, "not good enough"); err != nil {
		t.Fatalf("RejectReview failed: %v", err)
	}
	got, _ := db.GetTask(team.ID, task.ID)
	if got.Status != store.StatusRejected {
		t.Errorf("status = %q, want rejected", got.Status)
	}
	if got.RejectionReason != "not good enough" {
		t.Errorf("rejection_reason = %q", got.RejectionReason)
	}
}

func TestRework_ClearsRejectionAndReturnsToInProgress(t *testing.T) {
	eng, db, team := setupEngine(t)
	task, _ := db.CreateTask(team.ID, "fix bug", "")
	db.ChangeStatus(team.ID, task.ID, store.StatusInReview)
	task, _ = db.GetTask(team.ID, task.ID)
	eng.RejectReview(team.Name, task, "needs work")
	task, _ = db.GetTask(team.ID, task.ID)

	if err := eng.Rework(team.Name, task); err != nil {
		t.Fatalf("Rework failed: %v", err)
	}
	got, _ := db.GetTask(team.ID, task.ID)
	if got.Status != store.StatusInProgress {
		t.Errorf("status = %q, want in_progress", got.Status)
	}
	if got.RejectionReason != "" {
		t.Errorf("rejection_reason = %q, want cleared", got.RejectionReason)
	}
}

func TestDiscard_AnyNonTerminalState(t *testing.T) {
	eng, db, team := setupEngine(t)
	task, _ := db.CreateTask(team.ID, "fix bug", "")

	if err := eng.Discard(team.Name, task); err != nil {
		t.Fatalf("Discard from unassigned failed: %v", err)
	}
	got, _ := db.GetTask(team.ID, task.ID)
	if got.Status != store.StatusDiscarded {
		t.Errorf("status = %q, want discarded", got.Status)
	}

	if err := eng.Discard(team.Name, got); err == nil {
		t.Error("expected error discarding an already-terminal task")
	}
}

func TestBroadcastsOnTransition(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	team, _ := db.CreateTeam("alpha")
	bus := eventbus.New()
	sub := bus.Subscribe()
	eng := New(db, bus)

	task, _ := db.CreateTask(team.ID, "fix bug", "")
	if err := eng.Discard(team.Name, task); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}

	<-sub.Notify()
	events := sub.Drain()
	if len(events) != 1 || events[0].Type != eventbus.TaskChanged {
		t.Fatalf("expected one task_changed event, got %+v", events)
	}
}
