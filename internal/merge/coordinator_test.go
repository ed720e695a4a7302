package merge

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/foreman-dev/foreman/internal/eventbus"
	"github.com/foreman-dev/foreman/internal/git"
	"github.com/foreman-dev/foreman/internal/store"
	"github.com/foreman-dev/foreman/internal/workflow"
	"github.com/foreman-dev/foreman/internal/worktreelock"
)

// fakeGitRunner is a minimal git.Runner stub; tests configure only the
// methods their scenario exercises.
type fakeGitRunner struct {
	hasChanges    bool
	hasChangesErr error
	rebaseErr     error
	ffOnlyErr     error
	headSHA       string
	ran           []string
}

func (f *fakeGitRunner) CurrentBranch() (string, error)                            { return "main", nil }
func (f *fakeGitRunner) CreateBranch(name string) error                            { return nil }
func (f *fakeGitRunner) CreateAndCheckoutBranch(name string) error                 { return nil }
func (f *fakeGitRunner) CheckoutBranch(name string) error                          { return nil }
func (f *fakeGitRunner) BranchExists(name string) (bool, error)                    { return true, nil }
func (f *fakeGitRunner) DeleteBranch(name string) error                            { return nil }
func (f *fakeGitRunner) Status() (string, error)                                   { return "", nil }
func (f *fakeGitRunner) HasChanges() (bool, error)                                 { return f.hasChanges, f.hasChangesErr }
func (f *fakeGitRunner) Diff(base string) (string, error)                          { return "", nil }
func (f *fakeGitRunner) DiffBetween(ref1, ref2 string) (string, error)             { return "", nil }
func (f *fakeGitRunner) ChangedFiles(base string) ([]string, error)                { return nil, nil }
func (f *fakeGitRunner) ChangedFilesBetween(a, b string) ([]string, error)         { return nil, nil }
func (f *fakeGitRunner) ChangedFilesRelative(a, b string) ([]string, error)        { return nil, nil }
func (f *fakeGitRunner) ConflictedFiles() ([]string, error)                        { return []string{"a.go"}, nil }
func (f *fakeGitRunner) Add(paths ...string) error                                 { return nil }
func (f *fakeGitRunner) Commit(message string) error                               { return nil }
func (f *fakeGitRunner) Reset(ref string) error                                    { return nil }
func (f *fakeGitRunner) CheckoutPath(path string) error                            { return nil }
func (f *fakeGitRunner) Merge(branch string) error                                 { return nil }
func (f *fakeGitRunner) MergeNoFF(branch string) error                             { return nil }
func (f *fakeGitRunner) MergeNoFFMessage(b, m string) error                        { return nil }
func (f *fakeGitRunner) MergeAbort() error                                         { return nil }
func (f *fakeGitRunner) MergeBase(a, b string) (string, error)                     { return "", nil }
func (f *fakeGitRunner) HasConflicts() (bool, error)                               { return false, nil }
func (f *fakeGitRunner) Rebase(base string) error                                  { return f.rebaseErr }
func (f *fakeGitRunner) RebaseAbort() error                                        { return nil }
func (f *fakeGitRunner) WorktreeAdd(path, branch string) error                     { return nil }
func (f *fakeGitRunner) WorktreeAddNewBranch(path, branch string) error            { return nil }
func (f *fakeGitRunner) WorktreeRemove(path string) error                          { return nil }
func (f *fakeGitRunner) WorktreeRemoveOptionalForce(path string, force bool) error { return nil }
func (f *fakeGitRunner) WorktreeUnlock(path string) error                          { return nil }
func (f *fakeGitRunner) WorktreeList() ([]string, error)                           { return nil, nil }
func (f *fakeGitRunner) WorktreeListPorcelain() (string, error)                    { return "", nil }
func (f *fakeGitRunner) WorktreePrune() error                                      { return nil }
func (f *fakeGitRunner) WorktreePruneExpireNow() error                             { return nil }
func (f *fakeGitRunner) PullFFOnly() error                                         { return nil }
func (f *fakeGitRunner) ShowFile(ref, path string) (string, error)                 { return "", nil }
func (f *fakeGitRunner) CheckoutOurs(path string) error                            { return nil }
func (f *fakeGitRunner) CheckoutTheirs(path string) error                          { return nil }

func (f *fakeGitRunner) Run(args ...string) (string, error) {
	f.ran = append(f.ran, args[0])
	if len(args) >= 2 && args[0] == "worktree" && args[1] == "add" {
		return "", nil
	}
	if len(args) >= 1 && args[0] == "rev-parse" {
		return f.headSHA, nil
	}
	if len(args) >= 2 && args[0] == "merge" && args[1] == "--ff-only" {
		return "", f.ffOnlyErr
	}
	if len(args) >= 2 && args[0] == "reset" && args[1] == "--hard" {
		return "", nil
	}
	return "", nil
}

var _ git.Runner = (*fakeGitRunner)(nil)

type fakeStepRunner struct{ err error }

func (f *fakeStepRunner) RunWithTimeout(ctx context.Context, timeout time.Duration, workDir, name string, args ...string) ([]byte, error) {
	return nil, f.err
}

func setupCoordinator(t *testing.T) (*Coordinator, *store.DB, *store.Team, *fakeGitRunner) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	team, _ := db.CreateTeam("alpha")
	bus := eventbus.New()
	engine := workflow.New(db, bus)
	c := New(db, bus, engine, worktreelock.New(), t.TempDir())
	fg := &fakeGitRunner{headSHA: "deadbeef"}
	c.gitNew = func(repoPath string) git.Runner { return fg }
	c.runner = nil // never called: the repo mergingTask registers has no pipeline steps
	return c, db, team, fg
}

func mergingTask(t *testing.T, db *store.DB, team *store.Team) *store.Task {
	t.Helper()
	task, _ := db.CreateTask(team.ID, "ship it", "")
	db.RegisterRepo(team.ID, "app", t.TempDir(), store.ApprovalAuto, nil)
	if err := db.UpdateTask(team.ID, task.ID, store.TaskPatch{
		Repos: map[string]store.RepoState{"app": {Branch: "agent-edison", BaseSHA: "base123"}},
	}); err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	db.ChangeStatus(team.ID, task.ID, store.StatusMerging)
	task, _ = db.GetTask(team.ID, task.ID)
	return task
}

func TestAttempt_DirtyMainIsRetryableImmediately(t *testing.T) {
	c, db, team, fg := setupCoordinator(t)
	fg.hasChanges = true
	task := mergingTask(t, db, team)

	c.attempt(context.Background(), task)

	got, _ := db.GetTask(team.ID, task.ID)
	if got.Status != store.StatusMerging {
		t.Errorf("status = %q, want merging", got.Status)
	}
	if got.MergeAttempts != 1 {
		t.Errorf("merge_attempts = %d, want 1", got.MergeAttempts)
	}
	if got.RetryAfter == nil || got.RetryAfter.After(time.Now().Add(time.Second)) {
		t.Errorf("expected immediate retry_after, got %v", got.RetryAfter)
	}
}

func TestAttempt_RebaseConflictIsNonRetryable(t *testing.T) {
	c, db, team, fg := setupCoordinator(t)
	fg.rebaseErr = errors.New("conflict")
	task := mergingTask(t, db, team)

	c.attempt(context.Background(), task)

	got, _ := db.GetTask(team.ID, task.ID)
	if got.Status != store.StatusMergeFailed {
		t.Errorf("status = %q, want merge_failed", got.Status)
	}
}

func TestAttempt_EscalatesAfterAttemptCap(t *testing.T) {
	c, db, team, fg := setupCoordinator(t)
	fg.hasChanges = true
	task := mergingTask(t, db, team)

	for i := 0; i < attemptCap; i++ {
		task, _ = db.GetTask(team.ID, task.ID)
		c.attempt(context.Background(), task)
	}

	got, _ := db.GetTask(team.ID, task.ID)
	if got.Status != store.StatusMergeFailed {
		t.Errorf("status = %q, want merge_failed after %d attempts", got.Status, attemptCap)
	}
	if got.MergeAttempts != attemptCap {
		t.Errorf("merge_attempts = %d, want %d", got.MergeAttempts, attemptCap)
	}
}

func TestAttempt_SuccessCompletesMergeAndRecordsTip(t *testing.T) {
	c, db, team, fg := setupCoordinator(t)
	fg.headSHA = "newtip123"
	task := mergingTask(t, db, team)

	c.attempt(context.Background(), task)

	got, _ := db.GetTask(team.ID, task.ID)
	if got.Status != store.StatusDone {
		t.Fatalf("status = %q, want done", got.Status)
	}
	if got.Repos["app"].MergeTip != "newtip123" {
		t.Errorf("merge_tip = %q, want newtip123", got.Repos["app"].MergeTip)
	}
}
