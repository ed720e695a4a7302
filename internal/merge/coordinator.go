// Package merge implements the MergeCoordinator: a background loop that
// rebases and fast-forwards a task's per-repo branches onto main, one
// task at a time, classifying failures and retrying retryable ones with
// backoff. See internal/workflow for the status transitions this
// package drives (merging -> done / merge_failed).
package merge

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/foreman-dev/foreman/internal/eventbus"
	"github.com/foreman-dev/foreman/internal/execrunner"
	"github.com/foreman-dev/foreman/internal/git"
	"github.com/foreman-dev/foreman/internal/store"
	"github.com/foreman-dev/foreman/internal/workflow"
	"github.com/foreman-dev/foreman/internal/worktreelock"
)

// attemptCap is the number of retryable failures a task may accumulate
// before being escalated to merge_failed.
const attemptCap = 3

// pollInterval is how often the coordinator scans for tasks in merging.
const pollInterval = 5 * time.Second

// Coordinator polls for tasks in the merging state and drives each
// through the rebase/fast-forward protocol exactly once per cycle.
type Coordinator struct {
	db      *store.DB
	bus     *eventbus.Bus
	engine  *workflow.Engine
	locks   *worktreelock.Set
	runner  *execrunner.ExecRunner
	gitNew  func(repoPath string) git.Runner
	baseDir string
}

// New creates a Coordinator. baseDir is the root directory for agent and
// disposable rebase worktrees (e.g. ~/.cache/foreman/worktrees). locks is
// the worktree lock set shared with internal/dispatcher so a turn and a
// merge attempt on the same task always contend on the same mutex.
func New(db *store.DB, bus *eventbus.Bus, engine *workflow.Engine, locks *worktreelock.Set, baseDir string) *Coordinator {
	return &Coordinator{
		db:      db,
		bus:     bus,
		engine:  engine,
		locks:   locks,
		runner:  execrunner.NewRunner(),
		gitNew:  func(repoPath string) git.Runner { return git.NewRunner(repoPath) },
		baseDir: baseDir,
	}
}

// Run polls until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(ctx)
		}
	}
}

// pollOnce scans every task currently in merging across all teams and
// drives each through one attempt, skipping those whose retry_after has
// not yet elapsed.
func (c *Coordinator) pollOnce(ctx context.Context) {
	tasks, err := c.db.TasksInMerging()
	if err != nil {
		log.Printf("[merge] list tasks in merging: %v", err)
		return
	}
	now := time.Now()
	for i := range tasks {
		task := &tasks[i]
		if task.RetryAfter != nil && task.RetryAfter.After(now) {
			continue
		}
		c.attempt(ctx, task)
	}
}

// attempt runs the merge protocol once for task and persists the
// outcome: success transitions to done; a retryable failure bumps
// merge_attempts and sets retry_after (or escalates past the cap);
// a non-retryable failure escalates immediately.
func (c *Coordinator) attempt(ctx context.Context, task *store.Task) {
	teamName, err := c.teamName(task.TeamID)
	if err != nil {
		log.Printf("[merge] resolve team for task %d: %v", task.ID, err)
		return
	}

	// Step 2: clear retry gate so a later skip check doesn't stall the
	// task once this attempt has started.
	if err := c.db.ClearRetryGate(task.TeamID, task.ID); err != nil {
		log.Printf("[merge] clear retry gate for task %d: %v", task.ID, err)
		return
	}

	// Step 3: acquire the write lock, non-blocking.
	unlock, ok := c.locks.TryWriteLock(task.TeamID, task.ID)
	if !ok {
		c.handleFailure(teamName, task, fail(WorktreeError, "worktree lock held by a concurrent turn"))
		return
	}
	defer unlock()

	c.bus.Publish(eventbus.Event{Type: eventbus.MergeStarted, Team: teamName, TaskID: task.ID})

	patch := store.TaskPatch{Repos: map[string]store.RepoState{}}
	for repoName, rs := range task.Repos {
		repo, err := c.db.GetRepo(task.TeamID, repoName)
		if err != nil {
			c.handleFailure(teamName, task, fail(WorktreeError, fmt.Sprintf("load repo %s: %v", repoName, err)))
			return
		}
		newState, failure := c.mergeOneRepo(ctx, teamName, task, repo, rs)
		if failure != nil {
			c.handleFailure(teamName, task, failure)
			return
		}
		patch.Repos[repoName] = *newState
	}

	if err := c.db.UpdateTask(task.TeamID, task.ID, patch); err != nil {
		log.Printf("[merge] record merge tips for task %d: %v", task.ID, err)
		return
	}
	if err := c.engine.CompleteMerge(teamName, task); err != nil {
		log.Printf("[merge] complete merge for task %d: %v", task.ID, err)
		return
	}
	c.bus.Publish(eventbus.Event{Type: eventbus.MergeSucceeded, Team: teamName, TaskID: task.ID})
}

// mergeOneRepo runs steps 4-9 of the protocol for a single repo entry on
// the task, returning the repo's new RepoState (base_sha and merge_tip
// advanced) on success.
func (c *Coordinator) mergeOneRepo(ctx context.Context, teamName string, task *store.Task, repo *store.Repo, rs store.RepoState) (*store.RepoState, *Failure) {
	mainRunner := c.gitNew(repo.Path)

	// Step 4: verify main is clean.
	dirty, err := mainRunner.HasChanges()
	if err != nil {
		return nil, fail(WorktreeError, fmt.Sprintf("check main status: %v", err))
	}
	if dirty {
		return nil, fail(DirtyMain, "main has uncommitted changes")
	}

	mainHead, err := mainRunner.Run("rev-parse", "HEAD")
	if err != nil {
		return nil, fail(WorktreeError, fmt.Sprintf("read main HEAD: %v", err))
	}

	// Step 5: rebase the task branch onto main in a disposable, detached
	// worktree so a failed rebase never touches the agent's live copy.
	rebasePath := rebaseWorktreePath(c.baseDir, teamName, task.ID, repo.Name)
	if _, err := mainRunner.Run("worktree", "add", "--detach", rebasePath, rs.Branch); err != nil {
		return nil, fail(WorktreeError, fmt.Sprintf("create rebase worktree: %v", err))
	}
	defer func() {
		_ = mainRunner.WorktreeRemoveOptionalForce(rebasePath, true)
	}()

	rebaseRunner := c.gitNew(rebasePath)
	if err := rebaseRunner.Rebase("main"); err != nil {
		_ = rebaseRunner.RebaseAbort()
		conflicts, _ := rebaseRunner.ConflictedFiles()
		return nil, fail(RebaseConflict, fmt.Sprintf("rebase onto main: %v (conflicts: %v)", err, conflicts))
	}

	rebasedTip, err := rebaseRunner.Run("rev-parse", "HEAD")
	if err != nil {
		return nil, fail(WorktreeError, fmt.Sprintf("read rebased tip: %v", err))
	}

	// Step 6: hard-reset the agent's live worktree to the rebased tip.
	// git reset --hard only touches tracked files, so untracked work in
	// progress survives.
	agentPath := AgentWorktreePath(c.baseDir, teamName, task.ID, repo.Name)
	agentRunner := c.gitNew(agentPath)
	if _, err := agentRunner.Run("reset", "--hard", rebasedTip); err != nil {
		return nil, fail(WorktreeError, fmt.Sprintf("reset agent worktree: %v", err))
	}

	// Step 7: advance base_sha to current main HEAD.
	newState := store.RepoState{Branch: rs.Branch, BaseSHA: mainHead, MergeTip: rs.MergeTip}

	// Step 8: pre-merge pipeline, run in the agent's worktree now that
	// it reflects the rebased tip.
	if failure := runPipeline(ctx, c.runner, agentPath, repo.Pipeline); failure != nil {
		return nil, failure
	}

	// Step 9: fast-forward main to the rebased tip.
	if err := mainRunner.CheckoutBranch("main"); err != nil {
		return nil, fail(WorktreeError, fmt.Sprintf("checkout main: %v", err))
	}
	if _, err := mainRunner.Run("merge", "--ff-only", rebasedTip); err != nil {
		return nil, fail(DirtyMain, fmt.Sprintf("fast-forward main: %v", err))
	}

	newTip, err := mainRunner.Run("rev-parse", "HEAD")
	if err != nil {
		return nil, fail(WorktreeError, fmt.Sprintf("read new main HEAD: %v", err))
	}
	newState.MergeTip = newTip
	newState.BaseSHA = newTip

	return &newState, nil
}

func (c *Coordinator) handleFailure(teamName string, task *store.Task, f *Failure) {
	if !f.Class.Retryable() {
		if err := c.engine.FailMerge(teamName, task); err != nil {
			log.Printf("[merge] fail task %d: %v", task.ID, err)
		}
		c.bus.Publish(eventbus.Event{Type: eventbus.MergeFailed, Team: teamName, TaskID: task.ID, Error: f.Error()})
		return
	}

	attempts, err := c.db.IncrementMergeAttempts(task.TeamID, task.ID, nil)
	if err != nil {
		log.Printf("[merge] increment merge attempts for task %d: %v", task.ID, err)
		return
	}
	if attempts >= attemptCap {
		if err := c.engine.FailMerge(teamName, task); err != nil {
			log.Printf("[merge] escalate task %d after %d attempts: %v", task.ID, attempts, err)
		}
		c.bus.Publish(eventbus.Event{Type: eventbus.MergeFailed, Team: teamName, TaskID: task.ID, Error: f.Error()})
		return
	}

	retryAfter := time.Now()
	if f.Class == WorktreeError {
		retryAfter = nextRetryAfter(retryAfter, attempts)
	}
	if err := c.db.SetRetryAfter(task.TeamID, task.ID, &retryAfter); err != nil {
		log.Printf("[merge] set retry_after for task %d: %v", task.ID, err)
		return
	}
	if err := c.engine.RetryMerge(teamName, task); err != nil {
		log.Printf("[merge] retry task %d: %v", task.ID, err)
	}
}

func (c *Coordinator) teamName(teamID int64) (string, error) {
	team, err := c.db.GetTeamByID(teamID)
	if err != nil {
		return "", err
	}
	return team.Name, nil
}
