// Package dispatcher implements the daemon's main control loop: picking
// eligible agents, admitting a bounded number of them per cycle, and
// driving each through one internal/session turn. It supersedes
// internal/orchestrator's run loop, pool, and agent spawner, generalizing
// their poll/select/spawn shape from decomposed coding subtasks to
// per-agent chat turns over a shared Store.
package dispatcher

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/foreman-dev/foreman/internal/eventbus"
	"github.com/foreman-dev/foreman/internal/mailbox"
	"github.com/foreman-dev/foreman/internal/session"
	"github.com/foreman-dev/foreman/internal/store"
	"github.com/foreman-dev/foreman/internal/worktreelock"
)

const (
	defaultInterval      = 1 * time.Second
	defaultMaxConcurrent = 32
	defaultDrainTimeout  = 30 * time.Second
)

// openTaskStatuses are the statuses that count as "requiring work" for
// eligibility purposes: an agent assigned to one of these has something
// to do even without a fresh inbox message.
var openTaskStatuses = []store.TaskStatus{store.StatusAssigned, store.StatusInProgress}

// Config configures a Dispatcher. Zero-valued fields take the documented
// default.
type Config struct {
	// Interval is the delay between dispatch cycles. Zero means 1s.
	Interval time.Duration
	// MaxConcurrent caps the number of turns in flight at once, across
	// every team. Zero means 32.
	MaxConcurrent int
	// DrainTimeout bounds how long Stop waits for in-flight turns before
	// giving up and returning anyway. Zero means 30s.
	DrainTimeout time.Duration

	// Preamble builds the static role instructions for one agent's
	// turn-0 message. Required; a nil Preamble makes every session
	// start with an empty preamble.
	Preamble func(team *store.Team, agent *store.Participant) string
	// RotationPrompt, if non-empty, is handed to every Session's
	// Config.RotationPrompt.
	RotationPrompt string
	// WorktreeBaseDir is the root directory of agent-editable task
	// worktrees, matching internal/merge's convention.
	WorktreeBaseDir string

	// AllowedDomains reports whether a domain a Bash command reaches out
	// to is permitted. Nil means unrestricted, the way a zero
	// internal/protect.Allowlist never existed for this daemon.
	AllowedDomains func(domain string) bool
}

// Dispatcher is the daemon's main control loop: admission control plus
// per-agent Session ownership.
type Dispatcher struct {
	db       *store.DB
	bus      *eventbus.Bus
	executor session.TurnExecutor
	locks    *worktreelock.Set
	cfg      Config

	mu       sync.Mutex
	sessions map[string]*session.Session
	running  map[string]bool
	wg       sync.WaitGroup

	rrCursor int
}

// agentKey scopes a map entry to one agent on one team.
func agentKey(teamID int64, agent string) string {
	return fmt.Sprintf("%d/%s", teamID, agent)
}

// New creates a Dispatcher. locks must be the same *worktreelock.Set
// internal/merge's Coordinator uses, so a turn's read lock and a merge
// attempt's write lock on the same task always contend on one mutex.
func New(db *store.DB, bus *eventbus.Bus, executor session.TurnExecutor, locks *worktreelock.Set, cfg Config) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	return &Dispatcher{
		db:       db,
		bus:      bus,
		executor: executor,
		locks:    locks,
		cfg:      cfg,
		sessions: make(map[string]*session.Session),
		running:  make(map[string]bool),
	}
}

// Run cycles until ctx is cancelled, then awaits in-flight turns up to
// cfg.DrainTimeout before returning.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return
		case <-ticker.C:
			d.cycle(ctx)
		}
	}
}

// Wait blocks until every currently in-flight turn has completed. Tests
// use this to observe a cycle's effects deterministically instead of
// polling; Run's own drain step uses the same WaitGroup with a timeout.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// drain waits for in-flight turns up to cfg.DrainTimeout, then gives up;
// abandoned turns keep running in their goroutines but are no longer
// awaited.
func (d *Dispatcher) drain() {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d.cfg.DrainTimeout):
		log.Printf("[dispatcher] drain timed out after %s, abandoning in-flight turns", d.cfg.DrainTimeout)
	}
}

// cycle runs one dispatch pass: compute eligible agents per team, admit
// up to the global cap with round-robin fairness, and launch a turn for
// each admitted agent.
func (d *Dispatcher) cycle(ctx context.Context) {
	teams, err := d.db.ListTeams()
	if err != nil {
		log.Printf("[dispatcher] list teams: %v", err)
		return
	}
	if len(teams) == 0 {
		return
	}

	eligible := make([][]*store.Participant, len(teams))
	for i := range teams {
		agents, err := d.eligibleAgents(&teams[i])
		if err != nil {
			log.Printf("[dispatcher] eligible agents for team %s: %v", teams[i].Name, err)
			continue
		}
		eligible[i] = agents
	}

	budget := d.admissionBudget()
	if budget <= 0 {
		return
	}

	for _, sel := range d.roundRobinSelect(eligible, budget) {
		d.launchTurn(ctx, &teams[sel.teamIdx], sel.agent)
	}
}

func (d *Dispatcher) admissionBudget() int {
	d.mu.Lock()
	running := len(d.running)
	d.mu.Unlock()
	budget := d.cfg.MaxConcurrent - running
	if budget < 0 {
		return 0
	}
	return budget
}

type selection struct {
	teamIdx int
	agent   *store.Participant
}

// roundRobinSelect interleaves picks across teams (round 0 takes team
// 0's first eligible agent, team 1's first, ...; round 1 takes each
// team's second, and so on) so one team with many eligible agents never
// starves the others, stopping once budget picks have been made or every
// queue is drained. The starting team rotates cycle to cycle so a
// persistently-overloaded team set doesn't always win ties either.
func (d *Dispatcher) roundRobinSelect(eligible [][]*store.Participant, budget int) []selection {
	n := len(eligible)
	if n == 0 {
		return nil
	}
	d.mu.Lock()
	start := d.rrCursor % n
	d.rrCursor++
	d.mu.Unlock()

	cursors := make([]int, n)
	var out []selection
	for len(out) < budget {
		progressed := false
		for i := 0; i < n; i++ {
			teamIdx := (start + i) % n
			c := cursors[teamIdx]
			if c >= len(eligible[teamIdx]) {
				continue
			}
			out = append(out, selection{teamIdx: teamIdx, agent: eligible[teamIdx][c]})
			cursors[teamIdx] = c + 1
			progressed = true
			if len(out) >= budget {
				break
			}
		}
		if !progressed {
			break
		}
	}
	return out
}

// eligibleAgents returns the agents on team that may be dispatched this
// cycle, per spec.md §4.7 step 1: not already running a turn, not the
// DRI of a task currently merging, and either holding unread inbox
// messages or assigned to a task that still needs work.
func (d *Dispatcher) eligibleAgents(team *store.Team) ([]*store.Participant, error) {
	agents, err := d.db.ListAgents(team.ID)
	if err != nil {
		return nil, err
	}

	mergingStatus := store.StatusMerging
	mergingTasks, err := d.db.ListTasks(team.ID, store.TaskFilter{Status: &mergingStatus})
	if err != nil {
		return nil, err
	}
	mergingDRI := make(map[string]bool, len(mergingTasks))
	for _, t := range mergingTasks {
		if t.DRI != "" {
			mergingDRI[t.DRI] = true
		}
	}

	mbox := mailbox.New(d.db, team.ID)

	var out []*store.Participant
	for i := range agents {
		a := &agents[i]
		if d.isRunning(team.ID, a.Name) || mergingDRI[a.Name] {
			continue
		}
		hasUnread, err := mbox.HasUnread(a.Name)
		if err != nil {
			return nil, err
		}
		if !hasUnread {
			hasOpenTask, err := d.hasOpenTask(team.ID, a.Name)
			if err != nil {
				return nil, err
			}
			if !hasOpenTask {
				continue
			}
		}
		out = append(out, a)
	}
	return out, nil
}

func (d *Dispatcher) hasOpenTask(teamID int64, agent string) (bool, error) {
	for _, status := range openTaskStatuses {
		status := status
		tasks, err := d.db.ListTasks(teamID, store.TaskFilter{DRI: &agent, Status: &status})
		if err != nil {
			return false, err
		}
		if len(tasks) > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (d *Dispatcher) isRunning(teamID int64, agent string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running[agentKey(teamID, agent)]
}
