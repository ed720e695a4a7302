package dispatcher

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/foreman-dev/foreman/internal/eventbus"
	"github.com/foreman-dev/foreman/internal/mailbox"
	"github.com/foreman-dev/foreman/internal/merge"
	"github.com/foreman-dev/foreman/internal/session"
	"github.com/foreman-dev/foreman/internal/store"
)

// launchTurn admits agent for one turn if it isn't already running,
// tracking it in d.running and d.wg for the duration.
func (d *Dispatcher) launchTurn(ctx context.Context, team *store.Team, agent *store.Participant) {
	key := agentKey(team.ID, agent.Name)

	d.mu.Lock()
	if d.running[key] {
		d.mu.Unlock()
		return
	}
	d.running[key] = true
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			delete(d.running, key)
			d.mu.Unlock()
		}()
		d.runTurn(ctx, team, agent)
	}()
}

// runTurn executes steps 3-4 of spec.md §4.7 for one agent: acquire read
// locks on every task it's driving, compose the turn message from its
// newest unread inbox, send it through the agent's Session, then settle
// seen/processed accounting.
func (d *Dispatcher) runTurn(ctx context.Context, team *store.Team, agent *store.Participant) {
	mbox := mailbox.New(d.db, team.ID)

	msgs, err := mbox.ReadInbox(agent.Name, true)
	if err != nil {
		log.Printf("[dispatcher] read inbox for %s/%s: %v", team.Name, agent.Name, err)
		return
	}

	openTasks, err := d.openTasksFor(team.ID, agent.Name)
	if err != nil {
		log.Printf("[dispatcher] list open tasks for %s/%s: %v", team.Name, agent.Name, err)
		return
	}

	if len(msgs) == 0 && len(openTasks) == 0 {
		// Eligibility was computed moments ago; the state it was based on
		// can shift (a human could race in a MarkProcessed) before the
		// turn actually launches. Nothing to do this cycle.
		return
	}

	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	if len(ids) > 0 {
		if err := mbox.MarkSeen(ids); err != nil {
			log.Printf("[dispatcher] mark seen for %s/%s: %v", team.Name, agent.Name, err)
			return
		}
	}

	var unlocks []func()
	defer func() {
		for _, unlock := range unlocks {
			unlock()
		}
	}()
	for _, t := range openTasks {
		unlocks = append(unlocks, d.locks.ReadLock(team.ID, t.ID))
	}

	sess := d.sessionFor(team, agent, openTasks)
	prompt := composeTurnMessage(agent, msgs, openTasks)

	d.bus.Publish(eventbus.Event{Type: eventbus.TurnStarted, Team: team.Name, Agent: agent.Name})
	_, err = sess.Send(ctx, prompt)
	endEvent := eventbus.Event{Type: eventbus.TurnEnded, Team: team.Name, Agent: agent.Name}
	if err != nil {
		endEvent.Error = err.Error()
	}
	d.bus.Publish(endEvent)
	if err != nil {
		log.Printf("[dispatcher] turn for %s/%s: %v", team.Name, agent.Name, err)
		return
	}

	if len(ids) > 0 {
		if err := mbox.MarkProcessed(ids); err != nil {
			log.Printf("[dispatcher] mark processed for %s/%s: %v", team.Name, agent.Name, err)
		}
	}

	d.persistSession(team.ID, agent.Name, sess)
}

func (d *Dispatcher) openTasksFor(teamID int64, agent string) ([]store.Task, error) {
	var out []store.Task
	for _, status := range openTaskStatuses {
		status := status
		tasks, err := d.db.ListTasks(teamID, store.TaskFilter{DRI: &agent, Status: &status})
		if err != nil {
			return nil, err
		}
		out = append(out, tasks...)
	}
	return out, nil
}

// sessionFor returns this agent's live Session, constructing one from
// its persisted SessionRecord (if any) on first use. A Session's runtime
// state (external handle, per-generation usage, turn count) does not
// survive a daemon restart — the underlying runtime handle wouldn't mean
// anything to a freshly started executor anyway — but its memory does,
// since that's the whole point of rotation.
//
// CWD/AddDirs are fixed at construction from the agent's open tasks at
// the time its Session is first created. An agent reassigned to a
// different task later keeps the same Session (and so the same worktree
// paths) for the life of this Dispatcher: rotation resets the Session's
// conversation, not its configuration. Picking up a new assignment's
// worktree would require a per-turn CWD override the underlying Session
// type doesn't expose.
func (d *Dispatcher) sessionFor(team *store.Team, agent *store.Participant, openTasks []store.Task) *session.Session {
	key := agentKey(team.ID, agent.Name)

	d.mu.Lock()
	if sess, ok := d.sessions[key]; ok {
		d.mu.Unlock()
		return sess
	}
	d.mu.Unlock()

	memory := ""
	if rec, err := d.db.GetSessionRecord(team.ID, agent.Name); err == nil {
		memory = rec.Memory
	}

	preamble := ""
	if d.cfg.Preamble != nil {
		preamble = d.cfg.Preamble(team, agent)
	}

	dirs := agentWorktreeDirs(d.cfg.WorktreeBaseDir, team.Name, openTasks)
	cwd := ""
	var addDirs []string
	if len(dirs) > 0 {
		cwd = dirs[0]
		addDirs = dirs[1:]
	}

	var sess *session.Session
	sess = session.New(d.executor, session.Config{
		Preamble:       preamble,
		Memory:         memory,
		Model:          agent.Model,
		CWD:            cwd,
		AddDirs:        addDirs,
		RotationPrompt: d.cfg.RotationPrompt,
		AllowedDomains: d.cfg.AllowedDomains,
		OnRotation: func(*string) {
			if forgetter, ok := d.executor.(interface{ Forget(string) }); ok {
				if handle := sess.ExternalHandle(); handle != "" {
					forgetter.Forget(handle)
				}
			}
			d.persistSession(team.ID, agent.Name, sess)
		},
	})

	d.mu.Lock()
	d.sessions[key] = sess
	d.mu.Unlock()
	return sess
}

// persistSession mirrors a Session's current state into the Store so it
// survives a restart and is visible to the HTTP/SSE façade.
func (d *Dispatcher) persistSession(teamID int64, agent string, sess *session.Session) {
	usage := sess.Usage()
	rec := store.SessionRecord{
		ID:               sess.ID(),
		TeamID:           teamID,
		Agent:            agent,
		Generation:       sess.Generation(),
		Memory:           sess.Memory(),
		InputTokens:      usage.InputTokens,
		OutputTokens:     usage.OutputTokens,
		CacheReadTokens:  usage.CacheReadTokens,
		CacheWriteTokens: usage.CacheWriteTokens,
		Cost:             usage.CostUSD,
		Turns:            sess.Turns(),
		ExternalHandle:   sess.ExternalHandle(),
	}
	if err := d.db.UpsertSession(rec); err != nil {
		log.Printf("[dispatcher] persist session for %d/%s: %v", teamID, agent, err)
	}
}

// composeTurnMessage builds the user-facing prompt for one turn: the
// agent's newest unread messages, oldest first, followed by a reminder
// of any open tasks it's the DRI for so a quiet inbox with assigned work
// still nudges the agent forward.
func composeTurnMessage(agent *store.Participant, msgs []store.Message, openTasks []store.Task) string {
	var b strings.Builder

	if len(msgs) > 0 {
		b.WriteString("## New messages\n\n")
		for _, m := range msgs {
			fmt.Fprintf(&b, "**%s** -> %s: %s\n\n", m.Sender, m.Recipient, m.Body)
		}
	}

	if len(openTasks) > 0 {
		b.WriteString("## Your open tasks\n\n")
		for _, t := range openTasks {
			fmt.Fprintf(&b, "- [%s] #%d %s\n", t.Status, t.ID, t.Title)
		}
		b.WriteString("\n")
	}

	if len(msgs) == 0 {
		b.WriteString("No new messages. Continue the open task(s) above.\n")
	}

	return b.String()
}

// agentWorktreeDirs returns the CWD/AddDirs pair for a turn touching the
// given tasks' worktrees, one directory per (task, repo) combination the
// agent is the DRI of, following internal/merge's path convention.
func agentWorktreeDirs(baseDir, teamName string, tasks []store.Task) []string {
	var dirs []string
	for _, t := range tasks {
		for repoName := range t.Repos {
			dirs = append(dirs, merge.AgentWorktreePath(baseDir, teamName, t.ID, repoName))
		}
	}
	return dirs
}
