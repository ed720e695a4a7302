package dispatcher

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/foreman-dev/foreman/internal/eventbus"
	"github.com/foreman-dev/foreman/internal/session"
	"github.com/foreman-dev/foreman/internal/store"
	"github.com/foreman-dev/foreman/internal/worktreelock"
)

// fakeExecutor is a session.TurnExecutor that returns a canned reply and
// records every request it was handed.
type fakeExecutor struct {
	calls []session.TurnRequest
	text  string
}

func (f *fakeExecutor) Turn(ctx context.Context, req session.TurnRequest) (session.TurnResult, error) {
	f.calls = append(f.calls, req)
	return session.TurnResult{Text: f.text, ExternalHandle: "handle-1"}, nil
}

func setupDispatcher(t *testing.T, cfg Config) (*Dispatcher, *store.DB, *store.Team, *fakeExecutor) {
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
	bus := eventbus.New()
	exec := &fakeExecutor{text: "ok"}
	d := New(db, bus, exec, worktreelock.New(), cfg)
	return d, db, team, exec
}

func TestEligibleAgents_UnreadInboxMakesAgentEligible(t *testing.T) {
	d, db, team, _ := setupDispatcher(t, Config{})
	if _, err := db.CreateAgent(team.ID, "edison", "builder", "", ""); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	if _, err := db.CreateMember("hannah", ""); err != nil {
		t.Fatalf("CreateMember failed: %v", err)
	}
	if _, err := db.SendMessage(team.ID, "hannah", "edison", "hello", store.KindChat); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	agents, err := d.eligibleAgents(team)
	if err != nil {
		t.Fatalf("eligibleAgents failed: %v", err)
	}
	if len(agents) != 1 || agents[0].Name != "edison" {
		t.Fatalf("eligible = %+v, want [edison]", agents)
	}
}

func TestEligibleAgents_QuietInboxNoOpenTaskIsIneligible(t *testing.T) {
	d, db, team, _ := setupDispatcher(t, Config{})
	if _, err := db.CreateAgent(team.ID, "edison", "builder", "", ""); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}

	agents, err := d.eligibleAgents(team)
	if err != nil {
		t.Fatalf("eligibleAgents failed: %v", err)
	}
	if len(agents) != 0 {
		t.Fatalf("eligible = %+v, want none", agents)
	}
}

func TestEligibleAgents_OpenTaskWithoutUnreadIsEligible(t *testing.T) {
	d, db, team, _ := setupDispatcher(t, Config{})
	if _, err := db.CreateAgent(team.ID, "edison", "builder", "", ""); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	task, err := db.CreateTask(team.ID, "ship it", "")
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	dri := "edison"
	if err := db.UpdateTask(team.ID, task.ID, store.TaskPatch{DRI: &dri}); err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	if err := db.ChangeStatus(team.ID, task.ID, store.StatusInProgress); err != nil {
		t.Fatalf("ChangeStatus failed: %v", err)
	}

	agents, err := d.eligibleAgents(team)
	if err != nil {
		t.Fatalf("eligibleAgents failed: %v", err)
	}
	if len(agents) != 1 || agents[0].Name != "edison" {
		t.Fatalf("eligible = %+v, want [edison]", agents)
	}
}

func TestEligibleAgents_ExcludesDRIOfMergingTask(t *testing.T) {
	d, db, team, _ := setupDispatcher(t, Config{})
	if _, err := db.CreateAgent(team.ID, "edison", "builder", "", ""); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	if _, err := db.CreateMember("hannah", ""); err != nil {
		t.Fatalf("CreateMember failed: %v", err)
	}
	if _, err := db.SendMessage(team.ID, "hannah", "edison", "hello", store.KindChat); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	task, err := db.CreateTask(team.ID, "ship it", "")
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	dri := "edison"
	if err := db.UpdateTask(team.ID, task.ID, store.TaskPatch{DRI: &dri}); err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	if err := db.ChangeStatus(team.ID, task.ID, store.StatusMerging); err != nil {
		t.Fatalf("ChangeStatus failed: %v", err)
	}

	agents, err := d.eligibleAgents(team)
	if err != nil {
		t.Fatalf("eligibleAgents failed: %v", err)
	}
	if len(agents) != 0 {
		t.Fatalf("eligible = %+v, want none (edison is merging-DRI)", agents)
	}
}

func TestRoundRobinSelect_InterleavesAcrossTeams(t *testing.T) {
	d, _, _, _ := setupDispatcher(t, Config{})
	a1 := &store.Participant{Name: "a1"}
	a2 := &store.Participant{Name: "a2"}
	b1 := &store.Participant{Name: "b1"}

	eligible := [][]*store.Participant{{a1, a2}, {b1}}
	got := d.roundRobinSelect(eligible, 3)
	if len(got) != 3 {
		t.Fatalf("got %d selections, want 3", len(got))
	}
	// First round should draw from both teams before team 0's second agent.
	if got[0].teamIdx == got[1].teamIdx {
		t.Errorf("expected round-robin across teams before exhausting one, got %+v", got)
	}
}

func TestRoundRobinSelect_CapsAtBudget(t *testing.T) {
	d, _, _, _ := setupDispatcher(t, Config{})
	a1 := &store.Participant{Name: "a1"}
	a2 := &store.Participant{Name: "a2"}
	got := d.roundRobinSelect([][]*store.Participant{{a1, a2}}, 1)
	if len(got) != 1 {
		t.Fatalf("got %d selections, want 1", len(got))
	}
}

func TestCycle_LaunchesTurnAndSettlesSeenProcessed(t *testing.T) {
	d, db, team, exec := setupDispatcher(t, Config{Interval: time.Hour})
	if _, err := db.CreateAgent(team.ID, "edison", "builder", "", ""); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	if _, err := db.CreateMember("hannah", ""); err != nil {
		t.Fatalf("CreateMember failed: %v", err)
	}
	msgID, err := db.SendMessage(team.ID, "hannah", "edison", "hello", store.KindChat)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	d.cycle(context.Background())
	d.Wait()

	if len(exec.calls) != 1 {
		t.Fatalf("executor calls = %d, want 1", len(exec.calls))
	}

	msgs, err := db.QueryMessages(team.ID, store.MessageFilter{})
	if err != nil {
		t.Fatalf("QueryMessages failed: %v", err)
	}
	var found bool
	for _, m := range msgs {
		if m.ID == msgID {
			found = true
			if m.SeenAt == nil {
				t.Errorf("message %d: SeenAt is nil, want set", msgID)
			}
			if m.ProcessedAt == nil {
				t.Errorf("message %d: ProcessedAt is nil, want set", msgID)
			}
		}
	}
	if !found {
		t.Fatalf("message %d not found", msgID)
	}
}

func TestCycle_DoesNotDoubleDispatchARunningAgent(t *testing.T) {
	d, db, team, _ := setupDispatcher(t, Config{Interval: time.Hour})
	if _, err := db.CreateAgent(team.ID, "edison", "builder", "", ""); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	if _, err := db.CreateMember("hannah", ""); err != nil {
		t.Fatalf("CreateMember failed: %v", err)
	}
	if _, err := db.SendMessage(team.ID, "hannah", "edison", "hello", store.KindChat); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	d.mu.Lock()
	d.running[agentKey(team.ID, "edison")] = true
	d.mu.Unlock()

	agents, err := d.eligibleAgents(team)
	if err != nil {
		t.Fatalf("eligibleAgents failed: %v", err)
	}
	if len(agents) != 0 {
		t.Fatalf("eligible = %+v, want none (edison already running)", agents)
	}
}

func TestSessionFor_ReusesSameSessionAcrossTurns(t *testing.T) {
	d, db, team, _ := setupDispatcher(t, Config{})
	agent, err := db.CreateAgent(team.ID, "edison", "builder", "", "")
	if err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}

	s1 := d.sessionFor(team, agent, nil)
	s2 := d.sessionFor(team, agent, nil)
	if s1 != s2 {
		t.Error("expected the same *session.Session instance across calls")
	}
}

func TestPersistSession_RoundTripsThroughStore(t *testing.T) {
	d, db, team, _ := setupDispatcher(t, Config{})
	agent, err := db.CreateAgent(team.ID, "edison", "builder", "", "")
	if err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}

	sess := d.sessionFor(team, agent, nil)
	if _, err := sess.Send(context.Background(), "hi"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	d.persistSession(team.ID, "edison", sess)

	rec, err := db.GetSessionRecord(team.ID, "edison")
	if err != nil {
		t.Fatalf("GetSessionRecord failed: %v", err)
	}
	if rec.ID != sess.ID() {
		t.Errorf("persisted id = %q, want %q", rec.ID, sess.ID())
	}
	if rec.ExternalHandle != "handle-1" {
		t.Errorf("persisted external handle = %q, want handle-1", rec.ExternalHandle)
	}
}
