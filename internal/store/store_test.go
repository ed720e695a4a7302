package store

import (
	"path/filepath"
	"testing"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrate_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate call failed: %v", err)
	}
}

func TestCreateTeam_ValidatesName(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.CreateTeam("My Team"); err == nil {
		t.Error("expected error for team name with uppercase and spaces")
	}
	if _, err := db.CreateTeam("my/team"); err == nil {
		t.Error("expected error for team name with slash")
	}

	team, err := db.CreateTeam("alpha")
	if err != nil {
		t.Fatalf("CreateTeam failed: %v", err)
	}
	if team.Name != "alpha" {
		t.Errorf("team.Name = %q, want alpha", team.Name)
	}
}

func TestCreateTeam_UniqueName(t *testing.T) {
	db := setupTestDB(t)
	if _, err := db.CreateTeam("alpha"); err != nil {
		t.Fatalf("CreateTeam failed: %v", err)
	}
	if _, err := db.CreateTeam("alpha"); err == nil {
		t.Error("expected error creating duplicate team name")
	}
}

func TestMember_AutoJoinsExistingTeams(t *testing.T) {
	db := setupTestDB(t)
	alpha, _ := db.CreateTeam("alpha")
	beta, _ := db.CreateTeam("beta")

	if _, err := db.CreateMember("alice", ""); err != nil {
		t.Fatalf("CreateMember failed: %v", err)
	}

	for _, team := range []*Team{alpha, beta} {
		roster, err := db.ListRoster(team.ID)
		if err != nil {
			t.Fatalf("ListRoster failed: %v", err)
		}
		found := false
		for _, p := range roster {
			if p.Name == "alice" {
				found = true
			}
		}
		if !found {
			t.Errorf("expected alice on roster of team %s", team.Name)
		}
	}
}

func TestMessage_RoundTripsArbitraryBody(t *testing.T) {
	db := setupTestDB(t)
	team, _ := db.CreateTeam("alpha")
	db.CreateAgent(team.ID, "edison", "engineer", "sonnet", "")
	db.CreateMember("alice", "")

	body := "Line 1\nLine 2\n🌍, \"quotes\", commas, commas"
	id, err := db.SendMessage(team.ID, "edison", "alice", body, KindChat)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	msgs, err := db.QueryMessages(team.ID, MessageFilter{Recipient: strptr("alice"), UnreadOnly: true})
	if err != nil {
		t.Fatalf("QueryMessages failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 unread message, got %d", len(msgs))
	}
	if msgs[0].ID != id {
		t.Errorf("id = %d, want %d", msgs[0].ID, id)
	}
	if msgs[0].Body != body {
		t.Errorf("body did not round-trip byte-for-byte:\ngot:  %q\nwant: %q", msgs[0].Body, body)
	}
	if msgs[0].CreatedAt.After(*msgs[0].DeliveredAt) {
		t.Error("created_at must be <= delivered_at")
	}
}

func TestMessage_TeamIsolation(t *testing.T) {
	db := setupTestDB(t)
	alpha, _ := db.CreateTeam("alpha")
	beta, _ := db.CreateTeam("beta")
	db.CreateMember("alice", "")

	if _, err := db.SendMessage(alpha.ID, "bob", "alice", "alpha message", KindChat); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if _, err := db.SendMessage(beta.ID, "bob", "alice", "beta message", KindChat); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	msgs, err := db.QueryMessages(alpha.ID, MessageFilter{Recipient: strptr("alice")})
	if err != nil {
		t.Fatalf("QueryMessages failed: %v", err)
	}
	for _, m := range msgs {
		if m.TeamID != alpha.ID {
			t.Errorf("message from team %d leaked into team %d query", m.TeamID, alpha.ID)
		}
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message scoped to alpha, got %d", len(msgs))
	}
}

func TestMarkSeenAndProcessed_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	team, _ := db.CreateTeam("alpha")
	db.CreateMember("alice", "")
	id, _ := db.SendMessage(team.ID, "bob", "alice", "hi", KindChat)

	if err := db.MarkSeen(team.ID, []int64{id}); err != nil {
		t.Fatalf("MarkSeen failed: %v", err)
	}
	if err := db.MarkSeen(team.ID, []int64{id}); err != nil {
		t.Fatalf("second MarkSeen failed: %v", err)
	}
	if err := db.MarkProcessed(team.ID, []int64{id}); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}
	if err := db.MarkProcessed(team.ID, []int64{id}); err != nil {
		t.Fatalf("second MarkProcessed failed: %v", err)
	}

	msgs, err := db.QueryMessages(team.ID, MessageFilter{Recipient: strptr("alice")})
	if err != nil {
		t.Fatalf("QueryMessages failed: %v", err)
	}
	m := msgs[0]
	if m.SeenAt == nil || m.ProcessedAt == nil {
		t.Fatal("expected seen_at and processed_at to be set")
	}
	if m.CreatedAt.After(*m.DeliveredAt) || m.DeliveredAt.After(*m.SeenAt) || m.SeenAt.After(*m.ProcessedAt) {
		t.Error("lifecycle timestamps must be monotonic: created <= delivered <= seen <= processed")
	}
}

func TestTask_MergeAttemptsNonDecreasing(t *testing.T) {
	db := setupTestDB(t)
	team, _ := db.CreateTeam("alpha")
	task, _ := db.CreateTask(team.ID, "fix bug", "")

	for i := 1; i <= 3; i++ {
		attempts, err := db.IncrementMergeAttempts(team.ID, task.ID, nil)
		if err != nil {
			t.Fatalf("IncrementMergeAttempts failed: %v", err)
		}
		if attempts != i {
			t.Errorf("attempts = %d, want %d", attempts, i)
		}
	}
}

func TestTask_RepoPatchMergesKeyByKey(t *testing.T) {
	db := setupTestDB(t)
	team, _ := db.CreateTeam("alpha")
	task, _ := db.CreateTask(team.ID, "fix bug", "")

	err := db.UpdateTask(team.ID, task.ID, TaskPatch{
		Repos: map[string]RepoState{"app": {Branch: "agent-1"}},
	})
	if err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	err = db.UpdateTask(team.ID, task.ID, TaskPatch{
		Repos: map[string]RepoState{"app": {Branch: "agent-1", BaseSHA: "abc123"}},
	})
	if err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}

	got, err := db.GetTask(team.ID, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Repos["app"].Branch != "agent-1" || got.Repos["app"].BaseSHA != "abc123" {
		t.Errorf("repo state = %+v, want branch=agent-1 base_sha=abc123", got.Repos["app"])
	}
}

func TestRegisterRepo_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	team, _ := db.CreateTeam("alpha")

	r1, err := db.RegisterRepo(team.ID, "app", "/repos/app", ApprovalAuto, nil)
	if err != nil {
		t.Fatalf("RegisterRepo failed: %v", err)
	}
	r2, err := db.RegisterRepo(team.ID, "app-again", "/repos/app", ApprovalManual, nil)
	if err != nil {
		t.Fatalf("second RegisterRepo failed: %v", err)
	}
	if r1.ID != r2.ID || r1.Name != r2.Name {
		t.Errorf("registering the same path twice should return the same repo, got %+v and %+v", r1, r2)
	}
}

func strptr(s string) *string { return &s }
