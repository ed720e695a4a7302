package router

import (
	"path/filepath"
	"testing"

	"github.com/foreman-dev/foreman/internal/eventbus"
	"github.com/foreman-dev/foreman/internal/mailbox"
	"github.com/foreman-dev/foreman/internal/store"
)

func setupRouter(t *testing.T, cfg Config) (*Router, *store.DB, *store.Team, *eventbus.Subscriber) {
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
	if _, err := db.CreateAgent(team.ID, "edison", "engineer", "claude-sonnet-4-20250514", ""); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	if _, err := db.CreateMember("hannah", ""); err != nil {
		t.Fatalf("CreateMember failed: %v", err)
	}

	bus := eventbus.New()
	sub := bus.Subscribe()
	r := New(db, bus, cfg)
	return r, db, team, sub
}

func drain(sub *eventbus.Subscriber) []eventbus.Event {
	return sub.Drain()
}

func TestRouteTeam_PublishesMessageDelivered(t *testing.T) {
	r, db, team, sub := setupRouter(t, Config{})
	mb := mailbox.New(db, team.ID)
	if _, err := mb.Send("edison", "hannah", "status update"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	r.pollOnce()

	events := drain(sub)
	var found bool
	for _, e := range events {
		if e.Type == eventbus.MessageDelivered && e.Sender == "edison" && e.Recipient == "hannah" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a MessageDelivered event, got %+v", events)
	}
}

func TestRouteTeam_ClassifiesBossBoundMessages(t *testing.T) {
	r, db, team, sub := setupRouter(t, Config{HumanMember: "hannah"})
	mb := mailbox.New(db, team.ID)
	mb.Send("edison", "hannah", "need a decision")
	mb.Send("edison", "edison", "self note") // not boss-bound

	r.pollOnce()

	events := drain(sub)
	var bossCount int
	for _, e := range events {
		if e.Type == eventbus.BossMessage {
			bossCount++
			if e.Recipient != "hannah" {
				t.Errorf("BossMessage recipient = %q, want hannah", e.Recipient)
			}
		}
	}
	if bossCount != 1 {
		t.Errorf("boss message count = %d, want 1", bossCount)
	}
}

func TestRouteTeam_BadRecipientEmitsFailureAndPreservesPayload(t *testing.T) {
	r, db, team, sub := setupRouter(t, Config{})
	mb := mailbox.New(db, team.ID)
	if _, err := mb.Send("edison", "nobody", "urgent request"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	r.pollOnce()

	events := drain(sub)
	var sawFailure bool
	for _, e := range events {
		if e.Type == eventbus.RouteFailed {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Fatalf("expected a RouteFailed event, got %+v", events)
	}

	// The original payload must survive as an event message to the
	// original sender, not be dropped.
	inbox, err := mb.ReadInbox("edison", false)
	if err != nil {
		t.Fatalf("ReadInbox failed: %v", err)
	}
	var preserved bool
	for _, m := range inbox {
		if m.Kind == store.KindEvent {
			preserved = true
		}
	}
	if !preserved {
		t.Error("expected a preserved event message in edison's inbox after the bad-recipient failure")
	}
}

func TestRouteTeam_WatermarkPreventsReDelivery(t *testing.T) {
	r, db, team, sub := setupRouter(t, Config{})
	mb := mailbox.New(db, team.ID)
	mb.Send("edison", "hannah", "first")

	r.pollOnce()
	drain(sub) // clear the first batch

	r.pollOnce() // nothing new

	events := drain(sub)
	for _, e := range events {
		if e.Type == eventbus.MessageDelivered {
			t.Errorf("message re-delivered after watermark advanced: %+v", e)
		}
	}
}
