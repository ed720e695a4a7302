package dispatcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/foreman-dev/foreman/internal/eventbus"
	"github.com/foreman-dev/foreman/internal/session"
	"github.com/foreman-dev/foreman/internal/store"
	"github.com/foreman-dev/foreman/internal/worktreelock"
)

// blockingExecutor holds every turn open until release is closed, so a
// test can observe how many turns are concurrently in flight before
// letting them complete.
type blockingExecutor struct {
	release  chan struct{}
	inFlight int64
	peak     int64
	mu       sync.Mutex
}

func newBlockingExecutor() *blockingExecutor {
	return &blockingExecutor{release: make(chan struct{})}
}

func (b *blockingExecutor) Turn(ctx context.Context, req session.TurnRequest) (session.TurnResult, error) {
	n := atomic.AddInt64(&b.inFlight, 1)
	b.mu.Lock()
	if n > b.peak {
		b.peak = n
	}
	b.mu.Unlock()
	<-b.release
	atomic.AddInt64(&b.inFlight, -1)
	return session.TurnResult{Text: "done", ExternalHandle: "h"}, nil
}

// TestSimulate_AdmissionControlCapsGlobalConcurrency drives several teams'
// worth of eligible agents through one dispatch cycle and asserts the
// number of turns ever concurrently in flight never exceeds
// cfg.MaxConcurrent, regardless of how many agents were eligible overall,
// matching spec.md §4.7 step 2's global admission cap.
func TestSimulate_AdmissionControlCapsGlobalConcurrency(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.CreateMember("hannah", ""); err != nil {
		t.Fatalf("CreateMember failed: %v", err)
	}

	const teams, agentsPerTeam = 3, 3
	for ti := 0; ti < teams; ti++ {
		team, err := db.CreateTeam(fmt.Sprintf("team%d", ti))
		if err != nil {
			t.Fatalf("CreateTeam failed: %v", err)
		}
		for ai := 0; ai < agentsPerTeam; ai++ {
			name := fmt.Sprintf("agent%d-%d", ti, ai)
			if _, err := db.CreateAgent(team.ID, name, "builder", "", ""); err != nil {
				t.Fatalf("CreateAgent failed: %v", err)
			}
			if _, err := db.SendMessage(team.ID, "hannah", name, "go", store.KindChat); err != nil {
				t.Fatalf("SendMessage failed: %v", err)
			}
		}
	}

	exec := newBlockingExecutor()
	const maxConcurrent = 4
	d := New(db, eventbus.New(), exec, worktreelock.New(), Config{MaxConcurrent: maxConcurrent, Interval: time.Hour})

	d.cycle(context.Background())

	// Give the launched goroutines time to reach the blocking Turn call.
	deadline := time.After(2 * time.Second)
	for {
		if atomic.LoadInt64(&exec.inFlight) >= maxConcurrent {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("turns never reached the admission cap: inFlight=%d, want %d", atomic.LoadInt64(&exec.inFlight), maxConcurrent)
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(exec.release)
	d.Wait()

	exec.mu.Lock()
	peak := exec.peak
	exec.mu.Unlock()
	if peak > maxConcurrent {
		t.Errorf("peak concurrent turns = %d, want <= %d", peak, maxConcurrent)
	}
}

// TestSimulate_RotationPersistsMemoryAcrossDispatcherCycles sends one
// turn through the Dispatcher's Session for an agent, rotates that
// Session explicitly, and asserts the resulting summary is persisted to
// the Store so a restarted daemon would pick the same memory back up —
// the end-to-end version of internal/session's rotation unit tests.
func TestSimulate_RotationPersistsMemoryAcrossDispatcherCycles(t *testing.T) {
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
	if _, err := db.CreateAgent(team.ID, "edison", "builder", "", ""); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	if _, err := db.CreateMember("hannah", ""); err != nil {
		t.Fatalf("CreateMember failed: %v", err)
	}

	calls := 0
	exec := turnFunc(func(ctx context.Context, req session.TurnRequest) (session.TurnResult, error) {
		calls++
		if req.Message == "summarize yourself" {
			return session.TurnResult{Text: "S", ExternalHandle: ""}, nil
		}
		return session.TurnResult{
			Text:           "ack",
			ExternalHandle: "h",
			Usage:          session.TokenDelta{InputTokens: 200},
		}, nil
	})

	d := New(db, eventbus.New(), exec, worktreelock.New(), Config{
		Interval:       time.Hour,
		RotationPrompt: "summarize yourself",
	})
	// Force an artificially low rotation threshold the way a real
	// deployment would via Config, by going through the agent's Session
	// directly since Dispatcher.Config has no knob for it (the daemon
	// uses the Session package default); this test instead proves that
	// whatever rotation occurs is persisted, by rotating explicitly.
	agent, err := db.GetParticipant("edison")
	if err != nil {
		t.Fatalf("GetParticipant failed: %v", err)
	}
	sess := d.sessionFor(team, agent, nil)
	if _, err := sess.Send(context.Background(), "hi"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := sess.Rotate(context.Background(), ""); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	rec, err := db.GetSessionRecord(team.ID, "edison")
	if err != nil {
		t.Fatalf("GetSessionRecord failed: %v", err)
	}
	if rec.Memory != "S" {
		t.Errorf("persisted memory = %q, want %q", rec.Memory, "S")
	}
	if rec.Generation != 1 {
		t.Errorf("persisted generation = %d, want 1", rec.Generation)
	}
	if calls == 0 {
		t.Error("expected at least one turn to have run")
	}
}

type turnFunc func(ctx context.Context, req session.TurnRequest) (session.TurnResult, error)

func (f turnFunc) Turn(ctx context.Context, req session.TurnRequest) (session.TurnResult, error) {
	return f(ctx, req)
}
