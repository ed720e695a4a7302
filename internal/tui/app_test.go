package tui

import (
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/foreman-dev/foreman/internal/eventbus"
	"github.com/foreman-dev/foreman/internal/store"
)

func setupApp(t *testing.T) (*App, *store.DB, *eventbus.Bus) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	bus := eventbus.New()
	app := New(db, bus)
	t.Cleanup(func() { bus.Unsubscribe(app.sub) })
	return app, db, bus
}

func TestApp_QuitOnQ(t *testing.T) {
	app, _, _ := setupApp(t)

	model, cmd := app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	a := model.(*App)
	if !a.quitting {
		t.Fatal("expected quitting to be true after 'q'")
	}
	if cmd == nil {
		t.Fatal("expected tea.Quit command")
	}
}

func TestApp_WindowSizeMsg(t *testing.T) {
	app, _, _ := setupApp(t)

	model, _ := app.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	a := model.(*App)
	if a.width != 100 || a.height != 40 {
		t.Fatalf("expected width=100 height=40, got width=%d height=%d", a.width, a.height)
	}
}

func TestApp_ReloadReflectsStoreState(t *testing.T) {
	app, db, _ := setupApp(t)

	team, err := db.CreateTeam("widgets")
	if err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	if _, err := db.CreateTask(team.ID, "fix bug", "desc"); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	msg := app.reload()
	refreshed, ok := msg.(refreshMsg)
	if !ok {
		t.Fatalf("expected refreshMsg, got %T", msg)
	}
	if refreshed.err != nil {
		t.Fatalf("reload returned error: %v", refreshed.err)
	}
	if len(refreshed.teams) != 1 {
		t.Fatalf("expected 1 team, got %d", len(refreshed.teams))
	}
	if len(refreshed.teams[0].tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(refreshed.teams[0].tasks))
	}
}

func TestApp_TabCycling(t *testing.T) {
	app, _, _ := setupApp(t)

	model, _ := app.Update(tea.KeyMsg{Type: tea.KeyTab})
	a := model.(*App)
	if a.tabs.Active() != 1 {
		t.Fatalf("expected active tab 1 after tab key, got %d", a.tabs.Active())
	}
}

func TestApp_ViewDoesNotPanicWithNoTeams(t *testing.T) {
	app, _, _ := setupApp(t)
	_ = app.View()
}
