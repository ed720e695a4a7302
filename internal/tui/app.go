package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/foreman-dev/foreman/internal/eventbus"
	"github.com/foreman-dev/foreman/internal/store"
)

// pollInterval governs how often the dashboard re-reads team/task/roster
// state from the database between eventbus notifications.
const pollInterval = 2 * time.Second

// LogEntry is one line in the dashboard's activity feed.
type LogEntry struct {
	Timestamp time.Time
	Level     string
	Message   string
}

// teamView is the per-team snapshot the dashboard renders.
type teamView struct {
	team   store.Team
	roster []store.Participant
	tasks  []store.Task
}

// refreshMsg carries a freshly loaded snapshot of every team.
type refreshMsg struct {
	teams []teamView
	err   error
}

// notifyMsg signals that the eventbus delivered one or more events.
type notifyMsg struct{}

// App is the bubbletea model backing `foreman status --watch`: a
// read-only dashboard over the daemon's SQLite state, refreshed on a
// timer and on eventbus activity.
type App struct {
	db  *store.DB
	bus *eventbus.Bus
	sub *eventbus.Subscriber

	tabs TabBar

	teams   []teamView
	current int // index into teams
	logs    []LogEntry

	width, height int
	quitting      bool
	err           error
}

// New creates a dashboard App over db, subscribing to bus for live
// updates. Call Run to start it.
func New(db *store.DB, bus *eventbus.Bus) *App {
	bar := NewTabBar()
	bar.tabs = []string{"Tasks", "Roster", "Activity"}
	return &App{
		db:   db,
		bus:  bus,
		sub:  bus.Subscribe(),
		tabs: bar,
	}
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.reloadCmd(), a.listenCmd())
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			a.quitting = true
			a.bus.Unsubscribe(a.sub)
			return a, tea.Quit
		case "right", "l":
			if len(a.teams) > 0 {
				a.current = (a.current + 1) % len(a.teams)
			}
		case "left", "h":
			if len(a.teams) > 0 {
				a.current = (a.current - 1 + len(a.teams)) % len(a.teams)
			}
		default:
			var cmd tea.Cmd
			a.tabs, cmd = a.tabs.Update(msg)
			return a, cmd
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

	case refreshMsg:
		if msg.err != nil {
			a.err = msg.err
			a.pushLog("ERROR", msg.err.Error())
		} else {
			a.err = nil
			a.teams = msg.teams
			if a.current >= len(a.teams) {
				a.current = 0
			}
		}
		return a, tea.Tick(pollInterval, func(time.Time) tea.Msg { return a.reload() })

	case notifyMsg:
		return a, tea.Batch(a.reloadCmd(), a.listenCmd())
	}

	return a, nil
}

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return "Goodbye!\n"
	}

	header := NewHeader()
	header.SetWidth(a.width)

	var body string
	switch a.tabs.Active() {
	case 0:
		body = a.viewTasks()
	case 1:
		body = a.viewRoster()
	case 2:
		body = a.viewLogs()
	}

	footer := NewFooter()
	footer.SetWidth(a.width)
	footer.SetTaskCounts(a.taskCounts())
	if a.err != nil {
		footer.SetMessage(a.err.Error(), false)
	}

	return fmt.Sprintf("%s\n%s\n\n%s\n\n%s",
		header.View(), a.tabs.View(), body, footer.View())
}

func (a *App) taskCounts() TaskCounts {
	var c TaskCounts
	if a.current >= len(a.teams) {
		return c
	}
	for _, t := range a.teams[a.current].tasks {
		switch t.Status {
		case store.StatusDone:
			c.Done++
		case store.StatusMergeFailed, store.StatusRejected, store.StatusDiscarded:
			c.Failed++
		default:
			c.Running++
		}
	}
	return c
}

func (a *App) viewTasks() string {
	if len(a.teams) == 0 {
		return "No teams yet"
	}
	tv := a.teams[a.current]

	title := lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("%s — tasks", tv.team.Name))
	if len(tv.tasks) == 0 {
		return title + "\n  (none)"
	}

	var b strings.Builder
	b.WriteString(title + "\n")
	for _, task := range tv.tasks {
		dri := task.DRI
		if dri == "" {
			dri = "-"
		}
		fmt.Fprintf(&b, "  #%-4d [%-12s] dri=%-12s %s\n", task.ID, task.Status, dri, task.Title)
	}
	return b.String()
}

func (a *App) viewRoster() string {
	if len(a.teams) == 0 {
		return "No teams yet"
	}
	tv := a.teams[a.current]

	title := lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("%s — roster", tv.team.Name))
	if len(tv.roster) == 0 {
		return title + "\n  (none)"
	}

	var b strings.Builder
	b.WriteString(title + "\n")
	for _, p := range tv.roster {
		fmt.Fprintf(&b, "  %-20s [%-6s] %s\n", p.Name, p.Kind, p.Role)
	}
	return b.String()
}

func (a *App) viewLogs() string {
	title := lipgloss.NewStyle().Bold(true).Render("Activity")
	if len(a.logs) == 0 {
		return title + "\n  (none yet)"
	}

	start := 0
	if len(a.logs) > 30 {
		start = len(a.logs) - 30
	}

	var b strings.Builder
	b.WriteString(title + "\n")
	for _, entry := range a.logs[start:] {
		fmt.Fprintf(&b, "  %s [%s] %s\n", entry.Timestamp.Format("15:04:05"), entry.Level, entry.Message)
	}
	return b.String()
}

func (a *App) pushLog(level, msg string) {
	a.logs = append(a.logs, LogEntry{Timestamp: time.Now(), Level: level, Message: msg})
}

// reload re-reads every team's roster and tasks from the database.
func (a *App) reload() tea.Msg {
	teams, err := a.db.ListTeams()
	if err != nil {
		return refreshMsg{err: fmt.Errorf("list teams: %w", err)}
	}

	views := make([]teamView, 0, len(teams))
	for _, team := range teams {
		roster, err := a.db.ListRoster(team.ID)
		if err != nil {
			return refreshMsg{err: fmt.Errorf("list roster for %s: %w", team.Name, err)}
		}
		tasks, err := a.db.ListTasks(team.ID, store.TaskFilter{})
		if err != nil {
			return refreshMsg{err: fmt.Errorf("list tasks for %s: %w", team.Name, err)}
		}
		views = append(views, teamView{team: team, roster: roster, tasks: tasks})
	}
	return refreshMsg{teams: views}
}

func (a *App) reloadCmd() tea.Cmd {
	return func() tea.Msg { return a.reload() }
}

// listenCmd blocks until the eventbus wakes this subscriber, logs each
// drained event, and reports back so Update can trigger a reload.
func (a *App) listenCmd() tea.Cmd {
	return func() tea.Msg {
		<-a.sub.Notify()
		for _, ev := range a.sub.Drain() {
			msg := string(ev.Type)
			if ev.TaskID != 0 {
				msg = fmt.Sprintf("%s task=%d", msg, ev.TaskID)
			}
			if ev.Agent != "" {
				msg = fmt.Sprintf("%s agent=%s", msg, ev.Agent)
			}
			if ev.Error != "" {
				msg = fmt.Sprintf("%s error=%s", msg, ev.Error)
			}
			level := "INFO"
			if ev.Error != "" {
				level = "ERROR"
			}
			a.pushLog(level, msg)
		}
		return notifyMsg{}
	}
}

// Run starts the dashboard, blocking until the user quits.
func Run(ctx context.Context, db *store.DB, bus *eventbus.Bus) error {
	app := New(db, bus)
	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
