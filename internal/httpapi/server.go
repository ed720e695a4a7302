// Package httpapi exposes internal/store and internal/workflow over a
// REST surface plus a single SSE stream tapping internal/eventbus,
// matching spec.md §4.10's boundary description: only the contracts the
// core already guarantees are surfaced here, wire schema is this
// package's own concern. Grounded on
// zjrosen-perles/internal/orchestration/controlplane/api/handler.go,
// the one place in the example pack that already wraps an in-process
// orchestration core in a stdlib net/http.ServeMux with Go 1.22+
// method-pattern routing and a hand-rolled SSE loop — that shape is
// reused here verbatim, re-pointed at foreman's own domain types.
package httpapi

import (
	"log"
	"net/http"

	"github.com/foreman-dev/foreman/internal/eventbus"
	"github.com/foreman-dev/foreman/internal/mailbox"
	"github.com/foreman-dev/foreman/internal/store"
	"github.com/foreman-dev/foreman/internal/workflow"
)

// Server wraps the core components the façade reads and mutates.
type Server struct {
	db  *store.DB
	bus *eventbus.Bus
	wf  *workflow.Engine
}

// NewServer creates a Server over the given Store, EventBus, and
// workflow Engine.
func NewServer(db *store.DB, bus *eventbus.Bus, wf *workflow.Engine) *Server {
	return &Server{db: db, bus: bus, wf: wf}
}

// Routes returns an http.Handler with every endpoint registered.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /teams", s.handleCreateTeam)
	mux.HandleFunc("GET /teams", s.handleListTeams)
	mux.HandleFunc("DELETE /teams/{team}", s.handleDeleteTeam)

	mux.HandleFunc("POST /teams/{team}/agents", s.handleCreateAgent)
	mux.HandleFunc("GET /teams/{team}/agents", s.handleListAgents)

	mux.HandleFunc("POST /members", s.handleCreateMember)
	mux.HandleFunc("GET /members", s.handleListMembers)

	mux.HandleFunc("POST /teams/{team}/repos", s.handleCreateRepo)
	mux.HandleFunc("GET /teams/{team}/repos", s.handleListRepos)

	mux.HandleFunc("POST /teams/{team}/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /teams/{team}/tasks", s.handleListTasks)
	mux.HandleFunc("GET /teams/{team}/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("PATCH /teams/{team}/tasks/{id}", s.handleUpdateTask)
	mux.HandleFunc("POST /teams/{team}/tasks/{id}/transition", s.handleTransitionTask)

	mux.HandleFunc("POST /teams/{team}/messages", s.handleSendMessage)
	mux.HandleFunc("GET /teams/{team}/messages", s.handleListMessages)

	mux.HandleFunc("GET /events", s.handleStreamEvents)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	teams, err := s.db.ListTeams()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "teams": len(teams)})
}

// teamFromPath resolves the {team} path value to a *store.Team,
// writing a 404 and returning ok=false if it doesn't exist.
func (s *Server) teamFromPath(w http.ResponseWriter, r *http.Request) (*store.Team, bool) {
	name := r.PathValue("team")
	team, err := s.db.GetTeam(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "team_not_found", "team not found", name)
		return nil, false
	}
	return team, true
}

func (s *Server) mailboxFor(teamID int64) *mailbox.Mailbox {
	return mailbox.New(s.db, teamID)
}

func logServerError(op string, err error) {
	log.Printf("[httpapi] %s: %v", op, err)
}
