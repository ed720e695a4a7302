package httpapi

import (
	"net/http"

	"github.com/foreman-dev/foreman/internal/store"
)

type createAgentRequest struct {
	Name  string `json:"name"`
	Role  string `json:"role"`
	Model string `json:"model"`
	Bio   string `json:"bio"`
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	team, ok := s.teamFromPath(w, r)
	if !ok {
		return
	}

	var req createAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body", err.Error())
		return
	}

	agent, err := s.db.CreateAgent(team.ID, req.Name, req.Role, req.Model, req.Bio)
	if err != nil {
		writeError(w, http.StatusConflict, "create_agent_failed", "could not create agent", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, participantToResponse(agent))
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	team, ok := s.teamFromPath(w, r)
	if !ok {
		return
	}

	agents, err := s.db.ListAgents(team.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_agents_failed", "could not list agents", err.Error())
		return
	}

	out := make([]ParticipantResponse, len(agents))
	for i := range agents {
		out[i] = participantToResponse(&agents[i])
	}
	writeJSON(w, http.StatusOK, out)
}

type createMemberRequest struct {
	Name string `json:"name"`
	Bio  string `json:"bio"`
}

func (s *Server) handleCreateMember(w http.ResponseWriter, r *http.Request) {
	var req createMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body", err.Error())
		return
	}

	member, err := s.db.CreateMember(req.Name, req.Bio)
	if err != nil {
		writeError(w, http.StatusConflict, "create_member_failed", "could not create member", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, participantToResponse(member))
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	// Members are org-global and auto-joined to every team roster, so
	// any team's roster (minus its agents) enumerates them; an empty
	// team still lists members once one exists, since CreateMember
	// joins every existing team.
	teams, err := s.db.ListTeams()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_members_failed", "could not list members", err.Error())
		return
	}
	if len(teams) == 0 {
		writeJSON(w, http.StatusOK, []ParticipantResponse{})
		return
	}

	roster, err := s.db.ListRoster(teams[0].ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_members_failed", "could not list members", err.Error())
		return
	}

	var out []ParticipantResponse
	for i := range roster {
		if roster[i].Kind == store.KindMember {
			out = append(out, participantToResponse(&roster[i]))
		}
	}
	if out == nil {
		out = []ParticipantResponse{}
	}
	writeJSON(w, http.StatusOK, out)
}
