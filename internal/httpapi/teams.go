package httpapi

import (
	"net/http"

	"github.com/foreman-dev/foreman/internal/store"
)

type createTeamRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	var req createTeamRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body", err.Error())
		return
	}

	team, err := s.db.CreateTeam(req.Name)
	if err != nil {
		if err == store.ErrInvalidTeamName {
			writeError(w, http.StatusBadRequest, "invalid_team_name", err.Error(), "")
			return
		}
		writeError(w, http.StatusConflict, "create_team_failed", "could not create team", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, teamToResponse(team))
}

func (s *Server) handleListTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := s.db.ListTeams()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_teams_failed", "could not list teams", err.Error())
		return
	}

	out := make([]TeamResponse, len(teams))
	for i := range teams {
		out[i] = teamToResponse(&teams[i])
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteTeam(w http.ResponseWriter, r *http.Request) {
	team, ok := s.teamFromPath(w, r)
	if !ok {
		return
	}
	if err := s.db.DeleteTeam(team.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "delete_team_failed", "could not delete team", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
