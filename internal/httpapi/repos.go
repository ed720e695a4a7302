package httpapi

import (
	"net/http"

	"github.com/foreman-dev/foreman/internal/store"
)

type createRepoRequest struct {
	Name     string                 `json:"name"`
	Path     string                 `json:"path"`
	Approval string                 `json:"approval"`
	Pipeline []PipelineStepResponse `json:"pipeline,omitempty"`
}

func (s *Server) handleCreateRepo(w http.ResponseWriter, r *http.Request) {
	team, ok := s.teamFromPath(w, r)
	if !ok {
		return
	}

	var req createRepoRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body", err.Error())
		return
	}

	approval := store.Approval(req.Approval)
	if approval != store.ApprovalAuto && approval != store.ApprovalManual {
		writeError(w, http.StatusBadRequest, "invalid_approval", "approval must be auto or manual", req.Approval)
		return
	}

	pipeline := make([]store.PipelineStep, len(req.Pipeline))
	for i, st := range req.Pipeline {
		pipeline[i] = store.PipelineStep{Name: st.Name, Command: st.Command, TimeoutSeconds: st.TimeoutSeconds}
	}

	repo, err := s.db.RegisterRepo(team.ID, req.Name, req.Path, approval, pipeline)
	if err != nil {
		writeError(w, http.StatusConflict, "create_repo_failed", "could not register repo", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, repoToResponse(repo))
}

func (s *Server) handleListRepos(w http.ResponseWriter, r *http.Request) {
	team, ok := s.teamFromPath(w, r)
	if !ok {
		return
	}

	repos, err := s.db.ListRepos(team.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_repos_failed", "could not list repos", err.Error())
		return
	}

	out := make([]RepoResponse, len(repos))
	for i := range repos {
		out[i] = repoToResponse(&repos[i])
	}
	writeJSON(w, http.StatusOK, out)
}
