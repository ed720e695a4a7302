package httpapi

import (
	"net/http"
	"strconv"

	"github.com/foreman-dev/foreman/internal/store"
)

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	team, ok := s.teamFromPath(w, r)
	if !ok {
		return
	}

	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body", err.Error())
		return
	}

	task, err := s.db.CreateTask(team.ID, req.Title, req.Description)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create_task_failed", "could not create task", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, taskToResponse(team.Name, task))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	team, ok := s.teamFromPath(w, r)
	if !ok {
		return
	}

	var filter store.TaskFilter
	if status := r.URL.Query().Get("status"); status != "" {
		st := store.TaskStatus(status)
		filter.Status = &st
	}
	if dri := r.URL.Query().Get("dri"); dri != "" {
		filter.DRI = &dri
	}

	tasks, err := s.db.ListTasks(team.ID, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_tasks_failed", "could not list tasks", err.Error())
		return
	}

	out := make([]TaskResponse, len(tasks))
	for i := range tasks {
		out[i] = taskToResponse(team.Name, &tasks[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// taskFromPath resolves {team} and {id} to a *store.Team and *store.Task,
// writing the appropriate error response and returning ok=false on
// either failure.
func (s *Server) taskFromPath(w http.ResponseWriter, r *http.Request) (*store.Team, *store.Task, bool) {
	team, ok := s.teamFromPath(w, r)
	if !ok {
		return nil, nil, false
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_task_id", "task id must be an integer", r.PathValue("id"))
		return nil, nil, false
	}

	task, err := s.db.GetTask(team.ID, id)
	if err != nil {
		writeError(w, http.StatusNotFound, "task_not_found", "task not found", err.Error())
		return nil, nil, false
	}
	return team, task, true
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	team, task, ok := s.taskFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(team.Name, task))
}

type updateTaskRequest struct {
	Title       *string                      `json:"title,omitempty"`
	Description *string                      `json:"description,omitempty"`
	Repos       map[string]RepoStateResponse `json:"repos,omitempty"`
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	team, task, ok := s.taskFromPath(w, r)
	if !ok {
		return
	}

	var req updateTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body", err.Error())
		return
	}

	patch := store.TaskPatch{Title: req.Title, Description: req.Description}
	if req.Repos != nil {
		patch.Repos = make(map[string]store.RepoState, len(req.Repos))
		for name, rs := range req.Repos {
			patch.Repos[name] = store.RepoState{Branch: rs.Branch, BaseSHA: rs.BaseSHA, MergeTip: rs.MergeTip}
		}
	}

	if err := s.db.UpdateTask(team.ID, task.ID, patch); err != nil {
		writeError(w, http.StatusInternalServerError, "update_task_failed", "could not update task", err.Error())
		return
	}

	updated, err := s.db.GetTask(team.ID, task.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "update_task_failed", "could not reload task", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(team.Name, updated))
}

// transitionRequest names the workflow.Engine method to invoke and
// carries whatever extra field that method needs.
type transitionRequest struct {
	Action string `json:"action"`
	DRI    string `json:"dri,omitempty"`    // assign
	Reason string `json:"reason,omitempty"` // reject_review
}

func (s *Server) handleTransitionTask(w http.ResponseWriter, r *http.Request) {
	team, task, ok := s.taskFromPath(w, r)
	if !ok {
		return
	}

	var req transitionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body", err.Error())
		return
	}

	var err error
	switch req.Action {
	case "assign":
		var dri *store.Participant
		dri, err = s.db.GetParticipant(req.DRI)
		if err != nil {
			writeError(w, http.StatusBadRequest, "dri_not_found", "dri does not resolve to a participant", req.DRI)
			return
		}
		err = s.wf.AssignTask(team.Name, task, dri)
	case "accept":
		err = s.wf.AcceptTask(team.Name, task)
	case "declare_done":
		err = s.wf.DeclareDone(team.Name, task)
	case "approve_review":
		err = s.wf.ApproveReview(team.Name, task)
	case "reject_review":
		err = s.wf.RejectReview(team.Name, task, req.Reason)
	case "release":
		err = s.wf.Release(team.Name, task)
	case "rework":
		err = s.wf.Rework(team.Name, task)
	case "discard":
		err = s.wf.Discard(team.Name, task)
	case "complete_merge":
		err = s.wf.CompleteMerge(team.Name, task)
	case "retry_merge":
		err = s.wf.RetryMerge(team.Name, task)
	case "fail_merge":
		err = s.wf.FailMerge(team.Name, task)
	default:
		writeError(w, http.StatusBadRequest, "unknown_action", "unrecognized transition action", req.Action)
		return
	}
	if err != nil {
		writeError(w, http.StatusConflict, "transition_failed", err.Error(), req.Action)
		return
	}

	updated, err := s.db.GetTask(team.ID, task.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "transition_failed", "could not reload task", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(team.Name, updated))
}
