package httpapi

import (
	"time"

	"github.com/foreman-dev/foreman/internal/store"
)

// TeamResponse is the wire shape of a store.Team.
type TeamResponse struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func teamToResponse(t *store.Team) TeamResponse {
	return TeamResponse{Name: t.Name, CreatedAt: t.CreatedAt}
}

// ParticipantResponse is the wire shape of a store.Participant.
type ParticipantResponse struct {
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Role      string    `json:"role,omitempty"`
	Model     string    `json:"model,omitempty"`
	Bio       string    `json:"bio,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func participantToResponse(p *store.Participant) ParticipantResponse {
	return ParticipantResponse{
		Name: p.Name, Kind: string(p.Kind), Role: p.Role,
		Model: p.Model, Bio: p.Bio, CreatedAt: p.CreatedAt,
	}
}

// PipelineStepResponse is the wire shape of a store.PipelineStep.
type PipelineStepResponse struct {
	Name           string `json:"name"`
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// RepoResponse is the wire shape of a store.Repo.
type RepoResponse struct {
	Name      string                 `json:"name"`
	Path      string                 `json:"path"`
	Approval  string                 `json:"approval"`
	Pipeline  []PipelineStepResponse `json:"pipeline,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

func repoToResponse(r *store.Repo) RepoResponse {
	steps := make([]PipelineStepResponse, len(r.Pipeline))
	for i, st := range r.Pipeline {
		steps[i] = PipelineStepResponse{Name: st.Name, Command: st.Command, TimeoutSeconds: st.TimeoutSeconds}
	}
	return RepoResponse{
		Name: r.Name, Path: r.Path, Approval: string(r.Approval),
		Pipeline: steps, CreatedAt: r.CreatedAt,
	}
}

// RepoStateResponse is the wire shape of a store.RepoState.
type RepoStateResponse struct {
	Branch   string `json:"branch,omitempty"`
	BaseSHA  string `json:"base_sha,omitempty"`
	MergeTip string `json:"merge_tip,omitempty"`
}

// TaskResponse is the wire shape of a store.Task.
type TaskResponse struct {
	ID              int64                        `json:"id"`
	Team            string                       `json:"team"`
	Title           string                       `json:"title"`
	Description     string                       `json:"description,omitempty"`
	DRI             string                       `json:"dri,omitempty"`
	Status          string                       `json:"status"`
	Repos           map[string]RepoStateResponse `json:"repos,omitempty"`
	MergeAttempts   int                          `json:"merge_attempts"`
	RetryAfter      *time.Time                   `json:"retry_after,omitempty"`
	RejectionReason string                       `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time                    `json:"created_at"`
	UpdatedAt       time.Time                    `json:"updated_at"`
}

func taskToResponse(teamName string, t *store.Task) TaskResponse {
	repos := make(map[string]RepoStateResponse, len(t.Repos))
	for name, rs := range t.Repos {
		repos[name] = RepoStateResponse{Branch: rs.Branch, BaseSHA: rs.BaseSHA, MergeTip: rs.MergeTip}
	}
	return TaskResponse{
		ID: t.ID, Team: teamName, Title: t.Title, Description: t.Description,
		DRI: t.DRI, Status: string(t.Status), Repos: repos,
		MergeAttempts: t.MergeAttempts, RetryAfter: t.RetryAfter,
		RejectionReason: t.RejectionReason, CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt,
	}
}

// MessageResponse is the wire shape of a store.Message.
type MessageResponse struct {
	ID          int64      `json:"id"`
	Sender      string     `json:"sender"`
	Recipient   string     `json:"recipient"`
	Body        string     `json:"body"`
	Kind        string     `json:"kind"`
	CreatedAt   time.Time  `json:"created_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	SeenAt      *time.Time `json:"seen_at,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

func messageToResponse(m *store.Message) MessageResponse {
	return MessageResponse{
		ID: m.ID, Sender: m.Sender, Recipient: m.Recipient, Body: m.Body,
		Kind: string(m.Kind), CreatedAt: m.CreatedAt, DeliveredAt: m.DeliveredAt,
		SeenAt: m.SeenAt, ProcessedAt: m.ProcessedAt,
	}
}
