package httpapi

import (
	"net/http"

	"github.com/foreman-dev/foreman/internal/store"
)

type sendMessageRequest struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	team, ok := s.teamFromPath(w, r)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body", err.Error())
		return
	}

	id, err := s.mailboxFor(team.ID).Send(req.Sender, req.Recipient, req.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "send_message_failed", "could not send message", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	team, ok := s.teamFromPath(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	var filter store.MessageFilter
	if sender := q.Get("sender"); sender != "" {
		filter.Sender = &sender
	}
	if recipient := q.Get("recipient"); recipient != "" {
		filter.Recipient = &recipient
	}
	if peer := q.Get("peer"); peer != "" {
		filter.Peer = &peer
	}
	filter.UnreadOnly = q.Get("unread_only") == "true"
	filter.PendingOnly = q.Get("pending_only") == "true"

	messages, err := s.db.QueryMessages(team.ID, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_messages_failed", "could not list messages", err.Error())
		return
	}

	out := make([]MessageResponse, len(messages))
	for i := range messages {
		out[i] = messageToResponse(&messages[i])
	}
	writeJSON(w, http.StatusOK, out)
}
