package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/foreman-dev/foreman/internal/eventbus"
)

const heartbeatInterval = 30 * time.Second

// handleStreamEvents relays every bus event as an SSE frame until the
// client disconnects. Grounded on the one in-pack example of an SSE loop
// over an in-process hub (zjrosen-perles's controlplane API), adapted
// to eventbus's Notify/Drain polling style rather than a Go channel.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming not supported", "")
		return
	}

	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)

	fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-sub.Notify():
			for _, ev := range sub.Drain() {
				if !writeEvent(w, ev) {
					continue
				}
				flusher.Flush()
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, ev eventbus.Event) bool {
	data, err := json.Marshal(eventToJSON(ev))
	if err != nil {
		logServerError("marshal sse event", err)
		return false
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return true
}

func eventToJSON(ev eventbus.Event) map[string]any {
	out := map[string]any{
		"type":      string(ev.Type),
		"timestamp": ev.Timestamp,
	}
	if ev.Team != "" {
		out["team"] = ev.Team
	}
	if ev.Agent != "" {
		out["agent"] = ev.Agent
	}
	if ev.TaskID != 0 {
		out["task_id"] = ev.TaskID
	}
	if ev.Sender != "" {
		out["sender"] = ev.Sender
	}
	if ev.Recipient != "" {
		out["recipient"] = ev.Recipient
	}
	if ev.Error != "" {
		out["error"] = ev.Error
	}
	return out
}
