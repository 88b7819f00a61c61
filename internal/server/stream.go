package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// handleCommitsStream serves graph commits as Server-Sent Events: an
// initial "init" event carrying the current commit log, then a periodic
// "heartbeat" so a proxy or client can detect a dead connection without
// waiting on TCP keepalive (§6).
func (s *Server) handleCommitsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming not supported")
		return
	}

	scope := scopeFromQuery(r)
	commits, err := s.graphStore.ListCommits(r.Context(), scope)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "EVENT_LOG_UNAVAILABLE", err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeSSE(w, "init", commits)
	flusher.Flush()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			commits, err := s.graphStore.ListCommits(r.Context(), scope)
			if err != nil {
				s.logger.Warn("commits stream heartbeat: list commits failed")
				continue
			}
			writeSSE(w, "heartbeat", commits)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
