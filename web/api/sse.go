package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/forcetools/orgupgrader/internal/domain"
)

// heartbeatInterval keeps idle SSE connections from being reaped by
// proxies
const heartbeatInterval = 15 * time.Second

func (s *Server) sseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("session")
		if !validSessionID(sessionID) {
			writeError(w, http.StatusBadRequest, "session query parameter required")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming not supported", http.StatusInternalServerError)
			return
		}

		// Set SSE headers
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		events, cancel := s.channel.Subscribe(sessionID)
		defer cancel()

		// Replay recent events so late subscribers catch up
		for _, ev := range s.channel.Replay(sessionID) {
			writeSSE(w, ev.Type, ev)
		}
		flusher.Flush()

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-heartbeat.C:
				fmt.Fprint(w, ": heartbeat\n\n")
				flusher.Flush()
			case ev, open := <-events:
				if !open {
					return
				}
				writeSSE(w, ev.Type, ev)
				flusher.Flush()
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, eventType domain.EventType, data interface{}) {
	payload, _ := json.Marshal(data)
	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", payload)
}
