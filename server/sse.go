package server

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"breeze-device/breeze"
)

type sseEvent struct {
	Type    string `json:"type"`
	Payload string `json:"payload,omitempty"` // hex encoded
	Source  string `json:"source,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleEvents streams the engine's upward events as SSE. Slow clients
// lose events rather than stalling the engine.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	fmt.Fprintf(w, "event: connected\ndata: %s\n\n", s.version)
	flusher.Flush()

	ch := s.engine.Subscribe()
	defer s.engine.Unsubscribe(ch)

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			out := sseEvent{Type: ev.Type.String()}
			if len(ev.Payload) > 0 {
				out.Payload = hex.EncodeToString(ev.Payload)
			}
			if ev.Type == breeze.EventErr {
				out.Source = ev.Source.String()
				if ev.Err != nil {
					out.Error = ev.Err.Error()
				}
			}
			data, _ := json.Marshal(out)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
