package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aristath/relay/internal/events"
)

// streamBufferSize bounds the per-connection event queue. A slow client
// loses events rather than blocking the bus.
const streamBufferSize = 64

// handleEventStream handles GET /api/events/stream (SSE).
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	// Optional type filter: ?types=ALERT_RAISED,ORDER_FILLED
	wanted := parseTypeFilter(r.URL.Query().Get("types"))

	ch := make(chan *events.Event, streamBufferSize)
	unsubs := make([]func(), 0, len(wanted))
	for _, eventType := range wanted {
		unsub := s.events.Bus().Subscribe(eventType, func(event *events.Event) {
			select {
			case ch <- event:
			default:
				s.log.Warn().
					Str("event_type", string(event.Type)).
					Msg("Stream subscriber channel full, event dropped")
			}
		})
		unsubs = append(unsubs, unsub)
	}
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}()

	s.log.Info().
		Str("remote", r.RemoteAddr).
		Int("types", len(wanted)).
		Msg("Client connected to event stream")

	done := r.Context().Done()

	// Send initial connection message
	fmt.Fprintf(w, "event: connected\n")
	fmt.Fprintf(w, "data: {\"message\": \"Connected to relay event stream\"}\n\n")
	flusher.Flush()

	// Heartbeat to keep the connection alive through proxies
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			s.log.Info().Str("remote", r.RemoteAddr).Msg("Client disconnected from event stream")
			return

		case event := <-ch:
			payload, err := json.Marshal(event)
			if err != nil {
				s.log.Error().Err(err).Msg("Failed to marshal event")
				continue
			}
			fmt.Fprintf(w, "event: %s\n", event.Type)
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()

		case <-heartbeat.C:
			fmt.Fprintf(w, "event: heartbeat\n")
			fmt.Fprintf(w, "data: {\"timestamp\": \"%s\"}\n\n", time.Now().Format(time.RFC3339))
			flusher.Flush()
		}
	}
}

// parseTypeFilter resolves a comma-separated list of event type names
// against the known types. An empty filter subscribes to everything.
func parseTypeFilter(raw string) []events.EventType {
	all := events.AllTypes()
	if raw == "" {
		return all
	}

	known := make(map[events.EventType]bool, len(all))
	for _, t := range all {
		known[t] = true
	}

	var out []events.EventType
	for _, name := range strings.Split(raw, ",") {
		if t := events.EventType(strings.TrimSpace(name)); known[t] {
			out = append(out, t)
		}
	}
	return out
}
