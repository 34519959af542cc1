package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/taleweave/taleweave/internal/narrate"
)

// sseWriter frames [narrate.Event] values as server-sent events. The event
// type doubles as the SSE event name so clients can use addEventListener
// instead of parsing the payload.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

// newSSEWriter switches the response to an event stream. It fails when the
// underlying writer cannot flush, since buffered SSE defeats the purpose.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("server: response writer does not support streaming")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &sseWriter{w: w, f: f}, nil
}

// send writes one event frame and flushes it to the client.
func (s *sseWriter) send(ev narrate.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("server: marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return fmt.Errorf("server: write event: %w", err)
	}
	s.f.Flush()
	return nil
}
