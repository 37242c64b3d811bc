package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hupe1980/threadstream/core"
)

// Writer wraps an http.ResponseWriter for SSE streaming of thread-item
// events. It is the write side of the protocol the Scanner consumes.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter creates a new SSE writer and sets appropriate headers.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flusher interface")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	return &Writer{w: w, flusher: flusher}, nil
}

// WriteEvent sends one named event whose data line is the JSON encoding of
// payload, followed by the blank-line frame terminator, and flushes.
func (w *Writer) WriteEvent(name core.EventName, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if _, err := fmt.Fprintf(w.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// WriteDone sends the terminal done event.
func (w *Writer) WriteDone(threadID, threadItemID, status, errMsg string) error {
	payload := map[string]any{
		"type":         "done",
		"status":       status,
		"threadId":     threadID,
		"threadItemId": threadItemID,
	}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	return w.WriteEvent(core.EventDone, payload)
}
