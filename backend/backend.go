// Package backend implements the server side of the generation contract: an
// http.Handler that accepts a generation request and streams status, answer
// and done events back as SSE. Model providers plug in through the Streamer
// interface.
package backend

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hupe1980/threadstream/core"
	"github.com/hupe1980/threadstream/logging"
	"github.com/hupe1980/threadstream/stream"
)

// Request is the decoded generation request body.
type Request struct {
	Mode               core.Mode `json:"mode"`
	Prompt             string    `json:"prompt"`
	ThreadID           string    `json:"threadId"`
	ThreadItemID       string    `json:"threadItemId"`
	ParentThreadItemID string    `json:"parentThreadItemId,omitempty"`
	CustomInstructions string    `json:"customInstructions,omitempty"`
	APIKey             string    `json:"apiKey,omitempty"`
}

// Chunk is one incremental answer fragment produced by a Streamer.
type Chunk struct {
	Text string
}

// Streamer produces incremental answer fragments for a generation request.
// Implementations close both channels when the stream ends; at most one error
// is sent.
type Streamer interface {
	Stream(ctx context.Context, req Request) (<-chan Chunk, <-chan error)
}

// StreamerFunc adapts a function to the Streamer interface.
type StreamerFunc func(ctx context.Context, req Request) (<-chan Chunk, <-chan error)

// Stream implements Streamer.
func (f StreamerFunc) Stream(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	return f(ctx, req)
}

// Options configure a Handler.
type Options struct {
	// Logger receives request and stream failures.
	Logger logging.Logger
}

// Handler serves the generation endpoint. POST a Request body, receive an SSE
// stream of answer events terminated by a done event. Client disconnect stops
// the provider stream through request-context cancellation.
type Handler struct {
	streamer Streamer
	opts     Options
}

// NewHandler creates a generation handler backed by the given streamer.
func NewHandler(streamer Streamer, optFns ...func(o *Options)) *Handler {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Handler{streamer: streamer, opts: opts}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ThreadID == "" || req.ThreadItemID == "" || req.Prompt == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}

	sw, err := stream.NewWriter(w)
	if err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	logger := h.opts.Logger
	ctx := r.Context()

	if err := sw.WriteEvent(core.EventStatus, map[string]any{
		"status":       core.StatusGenerating,
		"threadId":     req.ThreadID,
		"threadItemId": req.ThreadItemID,
	}); err != nil {
		logger.Warn("status event write failed", "thread_item_id", req.ThreadItemID, "error", err)
		return
	}

	chunks, errs := h.streamer.Stream(ctx, req)

	for {
		select {
		case <-ctx.Done():
			logger.Info("client disconnected", "thread_item_id", req.ThreadItemID)
			return
		case chunk, ok := <-chunks:
			if !ok {
				select {
				case err := <-errs:
					if err != nil {
						logger.Error("provider stream failed", "thread_item_id", req.ThreadItemID, "error", err)
						_ = sw.WriteDone(req.ThreadID, req.ThreadItemID, "error", "Generation failed")
						return
					}
				default:
				}
				_ = sw.WriteDone(req.ThreadID, req.ThreadItemID, "complete", "")
				return
			}
			if chunk.Text == "" {
				continue
			}
			if err := sw.WriteEvent(core.EventAnswer, map[string]any{
				"answer":       map[string]any{"text": chunk.Text},
				"threadId":     req.ThreadID,
				"threadItemId": req.ThreadItemID,
			}); err != nil {
				logger.Warn("answer event write failed", "thread_item_id", req.ThreadItemID, "error", err)
				return
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				logger.Error("provider stream failed", "thread_item_id", req.ThreadItemID, "error", err)
				_ = sw.WriteDone(req.ThreadID, req.ThreadItemID, "error", "Generation failed")
				return
			}
		}
	}
}
