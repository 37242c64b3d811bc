// Package embedding provides the client contract for the external embedding
// service plus an HTTP implementation speaking the common
// {model, task, input} / {data: [{embedding}]} wire shape. Batches either
// fully succeed or fail as a whole; retry and skip decisions belong to the
// caller (typically the corpus loader).
package embedding

import "context"

// Task is the retrieval task hint sent alongside a batch. Embedding models
// produce asymmetric vectors for queries and passages, so the two must not be
// mixed within one batch.
type Task string

const (
	// TaskQuery embeds search queries.
	TaskQuery Task = "retrieval.query"
	// TaskPassage embeds corpus passages.
	TaskPassage Task = "retrieval.passage"
)

// Record pairs an input text with its computed vector. Vector length is
// model-defined and constant across a corpus; records are immutable once
// computed.
type Record struct {
	Text   string    `json:"text"`
	Vector []float64 `json:"embedding"`
}

// Client is the minimal interface for computing embeddings. Implementations
// must preserve input order and index correspondence: result[i] corresponds
// to texts[i]. A batch either fully succeeds or the whole batch fails.
type Client interface {
	Embed(ctx context.Context, texts []string, task Task) ([]Record, error)
}

// ClientFunc is a functional adapter to allow ordinary functions to be used
// as Clients.
type ClientFunc func(ctx context.Context, texts []string, task Task) ([]Record, error)

// Embed implements Client.
func (f ClientFunc) Embed(ctx context.Context, texts []string, task Task) ([]Record, error) {
	return f(ctx, texts, task)
}
