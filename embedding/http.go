package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hupe1980/threadstream/logging"
)

// Options configure the HTTP embedding client.
type Options struct {
	// BaseURL is the full embeddings endpoint URL.
	BaseURL string
	// Model identifies the embedding model to use.
	Model string
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
	// HTTPClient allows injecting a custom transport.
	HTTPClient *http.Client
	// Logger receives per-batch call metrics.
	Logger logging.Logger
}

// HTTPClient implements Client against an embeddings endpoint speaking the
// {model, task, input} request and {data: [{embedding}]} response shape.
type HTTPClient struct {
	opts Options
}

// NewHTTPClient creates an HTTP embedding client with optional overrides.
func NewHTTPClient(optFns ...func(o *Options)) *HTTPClient {
	opts := Options{
		BaseURL:    "https://api.jina.ai/v1/embeddings",
		Model:      "jina-embeddings-v3",
		HTTPClient: http.DefaultClient,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &HTTPClient{opts: opts}
}

type embedRequest struct {
	Model string   `json:"model"`
	Task  Task     `json:"task"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed sends one batch to the embeddings endpoint. The returned records are
// index-aligned with texts; a non-2xx status or a result array shorter than
// the input is a *ServiceError for the whole batch.
func (c *HTTPClient) Embed(ctx context.Context, texts []string, task Task) (records []Record, err error) {
	if len(texts) == 0 {
		return []Record{}, nil
	}

	started := time.Now()
	defer func() {
		logging.LogEmbeddingCall(c.opts.Logger, c.opts.Model, len(texts), time.Since(started), err)
	}()

	body, err := json.Marshal(embedRequest{Model: c.opts.Model, Task: task, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, &ServiceError{Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ServiceError{Message: "read response body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ServiceError{StatusCode: resp.StatusCode, Message: string(raw)}
	}

	var parsed embedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &ServiceError{Message: "decode response", Err: err}
	}
	if parsed.Error != nil {
		return nil, &ServiceError{Message: parsed.Error.Message}
	}
	if len(parsed.Data) < len(texts) {
		return nil, &ServiceError{Message: fmt.Sprintf("short result array: got %d embeddings for %d inputs", len(parsed.Data), len(texts))}
	}

	records = make([]Record, len(texts))
	for i, text := range texts {
		records[i] = Record{Text: text, Vector: parsed.Data[i].Embedding}
	}
	return records, nil
}
