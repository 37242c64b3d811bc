// Package anthropic provides a backend.Streamer implementation using the
// Anthropic Messages API in streaming mode.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hupe1980/threadstream/backend"
)

// Options configure the Anthropic streamer.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Streamer adapts Anthropic streaming messages to answer chunks.
type Streamer struct {
	client *anthropic.Client
	opts   Options
}

// NewStreamer creates a new Anthropic streamer using the official client.
func NewStreamer(optFns ...func(o *Options)) *Streamer {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Streamer{client: &client, opts: opts}
}

// NewStreamerFromClient creates a new Anthropic streamer from an existing client.
func NewStreamerFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Streamer {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Streamer{client: client, opts: opts}
}

// Stream implements backend.Streamer.
func (s *Streamer) Stream(ctx context.Context, req backend.Request) (<-chan backend.Chunk, <-chan error) {
	out := make(chan backend.Chunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := anthropic.MessageNewParams{
			Model:       s.opts.Model,
			MaxTokens:   s.opts.MaxTokens,
			Temperature: anthropic.Float(s.opts.Temperature),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
			},
		}
		if req.CustomInstructions != "" {
			params.System = []anthropic.TextBlockParam{{Text: req.CustomInstructions}}
		}

		var reqOpts []option.RequestOption
		if req.APIKey != "" {
			reqOpts = append(reqOpts, option.WithAPIKey(req.APIKey))
		}

		stream := s.client.Messages.NewStreaming(ctx, params, reqOpts...)
		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text == "" {
						continue
					}
					select {
					case out <- backend.Chunk{Text: delta.Text}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("anthropic streaming error: %w", err)
		}
	}()

	return out, errCh
}
