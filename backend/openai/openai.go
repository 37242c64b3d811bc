// Package openai provides a backend.Streamer implementation using the OpenAI
// Chat Completions API in streaming mode.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/threadstream/backend"
)

// Options configure the OpenAI streamer.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int64
}

// Streamer adapts OpenAI streaming chat completions to answer chunks.
type Streamer struct {
	client *openai.Client
	opts   Options
}

// NewStreamer creates a new OpenAI streamer using the official client.
func NewStreamer(optFns ...func(o *Options)) *Streamer {
	client := openai.NewClient()
	return NewStreamerFromClient(&client, optFns...)
}

// NewStreamerFromClient creates a new OpenAI streamer from an existing client.
func NewStreamerFromClient(client *openai.Client, optFns ...func(o *Options)) *Streamer {
	opts := Options{
		Model:       openai.ChatModelGPT4oMini,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Streamer{client: client, opts: opts}
}

// Stream implements backend.Streamer. A caller-supplied API key on the
// request overrides the client's configured key for that call.
func (s *Streamer) Stream(ctx context.Context, req backend.Request) (<-chan backend.Chunk, <-chan error) {
	out := make(chan backend.Chunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		var messages []openai.ChatCompletionMessageParamUnion
		if req.CustomInstructions != "" {
			messages = append(messages, openai.SystemMessage(req.CustomInstructions))
		}
		messages = append(messages, openai.UserMessage(req.Prompt))

		params := openai.ChatCompletionNewParams{
			Messages:            messages,
			Model:               s.opts.Model,
			Temperature:         openai.Float(s.opts.Temperature),
			MaxCompletionTokens: openai.Int(s.opts.MaxTokens),
		}

		var reqOpts []option.RequestOption
		if req.APIKey != "" {
			reqOpts = append(reqOpts, option.WithAPIKey(req.APIKey))
		}

		stream := s.client.Chat.Completions.NewStreaming(ctx, params, reqOpts...)
		for stream.Next() {
			ck := stream.Current()
			for _, ch := range ck.Choices {
				if ch.Delta.Content == "" {
					continue
				}
				select {
				case out <- backend.Chunk{Text: ch.Delta.Content}:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("openai streaming error: %w", err)
		}
	}()

	return out, errCh
}
