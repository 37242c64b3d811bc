// Package threadstream provides a high-level façade over the retrieval and
// streaming services (embedding, corpus, prompt composition & session
// management) enabling rapid construction of retrieval-augmented chat
// frontends. Most applications interact with this package by:
//  1. Creating a ThreadStream via New() (optionally overriding defaults)
//  2. Loading one or more knowledge corpora via LoadCorpus
//  3. Submitting queries (Submit) and observing thread items in the store
//
// The façade delegates run coordination to session.Manager while keeping
// setup and usage ergonomics concise. All defaults are safe for local
// development and testing; production deployments typically supply a durable
// ItemStore implementation and a structured logger.
package threadstream

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/hupe1980/threadstream/core"
	"github.com/hupe1980/threadstream/corpus"
	"github.com/hupe1980/threadstream/embedding"
	"github.com/hupe1980/threadstream/logging"
	"github.com/hupe1980/threadstream/prompt"
	"github.com/hupe1980/threadstream/retrieval"
	"github.com/hupe1980/threadstream/session"
	"github.com/hupe1980/threadstream/store"
)

// Options configures the ThreadStream instance.
type Options struct {
	// Embedder computes query and passage embeddings. Defaults to the HTTP
	// embedding client with its default endpoint.
	Embedder embedding.Client

	// Composer builds the retrieval-augmented prompt. Defaults to a composer
	// with the generic context instruction.
	Composer *prompt.Composer

	// Store receives thread item checkpoints (defaults to in-memory).
	Store core.ItemStore

	// Credits, when set, is refreshed after every finished session.
	Credits core.CreditService

	// TopK is the number of corpus passages retrieved per query.
	TopK int

	// SessionOptions are forwarded to the session manager.
	SessionOptions []func(o *session.Options)

	// CorpusOptions are forwarded to the corpus loader.
	CorpusOptions []func(o *corpus.Options)

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// ThreadStream is the high-level façade aggregating the retrieval pipeline
// and the session manager.
type ThreadStream struct {
	opts     Options
	embedder embedding.Client
	loader   *corpus.Loader
	composer *prompt.Composer
	manager  *session.Manager
	store    core.ItemStore

	mu      sync.RWMutex
	records []embedding.Record
}

// SubmitRequest describes one query submission through the façade.
type SubmitRequest struct {
	// ThreadID identifies the conversation. Required.
	ThreadID string
	// Query is the user's question. Required.
	Query string
	// ThreadItemID reuses an existing item id, e.g. for regeneration.
	ThreadItemID string
	// ParentThreadItemID links the item to the preceding turn.
	ParentThreadItemID string
	// Mode selects the agent mode.
	Mode core.Mode
	// CustomInstructions are forwarded to the generation backend.
	CustomInstructions string
	// APIKey is the caller-supplied model key, if any.
	APIKey string
	// Authenticated selects the quota-exceeded message variant.
	Authenticated bool
}

// New creates a ThreadStream posting generation requests to endpoint. Any
// unset service is initialized with its default implementation.
func New(endpoint string, optFns ...func(o *Options)) *ThreadStream {
	opts := Options{
		Composer: prompt.NewComposer(),
		Store:    store.NewInMemoryStore(),
		TopK:     3,
		Logger:   logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Embedder == nil {
		opts.Embedder = embedding.NewHTTPClient(func(o *embedding.Options) {
			o.Logger = opts.Logger
		})
	}

	corpusOpts := append([]func(o *corpus.Options){func(o *corpus.Options) {
		o.Logger = opts.Logger
	}}, opts.CorpusOptions...)

	sessionOpts := append([]func(o *session.Options){func(o *session.Options) {
		o.Credits = opts.Credits
		o.Logger = opts.Logger
	}}, opts.SessionOptions...)

	return &ThreadStream{
		opts:     opts,
		embedder: opts.Embedder,
		loader:   corpus.NewLoader(opts.Embedder, corpusOpts...),
		composer: opts.Composer,
		manager:  session.NewManager(endpoint, opts.Store, sessionOpts...),
		store:    opts.Store,
	}
}

// LoadCorpus parses and embeds a TSV knowledge corpus from r and makes it
// available for retrieval. Repeated loads with the same key reuse the cached
// embeddings.
func (t *ThreadStream) LoadCorpus(ctx context.Context, key string, r io.Reader) error {
	records, err := t.loader.Load(ctx, key, r)
	if err != nil {
		return fmt.Errorf("load corpus %q: %w", key, err)
	}

	t.mu.Lock()
	t.records = records
	t.mu.Unlock()

	t.opts.Logger.Info("corpus ready", "key", key, "passages", len(records))
	return nil
}

// Submit runs the retrieval pipeline for the query and starts a generation
// session. Failures before the thread item exists (embedding, prompt
// composition) fail the call synchronously; everything after is reported
// through the returned item's state in the store.
func (t *ThreadStream) Submit(ctx context.Context, req SubmitRequest) (*core.ThreadItem, error) {
	t.mu.RLock()
	records := t.records
	t.mu.RUnlock()

	var ranked []retrieval.Result

	if len(records) > 0 {
		queryRecords, err := t.embedder.Embed(ctx, []string{req.Query}, embedding.TaskQuery)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		if len(queryRecords) == 0 {
			return nil, fmt.Errorf("embed query: empty embedding response")
		}

		ranked = retrieval.Rank(queryRecords[0].Vector, records, t.opts.TopK)
	}

	// The composer runs even with no retrieved passages so the prompt keeps
	// the same shape whether or not a corpus is loaded.
	p, err := t.composer.Compose(ctx, req.Query, ranked)
	if err != nil {
		return nil, fmt.Errorf("compose prompt: %w", err)
	}

	docs := make([]core.Document, len(ranked))
	for i, res := range ranked {
		docs[i] = core.Document{Text: res.Text, Score: res.Score}
	}

	return t.manager.Submit(ctx, session.Request{
		ThreadID:           req.ThreadID,
		ThreadItemID:       req.ThreadItemID,
		ParentThreadItemID: req.ParentThreadItemID,
		Query:              req.Query,
		Prompt:             p.AugmentedQuery,
		Mode:               req.Mode,
		CustomInstructions: req.CustomInstructions,
		APIKey:             req.APIKey,
		Authenticated:      req.Authenticated,
		RetrievedDocuments: docs,
	})
}

// Cancel aborts the active session for the given thread item.
func (t *ThreadStream) Cancel(threadItemID string) error {
	return t.manager.Cancel(threadItemID)
}

// Wait blocks until every started session has finished.
func (t *ThreadStream) Wait() { t.manager.Wait() }

// Store returns the configured item store.
func (t *ThreadStream) Store() core.ItemStore { return t.store }
