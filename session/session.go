package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/threadstream/core"
	"github.com/hupe1980/threadstream/logging"
	"github.com/hupe1980/threadstream/reducer"
	"github.com/hupe1980/threadstream/stream"
)

// HTTPClient abstracts the HTTP transport for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request describes one generation submission.
type Request struct {
	// ThreadID identifies the conversation.
	ThreadID string
	// ThreadItemID reuses an existing item id, e.g. for regeneration. Empty
	// means a fresh item is created.
	ThreadItemID string
	// ParentThreadItemID links the item to the turn it follows.
	ParentThreadItemID string
	// Query is the raw user query persisted on the item.
	Query string
	// Prompt is the retrieval-augmented prompt sent to the backend. Empty
	// falls back to Query.
	Prompt string
	// Mode selects the agent mode.
	Mode core.Mode
	// CustomInstructions are forwarded verbatim to the backend.
	CustomInstructions string
	// APIKey is the caller-supplied model key, if any.
	APIKey string
	// Authenticated selects the quota-exceeded message variant.
	Authenticated bool
	// RetrievedDocuments are attached to the item for display.
	RetrievedDocuments []core.Document
}

// generationRequest is the wire shape of the POST body.
type generationRequest struct {
	Mode               core.Mode `json:"mode"`
	Prompt             string    `json:"prompt"`
	ThreadID           string    `json:"threadId"`
	ThreadItemID       string    `json:"threadItemId"`
	ParentThreadItemID string    `json:"parentThreadItemId,omitempty"`
	CustomInstructions string    `json:"customInstructions,omitempty"`
	APIKey             string    `json:"apiKey,omitempty"`
}

// Options holds dependency + configuration overrides passed to NewManager().
type Options struct {
	// HTTPClient performs the generation requests.
	HTTPClient HTTPClient
	// Credits, when set, is refreshed after every terminal transition.
	Credits core.CreditService
	// CreditRefreshDelay defers the post-terminal credit refresh.
	CreditRefreshDelay time.Duration
	// FlushInterval bounds the reducer's checkpoint cadence.
	FlushInterval time.Duration
	// MaxConcurrent limits concurrently running sessions. 0 means unlimited.
	MaxConcurrent int
	// ScannerOptions are forwarded to the stream scanner.
	ScannerOptions []func(o *stream.Options)
	// Logger receives lifecycle and failure logs.
	Logger logging.Logger
}

// Manager starts, tracks, and cancels generation sessions. One session is
// active per thread item: submitting again for the same item cancels the
// previous run first. Public methods are safe for concurrent use.
type Manager struct {
	endpoint string
	store    core.ItemStore
	opts     Options
	sem      chan struct{}

	mu     sync.Mutex
	active map[string]*activeRun
	wg     sync.WaitGroup
}

// activeRun tracks one in-flight session. superseded is set when a newer
// submission for the same thread item replaces this run; the replaced run
// skips its terminal flush so it cannot clobber the successor's store state,
// and only the run that still owns the registry entry removes it.
type activeRun struct {
	cancel     context.CancelFunc
	superseded atomic.Bool
}

// NewManager constructs a Manager posting generation requests to endpoint and
// checkpointing item state to store.
func NewManager(endpoint string, store core.ItemStore, optFns ...func(o *Options)) *Manager {
	opts := Options{
		HTTPClient:         http.DefaultClient,
		CreditRefreshDelay: time.Second,
		FlushInterval:      time.Second,
		Logger:             logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	m := &Manager{
		endpoint: endpoint,
		store:    store,
		opts:     opts,
		active:   make(map[string]*activeRun),
	}
	if opts.MaxConcurrent > 0 {
		m.sem = make(chan struct{}, opts.MaxConcurrent)
	}
	return m
}

// Submit creates the QUEUED thread item, persists it and starts the
// generation run asynchronously. The returned item is the caller's handle;
// every failure past this point is reported through the item's own state, not
// through an error. Submitting for an item that already has an active session
// cancels that session first.
func (m *Manager) Submit(ctx context.Context, req Request) (*core.ThreadItem, error) {
	if req.ThreadID == "" {
		return nil, fmt.Errorf("submit: missing thread id")
	}
	if req.Query == "" {
		return nil, fmt.Errorf("submit: missing query")
	}

	item := core.NewThreadItem(req.ThreadID, req.Query, req.Mode)
	if req.ThreadItemID != "" {
		item.ID = req.ThreadItemID
	}
	item.ParentID = req.ParentThreadItemID
	item.RetrievedDocuments = append([]core.Document(nil), req.RetrievedDocuments...)

	if err := m.store.Upsert(ctx, *item); err != nil {
		return nil, fmt.Errorf("persist queued item: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	ar := &activeRun{cancel: cancel}
	m.mu.Lock()
	if prev, ok := m.active[item.ID]; ok {
		prev.superseded.Store(true)
		prev.cancel()
	}
	m.active[item.ID] = ar
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(runCtx, ar, item, req)

	return item.Clone(), nil
}

// Cancel aborts the active session for the given thread item.
func (m *Manager) Cancel(threadItemID string) error {
	m.mu.Lock()
	ar, exists := m.active[threadItemID]
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("session for thread item %s not found", threadItemID)
	}

	ar.cancel()
	return nil
}

// Wait blocks until every started session has finished. Intended for tests
// and graceful shutdown.
func (m *Manager) Wait() { m.wg.Wait() }

func (m *Manager) run(ctx context.Context, ar *activeRun, item *core.ThreadItem, req Request) {
	defer m.wg.Done()
	defer func() {
		// A resubmission for the same item may have registered its own run
		// under this key; only the current owner removes the entry.
		m.mu.Lock()
		if cur, ok := m.active[item.ID]; ok && cur == ar {
			delete(m.active, item.ID)
		}
		m.mu.Unlock()
	}()

	logger := m.opts.Logger

	red := reducer.New(m.store, func(o *reducer.Options) {
		o.Seed = item
		o.FlushInterval = m.opts.FlushInterval
		o.Logger = logger
	})

	started := time.Now()
	events := 0
	finish := func(status core.Status, errMsg string) {
		m.finish(ar, red, item.ID, status, errMsg, events, time.Since(started))
	}

	if m.sem != nil {
		select {
		case m.sem <- struct{}{}:
			defer func() { <-m.sem }()
		case <-ctx.Done():
			finish(core.StatusAborted, ErrMsgAborted)
			return
		}
	}

	prompt := req.Prompt
	if prompt == "" {
		prompt = req.Query
	}
	body, err := json.Marshal(generationRequest{
		Mode:               req.Mode,
		Prompt:             prompt,
		ThreadID:           req.ThreadID,
		ThreadItemID:       item.ID,
		ParentThreadItemID: req.ParentThreadItemID,
		CustomInstructions: req.CustomInstructions,
		APIKey:             req.APIKey,
	})
	if err != nil {
		finish(core.StatusError, ErrMsgGeneric)
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		finish(core.StatusError, ErrMsgGeneric)
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := m.opts.HTTPClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			finish(core.StatusAborted, ErrMsgAborted)
			return
		}
		logger.Error("generation request failed", "thread_item_id", item.ID, "error", err)
		finish(core.StatusError, ErrMsgGeneric)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := ErrMsgGeneric
		if resp.StatusCode == http.StatusTooManyRequests {
			qe := &QuotaError{Authenticated: req.Authenticated}
			msg = qe.Message()
		}
		logger.Warn("generation request rejected", "thread_item_id", item.ID, "status_code", resp.StatusCode)
		finish(core.StatusError, msg)
		return
	}
	if resp.Body == nil {
		finish(core.StatusError, ErrMsgGeneric)
		return
	}

	red.SetStatus(core.StatusGenerating, "")
	if err := red.Flush(ctx); err != nil {
		logger.Warn("generating checkpoint failed", "thread_item_id", item.ID, "error", err)
	}

	scannerOpts := append([]func(o *stream.Options){func(o *stream.Options) {
		o.Logger = logger
	}}, m.opts.ScannerOptions...)
	sc := stream.NewScanner(resp.Body, scannerOpts...)

	for sc.Next() {
		if ctx.Err() != nil {
			finish(core.StatusAborted, ErrMsgAborted)
			return
		}
		events++
		state, err := red.Apply(ctx, sc.Event())
		if err != nil {
			logger.Warn("event checkpoint failed", "thread_item_id", item.ID, "error", err)
		}
		if state.Status.Terminal() {
			finish(state.Status, "")
			return
		}
	}

	if ctx.Err() != nil || errors.Is(sc.Err(), context.Canceled) {
		finish(core.StatusAborted, ErrMsgAborted)
		return
	}
	if err := sc.Err(); err != nil {
		logger.Error("stream read failed", "thread_item_id", item.ID, "error", err)
		finish(core.StatusError, ErrMsgGeneric)
		return
	}

	// Stream ended without a terminal done event.
	logger.Warn("stream closed before done event", "thread_item_id", item.ID)
	finish(core.StatusError, ErrMsgGeneric)
}

// finish records the terminal transition, flushes the final state and
// schedules the deferred credit refresh. The accumulator is dropped with the
// session goroutine. A superseded run discards its terminal state entirely:
// the replacing session now owns the item's store entry.
func (m *Manager) finish(ar *activeRun, red *reducer.Reducer, threadItemID string, status core.Status, errMsg string, events int, dur time.Duration) {
	if ar.superseded.Load() {
		m.opts.Logger.Info("session superseded, discarding terminal state", "thread_item_id", threadItemID)
		return
	}

	if errMsg != "" || !red.Item().Status.Terminal() {
		red.SetStatus(status, errMsg)
	}
	if err := red.Flush(context.Background()); err != nil {
		m.opts.Logger.Error("final checkpoint failed", "thread_item_id", threadItemID, "error", err)
	}

	var failure error
	if status == core.StatusError {
		msg := errMsg
		if msg == "" {
			msg = red.Item().Error
		}
		failure = errors.New(msg)
	}
	logging.LogStreamSession(m.opts.Logger, string(status), events, dur, failure)

	if m.opts.Credits != nil {
		time.AfterFunc(m.opts.CreditRefreshDelay, func() {
			if err := m.opts.Credits.Refresh(context.Background()); err != nil {
				m.opts.Logger.Warn("credit refresh failed", "error", err)
			}
		})
	}
}
