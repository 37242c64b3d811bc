// Package reducer merges stream events into an in-memory thread-item
// accumulator using type-specific merge rules and checkpoints the accumulated
// state to the persistence collaborator on a throttled cadence.
package reducer

import (
	"context"
	"time"

	"github.com/hupe1980/threadstream/core"
	"github.com/hupe1980/threadstream/logging"
)

// Options configure a Reducer.
type Options struct {
	// FlushInterval bounds write amplification: between the first event and
	// the terminal done event, the store sees at most one upsert per
	// interval.
	FlushInterval time.Duration
	// Seed initializes the accumulator, typically with the QUEUED item the
	// session created on submit.
	Seed *core.ThreadItem
	// Now injects a clock for tests.
	Now func() time.Time
	// Logger receives checkpoint failures.
	Logger logging.Logger
}

// Reducer owns one thread item's accumulator. Exactly one session applies
// events to it, so no locking is needed.
type Reducer struct {
	store     core.ItemStore
	opts      Options
	item      *core.ThreadItem
	lastFlush time.Time
	applied   bool
}

// New creates a Reducer flushing checkpoints to store.
func New(store core.ItemStore, optFns ...func(o *Options)) *Reducer {
	opts := Options{
		FlushInterval: time.Second,
		Now:           time.Now,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	r := &Reducer{store: store, opts: opts}
	if opts.Seed != nil {
		r.item = opts.Seed.Clone()
	}
	return r
}

// Item returns a copy of the current accumulator state, or a zero item if no
// seed was provided and no event has been applied yet.
func (r *Reducer) Item() core.ThreadItem {
	if r.item == nil {
		return core.ThreadItem{}
	}
	return *r.item.Clone()
}

// Apply merges ev into the accumulator and checkpoints per the flush cadence:
// the first event for the item and the terminal done event flush immediately,
// everything in between at most once per FlushInterval. Events arriving after
// the item reached a terminal status are ignored.
func (r *Reducer) Apply(ctx context.Context, ev core.StreamEvent) (core.ThreadItem, error) {
	now := r.opts.Now()

	if r.item == nil {
		r.item = &core.ThreadItem{
			ID:        ev.ThreadItemID,
			ThreadID:  ev.ThreadID,
			Status:    core.StatusGenerating,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	if r.item.Status.Terminal() {
		return *r.item.Clone(), nil
	}

	r.refreshIdentity(ev)
	r.merge(ev)
	r.item.Touch(now)

	first := !r.applied
	r.applied = true

	terminal := ev.Name == core.EventDone
	if first || terminal || now.Sub(r.lastFlush) >= r.opts.FlushInterval {
		if err := r.Flush(ctx); err != nil {
			return *r.item.Clone(), err
		}
	}
	return *r.item.Clone(), nil
}

// SetStatus forces a lifecycle status with an optional error message. Used by
// the session controller for failures that do not arrive as stream events
// (abort, transport errors, non-success responses).
func (r *Reducer) SetStatus(status core.Status, errMsg string) {
	if r.item == nil {
		return
	}
	r.item.Status = status
	if errMsg != "" {
		r.item.Error = errMsg
	}
	r.item.Touch(r.opts.Now())
}

// Flush unconditionally upserts the current accumulator to the store.
func (r *Reducer) Flush(ctx context.Context) error {
	if r.item == nil {
		return nil
	}
	if err := r.store.Upsert(ctx, *r.item.Clone()); err != nil {
		r.opts.Logger.Error("thread item checkpoint failed", "thread_item_id", r.item.ID, "error", err)
		return err
	}
	r.lastFlush = r.opts.Now()
	return nil
}

// refreshIdentity always refreshes the identifiers carried on the envelope,
// plus query and mode when the event supplies them.
func (r *Reducer) refreshIdentity(ev core.StreamEvent) {
	if ev.ThreadID != "" {
		r.item.ThreadID = ev.ThreadID
	}
	if ev.ThreadItemID != "" {
		r.item.ID = ev.ThreadItemID
	}
	if ev.ParentThreadItemID != "" {
		r.item.ParentID = ev.ParentThreadItemID
	}
	if ev.Query != "" {
		r.item.Query = ev.Query
	}
	if ev.Mode != "" {
		r.item.Mode = ev.Mode
	}
}

// merge applies the type-specific rule for the payload variant: answer text
// appends, every other recognized field fully replaces its accumulator slot.
func (r *Reducer) merge(ev core.StreamEvent) {
	switch p := ev.Payload.(type) {
	case core.AnswerPayload:
		merged := p.Answer
		merged.Text = r.item.Answer.Text + p.Answer.Text
		r.item.Answer = merged
	case core.StepsPayload:
		r.item.Steps = p.Steps
	case core.SourcesPayload:
		r.item.Sources = p.Sources
	case core.SuggestionsPayload:
		r.item.Suggestions = p.Suggestions
	case core.ToolCallsPayload:
		r.item.ToolCalls = p.ToolCalls
	case core.ToolResultsPayload:
		r.item.ToolResults = p.ToolResults
	case core.ObjectPayload:
		r.item.Object = p.Object
	case core.ErrorPayload:
		r.item.Error = p.Error
	case core.StatusPayload:
		r.item.Status = p.Status
	case core.DonePayload:
		if p.Status == "error" {
			r.item.Status = core.StatusError
			if p.Error != "" {
				r.item.Error = p.Error
			}
		} else {
			r.item.Status = core.StatusCompleted
		}
	}
}
