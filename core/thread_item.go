package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status captures the lifecycle state of a ThreadItem. A freshly submitted
// item starts QUEUED, moves to GENERATING once the request is in flight and
// ends in exactly one of the terminal states.
type Status string

const (
	// StatusQueued marks an item whose request has been constructed but not sent.
	StatusQueued Status = "QUEUED"
	// StatusGenerating marks an item whose stream is being consumed.
	StatusGenerating Status = "GENERATING"
	// StatusAborted marks an item cancelled by the caller. Terminal.
	StatusAborted Status = "ABORTED"
	// StatusError marks an item whose request or stream failed. Terminal.
	StatusError Status = "ERROR"
	// StatusCompleted marks an item that received the terminal done event. Terminal.
	StatusCompleted Status = "COMPLETED"
)

// Terminal reports whether the status is final. No further events are applied
// to an item once it reaches a terminal status.
func (s Status) Terminal() bool {
	switch s {
	case StatusAborted, StatusError, StatusCompleted:
		return true
	}
	return false
}

// Mode identifies the agent mode a thread item was generated with. The set is
// open-ended; unknown modes pass through untouched.
type Mode string

const (
	// ModeChat is the default conversational mode.
	ModeChat Mode = "chat"
	// ModeDeepResearch enables the multi-step research workflow.
	ModeDeepResearch Mode = "deep-research"
	// ModePro enables the strongest available model.
	ModePro Mode = "pro"
)

// Answer is the incrementally reconstructed model response. Text only ever
// grows by append while the owning item is non-terminal.
type Answer struct {
	Text      string `json:"text"`
	FinalText string `json:"finalText,omitempty"`
	Status    string `json:"status,omitempty"`
}

// Document is a retrieved corpus passage paired with its relevance score.
// Ephemeral: recomputed per query and persisted only as part of the owning
// ThreadItem.
type Document struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Step is a single unit of agent progress surfaced by steps events.
type Step struct {
	ID     string `json:"id,omitempty"`
	Text   string `json:"text,omitempty"`
	Status string `json:"status,omitempty"`
}

// Source is a citation reference surfaced by sources events.
type Source struct {
	Index   int    `json:"index,omitempty"`
	Title   string `json:"title,omitempty"`
	Link    string `json:"link,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// ToolCall describes a tool invocation requested during generation.
type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult captures the outcome of a previously surfaced tool call.
type ToolResult struct {
	ID     string          `json:"id,omitempty"`
	Name   string          `json:"name,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ThreadItem is one conversational turn's accumulated state: the user query,
// the streamed answer and all auxiliary fields reconstructed from the event
// stream.
//
// Contract:
//   - UpdatedAt is monotonically non-decreasing
//   - CreatedAt is set once on creation and never changed
//   - Answer.Text grows by append only until Status becomes terminal
type ThreadItem struct {
	ID                 string         `json:"id"`
	ThreadID           string         `json:"threadId"`
	ParentID           string         `json:"parentId,omitempty"`
	Query              string         `json:"query"`
	Mode               Mode           `json:"mode,omitempty"`
	Status             Status         `json:"status"`
	Answer             Answer         `json:"answer"`
	Error              string         `json:"error,omitempty"`
	Steps              []Step         `json:"steps,omitempty"`
	Sources            []Source       `json:"sources,omitempty"`
	Suggestions        []string       `json:"suggestions,omitempty"`
	ToolCalls          []ToolCall     `json:"toolCalls,omitempty"`
	ToolResults        []ToolResult   `json:"toolResults,omitempty"`
	Object             map[string]any `json:"object,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	RetrievedDocuments []Document     `json:"retrievedDocuments,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

// NewThreadItem creates a QUEUED item for the given thread and query with a
// fresh identifier and both timestamps set to now.
func NewThreadItem(threadID, query string, mode Mode) *ThreadItem {
	now := time.Now().UTC()
	return &ThreadItem{
		ID:        NewID(),
		ThreadID:  threadID,
		Query:     query,
		Mode:      mode,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy safe for divergence from the original.
func (t *ThreadItem) Clone() *ThreadItem {
	c := *t
	c.Steps = append([]Step(nil), t.Steps...)
	c.Sources = append([]Source(nil), t.Sources...)
	c.Suggestions = append([]string(nil), t.Suggestions...)
	c.ToolCalls = append([]ToolCall(nil), t.ToolCalls...)
	c.ToolResults = append([]ToolResult(nil), t.ToolResults...)
	c.RetrievedDocuments = append([]Document(nil), t.RetrievedDocuments...)
	c.Object = cloneMap(t.Object)
	c.Metadata = cloneMap(t.Metadata)
	return &c
}

// Touch advances UpdatedAt to now, never moving it backwards.
func (t *ThreadItem) Touch(now time.Time) {
	if now.After(t.UpdatedAt) {
		t.UpdatedAt = now
	}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// NewID generates a new unique identifier for thread items and events.
func NewID() string { return uuid.NewString() }
