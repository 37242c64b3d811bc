package testutil

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FrameBuilder helps construct SSE frames with fluent chaining for tests.
// Example:
//
//	frame := NewFrameBuilder("answer").Thread("t1", "i1").Field("answer", map[string]any{"text": "hi"}).Build()
//
// Chain only the parts you need; the data object always carries the thread
// identifiers set via Thread.
type FrameBuilder struct {
	event  string
	fields map[string]any
}

// NewFrameBuilder creates a builder for a frame with the given event name.
func NewFrameBuilder(event string) *FrameBuilder {
	return &FrameBuilder{event: event, fields: map[string]any{}}
}

// Thread sets the threadId and threadItemId envelope fields (chainable).
func (b *FrameBuilder) Thread(threadID, threadItemID string) *FrameBuilder {
	b.fields["threadId"] = threadID
	b.fields["threadItemId"] = threadItemID
	return b
}

// Parent sets the parentThreadItemId envelope field (chainable).
func (b *FrameBuilder) Parent(parentID string) *FrameBuilder {
	b.fields["parentThreadItemId"] = parentID
	return b
}

// Field sets an arbitrary data object field (chainable).
func (b *FrameBuilder) Field(key string, value any) *FrameBuilder {
	b.fields[key] = value
	return b
}

// AnswerText is shorthand for Field("answer", {"text": text}) (chainable).
func (b *FrameBuilder) AnswerText(text string) *FrameBuilder {
	return b.Field("answer", map[string]any{"text": text})
}

// Build renders the complete frame including the blank-line terminator.
func (b *FrameBuilder) Build() string {
	data, err := json.Marshal(b.fields)
	if err != nil {
		panic(fmt.Sprintf("testutil: marshal frame data: %v", err))
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", b.event, data)
}

// BuildDataFirst renders the frame with the data line before the event line.
func (b *FrameBuilder) BuildDataFirst() string {
	data, err := json.Marshal(b.fields)
	if err != nil {
		panic(fmt.Sprintf("testutil: marshal frame data: %v", err))
	}
	return fmt.Sprintf("data: %s\nevent: %s\n\n", data, b.event)
}

// AnswerFrames renders one answer frame per fragment for the given thread.
func AnswerFrames(threadID, threadItemID string, fragments ...string) string {
	var sb strings.Builder
	for _, f := range fragments {
		sb.WriteString(NewFrameBuilder("answer").Thread(threadID, threadItemID).AnswerText(f).Build())
	}
	return sb.String()
}

// DoneFrame renders a terminal done frame with the given status.
func DoneFrame(threadID, threadItemID, status string) string {
	return NewFrameBuilder("done").
		Thread(threadID, threadItemID).
		Field("type", "done").
		Field("status", status).
		Build()
}
