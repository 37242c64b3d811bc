package core

import (
	"encoding/json"
	"fmt"
)

// EventName identifies a named event on the generation stream. The set is
// closed; the demultiplexer drops frames whose name is not recognized here.
type EventName string

const (
	// EventSteps carries agent progress steps.
	EventSteps EventName = "steps"
	// EventSources carries citation sources.
	EventSources EventName = "sources"
	// EventAnswer carries an incremental answer text fragment.
	EventAnswer EventName = "answer"
	// EventError carries a stream-level error message.
	EventError EventName = "error"
	// EventStatus carries a lifecycle status update.
	EventStatus EventName = "status"
	// EventSuggestions carries follow-up question suggestions.
	EventSuggestions EventName = "suggestions"
	// EventToolCalls carries tool invocation requests.
	EventToolCalls EventName = "toolCalls"
	// EventToolResults carries tool invocation outcomes.
	EventToolResults EventName = "toolResults"
	// EventObject carries an opaque structured object.
	EventObject EventName = "object"
	// EventDone is the out-of-band terminal event closing a stream.
	EventDone EventName = "done"
)

// Known reports whether name belongs to the recognized event set.
func (n EventName) Known() bool {
	switch n {
	case EventSteps, EventSources, EventAnswer, EventError, EventStatus,
		EventSuggestions, EventToolCalls, EventToolResults, EventObject, EventDone:
		return true
	}
	return false
}

// Payload represents the typed, event-specific portion of a StreamEvent.
// Concrete payload types implement the unexported isPayload marker enabling a
// closed set, so merge logic can switch exhaustively over variants.
type Payload interface{ isPayload() }

// StepsPayload is the payload of a steps event.
type StepsPayload struct{ Steps []Step }

func (StepsPayload) isPayload() {}

// SourcesPayload is the payload of a sources event.
type SourcesPayload struct{ Sources []Source }

func (SourcesPayload) isPayload() {}

// AnswerPayload is the payload of an answer event. Text inside Answer is an
// incremental fragment, not the full accumulated answer.
type AnswerPayload struct{ Answer Answer }

func (AnswerPayload) isPayload() {}

// ErrorPayload is the payload of an error event.
type ErrorPayload struct{ Error string }

func (ErrorPayload) isPayload() {}

// StatusPayload is the payload of a status event.
type StatusPayload struct{ Status Status }

func (StatusPayload) isPayload() {}

// SuggestionsPayload is the payload of a suggestions event.
type SuggestionsPayload struct{ Suggestions []string }

func (SuggestionsPayload) isPayload() {}

// ToolCallsPayload is the payload of a toolCalls event.
type ToolCallsPayload struct{ ToolCalls []ToolCall }

func (ToolCallsPayload) isPayload() {}

// ToolResultsPayload is the payload of a toolResults event.
type ToolResultsPayload struct{ ToolResults []ToolResult }

func (ToolResultsPayload) isPayload() {}

// ObjectPayload is the payload of an object event.
type ObjectPayload struct{ Object map[string]any }

func (ObjectPayload) isPayload() {}

// DonePayload is the payload of the terminal done event. Status is "complete"
// on success or "error" when the remote workflow failed, in which case Error
// carries the failure message.
type DonePayload struct {
	Type   string
	Status string
	Error  string
}

func (DonePayload) isPayload() {}

// StreamEvent is one decoded event from the generation stream. Events are
// produced by the remote service and consumed exactly once by the reducer, in
// arrival order.
type StreamEvent struct {
	Name               EventName
	ThreadID           string
	ThreadItemID       string
	ParentThreadItemID string
	Query              string
	Mode               Mode
	Payload            Payload
}

// envelope is the common wire shape shared by every event's data object. The
// event-named field is decoded separately into the matching payload variant.
type envelope struct {
	ThreadID           string `json:"threadId"`
	ThreadItemID       string `json:"threadItemId"`
	ParentThreadItemID string `json:"parentThreadItemId"`
	Query              string `json:"query"`
	Mode               Mode   `json:"mode"`
}

// ParseStreamEvent decodes the JSON data object of a frame named name into a
// StreamEvent with the matching typed payload. The name must be Known.
func ParseStreamEvent(name EventName, data []byte) (StreamEvent, error) {
	if !name.Known() {
		return StreamEvent{}, fmt.Errorf("unknown event name %q", name)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return StreamEvent{}, fmt.Errorf("decode event envelope: %w", err)
	}

	payload, err := parsePayload(name, data)
	if err != nil {
		return StreamEvent{}, err
	}

	return StreamEvent{
		Name:               name,
		ThreadID:           env.ThreadID,
		ThreadItemID:       env.ThreadItemID,
		ParentThreadItemID: env.ParentThreadItemID,
		Query:              env.Query,
		Mode:               env.Mode,
		Payload:            payload,
	}, nil
}

func parsePayload(name EventName, data []byte) (Payload, error) {
	switch name {
	case EventSteps:
		var v struct {
			Steps []Step `json:"steps"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode steps payload: %w", err)
		}
		return StepsPayload{Steps: v.Steps}, nil
	case EventSources:
		var v struct {
			Sources []Source `json:"sources"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode sources payload: %w", err)
		}
		return SourcesPayload{Sources: v.Sources}, nil
	case EventAnswer:
		var v struct {
			Answer Answer `json:"answer"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode answer payload: %w", err)
		}
		return AnswerPayload{Answer: v.Answer}, nil
	case EventError:
		var v struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode error payload: %w", err)
		}
		return ErrorPayload{Error: v.Error}, nil
	case EventStatus:
		var v struct {
			Status Status `json:"status"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode status payload: %w", err)
		}
		return StatusPayload{Status: v.Status}, nil
	case EventSuggestions:
		var v struct {
			Suggestions []string `json:"suggestions"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode suggestions payload: %w", err)
		}
		return SuggestionsPayload{Suggestions: v.Suggestions}, nil
	case EventToolCalls:
		var v struct {
			ToolCalls []ToolCall `json:"toolCalls"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode toolCalls payload: %w", err)
		}
		return ToolCallsPayload{ToolCalls: v.ToolCalls}, nil
	case EventToolResults:
		var v struct {
			ToolResults []ToolResult `json:"toolResults"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode toolResults payload: %w", err)
		}
		return ToolResultsPayload{ToolResults: v.ToolResults}, nil
	case EventObject:
		var v struct {
			Object map[string]any `json:"object"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode object payload: %w", err)
		}
		return ObjectPayload{Object: v.Object}, nil
	case EventDone:
		var v struct {
			Type   string `json:"type"`
			Status string `json:"status"`
			Error  string `json:"error"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode done payload: %w", err)
		}
		return DonePayload{Type: v.Type, Status: v.Status, Error: v.Error}, nil
	default:
		return nil, fmt.Errorf("unknown event name %q", name)
	}
}
