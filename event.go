package relay

import (
	"encoding/json"
	"fmt"
)

// EventType describes the kind of a canonical stream event.
type EventType string

const (
	EventContentDelta     EventType = "content_delta"
	EventThinkingDelta    EventType = "thinking_delta"
	EventToolCallFragment EventType = "tool_call_fragment"
	EventDone             EventType = "done"
	EventError            EventType = "error"
)

// Event is the vendor-neutral streaming event emitted by provider adapters.
// A stream is terminated by exactly one Done or ErrorEvent, after which the
// adapter returns io.EOF.
type Event interface {
	eventType() EventType
}

// FinishReason classifies why a model turn ended.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishError         FinishReason = "error"
)

// Usage reports token accounting for one model turn.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another turn's usage into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// ContentDelta streams a chunk of user-visible assistant text.
// Accumulated is the concatenation of all deltas so far in this stream.
type ContentDelta struct {
	ID          string `json:"id"`
	Model       string `json:"model"`
	Timestamp   int64  `json:"timestamp"`
	Delta       string `json:"delta"`
	Accumulated string `json:"accumulated"`
	Role        Role   `json:"role"`
}

func (ContentDelta) eventType() EventType { return EventContentDelta }

func (e ContentDelta) MarshalJSON() ([]byte, error) {
	type alias ContentDelta
	return json.Marshal(struct {
		Type EventType `json:"type"`
		alias
	}{EventContentDelta, alias(e)})
}

// ThinkingDelta streams provider-optional reasoning content.
// It is display-only and never enters the conversation transcript.
type ThinkingDelta struct {
	Content string `json:"content"`
}

func (ThinkingDelta) eventType() EventType { return EventThinkingDelta }

func (e ThinkingDelta) MarshalJSON() ([]byte, error) {
	type alias ThinkingDelta
	return json.Marshal(struct {
		Type EventType `json:"type"`
		alias
	}{EventThinkingDelta, alias(e)})
}

// ToolCallFragment streams one incremental piece of a tool call. Fragments
// sharing a CallID merge into a single ToolCallRecord; Index is the stable
// display ordinal assigned by the vendor (or by the adapter at first sight).
type ToolCallFragment struct {
	ID           string `json:"id"`
	Model        string `json:"model"`
	Timestamp    int64  `json:"timestamp"`
	CallID       string `json:"call_id"`
	Name         string `json:"function_name,omitempty"`
	ArgsFragment string `json:"arguments_fragment"`
	Index        int    `json:"index"`
}

func (ToolCallFragment) eventType() EventType { return EventToolCallFragment }

func (e ToolCallFragment) MarshalJSON() ([]byte, error) {
	type alias ToolCallFragment
	return json.Marshal(struct {
		Type EventType `json:"type"`
		alias
	}{EventToolCallFragment, alias(e)})
}

// Done terminates a stream normally.
type Done struct {
	ID           string       `json:"id"`
	Model        string       `json:"model"`
	Timestamp    int64        `json:"timestamp"`
	FinishReason FinishReason `json:"finish_reason"`
	Usage        *Usage       `json:"usage,omitempty"`
}

func (Done) eventType() EventType { return EventDone }

func (e Done) MarshalJSON() ([]byte, error) {
	type alias Done
	return json.Marshal(struct {
		Type EventType `json:"type"`
		alias
	}{EventDone, alias(e)})
}

// ErrorEvent terminates a stream after a transport or vendor-reported error.
type ErrorEvent struct {
	ID        string `json:"id"`
	Model     string `json:"model"`
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
}

func (ErrorEvent) eventType() EventType { return EventError }

func (e ErrorEvent) MarshalJSON() ([]byte, error) {
	type alias ErrorEvent
	return json.Marshal(struct {
		Type EventType `json:"type"`
		alias
	}{EventError, alias(e)})
}

// UnmarshalEvent decodes a JSON object into a concrete Event type.
func UnmarshalEvent(data []byte) (Event, error) {
	var raw struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	switch raw.Type {
	case EventContentDelta:
		var e ContentDelta
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case EventThinkingDelta:
		var e ThinkingDelta
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case EventToolCallFragment:
		var e ToolCallFragment
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case EventDone:
		var e Done
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case EventError:
		var e ErrorEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown event type: %s", raw.Type)
	}
}
