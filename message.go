package relay

import "encoding/json"

// Role is the speaker role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is the canonical conversation unit. Content carries plain text;
// Parts carries rich content (images, audio, documents) alongside or instead
// of Content. ToolCalls is set on assistant turns that requested tools;
// ToolCallID is set on tool turns and names the call the message answers.
//
// Messages are never mutated once appended to a transcript; new turns append
// new messages.
type Message struct {
	Role       Role             `json:"role"`
	Content    string           `json:"content,omitempty"`
	Parts      []Part           `json:"parts,omitempty"`
	ToolCalls  []ToolCallRecord `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user-role message.
func UserMessage(content string, parts ...Part) Message {
	return Message{Role: RoleUser, Content: content, Parts: parts}
}

// AssistantMessage builds an assistant-role message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolMessage builds a tool-role message answering the given call.
func ToolMessage(callID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID}
}

func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	aux := &struct {
		Parts []json.RawMessage `json:"parts,omitempty"`
		*alias
	}{alias: (*alias)(m)}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	parts, err := unmarshalParts(aux.Parts)
	if err != nil {
		return err
	}
	m.Parts = parts
	return nil
}
