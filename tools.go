package relay

import "context"

// ToolSpec is the declarative tool schema exposed to the model.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Parallel    bool           `json:"-"` // if true, the tool may run concurrently with other parallel tools (read-only tools, sub-agents)
}

// ToolResult is the normalized tool execution result.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Tool is an executable tool. Execute receives the frozen call record with
// complete arguments; failures are reported back to the model as error-content
// tool messages and never abort the loop.
type Tool interface {
	Spec() ToolSpec
	Execute(ctx context.Context, call ToolCallRecord) (ToolResult, error)
}
