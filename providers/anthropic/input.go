package anthropic

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/modelrelay/relay"
)

// BuildParams converts a relay request to Anthropic Messages params.
// System-role messages merge into the system prompt; tool results become
// tool_result blocks inside user messages, per the Messages API shape.
func BuildParams(req relay.Request) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(defaultMaxTokens),
	}
	if req.MaxOutputTokens != nil {
		params.MaxTokens = int64(*req.MaxOutputTokens)
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(*req.TopP)
	}

	system := req.SystemPrompt
	for _, msg := range req.Messages {
		switch msg.Role {
		case relay.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
		case relay.RoleUser:
			blocks, err := userBlocks(msg)
			if err != nil {
				return params, err
			}
			params.Messages = append(params.Messages, anthropic.NewUserMessage(blocks...))
		case relay.RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(assistantBlocks(msg)...))
		case relay.RoleTool:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(toolResultBlock(msg)))
		default:
			return params, fmt.Errorf("anthropic: unknown role %q", msg.Role)
		}
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	for _, tool := range req.Tools {
		params.Tools = append(params.Tools, convertToolSpec(tool))
	}

	return params, nil
}

func userBlocks(m relay.Message) ([]anthropic.ContentBlockParamUnion, error) {
	var blocks []anthropic.ContentBlockParamUnion
	if m.Content != "" {
		blocks = append(blocks, anthropic.NewTextBlock(m.Content))
	}
	for _, part := range m.Parts {
		switch p := part.(type) {
		case relay.TextPart:
			blocks = append(blocks, anthropic.NewTextBlock(p.Text))
		case relay.ImagePart:
			blocks = append(blocks, anthropic.NewImageBlockBase64(p.MimeType, p.DataB64))
		default:
			return nil, fmt.Errorf("%w: the messages API accepts text and image parts only", relay.ErrUnsupportedPart)
		}
	}
	if len(blocks) == 0 {
		blocks = append(blocks, anthropic.NewTextBlock(""))
	}
	return blocks, nil
}

func assistantBlocks(m relay.Message) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	if m.Content != "" {
		blocks = append(blocks, anthropic.NewTextBlock(m.Content))
	}
	for _, call := range m.ToolCalls {
		args := call.ArgsJSON
		if args == "" {
			args = "{}"
		}
		blocks = append(blocks, anthropic.ContentBlockParamUnion{
			OfToolUse: &anthropic.ToolUseBlockParam{
				ID:    call.CallID,
				Name:  call.Name,
				Input: json.RawMessage(args),
			},
		})
	}
	return blocks
}

func toolResultBlock(m relay.Message) anthropic.ContentBlockParamUnion {
	return anthropic.ContentBlockParamUnion{
		OfToolResult: &anthropic.ToolResultBlockParam{
			ToolUseID: m.ToolCallID,
			Content: []anthropic.ToolResultBlockParamContentUnion{
				{OfText: &anthropic.TextBlockParam{Text: m.Content}},
			},
		},
	}
}

func convertToolSpec(spec relay.ToolSpec) anthropic.ToolUnionParam {
	tool := anthropic.ToolParam{
		Name:        spec.Name,
		Description: anthropic.String(spec.Description),
	}
	if props, ok := spec.Parameters["properties"]; ok {
		tool.InputSchema.Properties = props
	}
	if required, ok := spec.Parameters["required"]; ok {
		tool.InputSchema.Required = toStringSlice(required)
	}
	return anthropic.ToolUnionParam{OfTool: &tool}
}

func toStringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
