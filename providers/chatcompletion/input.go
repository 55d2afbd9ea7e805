package chatcompletion

import (
	"fmt"

	"github.com/modelrelay/relay"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"
)

// BuildParams converts a relay request to OpenAI chat completion params.
// Unsupported content parts fail fast before any streaming begins.
func BuildParams(req relay.Request) (openai.ChatCompletionNewParams, error) {
	params := openai.ChatCompletionNewParams{}
	params.Model = req.Model

	if req.SystemPrompt != "" {
		params.Messages = append(params.Messages, openai.SystemMessage(req.SystemPrompt))
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case relay.RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(msg.Content))
		case relay.RoleUser:
			converted, err := convertUserMessage(msg)
			if err != nil {
				return params, err
			}
			params.Messages = append(params.Messages, converted)
		case relay.RoleAssistant:
			params.Messages = append(params.Messages, convertAssistantMessage(msg))
		case relay.RoleTool:
			params.Messages = append(params.Messages, convertToolMessage(msg))
		default:
			return params, fmt.Errorf("chatcompletion: unknown role %q", msg.Role)
		}
	}

	for _, tool := range req.Tools {
		params.Tools = append(params.Tools, convertToolSpec(tool))
	}
	if len(params.Tools) > 0 {
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: openai.String("auto"),
		}
		params.ParallelToolCalls = openai.Bool(true)
	}

	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}
	if req.MaxOutputTokens != nil {
		params.MaxTokens = openai.Int(int64(*req.MaxOutputTokens))
	}

	return params, nil
}

func convertUserMessage(m relay.Message) (openai.ChatCompletionMessageParamUnion, error) {
	if len(m.Parts) == 0 {
		return openai.UserMessage(m.Content), nil
	}

	var parts []openai.ChatCompletionContentPartUnionParam
	if m.Content != "" {
		parts = append(parts, openai.TextContentPart(m.Content))
	}
	for _, part := range m.Parts {
		switch p := part.(type) {
		case relay.TextPart:
			parts = append(parts, openai.TextContentPart(p.Text))
		case relay.ImagePart:
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: formatDataURL(p.MimeType, p.DataB64),
			}))
		default:
			return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("%w: chat completions accepts text and image parts only", relay.ErrUnsupportedPart)
		}
	}
	if len(parts) == 0 {
		parts = append(parts, openai.TextContentPart(""))
	}

	return openai.UserMessage(parts), nil
}

func convertAssistantMessage(m relay.Message) openai.ChatCompletionMessageParamUnion {
	msg := openai.ChatCompletionAssistantMessageParam{
		Role: "assistant",
	}

	if m.Content != "" {
		msg.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: openai.String(m.Content),
		}
	}

	for _, call := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: call.CallID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      call.Name,
					Arguments: call.ArgsJSON,
				},
			},
		})
	}

	return openai.ChatCompletionMessageParamUnion{OfAssistant: &msg}
}

func convertToolMessage(m relay.Message) openai.ChatCompletionMessageParamUnion {
	content := m.Content
	if content == "" {
		content = "<system-reminder>Tool ran without output or errors</system-reminder>"
	}
	return openai.ToolMessage(content, m.ToolCallID)
}

func convertToolSpec(spec relay.ToolSpec) openai.ChatCompletionToolUnionParam {
	return openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
		Name:        spec.Name,
		Description: openai.String(spec.Description),
		Parameters:  shared.FunctionParameters(spec.Parameters),
	})
}

func formatDataURL(mimeType, dataB64 string) string {
	return "data:" + mimeType + ";base64," + dataB64
}
