package gemini

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/modelrelay/relay"
	"google.golang.org/genai"
)

// BuildParams converts a relay request to Gemini contents and generation
// config. Tool results become FunctionResponse parts on user-role contents;
// the system prompt maps to SystemInstruction.
func BuildParams(req relay.Request) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	config := &genai.GenerateContentConfig{}

	system := req.SystemPrompt
	var contents []*genai.Content
	// Gemini function responses match calls by name, so remember each
	// call id's function name from the preceding assistant turn.
	callNames := make(map[string]string)

	for _, msg := range req.Messages {
		switch msg.Role {
		case relay.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
		case relay.RoleUser:
			parts, err := userParts(msg)
			if err != nil {
				return nil, nil, err
			}
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: parts})
		case relay.RoleAssistant:
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: assistantParts(msg, callNames)})
		case relay.RoleTool:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{functionResponsePart(msg, callNames)},
			})
		default:
			return nil, nil, fmt.Errorf("gemini: unknown role %q", msg.Role)
		}
	}

	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	if len(req.Tools) > 0 {
		tool := &genai.Tool{}
		for _, spec := range req.Tools {
			tool.FunctionDeclarations = append(tool.FunctionDeclarations, &genai.FunctionDeclaration{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  mapToSchema(spec.Parameters),
			})
		}
		config.Tools = []*genai.Tool{tool}
	}

	if req.Temperature != nil {
		t := float32(*req.Temperature)
		config.Temperature = &t
	}
	if req.TopP != nil {
		p := float32(*req.TopP)
		config.TopP = &p
	}
	if req.MaxOutputTokens != nil {
		config.MaxOutputTokens = int32(*req.MaxOutputTokens)
	}

	return contents, config, nil
}

func userParts(m relay.Message) ([]*genai.Part, error) {
	var parts []*genai.Part
	if m.Content != "" {
		parts = append(parts, &genai.Part{Text: m.Content})
	}
	for _, part := range m.Parts {
		switch p := part.(type) {
		case relay.TextPart:
			parts = append(parts, &genai.Part{Text: p.Text})
		case relay.ImagePart:
			data, err := base64.StdEncoding.DecodeString(p.DataB64)
			if err != nil {
				return nil, fmt.Errorf("gemini: decode image data: %w", err)
			}
			parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: p.MimeType, Data: data}})
		case relay.AudioPart:
			data, err := base64.StdEncoding.DecodeString(p.DataB64)
			if err != nil {
				return nil, fmt.Errorf("gemini: decode audio data: %w", err)
			}
			parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: p.MimeType, Data: data}})
		default:
			return nil, fmt.Errorf("%w: gemini accepts text, image and audio parts", relay.ErrUnsupportedPart)
		}
	}
	if len(parts) == 0 {
		parts = append(parts, &genai.Part{Text: ""})
	}
	return parts, nil
}

func assistantParts(m relay.Message, callNames map[string]string) []*genai.Part {
	var parts []*genai.Part
	if m.Content != "" {
		parts = append(parts, &genai.Part{Text: m.Content})
	}
	for _, call := range m.ToolCalls {
		args := make(map[string]any)
		if call.ArgsJSON != "" {
			// Malformed arguments round-trip as a raw string rather than
			// dropping the call.
			if err := json.Unmarshal([]byte(call.ArgsJSON), &args); err != nil {
				args = map[string]any{"raw": call.ArgsJSON}
			}
		}
		callNames[call.CallID] = call.Name
		parts = append(parts, &genai.Part{
			FunctionCall: &genai.FunctionCall{
				ID:   call.CallID,
				Name: call.Name,
				Args: args,
			},
		})
	}
	return parts
}

func functionResponsePart(m relay.Message, callNames map[string]string) *genai.Part {
	return &genai.Part{
		FunctionResponse: &genai.FunctionResponse{
			ID:       m.ToolCallID,
			Name:     callNames[m.ToolCallID],
			Response: map[string]any{"output": m.Content},
		},
	}
}

func mapToSchema(params map[string]any) *genai.Schema {
	if len(params) == 0 {
		return nil
	}
	schema := &genai.Schema{}

	if t, ok := params["type"].(string); ok {
		schema.Type = mapType(t)
	}
	if d, ok := params["description"].(string); ok {
		schema.Description = d
	}
	if props, ok := params["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for key, val := range props {
			if sub, ok := val.(map[string]any); ok {
				schema.Properties[key] = mapToSchema(sub)
			}
		}
	}
	if items, ok := params["items"].(map[string]any); ok {
		schema.Items = mapToSchema(items)
	}
	if required, ok := params["required"]; ok {
		schema.Required = toStringSlice(required)
	}
	if enum, ok := params["enum"]; ok {
		schema.Enum = toStringSlice(enum)
	}

	return schema
}

func mapType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
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
