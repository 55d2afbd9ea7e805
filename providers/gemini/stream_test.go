package gemini

import (
	"context"
	"sync"
	"testing"

	"github.com/modelrelay/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func newTestStream() *stream {
	return &stream{
		model: "gemini-test",
		calls: relay.NewAccumulator(),
	}
}

func textResponse(text string, thought bool) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		ResponseID: "resp-1",
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: text, Thought: thought}},
			},
		}},
	}
}

func TestProcessResponse_TextDeltas(t *testing.T) {
	s := newTestStream()

	s.processResponse(textResponse("Hel", false))
	s.processResponse(textResponse("lo", false))

	require.Len(t, s.pending, 2)
	first := s.pending[0].(relay.ContentDelta)
	assert.Equal(t, "resp-1", first.ID)
	assert.Equal(t, "Hel", first.Delta)
	second := s.pending[1].(relay.ContentDelta)
	assert.Equal(t, "Hello", second.Accumulated)
}

func TestProcessResponse_ThoughtBecomesThinkingDelta(t *testing.T) {
	s := newTestStream()

	s.processResponse(textResponse("pondering", true))

	require.Len(t, s.pending, 1)
	thinking := s.pending[0].(relay.ThinkingDelta)
	assert.Equal(t, "pondering", thinking.Content)
	assert.Empty(t, s.accumulated.String())
}

func TestProcessResponse_FunctionCallEmitsMergedFragment(t *testing.T) {
	s := newTestStream()

	s.processResponse(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role: genai.RoleModel,
				Parts: []*genai.Part{{
					FunctionCall: &genai.FunctionCall{
						ID:   "fc-1",
						Name: "get_weather",
						Args: map[string]any{"location": "Paris"},
					},
				}},
			},
			FinishReason: genai.FinishReasonStop,
		}},
	})

	require.Len(t, s.pending, 1)
	frag := s.pending[0].(relay.ToolCallFragment)
	assert.Equal(t, "fc-1", frag.CallID)
	assert.Equal(t, "get_weather", frag.Name)
	assert.JSONEq(t, `{"location":"Paris"}`, frag.ArgsFragment)

	// A stop after function calls normalizes to tool_calls.
	assert.Equal(t, relay.FinishToolCalls, s.finishReason)
}

func TestProcessResponse_SynthesizesCallID(t *testing.T) {
	s := newTestStream()

	s.processResponse(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role: genai.RoleModel,
				Parts: []*genai.Part{{
					FunctionCall: &genai.FunctionCall{Name: "lookup", Args: map[string]any{"q": "x"}},
				}},
			},
		}},
	})

	frag := s.pending[0].(relay.ToolCallFragment)
	assert.NotEmpty(t, frag.CallID)
	assert.Contains(t, frag.CallID, "lookup")
}

func TestProcessResponse_RepeatedCallKeepsFirstIndex(t *testing.T) {
	s := newTestStream()

	call := func(id, q string) *genai.GenerateContentResponse {
		return &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{
					Role: genai.RoleModel,
					Parts: []*genai.Part{{
						FunctionCall: &genai.FunctionCall{ID: id, Name: "lookup", Args: map[string]any{"q": q}},
					}},
				},
			}},
		}
	}

	s.processResponse(call("fc-1", "a"))
	s.processResponse(call("fc-2", "b"))
	s.processResponse(call("fc-1", "c"))

	require.Len(t, s.pending, 3)
	assert.Equal(t, 0, s.pending[0].(relay.ToolCallFragment).Index)
	assert.Equal(t, 1, s.pending[1].(relay.ToolCallFragment).Index)
	// The repeated id rejoins its record and keeps the first-sight index.
	assert.Equal(t, 0, s.pending[2].(relay.ToolCallFragment).Index)
}

func TestEnsureClientInitializesOnce(t *testing.T) {
	p := New(WithAPIKey("test-key")).(*provider)

	var wg sync.WaitGroup
	clients := make([]*genai.Client, 8)
	errs := make([]error, 8)
	for i := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clients[i], errs[i] = p.ensureClient(context.Background())
		}()
	}
	wg.Wait()

	for i := range clients {
		require.NoError(t, errs[i])
		assert.Same(t, clients[0], clients[i])
	}
}

func TestProcessResponse_Usage(t *testing.T) {
	s := newTestStream()

	s.processResponse(&genai.GenerateContentResponse{
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     7,
			CandidatesTokenCount: 13,
			TotalTokenCount:      20,
		},
	})
	s.finalize()

	done := s.pending[0].(relay.Done)
	require.NotNil(t, done.Usage)
	assert.Equal(t, 7, done.Usage.PromptTokens)
	assert.Equal(t, 13, done.Usage.CompletionTokens)
	assert.Equal(t, 20, done.Usage.TotalTokens)
}

func TestMapFinishReason_Gemini(t *testing.T) {
	s := newTestStream()
	assert.Equal(t, relay.FinishStop, s.mapFinishReason(genai.FinishReasonStop))
	assert.Equal(t, relay.FinishLength, s.mapFinishReason(genai.FinishReasonMaxTokens))
	assert.Equal(t, relay.FinishContentFilter, s.mapFinishReason(genai.FinishReasonSafety))

	s.sawToolCalls = true
	assert.Equal(t, relay.FinishToolCalls, s.mapFinishReason(genai.FinishReasonStop))
}

func TestBuildParams_Gemini(t *testing.T) {
	req := relay.Request{
		Model:        "gemini-2.0-flash",
		SystemPrompt: "be brief",
		Messages: []relay.Message{
			relay.UserMessage("what is the weather in Paris?"),
			{Role: relay.RoleAssistant, ToolCalls: []relay.ToolCallRecord{
				{CallID: "fc-1", Name: "get_weather", ArgsJSON: `{"location":"Paris"}`},
			}},
			relay.ToolMessage("fc-1", "sunny"),
		},
		Tools: []relay.ToolSpec{{
			Name:        "get_weather",
			Description: "Get weather",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"location": map[string]any{"type": "string", "description": "City name"},
				},
				"required": []string{"location"},
			},
		}},
	}

	contents, config, err := BuildParams(req)
	require.NoError(t, err)

	require.NotNil(t, config.SystemInstruction)
	assert.Equal(t, "be brief", config.SystemInstruction.Parts[0].Text)

	require.Len(t, contents, 3)
	assert.Equal(t, genai.RoleUser, contents[0].Role)
	assert.Equal(t, genai.RoleModel, contents[1].Role)
	require.NotNil(t, contents[1].Parts[0].FunctionCall)
	assert.Equal(t, map[string]any{"location": "Paris"}, contents[1].Parts[0].FunctionCall.Args)

	// The function response resolves the name from the preceding call.
	fr := contents[2].Parts[0].FunctionResponse
	require.NotNil(t, fr)
	assert.Equal(t, "get_weather", fr.Name)
	assert.Equal(t, map[string]any{"output": "sunny"}, fr.Response)

	require.Len(t, config.Tools, 1)
	decl := config.Tools[0].FunctionDeclarations[0]
	assert.Equal(t, "get_weather", decl.Name)
	require.NotNil(t, decl.Parameters)
	assert.Equal(t, genai.TypeObject, decl.Parameters.Type)
	assert.Equal(t, []string{"location"}, decl.Parameters.Required)
	assert.Equal(t, genai.TypeString, decl.Parameters.Properties["location"].Type)
}
