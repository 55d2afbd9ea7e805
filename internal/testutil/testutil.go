// Package testutil provides common testing utilities for provider tests.
package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelrelay/relay"
)

const DefaultTimeout = 60 * time.Second

// SkipIfNoEnv skips the test if the environment variable is not set.
func SkipIfNoEnv(t *testing.T, envVar string) {
	t.Helper()
	if os.Getenv(envVar) == "" {
		t.Skipf("skipping: %s not set", envVar)
	}
}

// StubStream replays a scripted event sequence.
type StubStream struct {
	Events []relay.Event
	pos    int
	Closed bool
}

func (s *StubStream) Next(ctx context.Context) (relay.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, io.EOF
	}
	if s.pos >= len(s.Events) {
		return nil, io.EOF
	}
	ev := s.Events[s.pos]
	s.pos++
	return ev, nil
}

func (s *StubStream) Close() error {
	s.Closed = true
	return nil
}

// StubProvider replays one scripted event sequence per invocation and records
// every request it receives. Invocations past the script replay the last
// sequence.
type StubProvider struct {
	Script [][]relay.Event

	mu       sync.Mutex
	Requests []relay.Request
	Streams  []*StubStream

	// Err, when set, is returned from Stream instead of a scripted stream.
	Err error
}

func (p *StubProvider) Stream(_ context.Context, req relay.Request) (relay.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Requests = append(p.Requests, req)
	if p.Err != nil {
		return nil, p.Err
	}

	idx := len(p.Requests) - 1
	if idx >= len(p.Script) {
		idx = len(p.Script) - 1
	}
	if idx < 0 {
		return nil, errors.New("testutil: stub provider has no script")
	}

	stream := &StubStream{Events: p.Script[idx]}
	p.Streams = append(p.Streams, stream)
	return stream, nil
}

// Invocations returns how many times Stream was called.
func (p *StubProvider) Invocations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}

// TextTurn builds the event sequence of a plain text response.
func TextTurn(deltas ...string) []relay.Event {
	var events []relay.Event
	var acc strings.Builder
	for _, d := range deltas {
		acc.WriteString(d)
		events = append(events, relay.ContentDelta{
			ID:          "stub",
			Delta:       d,
			Accumulated: acc.String(),
			Role:        relay.RoleAssistant,
		})
	}
	events = append(events, relay.Done{ID: "stub", FinishReason: relay.FinishStop})
	return events
}

// ToolCallTurn builds the event sequence of a response requesting tool calls.
// Argument JSON is split into fragments to exercise accumulation.
func ToolCallTurn(calls ...relay.ToolCallRecord) []relay.Event {
	var events []relay.Event
	for i, call := range calls {
		args := call.ArgsJSON
		mid := len(args) / 2
		events = append(events, relay.ToolCallFragment{
			ID:           "stub",
			CallID:       call.CallID,
			Name:         call.Name,
			ArgsFragment: args[:mid],
			Index:        i,
		})
		events = append(events, relay.ToolCallFragment{
			ID:           "stub",
			CallID:       call.CallID,
			ArgsFragment: args[mid:],
			Index:        i,
		})
	}
	events = append(events, relay.Done{ID: "stub", FinishReason: relay.FinishToolCalls})
	return events
}

// CalculatorTool adds two numbers; the standard tool for loop tests.
type CalculatorTool struct{}

func (CalculatorTool) Spec() relay.ToolSpec {
	return relay.ToolSpec{
		Name:        "add",
		Description: "Add two numbers together",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number", "description": "First number"},
				"b": map[string]any{"type": "number", "description": "Second number"},
			},
			"required": []string{"a", "b"},
		},
	}
}

func (CalculatorTool) Execute(_ context.Context, call relay.ToolCallRecord) (relay.ToolResult, error) {
	var args struct {
		A float64 `json:"a"`
		B float64 `json:"b"`
	}
	if err := json.Unmarshal([]byte(call.ArgsJSON), &args); err != nil {
		return relay.ToolResult{CallID: call.CallID, Name: call.Name, IsError: true}, err
	}
	return relay.ToolResult{
		CallID:  call.CallID,
		Name:    call.Name,
		Content: fmt.Sprintf("%g", args.A+args.B),
	}, nil
}

// DrainText pulls a provider stream to exhaustion and returns the accumulated
// text with the terminal event.
func DrainText(t *testing.T, ctx context.Context, stream relay.Stream) (string, *relay.Done) {
	t.Helper()

	var text strings.Builder
	var done *relay.Done
	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			t.Fatalf("stream.Next failed: %v", err)
		}
		switch e := ev.(type) {
		case relay.ContentDelta:
			text.WriteString(e.Delta)
		case relay.Done:
			d := e
			done = &d
		case relay.ErrorEvent:
			t.Fatalf("provider error: %s", e.Message)
		}
	}
	return text.String(), done
}

// TestBasicTextGeneration verifies basic text generation against a live provider.
func TestBasicTextGeneration(t *testing.T, provider relay.Provider, model string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	stream, err := provider.Stream(ctx, relay.Request{
		Model:    model,
		Messages: []relay.Message{relay.UserMessage("Write a haiku")},
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	defer stream.Close()

	text, done := DrainText(t, ctx, stream)
	if text == "" {
		t.Error("expected non-empty text response")
	}
	if done == nil {
		t.Fatal("expected terminal event")
	}
	if done.Usage == nil {
		t.Log("warning: usage info not returned")
	} else if done.Usage.CompletionTokens == 0 {
		t.Error("expected non-zero completion tokens")
	}

	t.Logf("response: %q", text)
}

// TestToolCalling verifies tool calling against a live provider.
func TestToolCalling(t *testing.T, provider relay.Provider, model string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	stream, err := provider.Stream(ctx, relay.Request{
		Model:        model,
		SystemPrompt: "You are a helpful assistant. Use the add tool when asked to add numbers.",
		Messages: []relay.Message{
			relay.UserMessage("What is 123 + 456 and 444+888, use calculator pls?"),
		},
		Tools: []relay.ToolSpec{CalculatorTool{}.Spec()},
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	defer stream.Close()

	acc := relay.NewAccumulator()
	var done *relay.Done
	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			t.Fatalf("stream.Next failed: %v", err)
		}
		switch e := ev.(type) {
		case relay.ToolCallFragment:
			acc.Apply(e)
		case relay.Done:
			d := e
			done = &d
		case relay.ErrorEvent:
			t.Fatalf("provider error: %s", e.Message)
		}
	}

	calls := acc.Records()
	if len(calls) == 0 {
		t.Fatal("expected at least one tool call")
	}
	if calls[0].Name != "add" {
		t.Errorf("expected tool name 'add', got %q", calls[0].Name)
	}
	if done == nil || done.FinishReason != relay.FinishToolCalls {
		t.Errorf("expected tool_calls finish reason, got %+v", done)
	}
	t.Logf("tool calls: %d, first call: %s(%s)", len(calls), calls[0].Name, calls[0].ArgsJSON)
}

// TestSystemPrompt verifies that the system prompt is respected.
func TestSystemPrompt(t *testing.T, provider relay.Provider, model string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	stream, err := provider.Stream(ctx, relay.Request{
		Model:        model,
		SystemPrompt: "You are a pirate. Always respond like a pirate. Use 'Arrr' in your response.",
		Messages:     []relay.Message{relay.UserMessage("Hello, how are you?")},
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	defer stream.Close()

	text, _ := DrainText(t, ctx, stream)
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "arrr") && !strings.Contains(lower, "ahoy") && !strings.Contains(lower, "matey") {
		t.Errorf("expected pirate-like response, got: %s", text)
	}

	t.Logf("response: %s", text)
}

// TestMultiTurn verifies multi-turn conversation handling.
func TestMultiTurn(t *testing.T, provider relay.Provider, model string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	stream, err := provider.Stream(ctx, relay.Request{
		Model: model,
		Messages: []relay.Message{
			relay.UserMessage("My name is Alice."),
			relay.AssistantMessage("Hello Alice! Nice to meet you."),
			relay.UserMessage("What is my name?"),
		},
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	defer stream.Close()

	text, _ := DrainText(t, ctx, stream)
	if !strings.Contains(strings.ToLower(text), "alice") {
		t.Errorf("expected response to contain 'Alice', got: %s", text)
	}

	t.Logf("response: %s", text)
}
