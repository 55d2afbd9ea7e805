package relay_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/modelrelay/relay"
	"github.com/modelrelay/relay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_SingleTextTurn(t *testing.T) {
	provider := &testutil.StubProvider{Script: [][]relay.Event{
		testutil.TextTurn("The answer ", "is 4"),
	}}

	res, err := relay.Run(context.Background(), relay.RunRequest{
		Provider: provider,
		Model:    "stub-model",
		Messages: []relay.Message{relay.UserMessage("What is 2+2?")},
	})
	require.NoError(t, err)

	assert.Equal(t, relay.StateComplete, res.State)
	assert.Equal(t, relay.FinishStop, res.FinishReason)
	assert.Equal(t, 0, res.Iterations)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, relay.RoleAssistant, res.Messages[0].Role)
	assert.Equal(t, "The answer is 4", res.Messages[0].Content)
	assert.Equal(t, 1, provider.Invocations())
}

func TestRun_ToolCallLoop(t *testing.T) {
	provider := &testutil.StubProvider{Script: [][]relay.Event{
		testutil.ToolCallTurn(relay.ToolCallRecord{CallID: "call_1", Name: "add", ArgsJSON: `{"a":123,"b":456}`}),
		testutil.TextTurn("The sum is 579."),
	}}

	res, err := relay.Run(context.Background(), relay.RunRequest{
		Provider: provider,
		Model:    "stub-model",
		Messages: []relay.Message{relay.UserMessage("Add 123 and 456")},
		Tools:    []relay.Tool{testutil.CalculatorTool{}},
	})
	require.NoError(t, err)

	assert.Equal(t, relay.StateComplete, res.State)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, 2, provider.Invocations())

	// assistant(tool_calls), tool result, assistant(text)
	require.Len(t, res.Messages, 3)
	require.Len(t, res.Messages[0].ToolCalls, 1)
	assert.Equal(t, "add", res.Messages[0].ToolCalls[0].Name)
	assert.JSONEq(t, `{"a":123,"b":456}`, res.Messages[0].ToolCalls[0].ArgsJSON)

	assert.Equal(t, relay.RoleTool, res.Messages[1].Role)
	assert.Equal(t, "call_1", res.Messages[1].ToolCallID)
	assert.Equal(t, "579", res.Messages[1].Content)

	assert.Equal(t, "The sum is 579.", res.Messages[2].Content)

	// The second invocation sees the assistant turn and the tool result.
	second := provider.Requests[1]
	require.Len(t, second.Messages, 3)
	assert.Equal(t, relay.RoleTool, second.Messages[2].Role)
	assert.Equal(t, "579", second.Messages[2].Content)
}

func TestRun_UnknownToolFeedsErrorResultBack(t *testing.T) {
	provider := &testutil.StubProvider{Script: [][]relay.Event{
		testutil.ToolCallTurn(relay.ToolCallRecord{CallID: "call_1", Name: "bogus", ArgsJSON: `{}`}),
		testutil.TextTurn("I could not run that tool."),
	}}

	res, err := relay.Run(context.Background(), relay.RunRequest{
		Provider: provider,
		Model:    "stub-model",
		Messages: []relay.Message{relay.UserMessage("go")},
		Tools:    []relay.Tool{testutil.CalculatorTool{}},
	})
	require.NoError(t, err)

	assert.Equal(t, relay.StateComplete, res.State)
	require.Len(t, res.Messages, 3)
	assert.Equal(t, relay.RoleTool, res.Messages[1].Role)
	assert.Contains(t, res.Messages[1].Content, "tool not found: bogus")
	assert.Equal(t, 2, provider.Invocations())
}

func TestRun_InvalidToolArguments(t *testing.T) {
	provider := &testutil.StubProvider{Script: [][]relay.Event{
		{
			relay.ToolCallFragment{CallID: "call_1", Name: "add", ArgsFragment: `{"a":`, Index: 0},
			relay.Done{FinishReason: relay.FinishToolCalls},
		},
		testutil.TextTurn("done"),
	}}

	res, err := relay.Run(context.Background(), relay.RunRequest{
		Provider: provider,
		Model:    "stub-model",
		Messages: []relay.Message{relay.UserMessage("go")},
		Tools:    []relay.Tool{testutil.CalculatorTool{}},
	})
	require.NoError(t, err)

	assert.Equal(t, relay.StateComplete, res.State)
	require.Len(t, res.Messages, 3)
	assert.Contains(t, res.Messages[1].Content, "not valid JSON")
}

func TestRun_MaxIterationsIsNormalCompletion(t *testing.T) {
	provider := &testutil.StubProvider{Script: [][]relay.Event{
		testutil.ToolCallTurn(relay.ToolCallRecord{CallID: "call_1", Name: "add", ArgsJSON: `{"a":1,"b":2}`}),
	}}

	res, err := relay.Run(context.Background(), relay.RunRequest{
		Provider:      provider,
		Model:         "stub-model",
		Messages:      []relay.Message{relay.UserMessage("loop forever")},
		Tools:         []relay.Tool{testutil.CalculatorTool{}},
		MaxIterations: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, relay.StateComplete, res.State)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, 1, provider.Invocations())
	require.Len(t, res.Messages, 2)
	assert.Equal(t, relay.RoleTool, res.Messages[1].Role)
}

// cancellingTool cancels the run after a fixed number of executions.
type cancellingTool struct {
	mu     sync.Mutex
	execs  int
	limit  int
	cancel context.CancelFunc
}

func (c *cancellingTool) Spec() relay.ToolSpec {
	return relay.ToolSpec{Name: "step", Description: "one step", Parameters: map[string]any{"type": "object"}}
}

func (c *cancellingTool) Execute(_ context.Context, call relay.ToolCallRecord) (relay.ToolResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execs++
	if c.execs > c.limit {
		c.cancel()
	}
	return relay.ToolResult{CallID: call.CallID, Name: "step", Content: "ok"}, nil
}

func TestRun_CancellationDropsInFlightResults(t *testing.T) {
	var calls []relay.ToolCallRecord
	for i := 0; i < 5; i++ {
		calls = append(calls, relay.ToolCallRecord{
			CallID:   string(rune('a' + i)),
			Name:     "step",
			ArgsJSON: `{}`,
		})
	}
	provider := &testutil.StubProvider{Script: [][]relay.Event{
		testutil.ToolCallTurn(calls...),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tool := &cancellingTool{limit: 2, cancel: cancel}

	res, err := relay.Run(ctx, relay.RunRequest{
		Provider: provider,
		Model:    "stub-model",
		Messages: []relay.Message{relay.UserMessage("go")},
		Tools:    []relay.Tool{tool},
	})
	require.NoError(t, errIgnoreCanceled(err))
	require.NotNil(t, res)

	assert.Equal(t, relay.StateCancelled, res.State)
	assert.True(t, errors.Is(err, context.Canceled))

	// Two tools completed before the cancel; the third result is dropped and
	// the provider is never invoked again.
	toolMsgs := 0
	for _, msg := range res.Messages {
		if msg.Role == relay.RoleTool {
			toolMsgs++
		}
	}
	assert.LessOrEqual(t, toolMsgs, 2)
	assert.Equal(t, 1, provider.Invocations())
}

func errIgnoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// sleepyTool is parallel-capable and delays to scramble completion order.
type sleepyTool struct {
	name  string
	delay time.Duration
}

func (s sleepyTool) Spec() relay.ToolSpec {
	return relay.ToolSpec{Name: s.name, Description: "sleeps", Parameters: map[string]any{"type": "object"}, Parallel: true}
}

func (s sleepyTool) Execute(ctx context.Context, call relay.ToolCallRecord) (relay.ToolResult, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
	}
	return relay.ToolResult{CallID: call.CallID, Name: s.name, Content: s.name}, nil
}

func TestRun_ParallelResultsFlushInCallOrder(t *testing.T) {
	provider := &testutil.StubProvider{Script: [][]relay.Event{
		testutil.ToolCallTurn(
			relay.ToolCallRecord{CallID: "call_slow", Name: "slow", ArgsJSON: `{}`},
			relay.ToolCallRecord{CallID: "call_fast", Name: "fast", ArgsJSON: `{}`},
		),
		testutil.TextTurn("done"),
	}}

	res, err := relay.Run(context.Background(), relay.RunRequest{
		Provider: provider,
		Model:    "stub-model",
		Messages: []relay.Message{relay.UserMessage("go")},
		Tools: []relay.Tool{
			sleepyTool{name: "slow", delay: 50 * time.Millisecond},
			sleepyTool{name: "fast", delay: 0},
		},
	})
	require.NoError(t, err)

	require.Len(t, res.Messages, 4)
	assert.Equal(t, "call_slow", res.Messages[1].ToolCallID)
	assert.Equal(t, "call_fast", res.Messages[2].ToolCallID)
}

func TestRun_ProviderErrorEventFailsRun(t *testing.T) {
	provider := &testutil.StubProvider{Script: [][]relay.Event{
		{relay.ErrorEvent{Message: "rate limited", Code: "429"}},
	}}

	res, err := relay.Run(context.Background(), relay.RunRequest{
		Provider: provider,
		Model:    "stub-model",
		Messages: []relay.Message{relay.UserMessage("go")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
	require.NotNil(t, res)
	assert.Equal(t, relay.StateFailed, res.State)
	assert.Equal(t, relay.FinishError, res.FinishReason)
}

func TestRun_StreamWithoutTerminalEventFails(t *testing.T) {
	provider := &testutil.StubProvider{Script: [][]relay.Event{
		{relay.ContentDelta{Delta: "partial"}},
	}}

	res, err := relay.Run(context.Background(), relay.RunRequest{
		Provider: provider,
		Model:    "stub-model",
		Messages: []relay.Message{relay.UserMessage("go")},
	})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, relay.StateFailed, res.State)
}

func TestRun_Validation(t *testing.T) {
	_, err := relay.Run(context.Background(), relay.RunRequest{Model: "m"})
	assert.ErrorIs(t, err, relay.ErrNoProvider)

	_, err = relay.Run(context.Background(), relay.RunRequest{Provider: &testutil.StubProvider{}})
	assert.ErrorIs(t, err, relay.ErrNoModel)
}

func TestRunStreamed_ForwardsAssistantEvents(t *testing.T) {
	provider := &testutil.StubProvider{Script: [][]relay.Event{
		testutil.TextTurn("hi"),
	}}

	stream, err := relay.RunStreamed(context.Background(), relay.RunRequest{
		Provider: provider,
		Model:    "stub-model",
		Messages: []relay.Message{relay.UserMessage("hello")},
	})
	require.NoError(t, err)
	defer stream.Close()

	var sawIteration, sawContent, sawDone, sawEnd bool
	for {
		ev, err := stream.Next(context.Background())
		if err != nil {
			break
		}
		switch ev.Type {
		case relay.RunEventIteration:
			sawIteration = true
		case relay.RunEventAssistant:
			switch ev.Event.(type) {
			case relay.ContentDelta:
				sawContent = true
			case relay.Done:
				sawDone = true
			}
		case relay.RunEventEnd:
			sawEnd = true
			require.NotNil(t, ev.Final)
			assert.Equal(t, relay.StateComplete, ev.Final.State)
		}
	}

	assert.True(t, sawIteration)
	assert.True(t, sawContent)
	assert.True(t, sawDone)
	assert.True(t, sawEnd)

	res, resErr := stream.Result()
	require.NoError(t, resErr)
	assert.Equal(t, relay.StateComplete, res.State)
}
