package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

// DefaultMaxIterations bounds the agent loop when RunRequest leaves
// MaxIterations unset.
const DefaultMaxIterations = 10

// State is the terminal classification of a run.
type State string

const (
	StateComplete  State = "complete"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// RunRequest configures one agent-loop invocation.
type RunRequest struct {
	Provider     Provider
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []Tool

	// MaxIterations bounds tool-execution rounds; reaching it is a normal
	// Complete outcome, not an error. Zero means DefaultMaxIterations.
	MaxIterations int

	// Generation parameters forwarded to the provider.
	Temperature     *float64
	TopP            *float64
	MaxOutputTokens *int
	ProviderOptions map[string]any

	// Logger receives loop progress; nil discards.
	Logger *slog.Logger
}

// RunResult is the terminal outcome of a run. Messages holds only the turns
// this run appended (assistant and tool messages), in transcript order.
type RunResult struct {
	State        State
	Messages     []Message
	Iterations   int // tool-execution rounds performed
	FinishReason FinishReason
	Usage        Usage
}

// Run drives the agent loop to completion: invoke the provider, execute any
// requested tools, feed results back, repeat up to the iteration bound.
//
// Cancellation surfaces as StateCancelled together with the context error, so
// callers distinguish it from failure with errors.Is(err, context.Canceled);
// it is never reported as a provider ErrorEvent.
func Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	stream, err := RunStreamed(ctx, req)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	for {
		_, err := stream.Next(ctx)
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if ctx.Err() != nil {
			break
		}
		return nil, err
	}

	return stream.Result()
}

func (req *RunRequest) logger() *slog.Logger {
	if req.Logger != nil {
		return req.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func (req *RunRequest) maxIterations() int {
	if req.MaxIterations > 0 {
		return req.MaxIterations
	}
	return DefaultMaxIterations
}

func collectToolSpecs(tools []Tool) []ToolSpec {
	if len(tools) == 0 {
		return nil
	}
	specs := make([]ToolSpec, 0, len(tools))
	for _, t := range tools {
		specs = append(specs, t.Spec())
	}
	return specs
}
