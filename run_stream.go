package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
)

// RunEventType represents loop-level lifecycle updates.
type RunEventType string

const (
	RunEventIteration     RunEventType = "iteration_start"
	RunEventAssistant     RunEventType = "assistant_event"
	RunEventToolExecStart RunEventType = "tool_exec_start"
	RunEventToolExecEnd   RunEventType = "tool_exec_end"
	RunEventEnd           RunEventType = "run_end"
)

// RunEvent wraps canonical provider events and tool execution progress.
type RunEvent struct {
	Type      RunEventType
	Iteration int

	// Event is the canonical provider event for RunEventAssistant.
	Event Event

	ToolCallID string
	ToolName   string
	ToolArgs   string
	ToolResult *ToolResult

	Final *RunResult
}

// RunStream exposes streaming access to one agent-loop invocation.
type RunStream interface {
	Next(ctx context.Context) (RunEvent, error)
	Result() (*RunResult, error)
	Cancel()
	Close() error
}

type runStream struct {
	ctx    context.Context
	cancel context.CancelFunc

	events chan RunEvent

	result    RunResult
	resultErr error
	done      chan struct{}

	mu sync.Mutex
}

// RunStreamed starts the agent loop and returns a stream of loop events.
// Canonical provider events are forwarded live (for UIs) while the loop also
// accumulates tool calls internally.
func RunStreamed(parent context.Context, req RunRequest) (RunStream, error) {
	if req.Provider == nil {
		return nil, ErrNoProvider
	}
	if req.Model == "" {
		return nil, ErrNoModel
	}

	ctx, cancel := context.WithCancel(parent)
	s := &runStream{
		ctx:    ctx,
		cancel: cancel,
		events: make(chan RunEvent, 16),
		done:   make(chan struct{}),
	}

	go s.run(req)
	return s, nil
}

func (s *runStream) Next(ctx context.Context) (RunEvent, error) {
	select {
	case <-ctx.Done():
		return RunEvent{}, ctx.Err()
	case ev, ok := <-s.events:
		if !ok {
			return RunEvent{}, io.EOF
		}
		return ev, nil
	}
}

func (s *runStream) Result() (*RunResult, error) {
	<-s.done
	return &s.result, s.resultErr
}

func (s *runStream) Cancel() {
	s.cancel()
}

func (s *runStream) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// turn collects what one provider invocation produced.
type turn struct {
	content  string
	calls    *Accumulator
	done     *Done
	errEvent *ErrorEvent
}

func (s *runStream) run(req RunRequest) {
	defer close(s.events)
	defer close(s.done)
	defer s.cancel()

	logger := req.logger()
	maxIter := req.maxIterations()
	specs := collectToolSpecs(req.Tools)

	transcript := slices.Clone(req.Messages)
	res := RunResult{State: StateComplete}

	for iteration := 0; ; iteration++ {
		if s.ctx.Err() != nil {
			s.finishCancelled(&res)
			return
		}

		s.emit(RunEvent{Type: RunEventIteration, Iteration: iteration})
		logger.Debug("invoking provider", "iteration", iteration, "messages", len(transcript))

		stream, err := req.Provider.Stream(s.ctx, Request{
			Model:           req.Model,
			SystemPrompt:    req.SystemPrompt,
			Messages:        transcript,
			Tools:           specs,
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			MaxOutputTokens: req.MaxOutputTokens,
			Options:         req.ProviderOptions,
		})
		if err != nil {
			res.State = StateFailed
			s.finish(&res, err)
			return
		}

		t, drainErr := s.drain(stream, iteration)
		_ = stream.Close()
		if drainErr != nil || s.ctx.Err() != nil {
			s.finishCancelled(&res)
			return
		}
		if t.errEvent != nil {
			res.State = StateFailed
			res.FinishReason = FinishError
			logger.Error("provider error", "message", t.errEvent.Message, "code", t.errEvent.Code)
			s.finish(&res, fmt.Errorf("relay: provider error: %s", t.errEvent.Message))
			return
		}
		if t.done == nil {
			res.State = StateFailed
			s.finish(&res, errors.New("relay: stream ended without terminal event"))
			return
		}
		if t.done.Usage != nil {
			res.Usage.Add(*t.done.Usage)
		}
		res.FinishReason = t.done.FinishReason

		calls := t.calls.Records()
		assistant := Message{Role: RoleAssistant, Content: t.content}
		if t.done.FinishReason == FinishToolCalls && len(calls) > 0 {
			assistant.ToolCalls = calls
		}
		res.Messages = append(res.Messages, assistant)
		transcript = append(transcript, assistant)

		if len(assistant.ToolCalls) == 0 {
			s.finish(&res, nil)
			return
		}

		toolMsgs, cancelled := s.executeTools(assistant.ToolCalls, req.Tools, logger)
		res.Messages = append(res.Messages, toolMsgs...)
		transcript = append(transcript, toolMsgs...)
		res.Iterations = iteration + 1

		if cancelled || s.ctx.Err() != nil {
			s.finishCancelled(&res)
			return
		}
		if iteration+1 >= maxIter {
			logger.Info("iteration ceiling reached", "max_iterations", maxIter)
			s.finish(&res, nil)
			return
		}
	}
}

// drain pulls the provider stream to exhaustion, forwarding every canonical
// event and accumulating text and tool-call fragments. A non-nil error means
// the surrounding context was cancelled mid-stream.
func (s *runStream) drain(stream Stream, iteration int) (turn, error) {
	t := turn{calls: NewAccumulator()}
	var content strings.Builder

	for {
		ev, err := stream.Next(s.ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if s.ctx.Err() != nil {
				return t, s.ctx.Err()
			}
			// A transport failure the adapter could not wrap itself.
			t.errEvent = &ErrorEvent{Message: err.Error()}
			break
		}

		s.emit(RunEvent{Type: RunEventAssistant, Iteration: iteration, Event: ev})

		switch e := ev.(type) {
		case ContentDelta:
			content.WriteString(e.Delta)
		case ToolCallFragment:
			t.calls.Apply(e)
		case Done:
			d := e
			t.done = &d
		case ErrorEvent:
			ee := e
			t.errEvent = &ee
		}
	}

	t.content = content.String()
	return t, nil
}

func (s *runStream) finish(res *RunResult, err error) {
	s.result = *res
	s.addError(err)
	s.emit(RunEvent{Type: RunEventEnd, Final: res})
}

func (s *runStream) finishCancelled(res *RunResult) {
	res.State = StateCancelled
	err := s.ctx.Err()
	if err == nil {
		err = context.Canceled
	}
	s.result = *res
	s.addError(err)
}

func (s *runStream) emit(ev RunEvent) {
	select {
	case <-s.ctx.Done():
		return
	case s.events <- ev:
	}
}

func (s *runStream) addError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resultErr == nil {
		s.resultErr = err
		return
	}
	s.resultErr = errors.Join(s.resultErr, err)
}
