package anthropic

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/modelrelay/relay"
	"github.com/modelrelay/relay/providers/base"
)

// stream translates Anthropic message stream events into canonical events.
// Tool-call argument fragments are scoped to a content block: the block start
// carries the call id and name, input_json_delta events carry the argument
// string pieces.
type stream struct {
	sse   *ssestream.Stream[anthropic.MessageStreamEventUnion]
	debug *base.DebugLogger

	mu sync.Mutex

	id    string
	model string
	clock base.Clock

	// blockCalls maps a content block index to its tool call, so deltas
	// can be attributed without repeating id/name on the wire.
	blockCalls map[int64]*relay.ToolCallRecord
	callCount  int

	accumulated strings.Builder
	pending     []relay.Event
	done        bool

	finishReason relay.FinishReason
	usage        relay.Usage
}

func newStream(model string, sse *ssestream.Stream[anthropic.MessageStreamEventUnion], debug *base.DebugLogger) *stream {
	return &stream{
		model:      model,
		sse:        sse,
		debug:      debug,
		blockCalls: make(map[int64]*relay.ToolCallRecord),
	}
}

func (s *stream) Next(ctx context.Context) (relay.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) > 0 {
		return s.dequeue()
	}
	if s.done {
		return nil, io.EOF
	}

	for {
		select {
		case <-ctx.Done():
			// Cancellation truncates the sequence; it is never an ErrorEvent.
			s.done = true
			return nil, io.EOF
		default:
		}

		if !s.sse.Next() {
			if err := s.sse.Err(); err != nil && ctx.Err() == nil {
				s.fail(err)
			} else {
				s.finalize()
			}
			if len(s.pending) > 0 {
				return s.dequeue()
			}
			return nil, io.EOF
		}

		s.processEvent(s.sse.Current())
		if len(s.pending) > 0 {
			return s.dequeue()
		}
	}
}

func (s *stream) Close() error {
	_ = s.debug.Close()
	return s.sse.Close()
}

func (s *stream) enqueue(ev relay.Event) {
	s.pending = append(s.pending, ev)
}

func (s *stream) dequeue() (relay.Event, error) {
	ev := s.pending[0]
	s.pending = s.pending[1:]
	_ = s.debug.Event(s.model, ev)
	return ev, nil
}

func (s *stream) processEvent(event anthropic.MessageStreamEventUnion) {
	_ = s.debug.Chunk(s.model, event.RawJSON())

	switch ev := event.AsAny().(type) {
	case anthropic.MessageStartEvent:
		s.id = ev.Message.ID
		if string(ev.Message.Model) != "" {
			s.model = string(ev.Message.Model)
		}
		s.usage.PromptTokens = int(ev.Message.Usage.InputTokens)

	case anthropic.ContentBlockStartEvent:
		if block, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
			rec := &relay.ToolCallRecord{
				CallID: block.ID,
				Name:   block.Name,
				Index:  s.callCount,
			}
			s.callCount++
			s.blockCalls[ev.Index] = rec
			s.enqueue(relay.ToolCallFragment{
				ID:        s.id,
				Model:     s.model,
				Timestamp: s.clock.Now(),
				CallID:    rec.CallID,
				Name:      rec.Name,
				Index:     rec.Index,
			})
		}

	case anthropic.ContentBlockDeltaEvent:
		switch delta := ev.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			if delta.Text == "" {
				return
			}
			s.accumulated.WriteString(delta.Text)
			s.enqueue(relay.ContentDelta{
				ID:          s.id,
				Model:       s.model,
				Timestamp:   s.clock.Now(),
				Delta:       delta.Text,
				Accumulated: s.accumulated.String(),
				Role:        relay.RoleAssistant,
			})
		case anthropic.ThinkingDelta:
			if delta.Thinking != "" {
				s.enqueue(relay.ThinkingDelta{Content: delta.Thinking})
			}
		case anthropic.InputJSONDelta:
			rec, ok := s.blockCalls[ev.Index]
			if !ok || delta.PartialJSON == "" {
				return
			}
			s.enqueue(relay.ToolCallFragment{
				ID:           s.id,
				Model:        s.model,
				Timestamp:    s.clock.Now(),
				CallID:       rec.CallID,
				Name:         rec.Name,
				ArgsFragment: delta.PartialJSON,
				Index:        rec.Index,
			})
		}

	case anthropic.MessageDeltaEvent:
		if ev.Delta.StopReason != "" {
			s.finishReason = mapStopReason(string(ev.Delta.StopReason))
		}
		s.usage.CompletionTokens = int(ev.Usage.OutputTokens)

	case anthropic.MessageStopEvent:
		s.finalize()
	}
}

func (s *stream) finalize() {
	if s.done {
		return
	}
	s.done = true
	if s.finishReason == "" {
		s.finishReason = relay.FinishStop
	}
	var usage *relay.Usage
	if s.usage.PromptTokens > 0 || s.usage.CompletionTokens > 0 {
		usage = &relay.Usage{
			PromptTokens:     s.usage.PromptTokens,
			CompletionTokens: s.usage.CompletionTokens,
			TotalTokens:      s.usage.PromptTokens + s.usage.CompletionTokens,
		}
	}
	s.enqueue(relay.Done{
		ID:           s.id,
		Model:        s.model,
		Timestamp:    s.clock.Now(),
		FinishReason: s.finishReason,
		Usage:        usage,
	})
}

func (s *stream) fail(err error) {
	s.done = true
	s.enqueue(relay.ErrorEvent{
		ID:        s.id,
		Model:     s.model,
		Timestamp: s.clock.Now(),
		Message:   err.Error(),
	})
}

func mapStopReason(reason string) relay.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence", "pause_turn":
		return relay.FinishStop
	case "tool_use":
		return relay.FinishToolCalls
	case "max_tokens":
		return relay.FinishLength
	case "refusal":
		return relay.FinishContentFilter
	default:
		return relay.FinishStop
	}
}

var _ relay.Stream = (*stream)(nil)
