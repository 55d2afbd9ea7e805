package chatcompletion

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/modelrelay/relay"
	"github.com/modelrelay/relay/providers/base"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/ssestream"
	"github.com/tidwall/gjson"
)

// Stream translates OpenAI chat completion chunks into canonical events.
// Tool-call arguments arrive as string fragments; the shared accumulator
// resolves call ids for continuation chunks that omit them.
type Stream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	debug  *base.DebugLogger

	mu sync.Mutex

	id    string
	model string
	clock base.Clock
	calls *relay.Accumulator

	accumulated strings.Builder
	pending     []relay.Event
	done        bool

	finishReason relay.FinishReason
	usage        *relay.Usage
}

// NewStream wraps a vendor SSE stream. model is the requested model, used
// until the vendor reports its own.
func NewStream(
	model string,
	stream *ssestream.Stream[openai.ChatCompletionChunk],
	debug *base.DebugLogger,
) *Stream {
	return &Stream{
		model:  model,
		stream: stream,
		debug:  debug,
		calls:  relay.NewAccumulator(),
	}
}

func (s *Stream) Next(ctx context.Context) (relay.Event, error) {
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

		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil && ctx.Err() == nil {
				s.fail(err)
			} else {
				s.finalize()
			}
			if len(s.pending) > 0 {
				return s.dequeue()
			}
			return nil, io.EOF
		}

		s.processChunk(s.stream.Current())
		if len(s.pending) > 0 {
			return s.dequeue()
		}
	}
}

func (s *Stream) Close() error {
	_ = s.debug.Close()
	return s.stream.Close()
}

func (s *Stream) enqueue(ev relay.Event) {
	s.pending = append(s.pending, ev)
}

func (s *Stream) dequeue() (relay.Event, error) {
	ev := s.pending[0]
	s.pending = s.pending[1:]
	_ = s.debug.Event(s.model, ev)
	return ev, nil
}

func (s *Stream) processChunk(chunk openai.ChatCompletionChunk) {
	_ = s.debug.Chunk(s.model, chunk.RawJSON())

	if s.id == "" {
		s.id = chunk.ID
		if s.id == "" {
			s.id = base.NewStreamID("chatcmpl")
		}
	}
	if chunk.Model != "" {
		s.model = chunk.Model
	}

	if chunk.Usage.TotalTokens > 0 {
		s.usage = &relay.Usage{
			PromptTokens:     int(chunk.Usage.PromptTokens),
			CompletionTokens: int(chunk.Usage.CompletionTokens),
			TotalTokens:      int(chunk.Usage.TotalTokens),
		}
	}

	if len(chunk.Choices) == 0 {
		return
	}
	choice := chunk.Choices[0]
	delta := choice.Delta

	if choice.FinishReason != "" {
		s.finishReason = mapFinishReason(string(choice.FinishReason))
	}

	// Reasoning content used by OpenAI-compatible vendors; not part of the
	// official chunk schema, so read it off the raw payload.
	if thinking := extractReasoning(delta.RawJSON()); thinking != "" {
		s.enqueue(relay.ThinkingDelta{Content: thinking})
		// Same chunk can still carry content/tool_calls.
	}

	if delta.Content != "" {
		s.accumulated.WriteString(delta.Content)
		s.enqueue(relay.ContentDelta{
			ID:          s.id,
			Model:       s.model,
			Timestamp:   s.clock.Now(),
			Delta:       delta.Content,
			Accumulated: s.accumulated.String(),
			Role:        relay.RoleAssistant,
		})
	}

	for _, tc := range delta.ToolCalls {
		frag := relay.ToolCallFragment{
			ID:           s.id,
			Model:        s.model,
			Timestamp:    s.clock.Now(),
			CallID:       tc.ID,
			Name:         tc.Function.Name,
			ArgsFragment: tc.Function.Arguments,
			Index:        int(tc.Index),
		}
		// Continuation chunks omit the call id; the accumulator resolves it
		// from the vendor index (or synthesizes one) so every emitted
		// fragment carries a stable call_id.
		rec := s.calls.Apply(frag)
		frag.CallID = rec.CallID
		s.enqueue(frag)
	}
}

func (s *Stream) finalize() {
	s.done = true
	if s.finishReason == "" {
		s.finishReason = relay.FinishStop
	}
	s.enqueue(relay.Done{
		ID:           s.id,
		Model:        s.model,
		Timestamp:    s.clock.Now(),
		FinishReason: s.finishReason,
		Usage:        s.usage,
	})
}

func (s *Stream) fail(err error) {
	s.done = true
	s.enqueue(relay.ErrorEvent{
		ID:        s.id,
		Model:     s.model,
		Timestamp: s.clock.Now(),
		Message:   err.Error(),
	})
}

func mapFinishReason(reason string) relay.FinishReason {
	switch reason {
	case "stop":
		return relay.FinishStop
	case "tool_calls", "function_call":
		return relay.FinishToolCalls
	case "length":
		return relay.FinishLength
	case "content_filter":
		return relay.FinishContentFilter
	default:
		return relay.FinishStop
	}
}

func extractReasoning(rawDelta string) string {
	if rawDelta == "" {
		return ""
	}
	if r := gjson.Get(rawDelta, "reasoning_content"); r.Type == gjson.String && r.Str != "" {
		return r.Str
	}
	if r := gjson.Get(rawDelta, "reasoning"); r.Type == gjson.String && r.Str != "" {
		return r.Str
	}
	return ""
}

var _ relay.Stream = (*Stream)(nil)
