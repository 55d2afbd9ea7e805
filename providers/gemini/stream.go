package gemini

import (
	"context"
	"encoding/json"
	"io"
	"iter"
	"strings"
	"sync"

	"github.com/modelrelay/relay"
	"github.com/modelrelay/relay/providers/base"
	"google.golang.org/genai"
)

// stream translates Gemini responses into canonical events. The API delivers
// each function call as a single complete part, so fragments emitted here
// always carry fully merged argument objects.
type stream struct {
	next  func() (*genai.GenerateContentResponse, error, bool)
	stop  func()
	debug *base.DebugLogger

	mu sync.Mutex

	id    string
	model string
	clock base.Clock
	calls *relay.Accumulator

	accumulated  strings.Builder
	pending      []relay.Event
	done         bool
	sawToolCalls bool

	finishReason relay.FinishReason
	usage        *relay.Usage
}

func newStream(model string, seq iter.Seq2[*genai.GenerateContentResponse, error], debug *base.DebugLogger) *stream {
	next, stop := iter.Pull2(seq)
	return &stream{
		next:  next,
		stop:  stop,
		model: model,
		debug: debug,
		calls: relay.NewAccumulator(),
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

		resp, err, ok := s.next()
		if !ok {
			s.finalize()
			return s.dequeue()
		}
		if err != nil {
			if ctx.Err() == nil {
				s.fail(err)
				return s.dequeue()
			}
			s.done = true
			return nil, io.EOF
		}

		s.processResponse(resp)
		if len(s.pending) > 0 {
			return s.dequeue()
		}
	}
}

func (s *stream) Close() error {
	s.stop()
	_ = s.debug.Close()
	return nil
}

func (s *stream) enqueue(ev relay.Event) {
	s.pending = append(s.pending, ev)
}

func (s *stream) dequeue() (relay.Event, error) {
	if len(s.pending) == 0 {
		return nil, io.EOF
	}
	ev := s.pending[0]
	s.pending = s.pending[1:]
	_ = s.debug.Event(s.model, ev)
	return ev, nil
}

func (s *stream) processResponse(resp *genai.GenerateContentResponse) {
	_ = s.debug.Chunk(s.model, resp)

	if s.id == "" {
		s.id = resp.ResponseID
		if s.id == "" {
			s.id = base.NewStreamID("gemini")
		}
	}
	if resp.ModelVersion != "" {
		s.model = resp.ModelVersion
	}
	if resp.UsageMetadata != nil {
		s.usage = &relay.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	if len(resp.Candidates) == 0 {
		return
	}
	candidate := resp.Candidates[0]

	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			s.processPart(part)
		}
	}

	if candidate.FinishReason != "" {
		s.finishReason = s.mapFinishReason(candidate.FinishReason)
	}
}

func (s *stream) processPart(part *genai.Part) {
	if part == nil {
		return
	}

	if part.Text != "" {
		if part.Thought {
			s.enqueue(relay.ThinkingDelta{Content: part.Text})
			return
		}
		s.accumulated.WriteString(part.Text)
		s.enqueue(relay.ContentDelta{
			ID:          s.id,
			Model:       s.model,
			Timestamp:   s.clock.Now(),
			Delta:       part.Text,
			Accumulated: s.accumulated.String(),
			Role:        relay.RoleAssistant,
		})
		return
	}

	if part.FunctionCall != nil {
		args := "{}"
		if len(part.FunctionCall.Args) > 0 {
			if raw, err := json.Marshal(part.FunctionCall.Args); err == nil {
				args = string(raw)
			}
		}
		s.sawToolCalls = true
		frag := relay.ToolCallFragment{
			ID:           s.id,
			Model:        s.model,
			Timestamp:    s.clock.Now(),
			CallID:       part.FunctionCall.ID,
			Name:         part.FunctionCall.Name,
			ArgsFragment: args,
			Index:        s.calls.Len(),
		}
		// The API may omit call ids; the accumulator synthesizes stable
		// ones and freezes the first-sight index, so a repeated call id
		// re-emits under its original index.
		rec := s.calls.Apply(frag)
		frag.CallID = rec.CallID
		frag.Index = rec.Index
		s.enqueue(frag)
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
	s.enqueue(relay.Done{
		ID:           s.id,
		Model:        s.model,
		Timestamp:    s.clock.Now(),
		FinishReason: s.finishReason,
		Usage:        s.usage,
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

// mapFinishReason normalizes Gemini finish reasons. Gemini reports STOP even
// when the turn ended with function calls, so a stop with tool calls seen
// maps to tool_calls.
func (s *stream) mapFinishReason(reason genai.FinishReason) relay.FinishReason {
	switch reason {
	case genai.FinishReasonStop:
		if s.sawToolCalls {
			return relay.FinishToolCalls
		}
		return relay.FinishStop
	case genai.FinishReasonMaxTokens:
		return relay.FinishLength
	case genai.FinishReasonSafety, genai.FinishReasonRecitation, genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist:
		return relay.FinishContentFilter
	default:
		return relay.FinishStop
	}
}

var _ relay.Stream = (*stream)(nil)
