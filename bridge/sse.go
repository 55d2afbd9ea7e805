// Package bridge copies canonical event streams onto HTTP responses using
// server-sent events framing. Each event is one data line of JSON; a
// normally terminated stream ends with a literal [DONE] sentinel, matching
// the framing OpenAI-compatible clients expect.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/modelrelay/relay"
)

// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
var ErrStreamingUnsupported = errors.New("bridge: response writer does not support flushing")

// Writer frames canonical events as server-sent events on an HTTP response.
type Writer struct {
	w     http.ResponseWriter
	flush http.Flusher
}

// NewWriter prepares w for event streaming and writes the SSE headers.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	return &Writer{w: w, flush: flusher}, nil
}

// Send writes one event as a data frame and flushes it to the client.
func (w *Writer) Send(ev relay.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("bridge: marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	w.flush.Flush()
	return nil
}

// End writes the [DONE] sentinel that marks normal termination.
func (w *Writer) End() error {
	if _, err := io.WriteString(w.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	w.flush.Flush()
	return nil
}

// Copy drains a provider stream onto w. Every event is framed, the terminal
// event included, then the [DONE] sentinel follows. When ctx is cancelled
// the copy stops without a sentinel: the connection is severed, and clients
// distinguish that from normal completion by the missing [DONE].
func Copy(ctx context.Context, w *Writer, stream relay.Stream) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ev, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return w.End()
			}
			return err
		}
		if err := w.Send(ev); err != nil {
			return err
		}
	}
}

// CopyRun drains an agent run onto w, framing the assistant events from
// every iteration. Run bookkeeping events (tool execution, iteration marks)
// are not part of the wire protocol and are skipped. Whenever the run ends
// under a live context the [DONE] sentinel is written, a failed run
// included: the client already saw the terminal ErrorEvent frame, and the
// sentinel tells it the stream closed normally rather than severed. The run
// error is still returned to the caller.
func CopyRun(ctx context.Context, w *Writer, run relay.RunStream) error {
	defer run.Close()
	for {
		ev, err := run.Next(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return err
			}
			break
		}
		if ev.Type != relay.RunEventAssistant || ev.Event == nil {
			continue
		}
		if err := w.Send(ev.Event); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := w.End(); err != nil {
		return err
	}
	_, err := run.Result()
	return err
}
