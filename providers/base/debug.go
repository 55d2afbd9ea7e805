package base

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// DebugLogger captures one provider invocation's raw exchange as JSONL: the
// outbound request, each vendor chunk, and each canonical event the adapter
// emitted. A nil *DebugLogger discards everything, so call sites need no
// guards. Safe for concurrent use.
type DebugLogger struct {
	mu       sync.Mutex
	f        *os.File
	enc      *json.Encoder
	provider string
}

// NewDebugLogger opens a JSONL debug log at path, tagging every record with
// the provider name. An empty path disables logging and returns nil.
func NewDebugLogger(path, provider string) (*DebugLogger, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &DebugLogger{f: f, enc: json.NewEncoder(f), provider: provider}, nil
}

func (l *DebugLogger) Close() error {
	if l == nil || l.f == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// Request records the outbound vendor request payload.
func (l *DebugLogger) Request(model string, payload any) error {
	return l.log("request", model, payload)
}

// Chunk records one raw vendor stream chunk.
func (l *DebugLogger) Chunk(model string, chunk any) error {
	return l.log("chunk", model, chunk)
}

// Event records one canonical event as it left the adapter.
func (l *DebugLogger) Event(model string, ev any) error {
	return l.log("event", model, ev)
}

type debugRecord struct {
	Time     string `json:"time"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	Type     string `json:"type"`
	Data     any    `json:"data,omitempty"`
}

func (l *DebugLogger) log(recordType, model string, data any) error {
	if l == nil || l.enc == nil {
		return nil
	}
	rec := debugRecord{
		Time:     time.Now().UTC().Format(time.RFC3339Nano),
		Provider: l.provider,
		Model:    model,
		Type:     recordType,
		Data:     data,
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enc.Encode(rec)
}
