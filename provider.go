package relay

import "context"

// Request is the provider-agnostic generation input for one invocation.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []ToolSpec

	// Generation parameters; nil leaves the vendor default in place.
	Temperature     *float64
	TopP            *float64
	MaxOutputTokens *int

	// Options carries provider-specific request fields keyed by the names the
	// vendor documents. Adapters ignore keys they do not understand.
	Options map[string]any
}

// Stream is a finite, non-restartable sequence of canonical events. Next
// returns io.EOF once the terminal Done or ErrorEvent has been delivered.
// Adapters never leak transport errors through Next after streaming has
// begun: they surface as a terminal ErrorEvent instead.
type Stream interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// Provider is the unified capability interface implemented by every vendor
// adapter. Stream fails fast (returns an error) only on malformed requests;
// anything that goes wrong after the vendor call is opened arrives as events.
type Provider interface {
	Stream(ctx context.Context, req Request) (Stream, error)
}
