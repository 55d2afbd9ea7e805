// Package chatcompletion adapts the OpenAI Chat Completions API to the relay
// canonical event stream. It is the template the other adapters vary on.
package chatcompletion

import (
	"context"

	"github.com/modelrelay/relay"
	"github.com/modelrelay/relay/providers/base"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Config configures the OpenAI Chat Completions provider.
type Config struct {
	base.Config
}

// Option is a functional option for this provider.
type Option func(*Config)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithDebug enables JSONL debug logging to the specified file path.
func WithDebug(path string) Option {
	return func(c *Config) { c.DebugPath = path }
}

// WithExtraHeader adds a custom header to requests.
func WithExtraHeader(key, value string) Option {
	return func(c *Config) {
		if c.ExtraHeaders == nil {
			c.ExtraHeaders = make(map[string]string)
		}
		c.ExtraHeaders[key] = value
	}
}

// WithExtraBody adds a custom field to the request body.
func WithExtraBody(key string, value any) Option {
	return func(c *Config) {
		if c.ExtraBody == nil {
			c.ExtraBody = make(map[string]any)
		}
		c.ExtraBody[key] = value
	}
}

// New creates a Provider using the OpenAI Chat Completions API.
// It reads OPENAI_API_KEY and OPENAI_BASE_URL from environment if not explicitly set.
func New(opts ...Option) relay.Provider {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	base.ApplyEnvDefaults(&cfg.Config, "OPENAI_API_KEY", "OPENAI_BASE_URL")

	var clientOpts []option.RequestOption
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	for k, v := range cfg.ExtraHeaders {
		clientOpts = append(clientOpts, option.WithHeader(k, v))
	}
	for k, v := range cfg.ExtraBody {
		clientOpts = append(clientOpts, option.WithJSONSet(k, v))
	}
	client := openai.NewClient(clientOpts...)
	return &provider{cfg: cfg, client: client}
}

type provider struct {
	cfg    Config
	client openai.Client
}

func (p *provider) Stream(ctx context.Context, req relay.Request) (relay.Stream, error) {
	if req.Model == "" {
		return nil, relay.ErrNoModel
	}
	params, err := BuildParams(req)
	if err != nil {
		return nil, err
	}

	debug, err := base.NewDebugLogger(p.cfg.DebugPath, "chatcompletion")
	if err != nil {
		return nil, err
	}
	_ = debug.Request(req.Model, params)

	var callOpts []option.RequestOption
	for k, v := range req.Options {
		callOpts = append(callOpts, option.WithJSONSet(k, v))
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params, callOpts...)
	return NewStream(req.Model, stream, debug), nil
}
