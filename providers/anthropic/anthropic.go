// Package anthropic adapts the Anthropic Messages API to the relay canonical
// event stream. Tool-call arguments arrive as input_json_delta string
// fragments scoped to a content block.
package anthropic

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/modelrelay/relay"
	"github.com/modelrelay/relay/providers/base"
)

const defaultMaxTokens = 4096

// Config configures the Anthropic Messages provider.
type Config struct {
	base.Config

	// Thinking options
	ThinkingEnabled bool
	ThinkingBudget  *int
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

// WithThinking enables extended thinking with the given token budget.
func WithThinking(budget int) Option {
	return func(c *Config) {
		c.ThinkingEnabled = true
		c.ThinkingBudget = &budget
	}
}

// New creates a Provider using the Anthropic Messages API.
// The SDK reads ANTHROPIC_API_KEY from environment when no key is set.
func New(opts ...Option) relay.Provider {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}

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
	client := anthropic.NewClient(clientOpts...)
	return &provider{cfg: cfg, client: client}
}

type provider struct {
	cfg    Config
	client anthropic.Client
}

func (p *provider) Stream(ctx context.Context, req relay.Request) (relay.Stream, error) {
	if req.Model == "" {
		return nil, relay.ErrNoModel
	}
	params, err := BuildParams(req)
	if err != nil {
		return nil, err
	}

	if p.cfg.ThinkingEnabled && p.cfg.ThinkingBudget != nil {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(*p.cfg.ThinkingBudget))
	}

	debug, err := base.NewDebugLogger(p.cfg.DebugPath, "anthropic")
	if err != nil {
		return nil, err
	}
	_ = debug.Request(req.Model, params)

	stream := p.client.Messages.NewStreaming(ctx, params)
	return newStream(req.Model, stream, debug), nil
}
