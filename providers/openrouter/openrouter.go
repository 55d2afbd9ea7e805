// Package openrouter adapts the OpenRouter API, a variation over the Chat
// Completions wire shape with provider-routing and reasoning extensions.
package openrouter

import (
	"context"
	"os"
	"strings"

	"github.com/modelrelay/relay"
	"github.com/modelrelay/relay/providers/base"
	cc "github.com/modelrelay/relay/providers/chatcompletion"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

func isClaudeModel(model string) bool {
	return strings.Contains(strings.ToLower(model), "claude")
}

// ReasoningEffort defines the effort level for reasoning models.
type ReasoningEffort string

const (
	ReasoningEffortHigh    ReasoningEffort = "high"
	ReasoningEffortMedium  ReasoningEffort = "medium"
	ReasoningEffortLow     ReasoningEffort = "low"
	ReasoningEffortMinimal ReasoningEffort = "minimal"
	ReasoningEffortNone    ReasoningEffort = "none"
)

// ProviderSortStrategy defines the sorting strategy for provider routing.
type ProviderSortStrategy string

const (
	ProviderSortPrice      ProviderSortStrategy = "price"
	ProviderSortThroughput ProviderSortStrategy = "throughput"
	ProviderSortLatency    ProviderSortStrategy = "latency"
)

// ProviderRouting configures OpenRouter's provider routing preferences.
type ProviderRouting struct {
	Order  []string
	Only   []string
	Ignore []string
	Sort   ProviderSortStrategy
}

// Config configures the OpenRouter provider.
type Config struct {
	base.Config

	ReasoningEffort ReasoningEffort
	ThinkingBudget  *int // reasoning token budget for Anthropic models
	ProviderRouting *ProviderRouting
}

// Option is a functional option for this provider.
type Option func(*Config)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
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

// WithReasoningEffort sets the reasoning effort level for reasoning models.
func WithReasoningEffort(effort ReasoningEffort) Option {
	return func(c *Config) { c.ReasoningEffort = effort }
}

// WithThinkingBudget configures the reasoning token budget for Anthropic models.
func WithThinkingBudget(maxTokens int) Option {
	return func(c *Config) { c.ThinkingBudget = &maxTokens }
}

// WithProviderRouting sets provider routing preferences.
func WithProviderRouting(routing ProviderRouting) Option {
	return func(c *Config) { c.ProviderRouting = &routing }
}

// New creates a Provider using the OpenRouter API.
// It reads OPENROUTER_API_KEY from environment if not explicitly set.
// The base URL is fixed to https://openrouter.ai/api/v1.
func New(opts ...Option) relay.Provider {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENROUTER_API_KEY")
	}
	cfg.BaseURL = defaultBaseURL
	return &provider{cfg: cfg}
}

type provider struct {
	cfg Config
}

func (p *provider) Stream(ctx context.Context, req relay.Request) (relay.Stream, error) {
	if req.Model == "" {
		return nil, relay.ErrNoModel
	}
	params, err := cc.BuildParams(req)
	if err != nil {
		return nil, err
	}

	clientOpts := p.clientOptions(req.Model)
	for k, v := range req.Options {
		clientOpts = append(clientOpts, option.WithJSONSet(k, v))
	}
	client := openai.NewClient(clientOpts...)

	debug, err := base.NewDebugLogger(p.cfg.DebugPath, "openrouter")
	if err != nil {
		return nil, err
	}
	_ = debug.Request(req.Model, params)

	stream := client.Chat.Completions.NewStreaming(ctx, params)
	return cc.NewStream(req.Model, stream, debug), nil
}

func (p *provider) clientOptions(model string) []option.RequestOption {
	opts := []option.RequestOption{
		option.WithAPIKey(p.cfg.APIKey),
		option.WithBaseURL(p.cfg.BaseURL),
		// Include usage info so cache/token counts arrive with the final chunk.
		option.WithJSONSet("usage", map[string]any{"include": true}),
	}
	for k, v := range p.cfg.ExtraHeaders {
		opts = append(opts, option.WithHeader(k, v))
	}

	if isClaudeModel(model) {
		opts = append(opts, option.WithHeader(
			"x-anthropic-beta",
			"fine-grained-tool-streaming-2025-05-14,interleaved-thinking-2025-05-14",
		))
	}

	if p.cfg.ThinkingBudget != nil {
		opts = append(opts, option.WithJSONSet("reasoning", map[string]any{
			"enable":     true,
			"max_tokens": *p.cfg.ThinkingBudget,
		}))
	} else if p.cfg.ReasoningEffort != "" {
		opts = append(opts, option.WithJSONSet("reasoning", map[string]any{
			"effort": string(p.cfg.ReasoningEffort),
		}))
	}

	if r := p.cfg.ProviderRouting; r != nil {
		routing := make(map[string]any)
		if len(r.Order) > 0 {
			routing["order"] = r.Order
		}
		if len(r.Only) > 0 {
			routing["only"] = r.Only
		}
		if len(r.Ignore) > 0 {
			routing["ignore"] = r.Ignore
		}
		if r.Sort != "" {
			routing["sort"] = string(r.Sort)
		}
		if len(routing) > 0 {
			opts = append(opts, option.WithJSONSet("provider", routing))
		}
	}

	return opts
}
