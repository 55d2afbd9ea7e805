// Package gemini adapts the Google Gemini API to the relay canonical event
// stream. Tool calls arrive as complete FunctionCall parts rather than
// argument fragments, so each call produces exactly one fragment with fully
// merged arguments.
package gemini

import (
	"context"
	"sync"

	"github.com/modelrelay/relay"
	"github.com/modelrelay/relay/providers/base"
	"google.golang.org/genai"
)

// Config configures the Gemini provider.
type Config struct {
	base.Config

	// Vertex AI options; zero values select the public Gemini API backend.
	Backend  genai.Backend
	Project  string
	Location string

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

// WithVertex routes requests through Vertex AI for the given project and location.
func WithVertex(project, location string) Option {
	return func(c *Config) {
		c.Backend = genai.BackendVertexAI
		c.Project = project
		c.Location = location
	}
}

// WithThinking enables thought summaries with an optional token budget.
func WithThinking(budget int) Option {
	return func(c *Config) {
		c.ThinkingEnabled = true
		c.ThinkingBudget = &budget
	}
}

// New creates a Provider using the Gemini API.
// The SDK reads GEMINI_API_KEY / GOOGLE_API_KEY from environment when no key
// is set. The client is constructed once, on first Stream, because genai
// client creation requires a context.
func New(opts ...Option) relay.Provider {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &provider{cfg: cfg}
}

type provider struct {
	cfg Config

	clientOnce sync.Once
	client     *genai.Client
	clientErr  error
}

func (p *provider) Stream(ctx context.Context, req relay.Request) (relay.Stream, error) {
	if req.Model == "" {
		return nil, relay.ErrNoModel
	}
	client, err := p.ensureClient(ctx)
	if err != nil {
		return nil, err
	}

	contents, config, err := BuildParams(req)
	if err != nil {
		return nil, err
	}
	if p.cfg.ThinkingEnabled {
		config.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
		if p.cfg.ThinkingBudget != nil {
			budget := int32(*p.cfg.ThinkingBudget)
			config.ThinkingConfig.ThinkingBudget = &budget
		}
	}

	debug, err := base.NewDebugLogger(p.cfg.DebugPath, "gemini")
	if err != nil {
		return nil, err
	}
	_ = debug.Request(req.Model, contents)

	seq := client.Models.GenerateContentStream(ctx, req.Model, contents, config)
	return newStream(req.Model, seq, debug), nil
}

// ensureClient builds the shared genai client on first use. A provider value
// serves concurrent Stream calls, so the init is guarded.
func (p *provider) ensureClient(ctx context.Context) (*genai.Client, error) {
	p.clientOnce.Do(func() {
		p.client, p.clientErr = p.newClient(ctx)
	})
	return p.client, p.clientErr
}

func (p *provider) newClient(ctx context.Context) (*genai.Client, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:   p.cfg.APIKey,
		Backend:  p.cfg.Backend,
		Project:  p.cfg.Project,
		Location: p.cfg.Location,
	}
	if p.cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: p.cfg.BaseURL}
	}
	return genai.NewClient(ctx, clientCfg)
}
