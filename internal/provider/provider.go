// Package provider wraps the Anthropic SDK behind a streaming interface that
// rotates credentials through a Pool and feeds rate-limit headers back into
// it, so callers never see a 429 unless every configured key is cooling down.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/coop/internal/credpool"
	"github.com/haasonsaas/coop/internal/types"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultMaxTokens = 4096
	maxRetries       = 3
	defaultModel     = "claude-sonnet-4-5-20250929"
)

// CompletionRequest is a provider-agnostic completion call.
type CompletionRequest struct {
	Model                string
	System               string
	Messages             []types.Message
	Tools                []ToolDef
	MaxTokens            int
	EnableThinking       bool
	ThinkingBudgetTokens int
}

// ToolDef is the schema the model sees for one callable tool.
type ToolDef struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// CompletionChunk is one piece of a streamed response. Exactly one of
// Text/Thinking/ToolCall/Error is meaningful per chunk; Done marks the end.
type CompletionChunk struct {
	Text          string
	Thinking      string
	ThinkingStart bool
	ThinkingEnd   bool
	ToolCall      *types.Block
	Done          bool
	Error         error
	InputTokens   int
	OutputTokens  int
}

// Provider drives chat completions against Anthropic, rotating through a
// credential Pool and retrying on rate limits / transient 5xxs.
type Provider struct {
	pool       *credpool.Pool
	httpClient *http.Client
	timeout    time.Duration
	baseURL    string
}

// Option configures a Provider at construction time.
type Option func(*Provider)

func WithTimeout(d time.Duration) Option   { return func(p *Provider) { p.timeout = d } }
func WithHTTPClient(c *http.Client) Option { return func(p *Provider) { p.httpClient = c } }

// WithBaseURL overrides the Anthropic API base URL. Mainly useful for
// pointing a Provider at a test server.
func WithBaseURL(url string) Option { return func(p *Provider) { p.baseURL = url } }

// New builds a Provider backed by pool for credential rotation.
func New(pool *credpool.Pool, opts ...Option) *Provider {
	p := &Provider{pool: pool, httpClient: http.DefaultClient, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Complete streams a completion, retrying on 429/5xx by rotating to the
// pool's next-best key. The returned channel is closed after a terminal
// Done or Error chunk.
func (p *Provider) Complete(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, error) {
	out := make(chan CompletionChunk, 16)

	go func() {
		defer close(out)

		ctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		var lastErr error
		for attempt := 0; attempt < maxRetries; attempt++ {
			keyIndex := p.pool.BestKey()
			key, _ := p.pool.Get(keyIndex)

			clientOpts := []option.RequestOption{
				option.WithAPIKey(key),
				option.WithHTTPClient(p.httpClient),
			}
			if p.baseURL != "" {
				clientOpts = append(clientOpts, option.WithBaseURL(p.baseURL))
			}
			client := anthropic.NewClient(clientOpts...)

			params, buildErr := buildMessageParams(req)
			if buildErr != nil {
				out <- CompletionChunk{Error: buildErr, Done: true}
				return
			}

			err := p.streamOnce(ctx, client, keyIndex, params, out)
			if err == nil {
				return
			}
			lastErr = err

			var rl *rateLimitError
			if errors.As(err, &rl) {
				p.pool.MarkRateLimited(keyIndex, rl.retryAfter)
				continue
			}
			if isTransient(err) {
				continue
			}

			out <- CompletionChunk{Error: err, Done: true}
			return
		}

		out <- CompletionChunk{Error: fmt.Errorf("provider: exhausted retries: %w", lastErr), Done: true}
	}()

	return out, nil
}

type rateLimitError struct {
	retryAfter time.Duration
}

func (e *rateLimitError) Error() string { return "rate limited" }

func isTransient(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	return false
}

func buildMessageParams(req CompletionRequest) (anthropic.MessageNewParams, error) {
	messages, err := toAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(orDefault(req.Model, defaultModel)),
		MaxTokens: int64(orDefaultInt(req.MaxTokens, defaultMaxTokens)),
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := toAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	if req.EnableThinking {
		budget := req.ThinkingBudgetTokens
		if budget <= 0 {
			budget = 4096
		}
		params.Thinking = anthropic.ThinkingConfigParamUnion{
			OfEnabled: &anthropic.ThinkingConfigEnabledParam{BudgetTokens: int64(budget)},
		}
	}
	return params, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func orDefaultInt(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
