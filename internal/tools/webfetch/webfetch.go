// Package webfetch implements the "web_fetch" tool: a GET over HTTP(S),
// bounded by a byte cap and a timeout. Search and rendering are out of
// scope — this is the interface boundary SPEC_FULL.md names under
// [tools.web.fetch], nothing more.
package webfetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/haasonsaas/coop/internal/tools"
)

const (
	defaultMaxChars       = 20_000
	defaultTimeoutSeconds = 15

	// maxConcurrentFetches is both the per-second refill rate and the burst
	// of the tool's token-bucket limiter, shared by every session that
	// invokes the tool. It caps how fast fetches start, not how many are in
	// flight at once.
	maxConcurrentFetches = 4
)

// Tool is the "web_fetch" tool.
type Tool struct {
	maxChars int
	timeout  time.Duration
	client   *http.Client
	limiter  *rate.Limiter
}

// New builds a web-fetch tool. maxChars <= 0 and timeoutSeconds <= 0 fall
// back to their defaults.
func New(maxChars, timeoutSeconds int) *Tool {
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = defaultTimeoutSeconds
	}
	return &Tool{
		maxChars: maxChars,
		timeout:  time.Duration(timeoutSeconds) * time.Second,
		client:   &http.Client{},
		limiter:  rate.NewLimiter(rate.Limit(maxConcurrentFetches), maxConcurrentFetches),
	}
}

func (t *Tool) Name() string { return "web_fetch" }

func (t *Tool) Description() string {
	return "Fetch a URL over HTTP(S) and return its body text, truncated to a configured character limit."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"required": ["url"],
		"properties": {
			"url": {"type": "string", "description": "The http(s) URL to fetch"}
		}
	}`)
}

func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	var input struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return tools.Result{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}

	parsed, err := url.Parse(strings.TrimSpace(input.URL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return tools.Result{Content: "url must be an http(s) URL", IsError: true}, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if err := t.limiter.Wait(reqCtx); err != nil {
		return tools.Result{Content: fmt.Sprintf("rate limit wait: %v", err), IsError: true}, nil
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return tools.Result{Content: fmt.Sprintf("build request: %v", err), IsError: true}, nil
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return tools.Result{Content: fmt.Sprintf("fetch %s: %v", parsed, err), IsError: true}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.maxChars)+1))
	if err != nil {
		return tools.Result{Content: fmt.Sprintf("read response: %v", err), IsError: true}, nil
	}

	if resp.StatusCode >= 400 {
		return tools.Result{Content: fmt.Sprintf("%s returned status %d", parsed, resp.StatusCode), IsError: true}, nil
	}

	text := string(body)
	if len(text) > t.maxChars {
		text = text[:t.maxChars] + fmt.Sprintf("\n[truncated at %d chars]", t.maxChars)
	}
	return tools.Result{Content: text}, nil
}
