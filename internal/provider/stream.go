package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/coop/internal/types"
)

// streamOnce issues a single streaming request against client, forwarding
// chunks to out and updating the pool's rate-limit bookkeeping for keyIndex
// from the response headers regardless of outcome.
func (p *Provider) streamOnce(ctx context.Context, client anthropic.Client, keyIndex int, params anthropic.MessageNewParams, out chan<- CompletionChunk) error {
	var headers http.Header
	captureHeaders := option.WithMiddleware(func(r *http.Request, next option.MiddlewareNext) (*http.Response, error) {
		resp, err := next(r)
		if resp != nil {
			headers = resp.Header
		}
		return resp, err
	})

	stream := client.Messages.NewStreaming(ctx, params, captureHeaders)

	var inputTokens, outputTokens int
	var thinkingOpen bool

	for stream.Next() {
		event := stream.Current()

		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if variant.ContentBlock.Type == "thinking" {
				thinkingOpen = true
				out <- CompletionChunk{ThinkingStart: true}
			}

		case anthropic.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				out <- CompletionChunk{Text: delta.Text}
			case anthropic.ThinkingDelta:
				out <- CompletionChunk{Thinking: delta.Thinking}
			}

		case anthropic.ContentBlockStopEvent:
			if thinkingOpen {
				thinkingOpen = false
				out <- CompletionChunk{ThinkingEnd: true}
			}

		case anthropic.MessageDeltaEvent:
			if variant.Usage.OutputTokens > 0 {
				outputTokens = int(variant.Usage.OutputTokens)
			}

		case anthropic.MessageStartEvent:
			inputTokens = int(variant.Message.Usage.InputTokens)
		}
	}

	if headers != nil {
		p.pool.UpdateFromHeaders(keyIndex, headers)
	}

	if err := stream.Err(); err != nil {
		if retryAfter, ok := retryAfterFromError(err, headers); ok {
			return &rateLimitError{retryAfter: retryAfter}
		}
		return err
	}

	msg := stream.Message()
	for _, block := range msg.Content {
		if tu, ok := block.AsAny().(anthropic.ToolUseBlock); ok {
			args, _ := json.Marshal(tu.Input)
			toolBlock := types.ToolRequestBlock(tu.ID, tu.Name, args)
			out <- CompletionChunk{ToolCall: &toolBlock}
		}
	}

	out <- CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
	return nil
}

func retryAfterFromError(err error, headers http.Header) (time.Duration, bool) {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusTooManyRequests {
		return 0, false
	}
	if headers == nil {
		return 30 * time.Second, true
	}
	if v := headers.Get("retry-after"); v != "" {
		if secs, convErr := strconv.Atoi(v); convErr == nil {
			return time.Duration(secs) * time.Second, true
		}
	}
	return 30 * time.Second, true
}
