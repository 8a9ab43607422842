package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/coop/internal/provider"
	"github.com/haasonsaas/coop/internal/types"
)

// providerSummarizer adapts a *provider.Provider into compaction.Summarizer:
// a single non-streaming completion whose text chunks are concatenated.
type providerSummarizer struct {
	provider *provider.Provider
	model    string
}

func (s providerSummarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	chunks, err := s.provider.Complete(ctx, provider.CompletionRequest{
		Model:     s.model,
		Messages:  []types.Message{types.NewUserMessage(prompt, time.Now())},
		MaxTokens: 1024,
	})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}

	var b strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", fmt.Errorf("summarize: %w", chunk.Error)
		}
		b.WriteString(chunk.Text)
	}
	return b.String(), nil
}
