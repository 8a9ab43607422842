// Package prompt assembles the system prompt from layered workspace files,
// trust-gating each layer and truncating or overflowing it to a "priced
// menu" the agent can fetch on demand when the token budget runs out.
package prompt

// CountTokens estimates the token cost of text. No tokenizer library is
// wired (see DESIGN.md); this mirrors the chars/4 fallback the original
// implementation uses when its BPE tokenizer feature is disabled, which is
// plenty accurate for prompt budgeting.
func CountTokens(text string) int {
	return len(text) / 4
}

// Counted pairs content with its estimated token cost.
type Counted struct {
	Content string
	Tokens  int
}

// NewCounted counts content's tokens on construction.
func NewCounted(content string) Counted {
	return Counted{Content: content, Tokens: CountTokens(content)}
}
