package prompt

import "github.com/haasonsaas/coop/internal/types"

// CacheHint describes how often a layer's content changes. It is recorded
// on each PromptLayer; Builder.Build concatenates layers in its fixed build
// order and does not reorder them by hint.
type CacheHint int

const (
	CacheStable CacheHint = iota
	CacheSession
	CacheVolatile
)

func (h CacheHint) String() string {
	switch h {
	case CacheStable:
		return "stable"
	case CacheSession:
		return "session"
	case CacheVolatile:
		return "volatile"
	default:
		return "unknown"
	}
}

// FileSpec configures one workspace file that may be included in the
// prompt: cmd/coop converts the config's [prompt] shared_files/user_files
// entries into these.
type FileSpec struct {
	Path        string
	MinTrust    types.TrustLevel
	Cache       CacheHint
	Description string
}

// DefaultFileSpecs are the conventional prompt layer files, trust-gated the
// way a layered agent identity is meant to be: personality and behavior are
// visible further out than per-user notes and curated memory.
func DefaultFileSpecs() []FileSpec {
	return []FileSpec{
		{Path: "SOUL.md", MinTrust: types.TrustFamiliar, Cache: CacheStable, Description: "Agent personality and voice"},
		{Path: "AGENTS.md", MinTrust: types.TrustFamiliar, Cache: CacheStable, Description: "Behavioral instructions"},
		{Path: "TOOLS.md", MinTrust: types.TrustFamiliar, Cache: CacheSession, Description: "Tool setup notes"},
		{Path: "IDENTITY.md", MinTrust: types.TrustFamiliar, Cache: CacheSession, Description: "Agent identity"},
		{Path: "BOOTSTRAP.md", MinTrust: types.TrustPublic, Cache: CacheStable, Description: "First-run bootstrap instructions"},
		{Path: "USER.md", MinTrust: types.TrustInner, Cache: CacheSession, Description: "Per-user info"},
		{Path: "MEMORY.md", MinTrust: types.TrustFull, Cache: CacheSession, Description: "Long-term curated memory"},
		{Path: "HEARTBEAT.md", MinTrust: types.TrustFull, Cache: CacheVolatile, Description: "Periodic check tasks"},
	}
}

// MemoryIndexEntry is one row of the "priced menu" offered to the agent for
// content that didn't fit the token budget.
type MemoryIndexEntry struct {
	Path        string
	Tokens      int
	Description string
	MinTrust    types.TrustLevel
}

// PromptLayer is a single assembled section of the final prompt.
type PromptLayer struct {
	Name    string
	Content string
	Tokens  int
	Cache   CacheHint
}

// BuiltPrompt is the fully assembled, budget-checked system prompt.
type BuiltPrompt struct {
	Layers          []PromptLayer
	TotalTokens     int
	AvailableByTool []MemoryIndexEntry
	BudgetRemaining int
}

// ToFlatString concatenates every layer into the literal system prompt text.
func (b BuiltPrompt) ToFlatString() string {
	var out string
	for i, l := range b.Layers {
		if i > 0 {
			out += "\n\n"
		}
		out += l.Content
	}
	return out
}

// SkillEntry is one skill discovered from a skills/<name>/SKILL.md file.
type SkillEntry struct {
	Name        string
	Description string
	// Path is relative to the workspace, e.g. "skills/tmux/SKILL.md".
	Path string
}
