package prompt

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/haasonsaas/coop/internal/types"
)

// defaultTokenBudget is the ceiling for the assembled system prompt. The
// runtimeReserve below is taken out of it before file layers are placed,
// leaving room for the always-present runtime context layer.
const defaultTokenBudget = 30_000

const runtimeReserve = 500

// Builder assembles a trust-gated, token-budgeted system prompt from
// workspace files, a per-user directory, a channel override, and the
// runtime/skills context.
type Builder struct {
	workspace     string
	agentID       string
	trust         types.TrustLevel
	sessionKind   string
	model         string
	channel       string
	user          string
	tokenBudget   int
	fileSpecs     []FileSpec
	userFileSpecs []FileSpec
	skills        []SkillEntry
	now           func() time.Time
	logger        *slog.Logger
	extraMenu     []MemoryIndexEntry
}

// Option configures a Builder at construction time.
type Option func(*Builder)

func WithTrust(t types.TrustLevel) Option      { return func(b *Builder) { b.trust = t } }
func WithSessionKind(kind string) Option       { return func(b *Builder) { b.sessionKind = kind } }
func WithModel(model string) Option            { return func(b *Builder) { b.model = model } }
func WithChannel(channel string) Option        { return func(b *Builder) { b.channel = channel } }
func WithUser(user string) Option              { return func(b *Builder) { b.user = user } }
func WithTokenBudget(budget int) Option        { return func(b *Builder) { b.tokenBudget = budget } }
func WithFileSpecs(specs []FileSpec) Option    { return func(b *Builder) { b.fileSpecs = specs } }
func WithUserFileSpecs(specs []FileSpec) Option { return func(b *Builder) { b.userFileSpecs = specs } }
func WithSkills(skills []SkillEntry) Option    { return func(b *Builder) { b.skills = skills } }
func WithClock(now func() time.Time) Option    { return func(b *Builder) { b.now = now } }
func WithLogger(logger *slog.Logger) Option    { return func(b *Builder) { b.logger = logger } }

// WithExtraMenuEntries adds entries to the priced menu layer that don't
// come from a workspace file — e.g. a recent-memory index supplied by the
// memory store, the Rust original's recent_memory_index build() argument.
func WithExtraMenuEntries(entries []MemoryIndexEntry) Option {
	return func(b *Builder) { b.extraMenu = entries }
}

// NewBuilder builds a Builder for the given workspace/agent, defaulting to
// public trust, the conventional file set, and a 30k token budget.
func NewBuilder(workspace, agentID string, opts ...Option) *Builder {
	b := &Builder{
		workspace:   workspace,
		agentID:     agentID,
		trust:       types.TrustPublic,
		tokenBudget: defaultTokenBudget,
		fileSpecs:   DefaultFileSpecs(),
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build assembles the prompt against a pre-scanned index.
func (b *Builder) Build(index *WorkspaceIndex) (*BuiltPrompt, error) {
	fileBudget := b.tokenBudget - runtimeReserve
	if fileBudget < 0 {
		fileBudget = 0
	}

	layers, used, overflow, err := b.buildFileLayers(index, fileBudget)
	if err != nil {
		return nil, err
	}

	if b.user != "" && len(b.userFileSpecs) > 0 {
		remaining := fileBudget - used
		userDir := filepath.Join(b.workspace, "users", b.user)
		extraLayers, extraTokens, extraOverflow, err := b.buildScopedFileLayers(userDir, b.userFileSpecs, remaining)
		if err != nil {
			return nil, err
		}
		used += extraTokens
		layers = append(layers, extraLayers...)
		overflow = append(overflow, extraOverflow...)
	}

	if layer, ok := b.buildChannelContext(); ok {
		used += layer.Tokens
		layers = append(layers, layer)
	}

	runtime := b.buildRuntimeContext()
	used += runtime.Tokens
	layers = append(layers, PromptLayer{Name: "runtime", Content: runtime.Content, Tokens: runtime.Tokens, Cache: CacheVolatile})

	if len(b.skills) > 0 {
		skillsLayer := renderSkills(b.skills)
		used += skillsLayer.Tokens
		layers = append(layers, PromptLayer{Name: "skills", Content: skillsLayer.Content, Tokens: skillsLayer.Tokens, Cache: CacheStable})
	}

	budgetRemaining := b.tokenBudget - used
	menu := b.buildMenu(index, layers, overflow)
	menu = append(menu, b.extraMenu...)
	if len(menu) > 0 {
		rendered := renderMenu(menu, budgetRemaining)
		layers = append(layers, PromptLayer{Name: "memory_index", Content: rendered.Content, Tokens: rendered.Tokens, Cache: CacheVolatile})
	}

	totalTokens := 0
	for _, l := range layers {
		totalTokens += l.Tokens
	}

	b.logger.Debug("prompt built",
		"agent", b.agentID,
		"total_tokens", totalTokens,
		"budget_remaining", b.tokenBudget-totalTokens,
		"layer_count", len(layers),
	)

	return &BuiltPrompt{
		Layers:          layers,
		TotalTokens:     totalTokens,
		AvailableByTool: menu,
		BudgetRemaining: b.tokenBudget - totalTokens,
	}, nil
}

// buildFileLayers trust-gates and budget-checks each configured shared
// workspace file, including it verbatim, truncating it, or overflowing it
// to the menu.
func (b *Builder) buildFileLayers(index *WorkspaceIndex, fileBudget int) ([]PromptLayer, int, []MemoryIndexEntry, error) {
	var layers []PromptLayer
	var overflow []MemoryIndexEntry
	used := 0

	for _, spec := range b.fileSpecs {
		if !b.trust.AtLeast(spec.MinTrust) {
			continue
		}

		indexed, ok := index.get(spec.Path)
		if !ok {
			continue
		}

		remaining := fileBudget - used
		if remaining <= 0 {
			overflow = append(overflow, indexed.entry)
			continue
		}

		if indexed.entry.Tokens <= remaining {
			content, err := os.ReadFile(filepath.Join(b.workspace, spec.Path))
			if err != nil {
				return nil, 0, nil, fmt.Errorf("prompt: read %s: %w", spec.Path, err)
			}
			counted := NewCounted(string(content))
			used += counted.Tokens
			layers = append(layers, PromptLayer{
				Name:    layerName(spec.Path),
				Content: layerHeader(spec.Path) + "\n" + counted.Content,
				Tokens:  counted.Tokens,
				Cache:   spec.Cache,
			})
		} else if remaining >= 200 {
			content, err := os.ReadFile(filepath.Join(b.workspace, spec.Path))
			if err != nil {
				return nil, 0, nil, fmt.Errorf("prompt: read %s: %w", spec.Path, err)
			}
			truncated := truncateToBudget(string(content), spec.Path, remaining)
			used += truncated.Tokens
			layers = append(layers, PromptLayer{
				Name:    layerName(spec.Path),
				Content: layerHeader(spec.Path) + "\n" + truncated.Content,
				Tokens:  truncated.Tokens,
				Cache:   spec.Cache,
			})
		} else {
			overflow = append(overflow, indexed.entry)
		}
	}

	return layers, used, overflow, nil
}

// buildScopedFileLayers processes files from an arbitrary root directory
// (used for the per-user file set), which isn't covered by the shared
// WorkspaceIndex.
func (b *Builder) buildScopedFileLayers(root string, specs []FileSpec, budget int) ([]PromptLayer, int, []MemoryIndexEntry, error) {
	var layers []PromptLayer
	var overflow []MemoryIndexEntry
	used := 0

	for _, spec := range specs {
		if !b.trust.AtLeast(spec.MinTrust) {
			continue
		}

		content, err := os.ReadFile(filepath.Join(root, spec.Path))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, 0, nil, fmt.Errorf("prompt: read user file %s: %w", spec.Path, err)
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}

		counted := NewCounted(string(content))
		remaining := budget - used

		switch {
		case remaining <= 0:
			overflow = append(overflow, MemoryIndexEntry{Path: "user:" + spec.Path, Tokens: counted.Tokens, Description: spec.Description, MinTrust: spec.MinTrust})
		case counted.Tokens <= remaining:
			used += counted.Tokens
			layers = append(layers, PromptLayer{
				Name:    "user_file",
				Content: fmt.Sprintf("## %s (user)\n%s", spec.Path, counted.Content),
				Tokens:  counted.Tokens,
				Cache:   spec.Cache,
			})
		case remaining >= 200:
			truncated := truncateToBudget(string(content), spec.Path, remaining)
			used += truncated.Tokens
			layers = append(layers, PromptLayer{
				Name:    "user_file",
				Content: fmt.Sprintf("## %s (user)\n%s", spec.Path, truncated.Content),
				Tokens:  truncated.Tokens,
				Cache:   spec.Cache,
			})
		default:
			overflow = append(overflow, MemoryIndexEntry{Path: "user:" + spec.Path, Tokens: counted.Tokens, Description: spec.Description, MinTrust: spec.MinTrust})
		}
	}

	return layers, used, overflow, nil
}

func renderSkills(skills []SkillEntry) Counted {
	lines := []string{
		"## Skills",
		"",
		"The following skills provide specialized instructions for specific tasks.",
		"Use read_file to load a skill when the task matches its description.",
		"",
	}
	for _, s := range skills {
		lines = append(lines, fmt.Sprintf("- **%s** (`%s`) — %s", s.Name, s.Path, s.Description))
	}
	return NewCounted(strings.Join(lines, "\n"))
}

// buildChannelContext looks for a workspace override at
// channels/<family>.md, falling back to a built-in default for known
// channel families.
func (b *Builder) buildChannelContext() (PromptLayer, bool) {
	if b.channel == "" {
		return PromptLayer{}, false
	}

	family := ChannelFamily(b.channel)
	relPath := filepath.Join("channels", family+".md")

	var content string
	if raw, err := os.ReadFile(filepath.Join(b.workspace, relPath)); err == nil && strings.TrimSpace(string(raw)) != "" {
		content = string(raw)
	} else if builtin, ok := defaultChannelPrompt(b.channel); ok {
		content = builtin
	} else {
		return PromptLayer{}, false
	}

	counted := NewCounted(fmt.Sprintf("## Channel: %s\n%s", family, content))
	return PromptLayer{Name: "channel_context", Content: counted.Content, Tokens: counted.Tokens, Cache: CacheSession}, true
}

func (b *Builder) buildRuntimeContext() Counted {
	parts := []string{"## Runtime"}
	parts = append(parts, fmt.Sprintf("- Date/time: %s", b.now().Format("2006-01-02 15:04 MST")))
	parts = append(parts, fmt.Sprintf("- Agent: %s", b.agentID))

	if b.model != "" {
		parts = append(parts, fmt.Sprintf("- Model: %s", b.model))
	}
	if b.channel != "" {
		parts = append(parts, fmt.Sprintf("- Channel: %s", b.channel))
	}
	if b.sessionKind != "" {
		parts = append(parts, fmt.Sprintf("- Session: %s", b.sessionKind))
	}
	if b.user != "" {
		parts = append(parts, fmt.Sprintf("- User: %s", b.user))
		parts = append(parts, fmt.Sprintf("- User home: users/%s/", b.user))
	}
	parts = append(parts, fmt.Sprintf("- Trust: %s", b.trust))

	return NewCounted(strings.Join(parts, "\n"))
}

// buildMenu collects entries for the priced menu: files that overflowed
// plus trust-visible files that were never inlined in the first place.
func (b *Builder) buildMenu(index *WorkspaceIndex, inlined []PromptLayer, overflow []MemoryIndexEntry) []MemoryIndexEntry {
	inlinedNames := make(map[string]bool, len(inlined))
	for _, l := range inlined {
		inlinedNames[l.Name] = true
	}
	overflowPaths := make(map[string]bool, len(overflow))
	for _, e := range overflow {
		overflowPaths[e.Path] = true
	}

	menu := append([]MemoryIndexEntry(nil), overflow...)
	for _, entry := range index.EntriesForTrust(b.trust) {
		if inlinedNames[layerName(entry.Path)] || overflowPaths[entry.Path] {
			continue
		}
		menu = append(menu, entry)
	}
	return menu
}

func renderMenu(entries []MemoryIndexEntry, budgetRemaining int) Counted {
	lines := []string{"## Available Context"}
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("- %s (%d tok) — %s", e.Path, e.Tokens, e.Description))
	}
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("Use memory_get to load what you need. Budget: ~%dk remaining.", budgetRemaining/1000))
	return NewCounted(strings.Join(lines, "\n"))
}

func layerHeader(path string) string { return "## " + path }

// layerName derives a stable layer identifier from a file's path. Files
// outside the known conventional set share the generic "workspace_file"
// name, which is fine since there are only ever a handful of them.
func layerName(path string) string {
	switch path {
	case "SOUL.md":
		return "soul"
	case "AGENTS.md":
		return "agents"
	case "TOOLS.md":
		return "tools"
	case "IDENTITY.md":
		return "identity"
	case "BOOTSTRAP.md":
		return "bootstrap"
	case "USER.md":
		return "user"
	case "MEMORY.md":
		return "memory"
	case "HEARTBEAT.md":
		return "heartbeat"
	default:
		return "workspace_file"
	}
}
