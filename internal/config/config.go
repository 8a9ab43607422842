// Package config loads coop.toml into a typed Config tree and holds it
// behind an atomic, hot-reloadable snapshot handle.
package config

import "github.com/haasonsaas/coop/internal/types"

// Config is Coop's full configuration, as loaded from coop.toml.
type Config struct {
	Agent    AgentConfig    `toml:"agent"`
	Provider ProviderConfig `toml:"provider"`
	Users    []UserConfig   `toml:"users"`
	Memory   MemoryConfig   `toml:"memory"`
	Prompt   PromptConfig   `toml:"prompt"`
	Cron     []CronEntry    `toml:"cron"`
	Sandbox  SandboxConfig  `toml:"sandbox"`
	Tools    ToolsConfig    `toml:"tools"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// MetricsConfig controls the optional Prometheus metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// AgentConfig names the agent and its home workspace. Restart-only: changing
// id or workspace mid-run would orphan sessions and sandboxed file access.
type AgentConfig struct {
	ID        string `toml:"id"`
	Model     string `toml:"model"`
	Workspace string `toml:"workspace"`
}

// ProviderConfig names the completion backend and its credential refs.
// Name is restart-only; a hot-reload that changes ApiKeys is accepted, but
// the running credential pool keeps the keys it was built with at startup.
type ProviderConfig struct {
	Name    string   `toml:"name"`
	ApiKeys []string `toml:"api_keys"`
}

// UserConfig is one [[users]] entry: a named identity, its trust level, the
// inbound match patterns that resolve to it, and an optional sandbox
// override.
type UserConfig struct {
	Name    string   `toml:"name"`
	Trust   string   `toml:"trust"`
	Match   []string `toml:"match"`
	Sandbox *UserSandboxConfig `toml:"sandbox"`
}

// UserSandboxConfig overrides the global [sandbox] defaults for one user.
type UserSandboxConfig struct {
	AllowNetwork *bool   `toml:"allow_network"`
	Memory       *string `toml:"memory"`
	PIDsLimit    *int    `toml:"pids_limit"`
	LongLived    *bool   `toml:"long_lived"`
}

// MemoryConfig configures the structured memory store. DBPath and Embedding
// are restart-only — changing the backing file or the vector dimension out
// from under a live store would corrupt recall.
type MemoryConfig struct {
	DBPath      string            `toml:"db_path"`
	PromptIndex PromptIndexConfig `toml:"prompt_index"`
	AutoCapture AutoCaptureConfig `toml:"auto_capture"`
	Retention   RetentionConfig   `toml:"retention"`
	Embedding   *EmbeddingConfig  `toml:"embedding"`
}

// PromptIndexConfig bounds how much of the memory store is surfaced as a
// "priced menu" in the system prompt.
type PromptIndexConfig struct {
	MaxEntries int `toml:"max_entries"`
	MaxTokens  int `toml:"max_tokens"`
}

// AutoCaptureConfig toggles automatic observation capture from turns.
type AutoCaptureConfig struct {
	Enabled         bool `toml:"enabled"`
	MinTurnMessages int  `toml:"min_turn_messages"`
}

// RetentionConfig bounds the compress/archive/delete maintenance pipeline.
// DeleteArchiveAfterDays must be >= ArchiveAfterDays.
type RetentionConfig struct {
	CompressAfterDays      int `toml:"compress_after_days"`
	ArchiveAfterDays       int `toml:"archive_after_days"`
	DeleteArchiveAfterDays int `toml:"delete_archive_after_days"`
}

// EmbeddingConfig configures the optional embedding backend for semantic
// recall. A nil *EmbeddingConfig disables embeddings; recall then ranks on
// full-text search alone.
type EmbeddingConfig struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	ApiKey   string `toml:"api_key"`
}

// PromptConfig lists the workspace files layered into the system prompt.
type PromptConfig struct {
	SharedFiles []PromptFileConfig `toml:"shared_files"`
	UserFiles   []PromptFileConfig `toml:"user_files"`
}

// PromptFileConfig is one [[prompt.shared_files]] / [[prompt.user_files]]
// entry.
type PromptFileConfig struct {
	Path        string `toml:"path"`
	Trust       string `toml:"trust"`
	Cache       string `toml:"cache"`
	Description string `toml:"description"`
}

// CronEntry is one [[cron]] recurring job.
type CronEntry struct {
	Name    string           `toml:"name"`
	Cron    string           `toml:"cron"`
	Message string           `toml:"message"`
	User    string           `toml:"user"`
	Deliver *DeliveryConfig  `toml:"deliver"`
	Sandbox *UserSandboxConfig `toml:"sandbox"`
}

// DeliveryConfig names where a cron entry's response should be sent.
type DeliveryConfig struct {
	Channel string `toml:"channel"`
	Target  string `toml:"target"`
}

// SandboxConfig is the global [sandbox] default policy.
type SandboxConfig struct {
	Enabled      bool   `toml:"enabled"`
	AllowNetwork bool   `toml:"allow_network"`
	Memory       string `toml:"memory"`
	PIDsLimit    int    `toml:"pids_limit"`
	LongLived    bool   `toml:"long_lived"`
}

// ToolsConfig groups the interface-boundary config for tools that have one.
type ToolsConfig struct {
	Web WebToolsConfig `toml:"web"`
}

// WebToolsConfig is the [tools.web.search] / [tools.web.fetch] section.
type WebToolsConfig struct {
	Search WebSearchConfig `toml:"search"`
	Fetch  WebFetchConfig  `toml:"fetch"`
}

// WebSearchConfig configures the (interface-only) web search tool.
type WebSearchConfig struct {
	Provider       string `toml:"provider"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxResults     int    `toml:"max_results"`
}

// WebFetchConfig configures the web_fetch tool.
type WebFetchConfig struct {
	MaxChars       int `toml:"max_chars"`
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// TrustLevel parses Trust, defaulting to TrustPublic on an empty or invalid
// value — callers that care about a bad value should validate separately.
func (u UserConfig) TrustLevel() types.TrustLevel {
	t, err := types.ParseTrustLevel(u.Trust)
	if err != nil {
		return types.TrustPublic
	}
	return t
}
