package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/haasonsaas/coop/internal/scheduler"
	"github.com/haasonsaas/coop/internal/types"
)

// Validate checks a freshly-loaded Config for internal consistency: cron
// syntax, env var existence for api_keys, trust enum values, and the
// retention day-ordering invariant. Surfaced at load time; prevents startup
// on failure. ValidateForReload also runs it on a hot-reload candidate
// before comparing restart-only fields.
func Validate(c *Config) error {
	if strings.TrimSpace(c.Agent.ID) == "" {
		return fmt.Errorf("agent.id is required")
	}
	if strings.TrimSpace(c.Agent.Workspace) == "" {
		return fmt.Errorf("agent.workspace is required")
	}
	if strings.TrimSpace(c.Provider.Name) == "" {
		return fmt.Errorf("provider.name is required")
	}
	if _, err := resolveKeyRefs(c.Provider.ApiKeys); err != nil {
		return fmt.Errorf("provider.api_keys: %w", err)
	}

	for _, u := range c.Users {
		if strings.TrimSpace(u.Name) == "" {
			return fmt.Errorf("users: name is required")
		}
		if _, err := types.ParseTrustLevel(u.Trust); err != nil {
			return fmt.Errorf("users[%s].trust: %w", u.Name, err)
		}
	}

	for _, entry := range c.Cron {
		if strings.TrimSpace(entry.Name) == "" {
			return fmt.Errorf("cron: name is required")
		}
		if _, err := scheduler.ParseCron(entry.Cron); err != nil {
			return fmt.Errorf("cron[%s]: %w", entry.Name, err)
		}
	}

	r := c.Memory.Retention
	if r.DeleteArchiveAfterDays > 0 && r.ArchiveAfterDays > 0 && r.DeleteArchiveAfterDays < r.ArchiveAfterDays {
		return fmt.Errorf("memory.retention.delete_archive_after_days (%d) must be >= archive_after_days (%d)",
			r.DeleteArchiveAfterDays, r.ArchiveAfterDays)
	}

	return nil
}

// resolveKeyRefs validates that every api_keys entry uses the "env:VAR"
// form and names a variable that's actually set; it does not return the
// resolved values (that's credpool.ResolveKeyRefs's job at startup).
func resolveKeyRefs(refs []string) error {
	for _, ref := range refs {
		varName, ok := strings.CutPrefix(ref, "env:")
		if !ok {
			return fmt.Errorf("entry %q must use the 'env:' prefix (e.g. env:ANTHROPIC_API_KEY)", ref)
		}
		if _, set := os.LookupEnv(varName); !set {
			return fmt.Errorf("environment variable %q referenced by %q is not set", varName, ref)
		}
	}
	return nil
}

// ValidateForReload rejects a hot-reload candidate that changes any
// restart-only field: agent.id, agent.workspace, provider.name, the
// channels a build wires up (not modeled here; channel adapters are
// constructed once at startup from the initial config), and
// memory.db_path / memory.embedding. Everything else in new is free to
// differ from old.
func ValidateForReload(old, new *Config) error {
	if err := Validate(new); err != nil {
		return err
	}
	if old.Agent.ID != new.Agent.ID {
		return fmt.Errorf("agent.id cannot change without a restart")
	}
	if old.Agent.Workspace != new.Agent.Workspace {
		return fmt.Errorf("agent.workspace cannot change without a restart")
	}
	if old.Provider.Name != new.Provider.Name {
		return fmt.Errorf("provider.name cannot change without a restart")
	}
	if old.Memory.DBPath != new.Memory.DBPath {
		return fmt.Errorf("memory.db_path cannot change without a restart")
	}
	if !embeddingEqual(old.Memory.Embedding, new.Memory.Embedding) {
		return fmt.Errorf("memory.embedding cannot change without a restart")
	}
	if old.Metrics.Addr != new.Metrics.Addr {
		return fmt.Errorf("metrics.addr cannot change without a restart")
	}
	return nil
}

func embeddingEqual(a, b *EmbeddingConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
