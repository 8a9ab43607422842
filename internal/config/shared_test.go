package config

import (
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestShared_ReloadSwapsOnValidChange(t *testing.T) {
	t.Setenv("COOP_TEST_API_KEY", "sk-test-key")
	path := writeTOML(t, validTOML)

	initial, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	shared := NewShared(path, initial, slog.Default())

	rewritten := strings.Replace(validTOML, "allow_network = false", "allow_network = true", 1)
	if err := os.WriteFile(path, []byte(rewritten), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	shared.reload()

	if got := shared.Load().Sandbox.AllowNetwork; !got {
		t.Fatalf("AllowNetwork after reload = %v, want true", got)
	}
}

func TestShared_ReloadRejectsRestartOnlyChange(t *testing.T) {
	t.Setenv("COOP_TEST_API_KEY", "sk-test-key")
	path := writeTOML(t, validTOML)

	initial, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	shared := NewShared(path, initial, slog.Default())

	rewritten := `
[agent]
id = "a-different-agent"
workspace = "/var/lib/coop"
[provider]
name = "anthropic"
api_keys = ["env:COOP_TEST_API_KEY"]
[memory]
db_path = "/var/lib/coop/db/memory.db"
`
	if err := os.WriteFile(path, []byte(rewritten), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	shared.reload()

	if got := shared.Load().Agent.ID; got != "coop" {
		t.Fatalf("Agent.ID after rejected reload = %q, want unchanged %q", got, "coop")
	}
}

func TestShared_ReloadIgnoresUnparseableFile(t *testing.T) {
	t.Setenv("COOP_TEST_API_KEY", "sk-test-key")
	path := writeTOML(t, validTOML)

	initial, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	shared := NewShared(path, initial, slog.Default())

	if err := os.WriteFile(path, []byte("not valid toml {{{"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	shared.reload()

	if shared.Load() != initial {
		t.Fatal("expected unparseable reload candidate to leave the snapshot untouched")
	}
}
