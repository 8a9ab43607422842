package config

import (
	"os"
	"path/filepath"
	"testing"
)

const validTOML = `
[agent]
id = "coop"
model = "claude-sonnet-4-5-20250929"
workspace = "/var/lib/coop"

[provider]
name = "anthropic"
api_keys = ["env:COOP_TEST_API_KEY"]

[[users]]
name = "alice"
trust = "owner"
match = ["slack:U123"]

[memory]
db_path = "/var/lib/coop/db/memory.db"

[sandbox]
enabled = true
allow_network = false
memory = "512m"
pids_limit = 64
`

func writeTOML(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "coop.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	t.Setenv("COOP_TEST_API_KEY", "sk-test-key")
	path := writeTOML(t, validTOML)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Agent.ID != "coop" {
		t.Fatalf("agent.id = %q", c.Agent.ID)
	}
	if len(c.Users) != 1 || c.Users[0].Name != "alice" {
		t.Fatalf("users = %+v", c.Users)
	}
}

func TestLoad_MissingEnvVarRejected(t *testing.T) {
	os.Unsetenv("COOP_TEST_API_KEY_MISSING")
	path := writeTOML(t, `
[agent]
id = "coop"
workspace = "/tmp"
[provider]
name = "anthropic"
api_keys = ["env:COOP_TEST_API_KEY_MISSING"]
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unset env var")
	}
}

func TestLoad_BareAPIKeyRejected(t *testing.T) {
	path := writeTOML(t, `
[agent]
id = "coop"
workspace = "/tmp"
[provider]
name = "anthropic"
api_keys = ["sk-ant-bare-key"]
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a bare (non-env:) api key")
	}
}

func TestLoad_BadCronRejected(t *testing.T) {
	t.Setenv("COOP_TEST_API_KEY", "sk-test-key")
	path := writeTOML(t, validTOML+`
[[cron]]
name = "broken"
cron = "not a cron expression"
message = "hi"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
}

func TestLoad_RetentionOrderingRejected(t *testing.T) {
	t.Setenv("COOP_TEST_API_KEY", "sk-test-key")
	path := writeTOML(t, validTOML+`
[memory.retention]
archive_after_days = 30
delete_archive_after_days = 10
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error when delete_archive_after_days < archive_after_days")
	}
}

func TestValidateForReload_RejectsRestartOnlyFields(t *testing.T) {
	t.Setenv("COOP_TEST_API_KEY", "sk-test-key")
	path := writeTOML(t, validTOML)
	old, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	changed := *old
	changed.Agent.ID = "different-agent"
	if err := ValidateForReload(old, &changed); err == nil {
		t.Fatal("expected agent.id change to be rejected")
	}

	changed = *old
	changed.Memory.DBPath = "/elsewhere/memory.db"
	if err := ValidateForReload(old, &changed); err == nil {
		t.Fatal("expected memory.db_path change to be rejected")
	}
}

func TestValidateForReload_AllowsNonRestartFieldChanges(t *testing.T) {
	t.Setenv("COOP_TEST_API_KEY", "sk-test-key")
	path := writeTOML(t, validTOML)
	old, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	changed := *old
	changed.Sandbox.AllowNetwork = true
	if err := ValidateForReload(old, &changed); err != nil {
		t.Fatalf("expected sandbox.allow_network change to be accepted: %v", err)
	}
}
