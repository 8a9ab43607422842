package shell

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/haasonsaas/coop/internal/sandbox"
	"github.com/haasonsaas/coop/internal/tools"
	"github.com/haasonsaas/coop/internal/types"
)

func fixedConfig(cfg sandbox.Config) sandbox.ConfigProvider {
	return func() sandbox.Config { return cfg }
}

func withTrust(trust types.TrustLevel) context.Context {
	return tools.WithExecContext(context.Background(), tools.ExecContext{Trust: trust, UserName: "alice"})
}

func TestTool_OwnerTrustRunsDirectly(t *testing.T) {
	tool := New(sandbox.Policy{}, fixedConfig(sandbox.Config{}), t.TempDir())

	result, err := tool.Execute(withTrust(types.TrustOwner), json.RawMessage(`{"command":"echo hello"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if strings.TrimSpace(result.Content) != "hello" {
		t.Errorf("result.Content = %q, want %q", result.Content, "hello")
	}
}

func TestTool_OwnerTrustSurfacesNonZeroExit(t *testing.T) {
	tool := New(sandbox.Policy{}, fixedConfig(sandbox.Config{}), t.TempDir())

	result, err := tool.Execute(withTrust(types.TrustOwner), json.RawMessage(`{"command":"exit 3"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "exit code 3") {
		t.Fatalf("expected a non-zero exit code surfaced as an error result, got %+v", result)
	}
}

func TestTool_FamiliarTrustRejectedBeforeSandboxing(t *testing.T) {
	tool := New(sandbox.Policy{}, fixedConfig(sandbox.Config{}), t.TempDir())

	result, err := tool.Execute(withTrust(types.TrustFamiliar), json.RawMessage(`{"command":"echo hi"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "trust level") {
		t.Fatalf("expected a trust-level error result, got %+v", result)
	}
}

func TestTool_MissingCommandIsError(t *testing.T) {
	tool := New(sandbox.Policy{}, fixedConfig(sandbox.Config{}), t.TempDir())

	_, err := tool.Execute(withTrust(types.TrustOwner), json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected an error for a missing command parameter")
	}
}

func TestTool_Schema(t *testing.T) {
	tool := New(sandbox.Policy{}, fixedConfig(sandbox.Config{}), t.TempDir())
	var schema map[string]any
	if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
		t.Fatalf("Schema is not valid JSON: %v", err)
	}
}
