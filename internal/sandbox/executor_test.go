package sandbox

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/haasonsaas/coop/internal/types"
)

type fakeInner struct {
	calls []string
}

func (f *fakeInner) Execute(ctx context.Context, name string, args json.RawMessage, call CallContext) (ToolOutput, error) {
	f.calls = append(f.calls, name)
	return successOutput("inner:" + name), nil
}

func fixedConfig(cfg Config) ConfigProvider {
	return func() Config { return cfg }
}

func TestExecute_OwnerBypassesSandboxEntirely(t *testing.T) {
	inner := &fakeInner{}
	e := NewExecutor(inner, Policy{}, fixedConfig(Config{}))

	out, err := e.Execute(context.Background(), "bash", json.RawMessage(`{"command":"ls"}`), CallContext{Trust: types.TrustOwner})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Content != "inner:bash" {
		t.Errorf("expected owner call to bypass to inner executor, got %q", out.Content)
	}
	if len(inner.calls) != 1 {
		t.Errorf("expected inner to be called once, got %d", len(inner.calls))
	}
}

func TestExecute_NonBashPassesThrough(t *testing.T) {
	inner := &fakeInner{}
	e := NewExecutor(inner, Policy{}, fixedConfig(Config{}))

	out, err := e.Execute(context.Background(), "read_file", json.RawMessage(`{}`), CallContext{Trust: types.TrustInner})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Content != "inner:read_file" {
		t.Errorf("expected passthrough to inner executor, got %q", out.Content)
	}
}

func TestExecute_FamiliarTrustRejected(t *testing.T) {
	inner := &fakeInner{}
	e := NewExecutor(inner, Policy{}, fixedConfig(Config{}))

	out, err := e.Execute(context.Background(), "bash", json.RawMessage(`{"command":"ls"}`), CallContext{Trust: types.TrustFamiliar})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.IsError {
		t.Fatal("expected familiar trust to be rejected")
	}
	if len(inner.calls) != 0 {
		t.Errorf("expected inner executor never called for rejected trust, got %d calls", len(inner.calls))
	}
}

func TestExecute_InnerTrustRunsSandboxed(t *testing.T) {
	inner := &fakeInner{}
	e := NewExecutor(inner, Policy{MemoryLimit: 256 << 20}, fixedConfig(Config{AllowNetwork: false}))

	var capturedPolicy Policy
	e.runner = func(ctx context.Context, policy Policy, command string) (ToolOutput, error) {
		capturedPolicy = policy
		return successOutput("ran: " + command), nil
	}

	out, err := e.Execute(context.Background(), "bash", json.RawMessage(`{"command":"echo hi"}`), CallContext{Trust: types.TrustInner, Workspace: "/ws"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Content != "ran: echo hi" {
		t.Errorf("unexpected output: %q", out.Content)
	}
	if capturedPolicy.Network != NetworkNone {
		t.Errorf("expected network none with allow_network=false, got %s", capturedPolicy.Network)
	}
	if capturedPolicy.Workspace != "/ws" {
		t.Errorf("expected workspace to be threaded through, got %q", capturedPolicy.Workspace)
	}
}

func TestExecute_MissingCommandIsError(t *testing.T) {
	inner := &fakeInner{}
	e := NewExecutor(inner, Policy{}, fixedConfig(Config{}))

	_, err := e.Execute(context.Background(), "bash", json.RawMessage(`{}`), CallContext{Trust: types.TrustFull})
	if err == nil {
		t.Fatal("expected error for missing command parameter")
	}
}

func TestTruncateTail_KeepsEndForLongOutput(t *testing.T) {
	big := make([]byte, tailBudgetBytes*2)
	for i := range big {
		big[i] = 'a'
	}
	copy(big[len(big)-5:], []byte("TAIL\n"))

	result := truncateTail(string(big))
	if !result.WasTruncated {
		t.Fatal("expected truncation for oversized output")
	}
	if len(result.Output) > tailBudgetBytes+200 {
		t.Errorf("expected output near the tail budget, got %d bytes", len(result.Output))
	}
}

func TestTruncateTail_ShortOutputUnchanged(t *testing.T) {
	result := truncateTail("hello")
	if result.WasTruncated {
		t.Error("expected no truncation for short output")
	}
	if result.Output != "hello" {
		t.Errorf("unexpected output: %q", result.Output)
	}
}
