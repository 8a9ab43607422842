package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/haasonsaas/coop/internal/types"
)

// bashTimeout bounds every sandboxed bash call regardless of per-user policy.
const bashTimeout = 120 * time.Second

// ToolOutput is the shared result shape the tool registry expects back from
// any tool call, sandboxed or not.
type ToolOutput struct {
	Content string
	IsError bool
}

func errorOutput(format string, args ...any) ToolOutput {
	return ToolOutput{Content: fmt.Sprintf(format, args...), IsError: true}
}

func successOutput(content string) ToolOutput {
	return ToolOutput{Content: content}
}

// CallContext carries the per-call identity and environment the executor
// needs to resolve a policy and decide whether to bypass the sandbox.
type CallContext struct {
	Trust     types.TrustLevel
	UserName  string
	Workspace string
}

// Inner is the tool dispatcher the Executor wraps; every tool other than
// "bash" is handed straight through to it unchanged.
type Inner interface {
	Execute(ctx context.Context, name string, args json.RawMessage, call CallContext) (ToolOutput, error)
}

// Executor decorates an Inner tool dispatcher, routing "bash" calls through
// a resource- and network-limited subprocess.
type Executor struct {
	inner      Inner
	basePolicy Policy
	config     ConfigProvider
	runner     func(ctx context.Context, policy Policy, command string) (ToolOutput, error)
}

// NewExecutor builds a sandboxing decorator around inner. basePolicy supplies
// the memory-limit fallback when config parsing fails; the workspace comes
// from each call's CallContext. config is consulted fresh on every bash call
// so hot-reloaded sandbox settings take effect immediately.
func NewExecutor(inner Inner, basePolicy Policy, config ConfigProvider) *Executor {
	e := &Executor{inner: inner, basePolicy: basePolicy, config: config}
	e.runner = e.runDocker
	return e
}

// Execute implements Inner. Owner trust always bypasses the sandbox; all
// other tools pass through untouched; only "bash" is intercepted.
func (e *Executor) Execute(ctx context.Context, name string, args json.RawMessage, call CallContext) (ToolOutput, error) {
	if call.Trust == types.TrustOwner {
		return e.inner.Execute(ctx, name, args, call)
	}
	if name != "bash" {
		return e.inner.Execute(ctx, name, args, call)
	}
	return e.execBashSandboxed(ctx, args, call)
}

func (e *Executor) execBashSandboxed(ctx context.Context, args json.RawMessage, call CallContext) (ToolOutput, error) {
	if call.Trust > types.TrustInner {
		return errorOutput("bash tool requires Full or Inner trust level"), nil
	}

	var params struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(args, &params); err != nil || strings.TrimSpace(params.Command) == "" {
		return ToolOutput{}, fmt.Errorf("sandbox: missing required parameter: command")
	}

	policy := resolvePolicy(e.basePolicy, e.config(), call.Workspace, call.UserName, call.Trust)

	execCtx, cancel := context.WithTimeout(ctx, bashTimeout)
	defer cancel()

	result, err := e.runner(execCtx, policy, params.Command)
	if err != nil {
		return errorOutput("sandbox exec failed: %v", err), nil
	}
	return result, nil
}

// runDocker is the default runner: docker run with a network mode, memory
// and pids cap, and the workspace mounted read-write (bash needs to write
// files). Swappable in tests via Executor.runner.
func (e *Executor) runDocker(ctx context.Context, policy Policy, command string) (ToolOutput, error) {
	args := []string{"run", "--rm", "-i"}

	switch policy.Network {
	case NetworkNone:
		args = append(args, "--network", "none")
	case NetworkHost:
		args = append(args, "--network", "host")
	case NetworkInternetOnly:
		args = append(args, "--network", "bridge")
	}

	if policy.MemoryLimit > 0 {
		args = append(args, "--memory", fmt.Sprintf("%d", policy.MemoryLimit), "--memory-swap", fmt.Sprintf("%d", policy.MemoryLimit))
	}
	if policy.PIDsLimit > 0 {
		args = append(args, "--pids-limit", fmt.Sprintf("%d", policy.PIDsLimit))
	}
	if policy.Workspace != "" {
		args = append(args, "-v", fmt.Sprintf("%s:/workspace:rw", policy.Workspace), "-w", "/workspace")
	}

	args = append(args, "bash:5-alpine", "bash", "-c", command)

	cmd := exec.CommandContext(ctx, "docker", args...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	combined := stdout.String()
	if stderr.Len() > 0 {
		if combined != "" {
			combined += "\n"
		}
		combined += stderr.String()
	}

	truncated := truncateTail(combined)
	final := truncated.Output
	if truncated.WasTruncated {
		final = fmt.Sprintf("[output truncated: showing last %d of %d bytes]\n%s",
			len(truncated.Output), truncated.OriginalBytes, truncated.Output)
	}

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else if ctx.Err() == context.DeadlineExceeded {
			return errorOutput("sandbox exec timed out after %s", bashTimeout), nil
		} else {
			return ToolOutput{}, runErr
		}
	}

	if exitCode == 0 {
		return successOutput(final), nil
	}
	return errorOutput("exit code %d\n%s", exitCode, final), nil
}
