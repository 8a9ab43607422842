// Package shell adapts the sandboxed bash executor into a registry Tool.
package shell

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/haasonsaas/coop/internal/sandbox"
	"github.com/haasonsaas/coop/internal/tools"
)

// Tool is the "bash" tool: runs a shell command, sandboxed behind Docker for
// everyone but Owner trust, per internal/sandbox's policy.
type Tool struct {
	executor  *sandbox.Executor
	workspace string
}

// New builds a shell Tool. basePolicy and config are forwarded to
// sandbox.NewExecutor unchanged; workspace is the directory bash runs in,
// both sandboxed and direct.
func New(basePolicy sandbox.Policy, config sandbox.ConfigProvider, workspace string) *Tool {
	return &Tool{
		executor:  sandbox.NewExecutor(directRunner{}, basePolicy, config),
		workspace: workspace,
	}
}

func (t *Tool) Name() string { return "bash" }

func (t *Tool) Description() string {
	return "Run a shell command. Available to Full and Inner trust callers, " +
		"sandboxed inside a resource- and network-limited container; Owner " +
		"trust runs unsandboxed against the local workspace directly."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"required": ["command"],
		"properties": {
			"command": {"type": "string", "description": "The shell command to run"}
		}
	}`)
}

func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	info, _ := tools.ExecContextFrom(ctx)
	out, err := t.executor.Execute(ctx, "bash", args, sandbox.CallContext{
		Trust:     info.Trust,
		UserName:  info.UserName,
		Workspace: t.workspace,
	})
	if err != nil {
		return tools.Result{}, err
	}
	return tools.Result{Content: out.Content, IsError: out.IsError}, nil
}

// directRunner is the Executor's "inner" dispatcher — the unsandboxed path
// Owner trust takes. It never sees any tool name but "bash", since this
// package only ever drives the Executor with one.
type directRunner struct{}

func (directRunner) Execute(ctx context.Context, name string, args json.RawMessage, call sandbox.CallContext) (sandbox.ToolOutput, error) {
	var params struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(args, &params); err != nil || strings.TrimSpace(params.Command) == "" {
		return sandbox.ToolOutput{}, fmt.Errorf("shell: missing required parameter: command")
	}

	cmd := exec.CommandContext(ctx, "bash", "-c", params.Command)
	cmd.Dir = call.Workspace

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

	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			return sandbox.ToolOutput{Content: fmt.Sprintf("exit code %d\n%s", exitErr.ExitCode(), combined), IsError: true}, nil
		}
		return sandbox.ToolOutput{}, runErr
	}
	return sandbox.ToolOutput{Content: combined}, nil
}
