package fileedit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/haasonsaas/coop/internal/tools"
)

// WriteTool is the "write_file" tool: overwrites (or appends to) a file
// within the workspace, creating parent directories as needed.
type WriteTool struct {
	resolver resolver
}

func NewWriteTool(workspace string) *WriteTool {
	return &WriteTool{resolver: resolver{root: workspace}}
}

func (t *WriteTool) Name() string { return "write_file" }

func (t *WriteTool) Description() string {
	return "Write content to a file in the workspace, creating it (and any parent directories) if needed. Overwrites by default."
}

func (t *WriteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"required": ["path", "content"],
		"properties": {
			"path": {"type": "string", "description": "Path to write, relative to the workspace"},
			"content": {"type": "string", "description": "File contents"},
			"append": {"type": "boolean", "description": "Append instead of overwrite (default: false)"}
		}
	}`)
}

func (t *WriteTool) Execute(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	var input struct {
		Path    string `json:"path"`
		Content string `json:"content"`
		Append  bool   `json:"append"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return tools.Result{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}

	resolved, err := t.resolver.resolve(input.Path)
	if err != nil {
		return tools.Result{Content: err.Error(), IsError: true}, nil
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return tools.Result{Content: fmt.Sprintf("create parent directory: %v", err), IsError: true}, nil
	}

	if input.Append {
		f, err := os.OpenFile(resolved, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return tools.Result{Content: fmt.Sprintf("open file: %v", err), IsError: true}, nil
		}
		defer f.Close()
		if _, err := f.WriteString(input.Content); err != nil {
			return tools.Result{Content: fmt.Sprintf("append to file: %v", err), IsError: true}, nil
		}
	} else if err := os.WriteFile(resolved, []byte(input.Content), 0o644); err != nil {
		return tools.Result{Content: fmt.Sprintf("write file: %v", err), IsError: true}, nil
	}

	return tools.Result{Content: fmt.Sprintf("wrote %d bytes to %s", len(input.Content), input.Path)}, nil
}
