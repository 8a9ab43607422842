package fileedit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/haasonsaas/coop/internal/tools"
)

const defaultMaxReadBytes = 200_000

// ReadTool is the "read_file" tool.
type ReadTool struct {
	resolver     resolver
	maxReadBytes int
}

// NewReadTool builds a read tool scoped to workspace. maxReadBytes <= 0 uses
// the default cap.
func NewReadTool(workspace string, maxReadBytes int) *ReadTool {
	if maxReadBytes <= 0 {
		maxReadBytes = defaultMaxReadBytes
	}
	return &ReadTool{resolver: resolver{root: workspace}, maxReadBytes: maxReadBytes}
}

func (t *ReadTool) Name() string { return "read_file" }

func (t *ReadTool) Description() string {
	return "Read a file from the workspace, with an optional byte offset and limit."
}

func (t *ReadTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"required": ["path"],
		"properties": {
			"path": {"type": "string", "description": "Path to the file, relative to the workspace"},
			"offset": {"type": "integer", "minimum": 0, "description": "Byte offset to start reading from"},
			"limit": {"type": "integer", "minimum": 1, "description": "Maximum bytes to read"}
		}
	}`)
}

func (t *ReadTool) Execute(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	var input struct {
		Path   string `json:"path"`
		Offset int64  `json:"offset"`
		Limit  int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return tools.Result{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}

	resolved, err := t.resolver.resolve(input.Path)
	if err != nil {
		return tools.Result{Content: err.Error(), IsError: true}, nil
	}

	f, err := os.Open(resolved)
	if err != nil {
		return tools.Result{Content: fmt.Sprintf("open file: %v", err), IsError: true}, nil
	}
	defer f.Close()

	if input.Offset > 0 {
		if _, err := f.Seek(input.Offset, io.SeekStart); err != nil {
			return tools.Result{Content: fmt.Sprintf("seek: %v", err), IsError: true}, nil
		}
	}

	limit := t.maxReadBytes
	if input.Limit > 0 && input.Limit < limit {
		limit = input.Limit
	}

	data, err := io.ReadAll(io.LimitReader(f, int64(limit)+1))
	if err != nil {
		return tools.Result{Content: fmt.Sprintf("read file: %v", err), IsError: true}, nil
	}

	truncated := len(data) > limit
	if truncated {
		data = data[:limit]
	}

	content := string(data)
	if truncated {
		content = fmt.Sprintf("%s\n[truncated at %d bytes]", strings.TrimRight(content, "\n"), limit)
	}
	return tools.Result{Content: content}, nil
}
