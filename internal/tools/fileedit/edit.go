package fileedit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/haasonsaas/coop/internal/tools"
)

// EditTool is the "edit_file" tool: applies one or more find/replace edits
// to an existing file, each edit requiring its old_text to be found first
// (no partial edits on a mismatch).
type EditTool struct {
	resolver resolver
}

func NewEditTool(workspace string) *EditTool {
	return &EditTool{resolver: resolver{root: workspace}}
}

func (t *EditTool) Name() string { return "edit_file" }

func (t *EditTool) Description() string {
	return "Apply one or more find/replace edits to a file already in the workspace."
}

func (t *EditTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"required": ["path", "edits"],
		"properties": {
			"path": {"type": "string", "description": "Path to edit, relative to the workspace"},
			"edits": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["old_text", "new_text"],
					"properties": {
						"old_text": {"type": "string"},
						"new_text": {"type": "string"},
						"replace_all": {"type": "boolean"}
					}
				}
			}
		}
	}`)
}

func (t *EditTool) Execute(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	var input struct {
		Path  string `json:"path"`
		Edits []struct {
			OldText    string `json:"old_text"`
			NewText    string `json:"new_text"`
			ReplaceAll bool   `json:"replace_all"`
		} `json:"edits"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return tools.Result{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	if len(input.Edits) == 0 {
		return tools.Result{Content: "edits are required", IsError: true}, nil
	}

	resolved, err := t.resolver.resolve(input.Path)
	if err != nil {
		return tools.Result{Content: err.Error(), IsError: true}, nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return tools.Result{Content: fmt.Sprintf("read file: %v", err), IsError: true}, nil
	}

	content := string(data)
	replacements := 0
	for _, edit := range input.Edits {
		if edit.OldText == "" {
			return tools.Result{Content: "old_text is required", IsError: true}, nil
		}
		if !strings.Contains(content, edit.OldText) {
			return tools.Result{Content: fmt.Sprintf("old_text not found: %q", edit.OldText), IsError: true}, nil
		}
		if edit.ReplaceAll {
			replacements += strings.Count(content, edit.OldText)
			content = strings.ReplaceAll(content, edit.OldText, edit.NewText)
		} else {
			content = strings.Replace(content, edit.OldText, edit.NewText, 1)
			replacements++
		}
	}

	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return tools.Result{Content: fmt.Sprintf("write file: %v", err), IsError: true}, nil
	}

	return tools.Result{Content: fmt.Sprintf("applied %d replacement(s) to %s", replacements, input.Path)}, nil
}
