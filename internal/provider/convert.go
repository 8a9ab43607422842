package provider

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/haasonsaas/coop/internal/types"
)

// toAnthropicMessages flattens our block-based Message model into the SDK's
// role+content-block shape. Thinking blocks are replayed back to the model
// as plain text blocks, without their signatures; the turn engine keeps
// them in session history as BlockThinking blocks and nothing strips them
// before they reach this function.
func toAnthropicMessages(messages []types.Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		content := make([]anthropic.ContentBlockParamUnion, 0, len(m.Blocks))
		for _, b := range m.Blocks {
			switch b.Kind {
			case types.BlockText, types.BlockThinking:
				content = append(content, anthropic.NewTextBlock(b.Text))
			case types.BlockToolRequest:
				var input map[string]any
				if len(b.Args) > 0 {
					if err := json.Unmarshal(b.Args, &input); err != nil {
						return nil, fmt.Errorf("provider: invalid tool call args for %s: %w", b.ToolName, err)
					}
				}
				content = append(content, anthropic.NewToolUseBlock(b.ToolID, input, b.ToolName))
			case types.BlockToolResult:
				content = append(content, anthropic.NewToolResultBlock(b.ToolID, b.Output, b.IsError))
			case types.BlockImage:
				content = append(content, anthropic.NewImageBlockBase64(b.ImageMIME, base64.StdEncoding.EncodeToString(b.ImageBytes)))
			}
		}

		if m.Role == types.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out, nil
}

// toAnthropicTools converts our tool schemas into the SDK's tool param
// union, the same way nexus's toolconv package does it.
func toAnthropicTools(defs []ToolDef) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(d.Schema, &schema); err != nil {
			return nil, fmt.Errorf("provider: invalid schema for tool %s: %w", d.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, d.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("provider: invalid schema for tool %s: missing tool definition", d.Name)
		}
		toolParam.OfTool.Description = anthropic.String(d.Description)
		out = append(out, toolParam)
	}
	return out, nil
}
