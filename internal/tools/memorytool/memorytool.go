// Package memorytool adapts internal/memory's Store into the registry's
// Tool interface, one tool for recall and one for writing observations.
package memorytool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/coop/internal/memory"
	"github.com/haasonsaas/coop/internal/tools"
	"github.com/haasonsaas/coop/internal/types"
)

// SearchTool is the "memory_search" tool: hybrid FTS + embedding recall,
// trust-gated to the stores the calling session is allowed to see.
type SearchTool struct {
	store *memory.Store
}

func NewSearchTool(store *memory.Store) *SearchTool { return &SearchTool{store: store} }

func (t *SearchTool) Name() string { return "memory_search" }

func (t *SearchTool) Description() string {
	return "Search structured memory for past observations relevant to a query. " +
		"Results are limited to stores the caller's trust level can see."
}

func (t *SearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"required": ["query"],
		"properties": {
			"query": {"type": "string", "description": "Free-text search query"},
			"limit": {"type": "integer", "minimum": 1, "maximum": 100, "description": "Max results (default 20)"}
		}
	}`)
}

func (t *SearchTool) Execute(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	var input struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return tools.Result{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	if strings.TrimSpace(input.Query) == "" {
		return tools.Result{Content: "query is required", IsError: true}, nil
	}

	execCtx, _ := tools.ExecContextFrom(ctx)

	results, err := t.store.Search(ctx, memory.Query{
		AgentID: execCtx.UserName,
		Text:    input.Query,
		Limit:   input.Limit,
		Trust:   execCtx.Trust,
	})
	if err != nil {
		return tools.Result{Content: fmt.Sprintf("search memory: %v", err), IsError: true}, nil
	}
	if len(results) == 0 {
		return tools.Result{Content: "no matching observations"}, nil
	}

	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "[%s/%s] %s (score %.3f, seen %dx, created %s)\n",
			r.Store, r.ObsType, r.Title, r.Score, r.MentionCount, r.CreatedAt.Format("2006-01-02"))
	}
	return tools.Result{Content: strings.TrimRight(b.String(), "\n")}, nil
}

// WriteTool is the "memory_write" tool: record a new observation, subject to
// the store's exact-duplicate and reconciliation handling.
type WriteTool struct {
	store *memory.Store
}

func NewWriteTool(store *memory.Store) *WriteTool { return &WriteTool{store: store} }

func (t *WriteTool) Name() string { return "memory_write" }

func (t *WriteTool) Description() string {
	return "Record an observation to structured memory: a short title, a narrative, " +
		"and optional supporting facts. The store automatically deduplicates and " +
		"reconciles against similar existing observations."
}

func (t *WriteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"required": ["title", "narrative"],
		"properties": {
			"title": {"type": "string"},
			"narrative": {"type": "string"},
			"facts": {"type": "array", "items": {"type": "string"}},
			"tags": {"type": "array", "items": {"type": "string"}},
			"store": {"type": "string", "enum": ["private", "shared", "social"], "description": "Default: private"},
			"obs_type": {"type": "string", "description": "Free-form classification, e.g. decision, task, fact"}
		}
	}`)
}

func (t *WriteTool) Execute(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	var input struct {
		Title     string   `json:"title"`
		Narrative string   `json:"narrative"`
		Facts     []string `json:"facts"`
		Tags      []string `json:"tags"`
		Store     string   `json:"store"`
		ObsType   string   `json:"obs_type"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return tools.Result{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	if strings.TrimSpace(input.Title) == "" || strings.TrimSpace(input.Narrative) == "" {
		return tools.Result{Content: "title and narrative are required", IsError: true}, nil
	}

	store := types.StorePrivate
	if input.Store != "" {
		store = types.MemoryStore(input.Store)
	}
	obsType := types.ObsType("note")
	if input.ObsType != "" {
		obsType = types.ObsType(input.ObsType)
	}

	execCtx, _ := tools.ExecContextFrom(ctx)

	outcome, err := t.store.Write(ctx, types.Observation{
		AgentID:   execCtx.UserName,
		Store:     store,
		ObsType:   obsType,
		Title:     input.Title,
		Narrative: input.Narrative,
		Facts:     input.Facts,
		Tags:      input.Tags,
		Source:    "tool:memory_write",
		Hash:      memory.ComputeHash(input.Title, input.Facts),
		MinTrust:  execCtx.Trust,
	})
	if err != nil {
		return tools.Result{Content: fmt.Sprintf("write memory: %v", err), IsError: true}, nil
	}
	return tools.Result{Content: fmt.Sprintf("memory %s", outcome)}, nil
}
