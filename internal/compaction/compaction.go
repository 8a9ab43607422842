// Package compaction keeps a session's provider-visible context bounded as
// history grows: it finds a safe cut-point, merges old and new file-touch
// records, strips orphaned tool calls, and assembles the final message list
// handed to the provider.
package compaction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/coop/internal/types"
)

const (
	// CompactionThreshold is the input-token count above which a turn must
	// compact before its next provider call (§4.4).
	CompactionThreshold = 175_000

	// RecentContextTarget is the approximate token budget of history kept
	// verbatim after a cut (the rest is summarized).
	RecentContextTarget = 20_000

	// CharsPerToken is the char-to-token approximation factor used for the
	// cut-point scan, matching the 4-chars-per-token rule of thumb.
	CharsPerToken = 4

	// charBudget is RecentContextTarget expressed in characters.
	charBudget = RecentContextTarget * CharsPerToken

	maxToolArgsChars   = 500
	maxToolOutputChars = 2000
	approxImageChars   = 1000
)

// ShouldCompact reports whether the next provider call must compact first.
func ShouldCompact(inputTokens int) bool {
	return inputTokens > CompactionThreshold
}

// estimateMessageChars approximates a message's footprint for the cut-point
// scan: Text and Thinking blocks count in full; ToolRequest args and
// ToolResult output are capped so a single giant blob can't dominate the
// budget; Image blocks are a flat estimate.
func estimateMessageChars(m types.Message) int {
	total := 0
	for _, b := range m.Blocks {
		switch b.Kind {
		case types.BlockText, types.BlockThinking:
			total += len(b.Text)
		case types.BlockToolRequest:
			n := len(b.Args)
			if n > maxToolArgsChars {
				n = maxToolArgsChars
			}
			total += n
		case types.BlockToolResult:
			n := len(b.Output)
			if n > maxToolOutputChars {
				n = maxToolOutputChars
			}
			total += n
		case types.BlockImage:
			total += approxImageChars
		}
	}
	return total
}

// FindCutPoint walks messages right-to-left accumulating estimated chars
// until the budget is exhausted, then advances the candidate index past any
// user messages so the kept portion begins with an assistant message (§4.4).
func FindCutPoint(messages []types.Message) int {
	if len(messages) == 0 {
		return 0
	}

	budget := charBudget
	cut := 0
	for i := len(messages) - 1; i >= 0; i-- {
		budget -= estimateMessageChars(messages[i])
		if budget < 0 {
			cut = i + 1
			break
		}
	}
	if budget >= 0 {
		// Everything fits; nothing to summarize.
		return 0
	}

	return advancePastUserMessages(messages, cut)
}

// advancePastUserMessages moves a candidate cut index forward past any
// contiguous run of user messages at that boundary.
func advancePastUserMessages(messages []types.Message, idx int) int {
	for idx < len(messages) && messages[idx].Role == types.RoleUser {
		idx++
	}
	return idx
}

// SafeCutStart re-applies the user-message-skip rule to a stored cut index,
// guarding against drift from pre-fix states or iterative compaction.
func SafeCutStart(messages []types.Message, idx int) int {
	if idx < 0 {
		idx = 0
	}
	if idx > len(messages) {
		idx = len(messages)
	}
	return advancePastUserMessages(messages, idx)
}

// BuildProviderContext assembles the message list actually sent to the
// provider: unchanged history with no compaction, or a synthetic summary
// message followed by the safe tail with one.
func BuildProviderContext(all []types.Message, comp *types.CompactionState) []types.Message {
	if comp == nil {
		return all
	}
	start := SafeCutStart(all, comp.MessagesAtCompaction)
	out := make([]types.Message, 0, len(all)-start+1)
	out = append(out, types.NewUserMessage(comp.Summary, comp.CreatedAt))
	out = append(out, all[start:]...)
	return out
}

// stripOrphanToolRequests removes ToolRequest blocks from assistant messages
// that lack a matching ToolResult in the immediately-following message, and
// drops any assistant message left empty by the strip (§4.4).
func stripOrphanToolRequests(messages []types.Message) []types.Message {
	out := make([]types.Message, 0, len(messages))
	for i, m := range messages {
		if m.Role != types.RoleAssistant {
			out = append(out, m)
			continue
		}

		matched := map[string]bool{}
		if i+1 < len(messages) {
			for _, b := range messages[i+1].Blocks {
				if b.Kind == types.BlockToolResult {
					matched[b.ToolID] = true
				}
			}
		}

		kept := make([]types.Block, 0, len(m.Blocks))
		for _, b := range m.Blocks {
			if b.Kind == types.BlockToolRequest && !matched[b.ToolID] {
				continue
			}
			kept = append(kept, b)
		}
		if len(kept) == 0 {
			continue
		}
		m.Blocks = kept
		out = append(out, m)
	}
	return out
}

// FileOp classifies a single touch extracted from a tool call.
type FileOp struct {
	Path   string
	Action types.FileAction
}

// ExtractFilesTouched scans ToolRequest blocks for known file-mutating tools
// and bash commands, returning one FileOp per path discovered (§4.4).
func ExtractFilesTouched(messages []types.Message) []FileOp {
	var ops []FileOp
	for _, m := range messages {
		for _, b := range m.Blocks {
			if b.Kind != types.BlockToolRequest {
				continue
			}
			switch b.ToolName {
			case "read_file":
				if p := argString(b.Args, "path"); p != "" {
					ops = append(ops, FileOp{p, types.FileRead})
				}
			case "write_file":
				if p := argString(b.Args, "path"); p != "" {
					ops = append(ops, FileOp{p, types.FileCreated})
				}
			case "edit_file":
				if p := argString(b.Args, "path"); p != "" {
					ops = append(ops, FileOp{p, types.FileModified})
				}
			case "bash":
				ops = append(ops, extractBashFileOps(argString(b.Args, "command"))...)
			}
		}
	}
	return ops
}

// extractBashFileOps parses a shell command on "&&" and ";" boundaries and
// classifies rm/mv/cp invocations by their destination argument.
func extractBashFileOps(command string) []FileOp {
	var ops []FileOp
	for _, stmt := range splitBashStatements(command) {
		fields := strings.Fields(stmt)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "rm":
			for _, arg := range fields[1:] {
				if strings.HasPrefix(arg, "-") {
					continue
				}
				ops = append(ops, FileOp{arg, types.FileDeleted})
			}
		case "mv":
			if dst := lastNonFlagArg(fields[1:]); dst != "" {
				ops = append(ops, FileOp{dst, types.FileModified})
			}
		case "cp":
			if dst := lastNonFlagArg(fields[1:]); dst != "" {
				ops = append(ops, FileOp{dst, types.FileCreated})
			}
		}
	}
	return ops
}

func splitBashStatements(command string) []string {
	replaced := strings.ReplaceAll(command, "&&", ";")
	parts := strings.Split(replaced, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func lastNonFlagArg(args []string) string {
	last := ""
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			continue
		}
		last = a
	}
	return last
}

// argString reads a string field out of a raw JSON args object without a
// full schema; returns "" if absent or malformed.
func argString(args []byte, field string) string {
	// Minimal hand-rolled extraction avoids pulling in a JSON library for a
	// single string field; callers already validate shape via jsonschema at
	// dispatch time, so this is purely for compaction bookkeeping.
	needle := `"` + field + `":"`
	s := string(args)
	idx := strings.Index(s, needle)
	if idx < 0 {
		return ""
	}
	rest := s[idx+len(needle):]
	end := strings.IndexByte(rest, '"')
	if end < 0 {
		return ""
	}
	return rest[:end]
}

// MergeFilesTouched merges a new set of file ops into the existing
// CompactionState's list, applying the upgrade/dominate precedence rule
// (§4.4) and returning the merged, sorted-by-first-seen list.
func MergeFilesTouched(existing []types.FileTouched, ops []FileOp) []types.FileTouched {
	index := make(map[string]int, len(existing))
	merged := append([]types.FileTouched(nil), existing...)
	for i, f := range merged {
		index[f.Path] = i
	}
	for _, op := range ops {
		if i, ok := index[op.Path]; ok {
			merged[i].Action = types.MergeFileAction(merged[i].Action, op.Action)
			continue
		}
		index[op.Path] = len(merged)
		merged = append(merged, types.FileTouched{Path: op.Path, Action: op.Action})
	}
	return merged
}

// Summarizer is the LLM-backed capability the compaction engine calls to
// produce or merge a summary. A fake implementation drives turn-engine and
// compaction tests.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

const firstSummaryPrompt = "Summarize the following conversation history concisely, preserving key facts, decisions, and open threads:\n\n"

const updateSummaryPromptPrefix = "Here is the existing summary of earlier conversation history:\n\n"
const updateSummaryPromptSuffix = "\n\nMerge in the following additional history, updating or extending the summary as needed. Do not regenerate from scratch — preserve everything from the existing summary that is still relevant:\n\n"

// buildSummaryPrompt assembles the prompt sent to the summarizer, choosing
// the first-summary or merge-update form depending on whether a previous
// summary exists.
func buildSummaryPrompt(previous string, rendered string) string {
	if previous == "" {
		return firstSummaryPrompt + rendered
	}
	return updateSummaryPromptPrefix + previous + updateSummaryPromptSuffix + rendered
}

func renderMessages(messages []types.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(fmt.Sprintf("[%s]\n", m.Role))
		for _, b := range m.Blocks {
			switch b.Kind {
			case types.BlockText, types.BlockThinking:
				sb.WriteString(b.Text)
				sb.WriteString("\n")
			case types.BlockToolRequest:
				fmt.Fprintf(&sb, "tool_call %s(%s)\n", b.ToolName, string(b.Args))
			case types.BlockToolResult:
				fmt.Fprintf(&sb, "tool_result %s: %s\n", b.ToolID, truncate(b.Output, maxToolOutputChars))
			}
		}
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// PrepareCompactionMessages strips orphaned tool calls from the slice of
// messages about to be sent to the summarizer (§4.4).
func PrepareCompactionMessages(messages []types.Message) []types.Message {
	return stripOrphanToolRequests(messages)
}

// Compact runs one compaction cycle over the full message list. It is
// idempotent: if the new cut-point does not advance past the existing
// compaction's cut, the existing state is returned unchanged rather than
// re-summarized.
func Compact(ctx context.Context, summarizer Summarizer, all []types.Message, previous *types.CompactionState, now time.Time) (*types.CompactionState, error) {
	newCut := FindCutPoint(all)
	if newCut == 0 {
		return previous, nil
	}

	oldCut := 0
	previousSummary := ""
	var existingFiles []types.FileTouched
	compactionCount := 0
	if previous != nil {
		oldCut = previous.MessagesAtCompaction
		previousSummary = previous.Summary
		existingFiles = previous.FilesTouched
		compactionCount = previous.CompactionCount
	}

	if newCut <= oldCut {
		// No new messages since the last compaction: idempotent no-op.
		return previous, nil
	}

	window := PrepareCompactionMessages(all[oldCut:newCut])
	if len(window) == 0 {
		return previous, nil
	}

	prompt := buildSummaryPrompt(previousSummary, renderMessages(window))
	summary, err := summarizer.Summarize(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("compaction: summarize window [%d,%d): %w", oldCut, newCut, err)
	}

	ops := ExtractFilesTouched(window)
	mergedFiles := MergeFilesTouched(existingFiles, ops)

	return &types.CompactionState{
		Summary:              summary,
		FilesTouched:          mergedFiles,
		CompactionCount:       compactionCount + 1,
		TokensAtCompaction:    estimateTotalTokens(all[:newCut]),
		CreatedAt:             now,
		MessagesAtCompaction: newCut,
	}, nil
}

func estimateTotalTokens(messages []types.Message) int {
	chars := 0
	for _, m := range messages {
		chars += estimateMessageChars(m)
	}
	return chars / CharsPerToken
}
