package prompt

import (
	"fmt"
	"strings"
)

// markerBudget is the token allowance reserved for the truncation marker
// itself, so the marker never pushes a layer back over budget.
const markerBudget = 30

// truncateToBudget keeps as many whole lines of content as fit within
// budget tokens, appending a marker pointing at where the rest can be
// fetched from.
func truncateToBudget(content, path string, budget int) Counted {
	tokens := CountTokens(content)
	if tokens <= budget {
		return Counted{Content: content, Tokens: tokens}
	}

	target := budget - markerBudget
	if target < 0 {
		target = 0
	}

	var kept strings.Builder
	keptTokens := 0
	lineCount := 0
	for _, line := range strings.Split(content, "\n") {
		lineWithNL := line + "\n"
		lineTokens := CountTokens(lineWithNL)
		if keptTokens+lineTokens > target {
			break
		}
		kept.WriteString(lineWithNL)
		keptTokens += lineTokens
		lineCount++
	}

	kept.WriteString(fmt.Sprintf("\n[truncated at %d/%d tokens — use memory_get(%q, from=%d) for remainder]", keptTokens, tokens, path, lineCount))
	return NewCounted(kept.String())
}
