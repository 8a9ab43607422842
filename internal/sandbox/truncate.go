package sandbox

const tailBudgetBytes = 8000

// TruncatedOutput is the result of truncate_tail: keep the tail, since the
// most recent output is almost always the relevant part of a long bash run.
type TruncatedOutput struct {
	Output        string
	WasTruncated  bool
	OriginalBytes int
}

// truncateTail keeps at most tailBudgetBytes of the end of s, cutting at a
// line boundary when one is available nearby so the kept text doesn't start
// mid-line.
func truncateTail(s string) TruncatedOutput {
	if len(s) <= tailBudgetBytes {
		return TruncatedOutput{Output: s, OriginalBytes: len(s)}
	}

	cut := len(s) - tailBudgetBytes
	if nl := indexByte(s[cut:], '\n'); nl >= 0 && nl < 200 {
		cut += nl + 1
	}

	return TruncatedOutput{
		Output:        s[cut:],
		WasTruncated:  true,
		OriginalBytes: len(s),
	}
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
