package memory

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/coop/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", WithIDGenerator(sequentialIDs()), WithClock(func() time.Time {
		return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	}))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return "id-" + itoa(n)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func basicObservation(title string, facts []string) types.Observation {
	return types.Observation{
		AgentID:   "agent-1",
		Store:     types.StorePrivate,
		ObsType:   "fact",
		Title:     title,
		Narrative: "narrative for " + title,
		Facts:     facts,
		Source:    "test",
	}
}

func TestComputeHash_StableAcrossFactOrder(t *testing.T) {
	a := ComputeHash("Some Title", []string{"fact one", "fact two"})
	b := ComputeHash("some   title", []string{"fact two", "fact one"})
	if a != b {
		t.Errorf("expected order/case-insensitive hash match, got %q vs %q", a, b)
	}
}

func TestWrite_ExactDuplicateBumpsMentionCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	obs := basicObservation("Deploy process", []string{"uses github actions"})
	outcome, err := s.Write(ctx, obs)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if outcome != OutcomeAdded {
		t.Fatalf("expected OutcomeAdded, got %s", outcome)
	}

	outcome2, err := s.Write(ctx, obs)
	if err != nil {
		t.Fatalf("Write (dup): %v", err)
	}
	if outcome2 != OutcomeExactDup {
		t.Fatalf("expected OutcomeExactDup, got %s", outcome2)
	}

	results, err := s.Search(ctx, Query{AgentID: "agent-1", Text: "deploy"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].MentionCount != 2 {
		t.Errorf("expected mention_count 2 after duplicate write, got %d", results[0].MentionCount)
	}
}

func TestWrite_NoCandidatesDefaultsToAdd(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	outcome, err := s.Write(ctx, basicObservation("Unrelated fact", []string{"x"}))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if outcome != OutcomeAdded {
		t.Fatalf("expected OutcomeAdded, got %s", outcome)
	}
}
