package memory

import (
	"context"
	"testing"

	"github.com/haasonsaas/coop/internal/types"
)

type fakeReconciler struct {
	decision ReconcileDecision
	err      error
	calls    int
}

func (f *fakeReconciler) Reconcile(ctx context.Context, incoming types.Observation, candidates []ReconcileCandidate) (ReconcileDecision, error) {
	f.calls++
	return f.decision, f.err
}

func TestWrite_ReconcilerUpdateMergesObservation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := basicObservation("Backend framework", []string{"uses go"})
	if _, err := s.Write(ctx, first); err != nil {
		t.Fatalf("Write first: %v", err)
	}

	reconciler := &fakeReconciler{decision: ReconcileDecision{
		Kind:           DecisionUpdate,
		CandidateIndex: 0,
		MergedObservation: types.Observation{
			Title:     "Backend framework",
			Narrative: "merged narrative",
			Facts:     []string{"uses go", "uses postgres"},
			Store:     types.StorePrivate,
			ObsType:   "fact",
		},
	}}
	s.reconciler = reconciler

	second := basicObservation("Backend framework", []string{"uses postgres"})
	outcome, err := s.Write(ctx, second)
	if err != nil {
		t.Fatalf("Write second: %v", err)
	}
	if outcome != OutcomeUpdated {
		t.Fatalf("expected OutcomeUpdated, got %s", outcome)
	}
	if reconciler.calls != 1 {
		t.Fatalf("expected reconciler to be consulted once, got %d", reconciler.calls)
	}

	results, err := s.Search(ctx, Query{AgentID: "agent-1", Text: "backend"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected exactly one merged row, got %d", len(results))
	}
}

func TestWrite_ReconcilerErrorFallsBackToAdd(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Write(ctx, basicObservation("Release cadence", []string{"weekly"})); err != nil {
		t.Fatalf("Write first: %v", err)
	}

	s.reconciler = &fakeReconciler{err: context.DeadlineExceeded}

	outcome, err := s.Write(ctx, basicObservation("Release cadence", []string{"biweekly now"}))
	if err != nil {
		t.Fatalf("Write second: %v", err)
	}
	if outcome != OutcomeAdded {
		t.Fatalf("expected fallback to ADD on reconciler error, got %s", outcome)
	}
}

func TestWrite_OutOfRangeCandidateIndexFallsBackToAdd(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Write(ctx, basicObservation("Incident response", []string{"pagerduty"})); err != nil {
		t.Fatalf("Write first: %v", err)
	}

	s.reconciler = &fakeReconciler{decision: ReconcileDecision{Kind: DecisionUpdate, CandidateIndex: 5}}

	outcome, err := s.Write(ctx, basicObservation("Incident response", []string{"opsgenie"}))
	if err != nil {
		t.Fatalf("Write second: %v", err)
	}
	if outcome != OutcomeAdded {
		t.Fatalf("expected fallback to ADD on out-of-range index, got %s", outcome)
	}
}

func TestWrite_DeleteExpiresOldAndInsertsReplacement(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Write(ctx, basicObservation("Old naming scheme", []string{"legacy"})); err != nil {
		t.Fatalf("Write first: %v", err)
	}

	s.reconciler = &fakeReconciler{decision: ReconcileDecision{Kind: DecisionDelete, CandidateIndex: 0}}

	replacement := basicObservation("New naming scheme", []string{"current"})
	outcome, err := s.Write(ctx, replacement)
	if err != nil {
		t.Fatalf("Write replacement: %v", err)
	}
	if outcome != OutcomeDeleted {
		t.Fatalf("expected OutcomeDeleted, got %s", outcome)
	}

	results, err := s.Search(ctx, Query{AgentID: "agent-1", Text: "naming"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Title != "New naming scheme" {
		t.Fatalf("expected only the replacement to be live, got %+v", results)
	}
}

func TestWrite_NoneDecisionJustBumpsMention(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Write(ctx, basicObservation("Standing meeting", []string{"tuesdays"})); err != nil {
		t.Fatalf("Write first: %v", err)
	}

	s.reconciler = &fakeReconciler{decision: ReconcileDecision{Kind: DecisionNone, CandidateIndex: 0}}

	outcome, err := s.Write(ctx, basicObservation("Standing meeting", []string{"tuesdays at ten"}))
	if err != nil {
		t.Fatalf("Write second: %v", err)
	}
	if outcome != OutcomeSkipped {
		t.Fatalf("expected OutcomeSkipped, got %s", outcome)
	}
}
