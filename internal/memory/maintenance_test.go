package memory

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/coop/internal/types"
)

func defaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		ArchiveAfterDays:          30,
		DeleteArchiveAfterDays:    60,
		CompressAfterDays:         7,
		CompressionMinClusterSize: 2,
		MaxRowsPerRun:             100,
	}
}

func TestMaintain_RejectsInvertedArchiveWindow(t *testing.T) {
	s := newTestStore(t)
	cfg := defaultMaintenanceConfig()
	cfg.DeleteArchiveAfterDays = 10 // less than ArchiveAfterDays

	_, err := s.Maintain(context.Background(), cfg, "agent-1")
	if err == nil {
		t.Fatal("expected error for delete_archive_after_days < archive_after_days")
	}
}

func TestMaintain_CompressesClusterAboveMinSize(t *testing.T) {
	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newTestStore(t)
	s.now = func() time.Time { return old }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		obs := basicObservation("Daily standup notes", []string{"attendee list varies"})
		obs.Facts = []string{"note " + itoa(i)}
		if _, err := s.Write(ctx, obs); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	later := old.Add(40 * 24 * time.Hour)
	s.now = func() time.Time { return later }

	cfg := defaultMaintenanceConfig()
	report, err := s.Maintain(ctx, cfg, "agent-1")
	if err != nil {
		t.Fatalf("Maintain: %v", err)
	}
	if report.CompressedRows != 3 {
		t.Errorf("expected 3 compressed rows, got %d", report.CompressedRows)
	}
	if report.SummaryRows != 1 {
		t.Errorf("expected 1 summary row, got %d", report.SummaryRows)
	}
}

func TestMaintain_ArchivesAgedRows(t *testing.T) {
	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newTestStore(t)
	s.now = func() time.Time { return old }

	ctx := context.Background()
	if _, err := s.Write(ctx, basicObservation("Ancient note", []string{"x"})); err != nil {
		t.Fatalf("Write: %v", err)
	}

	later := old.Add(100 * 24 * time.Hour)
	s.now = func() time.Time { return later }

	cfg := defaultMaintenanceConfig()
	cfg.CompressionMinClusterSize = 100 // disable compression for this test
	report, err := s.Maintain(ctx, cfg, "agent-1")
	if err != nil {
		t.Fatalf("Maintain: %v", err)
	}
	if report.ArchivedRows != 1 {
		t.Errorf("expected 1 archived row, got %d", report.ArchivedRows)
	}

	results, err := s.Search(ctx, Query{AgentID: "agent-1", Text: "ancient"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected archived row to no longer be live, got %d results", len(results))
	}
}

func TestSummarizeSession_DerivesRequestAndOutcome(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session := types.SessionKey("main")
	first := basicObservation("Started investigating outage", nil)
	first.SessionKey = &session
	first.ObsType = "task"
	if _, err := s.Write(ctx, first); err != nil {
		t.Fatalf("Write first: %v", err)
	}

	second := basicObservation("Rolled back to previous release", nil)
	second.SessionKey = &session
	second.ObsType = "decision"
	if _, err := s.Write(ctx, second); err != nil {
		t.Fatalf("Write second: %v", err)
	}

	summary, err := s.SummarizeSession(ctx, "agent-1", "main", s.now())
	if err != nil {
		t.Fatalf("SummarizeSession: %v", err)
	}
	if summary.Request != "Started investigating outage" {
		t.Errorf("unexpected request: %q", summary.Request)
	}
	if summary.Outcome != "Rolled back to previous release" {
		t.Errorf("unexpected outcome: %q", summary.Outcome)
	}
	if len(summary.OpenItems) != 1 || len(summary.Decisions) != 1 {
		t.Errorf("expected 1 open item and 1 decision, got %+v", summary)
	}
}
