package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/coop/internal/types"
)

func newTestStore(t *testing.T) *ReminderStore {
	t.Helper()
	store, err := NewReminderStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewReminderStore: %v", err)
	}
	return store
}

func TestReminderStore_MissingFileLoadsEmpty(t *testing.T) {
	store := newTestStore(t)
	if _, ok := store.NextFireTime(); ok {
		t.Fatal("expected no reminders in a freshly initialized store")
	}
}

func TestReminderStore_AddRejectsPastFireTime(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	_, err := store.Add("hi", now.Add(-time.Minute), "alice", "coop-1:dm:signal:alice",
		[]Delivery{{Channel: "signal", Target: "alice"}}, now)
	if err == nil {
		t.Fatal("expected an error scheduling a reminder in the past")
	}
}

func TestReminderStore_AddRejectsEmptyDelivery(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	_, err := store.Add("hi", now.Add(time.Hour), "alice", "coop-1:dm:signal:alice", nil, now)
	if err == nil {
		t.Fatal("expected an error scheduling a reminder with no delivery target")
	}
}

func TestReminderStore_AddPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	store, err := NewReminderStore(dir)
	if err != nil {
		t.Fatalf("NewReminderStore: %v", err)
	}
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	id, err := store.Add("water the plants", now.Add(time.Hour), "alice", "coop-1:dm:signal:alice",
		[]Delivery{{Channel: "signal", Target: "alice"}}, now)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	reloaded, err := NewReminderStore(dir)
	if err != nil {
		t.Fatalf("NewReminderStore (reload): %v", err)
	}
	got := reloaded.ListForUser("alice")
	if len(got) != 1 || got[0].ID != id {
		t.Fatalf("reloaded store = %+v, want one reminder with id %q", got, id)
	}
	if _, err := filepath.Abs(dir); err != nil {
		t.Fatalf("filepath.Abs: %v", err)
	}
}

func TestReminderStore_TakeDuePartitionsByFireTime(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	delivery := []Delivery{{Channel: "signal", Target: "alice"}}

	idDue, _ := store.Add("due", now.Add(time.Minute), "alice", "s", delivery, now)
	idLater, _ := store.Add("later", now.Add(time.Hour), "alice", "s", delivery, now)

	due := store.TakeDue(now.Add(2 * time.Minute))
	if len(due) != 1 || due[0].ID != idDue {
		t.Fatalf("TakeDue = %+v, want only %q due", due, idDue)
	}

	remaining := store.ListForUser("alice")
	if len(remaining) != 1 || remaining[0].ID != idLater {
		t.Fatalf("remaining = %+v, want only %q left", remaining, idLater)
	}
}

func TestReminderStore_CancelRemovesReminder(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	id, _ := store.Add("hi", now.Add(time.Hour), "alice", "s",
		[]Delivery{{Channel: "signal", Target: "alice"}}, now)

	if !store.Cancel(id) {
		t.Fatal("expected Cancel to find the reminder")
	}
	if store.Cancel(id) {
		t.Fatal("expected a second Cancel of the same id to report not found")
	}
	if len(store.ListForUser("alice")) != 0 {
		t.Fatal("expected no reminders left after cancellation")
	}
}

func TestReminderStore_NextFireTimeIsSoonestAcrossUsers(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	delivery := []Delivery{{Channel: "signal", Target: "alice"}}
	store.Add("later", now.Add(2*time.Hour), "alice", "s", delivery, now)
	store.Add("sooner", now.Add(time.Hour), "bob", "s", delivery, now)

	next, ok := store.NextFireTime()
	if !ok {
		t.Fatal("expected a next fire time")
	}
	if !next.Equal(now.Add(time.Hour)) {
		t.Errorf("NextFireTime() = %v, want %v", next, now.Add(time.Hour))
	}
}

func TestResolveDelivery_PrefersDMSessionKey(t *testing.T) {
	key := types.DMSessionKey("coop-1", "signal", "alice")
	got := ResolveDelivery(key, "alice", []string{"discord:other-alice"})
	want := []Delivery{{Channel: "signal", Target: "alice"}}
	if len(got) != 1 || got[0] != want[0] {
		t.Errorf("ResolveDelivery = %+v, want %+v", got, want)
	}
}

func TestResolveDelivery_FansOutToAllNonTerminalMatchPatterns(t *testing.T) {
	key := types.MainSessionKey("coop-1")
	got := ResolveDelivery(key, "alice", []string{"terminal:alice", "signal:+1555", "discord:alice#1234"})
	if len(got) != 2 {
		t.Fatalf("ResolveDelivery = %+v, want 2 non-terminal deliveries", got)
	}
	seen := map[Delivery]bool{}
	for _, d := range got {
		seen[d] = true
	}
	if !seen[Delivery{Channel: "signal", Target: "+1555"}] || !seen[Delivery{Channel: "discord", Target: "alice#1234"}] {
		t.Errorf("ResolveDelivery = %+v, missing expected deliveries", got)
	}
}

func TestResolveDelivery_NoPatternsYieldsNoDelivery(t *testing.T) {
	key := types.MainSessionKey("coop-1")
	got := ResolveDelivery(key, "alice", nil)
	if len(got) != 0 {
		t.Errorf("ResolveDelivery = %+v, want empty", got)
	}
}
