package scheduler

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/coop/internal/tools"
	"github.com/haasonsaas/coop/internal/types"
)

func execCtx(t *testing.T, key types.SessionKey, user string, trust types.TrustLevel) context.Context {
	t.Helper()
	return tools.WithExecContext(context.Background(), tools.ExecContext{
		SessionKey: key,
		UserName:   user,
		Trust:      trust,
	})
}

func TestReminderTool_RejectsBelowInnerTrust(t *testing.T) {
	store := newTestStore(t)
	rt := NewReminderTool(store, nil, nil)

	ctx := execCtx(t, types.DMSessionKey("coop-1", "signal", "alice"), "alice", types.TrustFamiliar)
	result, err := rt.Execute(ctx, json.RawMessage(`{"action":"set","time":"2026-08-01T00:00:00Z","message":"hi"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result for trust below Inner")
	}
}

func TestReminderTool_SetSchedulesAndNotifies(t *testing.T) {
	store := newTestStore(t)
	notify := NewNotifier()
	rt := NewReminderTool(store, nil, notify)
	rt.now = func() time.Time { return time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC) }

	ctx := execCtx(t, types.DMSessionKey("coop-1", "signal", "alice"), "alice", types.TrustInner)
	result, err := rt.Execute(ctx, json.RawMessage(`{"action":"set","time":"2026-08-01T00:00:00Z","message":"water the plants"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if !strings.Contains(result.Content, "Reminder scheduled") {
		t.Errorf("result.Content = %q, want confirmation text", result.Content)
	}

	select {
	case <-notify:
	default:
		t.Fatal("expected Notify to have fired after a successful set")
	}

	pending := store.ListForUser("alice")
	if len(pending) != 1 || pending[0].Message != "water the plants" {
		t.Fatalf("ListForUser = %+v", pending)
	}
}

func TestReminderTool_SetRejectsTerminalOnlySessionWithNoDelivery(t *testing.T) {
	store := newTestStore(t)
	rt := NewReminderTool(store, func(string) []string { return nil }, nil)
	rt.now = func() time.Time { return time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC) }

	ctx := execCtx(t, types.MainSessionKey("coop-1"), "alice", types.TrustOwner)
	result, err := rt.Execute(ctx, json.RawMessage(`{"action":"set","time":"2026-08-01T00:00:00Z","message":"hi"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result when no delivery channel can be resolved")
	}
}

func TestReminderTool_ListAndCancel(t *testing.T) {
	store := newTestStore(t)
	rt := NewReminderTool(store, nil, nil)
	rt.now = func() time.Time { return time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC) }

	ctx := execCtx(t, types.DMSessionKey("coop-1", "signal", "alice"), "alice", types.TrustOwner)
	setResult, err := rt.Execute(ctx, json.RawMessage(`{"action":"set","time":"2026-08-01T00:00:00Z","message":"hi"}`))
	if err != nil || setResult.IsError {
		t.Fatalf("set failed: %v %+v", err, setResult)
	}

	listResult, err := rt.Execute(ctx, json.RawMessage(`{"action":"list"}`))
	if err != nil || listResult.IsError {
		t.Fatalf("list failed: %v %+v", err, listResult)
	}
	if !strings.Contains(listResult.Content, "hi") {
		t.Errorf("list result = %q, want it to mention the reminder message", listResult.Content)
	}

	pending := store.ListForUser("alice")
	if len(pending) != 1 {
		t.Fatalf("expected exactly one pending reminder, got %d", len(pending))
	}
	id := pending[0].ID

	cancelResult, err := rt.Execute(ctx, json.RawMessage(`{"action":"cancel","id":"`+id+`"}`))
	if err != nil || cancelResult.IsError {
		t.Fatalf("cancel failed: %v %+v", err, cancelResult)
	}
	if len(store.ListForUser("alice")) != 0 {
		t.Fatal("expected no reminders left after cancel")
	}
}

func TestReminderTool_CancelUnknownIDReportsError(t *testing.T) {
	store := newTestStore(t)
	rt := NewReminderTool(store, nil, nil)
	ctx := execCtx(t, types.DMSessionKey("coop-1", "signal", "alice"), "alice", types.TrustOwner)

	result, err := rt.Execute(ctx, json.RawMessage(`{"action":"cancel","id":"rem_does-not-exist"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result for an unknown reminder id")
	}
}

func TestReminderTool_UnknownActionReportsError(t *testing.T) {
	store := newTestStore(t)
	rt := NewReminderTool(store, nil, nil)
	ctx := execCtx(t, types.DMSessionKey("coop-1", "signal", "alice"), "alice", types.TrustOwner)

	result, err := rt.Execute(ctx, json.RawMessage(`{"action":"snooze"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result for an unrecognized action")
	}
}
