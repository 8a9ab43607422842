package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/coop/internal/tools"
	"github.com/haasonsaas/coop/internal/types"
)

// UserMatchPatterns resolves a user's configured "<channel>:<target>" match
// patterns, for the reminder-delivery fallback path.
type UserMatchPatterns func(userName string) []string

// ReminderTool is the "reminder" tool: set, list, and cancel one-off
// reminders that re-enter the router as a synthesized inbound message once
// due.
type ReminderTool struct {
	store   *ReminderStore
	matches UserMatchPatterns
	notify  Notifier
	now     func() time.Time
}

// NewReminderTool builds a ReminderTool over a store and the configured
// users' match patterns (used to resolve delivery when the creating session
// isn't itself a durable DM channel).
func NewReminderTool(store *ReminderStore, matches UserMatchPatterns, notify Notifier) *ReminderTool {
	return &ReminderTool{store: store, matches: matches, notify: notify, now: time.Now}
}

func (t *ReminderTool) Name() string { return "reminder" }

func (t *ReminderTool) Description() string {
	return "Schedule, list, or cancel one-off reminders. When a reminder fires, " +
		"it re-enters the conversation as a fresh turn with full tool access, so " +
		"reminders can trigger actions, not just deliver a nudge. Write the " +
		"message fully self-contained: resolve pronouns and references, since the " +
		"reminder turn has no access to this conversation's history."
}

func (t *ReminderTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {"type": "string", "enum": ["set", "list", "cancel"], "description": "Action to perform"},
			"time": {"type": "string", "description": "ISO 8601 UTC timestamp for when the reminder should fire. Required for set."},
			"message": {"type": "string", "description": "What to do when the reminder fires. Required for set."},
			"id": {"type": "string", "description": "Reminder ID to cancel. Required for cancel."}
		},
		"required": ["action"]
	}`)
}

func (t *ReminderTool) Execute(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	info, _ := tools.ExecContextFrom(ctx)
	if !info.Trust.AtLeast(types.TrustInner) {
		return tools.Result{Content: "reminder tool requires Full or Inner trust level", IsError: true}, nil
	}

	var req struct {
		Action  string `json:"action"`
		Time    string `json:"time"`
		Message string `json:"message"`
		ID      string `json:"id"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return tools.Result{}, fmt.Errorf("reminder: invalid arguments: %w", err)
	}

	switch req.Action {
	case "set":
		return t.handleSet(info, req.Time, req.Message)
	case "list":
		return t.handleList(info), nil
	case "cancel":
		return t.handleCancel(req.ID), nil
	default:
		return tools.Result{Content: "unknown action: " + req.Action, IsError: true}, nil
	}
}

func (t *ReminderTool) handleSet(info tools.ExecContext, timeStr, message string) (tools.Result, error) {
	if timeStr == "" || message == "" {
		return tools.Result{Content: "both time and message are required for action=set", IsError: true}, nil
	}

	fireAt, err := time.Parse(time.RFC3339, timeStr)
	if err != nil {
		return tools.Result{Content: "invalid time format: " + err.Error(), IsError: true}, nil
	}

	now := t.now()
	var matchPatterns []string
	if t.matches != nil && info.UserName != "" {
		matchPatterns = t.matches(info.UserName)
	}
	delivery := ResolveDelivery(info.SessionKey, info.UserName, matchPatterns)

	id, err := t.store.Add(message, fireAt, info.UserName, string(info.SessionKey), delivery, now)
	if err != nil {
		return tools.Result{Content: err.Error(), IsError: true}, nil
	}

	if t.notify != nil {
		t.notify.Notify()
	}

	return tools.Result{Content: fmt.Sprintf("Reminder scheduled (id: %s) for %s", id, fireAt.Format(time.RFC3339))}, nil
}

func (t *ReminderTool) handleList(info tools.ExecContext) tools.Result {
	user := info.UserName
	if user == "" {
		user = "unknown"
	}
	reminders := t.store.ListForUser(user)
	if len(reminders) == 0 {
		return tools.Result{Content: "No pending reminders."}
	}

	lines := make([]string, 0, len(reminders))
	for _, r := range reminders {
		lines = append(lines, fmt.Sprintf("- [%s] %s -> %q", r.ID, r.FireAt.Format(time.RFC3339), r.Message))
	}
	return tools.Result{Content: strings.Join(lines, "\n")}
}

func (t *ReminderTool) handleCancel(id string) tools.Result {
	if id == "" {
		return tools.Result{Content: "id is required for action=cancel", IsError: true}
	}
	if t.store.Cancel(id) {
		return tools.Result{Content: fmt.Sprintf("Reminder %s cancelled.", id)}
	}
	return tools.Result{Content: fmt.Sprintf("Reminder %s not found.", id), IsError: true}
}
