package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/coop/internal/types"
)

// Reminder is one pending deferred message, fired through the scheduler
// once its FireAt time has passed.
type Reminder struct {
	ID            string     `json:"id"`
	FireAt        time.Time  `json:"fire_at"`
	Message       string     `json:"message"`
	User          string     `json:"user,omitempty"`
	Delivery      []Delivery `json:"delivery"`
	SourceSession string     `json:"source_session"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ReminderStore is a JSON-file-backed ordered list of pending reminders.
// Every mutation flushes the full list to disk; a missing file loads as an
// empty store rather than an error.
type ReminderStore struct {
	mu        sync.Mutex
	path      string
	reminders []Reminder
}

// NewReminderStore loads (or initializes) the reminder store at
// <dir>/reminders.json.
func NewReminderStore(dir string) (*ReminderStore, error) {
	path := filepath.Join(dir, "reminders.json")
	reminders, err := loadReminders(path)
	if err != nil {
		return nil, err
	}
	return &ReminderStore{path: path, reminders: reminders}, nil
}

func loadReminders(path string) ([]Reminder, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scheduler: read reminders file: %w", err)
	}
	var reminders []Reminder
	if err := json.Unmarshal(data, &reminders); err != nil {
		return nil, fmt.Errorf("scheduler: parse reminders file %s: %w", path, err)
	}
	return reminders, nil
}

// flush must be called with mu held.
func (s *ReminderStore) flush() error {
	data, err := json.MarshalIndent(s.reminders, "", "  ")
	if err != nil {
		return fmt.Errorf("scheduler: marshal reminders: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("scheduler: write reminders: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Add validates and persists a new reminder, returning its generated ID.
// FireAt must be strictly in the future and Delivery must be non-empty —
// reminders require a durable, non-terminal channel to deliver to.
func (s *ReminderStore) Add(message string, fireAt time.Time, user, sourceSession string, delivery []Delivery, now time.Time) (string, error) {
	if !fireAt.After(now) {
		return "", fmt.Errorf("scheduler: reminder fire time must be in the future")
	}
	if len(delivery) == 0 {
		return "", fmt.Errorf("scheduler: no delivery channel found for this user — reminders require a non-terminal channel (e.g. Signal) configured in the user's match patterns")
	}

	rem := Reminder{
		ID:            "rem_" + uuid.NewString(),
		FireAt:        fireAt,
		Message:       message,
		User:          user,
		Delivery:      delivery,
		SourceSession: sourceSession,
		CreatedAt:     now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reminders = append(s.reminders, rem)
	if err := s.flush(); err != nil {
		return "", err
	}
	return rem.ID, nil
}

// TakeDue removes and returns every reminder whose FireAt is at or before
// now, persisting the remainder.
func (s *ReminderStore) TakeDue(now time.Time) []Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due, remaining []Reminder
	for _, r := range s.reminders {
		if !r.FireAt.After(now) {
			due = append(due, r)
		} else {
			remaining = append(remaining, r)
		}
	}
	if len(due) == 0 {
		return nil
	}
	s.reminders = remaining
	if err := s.flush(); err != nil {
		// Best-effort: the due reminders are still returned and fired;
		// the persisted file will simply be stale until the next mutation.
		_ = err
	}
	return due
}

// ListForUser returns every pending reminder for a user, soonest FireAt first.
func (s *ReminderStore) ListForUser(user string) []Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Reminder
	for _, r := range s.reminders {
		if r.User == user {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out
}

// Cancel removes a reminder by ID, returning whether it was found.
func (s *ReminderStore) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.reminders {
		if r.ID == id {
			s.reminders = append(s.reminders[:i], s.reminders[i+1:]...)
			if err := s.flush(); err != nil {
				_ = err
			}
			return true
		}
	}
	return false
}

// NextFireTime returns the soonest FireAt across all pending reminders.
func (s *ReminderStore) NextFireTime() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.reminders) == 0 {
		return time.Time{}, false
	}
	next := s.reminders[0].FireAt
	for _, r := range s.reminders[1:] {
		if r.FireAt.Before(next) {
			next = r.FireAt
		}
	}
	return next, true
}

// ResolveDelivery extracts the delivery channel/target for a reminder
// created from SessionKey. A DM session key ("*:dm:<channel>:<target>")
// with a non-terminal channel wins outright; otherwise every non-terminal
// match pattern configured for userName is used, fanning delivery out to
// all of them (per the spec's ambiguous-but-preserved fan-out behavior).
func ResolveDelivery(key types.SessionKey, userName string, userMatchPatterns []string) []Delivery {
	if channel, target, ok := key.DMChannelTarget(); ok && channel != "terminal" {
		return []Delivery{{Channel: channel, Target: target}}
	}

	if userName == "" {
		return nil
	}

	var out []Delivery
	for _, pattern := range userMatchPatterns {
		channel, target, ok := strings.Cut(pattern, ":")
		if !ok || channel == "terminal" {
			continue
		}
		out = append(out, Delivery{Channel: channel, Target: target})
	}
	return out
}
