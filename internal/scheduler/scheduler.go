// Package scheduler injects scheduled cron work and fired reminders into
// the router as synthesized inbound messages.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/coop/internal/router"
	"github.com/haasonsaas/coop/internal/turn"
)

// Notifier wakes the scheduler loop to re-plan immediately — e.g. after a
// reminder is added, rather than waiting for the next natural wakeup.
type Notifier chan struct{}

// NewNotifier returns a Notifier ready to use.
func NewNotifier() Notifier { return make(Notifier, 1) }

// Notify wakes the scheduler loop if it's waiting, without blocking if a
// wake is already pending.
func (n Notifier) Notify() {
	select {
	case n <- struct{}{}:
	default:
	}
}

// Delivery names a channel/target pair a cron entry's response should be
// sent to once the turn completes.
type Delivery struct {
	Channel string
	Target  string
}

// Entry is one configured recurring job.
type Entry struct {
	Name    string
	Cron    string
	Message string
	User    string // optional
	Deliver *Delivery
}

// DeliverySender sends a cron or reminder's collected response to a channel.
// Implementations bridge into a concrete channel adapter's outbound action.
type DeliverySender interface {
	Send(ctx context.Context, channel, target, content string) error
}

// DeliverySenderFunc adapts a function to a DeliverySender.
type DeliverySenderFunc func(ctx context.Context, channel, target, content string) error

func (f DeliverySenderFunc) Send(ctx context.Context, channel, target, content string) error {
	return f(ctx, channel, target, content)
}

// KnownUser reports whether a user name is configured, used only to warn
// about cron entries referencing an unknown user at startup.
type KnownUser func(name string) bool

// Scheduler fires cron entries and due reminders through a Router.
type Scheduler struct {
	router    *router.Router
	reminders *ReminderStore
	deliver   DeliverySender
	logger    *slog.Logger
	now       func() time.Time

	parsed []parsedEntry
}

type parsedEntry struct {
	entry    Entry
	schedule Schedule
}

// New validates and parses cron entries, warning (not failing) on entries
// that reference an unknown user or a delivery target with no sender
// configured, and dropping (with a logged error) any entry whose cron
// expression fails to parse.
func New(entries []Entry, knownUser KnownUser, reminders *ReminderStore, deliver DeliverySender, rt *router.Router, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		router:    rt,
		reminders: reminders,
		deliver:   deliver,
		logger:    logger,
		now:       time.Now,
	}

	for _, e := range entries {
		if e.User != "" && knownUser != nil && !knownUser(e.User) {
			logger.Warn("cron entry references unknown user", "cron", e.Name, "user", e.User)
		}
		if e.Deliver != nil {
			if deliver == nil {
				logger.Warn("cron delivery configured but no delivery sender available", "cron", e.Name, "channel", e.Deliver.Channel, "target", e.Deliver.Target)
			}
		}

		schedule, err := ParseCron(e.Cron)
		if err != nil {
			logger.Error("skipping invalid cron entry", "cron", e.Name, "error", err)
			continue
		}
		s.parsed = append(s.parsed, parsedEntry{entry: e, schedule: schedule})
	}

	if len(s.parsed) == 0 && len(entries) > 0 {
		logger.Warn("no valid cron entries, only reminders will be scheduled")
	}

	return s
}

// Run drives the scheduler loop until ctx is cancelled. Each receive on
// reloadNotify (e.g. a Notify after a freshly-added reminder) stops the
// pending timer and re-plans the next wakeup. On cancellation it returns
// ctx.Err().
func (s *Scheduler) Run(ctx context.Context, reloadNotify <-chan struct{}) error {
	if len(s.parsed) == 0 && s.reminders == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	for {
		now := s.now()
		fireAt, which, hasCron := s.nextCronFire(now)
		reminderAt, hasReminder := s.nextReminderFire()

		var timer *time.Timer
		switch {
		case hasCron && hasReminder:
			if reminderAt.Before(fireAt) {
				timer = time.NewTimer(maxZero(reminderAt.Sub(now)))
			} else {
				timer = time.NewTimer(maxZero(fireAt.Sub(now)))
			}
		case hasCron:
			timer = time.NewTimer(maxZero(fireAt.Sub(now)))
		case hasReminder:
			timer = time.NewTimer(maxZero(reminderAt.Sub(now)))
		default:
			// Nothing scheduled; wait for a reload or cancellation.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-reloadNotify:
				continue
			}
		}

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-reloadNotify:
			timer.Stop()
			continue
		case now := <-timer.C:
			s.fireDueWork(ctx, now, which, hasCron, fireAt)
		}
	}
}

func maxZero(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

func (s *Scheduler) nextCronFire(now time.Time) (time.Time, int, bool) {
	best := -1
	var bestTime time.Time
	for i, p := range s.parsed {
		next := p.schedule.Next(now)
		if best == -1 || next.Before(bestTime) {
			best = i
			bestTime = next
		}
	}
	return bestTime, best, best != -1
}

func (s *Scheduler) nextReminderFire() (time.Time, bool) {
	if s.reminders == nil {
		return time.Time{}, false
	}
	t, ok := s.reminders.NextFireTime()
	return t, ok
}

func (s *Scheduler) fireDueWork(ctx context.Context, now time.Time, cronIdx int, hasCron bool, cronFireAt time.Time) {
	if hasCron && !cronFireAt.After(now) {
		s.fireCron(ctx, s.parsed[cronIdx].entry)
	}
	if s.reminders != nil {
		for _, rem := range s.reminders.TakeDue(now) {
			s.fireReminder(ctx, rem)
		}
	}
}

func (s *Scheduler) fireCron(ctx context.Context, e Entry) {
	sender := fmt.Sprintf("cron:%s", e.Name)
	if e.User != "" {
		sender = fmt.Sprintf("cron:%s:%s", e.Name, e.User)
	}

	content := e.Message
	if e.Deliver != nil {
		content = fmt.Sprintf("[Your response will be delivered to %s via %s.]\n\n%s", e.Deliver.Target, e.Deliver.Channel, e.Message)
	}

	s.dispatchAndDeliver(ctx, sender, content, e.Deliver)
}

func (s *Scheduler) fireReminder(ctx context.Context, rem Reminder) {
	for _, d := range rem.Delivery {
		content := fmt.Sprintf("[Your response will be delivered to %s via %s.]\n\n%s", d.Target, d.Channel, rem.Message)
		sender := fmt.Sprintf("reminder:%s", rem.ID)
		if rem.User != "" {
			sender = fmt.Sprintf("reminder:%s:%s", rem.ID, rem.User)
		}
		s.dispatchAndDeliver(ctx, sender, content, &Delivery{Channel: d.Channel, Target: d.Target})
	}
}

// dispatchAndDeliver runs one synthesized inbound message through the
// router, collecting the turn's Partial text as the response, and sends it
// via the configured delivery unless the response is empty or whitespace.
func (s *Scheduler) dispatchAndDeliver(ctx context.Context, sender, content string, deliver *Delivery) {
	var reply strings.Builder
	sink := turn.CallbackSink(func(e turn.Event) {
		if e.Kind == turn.EventPartial {
			reply.WriteString(e.Text)
		}
	})

	_, err := s.router.Dispatch(ctx, router.Inbound{
		Channel:   "cron",
		Sender:    sender,
		Content:   content,
		Timestamp: s.now(),
		Kind:      router.KindText,
	}, sink)
	if err != nil {
		s.logger.Error("scheduled turn failed", "sender", sender, "error", err)
		return
	}

	if deliver == nil || s.deliver == nil {
		return
	}
	if strings.TrimSpace(reply.String()) == "" {
		return
	}
	if err := s.deliver.Send(ctx, deliver.Channel, deliver.Target, reply.String()); err != nil {
		s.logger.Error("failed to deliver scheduled response", "channel", deliver.Channel, "target", deliver.Target, "error", err)
	}
}
