package reminder

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/rcliao/companion-memory/internal/config"
	"github.com/rcliao/companion-memory/internal/model"
	"github.com/rcliao/companion-memory/internal/store"
)

// Scheduler polls for due reminders on a fixed interval. Ticks never
// overlap: a tick runs to completion, side effects and history writes
// included, before the next one starts.
type Scheduler struct {
	store    *store.Store
	cfg      *config.Config
	log      *logrus.Logger
	clock    clockwork.Clock
	notifier Notifier

	mu sync.Mutex
}

// New builds a scheduler. clock may be nil for wall time, notifier may
// be nil to discard notifications.
func New(st *store.Store, cfg *config.Config, log *logrus.Logger, clock clockwork.Clock, notifier Notifier) *Scheduler {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{store: st, cfg: cfg, log: log, clock: clock, notifier: notifier}
}

// Run reconciles overdue reminders, then polls until the context is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.ReconcileOverdue(ctx); err != nil {
		s.log.WithError(err).Warn("overdue reconciliation")
	}

	ticker := s.clock.NewTicker(s.cfg.Reminder.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			s.Tick(ctx)
		}
	}
}

// Tick fires every pending reminder whose time has come. Safe to call
// directly; concurrent calls serialize.
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	due, err := s.store.DueReminders(ctx, now)
	if err != nil {
		s.log.WithError(err).Warn("tick: load due reminders")
		return
	}

	for _, r := range due {
		s.fire(ctx, r, now, false)
	}
}

// fire completes one reminder: status transition, notification, history
// row, and the next repeat instance if applicable.
func (s *Scheduler) fire(ctx context.Context, r model.Reminder, now time.Time, catchUp bool) {
	if err := s.store.UpdateReminderStatus(ctx, r.ID, model.ReminderCompleted, &now); err != nil {
		s.log.WithError(err).WithField("reminder", r.ID).Warn("fire: update status")
		return
	}

	if s.notifier != nil {
		s.notifier.Notify(Notification{Reminder: r, FiredAt: now, CatchUp: catchUp})
	}

	s.writeHistory(ctx, r, now)

	if next := s.nextOccurrence(r, now); next != nil {
		if _, err := s.store.CreateReminder(ctx, store.CreateReminderParams{
			Content:              r.Content,
			RemindAt:             *next,
			SourceConversationID: r.SourceConversationID,
			RepeatPattern:        r.RepeatPattern,
			RepeatEndAt:          r.RepeatEndAt,
			Metadata:             r.Metadata,
		}); err != nil {
			s.log.WithError(err).WithField("reminder", r.ID).Warn("fire: spawn repeat")
		}
	}
}

// ReconcileOverdue classifies reminders that matured while the process
// was offline. Overdue within the threshold is missed (or fired, under
// the catch-up strategy), within twice the threshold missed, beyond
// that cancelled outright. Every reconciled reminder gets a history
// row.
func (s *Scheduler) ReconcileOverdue(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	cutoff := now.Add(-s.cfg.Reminder.OverdueMinAge)
	pending, err := s.store.DueReminders(ctx, cutoff)
	if err != nil {
		return err
	}

	threshold := s.cfg.Reminder.OverdueThreshold
	for _, r := range pending {
		overdue := now.Sub(r.RemindAt)

		var status string
		switch {
		case overdue <= threshold:
			if s.cfg.Reminder.OverdueStrategy == config.OverdueCatchUp {
				s.fire(ctx, r, now, true)
				continue
			}
			status = model.ReminderMissed
		case overdue <= 2*threshold:
			status = model.ReminderMissed
		default:
			status = model.ReminderCancelled
		}

		if err := s.store.UpdateReminderStatus(ctx, r.ID, status, &now); err != nil {
			s.log.WithError(err).WithField("reminder", r.ID).Warn("reconcile: update status")
			continue
		}
		s.writeHistory(ctx, r, now)
		s.log.WithFields(logrus.Fields{
			"reminder": r.ID,
			"overdue":  overdue,
			"status":   status,
		}).Info("reminder reconciled")
	}
	return nil
}

func (s *Scheduler) writeHistory(ctx context.Context, r model.Reminder, completedAt time.Time) {
	delay := int(completedAt.Sub(r.RemindAt).Minutes())
	rec := model.ReminderHistoryRecord{
		ReminderID:   r.ID,
		Content:      r.Content,
		CreatedAt:    r.CreatedAt,
		RemindAt:     r.RemindAt,
		CompletedAt:  completedAt,
		DelayMinutes: &delay,
	}
	if r.Metadata != nil {
		rec.VagueKeyword = r.Metadata.VagueKeyword
		rec.Personality = r.Metadata.Personality
		rec.Mood = r.Metadata.Mood
	}
	if err := s.store.AppendHistory(ctx, rec); err != nil {
		s.log.WithError(err).WithField("reminder", r.ID).Warn("append history")
	}
}

// nextOccurrence computes the repeat instance time, or nil when the
// reminder does not repeat or the next occurrence passes repeat_end_at.
// Monthly and yearly use fixed 30-day and 365-day offsets; callers
// depend on these dates staying put.
func (s *Scheduler) nextOccurrence(r model.Reminder, from time.Time) *time.Time {
	if r.RepeatPattern == "" {
		return nil
	}

	var offset time.Duration
	switch r.RepeatPattern {
	case model.RepeatDaily:
		offset = 24 * time.Hour
	case model.RepeatWeekly:
		offset = 7 * 24 * time.Hour
	case model.RepeatMonthly:
		offset = 30 * 24 * time.Hour
	case model.RepeatYearly:
		offset = 365 * 24 * time.Hour
	default:
		ms, err := strconv.ParseInt(r.RepeatPattern, 10, 64)
		if err != nil || ms <= 0 {
			s.log.WithField("pattern", r.RepeatPattern).Warn("unrecognized repeat pattern")
			return nil
		}
		offset = time.Duration(ms) * time.Millisecond
	}

	next := r.RemindAt.Add(offset)
	// A long offline gap can leave the naive next occurrence still in
	// the past; advance until it is ahead of the fire time.
	for !next.After(from) {
		next = next.Add(offset)
	}
	if r.RepeatEndAt != nil && next.After(*r.RepeatEndAt) {
		return nil
	}
	return &next
}
