package reminder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/rcliao/companion-memory/internal/config"
	"github.com/rcliao/companion-memory/internal/model"
	"github.com/rcliao/companion-memory/internal/store"
)

func newTestStore(t *testing.T, cfg *config.Config) *store.Store {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), cfg, log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestScheduler(t *testing.T, cfg *config.Config) (*Scheduler, *store.Store, *clockwork.FakeClock, *ChannelNotifier) {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	st := newTestStore(t, cfg)
	clock := clockwork.NewFakeClock()
	notifier := NewChannelNotifier(32)
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return New(st, cfg, log, clock, notifier), st, clock, notifier
}

func TestTickFiresDueReminder(t *testing.T) {
	ctx := context.Background()
	s, st, clock, notifier := newTestScheduler(t, nil)

	r, err := st.CreateReminder(ctx, store.CreateReminderParams{
		Content:  "喝水",
		RemindAt: clock.Now().Add(-time.Second),
		Metadata: &model.Metadata{VagueKeyword: "一会儿"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	s.Tick(ctx)

	got, _ := st.GetReminder(ctx, r.ID)
	if got.Status != model.ReminderCompleted {
		t.Errorf("expected completed, got %q", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at stamped")
	}

	select {
	case n := <-notifier.C():
		if n.Reminder.ID != r.ID {
			t.Errorf("notified wrong reminder: %s", n.Reminder.ID)
		}
		if n.CatchUp {
			t.Error("regular tick must not mark catch-up")
		}
	default:
		t.Fatal("expected a notification")
	}

	hist, _ := st.ListHistory(ctx, 10)
	if len(hist) != 1 {
		t.Fatalf("expected 1 history row, got %d", len(hist))
	}
	if hist[0].VagueKeyword != "一会儿" {
		t.Errorf("expected vague keyword recorded, got %q", hist[0].VagueKeyword)
	}
}

func TestTickIgnoresFutureReminders(t *testing.T) {
	ctx := context.Background()
	s, st, clock, notifier := newTestScheduler(t, nil)

	r, _ := st.CreateReminder(ctx, store.CreateReminderParams{
		Content:  "later",
		RemindAt: clock.Now().Add(time.Hour),
	})

	s.Tick(ctx)

	got, _ := st.GetReminder(ctx, r.ID)
	if got.Status != model.ReminderPending {
		t.Errorf("expected still pending, got %q", got.Status)
	}
	select {
	case <-notifier.C():
		t.Error("expected no notification")
	default:
	}
}

func TestRepeatSpawnsNewInstance(t *testing.T) {
	ctx := context.Background()
	s, st, clock, _ := newTestScheduler(t, nil)

	at := clock.Now().Add(-time.Minute).Truncate(time.Millisecond)
	st.CreateReminder(ctx, store.CreateReminderParams{
		Content:       "daily standup",
		RemindAt:      at,
		RepeatPattern: model.RepeatDaily,
	})
	s.Tick(ctx)

	pending, _ := st.ListReminders(ctx, store.ListRemindersParams{Status: model.ReminderPending})
	if len(pending) != 1 {
		t.Fatalf("expected 1 spawned instance, got %d", len(pending))
	}
	want := at.Add(24 * time.Hour)
	if !pending[0].RemindAt.Equal(want) {
		t.Errorf("expected next occurrence %v, got %v", want, pending[0].RemindAt)
	}
	if pending[0].RepeatPattern != model.RepeatDaily {
		t.Errorf("repeat pattern must carry over, got %q", pending[0].RepeatPattern)
	}
}

func TestRepeatBoundedByEnd(t *testing.T) {
	ctx := context.Background()
	s, st, clock, _ := newTestScheduler(t, nil)

	at := clock.Now().Add(-time.Minute)
	end := at.Add(12 * time.Hour) // next daily occurrence would pass this
	st.CreateReminder(ctx, store.CreateReminderParams{
		Content:       "short series",
		RemindAt:      at,
		RepeatPattern: model.RepeatDaily,
		RepeatEndAt:   &end,
	})
	s.Tick(ctx)

	pending, _ := st.ListReminders(ctx, store.ListRemindersParams{Status: model.ReminderPending})
	if len(pending) != 0 {
		t.Errorf("expected no instance past repeat_end_at, got %d", len(pending))
	}
}

func TestLiteralMillisecondRepeat(t *testing.T) {
	ctx := context.Background()
	s, st, clock, _ := newTestScheduler(t, nil)

	at := clock.Now().Add(-time.Second).Truncate(time.Millisecond)
	st.CreateReminder(ctx, store.CreateReminderParams{
		Content:       "interval",
		RemindAt:      at,
		RepeatPattern: "90000", // 90 seconds
	})
	s.Tick(ctx)

	pending, _ := st.ListReminders(ctx, store.ListRemindersParams{Status: model.ReminderPending})
	if len(pending) != 1 {
		t.Fatalf("expected spawned instance, got %d", len(pending))
	}
	if !pending[0].RemindAt.Equal(at.Add(90 * time.Second)) {
		t.Errorf("expected +90s occurrence, got %v", pending[0].RemindAt)
	}
}

func TestOverdueReconciliationClassification(t *testing.T) {
	ctx := context.Background()
	s, st, clock, _ := newTestScheduler(t, nil)
	now := clock.Now()

	within, _ := st.CreateReminder(ctx, store.CreateReminderParams{
		Content: "30 min overdue", RemindAt: now.Add(-30 * time.Minute),
	})
	between, _ := st.CreateReminder(ctx, store.CreateReminderParams{
		Content: "90 min overdue", RemindAt: now.Add(-90 * time.Minute),
	})
	beyond, _ := st.CreateReminder(ctx, store.CreateReminderParams{
		Content: "150 min overdue", RemindAt: now.Add(-150 * time.Minute),
	})
	fresh, _ := st.CreateReminder(ctx, store.CreateReminderParams{
		Content: "just now", RemindAt: now.Add(-30 * time.Second),
	})

	if err := s.ReconcileOverdue(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	cases := []struct {
		id   string
		want string
	}{
		{within.ID, model.ReminderMissed},
		{between.ID, model.ReminderMissed},
		{beyond.ID, model.ReminderCancelled},
		{fresh.ID, model.ReminderPending}, // under the one-minute floor
	}
	for _, c := range cases {
		got, _ := st.GetReminder(ctx, c.id)
		if got.Status != c.want {
			t.Errorf("%s: want %q, got %q", got.Content, c.want, got.Status)
		}
	}

	hist, _ := st.ListHistory(ctx, 10)
	if len(hist) != 3 {
		t.Errorf("expected 3 history rows for reconciled reminders, got %d", len(hist))
	}
}

func TestOverdueCatchUpStrategy(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Reminder.OverdueStrategy = config.OverdueCatchUp
	s, st, clock, notifier := newTestScheduler(t, cfg)
	now := clock.Now()

	recent, _ := st.CreateReminder(ctx, store.CreateReminderParams{
		Content: "30 min overdue", RemindAt: now.Add(-30 * time.Minute),
	})
	old, _ := st.CreateReminder(ctx, store.CreateReminderParams{
		Content: "90 min overdue", RemindAt: now.Add(-90 * time.Minute),
	})

	s.ReconcileOverdue(ctx)

	// Within threshold: fired immediately under catch-up.
	got, _ := st.GetReminder(ctx, recent.ID)
	if got.Status != model.ReminderCompleted {
		t.Errorf("expected catch-up fire, got %q", got.Status)
	}
	select {
	case n := <-notifier.C():
		if !n.CatchUp {
			t.Error("expected catch-up flag on notification")
		}
	default:
		t.Fatal("expected catch-up notification")
	}

	// Past threshold: still missed, never fired.
	got, _ = st.GetReminder(ctx, old.ID)
	if got.Status != model.ReminderMissed {
		t.Errorf("expected missed, got %q", got.Status)
	}
}

func TestRunPollsOnFakeClock(t *testing.T) {
	cfg := config.Default()
	s, st, clock, notifier := newTestScheduler(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st.CreateReminder(ctx, store.CreateReminderParams{
		Content:  "due after one tick",
		RemindAt: clock.Now().Add(cfg.Reminder.CheckInterval / 2),
	})

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	clock.BlockUntil(1)
	clock.Advance(cfg.Reminder.CheckInterval)

	select {
	case n := <-notifier.C():
		if n.Reminder.Content != "due after one tick" {
			t.Errorf("unexpected notification: %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a notification after one tick")
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
