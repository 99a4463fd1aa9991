package store

import (
	"context"
	"testing"
	"time"

	"github.com/rcliao/companion-memory/internal/model"
)

func TestCreateAndGetReminder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	at := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	r, err := s.CreateReminder(ctx, CreateReminderParams{
		Content:  "喝水",
		RemindAt: at,
		Metadata: &model.Metadata{VagueKeyword: "一会儿"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.Status != model.ReminderPending {
		t.Errorf("expected pending, got %q", r.Status)
	}

	got, err := s.GetReminder(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected reminder")
	}
	if !got.RemindAt.Equal(at) {
		t.Errorf("remind_at mismatch: want %v, got %v", at, got.RemindAt)
	}
	if got.Metadata == nil || got.Metadata.VagueKeyword != "一会儿" {
		t.Errorf("expected metadata to survive, got %+v", got.Metadata)
	}
}

func TestCreateReminderValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.CreateReminder(ctx, CreateReminderParams{Content: " ", RemindAt: time.Now()}); err == nil {
		t.Error("expected error for blank content")
	}
	if _, err := s.CreateReminder(ctx, CreateReminderParams{Content: "x"}); err == nil {
		t.Error("expected error for zero remind time")
	}
}

func TestDueReminders(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now()

	past, _ := s.CreateReminder(ctx, CreateReminderParams{Content: "past", RemindAt: now.Add(-time.Minute)})
	s.CreateReminder(ctx, CreateReminderParams{Content: "future", RemindAt: now.Add(time.Hour)})
	done, _ := s.CreateReminder(ctx, CreateReminderParams{Content: "done", RemindAt: now.Add(-time.Hour)})
	s.UpdateReminderStatus(ctx, done.ID, model.ReminderCompleted, &now)

	due, err := s.DueReminders(ctx, now)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected 1 due reminder, got %d", len(due))
	}
	if due[0].ID != past.ID {
		t.Errorf("expected %s due, got %s", past.ID, due[0].ID)
	}
}

func TestListRemindersFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now()

	s.CreateReminder(ctx, CreateReminderParams{Content: "a", RemindAt: now.Add(time.Hour)})
	b, _ := s.CreateReminder(ctx, CreateReminderParams{Content: "b", RemindAt: now.Add(2 * time.Hour)})
	s.UpdateReminderStatus(ctx, b.ID, model.ReminderCancelled, nil)

	pending, _ := s.ListReminders(ctx, ListRemindersParams{Status: model.ReminderPending})
	if len(pending) != 1 || pending[0].Content != "a" {
		t.Errorf("expected only pending reminder a, got %+v", pending)
	}

	if _, err := s.ListReminders(ctx, ListRemindersParams{Status: "snoozed"}); err == nil {
		t.Error("expected error for invalid status filter")
	}

	after := now.Add(90 * time.Minute)
	late, _ := s.ListReminders(ctx, ListRemindersParams{After: &after})
	if len(late) != 1 || late[0].ID != b.ID {
		t.Errorf("expected remind_at window filter to match b, got %+v", late)
	}
}

func TestUpdateReminderStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r, _ := s.CreateReminder(ctx, CreateReminderParams{Content: "x", RemindAt: time.Now()})
	done := time.Now().Truncate(time.Millisecond)
	if err := s.UpdateReminderStatus(ctx, r.ID, model.ReminderCompleted, &done); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ := s.GetReminder(ctx, r.ID)
	if got.Status != model.ReminderCompleted {
		t.Errorf("expected completed, got %q", got.Status)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Errorf("expected completed_at %v, got %v", done, got.CompletedAt)
	}

	if err := s.UpdateReminderStatus(ctx, "missing", model.ReminderCompleted, nil); err == nil {
		t.Error("expected error for unknown reminder")
	}
	if err := s.UpdateReminderStatus(ctx, r.ID, "bogus", nil); err == nil {
		t.Error("expected error for invalid status")
	}
}

func TestDeleteReminderKeepsHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now()

	r, _ := s.CreateReminder(ctx, CreateReminderParams{Content: "x", RemindAt: now})
	delay := 7
	s.AppendHistory(ctx, model.ReminderHistoryRecord{
		ReminderID: r.ID, Content: r.Content,
		CreatedAt: now, RemindAt: now, CompletedAt: now.Add(7 * time.Minute),
		DelayMinutes: &delay, VagueKeyword: "等一下",
	})

	if err := s.DeleteReminder(ctx, r.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := s.GetReminder(ctx, r.ID); got != nil {
		t.Error("expected reminder deleted")
	}

	hist, _ := s.ListHistory(ctx, 10)
	if len(hist) != 1 {
		t.Fatalf("expected history preserved, got %d rows", len(hist))
	}
	if hist[0].DelayMinutes == nil || *hist[0].DelayMinutes != 7 {
		t.Errorf("expected delay 7, got %v", hist[0].DelayMinutes)
	}
}

func TestTodayReminders(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	// Anchor mid-day so now+1h stays before midnight.
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.Local)

	today, _ := s.CreateReminder(ctx, CreateReminderParams{Content: "today", RemindAt: now.Add(time.Hour)})
	s.CreateReminder(ctx, CreateReminderParams{Content: "tomorrow", RemindAt: now.Add(24 * time.Hour)})
	s.CreateReminder(ctx, CreateReminderParams{Content: "earlier", RemindAt: now.Add(-time.Hour)})

	got, err := s.TodayReminders(ctx, now)
	if err != nil {
		t.Fatalf("today: %v", err)
	}
	if len(got) != 1 || got[0].ID != today.ID {
		t.Errorf("expected only today's upcoming reminder, got %+v", got)
	}
}

func TestHistoryByKeyword(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now()

	for _, kw := range []string{"soon", "later", "soon"} {
		s.AppendHistory(ctx, model.ReminderHistoryRecord{
			ReminderID: "r", Content: "x",
			CreatedAt: now, RemindAt: now, CompletedAt: now,
			VagueKeyword: kw,
		})
	}

	rows, err := s.HistoryByKeyword(ctx, "soon", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows for keyword soon, got %d", len(rows))
	}
	for _, r := range rows {
		if r.VagueKeyword != "soon" {
			t.Errorf("unexpected keyword %q", r.VagueKeyword)
		}
	}
}

func TestKeywordDelayStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now()

	for _, d := range []int{4, 6, 8} {
		delay := d
		s.AppendHistory(ctx, model.ReminderHistoryRecord{
			ReminderID: "r", Content: "x",
			CreatedAt: now, RemindAt: now, CompletedAt: now,
			DelayMinutes: &delay, VagueKeyword: "一会儿",
		})
	}
	// Rows without a delay are excluded from the aggregate.
	s.AppendHistory(ctx, model.ReminderHistoryRecord{
		ReminderID: "r", Content: "x",
		CreatedAt: now, RemindAt: now, CompletedAt: now,
		VagueKeyword: "一会儿",
	})

	stats, err := s.KeywordDelayStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("expected 1 keyword, got %d", len(stats))
	}
	if stats[0].Samples != 3 {
		t.Errorf("expected 3 samples, got %d", stats[0].Samples)
	}
	if stats[0].AvgDelayMins != 6 {
		t.Errorf("expected average 6, got %v", stats[0].AvgDelayMins)
	}
}
