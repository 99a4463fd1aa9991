package memlayer

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/rcliao/companion-memory/internal/config"
	"github.com/rcliao/companion-memory/internal/embedding"
	"github.com/rcliao/companion-memory/internal/model"
	"github.com/rcliao/companion-memory/internal/search"
	"github.com/rcliao/companion-memory/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), config.Default(), log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	engine := search.New(st, nil, config.Default(), log)
	return New(st, engine, config.Default(), log), st
}

func TestLayeredContextTiers(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)

	st.UpsertProfile(ctx, []store.UpsertProfileParams{
		{Key: "name", Value: "小明", Confidence: 0.95},
		{Key: "like.咖啡", Value: "咖啡", Confidence: 0.8},
	})
	st.SaveConversation(ctx, store.SaveConversationParams{
		Role: model.RoleUser, Content: "我喜欢喝咖啡",
	})
	st.SaveConversation(ctx, store.SaveConversationParams{
		Role: model.RoleAssistant, Content: "记住啦，咖啡是你的最爱",
	})

	lc := m.GetLayeredContext(ctx, "咖啡", Options{})

	if !strings.Contains(lc.Profile, "name: 小明") {
		t.Errorf("expected profile tier with name, got %q", lc.Profile)
	}
	if !strings.Contains(lc.Profile, "likes: 咖啡") {
		t.Errorf("expected likes in profile, got %q", lc.Profile)
	}
	if len(lc.Core) == 0 {
		t.Fatal("expected core tier results")
	}
	if lc.TotalTokens <= 0 {
		t.Error("expected positive token count")
	}
	if lc.TotalTokens > config.Default().Budget.Total {
		t.Errorf("total tokens %d exceed budget", lc.TotalTokens)
	}
}

func TestHistoryExcludesCoreAndIsChronological(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)

	st.SaveConversation(ctx, store.SaveConversationParams{Role: model.RoleUser, Content: "earliest unrelated note"})
	match, _ := st.SaveConversation(ctx, store.SaveConversationParams{Role: model.RoleUser, Content: "my coffee order is a flat white"})
	st.SaveConversation(ctx, store.SaveConversationParams{Role: model.RoleAssistant, Content: "latest unrelated reply"})

	lc := m.GetLayeredContext(ctx, "coffee", Options{})

	inCore := false
	for _, item := range lc.Core {
		if item.ConversationID == match.ID {
			inCore = true
		}
	}
	if !inCore {
		t.Fatal("expected the coffee turn in the core tier")
	}
	for _, item := range lc.History {
		if item.ConversationID == match.ID {
			t.Error("core conversation must not repeat in history")
		}
	}
	if len(lc.History) >= 2 {
		if !strings.Contains(lc.History[0].Text, "earliest") {
			t.Errorf("expected chronological history, first was %q", lc.History[0].Text)
		}
	}
}

func TestProfileDroppedWhenOverBudget(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)

	// A profile far larger than the scaled-down profile budget.
	entries := []store.UpsertProfileParams{}
	for i := 0; i < 40; i++ {
		entries = append(entries, store.UpsertProfileParams{
			Key:        "personal.field" + strings.Repeat("x", i%5),
			Value:      strings.Repeat("很长的资料内容", 10),
			Confidence: 0.9,
		})
	}
	st.UpsertProfile(ctx, entries)
	st.SaveConversation(ctx, store.SaveConversationParams{Role: model.RoleUser, Content: "hello there"})

	lc := m.GetLayeredContext(ctx, "hello", Options{TotalBudget: 60})
	if lc.Profile != "" {
		t.Errorf("expected oversized profile dropped entirely, got %d tokens", lc.ProfileTokens)
	}
}

func TestGreedyPackingSkipsOversizedItems(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)

	st.SaveConversation(ctx, store.SaveConversationParams{
		Role: model.RoleUser, Content: "coffee " + strings.Repeat("很长的内容", 200),
	})
	st.SaveConversation(ctx, store.SaveConversationParams{
		Role: model.RoleUser, Content: "coffee short",
	})

	lc := m.GetLayeredContext(ctx, "coffee", Options{TotalBudget: 150})
	for _, item := range lc.Core {
		if item.Tokens > 80 {
			t.Errorf("oversized item should have been skipped, got %d tokens", item.Tokens)
		}
	}
	if len(lc.Core) == 0 {
		t.Error("expected the small item packed")
	}
}

func TestBackfillProcessesAllChunks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	cfg := config.Default()
	cfg.Backfill.BatchSize = 2

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), cfg, log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	for _, c := range []string{"first note", "second note", "third note"} {
		st.SaveConversation(ctx, store.SaveConversationParams{Role: model.RoleUser, Content: c})
	}
	before, _ := st.CountChunksMissingEmbeddings(ctx)
	if before != 3 {
		t.Fatalf("expected 3 chunks missing embeddings, got %d", before)
	}

	clock := clockwork.NewFakeClock()
	b := NewBackfiller(st, embedding.NewMockProvider(4), cfg, log, clock)

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	// First batch of 2 written, then the backfiller sleeps.
	clock.BlockUntil(1)
	clock.Advance(cfg.Backfill.Delay)
	// Second (final) batch drains the queue; one more sleep cycle.
	clock.BlockUntil(1)
	clock.Advance(cfg.Backfill.Delay)
	// Drained, but the loop idles rather than exiting.
	clock.BlockUntil(1)

	after, _ := st.CountChunksMissingEmbeddings(ctx)
	if after != 0 {
		t.Errorf("expected all chunks embedded, %d remain", after)
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestBackfillPicksUpLateArrivals(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	cfg := config.Default()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), cfg, log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	clock := clockwork.NewFakeClock()
	b := NewBackfiller(st, embedding.NewMockProvider(4), cfg, log, clock)

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	// The store is empty; the worker must idle, not return.
	clock.BlockUntil(1)
	select {
	case err := <-done:
		t.Fatalf("worker exited on an empty store: %v", err)
	default:
	}

	// A conversation saved after the drain gets embedded on the next
	// idle wake-up.
	if _, err := st.SaveConversation(ctx, store.SaveConversationParams{
		Role: model.RoleUser, Content: "a note added after startup",
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	clock.Advance(cfg.Backfill.IdleInterval)
	clock.BlockUntil(1)

	remaining, _ := st.CountChunksMissingEmbeddings(ctx)
	if remaining != 0 {
		t.Errorf("expected late chunk embedded, %d remain", remaining)
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestBackfillRunOnceEmpty(t *testing.T) {
	_, st := newTestManager(t)

	b := NewBackfiller(st, embedding.NewMockProvider(4), config.Default(), nil, clockwork.NewFakeClock())
	n, err := b.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no work, processed %d", n)
	}
}
