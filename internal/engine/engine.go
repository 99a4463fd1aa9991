// Package engine wires the store, search, context, extraction and
// reminder components into the operation surface the host consumes.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/rcliao/companion-memory/internal/config"
	"github.com/rcliao/companion-memory/internal/embedding"
	"github.com/rcliao/companion-memory/internal/extractor"
	"github.com/rcliao/companion-memory/internal/memlayer"
	"github.com/rcliao/companion-memory/internal/model"
	"github.com/rcliao/companion-memory/internal/reminder"
	"github.com/rcliao/companion-memory/internal/search"
	"github.com/rcliao/companion-memory/internal/store"
)

// Options configures an Engine. Zero values resolve to production
// defaults; providers may be nil for degraded operation.
type Options struct {
	DBPath string
	Config *config.Config
	Logger *logrus.Logger
	// Clock drives the scheduler and backfill pacing; nil means wall
	// time.
	Clock clockwork.Clock
	// EmbeddingProvider enables vector search when non-nil.
	EmbeddingProvider embedding.Provider
	// ExtractionProvider enables fact extraction when non-nil.
	ExtractionProvider extractor.Provider
	// NotificationBuffer sizes the outbound reminder channel.
	NotificationBuffer int
}

// Engine is the long-term memory and reminder engine facade.
type Engine struct {
	cfg   *config.Config
	log   *logrus.Logger
	clock clockwork.Clock

	store      *store.Store
	searcher   *search.Engine
	memory     *memlayer.Manager
	extractor  *extractor.Extractor
	scheduler  *reminder.Scheduler
	prefs      *reminder.Preferences
	notifier   *reminder.ChannelNotifier
	backfiller *memlayer.Backfiller

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open builds the engine over the database at opts.DBPath. Store
// initialization failure is fatal.
func Open(opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	st, err := store.Open(opts.DBPath, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	provider := opts.EmbeddingProvider
	if provider != nil {
		provider = embedding.NewCachedProvider(provider, st, log)
	}

	notifier := reminder.NewChannelNotifier(opts.NotificationBuffer)
	searcher := search.New(st, provider, cfg, log)

	e := &Engine{
		cfg:        cfg,
		log:        log,
		clock:      clock,
		store:      st,
		searcher:   searcher,
		memory:     memlayer.New(st, searcher, cfg, log),
		extractor:  extractor.New(st, opts.ExtractionProvider, cfg, log),
		scheduler:  reminder.New(st, cfg, log, clock, notifier),
		prefs:      reminder.NewPreferences(st, cfg, log, clock),
		notifier:   notifier,
		backfiller: memlayer.NewBackfiller(st, provider, cfg, log, clock),
	}
	return e, nil
}

// Start launches the reminder scheduler and the embedding backfill in
// the background. Call Close to stop them.
func (e *Engine) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.scheduler.Run(ctx); err != nil && err != context.Canceled {
			e.log.WithError(err).Warn("scheduler stopped")
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.backfiller.Run(ctx); err != nil && err != context.Canceled {
			e.log.WithError(err).Warn("backfill stopped")
		}
	}()
}

// Close stops background work and closes the store.
func (e *Engine) Close() error {
	if e.cancel != nil {
		e.cancel()
		e.wg.Wait()
	}
	return e.store.Close()
}

// Notifications is the outbound reminder channel the host consumes.
func (e *Engine) Notifications() <-chan reminder.Notification {
	return e.notifier.C()
}

// AddConversation records one dialogue turn, chunks it for later
// embedding, and feeds it to the fact extractor.
func (e *Engine) AddConversation(ctx context.Context, p store.SaveConversationParams) (*model.Conversation, error) {
	conv, err := e.store.SaveConversation(ctx, p)
	if err != nil {
		return nil, err
	}
	e.extractor.Observe(ctx, conv)
	return conv, nil
}

// Search ranks stored conversations against the query. Never fails;
// degraded results beat no results.
func (e *Engine) Search(ctx context.Context, query string, opts search.Options) []search.Result {
	return e.searcher.Search(ctx, query, opts)
}

// GetContext renders the layered context as one prompt-ready string.
func (e *Engine) GetContext(ctx context.Context, query string, opts memlayer.Options) string {
	return e.memory.GetContext(ctx, query, opts)
}

// GetLayeredContext assembles the three-tier token-budgeted context.
func (e *Engine) GetLayeredContext(ctx context.Context, query string, opts memlayer.Options) *memlayer.LayeredContext {
	return e.memory.GetLayeredContext(ctx, query, opts)
}

// GetFacts lists stored facts.
func (e *Engine) GetFacts(ctx context.Context, p store.ListFactsParams) ([]model.Fact, error) {
	return e.store.ListFacts(ctx, p)
}

// GetUserProfile returns the canonical merged profile.
func (e *Engine) GetUserProfile(ctx context.Context) ([]model.ProfileEntry, error) {
	return e.store.GetProfile(ctx)
}

// GetStats summarizes the datastore.
func (e *Engine) GetStats(ctx context.Context) (*store.Stats, error) {
	return e.store.GetStats(ctx)
}

// FlushFacts forces an extraction pass over any buffered turns.
func (e *Engine) FlushFacts(ctx context.Context) {
	e.extractor.Flush(ctx)
}

// ReminderParams carries a reminder request. When RemindAt is zero and
// VagueKeyword is set, the time resolves from the learned or default
// preference.
type ReminderParams struct {
	Content              string
	RemindAt             time.Time
	VagueKeyword         string
	SourceConversationID string
	RepeatPattern        string
	RepeatEndAt          *time.Time
	Personality          string
	Mood                 *int
}

// CreateReminder schedules a reminder. Creation failures propagate: a
// silently dropped reminder is a user-facing bug.
func (e *Engine) CreateReminder(ctx context.Context, p ReminderParams) (*model.Reminder, *reminder.Resolution, error) {
	var res *reminder.Resolution
	remindAt := p.RemindAt
	if remindAt.IsZero() && p.VagueKeyword != "" {
		res = e.prefs.Resolve(ctx, p.VagueKeyword)
		if res == nil {
			return nil, nil, fmt.Errorf("cannot resolve time expression %q", p.VagueKeyword)
		}
		remindAt = res.RemindAt
	}

	var meta *model.Metadata
	if p.VagueKeyword != "" || p.Personality != "" || p.Mood != nil {
		meta = &model.Metadata{
			VagueKeyword: p.VagueKeyword,
			Personality:  p.Personality,
			Mood:         p.Mood,
		}
	}

	r, err := e.store.CreateReminder(ctx, store.CreateReminderParams{
		Content:              p.Content,
		RemindAt:             remindAt,
		SourceConversationID: p.SourceConversationID,
		RepeatPattern:        p.RepeatPattern,
		RepeatEndAt:          p.RepeatEndAt,
		Metadata:             meta,
	})
	if err != nil {
		return nil, nil, err
	}
	return r, res, nil
}

// GetReminders lists reminders with optional filters.
func (e *Engine) GetReminders(ctx context.Context, p store.ListRemindersParams) ([]model.Reminder, error) {
	return e.store.ListReminders(ctx, p)
}

// GetReminderHistory returns the most recent reminder outcomes,
// optionally filtered to one vague-time keyword.
func (e *Engine) GetReminderHistory(ctx context.Context, keyword string, limit int) ([]model.ReminderHistoryRecord, error) {
	if keyword != "" {
		return e.store.HistoryByKeyword(ctx, keyword, limit)
	}
	return e.store.ListHistory(ctx, limit)
}

// GetTodayReminders returns reminders scheduled between now and local
// midnight.
func (e *Engine) GetTodayReminders(ctx context.Context) ([]model.Reminder, error) {
	return e.store.TodayReminders(ctx, e.clock.Now())
}

// GetPendingReminders returns every pending reminder, soonest-first.
func (e *Engine) GetPendingReminders(ctx context.Context) ([]model.Reminder, error) {
	return e.store.PendingReminders(ctx)
}

// CancelReminder moves a pending reminder to cancelled.
func (e *Engine) CancelReminder(ctx context.Context, id string) error {
	now := e.clock.Now()
	return e.store.UpdateReminderStatus(ctx, id, model.ReminderCancelled, &now)
}

// DeleteReminder removes a reminder outright, keeping its history.
func (e *Engine) DeleteReminder(ctx context.Context, id string) error {
	return e.store.DeleteReminder(ctx, id)
}

// GetUserTimePreference reports the learned or default resolution for a
// vague-time keyword, nil when unknown.
func (e *Engine) GetUserTimePreference(ctx context.Context, keyword string) *reminder.TimePreference {
	return e.prefs.Lookup(ctx, keyword)
}

// AnalyzeUserHabits aggregates reminder history into scheduling habits.
func (e *Engine) AnalyzeUserHabits(ctx context.Context) (*reminder.HabitReport, error) {
	return e.prefs.AnalyzeHabits(ctx)
}

// Export snapshots the whole store as a portable archive.
func (e *Engine) Export(ctx context.Context) (*store.Archive, error) {
	return e.store.Export(ctx)
}

// Import loads an archive produced by Export, skipping rows that
// already exist.
func (e *Engine) Import(ctx context.Context, a *store.Archive) (int, error) {
	return e.store.Import(ctx, a)
}

// ClearOldConversations removes conversations older than the given
// time.
func (e *Engine) ClearOldConversations(before time.Time) (int, error) {
	return e.store.ClearOldConversations(before)
}

// ClearAll wipes memory tables, keeping reminders.
func (e *Engine) ClearAll() error {
	return e.store.ClearAll()
}

// Tick runs one scheduler poll synchronously, for hosts that drive the
// loop themselves.
func (e *Engine) Tick(ctx context.Context) {
	e.scheduler.Tick(ctx)
}

// ReconcileOverdue classifies reminders that matured while the process
// was offline. Start runs this automatically; exposed for hosts that
// manage their own loop.
func (e *Engine) ReconcileOverdue(ctx context.Context) error {
	return e.scheduler.ReconcileOverdue(ctx)
}

// Backfill runs one embedding backfill batch synchronously.
func (e *Engine) Backfill(ctx context.Context) (int, error) {
	return e.backfiller.RunOnce(ctx)
}
