package store

import (
	"context"
	"fmt"

	"github.com/rcliao/companion-memory/internal/chunker"
	"github.com/rcliao/companion-memory/internal/model"
)

// Archive is the portable JSON snapshot produced by Export and accepted
// by Import. Embeddings and the embedding cache are excluded; chunks are
// rebuilt on import and re-embedded by the backfill worker.
type Archive struct {
	Conversations []model.Conversation          `json:"conversations,omitempty"`
	Facts         []model.Fact                  `json:"facts,omitempty"`
	Profile       []model.ProfileEntry          `json:"profile,omitempty"`
	Reminders     []model.Reminder              `json:"reminders,omitempty"`
	History       []model.ReminderHistoryRecord `json:"history,omitempty"`
}

// Export snapshots every conversation, fact, profile entry, reminder and
// history row.
func (s *Store) Export(ctx context.Context) (*Archive, error) {
	if !s.ready() {
		return nil, fmt.Errorf("store not initialized")
	}

	a := &Archive{}
	var err error

	if a.Conversations, err = s.ListConversations(ctx, ListConversationsParams{Limit: 1000000}); err != nil {
		return nil, fmt.Errorf("export conversations: %w", err)
	}
	if a.Facts, err = s.ListFacts(ctx, ListFactsParams{Limit: 1000000}); err != nil {
		return nil, fmt.Errorf("export facts: %w", err)
	}
	if a.Profile, err = s.GetProfile(ctx); err != nil {
		return nil, fmt.Errorf("export profile: %w", err)
	}
	if a.Reminders, err = s.ListReminders(ctx, ListRemindersParams{Limit: 1000000}); err != nil {
		return nil, fmt.Errorf("export reminders: %w", err)
	}
	if a.History, err = s.ListHistory(ctx, 1000000); err != nil {
		return nil, fmt.Errorf("export history: %w", err)
	}
	return a, nil
}

// Import inserts archive rows, preserving IDs and timestamps. Rows whose
// ID already exists are skipped rather than overwritten, so importing the
// same archive twice is a no-op. Conversation chunks are rebuilt without
// embeddings. Profile entries merge under the usual non-decreasing
// confidence rule. Returns the number of rows written.
func (s *Store) Import(ctx context.Context, a *Archive) (int, error) {
	if !s.ready() {
		return 0, fmt.Errorf("store not initialized")
	}
	if a == nil {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	imported := 0

	for _, c := range a.Conversations {
		if c.ID == "" || c.Content == "" {
			continue
		}
		var metaPtr interface{}
		if enc := c.Metadata.Encode(); enc != "" {
			metaPtr = enc
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO conversations (id, timestamp, role, content, personality, mood, metadata)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, timeToMs(c.Timestamp), c.Role, c.Content,
			nullString(c.Personality), c.Mood, metaPtr)
		if err != nil {
			return imported, fmt.Errorf("import conversation %s: %w", c.ID, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			continue
		}
		imported++

		ts := timeToMs(c.Timestamp)
		for i, span := range chunker.Chunk(c.Content, chunker.DefaultOptions()) {
			score := s.importanceScore(span, 1, c.Timestamp, c.Timestamp)
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO memory_chunks
				   (id, conversation_id, chunk_index, text, embedding, updated_at, last_accessed_at, access_count, importance_score)
				 VALUES (?, ?, ?, ?, NULL, ?, ?, 1, ?)`,
				s.newID(), c.ID, i, span, ts, ts, score); err != nil {
				return imported, fmt.Errorf("import chunks for %s: %w", c.ID, err)
			}
		}
	}

	for _, f := range a.Facts {
		if f.ID == "" || !model.ValidFactTypes[f.Type] || f.Predicate == "" {
			continue
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO memory_facts
			   (id, fact_type, subject, predicate, object, confidence,
			    source_conversation_id, source_text, created_at, updated_at, last_confirmed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ID, f.Type, nullString(f.Subject), f.Predicate, nullString(f.Object),
			f.Confidence, nullString(f.SourceConversationID), nullString(f.SourceText),
			timeToMs(f.CreatedAt), timeToMs(f.UpdatedAt), timeToMs(f.LastConfirmedAt))
		if err != nil {
			return imported, fmt.Errorf("import fact %s: %w", f.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			imported++
		}
	}

	for _, r := range a.Reminders {
		if r.ID == "" || r.Content == "" || !model.ValidReminderStatuses[r.Status] {
			continue
		}
		var completed, repeatEnd, metaPtr interface{}
		if r.CompletedAt != nil {
			completed = timeToMs(*r.CompletedAt)
		}
		if r.RepeatEndAt != nil {
			repeatEnd = timeToMs(*r.RepeatEndAt)
		}
		if enc := r.Metadata.Encode(); enc != "" {
			metaPtr = enc
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO reminders
			   (id, content, remind_at, created_at, status,
			    source_conversation_id, repeat_pattern, repeat_end_at, completed_at, metadata)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.Content, timeToMs(r.RemindAt), timeToMs(r.CreatedAt), r.Status,
			nullString(r.SourceConversationID), nullString(r.RepeatPattern),
			repeatEnd, completed, metaPtr)
		if err != nil {
			return imported, fmt.Errorf("import reminder %s: %w", r.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			imported++
		}
	}

	for _, h := range a.History {
		if h.ID == "" || h.ReminderID == "" {
			continue
		}
		var delay, mood interface{}
		if h.DelayMinutes != nil {
			delay = *h.DelayMinutes
		}
		if h.Mood != nil {
			mood = *h.Mood
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO reminder_history
			   (id, reminder_id, content, created_at, remind_at, completed_at,
			    delay_minutes, vague_keyword, personality, mood)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			h.ID, h.ReminderID, h.Content, timeToMs(h.CreatedAt),
			timeToMs(h.RemindAt), timeToMs(h.CompletedAt),
			delay, nullString(h.VagueKeyword), nullString(h.Personality), mood)
		if err != nil {
			return imported, fmt.Errorf("import history %s: %w", h.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			imported++
		}
	}

	if err := tx.Commit(); err != nil {
		return imported, err
	}

	if len(a.Profile) > 0 {
		entries := make([]UpsertProfileParams, 0, len(a.Profile))
		for _, e := range a.Profile {
			entries = append(entries, UpsertProfileParams{
				Key:          e.Key,
				Value:        e.Value,
				Confidence:   e.Confidence,
				SourceFactID: e.SourceFactID,
			})
		}
		if err := s.UpsertProfile(ctx, entries); err != nil {
			return imported, fmt.Errorf("import profile: %w", err)
		}
		imported += len(entries)
	}

	return imported, nil
}
