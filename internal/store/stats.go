package store

import (
	"context"
	"database/sql"
	"os"
	"time"
)

// Stats summarizes the datastore for the stats surface.
type Stats struct {
	Conversations        int         `json:"conversations"`
	Chunks               int         `json:"chunks"`
	ChunksWithEmbeddings int         `json:"chunks_with_embeddings"`
	Facts                int         `json:"facts"`
	ProfileEntries       int         `json:"profile_entries"`
	PendingReminders     int         `json:"pending_reminders"`
	DBSizeBytes          int64       `json:"db_size_bytes"`
	OldestConversation   *time.Time  `json:"oldest_conversation,omitempty"`
	NewestConversation   *time.Time  `json:"newest_conversation,omitempty"`
	Cache                *CacheStats `json:"cache,omitempty"`
}

// GetStats counts rows across the memory and reminder tables.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	if !s.ready() {
		return &Stats{}, nil
	}

	stats := &Stats{}
	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM conversations`, &stats.Conversations},
		{`SELECT COUNT(*) FROM memory_chunks`, &stats.Chunks},
		{`SELECT COUNT(*) FROM memory_chunks WHERE embedding IS NOT NULL`, &stats.ChunksWithEmbeddings},
		{`SELECT COUNT(*) FROM memory_facts`, &stats.Facts},
		{`SELECT COUNT(*) FROM user_profile`, &stats.ProfileEntries},
		{`SELECT COUNT(*) FROM reminders WHERE status = 'pending'`, &stats.PendingReminders},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}

	var oldest, newest sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT MIN(timestamp), MAX(timestamp) FROM conversations`).Scan(&oldest, &newest); err != nil {
		return nil, err
	}
	stats.OldestConversation = msPtrToTime(oldest)
	stats.NewestConversation = msPtrToTime(newest)

	if fi, err := os.Stat(s.path); err == nil {
		stats.DBSizeBytes = fi.Size()
	}

	cache, err := s.EmbeddingCacheStats(ctx)
	if err != nil {
		return nil, err
	}
	stats.Cache = cache

	return stats, nil
}
