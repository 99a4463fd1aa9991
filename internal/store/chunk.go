package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rcliao/companion-memory/internal/model"
)

// importanceScore computes the multiplicative chunk importance. All bonus
// factors are >1.0 and the score is recomputed whenever a chunk is
// accessed.
func (s *Store) importanceScore(text string, accessCount int, lastAccessedAt, now time.Time) float64 {
	f := s.cfg.Emotional.Importance

	score := 1.0
	if accessCount >= f.AccessFrequencyThreshold {
		score *= f.AccessFrequencyBonus
	}
	if now.Sub(lastAccessedAt) <= f.RecentActiveWindow {
		score *= f.RecentActiveBonus
	}
	if utf8.RuneCountInString(text) >= f.LongContentThreshold {
		score *= f.LongContentBonus
	}
	return score
}

// ChunksByConversation returns a conversation's chunks ordered by index.
func (s *Store) ChunksByConversation(ctx context.Context, conversationID string) ([]model.MemoryChunk, error) {
	if !s.ready() {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, chunk_index, text, embedding, updated_at, last_accessed_at, access_count, importance_score
		 FROM memory_chunks WHERE conversation_id = ? ORDER BY chunk_index ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectChunks(rows)
}

// EmbeddedChunks returns every chunk that already has a vector, for
// in-process similarity scoring.
func (s *Store) EmbeddedChunks(ctx context.Context) ([]model.MemoryChunk, error) {
	if !s.ready() {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, chunk_index, text, embedding, updated_at, last_accessed_at, access_count, importance_score
		 FROM memory_chunks WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectChunks(rows)
}

// ChunksMissingEmbeddings returns up to limit chunks without a vector,
// oldest first, for the backfill task.
func (s *Store) ChunksMissingEmbeddings(ctx context.Context, limit int) ([]model.MemoryChunk, error) {
	if !s.ready() {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, chunk_index, text, embedding, updated_at, last_accessed_at, access_count, importance_score
		 FROM memory_chunks WHERE embedding IS NULL ORDER BY updated_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectChunks(rows)
}

// CountChunksMissingEmbeddings reports how much backfill work remains.
func (s *Store) CountChunksMissingEmbeddings(ctx context.Context) (int, error) {
	if !s.ready() {
		return 0, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memory_chunks WHERE embedding IS NULL`).Scan(&n)
	return n, err
}

// ChunkEmbedding pairs a chunk id with its computed vector.
type ChunkEmbedding struct {
	ChunkID   string
	Embedding []float32
}

// SetChunkEmbeddings writes one backfill batch atomically. Chunks with a
// nil vector (provider returned nothing for them) are skipped.
func (s *Store) SetChunkEmbeddings(ctx context.Context, batch []ChunkEmbedding) error {
	if !s.ready() {
		return fmt.Errorf("store not initialized")
	}
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, item := range batch {
		if item.Embedding == nil {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE memory_chunks SET embedding = ? WHERE id = ?`,
			vectorToBlob(item.Embedding), item.ChunkID); err != nil {
			return fmt.Errorf("set embedding for %s: %w", item.ChunkID, err)
		}
	}

	return tx.Commit()
}

// TouchChunks bumps access stats and recomputes importance for the given
// chunks in one transaction. Failures are logged, never fatal: access
// tracking is best effort.
func (s *Store) TouchChunks(ctx context.Context, chunkIDs []string) {
	if !s.ready() || len(chunkIDs) == 0 {
		return
	}

	now := time.Now()
	nowMs := timeToMs(now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.log.WithError(err).Warn("touch chunks: begin tx")
		return
	}
	defer tx.Rollback()

	for _, id := range chunkIDs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE memory_chunks
			 SET last_accessed_at = ?, access_count = access_count + 1
			 WHERE id = ?`, nowMs, id); err != nil {
			s.log.WithError(err).WithField("chunk", id).Warn("touch chunk")
			return
		}

		var text string
		var accessCount int
		var lastAccessed int64
		err := tx.QueryRowContext(ctx,
			`SELECT text, access_count, last_accessed_at FROM memory_chunks WHERE id = ?`, id).
			Scan(&text, &accessCount, &lastAccessed)
		if err != nil {
			if err != sql.ErrNoRows {
				s.log.WithError(err).WithField("chunk", id).Warn("reload chunk")
			}
			continue
		}

		score := s.importanceScore(text, accessCount, msToTime(lastAccessed), now)
		if _, err := tx.ExecContext(ctx,
			`UPDATE memory_chunks SET importance_score = ? WHERE id = ?`, score, id); err != nil {
			s.log.WithError(err).WithField("chunk", id).Warn("update importance")
			return
		}
	}

	if err := tx.Commit(); err != nil {
		s.log.WithError(err).Warn("touch chunks: commit")
	}
}

func collectChunks(rows *sql.Rows) ([]model.MemoryChunk, error) {
	var out []model.MemoryChunk
	for rows.Next() {
		var c model.MemoryChunk
		var blob []byte
		var updated, accessed int64
		if err := rows.Scan(&c.ID, &c.ConversationID, &c.ChunkIndex, &c.Text,
			&blob, &updated, &accessed, &c.AccessCount, &c.ImportanceScore); err != nil {
			return nil, err
		}
		c.UpdatedAt = msToTime(updated)
		c.LastAccessedAt = msToTime(accessed)
		if blob != nil {
			c.Embedding = blobToVector(blob)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
