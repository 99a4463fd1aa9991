package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/rcliao/companion-memory/internal/model"
)

// CacheStats summarizes the embedding cache.
type CacheStats struct {
	Entries         int        `json:"entries"`
	MaxSize         int        `json:"max_size"`
	TotalAccesses   int        `json:"total_accesses"`
	OldestCreatedAt *time.Time `json:"oldest_created_at,omitempty"`
	NewestCreatedAt *time.Time `json:"newest_created_at,omitempty"`
}

// GetCachedEmbedding looks up a vector by content hash. A hit bumps the
// entry's access stats. A closed store reports a miss rather than an
// error so callers fall through to the provider.
func (s *Store) GetCachedEmbedding(ctx context.Context, hash string) (*model.CacheEntry, error) {
	if !s.ready() {
		return nil, nil
	}

	var e model.CacheEntry
	var blob []byte
	var created, accessed int64
	err := s.db.QueryRowContext(ctx,
		`SELECT hash, embedding, model, created_at, last_accessed_at, access_count
		 FROM embedding_cache WHERE hash = ?`, hash).
		Scan(&e.Hash, &blob, &e.Model, &created, &accessed, &e.AccessCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	e.Embedding = blobToVector(blob)
	e.CreatedAt = msToTime(created)
	e.LastAccessedAt = msToTime(accessed)

	if _, err := s.db.ExecContext(ctx,
		`UPDATE embedding_cache
		 SET last_accessed_at = ?, access_count = access_count + 1
		 WHERE hash = ?`, timeToMs(time.Now()), hash); err != nil {
		s.log.WithError(err).Warn("bump cache entry")
	}

	return &e, nil
}

// PutCachedEmbedding stores a vector under its content hash. Storing an
// existing hash counts as a hit and refreshes its access stats. When the
// insert pushes the cache past its size bound, the oldest entries by
// last_accessed_at are evicted in the same transaction.
func (s *Store) PutCachedEmbedding(ctx context.Context, hash string, embedding []float32, modelName string) error {
	if !s.ready() {
		return fmt.Errorf("store not initialized")
	}
	if hash == "" || len(embedding) == 0 {
		return fmt.Errorf("empty hash or embedding")
	}

	nowMs := timeToMs(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE embedding_cache
		 SET last_accessed_at = ?, access_count = access_count + 1
		 WHERE hash = ?`, nowMs, hash)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO embedding_cache (hash, embedding, model, created_at, last_accessed_at, access_count)
		 VALUES (?, ?, ?, ?, ?, 1)`,
		hash, vectorToBlob(embedding), modelName, nowMs, nowMs); err != nil {
		return fmt.Errorf("insert cache entry: %w", err)
	}

	if s.cfg.Cache.AutoEvict {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM embedding_cache`).Scan(&count); err != nil {
			return err
		}
		if count > s.cfg.Cache.MaxSize {
			// rowid tiebreak keeps eviction order stable when entries
			// share a millisecond timestamp.
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM embedding_cache WHERE hash IN
				   (SELECT hash FROM embedding_cache ORDER BY last_accessed_at ASC, rowid ASC LIMIT ?)`,
				s.cfg.Cache.EvictionBatch); err != nil {
				return fmt.Errorf("evict cache batch: %w", err)
			}
			s.log.WithField("evicted", s.cfg.Cache.EvictionBatch).Debug("embedding cache evicted")
		}
	}

	return tx.Commit()
}

// EmbeddingCacheStats reports cache occupancy and usage.
func (s *Store) EmbeddingCacheStats(ctx context.Context) (*CacheStats, error) {
	if !s.ready() {
		return &CacheStats{MaxSize: 0}, nil
	}

	stats := &CacheStats{MaxSize: s.cfg.Cache.MaxSize}
	var oldest, newest sql.NullInt64
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(access_count), 0), MIN(created_at), MAX(created_at)
		 FROM embedding_cache`).
		Scan(&stats.Entries, &total, &oldest, &newest)
	if err != nil {
		return nil, err
	}
	stats.TotalAccesses = int(total.Int64)
	stats.OldestCreatedAt = msPtrToTime(oldest)
	stats.NewestCreatedAt = msPtrToTime(newest)
	return stats, nil
}

// vectorToBlob encodes a vector as little-endian float32 bytes.
func vectorToBlob(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

// blobToVector decodes a little-endian float32 blob. Trailing bytes that
// do not fill a float are ignored.
func blobToVector(b []byte) []float32 {
	n := len(b) / 4
	v := make([]float32, n)
	for i := 0; i < n; i++ {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
