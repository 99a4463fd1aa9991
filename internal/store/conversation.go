package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rcliao/companion-memory/internal/chunker"
	"github.com/rcliao/companion-memory/internal/model"
)

// SaveConversationParams holds parameters for recording a dialogue turn.
type SaveConversationParams struct {
	Role        string
	Content     string
	Personality string
	// Mood defaults to 80 when zero-valued and unset.
	Mood     int
	MoodSet  bool
	Metadata *model.Metadata
}

// ListConversationsParams filters ListConversations.
type ListConversationsParams struct {
	Role   string
	After  *time.Time
	Before *time.Time
	Limit  int
	Offset int
}

// SaveConversation writes an immutable conversation row and its derived
// memory chunks in a single transaction.
func (s *Store) SaveConversation(ctx context.Context, p SaveConversationParams) (*model.Conversation, error) {
	if !s.ready() {
		return nil, fmt.Errorf("store not initialized")
	}
	if p.Role != model.RoleUser && p.Role != model.RoleAssistant {
		return nil, fmt.Errorf("invalid role %q", p.Role)
	}
	if strings.TrimSpace(p.Content) == "" {
		return nil, fmt.Errorf("empty content")
	}

	mood := p.Mood
	if !p.MoodSet && mood == 0 {
		mood = 80
	}

	now := time.Now()
	conv := &model.Conversation{
		ID:          s.newID(),
		Timestamp:   now,
		Role:        p.Role,
		Content:     p.Content,
		Personality: p.Personality,
		Mood:        mood,
		Metadata:    p.Metadata,
	}

	var metaPtr *string
	if enc := p.Metadata.Encode(); enc != "" {
		metaPtr = &enc
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (id, timestamp, role, content, personality, mood, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, timeToMs(now), conv.Role, conv.Content,
		nullString(conv.Personality), conv.Mood, metaPtr)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	// Every conversation owns at least one chunk; long turns are split.
	spans := chunker.Chunk(p.Content, chunker.DefaultOptions())
	nowMs := timeToMs(now)
	for i, span := range spans {
		score := s.importanceScore(span, 1, now, now)
		_, err = tx.ExecContext(ctx,
			`INSERT INTO memory_chunks
			   (id, conversation_id, chunk_index, text, embedding, updated_at, last_accessed_at, access_count, importance_score)
			 VALUES (?, ?, ?, ?, NULL, ?, ?, 1, ?)`,
			s.newID(), conv.ID, i, span, nowMs, nowMs, score)
		if err != nil {
			return nil, fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return conv, nil
}

// GetConversation returns one conversation or nil when absent.
func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	if !s.ready() {
		return nil, nil
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, timestamp, role, content, personality, mood, metadata
		 FROM conversations WHERE id = ?`, id)

	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// ListConversations returns conversations newest-first.
func (s *Store) ListConversations(ctx context.Context, p ListConversationsParams) ([]model.Conversation, error) {
	if !s.ready() {
		return nil, nil
	}

	limit := p.Limit
	if limit <= 0 {
		limit = 100
	}

	where := []string{"1=1"}
	args := []interface{}{}

	if p.Role != "" {
		where = append(where, "role = ?")
		args = append(args, p.Role)
	}
	if p.After != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, timeToMs(*p.After))
	}
	if p.Before != nil {
		where = append(where, "timestamp <= ?")
		args = append(args, timeToMs(*p.Before))
	}

	query := fmt.Sprintf(
		`SELECT id, timestamp, role, content, personality, mood, metadata
		 FROM conversations WHERE %s
		 ORDER BY timestamp DESC LIMIT ? OFFSET ?`, strings.Join(where, " AND "))
	args = append(args, limit, p.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *conv)
	}
	return out, rows.Err()
}

// RecentConversations returns the n most recent conversations newest-first.
func (s *Store) RecentConversations(ctx context.Context, n int) ([]model.Conversation, error) {
	return s.ListConversations(ctx, ListConversationsParams{Limit: n})
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row scanner) (*model.Conversation, error) {
	var c model.Conversation
	var ts int64
	var personality, metadata sql.NullString

	if err := row.Scan(&c.ID, &ts, &c.Role, &c.Content, &personality, &c.Mood, &metadata); err != nil {
		return nil, err
	}

	c.Timestamp = msToTime(ts)
	if personality.Valid {
		c.Personality = personality.String
	}
	if metadata.Valid {
		c.Metadata = model.DecodeMetadata(metadata.String)
	}
	return &c, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
