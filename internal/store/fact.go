package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rcliao/companion-memory/internal/model"
)

// UpsertFactParams holds one extracted fact for merge-or-insert.
type UpsertFactParams struct {
	Type                 string
	Subject              string
	Predicate            string
	Object               string
	Confidence           float64
	SourceConversationID string
	SourceText           string
}

// ListFactsParams filters ListFacts.
type ListFactsParams struct {
	Type          string
	MinConfidence float64
	Limit         int
}

// UpsertFacts merges a batch of extracted facts in one transaction. A
// fact matching an existing (type, predicate, object) triple refreshes
// that row: confidence keeps the maximum, last_confirmed_at and the
// source text are updated. Everything else inserts a new row.
// Returns the stored facts, merged rows included.
func (s *Store) UpsertFacts(ctx context.Context, facts []UpsertFactParams) ([]model.Fact, error) {
	if !s.ready() {
		return nil, fmt.Errorf("store not initialized")
	}
	if len(facts) == 0 {
		return nil, nil
	}

	now := time.Now()
	nowMs := timeToMs(now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var out []model.Fact
	for _, f := range facts {
		if !model.ValidFactTypes[f.Type] {
			return nil, fmt.Errorf("invalid fact type %q", f.Type)
		}
		if strings.TrimSpace(f.Predicate) == "" {
			return nil, fmt.Errorf("empty predicate")
		}
		if f.Confidence < 0 {
			f.Confidence = 0
		} else if f.Confidence > 1 {
			f.Confidence = 1
		}

		var existingID string
		var existingConfidence float64
		var createdMs int64
		err := tx.QueryRowContext(ctx,
			`SELECT id, confidence, created_at FROM memory_facts
			 WHERE fact_type = ? AND predicate = ? AND IFNULL(object, '') = ?`,
			f.Type, f.Predicate, f.Object).
			Scan(&existingID, &existingConfidence, &createdMs)

		switch {
		case err == sql.ErrNoRows:
			id := s.newID()
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO memory_facts
				   (id, fact_type, subject, predicate, object, confidence,
				    source_conversation_id, source_text, created_at, updated_at, last_confirmed_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				id, f.Type, nullString(f.Subject), f.Predicate, nullString(f.Object),
				f.Confidence, nullString(f.SourceConversationID), nullString(f.SourceText),
				nowMs, nowMs, nowMs); err != nil {
				return nil, fmt.Errorf("insert fact: %w", err)
			}
			out = append(out, model.Fact{
				ID: id, Type: f.Type, Subject: f.Subject, Predicate: f.Predicate,
				Object: f.Object, Confidence: f.Confidence,
				SourceConversationID: f.SourceConversationID, SourceText: f.SourceText,
				CreatedAt: now, UpdatedAt: now, LastConfirmedAt: now,
			})

		case err != nil:
			return nil, err

		default:
			merged := existingConfidence
			if f.Confidence > merged {
				merged = f.Confidence
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE memory_facts
				 SET confidence = ?, updated_at = ?, last_confirmed_at = ?,
				     source_text = COALESCE(?, source_text),
				     source_conversation_id = COALESCE(?, source_conversation_id)
				 WHERE id = ?`,
				merged, nowMs, nowMs,
				nullString(f.SourceText), nullString(f.SourceConversationID),
				existingID); err != nil {
				return nil, fmt.Errorf("merge fact: %w", err)
			}
			out = append(out, model.Fact{
				ID: existingID, Type: f.Type, Subject: f.Subject, Predicate: f.Predicate,
				Object: f.Object, Confidence: merged,
				SourceConversationID: f.SourceConversationID, SourceText: f.SourceText,
				CreatedAt: msToTime(createdMs), UpdatedAt: now, LastConfirmedAt: now,
			})
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListFacts returns stored facts newest-confirmed first.
func (s *Store) ListFacts(ctx context.Context, p ListFactsParams) ([]model.Fact, error) {
	if !s.ready() {
		return nil, nil
	}

	limit := p.Limit
	if limit <= 0 {
		limit = 100
	}

	where := []string{"1=1"}
	args := []interface{}{}
	if p.Type != "" {
		where = append(where, "fact_type = ?")
		args = append(args, p.Type)
	}
	if p.MinConfidence > 0 {
		where = append(where, "confidence >= ?")
		args = append(args, p.MinConfidence)
	}

	query := fmt.Sprintf(
		`SELECT id, fact_type, subject, predicate, object, confidence,
		        source_conversation_id, source_text, created_at, updated_at, last_confirmed_at
		 FROM memory_facts WHERE %s
		 ORDER BY last_confirmed_at DESC LIMIT ?`, strings.Join(where, " AND "))
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// FactsByConversation returns the facts extracted from one conversation,
// used to attach related facts to search candidates.
func (s *Store) FactsByConversation(ctx context.Context, conversationID string) ([]model.Fact, error) {
	if !s.ready() {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fact_type, subject, predicate, object, confidence,
		        source_conversation_id, source_text, created_at, updated_at, last_confirmed_at
		 FROM memory_facts WHERE source_conversation_id = ?`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

func scanFact(row scanner) (*model.Fact, error) {
	var f model.Fact
	var subject, object, sourceConv, sourceText sql.NullString
	var created, updated int64
	var confirmed sql.NullInt64

	if err := row.Scan(&f.ID, &f.Type, &subject, &f.Predicate, &object, &f.Confidence,
		&sourceConv, &sourceText, &created, &updated, &confirmed); err != nil {
		return nil, err
	}

	f.Subject = subject.String
	f.Object = object.String
	f.SourceConversationID = sourceConv.String
	f.SourceText = sourceText.String
	f.CreatedAt = msToTime(created)
	f.UpdatedAt = msToTime(updated)
	if confirmed.Valid {
		f.LastConfirmedAt = msToTime(confirmed.Int64)
	} else {
		f.LastConfirmedAt = f.UpdatedAt
	}
	return &f, nil
}
