package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rcliao/companion-memory/internal/model"
)

// UpsertProfileParams holds one canonical profile entry for merge.
type UpsertProfileParams struct {
	Key          string
	Value        string
	Confidence   float64
	SourceFactID string
}

// UpsertProfile merges profile entries under the non-decreasing rule: an
// existing key is only overwritten when the incoming confidence is at
// least the stored one. Lower-confidence updates are dropped silently.
func (s *Store) UpsertProfile(ctx context.Context, entries []UpsertProfileParams) error {
	if !s.ready() {
		return fmt.Errorf("store not initialized")
	}
	if len(entries) == 0 {
		return nil
	}

	nowMs := timeToMs(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range entries {
		if e.Key == "" || e.Value == "" {
			continue
		}

		var existing float64
		err := tx.QueryRowContext(ctx,
			`SELECT confidence FROM user_profile WHERE key = ?`, e.Key).Scan(&existing)
		switch {
		case err == sql.ErrNoRows:
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO user_profile (key, value, confidence, updated_at, source_fact_id)
				 VALUES (?, ?, ?, ?, ?)`,
				e.Key, e.Value, e.Confidence, nowMs, nullString(e.SourceFactID)); err != nil {
				return fmt.Errorf("insert profile %q: %w", e.Key, err)
			}
		case err != nil:
			return err
		case e.Confidence >= existing:
			if _, err := tx.ExecContext(ctx,
				`UPDATE user_profile
				 SET value = ?, confidence = ?, updated_at = ?, source_fact_id = ?
				 WHERE key = ?`,
				e.Value, e.Confidence, nowMs, nullString(e.SourceFactID), e.Key); err != nil {
				return fmt.Errorf("update profile %q: %w", e.Key, err)
			}
		}
	}

	return tx.Commit()
}

// GetProfile returns every profile entry, highest confidence first.
func (s *Store) GetProfile(ctx context.Context) ([]model.ProfileEntry, error) {
	if !s.ready() {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, confidence, updated_at, source_fact_id
		 FROM user_profile ORDER BY confidence DESC, key ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ProfileEntry
	for rows.Next() {
		var e model.ProfileEntry
		var updated int64
		var source sql.NullString
		if err := rows.Scan(&e.Key, &e.Value, &e.Confidence, &updated, &source); err != nil {
			return nil, err
		}
		e.UpdatedAt = msToTime(updated)
		e.SourceFactID = source.String
		out = append(out, e)
	}
	return out, rows.Err()
}
