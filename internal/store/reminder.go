package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rcliao/companion-memory/internal/model"
)

// CreateReminderParams holds parameters for scheduling a reminder.
type CreateReminderParams struct {
	Content              string
	RemindAt             time.Time
	SourceConversationID string
	RepeatPattern        string
	RepeatEndAt          *time.Time
	Metadata             *model.Metadata
}

// ListRemindersParams filters ListReminders.
type ListRemindersParams struct {
	Status string
	After  *time.Time
	Before *time.Time
	Limit  int
	Offset int
}

// CreateReminder persists a pending reminder. Unlike memory writes,
// reminder creation failures propagate to the caller: a silently dropped
// reminder is worse than an error.
func (s *Store) CreateReminder(ctx context.Context, p CreateReminderParams) (*model.Reminder, error) {
	if !s.ready() {
		return nil, fmt.Errorf("store not initialized")
	}
	if strings.TrimSpace(p.Content) == "" {
		return nil, fmt.Errorf("empty reminder content")
	}
	if p.RemindAt.IsZero() {
		return nil, fmt.Errorf("zero remind time")
	}

	now := time.Now()
	r := &model.Reminder{
		ID:                   s.newID(),
		Content:              p.Content,
		RemindAt:             p.RemindAt,
		CreatedAt:            now,
		Status:               model.ReminderPending,
		SourceConversationID: p.SourceConversationID,
		RepeatPattern:        p.RepeatPattern,
		RepeatEndAt:          p.RepeatEndAt,
		Metadata:             p.Metadata,
	}

	var endMs interface{}
	if p.RepeatEndAt != nil {
		endMs = timeToMs(*p.RepeatEndAt)
	}
	var metaPtr interface{}
	if enc := p.Metadata.Encode(); enc != "" {
		metaPtr = enc
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders
		   (id, content, remind_at, created_at, status, source_conversation_id,
		    repeat_pattern, repeat_end_at, completed_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)`,
		r.ID, r.Content, timeToMs(r.RemindAt), timeToMs(now), r.Status,
		nullString(r.SourceConversationID), nullString(r.RepeatPattern), endMs, metaPtr)
	if err != nil {
		return nil, fmt.Errorf("insert reminder: %w", err)
	}
	return r, nil
}

// GetReminder returns one reminder or nil when absent.
func (s *Store) GetReminder(ctx context.Context, id string) (*model.Reminder, error) {
	if !s.ready() {
		return nil, nil
	}

	row := s.db.QueryRowContext(ctx, selectReminder+` WHERE id = ?`, id)
	r, err := scanReminder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListReminders returns reminders soonest-first, optionally filtered by
// status and scheduled-time window.
func (s *Store) ListReminders(ctx context.Context, p ListRemindersParams) ([]model.Reminder, error) {
	if !s.ready() {
		return nil, nil
	}

	limit := p.Limit
	if limit <= 0 {
		limit = 100
	}

	where := []string{"1=1"}
	args := []interface{}{}
	if p.Status != "" {
		if !model.ValidReminderStatuses[p.Status] {
			return nil, fmt.Errorf("invalid status %q", p.Status)
		}
		where = append(where, "status = ?")
		args = append(args, p.Status)
	}
	if p.After != nil {
		where = append(where, "remind_at >= ?")
		args = append(args, timeToMs(*p.After))
	}
	if p.Before != nil {
		where = append(where, "remind_at <= ?")
		args = append(args, timeToMs(*p.Before))
	}

	query := fmt.Sprintf(`%s WHERE %s ORDER BY remind_at ASC LIMIT ? OFFSET ?`,
		selectReminder, strings.Join(where, " AND "))
	args = append(args, limit, p.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReminders(rows)
}

// PendingReminders returns every pending reminder, soonest-first.
func (s *Store) PendingReminders(ctx context.Context) ([]model.Reminder, error) {
	return s.ListReminders(ctx, ListRemindersParams{Status: model.ReminderPending})
}

// TodayReminders returns reminders scheduled between now and local
// midnight, any status.
func (s *Store) TodayReminders(ctx context.Context, now time.Time) ([]model.Reminder, error) {
	end := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 999000000, now.Location())
	return s.ListReminders(ctx, ListRemindersParams{After: &now, Before: &end})
}

// DueReminders returns pending reminders scheduled at or before now,
// soonest-first. A closed store yields an empty slice so the polling
// scheduler keeps ticking during shutdown.
func (s *Store) DueReminders(ctx context.Context, now time.Time) ([]model.Reminder, error) {
	if !s.ready() {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		selectReminder+` WHERE status = ? AND remind_at <= ? ORDER BY remind_at ASC`,
		model.ReminderPending, timeToMs(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReminders(rows)
}

// UpdateReminderStatus moves a reminder out of (or back into) a status,
// stamping completed_at for terminal states.
func (s *Store) UpdateReminderStatus(ctx context.Context, id, status string, completedAt *time.Time) error {
	if !s.ready() {
		return fmt.Errorf("store not initialized")
	}
	if !model.ValidReminderStatuses[status] {
		return fmt.Errorf("invalid status %q", status)
	}

	var completedMs interface{}
	if completedAt != nil {
		completedMs = timeToMs(*completedAt)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET status = ?, completed_at = ? WHERE id = ?`,
		status, completedMs, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("reminder %s not found", id)
	}
	return nil
}

// DeleteReminder removes a reminder row. History rows are kept.
func (s *Store) DeleteReminder(ctx context.Context, id string) error {
	if !s.ready() {
		return fmt.Errorf("store not initialized")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("reminder %s not found", id)
	}
	return nil
}

// AppendHistory writes the immutable audit row for a reminder leaving
// the pending state.
func (s *Store) AppendHistory(ctx context.Context, rec model.ReminderHistoryRecord) error {
	if !s.ready() {
		return fmt.Errorf("store not initialized")
	}
	if rec.ID == "" {
		rec.ID = s.newID()
	}

	var delay interface{}
	if rec.DelayMinutes != nil {
		delay = *rec.DelayMinutes
	}
	var mood interface{}
	if rec.Mood != nil {
		mood = *rec.Mood
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminder_history
		   (id, reminder_id, content, created_at, remind_at, completed_at,
		    delay_minutes, vague_keyword, personality, mood)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ReminderID, rec.Content, timeToMs(rec.CreatedAt),
		timeToMs(rec.RemindAt), timeToMs(rec.CompletedAt),
		delay, nullString(rec.VagueKeyword), nullString(rec.Personality), mood)
	if err != nil {
		return fmt.Errorf("append reminder history: %w", err)
	}
	return nil
}

// ListHistory returns history rows newest-completed first.
func (s *Store) ListHistory(ctx context.Context, limit int) ([]model.ReminderHistoryRecord, error) {
	if !s.ready() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, reminder_id, content, created_at, remind_at, completed_at,
		        delay_minutes, vague_keyword, personality, mood
		 FROM reminder_history ORDER BY completed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectHistory(rows)
}

func collectHistory(rows *sql.Rows) ([]model.ReminderHistoryRecord, error) {
	var out []model.ReminderHistoryRecord
	for rows.Next() {
		var rec model.ReminderHistoryRecord
		var created, remindAt, completed int64
		var delay, mood sql.NullInt64
		var keyword, personality sql.NullString
		if err := rows.Scan(&rec.ID, &rec.ReminderID, &rec.Content, &created, &remindAt,
			&completed, &delay, &keyword, &personality, &mood); err != nil {
			return nil, err
		}
		rec.CreatedAt = msToTime(created)
		rec.RemindAt = msToTime(remindAt)
		rec.CompletedAt = msToTime(completed)
		if delay.Valid {
			d := int(delay.Int64)
			rec.DelayMinutes = &d
		}
		rec.VagueKeyword = keyword.String
		rec.Personality = personality.String
		if mood.Valid {
			m := int(mood.Int64)
			rec.Mood = &m
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// HistoryByKeyword returns history rows for one vague keyword,
// newest-completed first.
func (s *Store) HistoryByKeyword(ctx context.Context, keyword string, limit int) ([]model.ReminderHistoryRecord, error) {
	if !s.ready() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, reminder_id, content, created_at, remind_at, completed_at,
		        delay_minutes, vague_keyword, personality, mood
		 FROM reminder_history WHERE vague_keyword = ?
		 ORDER BY completed_at DESC LIMIT ?`, keyword, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectHistory(rows)
}

// KeywordDelayStat aggregates completion delays for one vague keyword.
type KeywordDelayStat struct {
	Keyword      string
	Samples      int
	AvgDelayMins float64
}

// KeywordDelayStats averages delay_minutes per vague keyword across the
// history table, skipping rows without a recorded delay.
func (s *Store) KeywordDelayStats(ctx context.Context) ([]KeywordDelayStat, error) {
	if !s.ready() {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT vague_keyword, COUNT(*), AVG(delay_minutes)
		 FROM reminder_history
		 WHERE vague_keyword IS NOT NULL AND vague_keyword != '' AND delay_minutes IS NOT NULL
		 GROUP BY vague_keyword`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []KeywordDelayStat
	for rows.Next() {
		var st KeywordDelayStat
		if err := rows.Scan(&st.Keyword, &st.Samples, &st.AvgDelayMins); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// HabitRow is one completed-or-missed history row used for habit
// analysis: hour-of-day and weekday are derived from remind_at.
type HabitRow struct {
	RemindAt     time.Time
	DelayMinutes *int
	Keyword      string
}

// HabitRows returns the raw rows habit analysis aggregates over.
func (s *Store) HabitRows(ctx context.Context) ([]HabitRow, error) {
	if !s.ready() {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT remind_at, delay_minutes, COALESCE(vague_keyword, '')
		 FROM reminder_history ORDER BY remind_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HabitRow
	for rows.Next() {
		var r HabitRow
		var remindAt int64
		var delay sql.NullInt64
		if err := rows.Scan(&remindAt, &delay, &r.Keyword); err != nil {
			return nil, err
		}
		r.RemindAt = msToTime(remindAt)
		if delay.Valid {
			d := int(delay.Int64)
			r.DelayMinutes = &d
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const selectReminder = `SELECT id, content, remind_at, created_at, status,
	source_conversation_id, repeat_pattern, repeat_end_at, completed_at, metadata
	FROM reminders`

func scanReminder(row scanner) (*model.Reminder, error) {
	var r model.Reminder
	var remindAt, created int64
	var sourceConv, repeat, metadata sql.NullString
	var repeatEnd, completed sql.NullInt64

	if err := row.Scan(&r.ID, &r.Content, &remindAt, &created, &r.Status,
		&sourceConv, &repeat, &repeatEnd, &completed, &metadata); err != nil {
		return nil, err
	}

	r.RemindAt = msToTime(remindAt)
	r.CreatedAt = msToTime(created)
	r.SourceConversationID = sourceConv.String
	r.RepeatPattern = repeat.String
	r.RepeatEndAt = msPtrToTime(repeatEnd)
	r.CompletedAt = msPtrToTime(completed)
	if metadata.Valid {
		r.Metadata = model.DecodeMetadata(metadata.String)
	}
	return &r, nil
}

func collectReminders(rows *sql.Rows) ([]model.Reminder, error) {
	var out []model.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
