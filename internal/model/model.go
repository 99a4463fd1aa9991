// Package model defines the core data types persisted by the memory engine.
package model

import (
	"encoding/json"
	"time"
)

// Role identifies the speaker of a conversation turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation is one immutable dialogue turn.
type Conversation struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	Personality string    `json:"personality,omitempty"`
	Mood        int       `json:"mood"`
	Metadata    *Metadata `json:"metadata,omitempty"`
}

// MemoryChunk is an embeddable text span derived from one conversation turn.
// A conversation owns at least one chunk; chunk text never exceeds the
// conversation content it was cut from.
type MemoryChunk struct {
	ID              string    `json:"id"`
	ConversationID  string    `json:"conversation_id"`
	ChunkIndex      int       `json:"chunk_index"`
	Text            string    `json:"text"`
	Embedding       []float32 `json:"-"`
	UpdatedAt       time.Time `json:"updated_at"`
	LastAccessedAt  time.Time `json:"last_accessed_at"`
	AccessCount     int       `json:"access_count"`
	ImportanceScore float64   `json:"importance_score"`
}

// Fact types extracted from dialogue.
const (
	FactPreference   = "preference"
	FactEvent        = "event"
	FactRelationship = "relationship"
	FactRoutine      = "routine"
	FactPersonal     = "personal"
)

// ValidFactTypes is the set of accepted fact types.
var ValidFactTypes = map[string]bool{
	FactPreference:   true,
	FactEvent:        true,
	FactRelationship: true,
	FactRoutine:      true,
	FactPersonal:     true,
}

// Fact is a structured (subject, predicate, object) statement about the user.
// At most one current fact exists per (type, predicate, object) triple;
// re-extraction merges into the existing row instead of inserting.
type Fact struct {
	ID                   string    `json:"id"`
	Type                 string    `json:"type"`
	Subject              string    `json:"subject"`
	Predicate            string    `json:"predicate"`
	Object               string    `json:"object"`
	Confidence           float64   `json:"confidence"`
	SourceConversationID string    `json:"source_conversation_id,omitempty"`
	SourceText           string    `json:"source_text,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
	LastConfirmedAt      time.Time `json:"last_confirmed_at"`
}

// ProfileEntry is one canonical key of the merged user profile,
// e.g. "name", "like.coffee", "relationship.mother".
type ProfileEntry struct {
	Key          string    `json:"key"`
	Value        string    `json:"value"`
	Confidence   float64   `json:"confidence"`
	SourceFactID string    `json:"source_fact_id,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CacheEntry is a cached embedding keyed by the content hash.
type CacheEntry struct {
	Hash           string    `json:"hash"`
	Embedding      []float32 `json:"-"`
	Model          string    `json:"model"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	AccessCount    int       `json:"access_count"`
}

// Reminder statuses. Transitions are forward-only per instance:
// pending -> completed | cancelled | missed. A fired repeating reminder
// spawns a new pending instance rather than mutating itself.
const (
	ReminderPending   = "pending"
	ReminderCompleted = "completed"
	ReminderCancelled = "cancelled"
	ReminderMissed    = "missed"
)

// ValidReminderStatuses is the set of accepted reminder statuses.
var ValidReminderStatuses = map[string]bool{
	ReminderPending:   true,
	ReminderCompleted: true,
	ReminderCancelled: true,
	ReminderMissed:    true,
}

// Repeat patterns with fixed offsets. Anything else is parsed as a literal
// millisecond interval.
const (
	RepeatDaily   = "daily"
	RepeatWeekly  = "weekly"
	RepeatMonthly = "monthly"
	RepeatYearly  = "yearly"
)

// Reminder is a scheduled callback.
type Reminder struct {
	ID                   string     `json:"id"`
	Content              string     `json:"content"`
	RemindAt             time.Time  `json:"remind_at"`
	CreatedAt            time.Time  `json:"created_at"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	Status               string     `json:"status"`
	SourceConversationID string     `json:"source_conversation_id,omitempty"`
	RepeatPattern        string     `json:"repeat_pattern,omitempty"`
	RepeatEndAt          *time.Time `json:"repeat_end_at,omitempty"`
	Metadata             *Metadata  `json:"metadata,omitempty"`
}

// ReminderHistoryRecord is the immutable audit row written whenever a
// reminder leaves the pending state. DelayMinutes is completed minus
// scheduled and may be negative.
type ReminderHistoryRecord struct {
	ID           string    `json:"id"`
	ReminderID   string    `json:"reminder_id"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`
	RemindAt     time.Time `json:"remind_at"`
	CompletedAt  time.Time `json:"completed_at"`
	DelayMinutes *int      `json:"delay_minutes,omitempty"`
	VagueKeyword string    `json:"vague_keyword,omitempty"`
	Personality  string    `json:"personality,omitempty"`
	Mood         *int      `json:"mood,omitempty"`
}

// MetadataVersion is the current serialization version of Metadata columns.
const MetadataVersion = 1

// Metadata is the versioned envelope stored in metadata columns.
type Metadata struct {
	Version      int               `json:"v"`
	Personality  string            `json:"personality,omitempty"`
	Mood         *int              `json:"mood,omitempty"`
	VagueKeyword string            `json:"vague_keyword,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// Encode marshals the metadata, stamping the current version.
// Returns "" for nil metadata.
func (m *Metadata) Encode() string {
	if m == nil {
		return ""
	}
	m.Version = MetadataVersion
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}

// DecodeMetadata parses a metadata column value. Unknown or empty input
// yields nil rather than an error: metadata is advisory.
func DecodeMetadata(s string) *Metadata {
	if s == "" {
		return nil
	}
	var m Metadata
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return &m
}
