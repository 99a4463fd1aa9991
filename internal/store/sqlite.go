// Package store provides the embedded SQLite persistence layer for the
// memory engine: conversations, memory chunks, facts, the user profile,
// the embedding cache, reminders and reminder history.
package store

import (
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/rcliao/companion-memory/internal/config"
)

// latestSchemaVersion is written to PRAGMA user_version after migration.
// Migrations are forward-only.
const latestSchemaVersion = 4

// Store is the shared embedded datastore. A single writer process is
// assumed; concurrent readers see consistent rows through the transaction
// discipline on every multi-row mutation.
type Store struct {
	db      *sql.DB
	path    string
	cfg     *config.Config
	log     *logrus.Logger
	entropy *rand.Rand
}

// Open opens or creates the database at dbPath and applies pending
// migrations. Initialization failure is fatal and surfaced to the caller.
func Open(dbPath string, cfg *config.Config, log *logrus.Logger) (*Store, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &Store{
		db:      db,
		path:    dbPath,
		cfg:     cfg,
		log:     log,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// ready reports whether the store can serve reads. Polled accessors use
// this to return empty results instead of failing on a closed handle.
func (s *Store) ready() bool {
	return s != nil && s.db != nil
}

func (s *Store) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *Store) schemaVersion() (int, error) {
	var v int
	if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func (s *Store) migrate() error {
	version, err := s.schemaVersion()
	if err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}

	steps := []struct {
		to    int
		apply func() error
	}{
		{1, s.migrateToV1},
		{2, s.migrateToV2},
		{3, s.migrateToV3},
		{4, s.migrateToV4},
	}

	for _, step := range steps {
		if version >= step.to {
			continue
		}
		if err := step.apply(); err != nil {
			return fmt.Errorf("migrate to v%d: %w", step.to, err)
		}
		if _, err := s.db.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, step.to)); err != nil {
			return fmt.Errorf("set user_version %d: %w", step.to, err)
		}
		s.log.WithField("version", step.to).Debug("schema migrated")
		version = step.to
	}

	return nil
}

// migrateToV1 creates the conversation, chunk, fact and embedding-cache
// tables. Timestamps are unix milliseconds throughout.
func (s *Store) migrateToV1() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS conversations (
		id          TEXT PRIMARY KEY,
		timestamp   INTEGER NOT NULL,
		role        TEXT NOT NULL CHECK(role IN ('user', 'assistant')),
		content     TEXT NOT NULL,
		personality TEXT,
		mood        INTEGER NOT NULL DEFAULT 80,
		metadata    TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_timestamp ON conversations(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_conversations_role ON conversations(role);

	CREATE TABLE IF NOT EXISTS memory_chunks (
		id               TEXT PRIMARY KEY,
		conversation_id  TEXT NOT NULL REFERENCES conversations(id),
		chunk_index      INTEGER NOT NULL,
		text             TEXT NOT NULL,
		embedding        BLOB,
		updated_at       INTEGER NOT NULL,
		last_accessed_at INTEGER NOT NULL,
		access_count     INTEGER NOT NULL DEFAULT 1,
		importance_score REAL NOT NULL DEFAULT 1.0
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_conversation ON memory_chunks(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_updated ON memory_chunks(updated_at DESC);

	CREATE TABLE IF NOT EXISTS memory_facts (
		id                     TEXT PRIMARY KEY,
		fact_type              TEXT NOT NULL,
		subject                TEXT,
		predicate              TEXT NOT NULL,
		object                 TEXT,
		confidence             REAL NOT NULL DEFAULT 1.0,
		source_conversation_id TEXT,
		created_at             INTEGER NOT NULL,
		updated_at             INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_facts_type ON memory_facts(fact_type);
	CREATE INDEX IF NOT EXISTS idx_facts_triple ON memory_facts(fact_type, predicate, object);

	CREATE TABLE IF NOT EXISTS embedding_cache (
		hash             TEXT PRIMARY KEY,
		embedding        BLOB NOT NULL,
		model            TEXT NOT NULL,
		created_at       INTEGER NOT NULL,
		last_accessed_at INTEGER NOT NULL,
		access_count     INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_cache_accessed ON embedding_cache(last_accessed_at ASC);
	`)
	return err
}

// migrateToV2 adds the reminders table.
func (s *Store) migrateToV2() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS reminders (
		id                     TEXT PRIMARY KEY,
		content                TEXT NOT NULL,
		remind_at              INTEGER NOT NULL,
		created_at             INTEGER NOT NULL,
		status                 TEXT NOT NULL DEFAULT 'pending'
		                       CHECK(status IN ('pending', 'completed', 'cancelled', 'missed')),
		source_conversation_id TEXT,
		repeat_pattern         TEXT,
		repeat_end_at          INTEGER,
		completed_at           INTEGER,
		metadata               TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_reminders_remind_at ON reminders(remind_at);
	CREATE INDEX IF NOT EXISTS idx_reminders_pending ON reminders(status, remind_at);
	CREATE INDEX IF NOT EXISTS idx_reminders_created_at ON reminders(created_at);
	`)
	return err
}

// migrateToV3 adds the reminder history audit table.
func (s *Store) migrateToV3() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS reminder_history (
		id            TEXT PRIMARY KEY,
		reminder_id   TEXT NOT NULL,
		content       TEXT NOT NULL,
		created_at    INTEGER NOT NULL,
		remind_at     INTEGER NOT NULL,
		completed_at  INTEGER NOT NULL,
		delay_minutes INTEGER,
		vague_keyword TEXT,
		personality   TEXT,
		mood          INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_history_keyword ON reminder_history(vague_keyword);
	CREATE INDEX IF NOT EXISTS idx_history_completed ON reminder_history(completed_at DESC);
	`)
	return err
}

// migrateToV4 adds fact confirmation tracking and the user profile table.
func (s *Store) migrateToV4() error {
	// ALTER TABLE ADD COLUMN fails when the column already exists; the
	// errors are dropped so partially upgraded databases converge.
	s.db.Exec(`ALTER TABLE memory_facts ADD COLUMN last_confirmed_at INTEGER`)
	s.db.Exec(`ALTER TABLE memory_facts ADD COLUMN source_text TEXT`)

	if _, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS user_profile (
		key            TEXT PRIMARY KEY,
		value          TEXT NOT NULL,
		confidence     REAL NOT NULL DEFAULT 1.0,
		updated_at     INTEGER NOT NULL,
		source_fact_id TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_profile_confidence ON user_profile(confidence DESC);
	`); err != nil {
		return err
	}

	_, err := s.db.Exec(`UPDATE memory_facts SET last_confirmed_at = updated_at WHERE last_confirmed_at IS NULL`)
	return err
}

// ClearOldConversations deletes conversations (and their chunks) older
// than the given time. Returns the number of conversations removed.
func (s *Store) ClearOldConversations(before time.Time) (int, error) {
	if !s.ready() {
		return 0, fmt.Errorf("store not initialized")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`DELETE FROM memory_chunks WHERE conversation_id IN
		   (SELECT id FROM conversations WHERE timestamp < ?)`, timeToMs(before)); err != nil {
		return 0, err
	}
	res, err := tx.Exec(`DELETE FROM conversations WHERE timestamp < ?`, timeToMs(before))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(n), nil
}

// ClearAll wipes every memory table. Reminder tables are left alone.
func (s *Store) ClearAll() error {
	if !s.ready() {
		return fmt.Errorf("store not initialized")
	}
	_, err := s.db.Exec(`
		DELETE FROM memory_chunks;
		DELETE FROM conversations;
		DELETE FROM memory_facts;
		DELETE FROM user_profile;
		DELETE FROM embedding_cache;
	`)
	return err
}

// timeToMs converts a time to the unix-millisecond representation used by
// every timestamp column.
func timeToMs(t time.Time) int64 {
	return t.UnixMilli()
}

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func msPtrToTime(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := msToTime(ms.Int64)
	return &t
}
