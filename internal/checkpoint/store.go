// Package checkpoint persists the authoritative message log for each
// conversation thread.
//
// Messages are keyed (thread_id, message_id) with a monotonic per-thread
// sequence, so the three write shapes the agent needs are all targeted:
// appending a turn's new messages, overwriting a message in place (a
// truncated replacement carries the same ID), and deleting evicted
// messages by ID. None of them rewrite the thread's history.
package checkpoint

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/beanbot/beanbot/internal/llm"
)

// Store handles thread checkpoint persistence.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the checkpoint database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer at a time keeps append/evict/prune batches as single
	// transactions without SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	s, err := NewStore(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore creates a checkpoint store using the given database.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			thread_id TEXT NOT NULL,
			id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (thread_id, id)
		);
		CREATE INDEX IF NOT EXISTS idx_messages_thread_seq
			ON messages(thread_id, seq);

		CREATE TABLE IF NOT EXISTS revisions (
			thread_id TEXT NOT NULL,
			revision_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			message_count INTEGER NOT NULL,
			PRIMARY KEY (thread_id, revision_id)
		);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the full persisted message sequence for a thread, in
// append order. A thread that has never been written returns an empty
// slice, not an error.
func (s *Store) Load(threadID string) ([]llm.Message, error) {
	rows, err := s.db.Query(`
		SELECT body FROM messages
		WHERE thread_id = ?
		ORDER BY seq ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []llm.Message
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var m llm.Message
		if err := json.Unmarshal([]byte(body), &m); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Append persists a turn's messages for a thread. Messages whose ID is
// already present are overwritten in place, keeping their position.
// That is how a truncated replacement supersedes the original.
func (s *Store) Append(threadID string, messages []llm.Message) error {
	return s.CommitTurn(threadID, messages, nil)
}

// Evict permanently removes the given message IDs from a thread.
func (s *Store) Evict(threadID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := evictTx(tx, threadID, ids); err != nil {
		return err
	}
	return tx.Commit()
}

// CommitTurn applies a completed turn in a single transaction: new and
// replaced messages are written, evicted IDs are deleted, and one new
// checkpoint revision is recorded for the thread.
func (s *Store) CommitTurn(threadID string, upserts []llm.Message, evictIDs []string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO threads (id, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at
	`, threadID, now, now)
	if err != nil {
		return fmt.Errorf("upsert thread: %w", err)
	}

	var nextSeq int64
	err = tx.QueryRow(`
		SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE thread_id = ?
	`, threadID).Scan(&nextSeq)
	if err != nil {
		return fmt.Errorf("next seq: %w", err)
	}

	for _, m := range upserts {
		body, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal message %s: %w", m.ID, err)
		}

		var existing int64
		err = tx.QueryRow(`
			SELECT seq FROM messages WHERE thread_id = ? AND id = ?
		`, threadID, m.ID).Scan(&existing)
		switch {
		case err == sql.ErrNoRows:
			_, err = tx.Exec(`
				INSERT INTO messages (thread_id, id, seq, role, body, created_at)
				VALUES (?, ?, ?, ?, ?, ?)
			`, threadID, m.ID, nextSeq, m.Role, string(body), now)
			if err != nil {
				return fmt.Errorf("insert message: %w", err)
			}
			nextSeq++
		case err != nil:
			return fmt.Errorf("lookup message: %w", err)
		default:
			_, err = tx.Exec(`
				UPDATE messages SET role = ?, body = ? WHERE thread_id = ? AND id = ?
			`, m.Role, string(body), threadID, m.ID)
			if err != nil {
				return fmt.Errorf("overwrite message: %w", err)
			}
		}
	}

	if err := evictTx(tx, threadID, evictIDs); err != nil {
		return err
	}

	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM messages WHERE thread_id = ?`, threadID).Scan(&count); err != nil {
		return fmt.Errorf("count messages: %w", err)
	}

	revID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate revision id: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO revisions (thread_id, revision_id, created_at, message_count)
		VALUES (?, ?, ?, ?)
	`, threadID, revID.String(), now, count)
	if err != nil {
		return fmt.Errorf("insert revision: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.logger.Debug("turn committed",
		"thread", threadID,
		"upserts", len(upserts),
		"evictions", len(evictIDs),
		"messages", count,
	)
	return nil
}

func evictTx(tx *sql.Tx, threadID string, ids []string) error {
	for _, id := range ids {
		if _, err := tx.Exec(`
			DELETE FROM messages WHERE thread_id = ? AND id = ?
		`, threadID, id); err != nil {
			return fmt.Errorf("evict message %s: %w", id, err)
		}
	}
	return nil
}

// DeleteThread removes a thread and everything stored under it.
func (s *Store) DeleteThread(threadID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		`DELETE FROM messages WHERE thread_id = ?`,
		`DELETE FROM revisions WHERE thread_id = ?`,
		`DELETE FROM threads WHERE id = ?`,
	} {
		if _, err := tx.Exec(q, threadID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListThreads returns all known thread IDs, most recently updated first.
func (s *Store) ListThreads() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM threads ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query threads: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ExpireEphemeral deletes every thread whose ID starts with one of the
// given prefixes and whose embedded ISO date sorts before cutoffDate
// ("2006-01-02"). The comparison is lexicographic, which is safe because
// the date suffix is fixed-width and zero-padded.
func (s *Store) ExpireEphemeral(prefixes []string, cutoffDate string) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, prefix := range prefixes {
		like := prefix + "%"
		bound := prefix + cutoffDate
		for _, q := range []string{
			`DELETE FROM messages WHERE thread_id LIKE ? AND thread_id < ?`,
			`DELETE FROM revisions WHERE thread_id LIKE ? AND thread_id < ?`,
			`DELETE FROM threads WHERE id LIKE ? AND id < ?`,
		} {
			res, err := tx.Exec(q, like, bound)
			if err != nil {
				return 0, fmt.Errorf("expire %s: %w", prefix, err)
			}
			n, _ := res.RowsAffected()
			total += n
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

// CapRevisions keeps only the newest keep revisions of a thread and
// deletes the rest. Revision IDs are UUIDv7, so newest-first ordering is
// a simple string sort. Returns the number of revisions deleted.
func (s *Store) CapRevisions(threadID string, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}

	var cutoff string
	err := s.db.QueryRow(`
		SELECT revision_id FROM revisions
		WHERE thread_id = ?
		ORDER BY revision_id DESC
		LIMIT 1 OFFSET ?
	`, threadID, keep-1).Scan(&cutoff)
	if err == sql.ErrNoRows {
		return 0, nil // fewer than keep revisions
	}
	if err != nil {
		return 0, fmt.Errorf("find cutoff: %w", err)
	}

	res, err := s.db.Exec(`
		DELETE FROM revisions WHERE thread_id = ? AND revision_id < ?
	`, threadID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete revisions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RevisionCount returns the number of checkpoint revisions stored for a
// thread.
func (s *Store) RevisionCount(threadID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM revisions WHERE thread_id = ?`, threadID).Scan(&n)
	return n, err
}

// Vacuum reclaims space freed by deletions. SQLite leaves holes in the
// file otherwise.
func (s *Store) Vacuum() error {
	_, err := s.db.Exec(`VACUUM`)
	return err
}
