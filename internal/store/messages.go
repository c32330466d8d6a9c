package store

import (
	"database/sql"
	"fmt"
	"time"

	"companion/internal/logging"
)

// StoredMessage is a single persisted conversation turn.
type StoredMessage struct {
	Seq       int
	Role      string // user, assistant
	Content   string
	CreatedAt time.Time
}

// AppendMessage stores the next message in a thread and returns its sequence
// number. The thread row is created on first use.
func (s *Store) AppendMessage(threadID, role, content string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO threads (thread_id) VALUES (?)
		 ON CONFLICT(thread_id) DO UPDATE SET updated_at = CURRENT_TIMESTAMP`,
		threadID,
	); err != nil {
		return 0, fmt.Errorf("failed to upsert thread: %w", err)
	}

	var seq int
	err = tx.QueryRow(
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE thread_id = ?",
		threadID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to compute next seq: %w", err)
	}

	if _, err := tx.Exec(
		"INSERT INTO messages (thread_id, seq, role, content) VALUES (?, ?, ?, ?)",
		threadID, seq, role, content,
	); err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}

	logging.StoreDebug("Appended message thread=%s seq=%d role=%s", threadID, seq, role)
	return seq, nil
}

// RecentMessages returns up to limit newest messages for a thread, in
// chronological order.
func (s *Store) RecentMessages(threadID string, limit int) ([]StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT seq, role, content, created_at FROM (
			SELECT seq, role, content, created_at
			FROM messages WHERE thread_id = ?
			ORDER BY seq DESC LIMIT ?
		 ) ORDER BY seq ASC`,
		threadID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []StoredMessage
	for rows.Next() {
		var m StoredMessage
		if err := rows.Scan(&m.Seq, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the number of messages currently stored for a thread.
func (s *Store) MessageCount(threadID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM messages WHERE thread_id = ?", threadID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

// Summary returns the rolling summary for a thread, empty when none exists.
func (s *Store) Summary(threadID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var summary string
	err := s.db.QueryRow(
		"SELECT summary FROM threads WHERE thread_id = ?", threadID,
	).Scan(&summary)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load summary: %w", err)
	}
	return summary, nil
}

// SetSummary replaces the rolling summary for a thread.
func (s *Store) SetSummary(threadID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO threads (thread_id, summary) VALUES (?, ?)
		 ON CONFLICT(thread_id) DO UPDATE SET summary = excluded.summary,
		 updated_at = CURRENT_TIMESTAMP`,
		threadID, summary,
	)
	if err != nil {
		return fmt.Errorf("failed to set summary: %w", err)
	}
	return nil
}

// TrimMessages deletes all but the newest keep messages of a thread.
// Called after summarization folds older turns into the summary.
func (s *Store) TrimMessages(threadID string, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keep < 0 {
		keep = 0
	}

	res, err := s.db.Exec(
		`DELETE FROM messages WHERE thread_id = ? AND seq <= (
			SELECT COALESCE(MAX(seq), 0) - ? FROM messages WHERE thread_id = ?
		 )`,
		threadID, keep, threadID,
	)
	if err != nil {
		return fmt.Errorf("failed to trim messages: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil {
		logging.StoreDebug("Trimmed %d messages thread=%s keep=%d", n, threadID, keep)
	}
	return nil
}
