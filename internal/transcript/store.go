// Package transcript persists session history to SQLite. The live
// window inside a session evicts messages to fit the token budget;
// the transcript store keeps everything, so evicted turns remain
// queryable after the fact.
package transcript

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vaakya/vaakya/internal/session"
)

// Store is a SQLite-backed transcript store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the transcript database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tokens INTEGER DEFAULT 0,
		pinned BOOLEAN DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);

	CREATE TABLE IF NOT EXISTS results (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		call TEXT NOT NULL,
		status TEXT NOT NULL,
		payload TEXT,
		error TEXT,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_results_session ON results(session_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_results_call ON results(call);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordTurn persists a completed turn. Message inserts are keyed by
// the window's message IDs, so recording overlapping transcripts is
// idempotent: messages already stored from earlier turns are skipped,
// and messages the window has since evicted stay put.
func (s *Store) RecordTurn(o *session.Outcome) error {
	now := time.Now()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at
	`, o.SessionID, now, now)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	for _, m := range o.Transcript {
		_, err := tx.Exec(`
			INSERT OR IGNORE INTO messages (id, session_id, role, content, tokens, pinned, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, m.ID, o.SessionID, m.Role, m.Content, m.Tokens, m.Pinned, m.Time)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	for _, r := range o.Results {
		payload, err := json.Marshal(r.Payload)
		if err != nil {
			payload = []byte("null")
		}
		_, err = tx.Exec(`
			INSERT INTO results (id, session_id, call, status, payload, error, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, uuid.NewString(), o.SessionID, r.Call, r.Status, string(payload), r.Error, now)
		if err != nil {
			return fmt.Errorf("insert result: %w", err)
		}
	}

	return tx.Commit()
}

// Messages returns a session's stored messages in chronological order.
func (s *Store) Messages(sessionID string) ([]session.Message, error) {
	rows, err := s.db.Query(`
		SELECT id, role, content, tokens, pinned, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY created_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []session.Message
	for rows.Next() {
		var m session.Message
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.Tokens, &m.Pinned, &m.Time); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// StoredResult is one persisted operation result.
type StoredResult struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Call      string    `json:"call"`
	Status    string    `json:"status"`
	Payload   string    `json:"payload,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Results returns a session's stored operation results, newest first.
func (s *Store) Results(sessionID string, limit int) ([]StoredResult, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, session_id, call, status, payload, error, created_at
		FROM results
		WHERE session_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredResult
	for rows.Next() {
		var r StoredResult
		var payload, errMsg sql.NullString
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Call, &r.Status, &payload, &errMsg, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Payload = payload.String
		r.Error = errMsg.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// SessionInfo summarizes one stored session.
type SessionInfo struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  int       `json:"messages"`
}

// Sessions lists stored sessions, most recently active first.
func (s *Store) Sessions() ([]SessionInfo, error) {
	rows, err := s.db.Query(`
		SELECT s.id, s.created_at, s.updated_at, COUNT(m.id)
		FROM sessions s
		LEFT JOIN messages m ON m.session_id = s.id
		GROUP BY s.id
		ORDER BY s.updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var info SessionInfo
		if err := rows.Scan(&info.ID, &info.CreatedAt, &info.UpdatedAt, &info.Messages); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Delete removes a session and everything recorded under it.
func (s *Store) Delete(sessionID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		`DELETE FROM results WHERE session_id = ?`,
		`DELETE FROM messages WHERE session_id = ?`,
		`DELETE FROM sessions WHERE id = ?`,
	} {
		if _, err := tx.Exec(q, sessionID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Stats reports store-wide counts for the status endpoint.
func (s *Store) Stats() map[string]any {
	var sessions, messages, results int
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&sessions)
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&messages)
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM results`).Scan(&results)

	byCall := make(map[string]int)
	rows, err := s.db.Query(`SELECT call, COUNT(*) FROM results GROUP BY call`)
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var call string
			var count int
			if err := rows.Scan(&call, &count); err != nil {
				continue
			}
			byCall[call] = count
		}
	}

	return map[string]any{
		"sessions": sessions,
		"messages": messages,
		"results":  results,
		"by_call":  byCall,
	}
}
