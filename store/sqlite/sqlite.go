// Package sqlite provides a SQLite-backed store.Store. The database opens in
// WAL mode with a busy timeout, and the schema is created on open, so a path
// to a fresh file is all that is needed.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/registry"
	"github.com/hupe1980/toolmesh/store"
)

// Store persists sessions, messages, and server configurations in SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and migrates the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
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

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS server_configs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		transport TEXT NOT NULL,
		config TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT,
		tool_calls TEXT,
		tool_call_id TEXT,
		name TEXT,
		timestamp TIMESTAMP NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSession creates the session row if it does not exist yet.
func (s *Store) EnsureSession(sessionID string) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO sessions (id, created_at) VALUES (?, ?)
	`, sessionID, time.Now())
	if err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	return nil
}

// AppendMessages appends messages to a session in one transaction, creating
// the session when needed. Row order is append order.
func (s *Store) AppendMessages(sessionID string, msgs []core.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT OR IGNORE INTO sessions (id, created_at) VALUES (?, ?)
	`, sessionID, time.Now()); err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}

	for _, msg := range msgs {
		var toolCalls any
		if len(msg.ToolCalls) > 0 {
			raw, err := json.Marshal(msg.ToolCalls)
			if err != nil {
				return fmt.Errorf("encode tool calls: %w", err)
			}
			toolCalls = string(raw)
		}

		ts := msg.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}

		if _, err := tx.Exec(`
			INSERT INTO messages (session_id, role, content, tool_calls, tool_call_id, name, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, sessionID, string(msg.Role), nullString(msg.Content), toolCalls,
			nullString(msg.ToolCallID), nullString(msg.Name), ts); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	return tx.Commit()
}

// Messages returns a session's history in append order; unknown sessions
// yield an empty history.
func (s *Store) Messages(sessionID string) ([]core.Message, error) {
	rows, err := s.db.Query(`
		SELECT role, content, tool_calls, tool_call_id, name, timestamp
		FROM messages
		WHERE session_id = ?
		ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []core.Message
	for rows.Next() {
		var (
			role      string
			ts        time.Time
			content   sql.NullString
			toolCalls sql.NullString
			callID    sql.NullString
			name      sql.NullString
		)
		if err := rows.Scan(&role, &content, &toolCalls, &callID, &name, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		msg := core.Message{
			Role:       core.Role(role),
			Content:    content.String,
			ToolCallID: callID.String,
			Name:       name.String,
			Timestamp:  ts,
		}
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}

		msgs = append(msgs, msg)
	}

	return msgs, rows.Err()
}

// Sessions lists stored sessions with message counts, most recently created
// first.
func (s *Store) Sessions() ([]store.SessionInfo, error) {
	rows, err := s.db.Query(`
		SELECT s.id, s.created_at, COUNT(m.id)
		FROM sessions s
		LEFT JOIN messages m ON m.session_id = s.id
		GROUP BY s.id
		ORDER BY s.created_at DESC, s.id
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var infos []store.SessionInfo
	for rows.Next() {
		var info store.SessionInfo
		if err := rows.Scan(&info.ID, &info.CreatedAt, &info.MessageCount); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		infos = append(infos, info)
	}

	return infos, rows.Err()
}

// DeleteSession removes a session and its messages. Unknown ids are a no-op.
func (s *Store) DeleteSession(sessionID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return err
	}

	return tx.Commit()
}

// SaveServer inserts or updates a server configuration keyed by name. The
// full config is stored as JSON so it round-trips unchanged.
func (s *Store) SaveServer(cfg registry.ServerConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode server config: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO server_configs (name, transport, config, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET transport = excluded.transport, config = excluded.config
	`, cfg.Name, string(cfg.Transport), string(raw), time.Now())
	if err != nil {
		return fmt.Errorf("save server config: %w", err)
	}

	return nil
}

// Servers returns all saved server configurations, sorted by name.
func (s *Store) Servers() ([]registry.ServerConfig, error) {
	rows, err := s.db.Query(`SELECT name, config FROM server_configs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query server configs: %w", err)
	}
	defer rows.Close()

	var cfgs []registry.ServerConfig
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, fmt.Errorf("scan server config: %w", err)
		}

		var cfg registry.ServerConfig
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return nil, fmt.Errorf("decode server config %q: %w", name, err)
		}

		cfgs = append(cfgs, cfg)
	}

	return cfgs, rows.Err()
}

// DeleteServer removes a saved server configuration. Unknown names are a no-op.
func (s *Store) DeleteServer(name string) error {
	_, err := s.db.Exec(`DELETE FROM server_configs WHERE name = ?`, name)
	return err
}

// nullString maps empty strings to NULL so optional columns stay NULL-clean.
func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
