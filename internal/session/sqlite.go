package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/samsaffron/storyloom/internal/llm"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Schema for the sessions database.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    name TEXT,
    summary TEXT,
    project_id TEXT,
    system_prompt TEXT,
    model_type TEXT,
    allow_web_search BOOLEAN DEFAULT FALSE,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system', 'tool')),
    content TEXT NOT NULL,
    name TEXT,
    tool_call_id TEXT,
    tool_calls TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    sequence INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_session_sequence ON messages(session_id, sequence);
`

// NewSQLiteStore creates a new SQLite-based session store.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	dbPath := cfg.Path
	if dbPath == "" {
		var err error
		dbPath, err = GetDBPath()
		if err != nil {
			return nil, fmt.Errorf("get db path: %w", err)
		}
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, cfg: cfg}, nil
}

// schemaVersion is the current schema version.
// Fresh databases get the full schema and start at this version.
// Increment when adding new migrations.
const schemaVersion = 1

// migration represents a schema migration.
type migration struct {
	version     int
	description string
	up          func(db *sql.DB) error
}

// migrations upgrade databases created before a schema change. The base
// schema const always contains the full current schema.
var migrations = []migration{
	{
		version:     1,
		description: "add session project and web search columns",
		up: func(db *sql.DB) error {
			for _, stmt := range []string{
				"ALTER TABLE sessions ADD COLUMN project_id TEXT",
				"ALTER TABLE sessions ADD COLUMN allow_web_search BOOLEAN DEFAULT FALSE",
			} {
				if _, err := db.Exec(stmt); err != nil && !isDuplicateColumnError(err) {
					return err
				}
			}
			return nil
		},
	},
}

// initSchema initializes the database schema and runs any pending migrations.
func initSchema(db *sql.DB) error {
	var currentVersion int
	err := db.QueryRow("SELECT version FROM schema_version").Scan(&currentVersion)
	if err == nil && currentVersion >= schemaVersion {
		return nil
	}

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create base schema: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) && !strings.Contains(err.Error(), "no such table") {
			return fmt.Errorf("get current version: %w", err)
		}
		// A fresh database already has every column.
		currentVersion = schemaVersion
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", currentVersion); err != nil {
			return fmt.Errorf("insert initial version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if err := m.up(db); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
		}
		if _, err := db.Exec("UPDATE schema_version SET version = ?", m.version); err != nil {
			return fmt.Errorf("update version to %d: %w", m.version, err)
		}
	}
	return nil
}

// isDuplicateColumnError checks if an error is due to a column already existing.
func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate column") ||
		strings.Contains(errStr, "already exists")
}

// Create inserts a new session along with any messages it already holds.
func (s *SQLiteStore) Create(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = NewID()
	}
	if sess.IsIncognito {
		return nil
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = sess.CreatedAt
	}
	if sess.Summary == "" {
		sess.Summary = summarize(sess.Messages)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, name, summary, project_id, system_prompt, model_type, allow_web_search, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, nullString(sess.Name), nullString(sess.Summary), nullString(sess.ProjectID),
		nullString(sess.SystemPrompt), nullString(sess.ModelType), sess.AllowWebSearch,
		sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if err := insertMessages(ctx, tx, sess.ID, 0, sess.Messages); err != nil {
		return err
	}
	return tx.Commit()
}

// Get retrieves a session and its messages by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, summary, project_id, system_prompt, model_type, allow_web_search, created_at, updated_at
		FROM sessions WHERE id = ?`, id)

	var sess Session
	var name, summary, projectID, systemPrompt, modelType sql.NullString
	err := row.Scan(&sess.ID, &name, &summary, &projectID, &systemPrompt, &modelType,
		&sess.AllowWebSearch, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.Name = name.String
	sess.Summary = summary.String
	sess.ProjectID = projectID.String
	sess.SystemPrompt = systemPrompt.String
	sess.ModelType = modelType.String

	sess.Messages, err = s.messages(ctx, id)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// Update modifies an existing session's settings. Messages are written by
// AppendMessages and ReplaceMessages.
func (s *SQLiteStore) Update(ctx context.Context, sess *Session) error {
	if sess.IsIncognito {
		return nil
	}
	sess.UpdatedAt = time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET name = ?, summary = ?, project_id = ?, system_prompt = ?, model_type = ?,
		       allow_web_search = ?, updated_at = ?
		WHERE id = ?`,
		nullString(sess.Name), nullString(sess.Summary), nullString(sess.ProjectID),
		nullString(sess.SystemPrompt), nullString(sess.ModelType), sess.AllowWebSearch,
		sess.UpdatedAt, sess.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, sess.ID)
	}
	return nil
}

// Delete removes a session and its messages.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	// Foreign key cascade handles messages
	result, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// List returns sessions matching the options, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]SessionSummary, error) {
	query := `
		SELECT s.id, s.name, s.summary, s.project_id, s.created_at, s.updated_at,
		       (SELECT COUNT(*) FROM messages WHERE session_id = s.id) as message_count
		FROM sessions s
		WHERE 1=1`
	args := []any{}
	if opts.ProjectID != "" {
		query += " AND s.project_id = ?"
		args = append(args, opts.ProjectID)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY s.updated_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var name, summary, projectID sql.NullString
		if err := rows.Scan(&sum.ID, &name, &summary, &projectID, &sum.CreatedAt, &sum.UpdatedAt, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}
		sum.Name = name.String
		sum.Summary = summary.String
		sum.ProjectID = projectID.String
		out = append(out, sum)
	}
	return out, rows.Err()
}

// AppendMessages adds msgs after the session's existing messages.
func (s *SQLiteStore) AppendMessages(ctx context.Context, sessionID string, msgs []llm.ChatMessage) error {
	return s.writeMessages(ctx, sessionID, msgs, false)
}

// ReplaceMessages swaps the session's whole transcript for msgs.
func (s *SQLiteStore) ReplaceMessages(ctx context.Context, sessionID string, msgs []llm.ChatMessage) error {
	return s.writeMessages(ctx, sessionID, msgs, true)
}

func (s *SQLiteStore) writeMessages(ctx context.Context, sessionID string, msgs []llm.ChatMessage, replace bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions WHERE id = ?", sessionID).Scan(&exists); err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	next := 0
	if replace {
		if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", sessionID); err != nil {
			return fmt.Errorf("clear messages: %w", err)
		}
	} else {
		if err := tx.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(sequence) + 1, 0) FROM messages WHERE session_id = ?", sessionID).Scan(&next); err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
	}
	if err := insertMessages(ctx, tx, sessionID, next, msgs); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions SET updated_at = ?,
		       summary = COALESCE(NULLIF(summary, ''), ?)
		WHERE id = ?`, time.Now(), nullString(summarize(msgs)), sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return tx.Commit()
}

func insertMessages(ctx context.Context, tx *sql.Tx, sessionID string, start int, msgs []llm.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (session_id, role, content, name, tool_call_id, tool_calls, created_at, sequence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare message insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for i, m := range msgs {
		var calls sql.NullString
		if len(m.ToolCalls) > 0 {
			data, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return fmt.Errorf("encode tool calls: %w", err)
			}
			calls = sql.NullString{String: string(data), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, sessionID, string(m.Role), m.Content,
			nullString(m.Name), nullString(m.ToolCallID), calls, now, start+i); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) messages(ctx context.Context, sessionID string) ([]llm.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, name, tool_call_id, tool_calls
		FROM messages WHERE session_id = ? ORDER BY sequence ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []llm.ChatMessage
	for rows.Next() {
		var m llm.ChatMessage
		var role string
		var name, toolCallID, calls sql.NullString
		if err := rows.Scan(&role, &m.Content, &name, &toolCallID, &calls); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = llm.Role(role)
		m.Name = name.String
		m.ToolCallID = toolCallID.String
		if calls.Valid && calls.String != "" {
			if err := json.Unmarshal([]byte(calls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
