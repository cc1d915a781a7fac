// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/aicli/internal/agent"
	"github.com/jeranaias/aicli/internal/tools"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound is returned when no session matches an ID.
	ErrNotFound = errors.New("session not found")

	// ErrAmbiguous is returned when an ID prefix matches several sessions.
	ErrAmbiguous = errors.New("session ID prefix is ambiguous")
)

// =============================================================================
// TYPES
// =============================================================================

// SessionMeta describes a stored session for listing.
type SessionMeta struct {
	ID           string    `json:"id"`
	Model        string    `json:"model"`
	Root         string    `json:"root"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`

	// Preview is the first user message.
	Preview string `json:"preview"`
}

// Transcript is a stored session with its messages in order.
type Transcript struct {
	SessionMeta
	Messages []agent.Message `json:"messages"`
}

// =============================================================================
// STORE
// =============================================================================

// Store is a SQLite transcript database. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string

	mu    sync.Mutex
	model string
	root  string
	known map[string]bool

	log logrus.FieldLogger
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithModel records the model name on new sessions.
func WithModel(name string) Option {
	return func(s *Store) { s.model = name }
}

// WithRoot records the sandbox root on new sessions.
func WithRoot(root string) Option {
	return func(s *Store) { s.root = root }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) { s.log = l }
}

// Open opens or creates the database at path.
func Open(path string, opts ...Option) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Store{
		db:    db,
		path:  path,
		known: make(map[string]bool),
		log:   logrus.StandardLogger(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(Schema); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', ?)`,
		strconv.Itoa(SchemaVersion))
	return err
}

// Path returns the database file.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// RECORDING
// =============================================================================

var _ agent.Recorder = (*Store)(nil)

// Record writes message seq of a session. Re-recording a seq replaces it.
func (s *Store) Record(sessionID string, seq int, msg agent.Message) error {
	calls := ""
	if len(msg.ToolCalls) > 0 {
		b, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("encode tool calls: %w", err)
		}
		calls = string(b)
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if !s.known[sessionID] {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO sessions (id, model, root, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			sessionID, s.model, s.root, ts.UnixNano(), ts.UnixNano()); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO messages
		(session_id, seq, role, content, tool_calls, tool_call_id, tool_name, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, seq, string(msg.Role), msg.Content, calls, msg.ToolCallID, msg.ToolName, msg.Status, ts.UnixNano()); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.Exec(`UPDATE sessions SET updated_at = ? WHERE id = ?`, ts.UnixNano(), sessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.known[sessionID] = true
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

const metaQuery = `
SELECT s.id, s.model, s.root, s.created_at, s.updated_at,
       (SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id),
       COALESCE((SELECT m.content FROM messages m
                 WHERE m.session_id = s.id AND m.role = 'user'
                 ORDER BY m.seq LIMIT 1), '')
FROM sessions s`

// List returns the most recently updated sessions first. limit <= 0 means
// all of them.
func (s *Store) List(ctx context.Context, limit int) ([]SessionMeta, error) {
	query := metaQuery + ` ORDER BY s.updated_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryMetas(ctx, query, args...)
}

// Search returns sessions with a message containing query, ignoring case.
func (s *Store) Search(ctx context.Context, query string) ([]SessionMeta, error) {
	if strings.TrimSpace(query) == "" {
		return s.List(ctx, 0)
	}
	return s.queryMetas(ctx, metaQuery+`
		WHERE EXISTS (SELECT 1 FROM messages m
		              WHERE m.session_id = s.id AND m.role IN ('user', 'assistant')
		              AND instr(lower(m.content), lower(?)) > 0)
		ORDER BY s.updated_at DESC`, query)
}

func (s *Store) queryMetas(ctx context.Context, query string, args ...any) ([]SessionMeta, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metas []SessionMeta
	for rows.Next() {
		var (
			m                SessionMeta
			created, updated int64
		)
		if err := rows.Scan(&m.ID, &m.Model, &m.Root, &created, &updated, &m.MessageCount, &m.Preview); err != nil {
			return nil, err
		}
		m.CreatedAt = time.Unix(0, created)
		m.UpdatedAt = time.Unix(0, updated)
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// resolve expands an ID prefix to a full session ID.
func (s *Store) resolve(ctx context.Context, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrNotFound
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions WHERE substr(id, 1, ?) = ? LIMIT 2`, len(id), id)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var full string
		if err := rows.Scan(&full); err != nil {
			return "", err
		}
		ids = append(ids, full)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrAmbiguous, id)
	}
}

// Get loads a session by ID or unique ID prefix.
func (s *Store) Get(ctx context.Context, id string) (*Transcript, error) {
	full, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	metas, err := s.queryMetas(ctx, metaQuery+` WHERE s.id = ?`, full)
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT role, content, tool_calls, tool_call_id, tool_name, status, created_at
		FROM messages WHERE session_id = ? ORDER BY seq`, full)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	t := &Transcript{SessionMeta: metas[0]}
	for rows.Next() {
		var (
			msg   agent.Message
			role  string
			calls string
			ts    int64
		)
		if err := rows.Scan(&role, &msg.Content, &calls, &msg.ToolCallID, &msg.ToolName, &msg.Status, &ts); err != nil {
			return nil, err
		}
		msg.Role = agent.Role(role)
		msg.Timestamp = time.Unix(0, ts)
		if calls != "" {
			var tc []tools.ToolCall
			if err := json.Unmarshal([]byte(calls), &tc); err != nil {
				s.log.WithError(err).WithField("session", full).Warn("unreadable tool calls in transcript")
			}
			msg.ToolCalls = tc
		}
		t.Messages = append(t.Messages, msg)
	}
	return t, rows.Err()
}

// Delete removes a session and its messages.
func (s *Store) Delete(ctx context.Context, id string) error {
	full, err := s.resolve(ctx, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, full); err != nil {
		return err
	}
	delete(s.known, full)
	return nil
}

// Prune keeps the keep most recently updated sessions and deletes the rest.
// It returns the number deleted.
func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id NOT IN
		(SELECT id FROM sessions ORDER BY updated_at DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	s.known = make(map[string]bool)
	return int(n), nil
}
