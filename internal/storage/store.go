// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/gradchat/internal/model"
	"github.com/jeranaias/gradchat/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrSessionNotFound is returned when a named session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidName is returned for empty or oversized session names.
	ErrInvalidName = errors.New("invalid session name")
)

// MaxNameLength bounds session names.
const MaxNameLength = 128

// SessionMeta describes a stored session for listings.
type SessionMeta struct {
	Name         string    `json:"name"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// =============================================================================
// STORE
// =============================================================================

// Store is the session archive. It is safe for concurrent use.
type Store struct {
	db          *sql.DB
	path        string
	maxSessions int
	now         func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithMaxSessions keeps at most n sessions, dropping the least recently
// updated ones after each save. Zero means unlimited.
func WithMaxSessions(n int) Option {
	return func(s *Store) {
		if n >= 0 {
			s.maxSessions = n
		}
	}
}

// WithClock overrides the time source for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open opens or creates the archive at path.
func Open(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; a single connection also keeps the pragmas.
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

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.Exec(InitMetadata); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize metadata: %w", err)
	}

	s := &Store{db: db, path: path, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// ValidateName checks a session name.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidName, MaxNameLength)
	}
	return nil
}

// =============================================================================
// SAVE
// =============================================================================

// Save replaces the stored messages of session name with conv's messages.
// The session is created on first save; created_at is kept on later saves.
func (s *Store) Save(ctx context.Context, name string, conv *model.Conversation) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UnixNano()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (name, title, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET title = excluded.title, updated_at = excluded.updated_at`,
		name, util.SingleLine(conv.Title()), now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session = ?", name); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO messages (session, seq, role, content, reasoning) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, msg := range conv.Messages() {
		if _, err := stmt.ExecContext(ctx, name, i, msg.Role.String(), msg.Content, msg.Reasoning); err != nil {
			return fmt.Errorf("failed to insert message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	if s.maxSessions > 0 {
		return s.enforceLimit(ctx)
	}
	return nil
}

// enforceLimit removes the least recently updated sessions over the limit.
func (s *Store) enforceLimit(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE name IN (
			SELECT name FROM sessions ORDER BY updated_at DESC, name LIMIT -1 OFFSET ?
		)`, s.maxSessions)
	if err != nil {
		return fmt.Errorf("failed to enforce session limit: %w", err)
	}
	_, err = s.db.ExecContext(ctx, "DELETE FROM messages WHERE session NOT IN (SELECT name FROM sessions)")
	if err != nil {
		return fmt.Errorf("failed to remove orphaned messages: %w", err)
	}
	return nil
}

// =============================================================================
// LOAD
// =============================================================================

// Load rebuilds the conversation stored under name. opts configure the new
// Conversation; a history bound smaller than the stored log keeps only the
// most recent messages.
func (s *Store) Load(ctx context.Context, name string, opts ...model.Option) (*model.Conversation, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM sessions WHERE name = ?", name).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT role, content, reasoning FROM messages WHERE session = ? ORDER BY seq", name)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	conv := model.NewConversation(opts...)
	for rows.Next() {
		var roleName, content, reasoning string
		if err := rows.Scan(&roleName, &content, &reasoning); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		role, err := model.ParseRole(roleName)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", name, err)
		}
		conv.AddMessage(model.Message{Role: role, Content: content, Reasoning: reasoning})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	return conv, nil
}

// =============================================================================
// LIST AND DELETE
// =============================================================================

// List returns all sessions, most recently updated first.
func (s *Store) List(ctx context.Context) ([]SessionMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.name, s.title, s.created_at, s.updated_at, COUNT(m.seq)
		FROM sessions s LEFT JOIN messages m ON m.session = s.name
		GROUP BY s.name
		ORDER BY s.updated_at DESC, s.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	metas := make([]SessionMeta, 0)
	for rows.Next() {
		var meta SessionMeta
		var created, updated int64
		if err := rows.Scan(&meta.Name, &meta.Title, &created, &updated, &meta.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		meta.CreatedAt = time.Unix(0, created)
		meta.UpdatedAt = time.Unix(0, updated)
		metas = append(metas, meta)
	}
	return metas, rows.Err()
}

// Delete removes a session and its messages.
func (s *Store) Delete(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session = ?", name); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, name)
	}
	return tx.Commit()
}

// Version returns the schema version recorded in the database.
func (s *Store) Version(ctx context.Context) (int, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&value)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(value)
}

// =============================================================================
// FORMATTING
// =============================================================================

// FormatSessionList renders sessions as a fixed-width table. Column widths
// are measured in terminal cells.
func FormatSessionList(sessions []SessionMeta) string {
	if len(sessions) == 0 {
		return "No sessions found."
	}

	var sb strings.Builder
	sb.WriteString(util.PadWidth("NAME", 20) + " " + util.PadWidth("UPDATED", 17) + " " + util.PadWidth("MSGS", 5) + " TITLE\n")
	for _, s := range sessions {
		sb.WriteString(util.PadWidth(util.TruncateWidth(s.Name, 20), 20) + " " +
			util.PadWidth(s.UpdatedAt.Local().Format("2006-01-02 15:04"), 17) + " " +
			util.PadWidth(strconv.Itoa(s.MessageCount), 5) + " " +
			util.TruncateWidth(s.Title, 40) + "\n")
	}
	return sb.String()
}
