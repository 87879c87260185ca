// Package localstore persists the client-side state that must survive a
// restart: the active-conversation pointer, the session marker, the login
// credentials and the per-user conversation cache.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kingrea/chatup/internal/conversation"
)

// Keys used in the kv table.
const (
	KeyCredentials   = "credentials"
	KeySessionMarker = "session:last_activity"
	activePrefix     = "active:"
	userPrefix       = "user:"
)

// ActiveKey is the kv key holding userID's active conversation.
func ActiveKey(userID string) string {
	return activePrefix + userID
}

// Store is a SQLite-backed implementation of the local cache.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// Open creates or opens the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("localstore: create directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("localstore: open database: %w", err)
	}
	store, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	store.path = path
	return store, nil
}

// New wraps an existing connection and makes sure the schema exists.
func New(db *sql.DB) (*Store, error) {
	store := &Store{db: db, now: time.Now}
	if err := store.initSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("localstore: initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS conversations (
			user_id TEXT NOT NULL,
			id TEXT NOT NULL,
			updated_at DATETIME NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (user_id, id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations (user_id, updated_at);`,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("localstore: get %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.now().UTC())
	if err != nil {
		return fmt.Errorf("localstore: set %s: %w", key, err)
	}
	return nil
}

// Delete removes keys from the kv table.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, key := range keys {
		args[i] = key
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("localstore: delete keys: %w", err)
	}
	return nil
}

// SaveConversations replaces every cached conversation of userID with convs.
func (s *Store) SaveConversations(ctx context.Context, userID string, convs []conversation.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("localstore: begin save: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("localstore: clear conversations: %w", err)
	}
	for _, conv := range convs {
		if err := upsertConversation(ctx, tx, userID, conv); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("localstore: commit save: %w", err)
	}
	return nil
}

// SaveConversation inserts or updates a single conversation.
func (s *Store) SaveConversation(ctx context.Context, userID string, conv conversation.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertConversation(ctx, s.db, userID, conv)
}

// RenameConversation moves a conversation row to a new id.
func (s *Store) RenameConversation(ctx context.Context, userID, oldID string, conv conversation.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("localstore: begin rename: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE user_id = ? AND id = ?`, userID, oldID); err != nil {
		return fmt.Errorf("localstore: rename %s: %w", oldID, err)
	}
	if err := upsertConversation(ctx, tx, userID, conv); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteConversation removes one conversation of userID.
func (s *Store) DeleteConversation(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE user_id = ? AND id = ?`, userID, id); err != nil {
		return fmt.Errorf("localstore: delete conversation %s: %w", id, err)
	}
	return nil
}

// LoadConversations returns userID's cached conversations, newest first.
func (s *Store) LoadConversations(ctx context.Context, userID string) ([]conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM conversations WHERE user_id = ? ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("localstore: load conversations: %w", err)
	}
	defer rows.Close()
	var convs []conversation.Conversation
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("localstore: scan conversation: %w", err)
		}
		var conv conversation.Conversation
		if err := json.Unmarshal([]byte(payload), &conv); err != nil {
			return nil, fmt.Errorf("localstore: decode conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("localstore: iterate conversations: %w", err)
	}
	return convs, nil
}

// Purge removes everything cached for userID: conversations, the active
// pointer and any user-scoped keys. Remote data is untouched.
func (s *Store) Purge(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("localstore: begin purge: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("localstore: purge conversations: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM kv WHERE key = ? OR key LIKE ?`, ActiveKey(userID), userPrefix+userID+":%"); err != nil {
		return fmt.Errorf("localstore: purge keys: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("localstore: commit purge: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertConversation(ctx context.Context, db execer, userID string, conv conversation.Conversation) error {
	payload, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("localstore: encode conversation %s: %w", conv.ID, err)
	}
	updated := conv.Timestamp.UTC()
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO conversations (user_id, id, updated_at, payload) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, id) DO UPDATE SET updated_at = excluded.updated_at, payload = excluded.payload`,
		userID, conv.ID, updated, string(payload))
	if err != nil {
		return fmt.Errorf("localstore: save conversation %s: %w", conv.ID, err)
	}
	return nil
}
