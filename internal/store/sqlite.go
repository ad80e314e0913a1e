// ABOUTME: SQLite implementation of ConversationStore using modernc.org/sqlite or mattn/go-sqlite3
// ABOUTME: Provides conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Driver names accepted by WithDriver.
const (
	DriverModernc = "sqlite"  // pure Go, the default
	DriverCgo     = "sqlite3" // mattn/go-sqlite3, requires cgo
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements ConversationStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ ConversationStore = (*SQLiteStore)(nil)

type sqliteOptions struct {
	driver string
	logger *slog.Logger
	now    func() time.Time
}

// Option configures NewSQLiteStore.
type Option func(*sqliteOptions)

// WithDriver selects the database/sql driver name.
func WithDriver(driver string) Option {
	return func(o *sqliteOptions) {
		if driver != "" {
			o.driver = driver
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *sqliteOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the timestamp source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *sqliteOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	o := sqliteOptions{
		driver: DriverModernc,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.driver != DriverModernc && o.driver != DriverCgo {
		return nil, fmt.Errorf("unsupported sqlite driver %q", o.driver)
	}
	logger := o.logger.With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open(o.driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection keeps pragmas consistent and serializes writers.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    o.now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "driver", o.driver)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_user_updated
			ON conversations(user_id, updated_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			content TEXT NOT NULL,
			is_user INTEGER NOT NULL,
			agent_role TEXT,
			created_at TEXT NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS knowledge_nodes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			category TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_knowledge_nodes_category
			ON knowledge_nodes(category);

		CREATE TABLE IF NOT EXISTS knowledge_edges (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_id INTEGER NOT NULL,
			target_id INTEGER NOT NULL,
			relationship_type TEXT NOT NULL,
			weight REAL NOT NULL DEFAULT 1.0,
			created_at TEXT NOT NULL,
			UNIQUE (source_id, target_id),
			FOREIGN KEY (source_id) REFERENCES knowledge_nodes(id) ON DELETE CASCADE,
			FOREIGN KEY (target_id) REFERENCES knowledge_nodes(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_knowledge_edges_target
			ON knowledge_edges(target_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// FindOrCreateConversation returns sessionID after making sure a
// conversation row exists for it. Concurrent callers race safely on the
// primary key.
func (s *SQLiteStore) FindOrCreateConversation(ctx context.Context, sessionID, userID, defaultTitle string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("%w: session id is required", ErrInvalidArgument)
	}
	if userID == "" {
		userID = AnonymousUser
	}

	now := formatTime(s.now())
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, sessionID, userID, defaultTitle, now, now)
	if err != nil {
		return "", fmt.Errorf("upserting conversation: %w", err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Debug("conversation created", "conversation_id", sessionID, "user_id", userID)
	}
	return sessionID, nil
}

// AppendMessage inserts a message and bumps the conversation's updated_at.
// Returns ErrNotFound if the conversation does not exist.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID, content string, isUser bool, agentRole string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generating message id: %w", err)
	}

	var role sql.NullString
	if !isUser && agentRole != "" {
		role = sql.NullString{String: agentRole, Valid: true}
	}
	now := formatTime(s.now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, now, conversationID)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, content, is_user, agent_role, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id.String(), conversationID, content, isUser, role, now)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}
	return nil
}

// ListMessages returns messages for a conversation ordered newest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string, limit int, before *time.Time) ([]*Message, error) {
	limit = clampLimit(limit, DefaultMessageLimit)

	query := `
		SELECT id, conversation_id, content, is_user, agent_role, created_at
		FROM messages
		WHERE conversation_id = ?
	`
	args := []any{sessionID}
	if before != nil {
		query += ` AND created_at < ?`
		args = append(args, formatTime(*before))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var (
			msg       Message
			role      sql.NullString
			createdAt string
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Content, &msg.IsUser, &role, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.AgentRole = role.String
		if msg.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// ListConversations returns a user's conversations with message counts,
// most recently updated first.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string, limit, offset int) ([]*ConversationSummary, error) {
	limit = clampLimit(limit, DefaultConversationLimit)
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.user_id, c.title, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id),
			(SELECT m.content FROM messages m WHERE m.conversation_id = c.id
				ORDER BY m.created_at DESC, m.id DESC LIMIT 1)
		FROM conversations c
		WHERE c.user_id = ?
		ORDER BY c.updated_at DESC, c.id
		LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var summaries []*ConversationSummary
	for rows.Next() {
		var (
			sum                  ConversationSummary
			createdAt, updatedAt string
			last                 sql.NullString
		)
		if err := rows.Scan(&sum.ID, &sum.UserID, &sum.Title, &createdAt, &updatedAt, &sum.MessageCount, &last); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		if sum.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if sum.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		sum.LastMessage = last.String
		summaries = append(summaries, &sum)
	}
	return summaries, rows.Err()
}

// CreateConversation inserts a conversation with a fresh ID.
func (s *SQLiteStore) CreateConversation(ctx context.Context, title, userID string) (*Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidArgument)
	}
	if userID == "" {
		userID = AnonymousUser
	}

	now := s.now().UTC()
	conv := &Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, conv.ID, conv.UserID, conv.Title, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}
	return conv, nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var (
		conv                 Conversation
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`, id).Scan(&conv.ID, &conv.UserID, &conv.Title, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	if conv.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if conv.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &conv, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}
