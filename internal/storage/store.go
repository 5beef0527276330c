package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/oriolane/oriole/internal/observability"
	"github.com/oriolane/oriole/pkg/models"
)

// planMetadataKey is where the plan lives inside conversation metadata.
const planMetadataKey = "plan"

// Store is the instance database: conversations, their transcripts, and
// session heartbeats.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the instance database at path. Use
// ":memory:" for tests.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open instance db: %w", err)
	}
	// SQLite serializes writers; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT,
			title TEXT,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT,
			system_injected INTEGER NOT NULL DEFAULT 0,
			tool_calls TEXT,
			tool_results TEXT,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, created_at);
		CREATE TABLE IF NOT EXISTS heartbeats (
			session_id TEXT PRIMARY KEY,
			conversation_id TEXT,
			last_seen DATETIME NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Conversation is one conversation record.
type Conversation struct {
	ID        string
	UserID    string
	Title     string
	Metadata  map[string]json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateConversation inserts a conversation. An empty ID gets a generated one.
func (s *Store) CreateConversation(ctx context.Context, c *Conversation) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Metadata == nil {
		c.Metadata = map[string]json.RawMessage{}
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, title, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Title, string(meta), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// GetConversation loads one conversation. Returns (nil, nil) when absent.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, metadata, created_at, updated_at
		FROM conversations WHERE id = ?`, id)

	var c Conversation
	var meta string
	err := row.Scan(&c.ID, &c.UserID, &c.Title, &meta, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &c, nil
}

// updateMetadataKey rewrites one key of a conversation's metadata.
func (s *Store) updateMetadataKey(ctx context.Context, conversationID, key string, value json.RawMessage) error {
	c, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if c == nil {
		// Plans can be created before the first message persists the
		// conversation. Create the row on demand.
		c = &Conversation{ID: conversationID}
		if err := s.CreateConversation(ctx, c); err != nil {
			return err
		}
	}
	if value == nil {
		delete(c.Metadata, key)
	} else {
		c.Metadata[key] = value
	}
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE conversations SET metadata = ?, updated_at = ? WHERE id = ?`,
		string(meta), time.Now().UTC(), conversationID)
	if err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	return nil
}

// SavePlan persists the plan inside the conversation's metadata.
func (s *Store) SavePlan(ctx context.Context, conversationID string, p *models.Plan) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	return s.updateMetadataKey(ctx, conversationID, planMetadataKey, data)
}

// LoadPlan restores the plan from conversation metadata. Returns (nil, nil)
// when the conversation has no plan.
func (s *Store) LoadPlan(ctx context.Context, conversationID string) (*models.Plan, error) {
	c, err := s.GetConversation(ctx, conversationID)
	if err != nil || c == nil {
		return nil, err
	}
	raw, ok := c.Metadata[planMetadataKey]
	if !ok {
		return nil, nil
	}
	var p models.Plan
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return &p, nil
}

// AppendMessage persists one transcript message.
func (s *Store) AppendMessage(ctx context.Context, m *models.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	calls, err := marshalOrNil(m.ToolCalls)
	if err != nil {
		return fmt.Errorf("marshal tool calls: %w", err)
	}
	results, err := marshalOrNil(m.ToolResults)
	if err != nil {
		return fmt.Errorf("marshal tool results: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, system_injected, tool_calls, tool_results, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, string(m.Role), m.Content,
		boolToInt(m.SystemInjected), calls, results, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// LoadMessages returns the conversation transcript in order, repaired so
// every tool result pairs with a call and vice versa.
func (s *Store) LoadMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, system_injected, tool_calls, tool_results, created_at
		FROM messages WHERE conversation_id = ? ORDER BY created_at, id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		var injected int
		var calls, results sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content,
			&injected, &calls, &results, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.SystemInjected = injected != 0
		if calls.Valid && calls.String != "" {
			if err := json.Unmarshal([]byte(calls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		if results.Valid && results.String != "" {
			if err := json.Unmarshal([]byte(results.String), &m.ToolResults); err != nil {
				return nil, fmt.Errorf("decode tool results: %w", err)
			}
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return RepairTranscript(msgs), nil
}

// UpdateHeartbeat records session liveness.
func (s *Store) UpdateHeartbeat(ctx context.Context, sessionID, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO heartbeats (session_id, conversation_id, last_seen)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET last_seen = excluded.last_seen`,
		sessionID, conversationID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// LastSeen returns a session's last heartbeat. Zero time when unknown.
func (s *Store) LastSeen(ctx context.Context, sessionID string) (time.Time, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT last_seen FROM heartbeats WHERE session_id = ?`, sessionID)
	var t time.Time
	err := row.Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("scan heartbeat: %w", err)
	}
	return t, nil
}

func marshalOrNil(v any) (any, error) {
	switch x := v.(type) {
	case []models.ToolCall:
		if len(x) == 0 {
			return nil, nil
		}
	case []models.ToolResult:
		if len(x) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
