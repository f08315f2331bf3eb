package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateConversation opens a new conversation against a folder.
func (s *Store) CreateConversation(ctx context.Context, tenantID string, folderID uuid.UUID) (*Conversation, error) {
	row := s.pool.QueryRow(ctx, `
INSERT INTO conversations (id, folder_id, tenant_id)
VALUES ($1, $2, $3)
RETURNING id, folder_id, tenant_id, created_at`,
		uuid.New(), folderID, tenantID)

	var c Conversation
	if err := row.Scan(&c.ID, &c.FolderID, &c.TenantID, &c.CreatedAt); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return &c, nil
}

// GetConversation loads a conversation scoped to the tenant. Another
// tenant's conversation reads as ErrNotFound.
func (s *Store) GetConversation(ctx context.Context, tenantID string, conversationID uuid.UUID) (*Conversation, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, folder_id, tenant_id, created_at
FROM conversations WHERE id = $1 AND tenant_id = $2`, conversationID, tenantID)

	var c Conversation
	err := row.Scan(&c.ID, &c.FolderID, &c.TenantID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &c, nil
}

// AppendMessage appends one turn to a conversation. The store assigns
// the creation timestamp, so messages order by insertion.
func (s *Store) AppendMessage(ctx context.Context, conversationID uuid.UUID, role, content string, citations map[string]Citation) (*Message, error) {
	var citJSON any
	if citations != nil {
		b, err := json.Marshal(citations)
		if err != nil {
			return nil, fmt.Errorf("marshal citations: %w", err)
		}
		citJSON = b
	}

	row := s.pool.QueryRow(ctx, `
INSERT INTO messages (id, conversation_id, role, content, citations)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, conversation_id, role, content, citations, created_at`,
		uuid.New(), conversationID, role, content, citJSON)
	return scanMessage(row)
}

func scanMessage(row pgx.Row) (*Message, error) {
	var (
		m   Message
		cit []byte
	)
	err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &cit, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	if cit != nil {
		if err := json.Unmarshal(cit, &m.Citations); err != nil {
			return nil, fmt.Errorf("unmarshal citations: %w", err)
		}
	}
	return &m, nil
}

// ListMessages returns the conversation's messages in append order.
func (s *Store) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*Message, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, conversation_id, role, content, citations, created_at
FROM messages WHERE conversation_id = $1
ORDER BY created_at, id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}
