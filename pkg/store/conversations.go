package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Conversation is one chat thread and its per-thread toggles
type Conversation struct {
	ID               int64     `json:"id"`
	Title            string    `json:"title"`
	Model            string    `json:"model"`
	ProviderID       *int64    `json:"provider_id,omitempty"`
	Pinned           bool      `json:"pinned"`
	UseKnowledgeBase bool      `json:"use_knowledge_base"`
	KnowledgeBases   []string  `json:"knowledge_bases"`
	UseMCP           bool      `json:"use_mcp"`
	UseWebSearch     bool      `json:"use_web_search"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Message is one stored chat message. Events holds the raw frame
// transcript of assistant turns so past tool and thinking activity can
// be replayed.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Model          string    `json:"model,omitempty"`
	Thinking       string    `json:"thinking_content,omitempty"`
	Events         string    `json:"events,omitempty"`
	InputTokens    int       `json:"input_tokens"`
	OutputTokens   int       `json:"output_tokens"`
	TotalTokens    int       `json:"total_tokens"`
	Partial        bool      `json:"partial"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateConversation inserts a new conversation and returns it
func (s *Store) CreateConversation(ctx context.Context, title, model string) (*Conversation, error) {
	if title == "" {
		title = "New Conversation"
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (title, model) VALUES (?, ?)`, title, model)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetConversation(ctx, id)
}

// GetConversation loads one conversation by id
func (s *Store) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, model, provider_id, pinned, use_knowledge_base,
		        knowledge_bases, use_mcp, use_web_search, created_at, updated_at
		 FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conversation %d not found", id)
	}
	return conv, err
}

// ListConversations returns all conversations, pinned first, newest first
func (s *Store) ListConversations(ctx context.Context) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, model, provider_id, pinned, use_knowledge_base,
		        knowledge_bases, use_mcp, use_web_search, created_at, updated_at
		 FROM conversations ORDER BY pinned DESC, updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

// ConversationUpdate carries the mutable fields of a conversation.
// Nil pointers leave the stored value unchanged.
type ConversationUpdate struct {
	Title            *string   `json:"title,omitempty"`
	Model            *string   `json:"model,omitempty"`
	ProviderID       *int64    `json:"provider_id,omitempty"`
	Pinned           *bool     `json:"pinned,omitempty"`
	UseKnowledgeBase *bool     `json:"use_knowledge_base,omitempty"`
	KnowledgeBases   *[]string `json:"knowledge_bases,omitempty"`
	UseMCP           *bool     `json:"use_mcp,omitempty"`
	UseWebSearch     *bool     `json:"use_web_search,omitempty"`
}

// UpdateConversation applies the non-nil fields of upd
func (s *Store) UpdateConversation(ctx context.Context, id int64, upd ConversationUpdate) (*Conversation, error) {
	conv, err := s.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Title != nil {
		conv.Title = *upd.Title
	}
	if upd.Model != nil {
		conv.Model = *upd.Model
	}
	if upd.ProviderID != nil {
		conv.ProviderID = upd.ProviderID
	}
	if upd.Pinned != nil {
		conv.Pinned = *upd.Pinned
	}
	if upd.UseKnowledgeBase != nil {
		conv.UseKnowledgeBase = *upd.UseKnowledgeBase
	}
	if upd.KnowledgeBases != nil {
		conv.KnowledgeBases = *upd.KnowledgeBases
	}
	if upd.UseMCP != nil {
		conv.UseMCP = *upd.UseMCP
	}
	if upd.UseWebSearch != nil {
		conv.UseWebSearch = *upd.UseWebSearch
	}

	kbs, err := json.Marshal(conv.KnowledgeBases)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, model = ?, provider_id = ?, pinned = ?,
		        use_knowledge_base = ?, knowledge_bases = ?, use_mcp = ?, use_web_search = ?,
		        updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		conv.Title, conv.Model, conv.ProviderID, conv.Pinned,
		conv.UseKnowledgeBase, string(kbs), conv.UseMCP, conv.UseWebSearch, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation %d: %w", id, err)
	}
	return s.GetConversation(ctx, id)
}

// DeleteConversation removes a conversation and its messages
func (s *Store) DeleteConversation(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation %d: %w", id, err)
	}
	return nil
}

// SaveMessage inserts a message and bumps the conversation timestamp
func (s *Store) SaveMessage(ctx context.Context, msg *Message) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, model, thinking_content,
		        events, input_tokens, output_tokens, total_tokens, partial)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ConversationID, msg.Role, msg.Content, msg.Model, msg.Thinking,
		msg.Events, msg.InputTokens, msg.OutputTokens, msg.TotalTokens, msg.Partial)
	if err != nil {
		return 0, fmt.Errorf("failed to save message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`, msg.ConversationID)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// SavePartial stores the surviving text of an interrupted assistant
// turn as a partial message
func (s *Store) SavePartial(ctx context.Context, conversationID int64, content, model, thinking string) error {
	if content == "" && thinking == "" {
		return nil
	}
	_, err := s.SaveMessage(ctx, &Message{
		ConversationID: conversationID,
		Role:           "assistant",
		Content:        content,
		Model:          model,
		Thinking:       thinking,
		Partial:        true,
	})
	return err
}

// ListMessages returns a conversation's messages in insertion order
func (s *Store) ListMessages(ctx context.Context, conversationID int64) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, model, thinking_content,
		        events, input_tokens, output_tokens, total_tokens, partial, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
			&msg.Model, &msg.Thinking, &msg.Events, &msg.InputTokens,
			&msg.OutputTokens, &msg.TotalTokens, &msg.Partial, &msg.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &msg)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var kbs string
	err := row.Scan(&conv.ID, &conv.Title, &conv.Model, &conv.ProviderID, &conv.Pinned,
		&conv.UseKnowledgeBase, &kbs, &conv.UseMCP, &conv.UseWebSearch,
		&conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(kbs), &conv.KnowledgeBases); err != nil {
		conv.KnowledgeBases = nil
	}
	return &conv, nil
}
