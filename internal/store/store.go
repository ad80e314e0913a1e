// ABOUTME: ConversationStore interface and data types for xeno-gateway persistence
// ABOUTME: Defines Conversation, Message and summary structs shared by SQLite and mock stores

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrInvalidArgument is returned when a required field is empty
var ErrInvalidArgument = errors.New("invalid argument")

// Paging defaults applied when callers pass a non-positive limit.
const (
	DefaultMessageLimit      = 50
	DefaultConversationLimit = 10
	MaxLimit                 = 500
)

// AnonymousUser is recorded when a turn carries no user ID.
const AnonymousUser = "anonymous"

// Conversation groups the persisted messages of one session.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is one persisted utterance.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Content        string    `json:"content"`
	IsUser         bool      `json:"isUser"`
	AgentRole      string    `json:"agentRole,omitempty"` // empty for user messages
	CreatedAt      time.Time `json:"createdAt"`
}

// ConversationSummary is a conversation with its message count and the
// content of its newest message.
type ConversationSummary struct {
	Conversation
	MessageCount int    `json:"messageCount"`
	LastMessage  string `json:"lastMessage,omitempty"`
}

// ConversationStore persists conversations and their messages.
type ConversationStore interface {
	// FindOrCreateConversation returns the ID of the conversation keyed by
	// sessionID, creating it with defaultTitle when absent.
	FindOrCreateConversation(ctx context.Context, sessionID, userID, defaultTitle string) (string, error)

	// AppendMessage adds a message and bumps the conversation's updated time.
	// agentRole is ignored for user messages.
	AppendMessage(ctx context.Context, conversationID, content string, isUser bool, agentRole string) error

	// ListMessages returns up to limit messages newest first, optionally
	// only those created strictly before the given time.
	ListMessages(ctx context.Context, sessionID string, limit int, before *time.Time) ([]*Message, error)

	// ListConversations returns a user's conversations, most recently
	// updated first.
	ListConversations(ctx context.Context, userID string, limit, offset int) ([]*ConversationSummary, error)

	CreateConversation(ctx context.Context, title, userID string) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// Ping reports whether the store is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}

// clampLimit applies the default and upper bound to a paging limit.
func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
