// ABOUTME: Package store provides durable conversation history for the gateway
// ABOUTME: SQLite-backed by default with an in-memory mock for tests

// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// The package exposes a single ConversationStore interface with two
// implementations:
//
//   - SQLiteStore: database/sql over modernc.org/sqlite (driver "sqlite",
//     pure Go) or mattn/go-sqlite3 (driver "sqlite3", requires cgo)
//   - MockStore: in-memory, with per-operation failure injection and call
//     counting for tests
//
// # Data Models
//
//   - Conversation: a titled, user-owned container of messages. A chat
//     session's conversation uses the session ID as its primary key, so the
//     same session always lands in the same conversation.
//   - Message: one utterance, either from the user (IsUser) or from an agent
//     (AgentRole names the persona).
//   - ConversationSummary: a conversation plus message count and the newest
//     message's content, for listings.
//
// # Schema
//
//	conversations(id PK, user_id, title, created_at, updated_at)
//	messages(id PK, conversation_id FK, content, is_user, agent_role, created_at)
//
// Timestamps are stored as fixed-width UTC strings so lexical order equals
// chronological order. Message IDs are UUIDv7 and break ties between
// messages written in the same instant.
//
// # Paging
//
// ListMessages returns newest first and accepts an exclusive "before"
// cursor; pass the CreatedAt of the last message of one page to fetch the
// next. Limits default to DefaultMessageLimit / DefaultConversationLimit and
// are capped at MaxLimit.
//
// # Error Handling
//
//   - ErrNotFound: the conversation does not exist
//   - ErrInvalidArgument: a required field (session ID, title) is empty
//
// # Usage
//
//	s, err := store.NewSQLiteStore("/var/lib/xeno/xeno.db")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	id, err := s.FindOrCreateConversation(ctx, sessionID, userID, "Conversation")
//	err = s.AppendMessage(ctx, id, "hello", true, "")
package store
