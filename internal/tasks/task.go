// ABOUTME: Task and Message types with append-only history and status transitions
// ABOUTME: Mutations assume the caller holds the task lock; Snapshot returns a detached copy

package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/xeno-gateway/internal/profiles"
)

// Kind classifies a message within a task.
type Kind string

const (
	KindQuery    Kind = "query"
	KindResponse Kind = "response"
	KindProposal Kind = "proposal"
	KindDecision Kind = "decision"
	KindAction   Kind = "action"
	KindError    Kind = "error"
	KindMeta     Kind = "meta"
)

// Addresses that are not agent roles.
const (
	AddressUser = "user"
	AddressAll  = "all"
)

// Status is the state of a task's latest turn.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s ends a turn.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrUnknownReplyTo is returned when a message replies to an ID that is not
// already part of the task.
var ErrUnknownReplyTo = errors.New("reply target not found in task")

// Message is one entry of a task's log.
type Message struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"type"`
	From      string            `json:"from"`
	To        string            `json:"to"`
	Content   string            `json:"content"`
	ReplyTo   string            `json:"replyTo,omitempty"`
	TaskID    string            `json:"taskId"`
	CreatedAt time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// FromUser reports whether the message was authored by the end user.
func (m Message) FromUser() bool {
	return m.From == AddressUser
}

func (m Message) clone() Message {
	m.Metadata = maps.Clone(m.Metadata)
	return m
}

// Task is a unit of collaborative work bound to a session.
type Task struct {
	mu sync.Mutex

	ID           string
	Title        string
	Description  string
	Goal         string
	Context      string
	Status       Status
	Progress     int
	StartedAt    time.Time
	EndedAt      *time.Time
	LeadRole     profiles.Role
	Participants []profiles.Role
	Messages     []Message
	SessionID    string
	UserID       string
	Result       json.RawMessage

	ids map[string]struct{}
	now func() time.Time
}

// Lock acquires the task for a turn.
func (t *Task) Lock() { t.mu.Lock() }

// Unlock releases the task.
func (t *Task) Unlock() { t.mu.Unlock() }

// Append adds a message to the task log and returns it. replyTo may be
// empty; otherwise it must name a message already in the task.
func (t *Task) Append(kind Kind, from, to, content, replyTo string) (Message, error) {
	return t.AppendWithMetadata(kind, from, to, content, replyTo, nil)
}

// AppendWithMetadata is Append with optional metadata attached.
func (t *Task) AppendWithMetadata(kind Kind, from, to, content, replyTo string, metadata map[string]string) (Message, error) {
	if t.ids == nil {
		t.ids = make(map[string]struct{}, len(t.Messages))
		for _, m := range t.Messages {
			t.ids[m.ID] = struct{}{}
		}
	}
	if replyTo != "" {
		if _, ok := t.ids[replyTo]; !ok {
			return Message{}, fmt.Errorf("%w: %s", ErrUnknownReplyTo, replyTo)
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Message{}, fmt.Errorf("generating message id: %w", err)
	}

	msg := Message{
		ID:        id.String(),
		Kind:      kind,
		From:      from,
		To:        to,
		Content:   content,
		ReplyTo:   replyTo,
		TaskID:    t.ID,
		CreatedAt: t.clock(),
		Metadata:  maps.Clone(metadata),
	}
	t.Messages = append(t.Messages, msg)
	t.ids[msg.ID] = struct{}{}
	return msg.clone(), nil
}

// Recent returns copies of the last n messages in insertion order.
func (t *Task) Recent(n int) []Message {
	msgs := t.Messages
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.clone()
	}
	return out
}

// Activate marks the task as actively being worked on.
func (t *Task) Activate() {
	t.Status = StatusActive
	t.EndedAt = nil
}

// Complete marks the latest turn as finished successfully.
func (t *Task) Complete() {
	t.Status = StatusCompleted
	t.Progress = 100
	t.end()
}

// Fail marks the latest turn as failed.
func (t *Task) Fail() {
	t.Status = StatusFailed
	t.end()
}

func (t *Task) end() {
	ended := t.clock()
	t.EndedAt = &ended
}

func (t *Task) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

// Snapshot is a detached, encodable copy of a task.
type Snapshot struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Goal         string          `json:"goal"`
	Context      string          `json:"context"`
	Status       Status          `json:"status"`
	Progress     int             `json:"progress"`
	StartedAt    time.Time       `json:"startTime"`
	EndedAt      *time.Time      `json:"endTime,omitempty"`
	LeadRole     profiles.Role   `json:"leadAgent"`
	Participants []profiles.Role `json:"participants"`
	Messages     []Message       `json:"messages"`
	SessionID    string          `json:"sessionId,omitempty"`
	UserID       string          `json:"userId,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
}

// Snapshot copies the task. The caller must hold the task lock.
func (t *Task) Snapshot() Snapshot {
	var ended *time.Time
	if t.EndedAt != nil {
		e := *t.EndedAt
		ended = &e
	}
	return Snapshot{
		ID:           t.ID,
		Title:        t.Title,
		Description:  t.Description,
		Goal:         t.Goal,
		Context:      t.Context,
		Status:       t.Status,
		Progress:     t.Progress,
		StartedAt:    t.StartedAt,
		EndedAt:      ended,
		LeadRole:     t.LeadRole,
		Participants: slices.Clone(t.Participants),
		Messages:     t.Recent(0),
		SessionID:    t.SessionID,
		UserID:       t.UserID,
		Result:       slices.Clone(t.Result),
	}
}
