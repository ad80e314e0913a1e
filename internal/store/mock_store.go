// ABOUTME: Mock ConversationStore implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject per-operation failures

package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Op names a MockStore operation for failure injection and call counting.
type Op string

const (
	OpFindOrCreate       Op = "find_or_create"
	OpAppendUser         Op = "append_user"
	OpAppendAgent        Op = "append_agent"
	OpListMessages       Op = "list_messages"
	OpListConversations  Op = "list_conversations"
	OpCreateConversation Op = "create_conversation"
	OpPing               Op = "ping"

	OpKnowledgeGraph      Op = "knowledge_graph"
	OpKnowledgeNode       Op = "knowledge_node"
	OpKnowledgeSearch     Op = "knowledge_search"
	OpCreateKnowledgeNode Op = "create_knowledge_node"
	OpCreateKnowledgeEdge Op = "create_knowledge_edge"
)

// MockStore is an in-memory ConversationStore implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation // keyed by conversation ID
	messages      map[string][]*Message    // keyed by conversation ID, oldest first
	nodes         []*KnowledgeNode         // ascending ID
	edges         []*KnowledgeEdge         // ascending ID
	nextNodeID    int64
	nextEdgeID    int64
	failures      map[Op]error
	calls         map[Op]int
	now           func() time.Time
}

var (
	_ ConversationStore = (*MockStore)(nil)
	_ KnowledgeStore    = (*MockStore)(nil)
)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
		failures:      make(map[Op]error),
		calls:         make(map[Op]int),
		now:           time.Now,
	}
}

// FailOn makes every subsequent call of op return err. A nil err clears it.
func (m *MockStore) FailOn(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Calls returns how many times op was invoked, including failed calls.
func (m *MockStore) Calls(op Op) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// record counts the call and returns the injected failure. Caller holds mu.
func (m *MockStore) record(op Op) error {
	m.calls[op]++
	return m.failures[op]
}

// FindOrCreateConversation ensures a conversation keyed by sessionID exists.
func (m *MockStore) FindOrCreateConversation(ctx context.Context, sessionID, userID, defaultTitle string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(OpFindOrCreate); err != nil {
		return "", err
	}
	if sessionID == "" {
		return "", fmt.Errorf("%w: session id is required", ErrInvalidArgument)
	}
	if _, ok := m.conversations[sessionID]; ok {
		return sessionID, nil
	}
	if userID == "" {
		userID = AnonymousUser
	}

	now := m.now().UTC()
	m.conversations[sessionID] = &Conversation{
		ID:        sessionID,
		UserID:    userID,
		Title:     defaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return sessionID, nil
}

// AppendMessage stores a message and bumps the conversation's UpdatedAt.
func (m *MockStore) AppendMessage(ctx context.Context, conversationID, content string, isUser bool, agentRole string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	op := OpAppendAgent
	if isUser {
		op = OpAppendUser
		agentRole = ""
	}
	if err := m.record(op); err != nil {
		return err
	}

	conv, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}

	now := m.now().UTC()
	conv.UpdatedAt = now
	m.messages[conversationID] = append(m.messages[conversationID], &Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		Content:        content,
		IsUser:         isUser,
		AgentRole:      agentRole,
		CreatedAt:      now,
	})
	return nil
}

// ListMessages returns messages newest first.
func (m *MockStore) ListMessages(ctx context.Context, sessionID string, limit int, before *time.Time) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(OpListMessages); err != nil {
		return nil, err
	}
	limit = clampLimit(limit, DefaultMessageLimit)

	stored := m.messages[sessionID]
	result := make([]*Message, 0, min(limit, len(stored)))
	for i := len(stored) - 1; i >= 0 && len(result) < limit; i-- {
		msg := stored[i]
		if before != nil && !msg.CreatedAt.Before(*before) {
			continue
		}
		cp := *msg
		result = append(result, &cp)
	}
	return result, nil
}

// ListConversations returns a user's conversations, most recently updated first.
func (m *MockStore) ListConversations(ctx context.Context, userID string, limit, offset int) ([]*ConversationSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(OpListConversations); err != nil {
		return nil, err
	}
	limit = clampLimit(limit, DefaultConversationLimit)
	offset = max(offset, 0)

	var all []*ConversationSummary
	for _, conv := range m.conversations {
		if conv.UserID != userID {
			continue
		}
		sum := &ConversationSummary{Conversation: *conv}
		msgs := m.messages[conv.ID]
		sum.MessageCount = len(msgs)
		if len(msgs) > 0 {
			sum.LastMessage = msgs[len(msgs)-1].Content
		}
		all = append(all, sum)
	}

	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].ID < all[j].ID
	})

	if offset >= len(all) {
		return []*ConversationSummary{}, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// CreateConversation stores a conversation with a fresh ID.
func (m *MockStore) CreateConversation(ctx context.Context, title, userID string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(OpCreateConversation); err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidArgument)
	}
	if userID == "" {
		userID = AnonymousUser
	}

	now := m.now().UTC()
	conv := &Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.conversations[conv.ID] = conv

	result := *conv
	return &result, nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *conv
	return &result, nil
}

// Ping returns the injected ping failure, if any.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record(OpPing)
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

// KnowledgeGraph returns a page of nodes and the edges touching them.
func (m *MockStore) KnowledgeGraph(ctx context.Context, category string, limit int) (*KnowledgeGraph, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(OpKnowledgeGraph); err != nil {
		return nil, err
	}
	limit = clampLimit(limit, DefaultKnowledgeLimit)

	graph := &KnowledgeGraph{Nodes: []*KnowledgeNode{}, Edges: []*KnowledgeEdge{}}
	listed := make(map[int64]bool)
	for _, n := range m.nodes {
		if len(graph.Nodes) == limit {
			break
		}
		if category != "" && n.Category != category {
			continue
		}
		cp := *n
		graph.Nodes = append(graph.Nodes, &cp)
		listed[n.ID] = true
	}
	for _, e := range m.edges {
		if listed[e.SourceID] || listed[e.TargetID] {
			cp := *e
			graph.Edges = append(graph.Edges, &cp)
		}
	}
	return graph, nil
}

// KnowledgeNode returns a node and the edges touching it.
func (m *MockStore) KnowledgeNode(ctx context.Context, id int64) (*KnowledgeNode, []*KnowledgeConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(OpKnowledgeNode); err != nil {
		return nil, nil, err
	}
	node := m.findNode(id)
	if node == nil {
		return nil, nil, ErrNotFound
	}

	conns := []*KnowledgeConnection{}
	for _, e := range m.edges {
		if e.SourceID != id && e.TargetID != id {
			continue
		}
		src, dst := m.findNode(e.SourceID), m.findNode(e.TargetID)
		conns = append(conns, &KnowledgeConnection{
			Edge:           *e,
			SourceTitle:    src.Title,
			SourceCategory: src.Category,
			TargetTitle:    dst.Title,
			TargetCategory: dst.Category,
		})
	}
	cp := *node
	return &cp, conns, nil
}

// SearchKnowledge matches query case-insensitively against title and content.
func (m *MockStore) SearchKnowledge(ctx context.Context, query string, limit int) ([]*KnowledgeNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(OpKnowledgeSearch); err != nil {
		return nil, err
	}
	limit = clampLimit(limit, DefaultSearchLimit)
	q := strings.ToLower(query)

	results := []*KnowledgeNode{}
	for _, n := range m.nodes {
		if len(results) == limit {
			break
		}
		if strings.Contains(strings.ToLower(n.Title), q) || strings.Contains(strings.ToLower(n.Content), q) {
			cp := *n
			results = append(results, &cp)
		}
	}
	return results, nil
}

// CreateKnowledgeNode stores a node with the next ID.
func (m *MockStore) CreateKnowledgeNode(ctx context.Context, title, content, category string) (*KnowledgeNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(OpCreateKnowledgeNode); err != nil {
		return nil, err
	}
	if err := validateKnowledgeNode(title, content); err != nil {
		return nil, err
	}

	m.nextNodeID++
	now := m.now().UTC()
	node := &KnowledgeNode{
		ID:        m.nextNodeID,
		Title:     title,
		Content:   content,
		Category:  category,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.nodes = append(m.nodes, node)

	result := *node
	return &result, nil
}

// CreateKnowledgeEdge links two stored nodes.
func (m *MockStore) CreateKnowledgeEdge(ctx context.Context, sourceID, targetID int64, relationshipType string, weight float64) (*KnowledgeEdge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(OpCreateKnowledgeEdge); err != nil {
		return nil, err
	}
	if err := validateKnowledgeEdge(sourceID, targetID, relationshipType); err != nil {
		return nil, err
	}
	if m.findNode(sourceID) == nil || m.findNode(targetID) == nil {
		return nil, ErrNotFound
	}
	for _, e := range m.edges {
		if e.SourceID == sourceID && e.TargetID == targetID {
			return nil, ErrConflict
		}
	}

	m.nextEdgeID++
	edge := &KnowledgeEdge{
		ID:               m.nextEdgeID,
		SourceID:         sourceID,
		TargetID:         targetID,
		RelationshipType: relationshipType,
		Weight:           weight,
		CreatedAt:        m.now().UTC(),
	}
	m.edges = append(m.edges, edge)

	result := *edge
	return &result, nil
}

// findNode returns the stored node with id, or nil. Caller holds mu.
func (m *MockStore) findNode(id int64) *KnowledgeNode {
	for _, n := range m.nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
