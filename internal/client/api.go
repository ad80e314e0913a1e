// ABOUTME: Typed calls for each gateway HTTP endpoint
// ABOUTME: Chat turns, history, conversations, tasks, agents, knowledge graph, status and health

package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/2389/xeno-gateway/internal/conversation"
	"github.com/2389/xeno-gateway/internal/gateway"
	"github.com/2389/xeno-gateway/internal/store"
	"github.com/2389/xeno-gateway/internal/tasks"
)

// Health is the body of /health and /health/ready.
type Health struct {
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Provider    string `json:"provider,omitempty"`
	Persistence bool   `json:"persistence,omitempty"`
}

// Health checks liveness.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	return c.health(ctx, "/health")
}

// Ready checks readiness. A not-ready gateway returns an *APIError with
// status 503 alongside the decoded body.
func (c *Client) Ready(ctx context.Context) (*Health, error) {
	return c.health(ctx, "/health/ready")
}

func (c *Client) health(ctx context.Context, path string) (*Health, error) {
	var h Health
	status, err := c.getRaw(ctx, path, &h)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		msg := h.Reason
		if msg == "" {
			msg = h.Status
		}
		return &h, &APIError{Status: status, Message: msg}
	}
	return &h, nil
}

// Chat runs one turn.
func (c *Client) Chat(ctx context.Context, req gateway.ChatRequest) (*conversation.Outbound, error) {
	var out conversation.Outbound
	if err := c.do(ctx, http.MethodPost, "/api/chat", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HistoryOptions filter History.
type HistoryOptions struct {
	Limit  int       // zero uses the gateway default
	Before time.Time // zero means no bound
	HTML   bool      // ask for rendered HTML
}

// History returns a session's persisted messages, newest first.
func (c *Client) History(ctx context.Context, sessionID string, opts HistoryOptions) ([]gateway.HistoryMessage, error) {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if !opts.Before.IsZero() {
		q.Set("before", opts.Before.UTC().Format(time.RFC3339Nano))
	}
	if opts.HTML {
		q.Set("render", "html")
	}

	var out []gateway.HistoryMessage
	if err := c.do(ctx, http.MethodGet, "/api/chat/history/"+url.PathEscape(sessionID), q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Conversations lists a user's conversations, most recent first.
func (c *Client) Conversations(ctx context.Context, userID string, limit, offset int) ([]store.ConversationSummary, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	var out []store.ConversationSummary
	if err := c.do(ctx, http.MethodGet, "/api/chat/conversations/"+url.PathEscape(userID), q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateConversation creates an empty titled conversation.
func (c *Client) CreateConversation(ctx context.Context, title, userID string) (*store.Conversation, error) {
	var out store.Conversation
	body := gateway.CreateConversationRequest{Title: title, UserID: userID}
	if err := c.do(ctx, http.MethodPost, "/api/chat/conversation", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Task returns a live task snapshot.
func (c *Client) Task(ctx context.Context, id string) (*tasks.Snapshot, error) {
	var out tasks.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/chat/tasks/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Agents lists the registered personas.
func (c *Client) Agents(ctx context.Context) ([]gateway.AgentResponse, error) {
	var out []gateway.AgentResponse
	if err := c.do(ctx, http.MethodGet, "/api/agents", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Status returns process facts and feature flags.
func (c *Client) Status(ctx context.Context) (*gateway.SystemStatusResponse, error) {
	var out gateway.SystemStatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/system/status", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// KnowledgeGraph lists up to limit nodes, optionally of one category, with
// the edges touching them.
func (c *Client) KnowledgeGraph(ctx context.Context, category string, limit int) (*store.KnowledgeGraph, error) {
	q := url.Values{}
	if category != "" {
		q.Set("category", category)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var out store.KnowledgeGraph
	if err := c.do(ctx, http.MethodGet, "/api/knowledge-graph", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// KnowledgeNode returns a node and its connections.
func (c *Client) KnowledgeNode(ctx context.Context, id int64) (*gateway.KnowledgeNodeResponse, error) {
	var out gateway.KnowledgeNodeResponse
	if err := c.do(ctx, http.MethodGet, "/api/knowledge-graph/node/"+strconv.FormatInt(id, 10), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchKnowledge finds nodes whose title or content contains query.
func (c *Client) SearchKnowledge(ctx context.Context, query string, limit int) (*gateway.KnowledgeSearchResponse, error) {
	q := url.Values{"q": {query}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var out gateway.KnowledgeSearchResponse
	if err := c.do(ctx, http.MethodGet, "/api/knowledge-graph/search", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateKnowledgeNode adds a node.
func (c *Client) CreateKnowledgeNode(ctx context.Context, req gateway.CreateKnowledgeNodeRequest) (*store.KnowledgeNode, error) {
	var out store.KnowledgeNode
	if err := c.do(ctx, http.MethodPost, "/api/knowledge-graph/node", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateKnowledgeEdge links two nodes. A nil Weight means 1.
func (c *Client) CreateKnowledgeEdge(ctx context.Context, req gateway.CreateKnowledgeEdgeRequest) (*store.KnowledgeEdge, error) {
	var out store.KnowledgeEdge
	if err := c.do(ctx, http.MethodPost, "/api/knowledge-graph/edge", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
