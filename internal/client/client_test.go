// ABOUTME: Tests for the gateway HTTP and WebSocket client
// ABOUTME: Runs against a real gateway handler backed by a mock store

package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/xeno-gateway/internal/auth"
	"github.com/2389/xeno-gateway/internal/config"
	"github.com/2389/xeno-gateway/internal/gateway"
	"github.com/2389/xeno-gateway/internal/store"
	"github.com/2389/xeno-gateway/internal/tasks"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// startGateway serves a gateway for the test. secret enables auth.
func startGateway(t *testing.T, secret string) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = ""
	cfg.Auth.JWTSecret = secret

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw, err := gateway.New(context.Background(), cfg, logger, gateway.WithStore(store.NewMockStore()))
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		_ = gw.Shutdown(context.Background())
		srv.Close()
	})
	return srv
}

func TestNew_InvalidURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:8080", "ftp://gw", "http://", "::"} {
		_, err := New(raw)
		assert.ErrorIs(t, err, ErrInvalidURL, raw)
	}

	c, err := New("http://localhost:8080/")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", c.BaseURL())
}

func TestHealthAndReady(t *testing.T) {
	srv := startGateway(t, "")
	c, err := New(srv.URL)
	require.NoError(t, err)

	h, err := c.Health(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)

	r, err := c.Ready(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "ready", r.Status)
	assert.True(t, r.Persistence)
}

func TestChatHistoryAndConversations(t *testing.T) {
	srv := startGateway(t, "")
	c, err := New(srv.URL)
	require.NoError(t, err)
	ctx := t.Context()

	out, err := c.Chat(ctx, gateway.ChatRequest{Message: "What is the capital of France?", SessionID: "s1", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "s1", out.TaskID)
	assert.True(t, out.Degraded)

	msgs, err := c.History(ctx, "s1", HistoryOptions{HTML: true})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.False(t, msgs[0].IsUser)
	assert.NotEmpty(t, msgs[0].HTML)

	msgs, err = c.History(ctx, "s1", HistoryOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	msgs, err = c.History(ctx, "s1", HistoryOptions{Before: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, msgs)

	convs, err := c.Conversations(ctx, "u1", 10, 0)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, 2, convs[0].MessageCount)

	conv, err := c.CreateConversation(ctx, "Planning", "u1")
	require.NoError(t, err)
	assert.Equal(t, "Planning", conv.Title)

	snap, err := c.Task(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusCompleted, snap.Status)
}

func TestAgentsAndStatus(t *testing.T) {
	srv := startGateway(t, "")
	c, err := New(srv.URL)
	require.NoError(t, err)

	agents, err := c.Agents(t.Context())
	require.NoError(t, err)
	assert.NotEmpty(t, agents)

	st, err := c.Status(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "none", st.Features.Provider)
	assert.False(t, st.Features.Auth)
}

func TestAPIErrors(t *testing.T) {
	srv := startGateway(t, "")
	c, err := New(srv.URL)
	require.NoError(t, err)

	_, err = c.Chat(t.Context(), gateway.ChatRequest{Message: " "})
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusBadRequest))
	assert.Contains(t, err.Error(), "Message is required")

	_, err = c.Task(t.Context(), "missing")
	assert.True(t, IsStatus(err, http.StatusNotFound))
}

func TestAuthToken(t *testing.T) {
	srv := startGateway(t, testSecret)

	anon, err := New(srv.URL)
	require.NoError(t, err)
	_, err = anon.Agents(t.Context())
	assert.True(t, IsStatus(err, http.StatusUnauthorized))

	_, err = anon.Connect(t.Context())
	assert.True(t, IsStatus(err, http.StatusUnauthorized))

	token := mintToken(t, "alice")
	c, err := New(srv.URL, WithToken(token))
	require.NoError(t, err)

	_, err = c.Agents(t.Context())
	require.NoError(t, err)

	conn, err := c.Connect(t.Context())
	require.NoError(t, err)
	defer conn.Close()
}

func TestConnect_TurnAndBroadcast(t *testing.T) {
	srv := startGateway(t, "")
	c, err := New(srv.URL)
	require.NoError(t, err)

	sender, err := c.Connect(t.Context())
	require.NoError(t, err)
	defer sender.Close()
	watcher, err := c.Connect(t.Context())
	require.NoError(t, err)
	defer watcher.Close()

	require.NoError(t, watcher.Subscribe("s1"))
	ev, err := watcher.Next()
	require.NoError(t, err)
	require.Equal(t, gateway.EventSubscribed, ev.Event)

	require.NoError(t, sender.Send(gateway.ChatRequest{Message: "hello", SessionID: "s1"}))

	ev, err = sender.Next()
	require.NoError(t, err)
	require.NoError(t, ev.Err())
	out, err := ev.Response()
	require.NoError(t, err)
	assert.Equal(t, "s1", out.TaskID)

	ev, err = watcher.Next()
	require.NoError(t, err)
	msg, err := ev.Message()
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)

	_, err = ev.Response()
	assert.Error(t, err)
}

func TestConnect_ErrorEvent(t *testing.T) {
	srv := startGateway(t, "")
	c, err := New(srv.URL)
	require.NoError(t, err)

	conn, err := c.Connect(t.Context())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send(gateway.ChatRequest{Message: ""}))
	ev, err := conn.Next()
	require.NoError(t, err)

	err = ev.Err()
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusBadRequest))
	assert.True(t, strings.Contains(err.Error(), "Message is required"))
}

func mintToken(t *testing.T, user string) string {
	t.Helper()
	v, err := auth.NewJWTVerifier([]byte(testSecret))
	require.NoError(t, err)
	token, err := v.Generate(user, time.Hour)
	require.NoError(t, err)
	return token
}

func TestKnowledgeGraph(t *testing.T) {
	srv := startGateway(t, "")
	c, err := New(srv.URL)
	require.NoError(t, err)
	ctx := t.Context()

	a, err := c.CreateKnowledgeNode(ctx, gateway.CreateKnowledgeNodeRequest{Title: "Go", Content: "A compiled language", Category: "language"})
	require.NoError(t, err)
	b, err := c.CreateKnowledgeNode(ctx, gateway.CreateKnowledgeNodeRequest{Title: "Goroutine", Content: "Lightweight thread"})
	require.NoError(t, err)

	edge, err := c.CreateKnowledgeEdge(ctx, gateway.CreateKnowledgeEdgeRequest{SourceID: a.ID, TargetID: b.ID, RelationshipType: "has"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, edge.Weight, 1e-9)

	_, err = c.CreateKnowledgeEdge(ctx, gateway.CreateKnowledgeEdgeRequest{SourceID: a.ID, TargetID: b.ID, RelationshipType: "has"})
	assert.True(t, IsStatus(err, http.StatusConflict))

	graph, err := c.KnowledgeGraph(ctx, "language", 0)
	require.NoError(t, err)
	require.Len(t, graph.Nodes, 1)
	assert.Len(t, graph.Edges, 1)

	node, err := c.KnowledgeNode(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, node.Connections, 1)
	assert.Equal(t, "Go", node.Connections[0].SourceTitle)

	found, err := c.SearchKnowledge(ctx, "thread", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, found.Count)

	_, err = c.KnowledgeNode(ctx, 404)
	assert.True(t, IsStatus(err, http.StatusNotFound))
}
