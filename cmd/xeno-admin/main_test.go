// ABOUTME: Tests for the xeno-admin commands
// ABOUTME: Drives the cobra command tree against a real gateway handler

package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/xeno-gateway/internal/auth"
	"github.com/2389/xeno-gateway/internal/client"
	"github.com/2389/xeno-gateway/internal/config"
	"github.com/2389/xeno-gateway/internal/gateway"
	"github.com/2389/xeno-gateway/internal/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func startGateway(t *testing.T, secret string) string {
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
	return srv.URL
}

// isolateEnv keeps the developer's token out of the flag defaults.
func isolateEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(envToken, "")
	t.Setenv(envGatewayURL, "")
	t.Setenv("XDG_CONFIG_HOME", dir)
	return dir
}

func runAdmin(ctx context.Context, in string, args ...string) (string, error) {
	var buf bytes.Buffer
	root := newRootCmd(strings.NewReader(in), &buf)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return buf.String(), err
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStatus(t *testing.T) {
	isolateEnv(t)
	url := startGateway(t, "")

	out, err := runAdmin(t.Context(), "", "status", "--url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "Gateway:     "+url)
	assert.Contains(t, out, "Provider:    none")
	assert.Contains(t, out, "Persistence: true")
	assert.Contains(t, out, "Auth:        false")
}

func TestStatus_Unreachable(t *testing.T) {
	isolateEnv(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	out, err := runAdmin(t.Context(), "", "status", "--url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "UNREACHABLE")
}

func TestInvalidURL(t *testing.T) {
	isolateEnv(t)
	_, err := runAdmin(t.Context(), "", "agents", "--url", "localhost:8080")
	assert.ErrorIs(t, err, client.ErrInvalidURL)
}

func TestURLFromEnv(t *testing.T) {
	isolateEnv(t)
	url := startGateway(t, "")
	t.Setenv(envGatewayURL, url)

	out, err := runAdmin(t.Context(), "", "agents")
	require.NoError(t, err)
	assert.Contains(t, out, "planner")
}

func TestAgents(t *testing.T) {
	isolateEnv(t)
	url := startGateway(t, "")

	out, err := runAdmin(t.Context(), "", "agents", "--url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "ROLE")
	for _, role := range []string{"researcher", "critic", "planner", "ethical_guardian"} {
		assert.Contains(t, out, role)
	}
}

func TestChatHistoryAndTask(t *testing.T) {
	isolateEnv(t)
	url := startGateway(t, "")
	ctx := t.Context()

	out, err := runAdmin(ctx, "", "chat", "--url", url, "--session", "s1", "--user", "u1", "What", "is", "Go?")
	require.NoError(t, err)
	assert.Contains(t, out, "[fallback]")
	assert.Contains(t, out, `"What is Go?"`)
	assert.Contains(t, out, "task s1")

	out, err = runAdmin(ctx, "", "history", "s1", "--url", url)
	require.NoError(t, err)
	userAt := strings.Index(out, "user:")
	require.GreaterOrEqual(t, userAt, 0)
	assert.Greater(t, strings.LastIndex(out, "fallback mode"), userAt, "oldest message prints first")

	out, err = runAdmin(ctx, "", "history", "s1", "--url", url, "--limit", "1", "--html")
	require.NoError(t, err)
	assert.NotContains(t, out, "user:")
	assert.Contains(t, out, "<p>")

	out, err = runAdmin(ctx, "", "history", "unknown", "--url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "No messages.")

	out, err = runAdmin(ctx, "", "task", "s1", "--url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "Status:  completed")
	assert.Contains(t, out, "query")
	assert.Contains(t, out, "response")

	_, err = runAdmin(ctx, "", "task", "missing", "--url", url)
	assert.True(t, client.IsStatus(err, http.StatusNotFound))
}

func TestConversations(t *testing.T) {
	isolateEnv(t)
	url := startGateway(t, "")
	ctx := t.Context()

	out, err := runAdmin(ctx, "", "conversations", "u1", "--url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "No conversations.")

	out, err = runAdmin(ctx, "", "new", "Trip", "planning", "--url", url, "--user", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "Created conversation")
	assert.Contains(t, out, "(Trip planning)")

	_, err = runAdmin(ctx, "", "chat", "--url", url, "--session", "s1", "--user", "u1", "hello")
	require.NoError(t, err)

	out, err = runAdmin(ctx, "", "conversations", "u1", "--url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "MESSAGES")
	assert.Contains(t, out, "s1")
	assert.Contains(t, out, "Trip planning")

	out, err = runAdmin(ctx, "", "conversations", "u1", "--url", url, "--limit", "1", "--offset", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "No conversations.")
}

func TestChatREPL(t *testing.T) {
	isolateEnv(t)
	url := startGateway(t, "")
	ctx := t.Context()

	out, err := runAdmin(ctx, "first question\n\nsecond question\n", "chat", "--url", url, "--session", "s2")
	require.NoError(t, err)
	assert.Contains(t, out, "session s2")
	assert.Equal(t, 2, strings.Count(out, "[fallback]"))

	c, err := client.New(url)
	require.NoError(t, err)
	msgs, err := c.History(ctx, "s2", client.HistoryOptions{})
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
}

func TestWatch(t *testing.T) {
	isolateEnv(t)
	url := startGateway(t, "")

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	var buf syncBuffer
	root := newRootCmd(strings.NewReader(""), &buf)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"watch", "s3", "--url", url})

	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(buf.String(), "watching s3")
	}, 5*time.Second, 10*time.Millisecond)

	c, err := client.New(url)
	require.NoError(t, err)
	_, err = c.Chat(t.Context(), gateway.ChatRequest{Message: "hello from elsewhere", SessionID: "s3"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		out := buf.String()
		return strings.Contains(out, "hello from elsewhere") && strings.Contains(out, "fallback mode")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

func TestToken(t *testing.T) {
	dir := isolateEnv(t)
	url := startGateway(t, testSecret)
	ctx := t.Context()

	_, err := runAdmin(ctx, "", "agents", "--url", url)
	assert.True(t, client.IsStatus(err, http.StatusUnauthorized))

	token := mintToken(t, "alice")

	_, err = runAdmin(ctx, "", "agents", "--url", url, "--token", token)
	require.NoError(t, err)

	t.Run("env", func(t *testing.T) {
		t.Setenv(envToken, token)
		_, err := runAdmin(ctx, "", "agents", "--url", url)
		require.NoError(t, err)
	})

	t.Run("token file", func(t *testing.T) {
		path := filepath.Join(dir, "xeno", "token")
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
		require.NoError(t, os.WriteFile(path, []byte(token+"\n"), 0o600))

		assert.Equal(t, token, getToken())
		_, err := runAdmin(ctx, "", "agents", "--url", url)
		require.NoError(t, err)
	})

	t.Run("watch foreign session", func(t *testing.T) {
		bob := mintToken(t, "bob")
		_, err := runAdmin(ctx, "", "chat", "--url", url, "--token", bob, "--session", "bobs", "hi")
		require.NoError(t, err)

		_, err = runAdmin(ctx, "", "watch", "bobs", "--url", url, "--token", token)
		assert.True(t, client.IsStatus(err, http.StatusNotFound))
	})
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a b", truncate("a\nb", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func TestIndent(t *testing.T) {
	assert.Equal(t, "  one\n  two", indent("one\ntwo\n"))
}

func mintToken(t *testing.T, user string) string {
	t.Helper()
	v, err := auth.NewJWTVerifier([]byte(testSecret))
	require.NoError(t, err)
	token, err := v.Generate(user, time.Hour)
	require.NoError(t, err)
	return token
}

func TestKnowledge(t *testing.T) {
	isolateEnv(t)
	url := startGateway(t, "")
	ctx := t.Context()

	out, err := runAdmin(ctx, "", "knowledge", "list", "--url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "No nodes.")

	out, err = runAdmin(ctx, "", "knowledge", "add-node", "Go", "A", "compiled", "language", "-c", "language", "--url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "Created node 1 (Go)")

	_, err = runAdmin(ctx, "", "kg", "add-node", "Goroutine", "Lightweight thread", "--url", url)
	require.NoError(t, err)

	out, err = runAdmin(ctx, "", "knowledge", "link", "1", "has", "2", "--weight", "0.5", "--url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "Linked 1 -[has]-> 2")

	_, err = runAdmin(ctx, "", "knowledge", "link", "1", "has", "2", "--url", url)
	assert.True(t, client.IsStatus(err, http.StatusConflict))

	out, err = runAdmin(ctx, "", "knowledge", "list", "--category", "language", "--url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "CATEGORY")
	assert.Contains(t, out, "A compiled language")
	assert.NotContains(t, out, "Goroutine")
	assert.Contains(t, out, "1 edges")
	assert.Contains(t, out, "1 -[has 0.5]-> 2")

	out, err = runAdmin(ctx, "", "knowledge", "show", "2", "--url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "Lightweight thread")
	assert.Contains(t, out, "Go -[has]-> Goroutine")

	out, err = runAdmin(ctx, "", "knowledge", "search", "THREAD", "--url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "Goroutine")

	out, err = runAdmin(ctx, "", "knowledge", "search", "nothing", "--url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "No matches.")

	_, err = runAdmin(ctx, "", "knowledge", "show", "x", "--url", url)
	assert.ErrorContains(t, err, `invalid node id "x"`)

	_, err = runAdmin(ctx, "", "knowledge", "show", "99", "--url", url)
	assert.True(t, client.IsStatus(err, http.StatusNotFound))

	out, err = runAdmin(ctx, "", "status", "--url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "Knowledge:   true")
}
