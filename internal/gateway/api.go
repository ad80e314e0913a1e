// ABOUTME: HTTP API handlers for chat turns, history, conversations, tasks, agents, and status
// ABOUTME: Every response uses the {success, data} or {success:false, error:{message}} envelope

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/2389/xeno-gateway/internal/auth"
	"github.com/2389/xeno-gateway/internal/conversation"
	"github.com/2389/xeno-gateway/internal/dedupe"
	"github.com/2389/xeno-gateway/internal/profiles"
	"github.com/2389/xeno-gateway/internal/store"
)

const (
	// maxBodyBytes caps JSON request bodies.
	maxBodyBytes = 1 << 20
	// maxClientMessageIDLen caps clientMessageId.
	maxClientMessageIDLen = 100
)

// ChatRequest is the body of POST /api/chat and of WebSocket message frames.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
	UserID    string `json:"userId,omitempty"`
	// ClientMessageID lets a retrying client send the same message twice
	// without producing a second turn.
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

// CreateConversationRequest is the body of POST /api/chat/conversation.
type CreateConversationRequest struct {
	Title  string `json:"title"`
	UserID string `json:"userId"`
}

// HistoryMessage is a persisted message, optionally rendered to HTML.
type HistoryMessage struct {
	*store.Message
	HTML string `json:"html,omitempty"`
}

// AgentResponse describes one registered persona.
type AgentResponse struct {
	Role         string   `json:"role"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
	Model        string   `json:"model"`
	Temperature  float64  `json:"temperature"`
	MaxTokens    int      `json:"maxTokens"`
	Lead         bool     `json:"lead"`
}

// SystemStatusResponse is the body of GET /api/system/status.
type SystemStatusResponse struct {
	System   SystemInfo    `json:"system"`
	Features FeatureStatus `json:"features"`
}

// SystemInfo reports process and host facts.
type SystemInfo struct {
	Uptime     float64    `json:"uptime"` // seconds
	Memory     MemoryInfo `json:"memory"`
	Goroutines int        `json:"goroutines"`
	Platform   string     `json:"platform"`
	Hostname   string     `json:"hostname"`
	GoVersion  string     `json:"goVersion"`
	Timestamp  string     `json:"timestamp"`
}

// MemoryInfo reports Go runtime memory usage in bytes.
type MemoryInfo struct {
	Alloc uint64 `json:"alloc"`
	Sys   uint64 `json:"sys"`
}

// FeatureStatus reports which capabilities are live.
type FeatureStatus struct {
	AIModels       bool   `json:"aiModels"`
	Provider       string `json:"provider"`
	FallbackForce  bool   `json:"fallbackForced"`
	Persistence    bool   `json:"persistence"`
	KnowledgeGraph bool   `json:"knowledgeGraph"`
	Auth           bool   `json:"auth"`
	ActiveTasks    int    `json:"activeTasks"`
}

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeData writes a success envelope.
func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

// sendJSONError writes a failure envelope.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Error: &errorBody{Message: message}})
}

// decodeBody decodes a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return errors.New("invalid JSON body")
	}
	return nil
}

// turnErrorMessage picks what to tell the client about err.
func turnErrorMessage(err error) string {
	var te *conversation.TurnError
	if errors.As(err, &te) && te.Message != "" {
		return te.Message
	}
	return "Internal server error"
}

// handleChat handles POST /api/chat: one user message in, one agent reply out.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, apiErr := g.runChat(r.Context(), req, "")
	if apiErr != nil {
		sendJSONError(w, apiErr.status, apiErr.message)
		return
	}
	writeData(w, http.StatusOK, out)
}

// apiError is a failure safe to show to the client.
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%d: %s", e.status, e.message)
}

// runChat runs one turn for HTTP and WebSocket callers.
func (g *Gateway) runChat(ctx context.Context, req ChatRequest, originSubID string) (*conversation.Outbound, *apiError) {
	userID := auth.UserID(ctx, req.UserID)
	sessionID := strings.TrimSpace(req.SessionID)

	if err := g.checkSessionAccess(ctx, sessionID); err != nil {
		if errors.Is(err, errForeignSession) {
			return nil, &apiError{status: http.StatusNotFound, message: "Conversation not found"}
		}
		g.logger.Error("session access check failed", "error", err, "session_id", sessionID)
		return nil, &apiError{status: http.StatusInternalServerError, message: "Internal server error"}
	}

	if len(req.ClientMessageID) > maxClientMessageIDLen {
		return nil, &apiError{status: http.StatusBadRequest, message: "clientMessageId too long"}
	}

	var dedupeKey string
	if req.ClientMessageID != "" {
		dedupeKey = dedupe.Key(userID, req.ClientMessageID)
		if g.dedupe.CheckAndMark(dedupeKey) {
			g.logger.Debug("duplicate chat message dropped", "client_message_id", req.ClientMessageID, "user_id", userID)
			return nil, &apiError{status: http.StatusConflict, message: "Duplicate message"}
		}
	}

	out, err := g.conversation.HandleInbound(ctx, conversation.Inbound{
		Content:     req.Message,
		SessionID:   sessionID,
		UserID:      userID,
		OriginSubID: originSubID,
	})
	if err != nil {
		if dedupeKey != "" {
			g.dedupe.Forget(dedupeKey)
		}
		status := conversation.StatusCode(err)
		if status >= http.StatusInternalServerError {
			g.logger.Error("chat turn failed", "error", err, "session_id", sessionID)
		}
		return nil, &apiError{status: status, message: turnErrorMessage(err)}
	}
	return out, nil
}

// errForeignSession reports a session that belongs to another user.
var errForeignSession = errors.New("session belongs to another user")

// checkSessionAccess returns errForeignSession when an authenticated caller
// names a session owned by someone else. The live task is consulted first,
// then the persisted conversation. Anonymous mode allows everything.
func (g *Gateway) checkSessionAccess(ctx context.Context, sessionID string) error {
	a := auth.FromContext(ctx)
	if a == nil || sessionID == "" {
		return nil
	}
	if snap, ok := g.conversation.Task(sessionID); ok && snap.UserID != "" {
		if snap.UserID != a.UserID {
			return errForeignSession
		}
		return nil
	}

	conv, err := g.conversation.Conversation(ctx, sessionID)
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, conversation.ErrNoStore):
		return nil
	case err != nil:
		return err
	case conv.UserID != "" && conv.UserID != a.UserID:
		return errForeignSession
	}
	return nil
}

// handleHistory handles GET /api/chat/history/{sessionId}.
// Query: limit (default 50), before (RFC 3339, exclusive), render=html.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")
	q := r.URL.Query()

	limit, err := parseLimit(q.Get("limit"), store.DefaultMessageLimit)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	var before *time.Time
	if raw := q.Get("before"); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			sendJSONError(w, http.StatusBadRequest, "before must be an RFC 3339 timestamp")
			return
		}
		before = &ts
	}

	if !g.ownsConversation(w, r, sessionID) {
		return
	}

	msgs, err := g.conversation.History(r.Context(), sessionID, limit, before)
	if err != nil {
		g.storeError(w, err, "failed to load history")
		return
	}

	renderHTML := q.Get("render") == "html"
	out := make([]HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		hm := HistoryMessage{Message: m}
		if renderHTML {
			hm.HTML = g.renderMarkdown(m.Content)
		}
		out = append(out, hm)
	}
	writeData(w, http.StatusOK, out)
}

// ownsConversation reports whether the caller may read sessionID. Another
// user's conversation answers 404 so its existence is not revealed. Writes
// the response when it returns false.
func (g *Gateway) ownsConversation(w http.ResponseWriter, r *http.Request, sessionID string) bool {
	err := g.checkSessionAccess(r.Context(), sessionID)
	switch {
	case err == nil:
		return true
	case errors.Is(err, errForeignSession):
		sendJSONError(w, http.StatusNotFound, "Conversation not found")
	default:
		g.storeError(w, err, "failed to load history")
	}
	return false
}

// storeError maps persistence errors onto responses.
func (g *Gateway) storeError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, conversation.ErrNoStore):
		sendJSONError(w, http.StatusServiceUnavailable, "Conversation history is not enabled")
	case errors.Is(err, store.ErrNotFound):
		sendJSONError(w, http.StatusNotFound, "Conversation not found")
	default:
		g.logger.Error(logMsg, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// handleCreateConversation handles POST /api/chat/conversation.
func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := decodeBody(w, r, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		sendJSONError(w, http.StatusBadRequest, "Conversation title is required")
		return
	}
	userID := auth.UserID(r.Context(), req.UserID)
	if userID == "" {
		sendJSONError(w, http.StatusBadRequest, "User ID is required")
		return
	}

	conv, err := g.conversation.CreateConversation(r.Context(), req.Title, userID)
	if err != nil {
		var te *conversation.TurnError
		if errors.As(err, &te) {
			sendJSONError(w, te.Code, te.Message)
			return
		}
		g.storeError(w, err, "failed to create conversation")
		return
	}
	writeData(w, http.StatusCreated, conv)
}

// handleListConversations handles GET /api/chat/conversations/{userId}.
// Query: limit (default 10), offset (default 0).
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	q := r.URL.Query()

	limit, err := parseLimit(q.Get("limit"), store.DefaultConversationLimit)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset := 0
	if raw := q.Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			sendJSONError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
	}

	convs, err := g.conversation.Conversations(r.Context(), userID, limit, offset)
	if err != nil {
		g.storeError(w, err, "failed to list conversations")
		return
	}
	if convs == nil {
		convs = []*store.ConversationSummary{}
	}
	writeData(w, http.StatusOK, convs)
}

// handleGetTask handles GET /api/chat/tasks/{taskId}.
func (g *Gateway) handleGetTask(w http.ResponseWriter, r *http.Request) {
	snap, ok := g.conversation.Task(r.PathValue("taskId"))
	if !ok {
		sendJSONError(w, http.StatusNotFound, "Task not found")
		return
	}
	if a := auth.FromContext(r.Context()); a != nil && snap.UserID != "" && snap.UserID != a.UserID {
		sendJSONError(w, http.StatusNotFound, "Task not found")
		return
	}
	writeData(w, http.StatusOK, snap)
}

// handleListAgents handles GET /api/agents.
func (g *Gateway) handleListAgents(w http.ResponseWriter, r *http.Request) {
	roles := g.profiles.Roles()
	out := make([]AgentResponse, 0, len(roles))
	for _, role := range roles {
		p, ok := g.profiles.Lookup(role)
		if !ok {
			continue
		}
		out = append(out, AgentResponse{
			Role:         string(p.Role),
			Description:  p.Description,
			Capabilities: p.Capabilities,
			Model:        p.Params.Model,
			Temperature:  p.Params.Temperature,
			MaxTokens:    p.Params.MaxTokens,
			Lead:         p.Role == profiles.RolePlanner,
		})
	}
	writeData(w, http.StatusOK, out)
}

// handleSystemStatus handles GET /api/system/status.
func (g *Gateway) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	hostname, _ := os.Hostname()

	writeData(w, http.StatusOK, SystemStatusResponse{
		System: SystemInfo{
			Uptime:     time.Since(g.startedAt).Seconds(),
			Memory:     MemoryInfo{Alloc: mem.Alloc, Sys: mem.Sys},
			Goroutines: runtime.NumGoroutine(),
			Platform:   runtime.GOOS + "/" + runtime.GOARCH,
			Hostname:   hostname,
			GoVersion:  runtime.Version(),
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
		},
		Features: FeatureStatus{
			AIModels:       g.generator.Available(),
			Provider:       g.generator.ProviderName(),
			FallbackForce:  g.generator.FallbackForced(),
			Persistence:    g.store != nil,
			KnowledgeGraph: g.knowledge != nil,
			Auth:           g.verifier != nil,
			ActiveTasks:    g.conversation.TaskCount(),
		},
	})
}

// handleAPINotFound answers unknown /api paths.
func (g *Gateway) handleAPINotFound(w http.ResponseWriter, r *http.Request) {
	sendJSONError(w, http.StatusNotFound, "API endpoint not found")
}

// parseLimit parses a positive limit, returning def when raw is empty.
func parseLimit(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return n, nil
}
