// ABOUTME: WebSocket transport for chat turns and live session updates
// ABOUTME: Clients send message and subscribe frames; the gateway pushes response, message, and error events

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/xeno-gateway/internal/tasks"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = wsPongWait * 9 / 10
	wsMaxFrameBytes  = 64 << 10
	wsTurnQueueDepth = 8
)

// WebSocket frame and event names.
const (
	FrameMessage   = "message"
	FrameSubscribe = "subscribe"

	EventResponse   = "response"
	EventMessage    = "message"
	EventSubscribed = "subscribed"
	EventError      = "error"
)

// wsFailureMessage is sent when a turn fails without a user-facing message.
const wsFailureMessage = "Failed to process message"

// ClientFrame is a frame sent by a WebSocket client. A frame without a type
// is treated as a message.
type ClientFrame struct {
	Type string `json:"type"`
	ChatRequest
	// Content is accepted as an alias for message.
	Content string `json:"content,omitempty"`
}

// ServerEvent is a frame sent to a WebSocket client.
type ServerEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// EventError payload.
type wsErrorData struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// wsClient is one upgraded connection. Writes are serialized by writeMu.
type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	subMu      sync.Mutex
	subSession string
	subID      string
	subCancel  context.CancelFunc
}

func (c *wsClient) send(event string, data any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(ServerEvent{Event: event, Data: data})
}

func (c *wsClient) sendError(status int, message string) error {
	return c.send(EventError, wsErrorData{Message: message, Code: status})
}

func (c *wsClient) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// closeWithReason sends a close frame and closes the connection.
func (c *wsClient) closeWithReason(code int, reason string) {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
	c.writeMu.Unlock()
	_ = c.conn.Close()
}

// originFor returns the subscription to skip when publishing a turn on
// sessionID, so the sender gets its reply only as a response event.
func (c *wsClient) originFor(sessionID string) string {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.subSession == sessionID {
		return c.subID
	}
	return ""
}

func (c *wsClient) subscribedTo(sessionID string) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return c.subSession == sessionID
}

func (g *Gateway) trackWebSocket(c *wsClient) bool {
	g.wsMu.Lock()
	defer g.wsMu.Unlock()
	if g.wsClosed {
		return false
	}
	g.wsClients[c] = struct{}{}
	return true
}

func (g *Gateway) untrackWebSocket(c *wsClient) {
	g.wsMu.Lock()
	delete(g.wsClients, c)
	g.wsMu.Unlock()
}

// closeWebSockets closes every open connection and refuses new ones.
func (g *Gateway) closeWebSockets() {
	g.wsMu.Lock()
	g.wsClosed = true
	clients := make([]*wsClient, 0, len(g.wsClients))
	for c := range g.wsClients {
		clients = append(clients, c)
	}
	g.wsMu.Unlock()

	for _, c := range clients {
		c.closeWithReason(websocket.CloseGoingAway, "server shutting down")
	}
}

// handleWebSocket handles GET /ws.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		g.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{conn: conn}
	if !g.trackWebSocket(client) {
		client.closeWithReason(websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer g.untrackWebSocket(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	logger := g.logger.With("remote_addr", r.RemoteAddr)
	logger.Debug("websocket connected")

	var wg sync.WaitGroup
	turns := make(chan ChatRequest, wsTurnQueueDepth)

	// Turns on one connection run in arrival order.
	wg.Go(func() {
		for req := range turns {
			out, apiErr := g.runChat(ctx, req, client.originFor(req.SessionID))
			if apiErr != nil {
				msg := apiErr.message
				if apiErr.status >= http.StatusInternalServerError && msg == "Internal server error" {
					msg = wsFailureMessage
				}
				_ = client.sendError(apiErr.status, msg)
				continue
			}
			if err := client.send(EventResponse, out); err != nil {
				logger.Debug("websocket write failed", "error", err)
			}
		}
	})

	wg.Go(func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := client.ping(); err != nil {
					logger.Debug("websocket ping failed", "error", err)
					_ = conn.Close()
					return
				}
			}
		}
	})

	g.readFrames(ctx, client, turns, &wg)

	close(turns)
	cancel()
	g.unsubscribe(client)
	_ = conn.Close()
	wg.Wait()
	logger.Debug("websocket disconnected")
}

// readFrames reads client frames until the connection closes.
func (g *Gateway) readFrames(ctx context.Context, client *wsClient, turns chan<- ChatRequest, wg *sync.WaitGroup) {
	conn := client.conn
	conn.SetReadLimit(wsMaxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			_ = client.sendError(http.StatusBadRequest, "invalid JSON frame")
			continue
		}
		frame.SessionID = strings.TrimSpace(frame.SessionID)
		if frame.Message == "" {
			frame.Message = frame.Content
		}

		switch frame.Type {
		case FrameSubscribe:
			if frame.SessionID == "" {
				_ = client.sendError(http.StatusBadRequest, "sessionId is required")
				continue
			}
			if !g.subscribe(ctx, client, frame.SessionID, wg) {
				continue
			}
			_ = client.send(EventSubscribed, map[string]string{"sessionId": frame.SessionID})

		case FrameMessage, "":
			if frame.SessionID != "" && !client.subscribedTo(frame.SessionID) {
				if !g.subscribe(ctx, client, frame.SessionID, wg) {
					continue
				}
			}
			select {
			case turns <- frame.ChatRequest:
			default:
				_ = client.sendError(http.StatusTooManyRequests, "Too many pending messages")
			}

		default:
			_ = client.sendError(http.StatusBadRequest, "unknown frame type: "+frame.Type)
		}
	}
}

// subscribe moves client's subscription to sessionID, starting a forwarder
// that pushes the session's messages as message events. It reports false
// and tells the client when the session may not be watched.
func (g *Gateway) subscribe(ctx context.Context, client *wsClient, sessionID string, wg *sync.WaitGroup) bool {
	if err := g.checkSessionAccess(ctx, sessionID); err != nil {
		if errors.Is(err, errForeignSession) {
			_ = client.sendError(http.StatusNotFound, "Conversation not found")
		} else {
			g.logger.Error("session access check failed", "error", err, "session_id", sessionID)
			_ = client.sendError(http.StatusInternalServerError, wsFailureMessage)
		}
		return false
	}

	g.unsubscribe(client)

	subCtx, subCancel := context.WithCancel(ctx)
	ch, subID := g.broadcaster.Subscribe(subCtx, sessionID)

	client.subMu.Lock()
	client.subSession = sessionID
	client.subID = subID
	client.subCancel = subCancel
	client.subMu.Unlock()

	wg.Go(func() { g.forward(client, ch) })
	return true
}

// unsubscribe drops client's current subscription, if any.
func (g *Gateway) unsubscribe(client *wsClient) {
	client.subMu.Lock()
	session, id, cancel := client.subSession, client.subID, client.subCancel
	client.subSession, client.subID, client.subCancel = "", "", nil
	client.subMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	g.broadcaster.Unsubscribe(session, id)
}

// forward pushes broadcast messages until the subscription channel closes.
func (g *Gateway) forward(client *wsClient, ch <-chan tasks.Message) {
	for msg := range ch {
		if err := client.send(EventMessage, msg); err != nil {
			g.logger.Debug("websocket forward failed", "error", err)
		}
	}
}
