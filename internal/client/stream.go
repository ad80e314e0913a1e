// ABOUTME: WebSocket connection to the gateway for turns and session updates
// ABOUTME: Sends message and subscribe frames and reads typed server events

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/2389/xeno-gateway/internal/auth"
	"github.com/2389/xeno-gateway/internal/conversation"
	"github.com/2389/xeno-gateway/internal/gateway"
	"github.com/2389/xeno-gateway/internal/tasks"
)

// Event is a server event with its payload left raw.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Response decodes a response event.
func (e Event) Response() (*conversation.Outbound, error) {
	var out conversation.Outbound
	if err := e.decode(gateway.EventResponse, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Message decodes a message event.
func (e Event) Message() (*tasks.Message, error) {
	var msg tasks.Message
	if err := e.decode(gateway.EventMessage, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Err returns an *APIError for an error event and nil otherwise.
func (e Event) Err() error {
	if e.Event != gateway.EventError {
		return nil
	}
	var body struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	}
	if err := json.Unmarshal(e.Data, &body); err != nil {
		return fmt.Errorf("decoding error event: %w", err)
	}
	return &APIError{Status: body.Code, Message: body.Message}
}

func (e Event) decode(want string, v any) error {
	if e.Event != want {
		return fmt.Errorf("expected %s event, got %s", want, e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decoding %s event: %w", want, err)
	}
	return nil
}

// Conn is an open WebSocket. Reads must come from one goroutine; writes
// may come from several.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// Connect opens the gateway WebSocket.
func (c *Client) Connect(ctx context.Context) (*Conn, error) {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/ws"
	if c.token != "" {
		q := url.Values{}
		q.Set(auth.TokenQueryParam, c.token)
		u.RawQuery = q.Encode()
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, fmt.Errorf("dialing websocket: %w", err)
	}
	return &Conn{ws: ws}, nil
}

func (c *Conn) write(frame gateway.ClientFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(frame)
}

// Send queues a turn. Its reply arrives as a response or error event.
func (c *Conn) Send(req gateway.ChatRequest) error {
	return c.write(gateway.ClientFrame{Type: gateway.FrameMessage, ChatRequest: req})
}

// Subscribe watches sessionID; other clients' turns on it arrive as message
// events.
func (c *Conn) Subscribe(sessionID string) error {
	return c.write(gateway.ClientFrame{
		Type:        gateway.FrameSubscribe,
		ChatRequest: gateway.ChatRequest{SessionID: sessionID},
	})
}

// Next blocks for the next server event.
func (c *Conn) Next() (Event, error) {
	var ev Event
	if err := c.ws.ReadJSON(&ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Close sends a normal close frame and closes the connection.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.ws.Close()
}
