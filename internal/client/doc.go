// Package client is a Go client for the xeno-gateway HTTP and WebSocket API.
//
// # Overview
//
// Client wraps the gateway's response envelope so callers get typed values
// or an *APIError carrying the HTTP status and the gateway's message. It is
// used by the xeno-admin CLI and by tests.
//
//	c, err := client.New("http://localhost:8080", client.WithToken(token))
//	out, err := c.Chat(ctx, gateway.ChatRequest{Message: "hi", SessionID: "s1"})
//	msgs, err := c.History(ctx, "s1", client.HistoryOptions{Limit: 20})
//
// # WebSocket
//
// Connect opens /ws, passing the token as the access_token query parameter.
// Send queues a turn and Subscribe watches a session; Next reads events:
//
//	conn, err := c.Connect(ctx)
//	conn.Subscribe("s1")
//	for {
//	    ev, err := conn.Next()
//	    if msg, err := ev.Message(); err == nil { ... }
//	}
package client
