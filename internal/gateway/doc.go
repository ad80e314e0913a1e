// Package gateway orchestrates the xeno-gateway server components.
//
// # Overview
//
// The gateway package is the central coordinator of the xeno-gateway server.
// It builds every component from config: the persona registry, the
// generation gateway and its provider, the in-memory task store, the
// conversation service, the SQLite conversation store and its recorder, the
// session broadcaster, the clientMessageId dedupe cache, and the optional
// JWT verifier. It then serves them over HTTP and WebSocket.
//
// # HTTP API
//
// Every /api response is an envelope:
//
//	{"success": true, "data": ...}
//	{"success": false, "error": {"message": "..."}}
//
// Endpoints:
//
//   - POST /api/chat - Run one turn: {message, sessionId?, userId?, clientMessageId?}
//   - GET /api/chat/history/{sessionId} - Persisted messages, newest first (limit, before, render=html)
//   - POST /api/chat/conversation - Create an empty titled conversation (201)
//   - GET /api/chat/conversations/{userId} - A user's conversations (limit, offset)
//   - GET /api/chat/tasks/{taskId} - Live task snapshot
//   - GET /api/agents - Registered personas
//   - GET /api/system/status - Process facts and feature flags
//   - GET /ws - WebSocket transport
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (pings the database)
//
// Unknown /api paths answer 404 "API endpoint not found".
//
// # Authentication
//
// With auth.jwt_secret set, every /api route and /ws require a bearer token
// (header, or access_token query parameter for browsers opening a
// WebSocket). The token subject replaces any userId in request bodies. A
// user may only list their own conversations (403 otherwise), and another
// user's session reads as 404 for history, tasks and new turns. Without a
// secret the gateway runs anonymously and trusts the claimed userId.
//
// # WebSocket
//
// Client frames:
//
//	{"type": "message", "message": "...", "sessionId": "s1", "clientMessageId": "c-1"}
//	{"type": "subscribe", "sessionId": "s1"}
//
// Server events:
//
//	{"event": "response", "data": <Outbound>}
//	{"event": "message", "data": <tasks.Message>}
//	{"event": "subscribed", "data": {"sessionId": "s1"}}
//	{"event": "error", "data": {"message": "...", "code": 400}}
//
// A connection watches one session at a time; sending a message on a new
// session moves the subscription. Turns from one connection run in arrival
// order through a small queue. The sender of a turn gets its reply as a
// response event; every other watcher of the session gets the query and
// reply as message events.
//
// # Lifecycle
//
//	gw, err := gateway.New(ctx, cfg, logger)
//	if err := gw.Run(ctx); err != nil { ... }
//
// Run returns nil once ctx is canceled and shutdown completes. Shutdown
// closes WebSocket connections, the broadcaster, the dedupe cache, the
// recorder and the store.
//
// # Key Files
//
//   - gateway.go: Gateway struct, construction, routes, Run/Shutdown
//   - api.go: HTTP handlers and the response envelope
//   - ws.go: WebSocket transport
//   - middleware.go: Request logging, CORS, WebSocket origin policy
//   - render.go: Markdown rendering for history
package gateway
