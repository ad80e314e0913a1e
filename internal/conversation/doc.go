// ABOUTME: Package conversation orchestrates chat turns between users and agent personas
// ABOUTME: Owns the turn flow, best-effort persistence, and fan-out to session watchers

// Package conversation provides the orchestrator of the gateway.
//
// # Overview
//
// The conversation package sits between the HTTP/WebSocket handlers and the
// generation layer. One inbound user message becomes exactly one reply from
// the session's lead persona.
//
// # Service
//
// The Service coordinates a turn:
//
//	svc := conversation.New(conversation.Options{
//	    Tasks:     tasks.NewMemoryStore(tasks.StoreOptions{}),
//	    Profiles:  profiles.Default(),
//	    Generator: generation.New(provider, generation.Options{}),
//	    Recorder:  recorder,
//	})
//	out, err := svc.HandleInbound(ctx, conversation.Inbound{Content: "hi", SessionID: "s1"})
//
// HandleInbound:
//
//  1. Rejects empty content with a 400 TurnError before touching any task
//  2. Resolves the session's task (atomic get-or-create), or creates a
//     fresh task when no session is given
//  3. Appends the user query addressed to the lead role
//  4. Looks up the lead profile; a missing profile fails the turn
//  5. Sends the last ten messages plus the persona's system prompt to the
//     generator, which never fails (it degrades to fallback text)
//  6. Appends the response as a reply to the query and completes the task
//  7. Records the exchange through the Recorder, best effort
//  8. Publishes the turn's messages to other watchers of the session
//
// Turns on the same session are serialized by the task lock, so replies
// always follow their own query in the task log.
//
// # Failure
//
// A failed turn sets the task status to failed, appends an error message to
// the user that replies to the query, and returns a *TurnError with code
// 500. Panics inside the turn are recovered into the same path. The next
// turn on the session recomputes the status.
//
// # Persistence
//
// The Recorder keys conversations on the session ID, creating one titled
// "Conversation <timestamp>" on first use. Conversation IDs are cached in
// ristretto. Recording runs on a context detached from the caller, bounded
// by Options.PersistTimeout. Failures never block the reply; they surface
// as Outbound.Durable=false.
//
// # Broadcasting
//
// The Broadcaster fans turn messages out to every subscriber of a session.
// The originating client passes its subscription ID in Inbound.OriginSubID
// and is skipped, since it already receives the reply directly.
package conversation
