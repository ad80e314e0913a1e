// ABOUTME: Package dedupe rejects chat messages replayed by retrying clients
// ABOUTME: A TTL- and size-bounded set of user-scoped client message ids

// Package dedupe provides replay protection for chat messages using a
// time-based cache.
//
// Clients may tag a chat message with a clientMessageId. The gateway marks
// Key(userID, clientMessageID) with CheckAndMark before running the turn; a
// second message with the same key inside the window is rejected as a
// duplicate instead of producing a second reply. When a turn fails the key is
// forgotten so the client can retry.
package dedupe
