// ABOUTME: In-memory fan-out of turn messages to every client watching a session
// ABOUTME: Lets several WebSocket clients on one session see each other's turns

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/xeno-gateway/internal/tasks"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Broadcaster provides in-memory pub/sub for task messages. Subscribers
// register for a session ID and receive every message appended by a turn on
// that session.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan tasks.Message // sessionID -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan tasks.Message),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for messages on sessionID. It returns the
// receive channel and a subscription ID. The subscription is removed when
// ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, sessionID string) (<-chan tasks.Message, string) {
	subID := uuid.New().String()
	ch := make(chan tasks.Message, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[sessionID]; !ok {
		b.subscribers[sessionID] = make(map[string]chan tasks.Message)
	}
	b.subscribers[sessionID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "session_id", sessionID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(sessionID, subID)
	}()

	return ch, subID
}

// Publish sends msgs to all subscribers of sessionID except excludeSubID.
// Non-blocking: messages are dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(sessionID string, excludeSubID string, msgs ...tasks.Message) {
	// Sends happen under the read lock so Unsubscribe never closes a
	// channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers[sessionID] {
		if excludeSubID != "" && id == excludeSubID {
			continue
		}
		for _, msg := range msgs {
			select {
			case ch <- msg:
			default:
				b.logger.Debug("dropped message for slow subscriber",
					"session_id", sessionID,
					"sub_id", id,
					"message_id", msg.ID)
			}
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(sessionID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[sessionID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, sessionID)
	}

	b.logger.Debug("subscriber removed", "session_id", sessionID, "sub_id", subID)
}

// SubscriberCount returns the number of live subscriptions on sessionID.
func (b *Broadcaster) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[sessionID])
}

// Close closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sessionID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, sessionID)
	}

	b.logger.Debug("broadcaster closed")
}
