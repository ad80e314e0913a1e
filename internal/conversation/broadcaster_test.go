// ABOUTME: Tests for Broadcaster fan-out pub/sub of turn messages
// ABOUTME: Covers subscribe, publish, exclusion, unsubscribe, context cancellation, concurrency

package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/xeno-gateway/internal/tasks"
)

func makeMessage(id, sessionID string) tasks.Message {
	return tasks.Message{
		ID:        id,
		Kind:      tasks.KindQuery,
		From:      tasks.AddressUser,
		To:        "planner",
		Content:   "hello from " + id,
		TaskID:    sessionID,
		CreatedAt: time.Now(),
	}
}

func TestBroadcaster_SingleSubscriberReceivesMessage(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), "s1")

	b.Publish("s1", "", makeMessage("m-1", "s1"))

	select {
	case received := <-ch:
		assert.Equal(t, "m-1", received.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestBroadcaster_PublishKeepsOrder(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), "s1")

	b.Publish("s1", "", makeMessage("q", "s1"), makeMessage("r", "s1"))

	for _, want := range []string{"q", "r"} {
		select {
		case received := <-ch:
			assert.Equal(t, want, received.ID)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestBroadcaster_MultipleSubscribersReceiveSameMessage(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()
	ch1, _ := b.Subscribe(ctx, "s1")
	ch2, _ := b.Subscribe(ctx, "s1")
	ch3, _ := b.Subscribe(ctx, "s1")

	b.Publish("s1", "", makeMessage("m-2", "s1"))

	for i, ch := range []<-chan tasks.Message{ch1, ch2, ch3} {
		select {
		case received := <-ch:
			assert.Equal(t, "m-2", received.ID, "subscriber %d got wrong message", i)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestBroadcaster_DifferentSessionsAreIsolated(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()
	ch1, _ := b.Subscribe(ctx, "s1")
	ch2, _ := b.Subscribe(ctx, "s2")

	b.Publish("s1", "", makeMessage("m-3", "s1"))

	select {
	case received := <-ch1:
		assert.Equal(t, "m-3", received.ID)
	case <-time.After(time.Second):
		t.Fatal("subscriber for s1 timed out")
	}

	select {
	case <-ch2:
		t.Fatal("subscriber for s2 should not receive messages for s1")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBroadcaster_ExcludeSubIDSkipsOriginator(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()
	ch1, subID1 := b.Subscribe(ctx, "s1")
	ch2, _ := b.Subscribe(ctx, "s1")

	b.Publish("s1", subID1, makeMessage("m-4", "s1"))

	select {
	case <-ch1:
		t.Fatal("excluded subscriber should not receive the message")
	case <-time.After(100 * time.Millisecond):
	}

	select {
	case received := <-ch2:
		assert.Equal(t, "m-4", received.ID)
	case <-time.After(time.Second):
		t.Fatal("non-excluded subscriber timed out")
	}
}

func TestBroadcaster_SlowConsumerDoesNotBlockPublisher(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()
	// Never read from the first subscriber
	_, _ = b.Subscribe(ctx, "s1")
	ch2, _ := b.Subscribe(ctx, "s1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 2 * subscriberBufferSize {
			b.Publish("s1", "", makeMessage("overflow", "s1"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a full subscriber")
	}
	assert.Len(t, ch2, subscriberBufferSize)
}

func TestBroadcaster_ContextCancellationCleansUp(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "s1")
	assert.Equal(t, 1, b.SubscriberCount("s1"))

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after context cancel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}
	assert.Zero(t, b.SubscriberCount("s1"))
}

func TestBroadcaster_ManualUnsubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, subID := b.Subscribe(t.Context(), "s1")
	b.Unsubscribe("s1", subID)

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after unsubscribe")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}

	// Publishing and a second unsubscribe should not panic
	b.Publish("s1", "", makeMessage("after-unsub", "s1"))
	b.Unsubscribe("s1", subID)
}

func TestBroadcaster_CloseClosesAllSubscriptions(t *testing.T) {
	b := NewBroadcaster(nil)

	ch1, _ := b.Subscribe(t.Context(), "s1")
	ch2, _ := b.Subscribe(t.Context(), "s2")

	b.Close()

	for i, ch := range []<-chan tasks.Message{ch1, ch2} {
		select {
		case _, ok := <-ch:
			assert.False(t, ok, "channel %d should be closed after Close()", i)
		case <-time.After(time.Second):
			t.Fatalf("channel %d not closed after Close()", i)
		}
	}
}

func TestBroadcaster_ConcurrentPublishSubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(t.Context())

	for range 10 {
		wg.Go(func() {
			ch, _ := b.Subscribe(ctx, "shared")
			for range 5 {
				select {
				case <-ch:
				case <-time.After(500 * time.Millisecond):
					return
				}
			}
		})
	}

	for range 10 {
		wg.Go(func() {
			for range 10 {
				b.Publish("shared", "", makeMessage("concurrent", "shared"))
			}
		})
	}

	// Cancellation races with publishers on purpose
	cancel()
	wg.Wait()
}

func TestBroadcaster_SubscribeReturnsUniqueIDs(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()
	_, id1 := b.Subscribe(ctx, "s1")
	_, id2 := b.Subscribe(ctx, "s1")
	_, id3 := b.Subscribe(ctx, "s2")

	require.NotEqual(t, id1, id2)
	require.NotEqual(t, id1, id3)
	require.NotEqual(t, id2, id3)
}
