// ABOUTME: Best-effort persistence of completed turns into the conversation store
// ABOUTME: Caches session-to-conversation IDs in ristretto so repeat turns skip the lookup

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/2389/xeno-gateway/internal/store"
	"github.com/2389/xeno-gateway/internal/tasks"
)

// ErrNoSession is returned by RecordTurn when there is no session to key
// the conversation on.
var ErrNoSession = errors.New("no session id to record under")

const defaultTitleLayout = "2006-01-02 15:04:05"

// Recorder writes turns to a ConversationStore.
type Recorder struct {
	store  store.ConversationStore
	cache  *ristretto.Cache
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder creates a Recorder over st.
func NewRecorder(st store.ConversationStore, logger *slog.Logger) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        100_000,
		MaxCost:            10_000,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating conversation id cache: %w", err)
	}

	return &Recorder{
		store:  st,
		cache:  cache,
		logger: logger.With("component", "recorder"),
		now:    time.Now,
	}, nil
}

// Close releases the cache.
func (r *Recorder) Close() {
	r.cache.Close()
}

// RecordTurn persists the query and its response under the session's
// conversation. The query is kept even when the response fails to save;
// every failure is joined into the returned error.
func (r *Recorder) RecordTurn(ctx context.Context, query, response tasks.Message, sessionID, userID string) error {
	if sessionID == "" {
		return ErrNoSession
	}
	if userID == "" {
		userID = store.AnonymousUser
	}

	convID, cached, err := r.conversationID(ctx, sessionID, userID)
	if err != nil {
		return fmt.Errorf("resolving conversation: %w", err)
	}

	queryErr := r.append(ctx, &convID, cached, sessionID, userID, query.Content, true, "")
	if queryErr != nil {
		queryErr = fmt.Errorf("recording query %s: %w", query.ID, queryErr)
	}
	// A successful query append re-validated the cached ID.
	cached = cached && queryErr != nil

	respErr := r.append(ctx, &convID, cached, sessionID, userID, response.Content, false, response.From)
	if respErr != nil {
		respErr = fmt.Errorf("recording response %s: %w", response.ID, respErr)
	}

	if err := errors.Join(queryErr, respErr); err != nil {
		return err
	}

	r.logger.Debug("turn recorded",
		"conversation_id", convID,
		"query_id", query.ID,
		"response_id", response.ID)
	return nil
}

// append writes one message. When the conversation ID came from the cache
// and the store no longer knows it, the entry is dropped and the
// conversation re-resolved once.
func (r *Recorder) append(ctx context.Context, convID *string, cached bool, sessionID, userID, content string, isUser bool, role string) error {
	err := r.store.AppendMessage(ctx, *convID, content, isUser, role)
	if err == nil || !cached || !errors.Is(err, store.ErrNotFound) {
		return err
	}

	r.logger.Debug("cached conversation vanished, re-resolving", "session_id", sessionID)
	r.cache.Del(sessionID)
	id, _, err := r.conversationID(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	*convID = id
	return r.store.AppendMessage(ctx, id, content, isUser, role)
}

// conversationID returns the conversation for sessionID and whether it
// came from the cache.
func (r *Recorder) conversationID(ctx context.Context, sessionID, userID string) (string, bool, error) {
	if v, ok := r.cache.Get(sessionID); ok {
		if id, ok := v.(string); ok {
			return id, true, nil
		}
	}

	title := "Conversation " + r.now().Format(defaultTitleLayout)
	id, err := r.store.FindOrCreateConversation(ctx, sessionID, userID, title)
	if err != nil {
		return "", false, err
	}

	r.cache.Set(sessionID, id, 1)
	r.cache.Wait()
	return id, false, nil
}
