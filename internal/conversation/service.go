// ABOUTME: Service is the orchestrator that turns one inbound message into one lead-agent reply
// ABOUTME: Resolves the session task, builds the persona prompt, generates, records, and publishes

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/2389/xeno-gateway/internal/generation"
	"github.com/2389/xeno-gateway/internal/profiles"
	"github.com/2389/xeno-gateway/internal/store"
	"github.com/2389/xeno-gateway/internal/tasks"
)

// Defaults for tasks created from chat traffic.
const (
	DefaultGoal        = "Provide helpful and accurate responses"
	DefaultContext     = "Conversation with user"
	DefaultDescription = "User conversation"

	defaultPersistTimeout = 5 * time.Second
)

// Generator produces reply text. *generation.Gateway satisfies it.
type Generator interface {
	Generate(ctx context.Context, req *generation.Request) generation.Result
}

// ConversationStore defines what the service needs from storage
type ConversationStore interface {
	ListMessages(ctx context.Context, sessionID string, limit int, before *time.Time) ([]*store.Message, error)
	ListConversations(ctx context.Context, userID string, limit, offset int) ([]*store.ConversationSummary, error)
	CreateConversation(ctx context.Context, title, userID string) (*store.Conversation, error)
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
}

// TurnRecorder persists completed turns. *Recorder satisfies it.
type TurnRecorder interface {
	RecordTurn(ctx context.Context, query, response tasks.Message, sessionID, userID string) error
}

// Options wire a Service. Tasks, Profiles and Generator are required.
type Options struct {
	Tasks       tasks.Store
	Profiles    *profiles.Registry
	Generator   Generator
	Recorder    TurnRecorder      // nil disables persistence
	Store       ConversationStore // nil disables history reads
	Broadcaster *Broadcaster      // nil disables fan-out
	Logger      *slog.Logger

	// PersistTimeout bounds RecordTurn. It runs on a context detached
	// from the caller's cancellation.
	PersistTimeout time.Duration
}

// Service is the orchestrator.
type Service struct {
	tasks          tasks.Store
	profiles       *profiles.Registry
	generator      Generator
	recorder       TurnRecorder
	store          ConversationStore
	broadcaster    *Broadcaster
	persistTimeout time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

// New creates a Service.
func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.PersistTimeout
	if timeout <= 0 {
		timeout = defaultPersistTimeout
	}
	return &Service{
		tasks:          opts.Tasks,
		profiles:       opts.Profiles,
		generator:      opts.Generator,
		recorder:       opts.Recorder,
		store:          opts.Store,
		broadcaster:    opts.Broadcaster,
		persistTimeout: timeout,
		logger:         logger.With("component", "conversation"),
		now:            time.Now,
	}
}

// Inbound is one user message.
type Inbound struct {
	Content   string
	SessionID string // optional; reuses the session's task when set
	UserID    string // optional

	// OriginSubID is the broadcaster subscription of the sending client,
	// which is skipped when the turn is published.
	OriginSubID string
}

// Outbound is the reply to an Inbound.
type Outbound struct {
	Message   string `json:"message"`
	TaskID    string `json:"taskId"`
	MessageID string `json:"messageId"`
	Timestamp string `json:"timestamp"` // RFC 3339
	LeadRole  string `json:"agent"`

	// Degraded is true when the text came from the fallback path.
	Degraded bool `json:"degraded"`
	// Durable is false when the turn was not persisted.
	Durable bool `json:"durable"`
}

// turnOutcome is what runTurn hands back to HandleInbound.
type turnOutcome struct {
	query    tasks.Message
	reply    tasks.Message
	degraded bool
	durable  bool
}

// HandleInbound runs one turn: append the query, have the lead persona
// answer, mark the task completed, and record the exchange. It returns a
// *TurnError for invalid input or when the turn could not produce a reply.
func (s *Service) HandleInbound(ctx context.Context, in Inbound) (*Outbound, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, &TurnError{Code: 400, Message: msgContentRequired, Err: ErrInvalidInput}
	}

	task := s.resolveTask(in)

	task.Lock()
	outcome, err := s.runTurn(ctx, task, content)
	if err == nil {
		outcome.durable = s.record(ctx, task, outcome)
	}
	s.tasks.Put(task)
	task.Unlock()

	if s.broadcaster != nil && task.SessionID != "" {
		s.broadcaster.Publish(task.SessionID, in.OriginSubID, outcome.published()...)
	}

	if err != nil {
		return nil, err
	}

	s.logger.Info("turn completed",
		"task_id", task.ID,
		"lead", outcome.reply.From,
		"degraded", outcome.degraded,
		"durable", outcome.durable)

	return &Outbound{
		Message:   outcome.reply.Content,
		TaskID:    task.ID,
		MessageID: outcome.reply.ID,
		Timestamp: outcome.reply.CreatedAt.UTC().Format(time.RFC3339Nano),
		LeadRole:  outcome.reply.From,
		Degraded:  outcome.degraded,
		Durable:   outcome.durable,
	}, nil
}

// published returns the messages a turn appended, in order.
func (o turnOutcome) published() []tasks.Message {
	var msgs []tasks.Message
	if o.query.ID != "" {
		msgs = append(msgs, o.query)
	}
	if o.reply.ID != "" {
		msgs = append(msgs, o.reply)
	}
	return msgs
}

func (s *Service) resolveTask(in Inbound) *tasks.Task {
	opts := tasks.CreateOptions{
		Title:       "Conversation " + s.now().Format(defaultTitleLayout),
		Description: DefaultDescription,
		Goal:        DefaultGoal,
		Context:     DefaultContext,
		LeadRole:    tasks.DefaultLead,
		SessionID:   in.SessionID,
		UserID:      in.UserID,
	}

	if in.SessionID == "" {
		return s.tasks.Create(opts)
	}

	task, created := s.tasks.GetOrCreate(in.SessionID, opts)
	if created {
		s.logger.Debug("task created for session", "task_id", task.ID, "user_id", in.UserID)
	}
	return task
}

// runTurn performs the turn on a locked task. Panics are converted into
// the failed-turn path.
func (s *Service) runTurn(ctx context.Context, task *tasks.Task, content string) (outcome turnOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("turn panicked", "task_id", task.ID, "panic", r)
			outcome.reply, err = s.failTurn(task, outcome.query.ID, fmt.Errorf("%w: %v", ErrTurnPanic, r))
		}
	}()

	lead := task.LeadRole
	outcome.query, err = task.Append(tasks.KindQuery, tasks.AddressUser, string(lead), content, "")
	if err != nil {
		outcome.reply, err = s.failTurn(task, "", fmt.Errorf("appending query: %w", err))
		return outcome, err
	}

	profile, ok := s.profiles.Lookup(lead)
	if !ok {
		outcome.reply, err = s.failTurn(task, outcome.query.ID, fmt.Errorf("%w: %s", ErrProfileMissing, lead))
		return outcome, err
	}

	req := &generation.Request{
		SystemPrompt:       SystemPrompt(task.Goal, profile),
		History:            History(task.Recent(generation.MaxHistory)),
		Params:             profile.Params,
		Persona:            string(profile.Role),
		PersonaDescription: profile.Description,
	}
	res := s.generator.Generate(ctx, req)

	meta := map[string]string{"degraded": strconv.FormatBool(res.Degraded)}
	if res.Provider != "" {
		meta["provider"] = res.Provider
	}
	outcome.reply, err = task.AppendWithMetadata(tasks.KindResponse, string(lead), tasks.AddressUser,
		res.Text, outcome.query.ID, meta)
	if err != nil {
		outcome.reply, err = s.failTurn(task, outcome.query.ID, fmt.Errorf("appending response: %w", err))
		return outcome, err
	}
	outcome.degraded = res.Degraded

	task.Complete()
	return outcome, nil
}

// failTurn marks the task failed, tells the user, and returns the declared
// error. replyTo may be empty when the query itself could not be appended.
func (s *Service) failTurn(task *tasks.Task, replyTo string, cause error) (tasks.Message, error) {
	task.Fail()

	msg, err := task.Append(tasks.KindError, string(task.LeadRole), tasks.AddressUser, msgTurnFailed, replyTo)
	if err != nil {
		s.logger.Error("failed to append error message", "task_id", task.ID, "error", err)
	}

	s.logger.Error("turn failed", "task_id", task.ID, "lead", task.LeadRole, "error", cause)
	return msg, &TurnError{
		Code:    500,
		Message: msgTurnFailed,
		TaskID:  task.ID,
		Err:     cause,
	}
}

// record persists the turn and reports whether it is durable.
func (s *Service) record(ctx context.Context, task *tasks.Task, outcome turnOutcome) bool {
	if s.recorder == nil {
		return false
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()

	if err := s.recorder.RecordTurn(persistCtx, outcome.query, outcome.reply, task.SessionID, task.UserID); err != nil {
		s.logger.Warn("turn not persisted",
			"task_id", task.ID,
			"session_id", task.SessionID,
			"error", err)
		return false
	}
	return true
}

// Task returns a snapshot of the task with id.
func (s *Service) Task(id string) (tasks.Snapshot, bool) {
	task, ok := s.tasks.Get(id)
	if !ok {
		return tasks.Snapshot{}, false
	}
	task.Lock()
	defer task.Unlock()
	return task.Snapshot(), true
}

// TaskCount returns the number of live tasks.
func (s *Service) TaskCount() int {
	return s.tasks.Len()
}

// History returns persisted messages for a session, newest first.
func (s *Service) History(ctx context.Context, sessionID string, limit int, before *time.Time) ([]*store.Message, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	msgs, err := s.store.ListMessages(ctx, sessionID, limit, before)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return msgs, nil
}

// Conversation returns the persisted conversation with id. It wraps
// store.ErrNotFound when there is none.
func (s *Service) Conversation(ctx context.Context, id string) (*store.Conversation, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting conversation: %w", err)
	}
	return conv, nil
}

// Conversations returns a user's conversations, most recent first.
func (s *Service) Conversations(ctx context.Context, userID string, limit, offset int) ([]*store.ConversationSummary, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	convs, err := s.store.ListConversations(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	return convs, nil
}

// CreateConversation creates an empty titled conversation.
func (s *Service) CreateConversation(ctx context.Context, title, userID string) (*store.Conversation, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	if strings.TrimSpace(title) == "" {
		return nil, &TurnError{Code: 400, Message: "Conversation title is required", Err: ErrInvalidInput}
	}
	conv, err := s.store.CreateConversation(ctx, title, userID)
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	return conv, nil
}

// SystemPrompt assembles the lead persona's system instruction.
func SystemPrompt(goal string, p profiles.Profile) string {
	var b strings.Builder
	if goal != "" {
		fmt.Fprintf(&b, "Task: %s\n\n", goal)
	}
	fmt.Fprintf(&b, "You are %s, an AI assistant specialized in %s.\n\n", p.Role, p.Description)
	if p.Instructions != "" {
		b.WriteString(p.Instructions)
		b.WriteString("\n\n")
	}
	b.WriteString("Respond to the user's message in a helpful, accurate, and engaging way.")
	return b.String()
}

// History maps task messages onto generation turns: user-authored messages
// become user turns, everything else assistant turns.
func History(msgs []tasks.Message) []generation.Turn {
	turns := make([]generation.Turn, 0, len(msgs))
	for _, m := range msgs {
		role := generation.SpeakerAssistant
		if m.FromUser() {
			role = generation.SpeakerUser
		}
		turns = append(turns, generation.Turn{Role: role, Content: m.Content})
	}
	return turns
}
