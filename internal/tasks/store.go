// ABOUTME: Task Store interface and the bounded, expiring in-memory implementation
// ABOUTME: GetOrCreate coalesces concurrent creators so one session never forks into two tasks

package tasks

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/2389/xeno-gateway/internal/profiles"
)

// DefaultLead is the lead role when none is requested.
const DefaultLead = profiles.RolePlanner

// DefaultParticipants are the supporting roles when none are requested.
var DefaultParticipants = []profiles.Role{
	profiles.RoleResearcher,
	profiles.RoleAnalyst,
	profiles.RoleCreator,
	profiles.RoleCritic,
}

// Store defaults.
const (
	DefaultCapacity = 1024
	DefaultTTL      = 24 * time.Hour
)

// CreateOptions describe a new task.
type CreateOptions struct {
	Title        string
	Description  string
	Goal         string
	Context      string
	LeadRole     profiles.Role
	Participants []profiles.Role
	SessionID    string
	UserID       string
}

// Store owns tasks.
type Store interface {
	Create(opts CreateOptions) *Task
	Get(id string) (*Task, bool)
	Put(task *Task)
	// GetOrCreate returns the task with id, creating it from opts when absent.
	// created is true when the task did not exist before the call.
	GetOrCreate(id string, opts CreateOptions) (task *Task, created bool)
	Len() int
}

// StoreOptions configure a MemoryStore.
type StoreOptions struct {
	// Capacity bounds the number of live tasks; least recently used tasks
	// are evicted first. Zero means DefaultCapacity.
	Capacity int
	// TTL evicts tasks not Put for this long. Zero disables time eviction.
	TTL    time.Duration
	Logger *slog.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// MemoryStore is an in-process Store backed by an expiring LRU.
type MemoryStore struct {
	// mu orders Put against Create so a stale task cannot replace a newer
	// one stored under the same ID.
	mu     sync.Mutex
	cache  *expirable.LRU[string, *Task]
	flight singleflight.Group
	logger *slog.Logger
	now    func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore.
func NewMemoryStore(opts StoreOptions) *MemoryStore {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &MemoryStore{
		logger: logger.With("component", "tasks"),
		now:    now,
	}
	s.cache = expirable.NewLRU[string, *Task](capacity, s.onEvict, opts.TTL)
	return s
}

func (s *MemoryStore) onEvict(id string, task *Task) {
	s.logger.Debug("task evicted", "task_id", id, "session_id", task.SessionID)
}

// Create builds a task from opts and stores it. The session ID becomes the
// task ID when present, replacing any task already stored under it.
func (s *MemoryStore) Create(opts CreateOptions) *Task {
	id := opts.SessionID
	if id == "" {
		id = s.newID()
	}
	task := s.build(id, opts)
	s.mu.Lock()
	s.cache.Add(id, task)
	s.mu.Unlock()

	s.logger.Debug("task created",
		"task_id", id,
		"lead", task.LeadRole,
		"participants", len(task.Participants))
	return task
}

// Get returns the task with id.
func (s *MemoryStore) Get(id string) (*Task, bool) {
	return s.cache.Get(id)
}

// Put stores task under its ID and restarts its TTL. A task that was
// evicted and since replaced by a newer task with the same ID is dropped.
func (s *MemoryStore) Put(task *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.cache.Peek(task.ID); ok && cur != task {
		s.logger.Warn("stale task not stored", "task_id", task.ID)
		return
	}
	s.cache.Add(task.ID, task)
}

// GetOrCreate returns the task with id or creates it. Concurrent callers
// for the same id share one creation; each of them observes created=true.
func (s *MemoryStore) GetOrCreate(id string, opts CreateOptions) (*Task, bool) {
	if task, ok := s.cache.Get(id); ok {
		return task, false
	}

	type outcome struct {
		task    *Task
		created bool
	}
	v, _, _ := s.flight.Do(id, func() (any, error) {
		if task, ok := s.cache.Get(id); ok {
			return outcome{task: task}, nil
		}
		opts.SessionID = id
		return outcome{task: s.Create(opts), created: true}, nil
	})
	out := v.(outcome)
	return out.task, out.created
}

// Len returns the number of live tasks.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

func (s *MemoryStore) build(id string, opts CreateOptions) *Task {
	lead, participants := normalizeParticipants(opts.LeadRole, opts.Participants)
	return &Task{
		ID:           id,
		Title:        opts.Title,
		Description:  opts.Description,
		Goal:         opts.Goal,
		Context:      opts.Context,
		Status:       StatusPending,
		StartedAt:    s.now(),
		LeadRole:     lead,
		Participants: participants,
		SessionID:    opts.SessionID,
		UserID:       opts.UserID,
		ids:          make(map[string]struct{}),
		now:          s.now,
	}
}

// newID returns task_<unix-millis>_<9 random base-16 chars>.
func (s *MemoryStore) newID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("task_%d_%s", s.now().UnixMilli(), suffix)
}

// normalizeParticipants applies defaults and puts lead first, exactly once.
func normalizeParticipants(lead profiles.Role, participants []profiles.Role) (profiles.Role, []profiles.Role) {
	if lead == "" {
		lead = DefaultLead
	}
	if len(participants) == 0 {
		participants = DefaultParticipants
	}

	out := make([]profiles.Role, 0, len(participants)+1)
	seen := map[profiles.Role]bool{lead: true}
	out = append(out, lead)
	for _, p := range participants {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return lead, out
}
