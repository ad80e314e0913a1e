// ABOUTME: Tests for tasks, messages and the in-memory task store
// ABOUTME: Covers participant defaults, reply integrity, status transitions and eviction

package tasks

import (
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/xeno-gateway/internal/profiles"
)

func TestCreate_Defaults(t *testing.T) {
	s := NewMemoryStore(StoreOptions{})

	task := s.Create(CreateOptions{Title: "t"})

	assert.Regexp(t, regexp.MustCompile(`^task_\d+_[0-9a-f]{9}$`), task.ID)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, profiles.RolePlanner, task.LeadRole)
	assert.Equal(t, []profiles.Role{
		profiles.RolePlanner,
		profiles.RoleResearcher,
		profiles.RoleAnalyst,
		profiles.RoleCreator,
		profiles.RoleCritic,
	}, task.Participants)
	assert.Empty(t, task.Messages)
	assert.Nil(t, task.EndedAt)
	assert.Equal(t, 1, s.Len())
}

func TestCreate_SessionIDBecomesTaskID(t *testing.T) {
	s := NewMemoryStore(StoreOptions{})

	task := s.Create(CreateOptions{SessionID: "s1", UserID: "u1"})

	assert.Equal(t, "s1", task.ID)
	assert.Equal(t, "u1", task.UserID)
	got, ok := s.Get("s1")
	require.True(t, ok)
	assert.Same(t, task, got)
}

func TestNormalizeParticipants(t *testing.T) {
	tests := []struct {
		name         string
		lead         profiles.Role
		participants []profiles.Role
		wantLead     profiles.Role
		want         []profiles.Role
	}{
		{
			name: "lead already among participants moves first",
			lead: profiles.RoleCritic,
			participants: []profiles.Role{
				profiles.RoleAnalyst, profiles.RoleCritic, profiles.RoleCreator,
			},
			wantLead: profiles.RoleCritic,
			want:     []profiles.Role{profiles.RoleCritic, profiles.RoleAnalyst, profiles.RoleCreator},
		},
		{
			name:         "duplicates and blanks removed",
			lead:         profiles.RoleTeacher,
			participants: []profiles.Role{profiles.RoleAnalyst, "", profiles.RoleAnalyst},
			wantLead:     profiles.RoleTeacher,
			want:         []profiles.Role{profiles.RoleTeacher, profiles.RoleAnalyst},
		},
		{
			name:         "default lead with custom participants",
			participants: []profiles.Role{profiles.RolePlanner, profiles.RoleExecutor},
			wantLead:     profiles.RolePlanner,
			want:         []profiles.Role{profiles.RolePlanner, profiles.RoleExecutor},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lead, got := normalizeParticipants(tt.lead, tt.participants)
			assert.Equal(t, tt.wantLead, lead)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, lead, got[0])
		})
	}
}

func TestNormalizeParticipants_DoesNotAliasDefaults(t *testing.T) {
	_, got := normalizeParticipants("", nil)
	got[1] = profiles.RoleMediator
	assert.Equal(t, profiles.RoleResearcher, DefaultParticipants[0])
}

func TestAppend(t *testing.T) {
	s := NewMemoryStore(StoreOptions{})
	task := s.Create(CreateOptions{SessionID: "s1"})

	q, err := task.Append(KindQuery, AddressUser, "planner", "hello", "")
	require.NoError(t, err)
	r, err := task.Append(KindResponse, "planner", AddressUser, "hi", q.ID)
	require.NoError(t, err)

	assert.Equal(t, "s1", q.TaskID)
	assert.Equal(t, q.ID, r.ReplyTo)
	assert.True(t, q.FromUser())
	assert.False(t, r.FromUser())
	assert.Less(t, q.ID, r.ID, "UUIDv7 ids sort in creation order")
	require.Len(t, task.Messages, 2)

	_, err = task.Append(KindResponse, "planner", AddressUser, "orphan", "missing-id")
	assert.ErrorIs(t, err, ErrUnknownReplyTo)
	assert.Len(t, task.Messages, 2)
}

func TestAppend_MetadataIsCopied(t *testing.T) {
	task := NewMemoryStore(StoreOptions{}).Create(CreateOptions{})
	meta := map[string]string{"provider": "openai"}

	msg, err := task.AppendWithMetadata(KindMeta, "planner", AddressAll, "note", "", meta)
	require.NoError(t, err)

	meta["provider"] = "changed"
	msg.Metadata["provider"] = "changed too"
	assert.Equal(t, "openai", task.Messages[0].Metadata["provider"])
}

func TestRecent(t *testing.T) {
	task := NewMemoryStore(StoreOptions{}).Create(CreateOptions{})
	for _, c := range []string{"a", "b", "c", "d"} {
		_, err := task.Append(KindQuery, AddressUser, "planner", c, "")
		require.NoError(t, err)
	}

	recent := task.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].Content)
	assert.Equal(t, "d", recent[1].Content)
	assert.Len(t, task.Recent(0), 4)
	assert.Len(t, task.Recent(10), 4)
}

func TestStatusTransitions(t *testing.T) {
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	task := NewMemoryStore(StoreOptions{Now: func() time.Time { return fixed }}).Create(CreateOptions{})

	task.Activate()
	assert.Equal(t, StatusActive, task.Status)
	assert.False(t, task.Status.Terminal())

	task.Complete()
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Equal(t, 100, task.Progress)
	require.NotNil(t, task.EndedAt)
	assert.Equal(t, fixed, *task.EndedAt)
	assert.True(t, task.Status.Terminal())

	task.Fail()
	assert.Equal(t, StatusFailed, task.Status)

	task.Activate()
	assert.Nil(t, task.EndedAt)
}

func TestSnapshot_IsDetached(t *testing.T) {
	task := NewMemoryStore(StoreOptions{}).Create(CreateOptions{SessionID: "s1"})
	_, err := task.Append(KindQuery, AddressUser, "planner", "hello", "")
	require.NoError(t, err)
	task.Complete()

	snap := task.Snapshot()
	snap.Participants[0] = profiles.RoleCritic
	snap.Messages[0].Content = "mutated"
	*snap.EndedAt = time.Time{}

	assert.Equal(t, profiles.RolePlanner, task.Participants[0])
	assert.Equal(t, "hello", task.Messages[0].Content)
	assert.False(t, task.EndedAt.IsZero())
}

func TestGetOrCreate(t *testing.T) {
	s := NewMemoryStore(StoreOptions{})

	first, created := s.GetOrCreate("s1", CreateOptions{UserID: "u1"})
	require.True(t, created)
	assert.Equal(t, "s1", first.ID)
	assert.Equal(t, "s1", first.SessionID)

	second, created := s.GetOrCreate("s1", CreateOptions{UserID: "other"})
	assert.False(t, created)
	assert.Same(t, first, second)
	assert.Equal(t, "u1", second.UserID)
}

func TestGetOrCreate_ConcurrentCallersShareTask(t *testing.T) {
	s := NewMemoryStore(StoreOptions{})

	const workers = 32
	results := make([]*Task, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = s.GetOrCreate("race", CreateOptions{})
		}()
	}
	wg.Wait()

	for _, task := range results {
		assert.Same(t, results[0], task)
	}
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_CapacityEvictsLeastRecent(t *testing.T) {
	s := NewMemoryStore(StoreOptions{Capacity: 2})

	s.Create(CreateOptions{SessionID: "a"})
	s.Create(CreateOptions{SessionID: "b"})
	_, _ = s.Get("a")
	s.Create(CreateOptions{SessionID: "c"})

	_, okA := s.Get("a")
	_, okB := s.Get("b")
	_, okC := s.Get("c")
	assert.True(t, okA)
	assert.False(t, okB)
	assert.True(t, okC)
	assert.Equal(t, 2, s.Len())
}

func TestMemoryStore_TTLExpires(t *testing.T) {
	s := NewMemoryStore(StoreOptions{TTL: 30 * time.Millisecond})
	s.Create(CreateOptions{SessionID: "short"})

	_, ok := s.Get("short")
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok := s.Get("short")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestPut_StaleTaskDoesNotReplaceNewer(t *testing.T) {
	s := NewMemoryStore(StoreOptions{Capacity: 1})

	old, created := s.GetOrCreate("a", CreateOptions{})
	require.True(t, created)
	_, err := old.Append(KindQuery, AddressUser, "planner", "first", "")
	require.NoError(t, err)

	s.GetOrCreate("b", CreateOptions{})
	replacement, created := s.GetOrCreate("a", CreateOptions{})
	require.True(t, created)
	require.NotSame(t, old, replacement)
	_, err = replacement.Append(KindQuery, AddressUser, "planner", "second", "")
	require.NoError(t, err)
	_, err = replacement.Append(KindQuery, AddressUser, "planner", "third", "")
	require.NoError(t, err)
	s.Put(replacement)

	s.Put(old)

	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Same(t, replacement, got)
	assert.Len(t, got.Messages, 2)
}

func TestPut_RestoresEvictedTask(t *testing.T) {
	s := NewMemoryStore(StoreOptions{Capacity: 1})
	task := s.Create(CreateOptions{SessionID: "a"})
	s.Create(CreateOptions{SessionID: "b"})

	_, ok := s.Get("a")
	require.False(t, ok)

	s.Put(task)
	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Same(t, task, got)
}

func TestTaskLockSerializesTurns(t *testing.T) {
	s := NewMemoryStore(StoreOptions{})
	task := s.Create(CreateOptions{SessionID: "s1"})

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task.Lock()
			defer task.Unlock()
			q, err := task.Append(KindQuery, AddressUser, "planner", "q", "")
			if err != nil {
				return
			}
			_, _ = task.Append(KindResponse, "planner", AddressUser, "r", q.ID)
		}()
	}
	wg.Wait()

	require.Len(t, task.Messages, 40)
	for i := 0; i < len(task.Messages); i += 2 {
		assert.Equal(t, task.Messages[i].ID, task.Messages[i+1].ReplyTo)
	}
}
