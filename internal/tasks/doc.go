// ABOUTME: Package tasks holds the in-memory collaboration tasks and their message logs
// ABOUTME: A task is keyed by session and owned by a bounded, expiring Store

// Package tasks models the unit of work behind a conversation session.
//
// # Overview
//
// A Task collects everything one session has said and produced: the user's
// queries, the lead agent's responses, and any error notices. Messages are
// append-only and carry time-sortable UUIDv7 identifiers, so the order of
// the Messages slice and the order of IDs agree.
//
// # Lifecycle
//
//	pending ──Activate──▶ active
//	   │                    │
//	   ├──Complete──▶ completed ◀──┤
//	   └──Fail──────▶ failed ◀─────┘
//
// A session spans many turns, so completed and failed describe the latest
// turn only. The next turn on the same task recomputes the status.
//
// # Participants
//
// The lead role is always Participants[0] and appears exactly once. When
// CreateOptions omit them, the lead defaults to planner and the other
// participants to researcher, analyst, creator and critic.
//
// # Concurrency
//
// A Task is not safe for concurrent mutation on its own. Callers take the
// task's lock (Task.Lock / Task.Unlock) for the duration of a turn, which
// serializes turns on the same session. Snapshot produces an independent
// copy that can be handed to other goroutines or encoded.
//
// # Store
//
// MemoryStore keeps tasks in a size-bounded LRU with an optional TTL. The
// TTL restarts every time a task is Put back. GetOrCreate coalesces
// concurrent creators of the same ID so two simultaneous first messages on
// one session share a single task.
//
// # Usage
//
//	store := tasks.NewMemoryStore(tasks.StoreOptions{Capacity: 1024, TTL: 24 * time.Hour})
//	task, created := store.GetOrCreate("s1", tasks.CreateOptions{SessionID: "s1"})
//	task.Lock()
//	q, _ := task.Append(tasks.KindQuery, "user", string(task.LeadRole), "hi", "")
//	task.Unlock()
package tasks
