// Package boardstate holds the client's local view of the board: the task
// cache, the activity feed, the assignee directory and the column projection.
//
// Every container is safe for concurrent reads. Writes are expected to come
// from the sync engine's loop only.
package boardstate

import (
	"sync"

	"github.com/todo-1m/board/internal/contracts"
)

// Store is the local cache of task records keyed by identifier. It performs no
// validation and no merging: Upsert replaces the whole record.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]contracts.Task

	listenersMu sync.Mutex
	listeners   map[int]func()
	nextID      int
}

func NewStore() *Store {
	return &Store{
		tasks:     map[string]contracts.Task{},
		listeners: map[int]func(){},
	}
}

func (s *Store) Get(id string) (contracts.Task, bool) {
	s.mu.RLock()
	t, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok {
		return contracts.Task{}, false
	}
	return cloneTask(t), true
}

func (s *Store) Upsert(task contracts.Task) {
	s.mu.Lock()
	s.tasks[task.ID] = cloneTask(task)
	s.mu.Unlock()
	s.notify()
}

// Remove deletes id and reports whether it was present. Removing an absent id
// is a no-op and does not notify listeners.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	_, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
	}
	s.mu.Unlock()
	if ok {
		s.notify()
	}
	return ok
}

// ReplaceAll swaps the whole cache for tasks, as after a full refresh.
func (s *Store) ReplaceAll(tasks []contracts.Task) {
	next := make(map[string]contracts.Task, len(tasks))
	for _, t := range tasks {
		next[t.ID] = cloneTask(t)
	}
	s.mu.Lock()
	s.tasks = next
	s.mu.Unlock()
	s.notify()
}

// List returns a snapshot in no particular order.
func (s *Store) List() []contracts.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contracts.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, cloneTask(t))
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// OnChange registers fn to run after every mutating call. The returned func
// unregisters it.
func (s *Store) OnChange(fn func()) func() {
	s.listenersMu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *Store) notify() {
	s.listenersMu.Lock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func cloneTask(t contracts.Task) contracts.Task {
	if t.AssignedTo != nil {
		u := *t.AssignedTo
		t.AssignedTo = &u
	}
	return t
}
