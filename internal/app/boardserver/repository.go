package boardserver

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/todo-1m/board/internal/contracts"
)

var ErrTaskNotFound = errors.New("task not found")

// ErrStaleVersion is returned by ReplaceTask when the expected version does
// not match. The current record is returned alongside it.
var ErrStaleVersion = errors.New("stale version")

type Repository interface {
	EnsureSchema(ctx context.Context) error
	ListTasks(ctx context.Context) ([]contracts.Task, error)
	GetTask(ctx context.Context, id string) (contracts.Task, error)
	// TitleTaken reports whether another task already uses title, ignoring
	// case and the task exceptID.
	TitleTaken(ctx context.Context, title, exceptID string) (bool, error)
	InsertTask(ctx context.Context, task contracts.Task) error
	// ReplaceTask writes task when expected is nil or equals the stored
	// version. The new version is NextVersion(stored, now).
	ReplaceTask(ctx context.Context, task contracts.Task, expected *time.Time, now time.Time) (contracts.Task, error)
	DeleteTask(ctx context.Context, id string) (contracts.Task, error)
	// OpenTaskCounts counts tasks not yet Done per assignee id.
	OpenTaskCounts(ctx context.Context) (map[string]int, error)
	AppendActivity(ctx context.Context, entry contracts.ActivityLogEntry) error
	// ListActivity returns the newest entries first.
	ListActivity(ctx context.Context, limit int) ([]contracts.ActivityLogEntry, error)
}

// NextVersion is the version stamped on an accepted write: now at microsecond
// precision, nudged past prev so versions strictly increase.
func NextVersion(prev, now time.Time) time.Time {
	next := now.UTC().Truncate(time.Microsecond)
	if !next.After(prev) {
		next = prev.Add(time.Microsecond)
	}
	return next
}

type MemoryRepository struct {
	mu       sync.RWMutex
	tasks    map[string]contracts.Task
	activity []contracts.ActivityLogEntry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tasks: map[string]contracts.Task{}}
}

func (m *MemoryRepository) EnsureSchema(context.Context) error { return nil }

func (m *MemoryRepository) ListTasks(context.Context) ([]contracts.Task, error) {
	m.mu.RLock()
	out := make([]contracts.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, copyTask(t))
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepository) GetTask(_ context.Context, id string) (contracts.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return contracts.Task{}, ErrTaskNotFound
	}
	return copyTask(t), nil
}

func (m *MemoryRepository) TitleTaken(_ context.Context, title, exceptID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, t := range m.tasks {
		if id != exceptID && strings.EqualFold(t.Title, title) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryRepository) InsertTask(_ context.Context, task contracts.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = copyTask(task)
	return nil
}

func (m *MemoryRepository) ReplaceTask(_ context.Context, task contracts.Task, expected *time.Time, now time.Time) (contracts.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.tasks[task.ID]
	if !ok {
		return contracts.Task{}, ErrTaskNotFound
	}
	if expected != nil && !current.UpdatedAt.Equal(*expected) {
		return copyTask(current), ErrStaleVersion
	}
	task.CreatedAt = current.CreatedAt
	task.UpdatedAt = NextVersion(current.UpdatedAt, now)
	m.tasks[task.ID] = copyTask(task)
	return copyTask(task), nil
}

func (m *MemoryRepository) DeleteTask(_ context.Context, id string) (contracts.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return contracts.Task{}, ErrTaskNotFound
	}
	delete(m.tasks, id)
	return t, nil
}

func (m *MemoryRepository) OpenTaskCounts(context.Context) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := map[string]int{}
	for _, t := range m.tasks {
		if t.Status != contracts.StatusDone && t.AssignedTo != nil {
			counts[t.AssignedTo.ID]++
		}
	}
	return counts, nil
}

func (m *MemoryRepository) AppendActivity(_ context.Context, entry contracts.ActivityLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activity = append(m.activity, entry)
	return nil
}

func (m *MemoryRepository) ListActivity(_ context.Context, limit int) ([]contracts.ActivityLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]contracts.ActivityLogEntry, 0, limit)
	for i := len(m.activity) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.activity[i])
	}
	return out, nil
}

func copyTask(t contracts.Task) contracts.Task {
	if t.AssignedTo != nil {
		u := *t.AssignedTo
		t.AssignedTo = &u
	}
	return t
}
