package boardstate

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/todo-1m/board/internal/contracts"
)

func sampleTask(id string, status contracts.Status, created time.Time) contracts.Task {
	return contracts.Task{
		ID:         id,
		Title:      "task " + id,
		Status:     status,
		Priority:   contracts.PriorityMedium,
		AssignedTo: &contracts.User{ID: "u1", Email: "alice@example.com"},
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func TestStore_UpsertReplacesWholeRecord(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	s.Upsert(sampleTask("t1", contracts.StatusTodo, base))

	next := contracts.Task{ID: "t1", Title: "renamed", Status: contracts.StatusDone}
	s.Upsert(next)

	got, ok := s.Get("t1")
	require.True(t, ok)
	if diff := cmp.Diff(next, got); diff != "" {
		t.Fatalf("upsert merged fields (-want +got):\n%s", diff)
	}
}

func TestStore_UpsertIsIdempotent(t *testing.T) {
	s := NewStore()
	task := sampleTask("t1", contracts.StatusTodo, time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC))

	s.Upsert(task)
	once := s.List()
	s.Upsert(task)
	twice := s.List()

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Fatalf("second upsert changed the store (-once +twice):\n%s", diff)
	}
	assert.Equal(t, 1, s.Len())
}

func TestStore_RemoveAbsentIsNoop(t *testing.T) {
	s := NewStore()
	calls := 0
	s.OnChange(func() { calls++ })

	assert.False(t, s.Remove("missing"))
	assert.Equal(t, 0, calls)
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := NewStore()
	s.Upsert(sampleTask("t1", contracts.StatusTodo, time.Now()))

	got, _ := s.Get("t1")
	got.AssignedTo.Email = "mallory@example.com"

	again, _ := s.Get("t1")
	assert.Equal(t, "alice@example.com", again.AssignedTo.Email)
}

func TestStore_OnChangeFiresForEveryMutation(t *testing.T) {
	s := NewStore()
	calls := 0
	unsubscribe := s.OnChange(func() { calls++ })

	s.Upsert(sampleTask("t1", contracts.StatusTodo, time.Now()))
	s.Remove("t1")
	s.ReplaceAll(nil)
	assert.Equal(t, 3, calls)

	unsubscribe()
	s.Upsert(sampleTask("t2", contracts.StatusTodo, time.Now()))
	assert.Equal(t, 3, calls)
}

func TestStore_ReplaceAll(t *testing.T) {
	s := NewStore()
	s.Upsert(sampleTask("old", contracts.StatusTodo, time.Now()))
	s.ReplaceAll([]contracts.Task{
		sampleTask("a", contracts.StatusTodo, time.Now()),
		sampleTask("b", contracts.StatusDone, time.Now()),
	})

	_, hasOld := s.Get("old")
	assert.False(t, hasOld)
	assert.Equal(t, 2, s.Len())
}
