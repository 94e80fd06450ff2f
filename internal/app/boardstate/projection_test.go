package boardstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/todo-1m/board/internal/contracts"
)

func taskIDs(tasks []contracts.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}

func TestProject_GroupsAndSortsNewestFirst(t *testing.T) {
	base := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	board := Project([]contracts.Task{
		sampleTask("old-todo", contracts.StatusTodo, base),
		sampleTask("new-todo", contracts.StatusTodo, base.Add(time.Hour)),
		sampleTask("wip", contracts.StatusInProgress, base),
		sampleTask("bogus", contracts.Status("Archived"), base),
	})

	require.Len(t, board.Columns, 3)
	assert.Equal(t, contracts.StatusTodo, board.Columns[0].Status)
	assert.Equal(t, contracts.StatusInProgress, board.Columns[1].Status)
	assert.Equal(t, contracts.StatusDone, board.Columns[2].Status)

	assert.Equal(t, []string{"new-todo", "old-todo"}, taskIDs(board.Column(contracts.StatusTodo).Tasks))
	assert.Equal(t, []string{"wip"}, taskIDs(board.Column(contracts.StatusInProgress).Tasks))
	assert.Empty(t, board.Column(contracts.StatusDone).Tasks)
}

func TestProjection_FollowsStore(t *testing.T) {
	state := NewState()
	defer state.Projection.Close()

	before := state.Projection.Version()
	state.Tasks.Upsert(sampleTask("t1", contracts.StatusTodo, time.Now()))
	require.Greater(t, state.Projection.Version(), before)
	assert.Len(t, state.Projection.Current().Column(contracts.StatusTodo).Tasks, 1)

	moved, _ := state.Tasks.Get("t1")
	moved.Status = contracts.StatusDone
	state.Tasks.Upsert(moved)

	board := state.Projection.Current()
	assert.Empty(t, board.Column(contracts.StatusTodo).Tasks)
	assert.Len(t, board.Column(contracts.StatusDone).Tasks, 1)
}

func TestDirectory_SortedByEmail(t *testing.T) {
	d := NewDirectory()
	d.Replace([]contracts.User{
		{ID: "2", Email: "zoe@example.com"},
		{ID: "1", Email: "Alice@example.com"},
	})

	users := d.List()
	require.Len(t, users, 2)
	assert.Equal(t, "1", users[0].ID)

	u, ok := d.Lookup("2")
	require.True(t, ok)
	assert.Equal(t, "zoe@example.com", u.Email)
}
