package syncengine

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/todo-1m/board/internal/contracts"
	"github.com/todo-1m/board/internal/platform/boardapi"
)

func TestResolve_MergeFieldPrecedence(t *testing.T) {
	client := contracts.Task{ID: "T", Title: "A", Description: "X", Status: contracts.StatusTodo}
	server := contracts.Task{ID: "T", Title: "B", Description: "Y", Status: contracts.StatusInProgress, Priority: contracts.PriorityHigh}

	got, err := Resolve(client, server, StrategyMerge)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Title)
	assert.Equal(t, "X", got.Description)
	assert.Equal(t, contracts.StatusInProgress, got.Status)
	assert.Equal(t, contracts.PriorityHigh, got.Priority)
}

func TestResolve_OverwriteAndDiscard(t *testing.T) {
	client := contracts.Task{ID: "T", Title: "A", Status: contracts.StatusDone}
	server := contracts.Task{ID: "T", Title: "B", Status: contracts.StatusTodo}

	got, err := Resolve(client, server, StrategyOverwrite)
	require.NoError(t, err)
	assert.Equal(t, client, got)

	got, err = Resolve(client, server, StrategyDiscard)
	require.NoError(t, err)
	assert.Equal(t, server, got)

	_, err = Resolve(client, server, Strategy("rebase"))
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy(" Merge ")
	require.NoError(t, err)
	assert.Equal(t, StrategyMerge, s)
	_, err = ParseStrategy("keep-both")
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestResolver_QueuesInArrivalOrder(t *testing.T) {
	r := NewResolver()
	assert.True(t, r.Open(ConflictContext{TaskID: "a"}))
	assert.False(t, r.Open(ConflictContext{TaskID: "b"}))
	assert.False(t, r.Open(ConflictContext{TaskID: "c"}))
	assert.Equal(t, 3, r.Pending())

	active, ok := r.Active()
	require.True(t, ok)
	assert.Equal(t, "a", active.TaskID)

	_, err := r.begin()
	require.NoError(t, err)
	_, err = r.begin()
	assert.ErrorIs(t, err, ErrResolutionInFlight)

	next, ok := r.close()
	require.True(t, ok)
	assert.Equal(t, "b", next.TaskID)
	next, ok = r.close()
	require.True(t, ok)
	assert.Equal(t, "c", next.TaskID)
	_, ok = r.close()
	assert.False(t, ok)
	assert.Zero(t, r.Pending())

	_, err = r.begin()
	assert.ErrorIs(t, err, ErrNoConflict)
}

// conflictOnFirstWrite answers the first versioned write for each task with a
// conflict and accepts everything else.
func conflictOnFirstWrite(servers map[string]contracts.Task) func(string, contracts.TaskInput) (contracts.Task, error) {
	return func(id string, in contracts.TaskInput) (contracts.Task, error) {
		if in.LastUpdatedAt != nil {
			return contracts.Task{}, &boardapi.ConflictError{ServerVersion: servers[id]}
		}
		out := servers[id]
		out.Title = in.Title
		out.Description = in.Description
		out.Status = in.Status
		out.Priority = in.Priority
		out.UpdatedAt = out.UpdatedAt.Add(time.Minute)
		return out, nil
	}
}

func TestResolveConflict_OverwriteSendsWithoutVersion(t *testing.T) {
	server := boardTask("T", "Theirs", contracts.StatusInProgress)
	server.UpdatedAt = t0.Add(time.Minute)
	api := &fakeAPI{update: conflictOnFirstWrite(map[string]contracts.Task{"T": server})}
	h := startEngine(t, api)
	h.seed(boardTask("T", "Card", contracts.StatusTodo))

	require.ErrorIs(t, h.engine.Move(context.Background(), "T", contracts.StatusDone), ErrConflict)

	resolved, err := h.engine.ResolveConflict(context.Background(), StrategyOverwrite)
	require.NoError(t, err)
	assert.Equal(t, "Card", resolved.Title)
	assert.Equal(t, contracts.StatusDone, resolved.Status)

	calls := api.updateCalls()
	require.Len(t, calls, 2)
	assert.Nil(t, calls[1].Input.LastUpdatedAt)

	got, _ := h.state.Tasks.Get("T")
	assert.Equal(t, contracts.StatusDone, got.Status)
	assert.True(t, got.UpdatedAt.After(server.UpdatedAt))

	_, _, open, err := h.engine.Conflict(context.Background())
	require.NoError(t, err)
	assert.False(t, open)
}

func TestResolveConflict_FailureClosesAndShowsServerVersion(t *testing.T) {
	server := boardTask("T", "Theirs", contracts.StatusInProgress)
	api := &fakeAPI{
		update: func(_ string, in contracts.TaskInput) (contracts.Task, error) {
			if in.LastUpdatedAt != nil {
				return contracts.Task{}, &boardapi.ConflictError{ServerVersion: server}
			}
			return contracts.Task{}, errors.New("connection reset")
		},
	}
	h := startEngine(t, api)
	h.seed(boardTask("T", "Card", contracts.StatusTodo))
	require.ErrorIs(t, h.engine.Move(context.Background(), "T", contracts.StatusDone), ErrConflict)

	_, err := h.engine.ResolveConflict(context.Background(), StrategyMerge)
	require.Error(t, err)

	got, _ := h.state.Tasks.Get("T")
	assert.Equal(t, "Theirs", got.Title)
	assert.Equal(t, contracts.StatusInProgress, got.Status)

	_, _, open, err := h.engine.Conflict(context.Background())
	require.NoError(t, err)
	assert.False(t, open, "a failed resolution does not reopen the conflict")
	assert.Equal(t, NoticeError, h.notices.Recent()[0].Kind)
}

func TestResolveConflict_SecondConflictQueuedNotDropped(t *testing.T) {
	servers := map[string]contracts.Task{
		"A": boardTask("A", "A theirs", contracts.StatusTodo),
		"B": boardTask("B", "B theirs", contracts.StatusTodo),
	}
	api := &fakeAPI{update: conflictOnFirstWrite(servers)}
	h := startEngine(t, api)
	h.seed(boardTask("A", "A", contracts.StatusTodo), boardTask("B", "B", contracts.StatusTodo))

	require.ErrorIs(t, h.engine.Move(context.Background(), "A", contracts.StatusDone), ErrConflict)
	require.ErrorIs(t, h.engine.Move(context.Background(), "B", contracts.StatusDone), ErrConflict)

	active, queued, ok, err := h.engine.Conflict(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A", active.TaskID)
	assert.Equal(t, 1, queued)

	_, err = h.engine.ResolveConflict(context.Background(), StrategyDiscard)
	require.NoError(t, err)

	active, queued, ok, err = h.engine.Conflict(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "B", active.TaskID)
	assert.Zero(t, queued)

	notices := h.notices.Recent()
	assert.Equal(t, NoticeConflict, notices[0].Kind)
	assert.Equal(t, "B", notices[0].TaskID)
}

func TestCancelConflict_RestoresServerVersion(t *testing.T) {
	server := boardTask("T", "Theirs", contracts.StatusInProgress)
	api := &fakeAPI{update: conflictOnFirstWrite(map[string]contracts.Task{"T": server})}
	h := startEngine(t, api)
	h.seed(boardTask("T", "Card", contracts.StatusTodo))
	require.ErrorIs(t, h.engine.Move(context.Background(), "T", contracts.StatusDone), ErrConflict)

	require.NoError(t, h.engine.CancelConflict(context.Background()))
	got, _ := h.state.Tasks.Get("T")
	assert.Equal(t, contracts.StatusInProgress, got.Status)
	assert.Len(t, api.updateCalls(), 1)

	assert.ErrorIs(t, h.engine.CancelConflict(context.Background()), ErrNoConflict)
	_, err := h.engine.ResolveConflict(context.Background(), StrategyMerge)
	assert.ErrorIs(t, err, ErrNoConflict)
}

func TestResolveConflict_ConcurrentCallRejected(t *testing.T) {
	server := boardTask("T", "Theirs", contracts.StatusTodo)
	entered := make(chan struct{})
	release := make(chan struct{})
	api := &fakeAPI{
		update: func(id string, in contracts.TaskInput) (contracts.Task, error) {
			if in.LastUpdatedAt != nil {
				return contracts.Task{}, &boardapi.ConflictError{ServerVersion: server}
			}
			close(entered)
			<-release
			return server, nil
		},
	}
	h := startEngine(t, api)
	h.seed(boardTask("T", "Card", contracts.StatusTodo))
	require.ErrorIs(t, h.engine.Move(context.Background(), "T", contracts.StatusDone), ErrConflict)

	done := make(chan error, 1)
	go func() {
		_, err := h.engine.ResolveConflict(context.Background(), StrategyOverwrite)
		done <- err
	}()
	<-entered

	_, err := h.engine.ResolveConflict(context.Background(), StrategyDiscard)
	assert.ErrorIs(t, err, ErrResolutionInFlight)
	assert.ErrorIs(t, h.engine.CancelConflict(context.Background()), ErrResolutionInFlight)

	close(release)
	require.NoError(t, <-done)
}

func TestResolveConflict_UnknownStrategyKeepsConflictOpen(t *testing.T) {
	server := boardTask("T", "Theirs", contracts.StatusTodo)
	api := &fakeAPI{update: conflictOnFirstWrite(map[string]contracts.Task{"T": server})}
	h := startEngine(t, api)
	h.seed(boardTask("T", "Card", contracts.StatusTodo))
	require.ErrorIs(t, h.engine.Move(context.Background(), "T", contracts.StatusDone), ErrConflict)

	_, err := h.engine.ResolveConflict(context.Background(), Strategy("both"))
	assert.ErrorIs(t, err, ErrUnknownStrategy)

	_, err = h.engine.ResolveConflict(context.Background(), StrategyMerge)
	assert.NoError(t, err)
}

// openMoveConflict opens a conflict on T whose captured server record is
// "Theirs v1" at t0+1m.
func openMoveConflict(t *testing.T, api *fakeAPI) (*harness, contracts.Task) {
	t.Helper()
	server := boardTask("T", "Theirs v1", contracts.StatusInProgress)
	server.UpdatedAt = t0.Add(time.Minute)
	if api.update == nil {
		api.update = conflictOnFirstWrite(map[string]contracts.Task{"T": server})
	}
	h := startEngine(t, api)
	h.seed(boardTask("T", "Card", contracts.StatusTodo))
	require.ErrorIs(t, h.engine.Move(context.Background(), "T", contracts.StatusDone), ErrConflict)
	return h, server
}

func TestCancelConflict_KeepsNewerPushedRecord(t *testing.T) {
	h, _ := openMoveConflict(t, &fakeAPI{})

	newer := boardTask("T", "Theirs v2", contracts.StatusDone)
	newer.UpdatedAt = t0.Add(2 * time.Minute)
	h.events <- contracts.TaskUpdated(newer)
	h.flush()

	require.NoError(t, h.engine.CancelConflict(context.Background()))
	got, ok := h.state.Tasks.Get("T")
	require.True(t, ok)
	assert.Equal(t, "Theirs v2", got.Title)
	assert.Equal(t, newer.UpdatedAt, got.UpdatedAt)
}

func TestCancelConflict_DeletedTaskStaysDeleted(t *testing.T) {
	h, _ := openMoveConflict(t, &fakeAPI{})

	h.events <- contracts.TaskDeleted("T")
	h.flush()

	require.NoError(t, h.engine.CancelConflict(context.Background()))
	_, ok := h.state.Tasks.Get("T")
	assert.False(t, ok)
}

func TestResolveConflict_FailureKeepsNewerPushedRecord(t *testing.T) {
	server := boardTask("T", "Theirs v1", contracts.StatusInProgress)
	server.UpdatedAt = t0.Add(time.Minute)
	api := &fakeAPI{update: func(_ string, in contracts.TaskInput) (contracts.Task, error) {
		if in.LastUpdatedAt != nil {
			return contracts.Task{}, &boardapi.ConflictError{ServerVersion: server}
		}
		return contracts.Task{}, errors.New("connection reset")
	}}
	h, _ := openMoveConflict(t, api)

	newer := boardTask("T", "Theirs v2", contracts.StatusDone)
	newer.UpdatedAt = t0.Add(2 * time.Minute)
	h.events <- contracts.TaskUpdated(newer)
	h.flush()

	_, err := h.engine.ResolveConflict(context.Background(), StrategyOverwrite)
	require.Error(t, err)
	got, ok := h.state.Tasks.Get("T")
	require.True(t, ok)
	assert.Equal(t, "Theirs v2", got.Title)
	assert.Equal(t, newer.UpdatedAt, got.UpdatedAt)
}

// A queued conflict whose task was deleted meanwhile fails with a 404 and
// must not bring the card back.
func TestResolveConflict_PromotedConflictForDeletedTask(t *testing.T) {
	servers := map[string]contracts.Task{
		"A": boardTask("A", "A theirs", contracts.StatusTodo),
		"B": boardTask("B", "B theirs", contracts.StatusTodo),
	}
	accept := conflictOnFirstWrite(servers)
	api := &fakeAPI{update: func(id string, in contracts.TaskInput) (contracts.Task, error) {
		if id == "B" && in.LastUpdatedAt == nil {
			return contracts.Task{}, &boardapi.APIError{Status: http.StatusNotFound, Message: "Task not found"}
		}
		return accept(id, in)
	}}
	h := startEngine(t, api)
	h.seed(boardTask("A", "A", contracts.StatusTodo), boardTask("B", "B", contracts.StatusTodo))
	require.ErrorIs(t, h.engine.Move(context.Background(), "A", contracts.StatusDone), ErrConflict)
	require.ErrorIs(t, h.engine.Move(context.Background(), "B", contracts.StatusDone), ErrConflict)

	h.events <- contracts.TaskDeleted("B")
	h.flush()

	_, err := h.engine.ResolveConflict(context.Background(), StrategyDiscard)
	require.NoError(t, err)
	_, err = h.engine.ResolveConflict(context.Background(), StrategyMerge)
	require.Error(t, err)

	_, ok := h.state.Tasks.Get("B")
	assert.False(t, ok)
	_, _, open, err := h.engine.Conflict(context.Background())
	require.NoError(t, err)
	assert.False(t, open)
}
