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

func TestMove_NonConflictFailureRollsBack(t *testing.T) {
	api := &fakeAPI{
		update: func(string, contracts.TaskInput) (contracts.Task, error) {
			return contracts.Task{}, errors.New("dial tcp: connection refused")
		},
	}
	h := startEngine(t, api)
	h.seed(boardTask("T", "Card", contracts.StatusTodo))

	err := h.engine.Move(context.Background(), "T", contracts.StatusDone)
	require.Error(t, err)

	got, ok := h.state.Tasks.Get("T")
	require.True(t, ok)
	assert.Equal(t, contracts.StatusTodo, got.Status)

	notices := h.notices.Recent()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeError, notices[0].Kind)
	assert.Equal(t, transportFailureMessage, notices[0].Message)
}

func TestMove_SendsVersionAndAppliesOptimistically(t *testing.T) {
	seen := make(chan contracts.Status, 1)
	api := &fakeAPI{}
	h := startEngine(t, api)
	api.update = func(id string, in contracts.TaskInput) (contracts.Task, error) {
		// The optimistic card is visible while the request is in flight.
		task, _ := h.state.Tasks.Get(id)
		seen <- task.Status
		return contracts.Task{ID: id, Status: in.Status}, nil
	}
	h.seed(boardTask("T", "Card", contracts.StatusTodo))

	require.NoError(t, h.engine.Move(context.Background(), "T", contracts.StatusInProgress))
	assert.Equal(t, contracts.StatusInProgress, <-seen)

	calls := api.updateCalls()
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].Input.LastUpdatedAt)
	assert.True(t, calls[0].Input.LastUpdatedAt.Equal(t0))
	assert.Equal(t, contracts.StatusInProgress, calls[0].Input.Status)
	assert.Equal(t, "u1", calls[0].Input.AssignedTo)
	assert.Empty(t, h.notices.Recent())
}

func TestMove_SameColumnSendsNothing(t *testing.T) {
	api := &fakeAPI{}
	h := startEngine(t, api)
	h.seed(boardTask("T", "Card", contracts.StatusTodo))

	require.NoError(t, h.engine.Move(context.Background(), "T", contracts.StatusTodo))
	assert.Empty(t, api.updateCalls())
}

func TestMove_UnknownTask(t *testing.T) {
	h := startEngine(t, &fakeAPI{})
	assert.ErrorIs(t, h.engine.Move(context.Background(), "nope", contracts.StatusDone), ErrTaskNotFound)
	assert.ErrorIs(t, h.engine.Move(context.Background(), "nope", contracts.Status("Archived")), ErrInvalidStatus)
}

func TestMove_RollbackSkippedWhenNewerRecordArrived(t *testing.T) {
	api := &fakeAPI{}
	h := startEngine(t, api)
	pushed := boardTask("T", "Renamed elsewhere", contracts.StatusInProgress)
	pushed.UpdatedAt = t0.Add(time.Minute)
	api.update = func(string, contracts.TaskInput) (contracts.Task, error) {
		h.events <- contracts.TaskUpdated(pushed)
		return contracts.Task{}, &boardapi.APIError{Status: http.StatusBadRequest, Message: "invalid status transition"}
	}
	h.seed(boardTask("T", "Card", contracts.StatusTodo))

	err := h.engine.Move(context.Background(), "T", contracts.StatusDone)
	require.Error(t, err)

	got, _ := h.state.Tasks.Get("T")
	assert.Equal(t, "Renamed elsewhere", got.Title)
	assert.Equal(t, contracts.StatusInProgress, got.Status)
	assert.Equal(t, "invalid status transition", h.notices.Recent()[0].Message)
}

func TestMove_ConflictKeepsOptimisticCard(t *testing.T) {
	server := boardTask("T", "Theirs", contracts.StatusInProgress)
	server.UpdatedAt = t0.Add(time.Minute)
	api := &fakeAPI{
		update: func(string, contracts.TaskInput) (contracts.Task, error) {
			return contracts.Task{}, &boardapi.ConflictError{ServerVersion: server}
		},
	}
	h := startEngine(t, api)
	h.seed(boardTask("T", "Card", contracts.StatusTodo))

	err := h.engine.Move(context.Background(), "T", contracts.StatusDone)
	assert.ErrorIs(t, err, ErrConflict)

	got, _ := h.state.Tasks.Get("T")
	assert.Equal(t, contracts.StatusDone, got.Status)

	active, queued, ok, err := h.engine.Conflict(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Zero(t, queued)
	assert.Equal(t, OriginMove, active.Origin)
	assert.Equal(t, contracts.StatusDone, active.Client.Status)
	assert.Equal(t, "Theirs", active.Server.Title)

	notices := h.notices.Recent()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeConflict, notices[0].Kind)
}

func TestEdit_SuccessWritesResponse(t *testing.T) {
	api := &fakeAPI{}
	h := startEngine(t, api)
	base := boardTask("T", "Card", contracts.StatusTodo)
	h.seed(base)
	api.update = func(id string, in contracts.TaskInput) (contracts.Task, error) {
		out := base
		out.Title = in.Title
		out.UpdatedAt = t0.Add(time.Second)
		return out, nil
	}

	draft := contracts.InputFromTask(base)
	draft.Title = "  Card v2 "
	updated, err := h.engine.Edit(context.Background(), base, draft)
	require.NoError(t, err)
	assert.Equal(t, "Card v2", updated.Title)

	got, _ := h.state.Tasks.Get("T")
	assert.Equal(t, "Card v2", got.Title)
	assert.True(t, got.UpdatedAt.Equal(t0.Add(time.Second)))

	calls := api.updateCalls()
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].Input.LastUpdatedAt)
	assert.True(t, calls[0].Input.LastUpdatedAt.Equal(base.UpdatedAt))
}

func TestEdit_ConflictCapturesDraft(t *testing.T) {
	server := boardTask("T", "Theirs", contracts.StatusTodo)
	api := &fakeAPI{
		update: func(string, contracts.TaskInput) (contracts.Task, error) {
			return contracts.Task{}, &boardapi.ConflictError{ServerVersion: server}
		},
	}
	h := startEngine(t, api)
	base := boardTask("T", "Card", contracts.StatusTodo)
	h.seed(base)
	h.state.Users.Replace([]contracts.User{{ID: "u2", Email: "bob@example.com"}})

	draft := contracts.InputFromTask(base)
	draft.Description = "mine"
	draft.AssignedTo = "u2"
	_, err := h.engine.Edit(context.Background(), base, draft)
	assert.ErrorIs(t, err, ErrConflict)

	active, _, ok, err := h.engine.Conflict(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, OriginEdit, active.Origin)
	assert.Equal(t, "mine", active.Client.Description)
	require.NotNil(t, active.Client.AssignedTo)
	assert.Equal(t, "bob@example.com", active.Client.AssignedTo.Email)

	got, _ := h.state.Tasks.Get("T")
	assert.Equal(t, "Card", got.Title, "edit conflicts leave the store alone")
}

func TestEdit_ValidationFailsBeforeRequest(t *testing.T) {
	api := &fakeAPI{}
	h := startEngine(t, api)
	base := boardTask("T", "Card", contracts.StatusTodo)

	_, err := h.engine.Edit(context.Background(), base, contracts.TaskInput{Title: "   "})
	assert.ErrorIs(t, err, ErrTitleRequired)
	_, err = h.engine.Edit(context.Background(), base, contracts.TaskInput{Title: "x", Priority: "Urgent"})
	assert.ErrorIs(t, err, ErrInvalidPriority)
	assert.Empty(t, api.updateCalls())
}

func TestCreate_NoLocalWrite(t *testing.T) {
	var got contracts.TaskInput
	api := &fakeAPI{
		create: func(in contracts.TaskInput) (contracts.Task, error) {
			got = in
			return contracts.Task{ID: "srv-1", Title: in.Title}, nil
		},
	}
	h := startEngine(t, api)

	task, err := h.engine.Create(context.Background(), contracts.TaskInput{Title: "New"})
	require.NoError(t, err)
	assert.Equal(t, "srv-1", task.ID)
	assert.Equal(t, contracts.StatusTodo, got.Status)
	assert.Equal(t, contracts.PriorityMedium, got.Priority)
	assert.Nil(t, got.LastUpdatedAt)
	assert.Zero(t, h.state.Tasks.Len())
}

func TestCreate_ServerValidationReportedVerbatim(t *testing.T) {
	api := &fakeAPI{
		create: func(contracts.TaskInput) (contracts.Task, error) {
			return contracts.Task{}, &boardapi.APIError{Status: http.StatusBadRequest, Message: "Task title must be unique"}
		},
	}
	h := startEngine(t, api)

	_, err := h.engine.Create(context.Background(), contracts.TaskInput{Title: "Dup"})
	require.Error(t, err)
	notices := h.notices.Recent()
	require.Len(t, notices, 1)
	assert.Equal(t, "Task title must be unique", notices[0].Message)
}

func TestDelete_FailureLeavesStore(t *testing.T) {
	api := &fakeAPI{
		remove: func(string) error {
			return &boardapi.APIError{Status: http.StatusNotFound, Message: "Task not found"}
		},
	}
	h := startEngine(t, api)
	h.seed(boardTask("T", "Card", contracts.StatusTodo))

	err := h.engine.Delete(context.Background(), "T")
	require.Error(t, err)
	assert.Equal(t, 1, h.state.Tasks.Len())
	assert.Equal(t, NoticeError, h.notices.Recent()[0].Kind)
}

func TestDelete_SuccessWaitsForPush(t *testing.T) {
	api := &fakeAPI{}
	h := startEngine(t, api)
	h.seed(boardTask("T", "Card", contracts.StatusTodo))

	require.NoError(t, h.engine.Delete(context.Background(), "T"))
	assert.Equal(t, 1, h.state.Tasks.Len())

	h.events <- contracts.TaskDeleted("T")
	h.flush()
	assert.Zero(t, h.state.Tasks.Len())
}

func TestAutoAssign_SurfacesServerMessage(t *testing.T) {
	api := &fakeAPI{
		assign: func(id string) (boardapi.AssignResponse, error) {
			return boardapi.AssignResponse{Message: "Task assigned to bob@example.com"}, nil
		},
	}
	h := startEngine(t, api)
	h.seed(boardTask("T", "Card", contracts.StatusTodo))

	msg, err := h.engine.AutoAssign(context.Background(), "T")
	require.NoError(t, err)
	assert.Equal(t, "Task assigned to bob@example.com", msg)

	got, _ := h.state.Tasks.Get("T")
	assert.Equal(t, "u1", got.AssigneeID(), "assignment arrives through taskUpdated")
	notices := h.notices.Recent()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeInfo, notices[0].Kind)
}

func TestMutations_CancelledContextSendsNothing(t *testing.T) {
	api := &fakeAPI{}
	h := startEngine(t, api)
	h.seed(boardTask("T", "Card", contracts.StatusTodo))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.engine.Move(ctx, "T", contracts.StatusDone), context.Canceled)
	assert.Empty(t, api.updateCalls())
}
