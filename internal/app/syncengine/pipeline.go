package syncengine

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/todo-1m/board/internal/contracts"
	"github.com/todo-1m/board/internal/platform/boardapi"
)

var ErrTitleRequired = errors.New("title is required")
var ErrInvalidStatus = errors.New("invalid status")
var ErrInvalidPriority = errors.New("invalid priority")
var ErrTaskNotFound = errors.New("task not found")

// ErrConflict is returned by Move and Edit when the server rejected the write
// as stale. The conflict is now queued on the resolver; it is not a failure.
var ErrConflict = errors.New("version conflict awaiting resolution")

const transportFailureMessage = "Could not reach the server. Please try again."

const (
	kindCreate = "create"
	kindMove   = "move"
	kindEdit   = "edit"
	kindDelete = "delete"
	kindAssign = "assign"
)

// ValidateInput fills blank status and priority with their defaults and checks
// the rest of the payload.
func ValidateInput(in contracts.TaskInput) (contracts.TaskInput, error) {
	in = in.Normalized()
	if in.Title == "" {
		return in, ErrTitleRequired
	}
	if in.Status == "" {
		in.Status = contracts.StatusTodo
	}
	if in.Priority == "" {
		in.Priority = contracts.PriorityMedium
	}
	if !in.Status.Valid() {
		return in, ErrInvalidStatus
	}
	if !in.Priority.Valid() {
		return in, ErrInvalidPriority
	}
	return in, nil
}

// Create sends a new task. Nothing is written locally: the identifier is not
// known until the server's taskAdded event arrives.
func (e *Engine) Create(ctx context.Context, in contracts.TaskInput) (contracts.Task, error) {
	in, err := ValidateInput(in)
	if err != nil {
		return contracts.Task{}, err
	}
	in.LastUpdatedAt = nil
	if err := ctx.Err(); err != nil {
		return contracts.Task{}, err
	}

	task, reqErr := e.api.CreateTask(context.WithoutCancel(ctx), in)
	if reqErr != nil {
		return contracts.Task{}, e.do(func() error {
			e.fail(kindCreate, "", reqErr)
			return reqErr
		})
	}
	mutations.WithLabelValues(kindCreate, outcomeOK).Inc()
	return task, nil
}

// Move changes a task's status optimistically and sends the write with the
// task's last known version. A stale version opens a conflict and keeps the
// optimistic card in place; any other failure puts the card back.
func (e *Engine) Move(ctx context.Context, id string, status contracts.Status) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var snapshot, optimistic contracts.Task
	unchanged := false
	err := e.do(func() error {
		task, ok := e.state.Tasks.Get(id)
		if !ok {
			return ErrTaskNotFound
		}
		if task.Status == status {
			unchanged = true
			return nil
		}
		snapshot = task
		optimistic = task
		optimistic.Status = status
		e.state.Tasks.Upsert(optimistic)
		return nil
	})
	if err != nil || unchanged {
		return err
	}

	in := contracts.InputFromTask(optimistic).WithVersion(snapshot.UpdatedAt)
	_, reqErr := e.api.UpdateTask(context.WithoutCancel(ctx), id, in)

	return e.do(func() error {
		if reqErr == nil {
			// The taskUpdated event carries the confirmed record.
			mutations.WithLabelValues(kindMove, outcomeOK).Inc()
			return nil
		}
		if conflict, ok := boardapi.IsConflict(reqErr); ok {
			mutations.WithLabelValues(kindMove, outcomeConflict).Inc()
			e.openConflict(ConflictContext{
				TaskID: id,
				Origin: OriginMove,
				Client: optimistic,
				Server: conflict.ServerVersion,
			})
			return ErrConflict
		}

		if current, ok := e.state.Tasks.Get(id); ok && sameRecord(current, optimistic) {
			e.state.Tasks.Upsert(snapshot)
		}
		e.fail(kindMove, id, reqErr)
		return reqErr
	})
}

// Edit submits a form draft against base, the record the form was opened
// with. On success the response is written to the store directly.
func (e *Engine) Edit(ctx context.Context, base contracts.Task, draft contracts.TaskInput) (contracts.Task, error) {
	if strings.TrimSpace(base.ID) == "" {
		return contracts.Task{}, ErrTaskNotFound
	}
	draft, err := ValidateInput(draft)
	if err != nil {
		return contracts.Task{}, err
	}
	if err := ctx.Err(); err != nil {
		return contracts.Task{}, err
	}

	in := draft.WithVersion(base.UpdatedAt)
	updated, reqErr := e.api.UpdateTask(context.WithoutCancel(ctx), base.ID, in)

	var result contracts.Task
	err = e.do(func() error {
		if reqErr == nil {
			mutations.WithLabelValues(kindEdit, outcomeOK).Inc()
			e.state.Tasks.Upsert(updated)
			result = updated
			return nil
		}
		if conflict, ok := boardapi.IsConflict(reqErr); ok {
			mutations.WithLabelValues(kindEdit, outcomeConflict).Inc()
			e.openConflict(ConflictContext{
				TaskID: base.ID,
				Origin: OriginEdit,
				Client: e.applyDraft(base, draft),
				Server: conflict.ServerVersion,
			})
			return ErrConflict
		}
		e.fail(kindEdit, base.ID, reqErr)
		return reqErr
	})
	return result, err
}

// Delete sends the delete and leaves the store alone; the taskDeleted event
// removes the card.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrTaskNotFound
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if reqErr := e.api.DeleteTask(context.WithoutCancel(ctx), id); reqErr != nil {
		return e.do(func() error {
			e.fail(kindDelete, id, reqErr)
			return reqErr
		})
	}
	mutations.WithLabelValues(kindDelete, outcomeOK).Inc()
	return nil
}

// AutoAssign asks the server to pick an assignee and returns its message. The
// new assignee arrives through taskUpdated.
func (e *Engine) AutoAssign(ctx context.Context, id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", ErrTaskNotFound
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	resp, reqErr := e.api.SmartAssign(context.WithoutCancel(ctx), id)
	err := e.do(func() error {
		if reqErr != nil {
			e.fail(kindAssign, id, reqErr)
			return reqErr
		}
		mutations.WithLabelValues(kindAssign, outcomeOK).Inc()
		if resp.Message != "" {
			e.notify(NoticeInfo, id, resp.Message)
		}
		return nil
	})
	return resp.Message, err
}

// fail reports a non-conflict failure. Validation messages from the server are
// shown verbatim; transport failures get a generic message.
func (e *Engine) fail(kind, taskID string, err error) {
	mutations.WithLabelValues(kind, outcomeError).Inc()
	e.Log.WithError(err).WithFields(logrus.Fields{"kind": kind, "task_id": taskID}).Warn("mutation failed")
	e.notify(NoticeError, taskID, userMessage(err))
}

func userMessage(err error) string {
	var apiErr *boardapi.APIError
	if errors.As(err, &apiErr) && strings.TrimSpace(apiErr.Message) != "" {
		return apiErr.Message
	}
	return transportFailureMessage
}

// applyDraft is the record the user intended: base with the draft's fields.
func (e *Engine) applyDraft(base contracts.Task, draft contracts.TaskInput) contracts.Task {
	out := base
	out.Title = draft.Title
	out.Description = draft.Description
	out.Status = draft.Status
	out.Priority = draft.Priority
	switch {
	case draft.AssignedTo == "":
		out.AssignedTo = nil
	case draft.AssignedTo == base.AssigneeID():
	default:
		user, ok := e.state.Users.Lookup(draft.AssignedTo)
		if !ok {
			user = contracts.User{ID: draft.AssignedTo}
		}
		out.AssignedTo = &user
	}
	return out
}

func sameRecord(a, b contracts.Task) bool {
	return a.ID == b.ID &&
		a.Title == b.Title &&
		a.Description == b.Description &&
		a.Status == b.Status &&
		a.Priority == b.Priority &&
		a.AssigneeID() == b.AssigneeID() &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}
