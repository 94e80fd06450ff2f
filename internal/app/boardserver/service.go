// Package boardserver is the server of record for the board: it persists
// tasks, stamps versions, rejects stale writes and broadcasts every accepted
// change to connected clients.
package boardserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nuid"
	"github.com/todo-1m/board/internal/contracts"
)

var (
	ErrTitleRequired    = errors.New("title is required")
	ErrInvalidStatus    = errors.New("status must be one of Todo, In Progress, Done")
	ErrInvalidPriority  = errors.New("priority must be one of Low, Medium, High")
	ErrDuplicateTitle   = errors.New("task title must be unique")
	ErrReservedTitle    = errors.New("task title cannot match a column name")
	ErrUnknownAssignee  = errors.New("assignee does not exist")
	ErrNoAssignees      = errors.New("no users available for assignment")
	ErrTaskIDRequired   = errors.New("task id is required")
	ErrActorUnspecified = errors.New("actor is required")
)

// ActivityLimit is how many entries GET /activity returns.
const ActivityLimit = 20

// ConflictError carries the server's current record for a stale write.
type ConflictError struct {
	Current contracts.Task
}

func (e *ConflictError) Error() string {
	return "task was modified by another user"
}

func (e *ConflictError) Unwrap() error { return ErrStaleVersion }

type UserDirectory interface {
	Directory(ctx context.Context) ([]contracts.User, error)
}

type PublishFunc func(contracts.Event)

type Service struct {
	Repo    Repository
	Users   UserDirectory
	Publish PublishFunc
	Now     func() time.Time
	NewID   func() string
}

func NewService(repo Repository, users UserDirectory, publish PublishFunc) *Service {
	if publish == nil {
		publish = func(contracts.Event) {}
	}
	return &Service{
		Repo:    repo,
		Users:   users,
		Publish: publish,
		Now:     func() time.Time { return time.Now().UTC() },
		NewID:   nuid.Next,
	}
}

func (s *Service) ListTasks(ctx context.Context) ([]contracts.Task, error) {
	return s.Repo.ListTasks(ctx)
}

func (s *Service) ListActivity(ctx context.Context) ([]contracts.ActivityLogEntry, error) {
	return s.Repo.ListActivity(ctx, ActivityLimit)
}

func (s *Service) CreateTask(ctx context.Context, actor contracts.User, in contracts.TaskInput) (contracts.Task, error) {
	if actor.ID == "" {
		return contracts.Task{}, ErrActorUnspecified
	}
	in, err := s.validate(ctx, in, "")
	if err != nil {
		return contracts.Task{}, err
	}
	assignee, err := s.resolveAssignee(ctx, in.AssignedTo)
	if err != nil {
		return contracts.Task{}, err
	}

	now := s.Now().UTC().Truncate(time.Microsecond)
	task := contracts.Task{
		ID:          s.NewID(),
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		Priority:    in.Priority,
		AssignedTo:  assignee,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Repo.InsertTask(ctx, task); err != nil {
		return contracts.Task{}, err
	}

	s.Publish(contracts.TaskAdded(task))
	s.log(ctx, actor, contracts.ActionCreated, task.Title, nil)
	return task, nil
}

// UpdateTask replaces the task. When in.LastUpdatedAt is set it must match
// the stored version or a *ConflictError is returned.
func (s *Service) UpdateTask(ctx context.Context, actor contracts.User, id string, in contracts.TaskInput) (contracts.Task, error) {
	if strings.TrimSpace(id) == "" {
		return contracts.Task{}, ErrTaskIDRequired
	}
	before, err := s.Repo.GetTask(ctx, id)
	if err != nil {
		return contracts.Task{}, err
	}
	in, err = s.validate(ctx, in, id)
	if err != nil {
		return contracts.Task{}, err
	}
	assignee, err := s.resolveAssignee(ctx, in.AssignedTo)
	if err != nil {
		return contracts.Task{}, err
	}

	next := before
	next.Title = in.Title
	next.Description = in.Description
	next.Status = in.Status
	next.Priority = in.Priority
	next.AssignedTo = assignee

	updated, err := s.Repo.ReplaceTask(ctx, next, in.LastUpdatedAt, s.Now())
	if errors.Is(err, ErrStaleVersion) {
		return contracts.Task{}, &ConflictError{Current: updated}
	}
	if err != nil {
		return contracts.Task{}, err
	}

	s.Publish(contracts.TaskUpdated(updated))
	s.log(ctx, actor, contracts.ActionUpdated, updated.Title, Diff(before, updated))
	return updated, nil
}

func (s *Service) DeleteTask(ctx context.Context, actor contracts.User, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrTaskIDRequired
	}
	deleted, err := s.Repo.DeleteTask(ctx, id)
	if err != nil {
		return err
	}
	s.Publish(contracts.TaskDeleted(deleted.ID))
	s.log(ctx, actor, contracts.ActionDeleted, deleted.Title, nil)
	return nil
}

// SmartAssign gives the task to the user with the fewest open tasks. Ties go
// to the earliest email.
func (s *Service) SmartAssign(ctx context.Context, actor contracts.User, id string) (contracts.Task, string, error) {
	if strings.TrimSpace(id) == "" {
		return contracts.Task{}, "", ErrTaskIDRequired
	}
	before, err := s.Repo.GetTask(ctx, id)
	if err != nil {
		return contracts.Task{}, "", err
	}
	users, err := s.Users.Directory(ctx)
	if err != nil {
		return contracts.Task{}, "", err
	}
	if len(users) == 0 {
		return contracts.Task{}, "", ErrNoAssignees
	}
	counts, err := s.Repo.OpenTaskCounts(ctx)
	if err != nil {
		return contracts.Task{}, "", err
	}
	// The task itself should not count against its current assignee.
	if before.AssignedTo != nil && before.Status != contracts.StatusDone {
		counts[before.AssignedTo.ID]--
	}

	chosen := users[0]
	for _, u := range users[1:] {
		if counts[u.ID] < counts[chosen.ID] {
			chosen = u
		}
	}

	next := before
	next.AssignedTo = &chosen
	updated, err := s.Repo.ReplaceTask(ctx, next, nil, s.Now())
	if err != nil {
		return contracts.Task{}, "", err
	}

	s.Publish(contracts.TaskUpdated(updated))
	s.log(ctx, actor, contracts.ActionAssigned, updated.Title, Diff(before, updated))
	message := fmt.Sprintf("Task assigned to %s (%d active tasks)", chosen.Email, counts[chosen.ID])
	return updated, message, nil
}

func (s *Service) validate(ctx context.Context, in contracts.TaskInput, exceptID string) (contracts.TaskInput, error) {
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
	for _, column := range contracts.Statuses {
		if strings.EqualFold(in.Title, string(column)) {
			return in, ErrReservedTitle
		}
	}
	taken, err := s.Repo.TitleTaken(ctx, in.Title, exceptID)
	if err != nil {
		return in, err
	}
	if taken {
		return in, ErrDuplicateTitle
	}
	return in, nil
}

func (s *Service) resolveAssignee(ctx context.Context, id string) (*contracts.User, error) {
	if id == "" {
		return nil, nil
	}
	users, err := s.Users.Directory(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.ID == id {
			return &u, nil
		}
	}
	return nil, ErrUnknownAssignee
}

// log records and broadcasts an activity entry. A failed write is not fatal
// to the mutation it describes.
func (s *Service) log(ctx context.Context, actor contracts.User, action, title string, details map[string]contracts.FieldChange) {
	entry := contracts.ActivityLogEntry{
		ID:               s.NewID(),
		PerformedByEmail: actor.Email,
		Action:           action,
		TaskTitle:        title,
		Timestamp:        s.Now().UTC().Truncate(time.Microsecond),
		Details:          details,
	}
	if err := s.Repo.AppendActivity(ctx, entry); err != nil {
		return
	}
	s.Publish(contracts.ActivityLogged(entry))
}

// Diff lists the user-visible fields that changed between two records.
func Diff(before, after contracts.Task) map[string]contracts.FieldChange {
	changes := map[string]contracts.FieldChange{}
	add := func(field, old, new string) {
		if old != new {
			changes[field] = contracts.FieldChange{Old: old, New: new}
		}
	}
	add("title", before.Title, after.Title)
	add("description", before.Description, after.Description)
	add("status", string(before.Status), string(after.Status))
	add("priority", string(before.Priority), string(after.Priority))
	add("assignedTo", assigneeEmail(before), assigneeEmail(after))
	if len(changes) == 0 {
		return nil
	}
	return changes
}

func assigneeEmail(t contracts.Task) string {
	if t.AssignedTo == nil {
		return ""
	}
	return t.AssignedTo.Email
}
