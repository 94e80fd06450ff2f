package contracts

import (
	"strings"
	"time"
)

type Status string

const (
	StatusTodo       Status = "Todo"
	StatusInProgress Status = "In Progress"
	StatusDone       Status = "Done"
)

// Statuses lists the board columns in display order.
var Statuses = []Status{StatusTodo, StatusInProgress, StatusDone}

func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	default:
		return false
	}
}

type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

// User is a directory entry. Email is unique and used as the display key.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Task is the record owned by the server of record. UpdatedAt doubles as the
// optimistic-concurrency version token.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	Priority    Priority  `json:"priority"`
	AssignedTo  *User     `json:"assignedTo,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (t Task) AssigneeID() string {
	if t.AssignedTo == nil {
		return ""
	}
	return t.AssignedTo.ID
}

// TaskInput is the request body for create and update. LastUpdatedAt is only
// sent when the caller wants the write checked against the current version.
type TaskInput struct {
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Status        Status     `json:"status"`
	Priority      Priority   `json:"priority"`
	AssignedTo    string     `json:"assignedTo,omitempty"`
	LastUpdatedAt *time.Time `json:"lastUpdatedAt,omitempty"`
}

// InputFromTask copies the writable fields of t without a version token.
func InputFromTask(t Task) TaskInput {
	return TaskInput{
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Priority:    t.Priority,
		AssignedTo:  t.AssigneeID(),
	}
}

// WithVersion returns a copy of in carrying version as its LastUpdatedAt token.
func (in TaskInput) WithVersion(version time.Time) TaskInput {
	v := version
	in.LastUpdatedAt = &v
	return in
}

func (in TaskInput) Normalized() TaskInput {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.AssignedTo = strings.TrimSpace(in.AssignedTo)
	return in
}

type FieldChange struct {
	Old string `json:"old"`
	New string `json:"new"`
}

const (
	ActionCreated  = "created"
	ActionUpdated  = "updated"
	ActionDeleted  = "deleted"
	ActionAssigned = "assigned"
)

// ActivityLogEntry is a denormalized record of a task-level action. TaskTitle is
// a snapshot, not a reference to a live task.
type ActivityLogEntry struct {
	ID               string                 `json:"id"`
	PerformedByEmail string                 `json:"performedByEmail"`
	Action           string                 `json:"action"`
	TaskTitle        string                 `json:"taskTitle"`
	Timestamp        time.Time              `json:"timestamp"`
	Details          map[string]FieldChange `json:"details,omitempty"`
}

// Push-channel event names.
const (
	EventTaskAdded      = "taskAdded"
	EventTaskUpdated    = "taskUpdated"
	EventTaskDeleted    = "taskDeleted"
	EventActivityLogged = "activityLogged"
)

// Event is the envelope broadcast by the server of record to every connected client.
type Event struct {
	Event    string            `json:"event"`
	Task     *Task             `json:"task,omitempty"`
	TaskID   string            `json:"taskId,omitempty"`
	Activity *ActivityLogEntry `json:"activity,omitempty"`
}

func TaskAdded(t Task) Event {
	return Event{Event: EventTaskAdded, Task: &t}
}

func TaskUpdated(t Task) Event {
	return Event{Event: EventTaskUpdated, Task: &t}
}

func TaskDeleted(id string) Event {
	return Event{Event: EventTaskDeleted, TaskID: id}
}

func ActivityLogged(entry ActivityLogEntry) Event {
	return Event{Event: EventActivityLogged, Activity: &entry}
}
