// Package boardview renders the client's board page.
package boardview

//go:generate templ generate

import (
	"fmt"
	"sort"

	"github.com/todo-1m/board/internal/app/boardstate"
	"github.com/todo-1m/board/internal/app/syncengine"
	"github.com/todo-1m/board/internal/contracts"
)

const timeLayout = "Jan 2 15:04:05"

// PageData is a snapshot taken from the engine for one render.
type PageData struct {
	UserEmail       string
	Board           boardstate.Board
	Users           []contracts.User
	Activity        []contracts.ActivityLogEntry
	Notices         []syncengine.Notice
	Conflict        *syncengine.ConflictContext
	QueuedConflicts int
}

var resolutionChoices = []syncengine.Strategy{
	syncengine.StrategyOverwrite,
	syncengine.StrategyMerge,
	syncengine.StrategyDiscard,
}

// DetailLines formats changed fields as "field: old → new", sorted by field.
func DetailLines(details map[string]contracts.FieldChange) []string {
	fields := make([]string, 0, len(details))
	for field := range details {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	lines := make([]string, 0, len(fields))
	for _, field := range fields {
		change := details[field]
		lines = append(lines, fmt.Sprintf("%s: %s → %s", field, orNone(change.Old), orNone(change.New)))
	}
	return lines
}

func conflictTitle(c *syncengine.ConflictContext) string {
	if c.Server.Title != "" {
		return c.Server.Title
	}
	return c.Client.Title
}

type versionRow struct{ label, value string }

func versionRows(t contracts.Task) []versionRow {
	assignee := ""
	if t.AssignedTo != nil {
		assignee = t.AssignedTo.Email
	}
	return []versionRow{
		{"Title", t.Title},
		{"Description", t.Description},
		{"Status", string(t.Status)},
		{"Priority", string(t.Priority)},
		{"Assignee", orNone(assignee)},
	}
}

func strategyLabel(s syncengine.Strategy) string {
	switch s {
	case syncengine.StrategyOverwrite:
		return "Keep mine"
	case syncengine.StrategyMerge:
		return "Merge"
	default:
		return "Keep theirs"
	}
}

type option struct{ value, label string }

func statusOptions() []option {
	out := make([]option, 0, len(contracts.Statuses))
	for _, s := range contracts.Statuses {
		out = append(out, option{string(s), string(s)})
	}
	return out
}

func priorityOptions() []option {
	return []option{
		{string(contracts.PriorityLow), "Low"},
		{string(contracts.PriorityMedium), "Medium"},
		{string(contracts.PriorityHigh), "High"},
	}
}

func userOptions(users []contracts.User) []option {
	out := []option{{"", "Unassigned"}}
	for _, u := range users {
		out = append(out, option{u.ID, u.Email})
	}
	return out
}

func orNone(v string) string {
	if v == "" {
		return "(none)"
	}
	return v
}
