package boardview

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/todo-1m/board/internal/app/boardstate"
	"github.com/todo-1m/board/internal/app/syncengine"
	"github.com/todo-1m/board/internal/contracts"
)

func render(t *testing.T, data PageData) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Page(data).Render(context.Background(), &buf))
	return buf.String()
}

func TestPage_RendersColumnsAndEscapes(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	board := boardstate.Project([]contracts.Task{
		{ID: "t1", Title: "<script>x</script>", Status: contracts.StatusInProgress, Priority: contracts.PriorityHigh, CreatedAt: now, UpdatedAt: now},
	})
	html := render(t, PageData{UserEmail: "alice@example.com", Board: board})

	for _, status := range contracts.Statuses {
		assert.Contains(t, html, `data-status="`+string(status)+`"`)
	}
	assert.Contains(t, html, "&lt;script&gt;x&lt;/script&gt;")
	assert.NotContains(t, html, "<script>x")
	assert.Contains(t, html, `data-priority="high"`)
	assert.Contains(t, html, `id="task-t1"`)
	assert.Contains(t, html, "alice@example.com")
}

func TestPage_ConflictPanelOnlyWhenOpen(t *testing.T) {
	html := render(t, PageData{})
	assert.NotContains(t, html, `class="conflict"`)

	conflict := &syncengine.ConflictContext{
		TaskID: "t1",
		Origin: syncengine.OriginEdit,
		Client: contracts.Task{ID: "t1", Title: "Mine", Status: contracts.StatusTodo},
		Server: contracts.Task{ID: "t1", Title: "Theirs", Status: contracts.StatusDone},
	}
	html = render(t, PageData{Conflict: conflict, QueuedConflicts: 2})
	assert.Contains(t, html, "Conflict on Theirs")
	assert.Contains(t, html, "2 more waiting")
	assert.Contains(t, html, `value="merge"`)
	assert.Contains(t, html, `value="cancel"`)
}

func TestDetailLines(t *testing.T) {
	lines := DetailLines(map[string]contracts.FieldChange{
		"status":     {Old: "Todo", New: "Done"},
		"assignedTo": {Old: "", New: "bob@example.com"},
	})
	assert.Equal(t, []string{
		"assignedTo: (none) → bob@example.com",
		"status: Todo → Done",
	}, lines)
}

func TestNotices(t *testing.T) {
	html := render(t, PageData{Notices: []syncengine.Notice{
		{Kind: syncengine.NoticeError, Message: "Task not found"},
	}})
	assert.Contains(t, html, `data-kind="error"`)
	assert.Contains(t, html, "Task not found")
}

func TestSelectField_MarksCurrentValue(t *testing.T) {
	var buf bytes.Buffer
	users := []contracts.User{{ID: "u1", Email: "alice@example.com"}, {ID: "u2", Email: "bob@example.com"}}
	require.NoError(t, selectField("assignedTo", userOptions(users), "u2").Render(context.Background(), &buf))

	html := buf.String()
	assert.Contains(t, html, `<option value="u2" selected>bob@example.com</option>`)
	assert.Contains(t, html, `<option value="u1">alice@example.com</option>`)
	assert.Contains(t, html, `<option value="">Unassigned</option>`)
}

func TestVersionRows_MissingAssignee(t *testing.T) {
	rows := versionRows(contracts.Task{Title: "Mine"})
	require.Len(t, rows, 5)
	assert.Equal(t, versionRow{"Assignee", "(none)"}, rows[4])
}

func TestStaticHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	StaticHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/board.css", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), ".board")
}
