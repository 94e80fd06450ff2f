package boardserver

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/todo-1m/board/internal/contracts"
)

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

const createTasksSQL = `
CREATE TABLE IF NOT EXISTS board_tasks (
  id text PRIMARY KEY,
  title text NOT NULL,
  description text NOT NULL DEFAULT '',
  status text NOT NULL,
  priority text NOT NULL,
  assignee_id text,
  assignee_email text,
  created_at timestamptz NOT NULL,
  updated_at timestamptz NOT NULL
)`

const createTaskTitleIndexSQL = `
CREATE UNIQUE INDEX IF NOT EXISTS board_tasks_title_lower_idx ON board_tasks (lower(title))`

const createActivitySQL = `
CREATE TABLE IF NOT EXISTS board_activity (
  seq bigserial PRIMARY KEY,
  id text NOT NULL UNIQUE,
  performed_by_email text NOT NULL,
  action text NOT NULL,
  task_title text NOT NULL,
  details jsonb,
  logged_at timestamptz NOT NULL
)`

const taskColumns = `id, title, description, status, priority, assignee_id, assignee_email, created_at, updated_at`

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{createTasksSQL, createTaskTitleIndexSQL, createActivitySQL} {
		if _, err := r.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func scanTask(row pgx.Row) (contracts.Task, error) {
	var (
		t             contracts.Task
		assigneeID    *string
		assigneeEmail *string
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.Priority, &assigneeID, &assigneeEmail, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return contracts.Task{}, err
	}
	if assigneeID != nil && *assigneeID != "" {
		u := contracts.User{ID: *assigneeID}
		if assigneeEmail != nil {
			u.Email = *assigneeEmail
		}
		t.AssignedTo = &u
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

func assigneeColumns(t contracts.Task) (*string, *string) {
	if t.AssignedTo == nil {
		return nil, nil
	}
	id, email := t.AssignedTo.ID, t.AssignedTo.Email
	return &id, &email
}

func (r *PostgresRepository) ListTasks(ctx context.Context) ([]contracts.Task, error) {
	rows, err := r.Pool.Query(ctx, `SELECT `+taskColumns+` FROM board_tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]contracts.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *PostgresRepository) GetTask(ctx context.Context, id string) (contracts.Task, error) {
	t, err := scanTask(r.Pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM board_tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return contracts.Task{}, ErrTaskNotFound
	}
	return t, err
}

func (r *PostgresRepository) TitleTaken(ctx context.Context, title, exceptID string) (bool, error) {
	var exists bool
	err := r.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM board_tasks WHERE lower(title) = lower($1) AND id <> $2)`,
		title, exceptID,
	).Scan(&exists)
	return exists, err
}

func (r *PostgresRepository) InsertTask(ctx context.Context, t contracts.Task) error {
	assigneeID, assigneeEmail := assigneeColumns(t)
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO board_tasks (`+taskColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.Title, t.Description, t.Status, t.Priority, assigneeID, assigneeEmail, t.CreatedAt, t.UpdatedAt,
	)
	return err
}

// ReplaceTask checks and stamps the version in one statement so concurrent
// writers cannot both pass the check.
func (r *PostgresRepository) ReplaceTask(ctx context.Context, t contracts.Task, expected *time.Time, now time.Time) (contracts.Task, error) {
	assigneeID, assigneeEmail := assigneeColumns(t)
	updated, err := scanTask(r.Pool.QueryRow(ctx,
		`UPDATE board_tasks SET
		   title = $2, description = $3, status = $4, priority = $5,
		   assignee_id = $6, assignee_email = $7,
		   updated_at = GREATEST(date_trunc('microseconds', $8::timestamptz), updated_at + interval '1 microsecond')
		 WHERE id = $1 AND ($9::timestamptz IS NULL OR updated_at = $9::timestamptz)
		 RETURNING `+taskColumns,
		t.ID, t.Title, t.Description, t.Status, t.Priority, assigneeID, assigneeEmail, now.UTC(), expected,
	))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return contracts.Task{}, err
	}

	current, getErr := r.GetTask(ctx, t.ID)
	if getErr != nil {
		return contracts.Task{}, getErr
	}
	return current, ErrStaleVersion
}

func (r *PostgresRepository) DeleteTask(ctx context.Context, id string) (contracts.Task, error) {
	t, err := scanTask(r.Pool.QueryRow(ctx, `DELETE FROM board_tasks WHERE id = $1 RETURNING `+taskColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return contracts.Task{}, ErrTaskNotFound
	}
	return t, err
}

func (r *PostgresRepository) OpenTaskCounts(ctx context.Context) (map[string]int, error) {
	rows, err := r.Pool.Query(ctx,
		`SELECT assignee_id, count(*) FROM board_tasks
		 WHERE status <> $1 AND assignee_id IS NOT NULL
		 GROUP BY assignee_id`,
		contracts.StatusDone,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var (
			id    string
			count int
		)
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		counts[id] = count
	}
	return counts, rows.Err()
}

func (r *PostgresRepository) AppendActivity(ctx context.Context, e contracts.ActivityLogEntry) error {
	var details []byte
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return err
		}
		details = raw
	}
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO board_activity (id, performed_by_email, action, task_title, details, logged_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.PerformedByEmail, e.Action, e.TaskTitle, details, e.Timestamp,
	)
	return err
}

func (r *PostgresRepository) ListActivity(ctx context.Context, limit int) ([]contracts.ActivityLogEntry, error) {
	rows, err := r.Pool.Query(ctx,
		`SELECT id, performed_by_email, action, task_title, details, logged_at
		 FROM board_activity ORDER BY seq DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]contracts.ActivityLogEntry, 0, limit)
	for rows.Next() {
		var (
			e       contracts.ActivityLogEntry
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.PerformedByEmail, &e.Action, &e.TaskTitle, &details, &e.Timestamp); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, err
			}
		}
		e.Timestamp = e.Timestamp.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
