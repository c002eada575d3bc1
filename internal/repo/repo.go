package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"nexusdao/internal/domain"
)

// Repo is the Task Store and profile storage. It performs no authorization.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = domain.ErrNotFound

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn inside one transaction, committing when fn returns nil.
func (r Repo) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

const taskColumns = `id,title,description,priority,deadline,creator,assignee,status,created_at,updated_at,completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var assignee, completedAt sql.NullString
	var creator, status string
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Priority, &t.Deadline, &creator, &assignee, &status, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Creator = domain.Identity(creator)
	t.Status = domain.TaskStatus(status)
	if assignee.Valid {
		id := domain.Identity(assignee.String)
		t.Assignee = &id
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

// InsertTask stores a new task and returns its assigned id.
func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO tasks(title,description,priority,deadline,creator,assignee,status,created_at,updated_at,completed_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.Title, t.Description, t.Priority, t.Deadline, string(t.Creator), nullableIdentity(t.Assignee), string(t.Status),
		t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}
	return res.LastInsertId()
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, priority=?, deadline=?, assignee=?, status=?, updated_at=?, completed_at=? WHERE id=?`,
		t.Title, t.Description, t.Priority, t.Deadline, nullableIdentity(t.Assignee), string(t.Status),
		t.UpdatedAt, nullableStringPtr(t.CompletedAt), t.ID)
	if err != nil {
		return fmt.Errorf("update task %d: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	return r.GetTaskTx(ctx, r.DB, id)
}

func (r Repo) GetTaskTx(ctx context.Context, q Querier, id int64) (domain.Task, error) {
	t, err := scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
	if errors.Is(err, ErrNotFound) {
		return t, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return t, err
}

// MutateTaskTx reads the task, applies fn, and writes the result inside tx.
// fn sees the committed state and no other writer can interleave until tx ends.
func (r Repo) MutateTaskTx(ctx context.Context, tx *sql.Tx, id int64, fn func(t *domain.Task) error) (domain.Task, error) {
	t, err := r.GetTaskTx(ctx, tx, id)
	if err != nil {
		return t, err
	}
	if err := fn(&t); err != nil {
		return t, err
	}
	if err := r.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	return t, nil
}

// MutateTask is MutateTaskTx in its own transaction.
func (r Repo) MutateTask(ctx context.Context, id int64, fn func(t *domain.Task) error) (domain.Task, error) {
	var out domain.Task
	err := r.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = r.MutateTaskTx(ctx, tx, id, fn)
		return err
	})
	return out, err
}

// Sort keys accepted by TaskFilters.SortBy.
const (
	SortByID       = "id"
	SortByPriority = "priority"
	SortByDeadline = "deadline"
)

type TaskFilters struct {
	Status   domain.TaskStatus
	Assignee domain.Identity
	Creator  domain.Identity
	SortBy   string
	Desc     bool
	Limit    int
}

// ListTasks returns tasks matching f; with no sort key they come back in insertion order.
func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	if f.Assignee != "" {
		clauses = append(clauses, "assignee=?")
		args = append(args, string(f.Assignee))
	}
	if f.Creator != "" {
		clauses = append(clauses, "creator=?")
		args = append(args, string(f.Creator))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	dir := "ASC"
	if f.Desc {
		dir = "DESC"
	}
	var order string
	switch f.SortBy {
	case "", SortByID:
		order = "id " + dir
	case SortByPriority:
		order = "priority " + dir + ", id ASC"
	case SortByDeadline:
		order = "deadline " + dir + ", id ASC"
	default:
		return nil, fmt.Errorf("sort key %q: %w", f.SortBy, domain.ErrInvalidArgument)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY ` + order
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) CountTasksByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.TaskStatus]int{}
	for _, s := range domain.Statuses {
		res[s] = 0
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[domain.TaskStatus(status)] = count
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableIdentity(v *domain.Identity) any {
	if v == nil || *v == "" {
		return nil
	}
	return string(*v)
}
