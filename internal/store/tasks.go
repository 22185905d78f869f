package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/frak-id/atelier-sub002/internal/models"
)

// ErrNotFound is returned by Mutate when the task row does not exist.
var ErrNotFound = errors.New("task not found")

const taskColumns = `id, workspace_id, title, status, sort_order, data, created_at, updated_at`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TaskStore handles CRUD operations for tasks.
type TaskStore struct {
	db *DB
}

func NewTaskStore(db *DB) *TaskStore {
	return &TaskStore{db: db}
}

// MutateFunc edits a freshly read task inside a write transaction. Returning
// an error aborts the transaction and leaves the row untouched.
type MutateFunc func(tx *TaskTx, t *models.Task) error

// TaskTx exposes the column queries a transition needs, bound to the
// transaction that holds the row.
type TaskTx struct {
	q querier
}

// NextOrder returns max(order)+1 in the (workspace, status) column, or 0 when
// the column is empty.
func (tx *TaskTx) NextOrder(ctx context.Context, workspaceID string, status models.TaskStatus) (int, error) {
	return nextOrder(ctx, tx.q, workspaceID, status)
}

// CountByStatuses counts the workspace's tasks in any of the given statuses.
func (tx *TaskTx) CountByStatuses(ctx context.Context, workspaceID string, statuses []models.TaskStatus) (int, error) {
	return countByStatuses(ctx, tx.q, workspaceID, statuses)
}

// Insert stores a new task.
func (s *TaskStore) Insert(ctx context.Context, t *models.Task) error {
	return insertTask(ctx, s.db, t)
}

// InsertNext places a new task at the end of its (workspace, status) column
// and stores it. The order read and the insert share one transaction, so
// concurrent inserts never receive the same order.
func (s *TaskStore) InsertNext(ctx context.Context, t *models.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	order, err := nextOrder(ctx, tx, t.WorkspaceID, t.Status)
	if err != nil {
		return err
	}
	t.Data.Order = order

	if err := insertTask(ctx, tx, t); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit task insert: %w", err)
	}
	return nil
}

func insertTask(ctx context.Context, q querier, t *models.Task) error {
	dataJSON, err := json.Marshal(t.Data)
	if err != nil {
		return fmt.Errorf("marshal task data: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.WorkspaceID, t.Title, string(t.Status), t.Data.Order,
		string(dataJSON), t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Get fetches a task by ID. It returns nil, nil when the task does not exist.
func (s *TaskStore) Get(ctx context.Context, id string) (*models.Task, error) {
	return getTask(ctx, s.db, id)
}

// List returns the tasks of a workspace (all tasks when workspaceID is
// empty), grouped by status and sorted by column order.
func (s *TaskStore) List(ctx context.Context, workspaceID string) ([]*models.Task, error) {
	where := ""
	var args []any
	if workspaceID != "" {
		where = "WHERE workspace_id = ?"
		args = append(args, workspaceID)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM tasks %s
		ORDER BY workspace_id, status, sort_order ASC, created_at ASC
	`, taskColumns, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListByStatus returns every task in the given status across workspaces.
func (s *TaskStore) ListByStatus(ctx context.Context, status models.TaskStatus) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = ?
		ORDER BY workspace_id, sort_order ASC
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list tasks by status: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// NextOrder returns the next free order in the (workspace, status) column.
func (s *TaskStore) NextOrder(ctx context.Context, workspaceID string, status models.TaskStatus) (int, error) {
	return nextOrder(ctx, s.db, workspaceID, status)
}

// CountByStatuses counts the workspace's tasks in any of the given statuses.
func (s *TaskStore) CountByStatuses(ctx context.Context, workspaceID string, statuses []models.TaskStatus) (int, error) {
	return countByStatuses(ctx, s.db, workspaceID, statuses)
}

// Mutate re-reads the task inside a write transaction, applies fn and
// persists the result. Concurrent mutations of the same row are serialized,
// so fn always observes the latest committed state.
func (s *TaskStore) Mutate(ctx context.Context, id string, fn MutateFunc) (*models.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	t, err := getTask(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrNotFound
	}

	if err := fn(&TaskTx{q: tx}, t); err != nil {
		return nil, err
	}

	t.UpdatedAt = time.Now().UTC()
	dataJSON, err := json.Marshal(t.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal task data: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE tasks SET title = ?, status = ?, sort_order = ?, data = ?, updated_at = ?
		WHERE id = ?
	`, t.Title, string(t.Status), t.Data.Order, string(dataJSON), t.UpdatedAt.UnixMilli(), id)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit task update: %w", err)
	}
	return t, nil
}

// Delete removes a task. It reports whether a row was deleted.
func (s *TaskStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func getTask(ctx context.Context, q querier, id string) (*models.Task, error) {
	t, err := scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func nextOrder(ctx context.Context, q querier, workspaceID string, status models.TaskStatus) (int, error) {
	var maxOrder sql.NullInt64
	err := q.QueryRowContext(ctx, `
		SELECT MAX(sort_order) FROM tasks WHERE workspace_id = ? AND status = ?
	`, workspaceID, string(status)).Scan(&maxOrder)
	if err != nil {
		return 0, fmt.Errorf("next order: %w", err)
	}
	if !maxOrder.Valid {
		return 0, nil
	}
	return int(maxOrder.Int64) + 1, nil
}

func countByStatuses(ctx context.Context, q querier, workspaceID string, statuses []models.TaskStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	placeholders := make([]string, len(statuses))
	args := []any{workspaceID}
	for i, st := range statuses {
		placeholders[i] = "?"
		args = append(args, string(st))
	}

	var count int
	err := q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*) FROM tasks WHERE workspace_id = ? AND status IN (%s)
	`, strings.Join(placeholders, ", ")), args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count tasks by status: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	var status, dataJSON string
	var sortOrder int
	var createdAt, updatedAt int64

	if err := row.Scan(
		&t.ID, &t.WorkspaceID, &t.Title, &status, &sortOrder,
		&dataJSON, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(dataJSON), &t.Data); err != nil {
		return nil, fmt.Errorf("decode task data %s: %w", t.ID, err)
	}
	t.Status = models.TaskStatus(status)
	t.Data.Order = sortOrder
	if t.Data.Sessions == nil {
		t.Data.Sessions = []models.TaskSession{}
	}
	t.CreatedAt = time.UnixMilli(createdAt).UTC()
	t.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*models.Task, error) {
	var result []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}
