package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "Invoke-Chain/internal/errors"
	"Invoke-Chain/internal/task"
)

// TaskStore keeps task state in the task_states table.
type TaskStore struct {
	db *sql.DB
}

// NewTaskStore wraps a migrated pool.
func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db}
}

const taskColumns = `id, function_name, groups_json, values_json, status, attempts, max_retries, last_error, error_code,
        result_json, created_at, updated_at`

const insertTaskSQL = `INSERT INTO task_states
        (id, function_name, groups_json, values_json, status, attempts, max_retries, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`

// Create inserts t. A duplicate id yields task.ErrTaskConflict.
func (s *TaskStore) Create(ctx context.Context, t *task.Task) error {
	if t == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task cannot be nil")
	}
	if strings.TrimSpace(t.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "task id cannot be empty")
	}

	now := time.Now().Unix()
	if t.CreatedAt == 0 {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	groups, err := encodeGroups(t.Groups)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode task groups")
	}
	values, err := encodeJSON(t.Values)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode task values")
	}

	_, err = s.db.ExecContext(ctx, insertTaskSQL,
		t.ID,
		t.Function,
		groups,
		values,
		string(t.Status),
		t.Attempts,
		t.MaxRetries,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return task.ErrTaskConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "insert task")
	}
	return nil
}

// Get returns the task with id.
func (s *TaskStore) Get(ctx context.Context, id string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM task_states WHERE id = ?`, id)
	t, err := scanTask(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, task.ErrTaskNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "query task")
	}
	return t, nil
}

const claimTaskSQL = `UPDATE task_states SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status = ? AND attempts < max_retries`

// Claim moves a pending task to running. When no row changes, the current
// state decides which error explains why.
func (s *TaskStore) Claim(ctx context.Context, id string) (*task.Task, error) {
	res, err := s.db.ExecContext(ctx, claimTaskSQL,
		string(task.StatusRunning),
		time.Now().Unix(),
		id,
		string(task.StatusPending),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "claim task")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "claim task")
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected > 0 {
		return current, nil
	}
	switch current.Status {
	case task.StatusSucceeded:
		return current, task.ErrTaskCompleted
	case task.StatusRunning:
		return current, task.ErrTaskConflict
	default:
		return current, task.ErrTaskExhausted
	}
}

const markSucceededSQL = `UPDATE task_states SET status = ?, result_json = ?, updated_at = ?, last_error = '', error_code = '' WHERE id = ?`

// MarkSucceeded records result.
func (s *TaskStore) MarkSucceeded(ctx context.Context, id string, result task.ExecutionResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode task result")
	}
	res, err := s.db.ExecContext(ctx, markSucceededSQL,
		string(task.StatusSucceeded),
		string(raw),
		time.Now().Unix(),
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "mark task succeeded")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return task.ErrTaskNotFound
	}
	return nil
}

const markFailedSQL = `UPDATE task_states SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`

// MarkFailed records a failed attempt.
func (s *TaskStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	status := task.StatusPending
	if terminal {
		status = task.StatusFailed
	}
	res, err := s.db.ExecContext(ctx, markFailedSQL,
		string(status),
		lastError,
		string(code),
		time.Now().Unix(),
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "mark task failed")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return task.ErrTaskNotFound
	}
	return nil
}

// List returns the tasks matching opts.
func (s *TaskStore) List(ctx context.Context, opts task.ListOptions) ([]*task.Task, error) {
	opts.Normalize()

	query := `SELECT ` + taskColumns + ` FROM task_states`
	clause, args := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	if opts.Order == task.SortByUpdatedAsc {
		query += " ORDER BY updated_at ASC, created_at ASC, id ASC"
	} else {
		query += " ORDER BY updated_at DESC, created_at DESC, id DESC"
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list tasks")
	}
	defer rows.Close()

	tasks := make([]*task.Task, 0, opts.Limit)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan task")
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "iterate tasks")
	}
	return tasks, nil
}

// Stats aggregates the tasks matching opts.
func (s *TaskStore) Stats(ctx context.Context, opts task.ListOptions) (task.TaskStats, error) {
	opts.Normalize()

	query := `SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS running,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS succeeded,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM task_states`
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	args := []any{string(task.StatusPending), string(task.StatusRunning), string(task.StatusSucceeded), string(task.StatusFailed)}
	args = append(args, filterArgs...)

	var stats task.TaskStats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return task.TaskStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "query task stats")
	}
	return stats, nil
}

// Close releases the pool.
func (s *TaskStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var (
		t         task.Task
		status    string
		groups    sql.NullString
		values    sql.NullString
		lastError sql.NullString
		result    sql.NullString
	)
	if err := row.Scan(
		&t.ID,
		&t.Function,
		&groups,
		&values,
		&status,
		&t.Attempts,
		&t.MaxRetries,
		&lastError,
		&t.ErrorCode,
		&result,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.Status = task.Status(status)
	t.LastError = lastError.String
	if err := decodeJSON(groups, &t.Groups); err != nil {
		return nil, fmt.Errorf("decode task groups: %w", err)
	}
	if err := decodeJSON(values, &t.Values); err != nil {
		return nil, fmt.Errorf("decode task values: %w", err)
	}
	if result.Valid && result.String != "" {
		t.Result = &task.ExecutionResult{}
		if err := json.Unmarshal([]byte(result.String), t.Result); err != nil {
			return nil, fmt.Errorf("decode task result: %w", err)
		}
	}
	return &t, nil
}

func buildFilterClause(opts task.ListOptions) (string, []any) {
	var (
		conditions []string
		args       []any
	)
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, len(opts.Statuses))
		for i, status := range opts.Statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.HasResult != nil {
		if *opts.HasResult {
			conditions = append(conditions, "(result_json IS NOT NULL AND result_json <> '')")
		} else {
			conditions = append(conditions, "(result_json IS NULL OR result_json = '')")
		}
	}
	if opts.Query != "" {
		pattern := "%" + opts.Query + "%"
		conditions = append(conditions, "(id LIKE ? OR function_name LIKE ? OR last_error LIKE ?)")
		args = append(args, pattern, pattern, pattern)
	}
	return strings.Join(conditions, " AND "), args
}

// encodeGroups stores nil groups as NULL and an empty list as "[]" so the
// default-groups case survives a round trip.
func encodeGroups(groups []string) (sql.NullString, error) {
	if groups == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(groups)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

var _ task.Store = (*TaskStore)(nil)
