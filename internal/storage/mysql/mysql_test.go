package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	gomysql "github.com/go-sql-driver/mysql"

	xerrors "Invoke-Chain/internal/errors"
	"Invoke-Chain/internal/task"
)

func TestConfigValidate(t *testing.T) {
	if err := (Config{}).Validate(); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
	if err := (Config{DSN: "user:pass@tcp(localhost:3306)/invoke?parseTime=true"}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (Config{DSN: "user:pass@tcp(localhost:3306"}).Validate(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestFileAuditRepositoryPersists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	repo, err := NewFileAuditRepository(dir)
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	for i, fn := range []string{"first", "second", "third"} {
		record := &AuditRecord{InvocationID: fmt.Sprintf("inv-%d", i), Function: fn, Groups: []string{"api"}, Status: AuditSucceeded, CreatedAt: int64(i)}
		if err := repo.Save(ctx, record); err != nil {
			t.Fatalf("save: %v", err)
		}
		if record.ID != int64(i+1) {
			t.Fatalf("expected id %d, got %d", i+1, record.ID)
		}
	}

	latest, err := repo.ListLatest(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(latest) != 2 || latest[0].Function != "third" || latest[1].Function != "second" {
		t.Fatalf("unexpected latest records: %+v", latest)
	}

	reopened, err := NewFileAuditRepository(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	all, _ := reopened.ListLatest(ctx, 0)
	if len(all) != 3 || all[0].Function != "third" || all[2].Groups[0] != "api" {
		t.Fatalf("records not restored from disk: %+v", all)
	}
	next := &AuditRecord{Function: "fourth"}
	if err := reopened.Save(ctx, next); err != nil || next.ID != 4 {
		t.Fatalf("ids must continue after reload, got %d, %v", next.ID, err)
	}
}

func TestSQLAuditRepositorySave(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		execOp(insertAuditSQL, mockResult{lastInsertID: 9, rowsAffected: 1}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	repo := NewSQLAuditRepository(db)
	record := &AuditRecord{InvocationID: "inv", Function: "greet", Groups: []string{"api"}, Status: AuditSucceeded, DurationMS: 3, CreatedAt: 1}
	if err := repo.Save(context.Background(), record); err != nil {
		t.Fatalf("save: %v", err)
	}
	if record.ID != 9 {
		t.Fatalf("expected id 9, got %d", record.ID)
	}
}

func TestSQLAuditRepositoryListLatest(t *testing.T) {
	t.Parallel()

	rows := mockRowsData{
		columns: []string{"id", "invocation_id", "function_name", "groups_json", "status", "error_message", "error_code", "duration_ms", "created_at"},
		values: [][]driver.Value{
			{int64(2), "inv-2", "transfer", `["api","web"]`, AuditFailed, "boom", "INVOCATION_FAILED", int64(5), int64(20)},
			{int64(1), "inv-1", "greet", nil, AuditSucceeded, nil, "", int64(1), int64(10)},
		},
	}
	db, drv := newMockDB(t, []mockOperation{queryOp(listAuditSQL, rows)})
	defer drv.assertConsumed(t)
	defer db.Close()

	list, err := NewSQLAuditRepository(db).ListLatest(context.Background(), 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Error != "boom" || len(list[0].Groups) != 2 || list[1].Groups != nil {
		t.Fatalf("unexpected records: %+v", list)
	}
}

func taskRow(id, status string, attempts, maxRetries int64, result any) []driver.Value {
	return []driver.Value{id, "transfer", `["api"]`, `{"amount":5}`, status, attempts, maxRetries, nil, "", result, int64(1), int64(2)}
}

var taskRowColumns = []string{"id", "function_name", "groups_json", "values_json", "status", "attempts", "max_retries", "last_error", "error_code", "result_json", "created_at", "updated_at"}

const getTaskSQL = `SELECT ` + taskColumns + ` FROM task_states WHERE id = ?`

func TestTaskStoreCreateConflict(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		execOp(insertTaskSQL, mockResult{rowsAffected: 1}),
		{typ: opExec, query: insertTaskSQL, err: &gomysql.MySQLError{Number: 1062, Message: "Duplicate entry"}},
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := NewTaskStore(db)
	tk := &task.Task{ID: "t1", Function: "transfer", Groups: []string{"api"}, Values: map[string]any{"amount": 5}, Status: task.StatusPending, MaxRetries: 3}
	if err := store.Create(context.Background(), tk); err != nil {
		t.Fatalf("create: %v", err)
	}
	if tk.CreatedAt == 0 || tk.UpdatedAt == 0 {
		t.Fatalf("timestamps not set: %+v", tk)
	}
	if err := store.Create(context.Background(), tk); !errors.Is(err, task.ErrTaskConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestTaskStoreGetDecodesColumns(t *testing.T) {
	t.Parallel()

	rows := mockRowsData{columns: taskRowColumns, values: [][]driver.Value{
		taskRow("t1", string(task.StatusSucceeded), 1, 3, `{"invocation_id":"inv","value":"ok","duration_ms":4}`),
	}}
	db, drv := newMockDB(t, []mockOperation{
		queryOp(getTaskSQL, rows),
		queryOp(getTaskSQL, mockRowsData{columns: taskRowColumns}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := NewTaskStore(db)
	got, err := store.Get(context.Background(), "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != task.StatusSucceeded || got.Groups[0] != "api" || got.Values["amount"] != float64(5) {
		t.Fatalf("unexpected task: %+v", got)
	}
	if got.Result == nil || string(got.Result.Value) != `"ok"` || got.Result.InvocationID != "inv" {
		t.Fatalf("unexpected result: %+v", got.Result)
	}

	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, task.ErrTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTaskStoreKeepsEmptyGroups(t *testing.T) {
	t.Parallel()

	groupsArg := func(want any) func([]driver.NamedValue) error {
		return func(args []driver.NamedValue) error {
			if args[2].Value != want {
				return fmt.Errorf("groups column: got %#v, want %#v", args[2].Value, want)
			}
			return nil
		}
	}
	insertEmpty := execOp(insertTaskSQL, mockResult{rowsAffected: 1})
	insertEmpty.check = groupsArg("[]")
	insertNil := execOp(insertTaskSQL, mockResult{rowsAffected: 1})
	insertNil.check = groupsArg(nil)

	row := func(id string, groups any) mockRowsData {
		return mockRowsData{columns: taskRowColumns, values: [][]driver.Value{
			{id, "echo", groups, nil, string(task.StatusPending), int64(0), int64(3), nil, "", nil, int64(1), int64(1)},
		}}
	}
	db, drv := newMockDB(t, []mockOperation{
		insertEmpty,
		insertNil,
		queryOp(getTaskSQL, row("t1", "[]")),
		queryOp(getTaskSQL, row("t2", nil)),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := NewTaskStore(db)
	ctx := context.Background()
	if err := store.Create(ctx, &task.Task{ID: "t1", Function: "echo", Groups: []string{}, Status: task.StatusPending}); err != nil {
		t.Fatalf("create with empty groups: %v", err)
	}
	if err := store.Create(ctx, &task.Task{ID: "t2", Function: "echo", Status: task.StatusPending}); err != nil {
		t.Fatalf("create with nil groups: %v", err)
	}

	got, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Groups == nil || len(got.Groups) != 0 {
		t.Fatalf("expected empty non-nil groups, got %#v", got.Groups)
	}
	got, err = store.Get(ctx, "t2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Groups != nil {
		t.Fatalf("expected nil groups, got %#v", got.Groups)
	}
}

func TestTaskStoreClaim(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		execOp(claimTaskSQL, mockResult{rowsAffected: 1}),
		queryOp(getTaskSQL, mockRowsData{columns: taskRowColumns, values: [][]driver.Value{taskRow("t1", string(task.StatusRunning), 1, 3, nil)}}),
		execOp(claimTaskSQL, mockResult{rowsAffected: 0}),
		queryOp(getTaskSQL, mockRowsData{columns: taskRowColumns, values: [][]driver.Value{taskRow("t2", string(task.StatusSucceeded), 1, 3, nil)}}),
		execOp(claimTaskSQL, mockResult{rowsAffected: 0}),
		queryOp(getTaskSQL, mockRowsData{columns: taskRowColumns, values: [][]driver.Value{taskRow("t3", string(task.StatusPending), 3, 3, nil)}}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := NewTaskStore(db)
	claimed, err := store.Claim(context.Background(), "t1")
	if err != nil || claimed.Status != task.StatusRunning {
		t.Fatalf("unexpected claim: %+v, %v", claimed, err)
	}
	if _, err := store.Claim(context.Background(), "t2"); !errors.Is(err, task.ErrTaskCompleted) {
		t.Fatalf("expected completed, got %v", err)
	}
	if _, err := store.Claim(context.Background(), "t3"); !errors.Is(err, task.ErrTaskExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
}

func TestTaskStoreMarkFailedNotFound(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		execOp(markFailedSQL, mockResult{rowsAffected: 0}),
		execOp(markSucceededSQL, mockResult{rowsAffected: 1}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := NewTaskStore(db)
	if err := store.MarkFailed(context.Background(), "nope", task.CodeTaskProcessing, "boom", true); !errors.Is(err, task.ErrTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.MarkSucceeded(context.Background(), "t1", task.ExecutionResult{Value: []byte("1")}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
}

func TestTaskStoreListBuildsFilters(t *testing.T) {
	t.Parallel()

	opts := task.BuildListOptions([]task.ListOption{
		task.WithStatuses(task.StatusFailed, task.StatusPending),
		task.WithQuery("trans"),
		task.WithSortOrder(task.SortByUpdatedAsc),
		task.WithLimit(5),
	})
	want := `SELECT ` + taskColumns + ` FROM task_states WHERE status IN (?,?) AND (id LIKE ? OR function_name LIKE ? OR last_error LIKE ?)
        ORDER BY updated_at ASC, created_at ASC, id ASC LIMIT ? OFFSET ?`
	rows := mockRowsData{columns: taskRowColumns, values: [][]driver.Value{taskRow("t1", string(task.StatusFailed), 3, 3, nil)}}
	db, drv := newMockDB(t, []mockOperation{queryOp(want, rows)})
	defer drv.assertConsumed(t)
	defer db.Close()

	list, err := NewTaskStore(db).List(context.Background(), opts)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Result != nil {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestTaskStoreStorageErrorsAreCoded(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		{typ: opExec, query: markFailedSQL, err: errors.New("connection reset")},
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	err := NewTaskStore(db).MarkFailed(context.Background(), "t1", task.CodeTaskProcessing, "boom", false)
	if xerrors.CodeOf(err) != xerrors.CodeStorageFailure || !xerrors.RetryableError(err) {
		t.Fatalf("expected retryable storage failure, got %v", err)
	}
}

func TestMigrateAppliesPendingFiles(t *testing.T) {
	t.Parallel()

	files, err := loadMigrationFiles()
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(files) != 2 || files[0].version != "0001" || files[1].version != "0002" {
		t.Fatalf("unexpected migration files: %+v", files)
	}

	ops := []mockOperation{
		execOp(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}, values: [][]driver.Value{{"0001"}}}),
		beginOp(),
	}
	for _, stmt := range files[1].statements {
		ops = append(ops, execOp(stmt, mockResult{}))
	}
	ops = append(ops,
		execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}),
		commitOp(),
	)
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func TestMigrateRollsBackFailedStatement(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
		beginOp(),
		{typ: opExec, err: errors.New("syntax error")},
		rollbackOp(),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := Migrate(context.Background(), db); err == nil || !strings.Contains(err.Error(), "0001_create_invocation_audit.sql") {
		t.Fatalf("expected failure naming the migration, got %v", err)
	}
}

type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

type mockOperation struct {
	typ    operationType
	query  string
	result mockResult
	rows   mockRowsData
	err    error
	check  func(args []driver.NamedValue) error
}

type mockResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r mockResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r mockResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockRowsData struct {
	columns []string
	values  [][]driver.Value
}

type queueDriver struct {
	ops []mockOperation
	idx int32
}

var driverSeq atomic.Int32

func newMockDB(t *testing.T, ops []mockOperation) (*sql.DB, *queueDriver) {
	t.Helper()

	drv := &queueDriver{ops: ops}
	name := fmt.Sprintf("mock-mysql-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, drv
}

func execOp(query string, result mockResult) mockOperation {
	return mockOperation{typ: opExec, query: query, result: result}
}

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{typ: opQuery, query: query, rows: rows}
}

func beginOp() mockOperation { return mockOperation{typ: opBegin} }

func commitOp() mockOperation { return mockOperation{typ: opCommit} }

func rollbackOp() mockOperation { return mockOperation{typ: opRollback} }

func (d *queueDriver) assertConsumed(t *testing.T) {
	t.Helper()

	if int(atomic.LoadInt32(&d.idx)) != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", atomic.LoadInt32(&d.idx), len(d.ops))
	}
}

func (d *queueDriver) Open(name string) (driver.Conn, error) {
	return &mockConn{driver: d}, nil
}

type mockConn struct {
	driver *queueDriver
}

func (c *mockConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *mockConn) Close() error { return nil }

func (c *mockConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *mockConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	op, err := c.next(opBegin, "")
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockTx{driver: c.driver}, nil
}

func (c *mockConn) Exec(query string, args []driver.Value) (driver.Result, error) {
	return c.ExecContext(context.Background(), query, named(args))
}

func (c *mockConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.next(opExec, query)
	if err != nil {
		return nil, err
	}
	if op.check != nil {
		if err := op.check(args); err != nil {
			return nil, err
		}
	}
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *mockConn) Query(query string, args []driver.Value) (driver.Rows, error) {
	return c.QueryContext(context.Background(), query, named(args))
}

func (c *mockConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.next(opQuery, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockRows{columns: op.rows.columns, values: op.rows.values}, nil
}

func (c *mockConn) Ping(ctx context.Context) error { return nil }

func (c *mockConn) next(expected operationType, query string) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&c.driver.idx))
	if idx >= len(c.driver.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &c.driver.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", expected, op.typ)
	}
	atomic.AddInt32(&c.driver.idx, 1)
	if op.query != "" {
		expectedSQL := normalizeSQL(op.query)
		actualSQL := normalizeSQL(query)
		if expectedSQL != actualSQL {
			return nil, fmt.Errorf("unexpected query. want %q got %q", expectedSQL, actualSQL)
		}
	}
	return op, nil
}

type mockTx struct {
	driver *queueDriver
}

func (t *mockTx) Commit() error {
	op, err := t.next(opCommit)
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) Rollback() error {
	op, err := t.next(opRollback)
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) next(expected operationType) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&t.driver.idx))
	if idx >= len(t.driver.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &t.driver.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", expected, op.typ)
	}
	atomic.AddInt32(&t.driver.idx, 1)
	return op, nil
}

type mockRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *mockRows) Columns() []string { return r.columns }
func (r *mockRows) Close() error      { return nil }

func (r *mockRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func named(args []driver.Value) []driver.NamedValue {
	namedArgs := make([]driver.NamedValue, len(args))
	for i, arg := range args {
		namedArgs[i] = driver.NamedValue{Ordinal: i + 1, Value: arg}
	}
	return namedArgs
}

func normalizeSQL(query string) string {
	fields := strings.Fields(query)
	return strings.Join(fields, " ")
}
