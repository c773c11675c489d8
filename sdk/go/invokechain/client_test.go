package invokechain

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"Invoke-Chain/internal/api"
	"Invoke-Chain/internal/auth"
	"Invoke-Chain/internal/catalog"
	"Invoke-Chain/internal/queue"
	"Invoke-Chain/internal/task"
	"Invoke-Chain/pkg/invoke"
)

func newServer(t *testing.T) (*httptest.Server, *task.MemoryStore) {
	t.Helper()
	functions := catalog.New()
	if err := catalog.RegisterBuiltins(functions); err != nil {
		t.Fatalf("builtins: %v", err)
	}
	store := task.NewMemoryStore()
	keys, err := auth.NewService([]auth.APIKey{{Name: "test", Key: "secret"}}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	server := api.NewServer(api.Options{}, api.Dependencies{
		Functions: functions,
		Invoker:   invoke.Build(invoke.Builtins(), nil),
		Tasks:     task.NewService(store, queue.NewMemoryQueue(4), 3, task.WithFunctionCatalog(functions)),
		Auth:      keys,
	})
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return srv, store
}

func newClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.SetAPIKey("secret")
	return client
}

func TestInvoke(t *testing.T) {
	srv, _ := newServer(t)
	client := newClient(t, srv)

	res, err := client.Invoke(context.Background(), "math.add", InvokeRequest{Values: map[string]any{"a": 1.5, "b": 2}})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	var sum float64
	if err := res.Decode(&sum); err != nil || sum != 3.5 {
		t.Fatalf("unexpected result %s (%v)", res.Result, err)
	}

	_, err = client.Invoke(context.Background(), "math.add", InvokeRequest{Groups: []string{}, Values: map[string]any{"a": 1, "b": 2}})
	if !IsCode(err, "PARAMETER_NOT_SUPPORTED") {
		t.Fatalf("expected unresolved parameter with no groups, got %v", err)
	}
}

func TestInvokeRequestGroupsEncoding(t *testing.T) {
	raw, _ := json.Marshal(InvokeRequest{})
	if string(raw) != `{}` {
		t.Fatalf("nil groups must be omitted, got %s", raw)
	}
	raw, _ = json.Marshal(InvokeRequest{Groups: []string{}})
	if string(raw) != `{"groups":[]}` {
		t.Fatalf("empty groups must be sent, got %s", raw)
	}
	raw, _ = json.Marshal(TaskSubmission{Function: "echo"})
	if string(raw) != `{"function":"echo"}` {
		t.Fatalf("nil task groups must be omitted, got %s", raw)
	}
	raw, _ = json.Marshal(TaskSubmission{Function: "echo", Groups: []string{}})
	if string(raw) != `{"function":"echo","groups":[]}` {
		t.Fatalf("empty task groups must be sent, got %s", raw)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	srv, _ := newServer(t)
	client := newClient(t, srv)
	client.SetAPIKey("")

	_, err := client.Functions(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestCatalogAndTasks(t *testing.T) {
	srv, store := newServer(t)
	client := newClient(t, srv)
	ctx := context.Background()

	functions, err := client.Functions(ctx)
	if err != nil || len(functions) == 0 {
		t.Fatalf("functions: %v %v", functions, err)
	}

	submitted, err := client.SubmitTask(ctx, TaskSubmission{ID: "t-1", Function: "echo", Values: map[string]any{"message": "hi"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.ID != "t-1" || submitted.Status != "pending" {
		t.Fatalf("unexpected task %+v", submitted)
	}

	if _, err := store.Claim(ctx, "t-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "t-1", task.ExecutionResult{Value: json.RawMessage(`"hi"`)}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	done, err := client.WaitForTask(waitCtx, "t-1", 10*time.Millisecond)
	if err != nil || done.Result == nil || string(done.Result.Value) != `"hi"` {
		t.Fatalf("unexpected finished task %+v (%v)", done, err)
	}

	tasks, err := client.ListTasks(ctx, TaskFilter{Statuses: []string{"succeeded"}, Query: "echo"})
	if err != nil || len(tasks) != 1 {
		t.Fatalf("list: %v %v", tasks, err)
	}
	stats, err := client.TaskStats(ctx, TaskFilter{})
	if err != nil || stats.Succeeded != 1 {
		t.Fatalf("stats: %+v %v", stats, err)
	}
	if _, err := client.GetTask(ctx, "missing"); !IsCode(err, "TASK_NOT_FOUND") {
		t.Fatalf("expected TASK_NOT_FOUND, got %v", err)
	}
}
