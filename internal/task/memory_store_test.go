package task

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-2 * time.Minute)

	tasks := []*Task{
		{ID: "t1", Function: "greet", Status: StatusPending, MaxRetries: 3},
		{ID: "t2", Function: "transfer", Status: StatusPending, MaxRetries: 3},
		{ID: "t3", Function: "balance", Status: StatusPending, MaxRetries: 3},
	}

	for _, task := range tasks {
		if err := store.Create(ctx, task); err != nil {
			t.Fatalf("create task %s: %v", task.ID, err)
		}
	}

	if err := store.MarkFailed(ctx, "t2", CodeTaskProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "t3", ExecutionResult{Value: []byte(`"ok"`)}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.tasks["t1"].UpdatedAt = base.Unix()
	store.tasks["t2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.tasks["t3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(all))
	}
	if all[0].ID != "t3" || all[2].ID != "t1" {
		t.Fatalf("expected newest task first, got %s..%s", all[0].ID, all[2].ID)
	}

	asc, err := store.List(ctx, BuildListOptions([]ListOption{WithSortOrder(SortByUpdatedAsc), WithLimit(2)}))
	if err != nil {
		t.Fatalf("list asc: %v", err)
	}
	if len(asc) != 2 || asc[0].ID != "t1" || asc[1].ID != "t2" {
		t.Fatalf("unexpected ascending page: %+v", asc)
	}

	failed, err := store.List(ctx, BuildListOptions([]ListOption{WithStatuses(StatusFailed)}))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "t2" || failed[0].ErrorCode != string(CodeTaskProcessing) {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	succeeded, err := store.List(ctx, BuildListOptions([]ListOption{WithResultPresence(true)}))
	if err != nil {
		t.Fatalf("list with result: %v", err)
	}
	if len(succeeded) != 1 || succeeded[0].ID != "t3" {
		t.Fatalf("unexpected result list: %+v", succeeded)
	}

	since := base.Add(15 * time.Second)
	recent, err := store.List(ctx, BuildListOptions([]ListOption{WithUpdatedSince(since)}))
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 tasks to match since filter, got %d", len(recent))
	}

	byQuery, err := store.List(ctx, BuildListOptions([]ListOption{WithQuery("TRANS")}))
	if err != nil {
		t.Fatalf("list by query: %v", err)
	}
	if len(byQuery) != 1 || byQuery[0].ID != "t2" {
		t.Fatalf("unexpected query result: %+v", byQuery)
	}

	beyond, err := store.List(ctx, BuildListOptions([]ListOption{WithOffset(5)}))
	if err != nil || len(beyond) != 0 {
		t.Fatalf("expected empty page beyond the end, got %v, %v", beyond, err)
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-3 * time.Minute)
	for _, id := range []string{"a", "b", "c"} {
		if err := store.Create(ctx, &Task{ID: id, Function: "f", Status: StatusPending, MaxRetries: 3}); err != nil {
			t.Fatalf("create task %s: %v", id, err)
		}
	}

	if err := store.MarkFailed(ctx, "b", CodeTaskProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "c", ExecutionResult{Value: []byte(`1`)}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.tasks["a"].UpdatedAt = base.Unix()
	store.tasks["b"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.tasks["c"].UpdatedAt = base.Add(2 * time.Minute).Unix()
	store.mu.Unlock()

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 1 || stats.Failed != 1 || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.NewestUpdatedAt != base.Add(2*time.Minute).Unix() {
		t.Fatalf("unexpected newest timestamp: %d", stats.NewestUpdatedAt)
	}
	if stats.OldestUpdatedAt != base.Unix() {
		t.Fatalf("unexpected oldest timestamp: %d", stats.OldestUpdatedAt)
	}

	withoutResults, err := store.Stats(ctx, BuildListOptions([]ListOption{WithResultPresence(false)}))
	if err != nil {
		t.Fatalf("stats without result: %v", err)
	}
	if withoutResults.Total != 2 || withoutResults.Pending != 1 || withoutResults.Failed != 1 {
		t.Fatalf("unexpected stats without result: %+v", withoutResults)
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Create(ctx, &Task{ID: "x", Function: "f", Status: StatusPending, MaxRetries: 2}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, &Task{ID: "x"}); !errors.Is(err, ErrTaskConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	claimed, err := store.Claim(ctx, "x")
	if err != nil || claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claim: %+v, %v", claimed, err)
	}
	if _, err := store.Claim(ctx, "x"); !errors.Is(err, ErrTaskConflict) {
		t.Fatalf("running task must not be claimed twice, got %v", err)
	}

	if err := store.MarkFailed(ctx, "x", CodeTaskProcessing, "retry me", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if got, _ := store.Get(ctx, "x"); got.Status != StatusPending || got.LastError != "retry me" {
		t.Fatalf("non-terminal failure must return the task to pending: %+v", got)
	}

	if _, err := store.Claim(ctx, "x"); err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if err := store.MarkFailed(ctx, "x", CodeTaskProcessing, "again", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "x"); !errors.Is(err, ErrTaskExhausted) {
		t.Fatalf("expected exhaustion after max attempts, got %v", err)
	}

	if _, err := store.Claim(ctx, "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	task := &Task{ID: "c", Function: "f", Groups: []string{"api"}, Values: map[string]any{"a": 1}, Status: StatusPending, MaxRetries: 1}
	if err := store.Create(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}
	task.Groups[0] = "mutated"
	task.Values["a"] = 2

	got, err := store.Get(ctx, "c")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Groups[0] != "api" || got.Values["a"] != 1 {
		t.Fatalf("store shares state with caller: %+v", got)
	}
}

func TestIsTaskError(t *testing.T) {
	if !IsTaskError(ErrTaskNotFound, CodeTaskNotFound) {
		t.Fatalf("expected not found match")
	}
	if IsTaskError(ErrTaskConflict, CodeTaskNotFound) {
		t.Fatalf("conflict must not match not found")
	}
	if IsTaskError(errors.New("other"), CodeTaskNotFound) || IsTaskError(nil, CodeTaskNotFound) {
		t.Fatalf("foreign errors must not match")
	}
}
