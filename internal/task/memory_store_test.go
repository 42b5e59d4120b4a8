package task

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"AgentHub/internal/tool"
)

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-2 * time.Minute)

	tasks := []*Task{
		{ID: "t1", Task: "summarise report", ConversationID: "c1", Status: StatusPending, MaxRetries: 3},
		{ID: "t2", Task: "translate text", ConversationID: "c2", Status: StatusPending, MaxRetries: 3},
		{ID: "t3", Task: "weather in Oslo", ConversationID: "c1", Status: StatusPending, MaxRetries: 3},
	}
	for _, task := range tasks {
		if err := store.Create(ctx, task); err != nil {
			t.Fatalf("create task %s: %v", task.ID, err)
		}
	}

	if err := store.MarkFailed(ctx, "t2", CodeTaskProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "t3", ExecutionResult{Content: "sunny", Agent: "a1", Iterations: 2}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.tasks["t1"].UpdatedAt = base.Unix()
	store.tasks["t2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.tasks["t3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	ids := func(list []*Task) []string {
		out := make([]string, len(list))
		for i, task := range list {
			out[i] = task.ID
		}
		return out
	}

	cases := []struct {
		name string
		opts []ListOption
		want []string
	}{
		{name: "all newest first", want: []string{"t3", "t2", "t1"}},
		{name: "oldest first", opts: []ListOption{WithSortOrder(SortByUpdatedAsc)}, want: []string{"t1", "t2", "t3"}},
		{name: "failed", opts: []ListOption{WithStatuses(StatusFailed)}, want: []string{"t2"}},
		{name: "with result", opts: []ListOption{WithResultPresence(true)}, want: []string{"t3"}},
		{name: "since", opts: []ListOption{WithUpdatedSince(base.Add(15 * time.Second))}, want: []string{"t3", "t2"}},
		{name: "conversation", opts: []ListOption{WithConversation("c1")}, want: []string{"t3", "t1"}},
		{name: "query matches result", opts: []ListOption{WithQuery("SUNNY")}, want: []string{"t3"}},
		{name: "paged", opts: []ListOption{WithLimit(1), WithOffset(1)}, want: []string{"t2"}},
		{name: "offset beyond", opts: []ListOption{WithOffset(10)}, want: []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := store.List(ctx, buildListOptions(tc.opts))
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if diff := cmp.Diff(tc.want, ids(got)); diff != "" {
				t.Fatalf("unexpected tasks (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-3 * time.Minute)
	for _, id := range []string{"a", "b", "c"} {
		if err := store.Create(ctx, &Task{ID: id, Task: "task " + id, Status: StatusPending, MaxRetries: 3}); err != nil {
			t.Fatalf("create task %s: %v", id, err)
		}
	}

	if err := store.MarkFailed(ctx, "b", CodeTaskProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "c", ExecutionResult{Content: "ok"}); err != nil {
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
	want := TaskStats{
		Total:           3,
		Pending:         1,
		Succeeded:       1,
		Failed:          1,
		OldestUpdatedAt: base.Unix(),
		NewestUpdatedAt: base.Add(2 * time.Minute).Unix(),
	}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Fatalf("unexpected stats (-want +got):\n%s", diff)
	}

	withoutResults, err := store.Stats(ctx, buildListOptions([]ListOption{WithResultPresence(false)}))
	if err != nil {
		t.Fatalf("stats without result: %v", err)
	}
	if withoutResults.Total != 2 || withoutResults.Pending != 1 || withoutResults.Failed != 1 {
		t.Fatalf("unexpected stats without result: %+v", withoutResults)
	}

	empty, err := store.Stats(ctx, buildListOptions([]ListOption{WithStatuses(StatusRunning)}))
	if err != nil {
		t.Fatalf("stats running: %v", err)
	}
	if diff := cmp.Diff(TaskStats{}, empty); diff != "" {
		t.Fatalf("expected empty stats (-want +got):\n%s", diff)
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Create(ctx, &Task{ID: "x", Task: "t", Status: StatusPending, MaxRetries: 2}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, &Task{ID: "x", Task: "t"}); !IsTaskError(err, CodeTaskConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	claimed, err := store.Claim(ctx, "x")
	if err != nil || claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claim %+v %v", claimed, err)
	}
	if _, err := store.Claim(ctx, "x"); !IsTaskError(err, CodeTaskConflict) {
		t.Fatalf("running task must not be claimed twice, got %v", err)
	}

	_ = store.MarkFailed(ctx, "x", CodeTaskProcessing, "retry me", false)
	if _, err := store.Claim(ctx, "x"); err != nil {
		t.Fatalf("failed task with attempts left should be claimable: %v", err)
	}
	_ = store.MarkFailed(ctx, "x", CodeTaskProcessing, "again", false)
	if _, err := store.Claim(ctx, "x"); !IsTaskError(err, CodeTaskExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}

	got, _ := store.Get(ctx, "x")
	if !got.Terminal() || got.ErrorCode != string(CodeTaskProcessing) {
		t.Fatalf("task should be terminal with error code, got %+v", got)
	}
	if _, err := store.Get(ctx, "missing"); !IsTaskError(err, CodeTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Create(ctx, &Task{ID: "x", Task: "t", Metadata: map[string]any{"k": "v"}, MaxRetries: 1})
	_ = store.MarkSucceeded(ctx, "x", ExecutionResult{Content: "ok", ToolCalls: []tool.Record{{Tool: "a"}}})

	got, _ := store.Get(ctx, "x")
	got.Metadata["k"] = "changed"
	got.Result.ToolCalls[0].Tool = "changed"

	again, _ := store.Get(ctx, "x")
	if again.Metadata["k"] != "v" || again.Result.ToolCalls[0].Tool != "a" {
		t.Fatalf("store state leaked through returned task: %+v", again)
	}
}
