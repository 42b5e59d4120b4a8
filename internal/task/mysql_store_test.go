package task

import (
	"context"
	"os"
	"testing"
	"time"

	xerrors "AgentHub/internal/errors"
	mysqlstore "AgentHub/internal/storage/mysql"
	"AgentHub/internal/tool"
)

func TestMySQLStoreRequiresDB(t *testing.T) {
	if _, err := NewMySQLStore(nil); !xerrors.HasCode(err, xerrors.CodeInitializationFailure) {
		t.Fatalf("expected initialization failure, got %v", err)
	}
}

func TestBuildFilterClause(t *testing.T) {
	hasResult := true
	clause, args := buildFilterClause(ListOptions{
		Statuses:       []Status{StatusFailed, StatusPending},
		HasResult:      &hasResult,
		ConversationID: "c1",
		Query:          "oslo",
	})
	want := "status IN (?,?) AND " + hasResultClause + " AND conversation_id = ? AND (id LIKE ? OR task LIKE ? OR conversation_id LIKE ? OR last_error LIKE ? OR result_content LIKE ? OR result_agent LIKE ?)"
	if clause != want {
		t.Fatalf("unexpected clause:\n%s", clause)
	}
	if len(args) != 9 || args[2] != "c1" || args[3] != "%oslo%" {
		t.Fatalf("unexpected args %v", args)
	}
	if clause, args := buildFilterClause(ListOptions{}); clause != "" || args != nil {
		t.Fatalf("empty options should not filter")
	}
}

func TestMySQLStoreLifecycle(t *testing.T) {
	dsn := os.Getenv("AGENTHUB_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("AGENTHUB_TEST_MYSQL_DSN not set")
	}
	ctx := context.Background()
	db, err := mysqlstore.Open(ctx, mysqlstore.Config{DSN: dsn, AutoMigrate: true})
	if err != nil {
		t.Fatalf("open mysql: %v", err)
	}
	defer db.Close()

	store, err := NewMySQLStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	id := "task-" + time.Now().Format("150405.000000000")
	defer db.ExecContext(ctx, "DELETE FROM task_states WHERE id = ?", id)

	if err := store.Create(ctx, &Task{ID: id, Task: "weather", ConversationID: "c1", Status: StatusPending, MaxRetries: 2, Metadata: map[string]any{"k": "v"}}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, &Task{ID: id, Task: "dup", Status: StatusPending}); !IsTaskError(err, CodeTaskConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	claimed, err := store.Claim(ctx, id)
	if err != nil || claimed.Attempts != 1 || claimed.Status != StatusRunning {
		t.Fatalf("unexpected claim %+v %v", claimed, err)
	}
	result := ExecutionResult{Content: "sunny", Agent: "a1", Iterations: 2, ToolCalls: []tool.Record{{Tool: "get_weather", Arguments: map[string]any{"city": "Oslo"}, Result: "sunny"}}}
	if err := store.MarkSucceeded(ctx, id, result); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Result == nil || got.Result.Content != "sunny" || len(got.Result.ToolCalls) != 1 || got.Metadata["k"] != "v" {
		t.Fatalf("unexpected task %+v", got)
	}
	if _, err := store.Claim(ctx, id); !IsTaskError(err, CodeTaskCompleted) {
		t.Fatalf("expected completed, got %v", err)
	}
	list, err := store.List(ctx, buildListOptions([]ListOption{WithConversation("c1"), WithQuery("weather")}))
	if err != nil || len(list) == 0 {
		t.Fatalf("list: %v %d", err, len(list))
	}
	if _, err := store.Stats(ctx, buildListOptions(nil)); err != nil {
		t.Fatalf("stats: %v", err)
	}
}
