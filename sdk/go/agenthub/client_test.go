package agenthub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"AgentHub/internal/agent"
	"AgentHub/internal/api"
	"AgentHub/internal/llm"
	"AgentHub/internal/orchestrator"
	"AgentHub/internal/task"
	"AgentHub/internal/tool"
)

func newHub(t *testing.T) *Client {
	t.Helper()
	orch := orchestrator.New()
	for _, id := range []string{"a1", "a2"} {
		ag, err := agent.New(llm.EchoClient{Prefix: id + ": "}, tool.NewRegistry(), agent.WithName(id))
		if err != nil {
			t.Fatalf("new agent: %v", err)
		}
		if err := orch.Register(id, ag, ""); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	store := task.NewMemoryStore()
	queue := task.NewMemoryQueue(16)
	service := task.NewService(store, queue, 3)
	processor := task.NewProcessor(orch, store, queue, queue, task.WithWorkerCount(2))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = processor.Start(ctx)
	}()

	server := api.NewServer(":0", api.Dependencies{Tasks: service, Orchestrator: orch})
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestSubmitAndWaitForTask(t *testing.T) {
	client := newHub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	created, err := client.SubmitTask(ctx, TaskSubmission{Task: "hello hub", ConversationID: "sdk-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if created.ID == "" || created.Status != StatusPending {
		t.Fatalf("unexpected task %+v", created)
	}

	done, err := client.WaitForTask(ctx, created.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != StatusSucceeded || done.Result == nil || done.Result.Content == "" {
		t.Fatalf("unexpected finished task %+v", done)
	}

	tasks, err := client.ListTasks(ctx, ListOptions{Limit: 10, Statuses: []string{StatusSucceeded}})
	if err != nil || len(tasks) != 1 {
		t.Fatalf("list: %v %+v", err, tasks)
	}
}

func TestRunAndListAgents(t *testing.T) {
	client := newHub(t)
	ctx := context.Background()

	result, err := client.Run(ctx, "ping", "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Content != "a1: ping" || result.Metadata["agent_id"] != "a1" {
		t.Fatalf("unexpected run result %+v", result)
	}

	pool, err := client.ListAgents(ctx)
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	if pool.Strategy != "round_robin" || len(pool.Agents) != 2 {
		t.Fatalf("unexpected pool %+v", pool)
	}
}

func TestGetTaskErrors(t *testing.T) {
	client := newHub(t)
	_, err := client.GetTask(context.Background(), "missing")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Code != "TASK_NOT_FOUND" {
		t.Fatalf("expected decoded api error, got %#v", err)
	}
	if _, err := client.GetTask(context.Background(), " "); err == nil {
		t.Fatalf("blank id should be rejected locally")
	}
}

func TestPlainErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL+"/prefix", srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.ListAgents(context.Background())
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.StatusCode != http.StatusBadGateway || apiErr.Message != "upstream exploded" {
		t.Fatalf("unexpected error %#v", err)
	}
	if _, err := NewClient("not a url", nil); err == nil {
		t.Fatalf("expected invalid url error")
	}
}
