package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/llm"
	"AgentHub/internal/memory"
	"AgentHub/internal/planner"
	"AgentHub/internal/tool"
)

// scriptedLLM 依次返回预设响应，并记录每次收到的请求。
type scriptedLLM struct {
	mu        sync.Mutex
	responses []*llm.Response
	requests  []llm.Request
	err       error
	wait      time.Duration
}

func (s *scriptedLLM) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if s.wait > 0 {
		select {
		case <-time.After(s.wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	idx := len(s.requests) - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx], nil
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func weatherRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry()
	reg.MustRegister(tool.NewFunction("get_weather", "查询城市天气", map[string]any{
		"type":       "object",
		"properties": map[string]any{"city": map[string]any{"type": "string"}},
		"required":   []string{"city"},
	}, func(_ context.Context, args map[string]any) (any, error) {
		return "sunny in " + args["city"].(string), nil
	}))
	return reg
}

func TestRunCallsToolThenAnswers(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{
		{ToolCalls: []llm.ToolInvocation{{ID: "call-1", Name: "get_weather", Arguments: `{"city":"Beijing"}`}}},
		{Content: "It is sunny in Beijing"},
	}}
	ag, err := New(model, weatherRegistry(t))
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}

	result, err := ag.Run(context.Background(), "What's the weather in Beijing?", "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Content != "It is sunny in Beijing" {
		t.Fatalf("unexpected content %q", result.Content)
	}
	if result.Iterations != 2 {
		t.Fatalf("expected 2 iterations, got %d", result.Iterations)
	}
	want := []tool.Record{{Tool: "get_weather", Arguments: map[string]any{"city": "Beijing"}, Result: "sunny in Beijing"}}
	if diff := cmp.Diff(want, result.ToolCalls); diff != "" {
		t.Fatalf("unexpected tool calls (-want +got):\n%s", diff)
	}
	if ag.State() != StateDone {
		t.Fatalf("expected done state, got %s", ag.State())
	}

	second := model.requests[1].Messages
	if len(second) != 3 {
		t.Fatalf("expected user, assistant and tool messages, got %+v", second)
	}
	if second[1].Role != llm.RoleAssistant || len(second[1].ToolCalls) != 1 {
		t.Fatalf("assistant tool request missing: %+v", second[1])
	}
	if second[2].Role != llm.RoleTool || second[2].ToolCallID != "call-1" || second[2].Name != "get_weather" {
		t.Fatalf("tool result not linked to call: %+v", second[2])
	}
	if len(model.requests[0].Tools) != 1 || model.requests[0].Tools[0].Name != "get_weather" {
		t.Fatalf("tool schemas not sent: %+v", model.requests[0].Tools)
	}
}

func TestRunFailsWhenBudgetExhausted(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{
		{ToolCalls: []llm.ToolInvocation{{Name: "get_weather", Arguments: `{"city":"Beijing"}`}}},
	}}
	ag, err := New(model, weatherRegistry(t), WithMaxIterations(1))
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}

	result, err := ag.Run(context.Background(), "loop forever", "")
	if result != nil {
		t.Fatalf("expected no partial result, got %+v", result)
	}
	if !errors.Is(err, ErrIterationBudget) || !xerrors.HasCode(err, xerrors.CodeIterationBudget) {
		t.Fatalf("expected iteration budget error, got %v", err)
	}
	if xerrors.RetryableError(err) {
		t.Fatalf("budget errors must not be retryable")
	}
	if model.calls() != 1 {
		t.Fatalf("model should be called exactly once, got %d", model.calls())
	}
	if ag.State() != StateFailed {
		t.Fatalf("expected failed state, got %s", ag.State())
	}
}

func TestNewValidatesConfiguration(t *testing.T) {
	if _, err := New(nil, nil); !xerrors.HasCode(err, xerrors.CodeInitializationFailure) {
		t.Fatalf("expected initialization failure without client, got %v", err)
	}
	model := &scriptedLLM{responses: []*llm.Response{{Content: "ok"}}}
	if _, err := New(model, nil, WithMaxIterations(0)); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument for zero budget, got %v", err)
	}
	if _, err := New(model, nil, WithPlanning(true)); !xerrors.HasCode(err, xerrors.CodeInitializationFailure) {
		t.Fatalf("expected initialization failure for planning without planner, got %v", err)
	}
	ag, err := New(model, nil)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	if ag.MaxIterations() != DefaultMaxIterations {
		t.Fatalf("expected default budget, got %d", ag.MaxIterations())
	}
	if _, err := ag.Run(context.Background(), "   ", ""); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument for blank task, got %v", err)
	}
}

func TestRunFeedsToolErrorsBack(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{
		{ToolCalls: []llm.ToolInvocation{
			{ID: "a", Name: "missing_tool", Arguments: `{}`},
			{ID: "b", Name: "get_weather", Arguments: `{}`},
			{ID: "c", Name: "get_weather", Arguments: `not json`},
		}},
		{Content: "sorry, the tools failed"},
	}}
	ag, err := New(model, weatherRegistry(t))
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}

	result, err := ag.Run(context.Background(), "weather?", "")
	if err != nil {
		t.Fatalf("tool failures must not abort the run: %v", err)
	}
	if len(result.ToolCalls) != 3 {
		t.Fatalf("expected 3 records, got %+v", result.ToolCalls)
	}
	for _, record := range result.ToolCalls {
		if !record.Failed() {
			t.Fatalf("expected failed record, got %+v", record)
		}
	}

	messages := model.requests[1].Messages
	for _, msg := range messages[2:] {
		if msg.Role != llm.RoleTool || !strings.Contains(msg.Content, `"error"`) {
			t.Fatalf("tool failure should be reported to the model: %+v", msg)
		}
	}
}

func TestRunAssignsMissingCallIDs(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{
		{ToolCalls: []llm.ToolInvocation{{Name: "get_weather", Arguments: `{"city":"Paris"}`}}},
		{Content: "done"},
	}}
	ag, _ := New(model, weatherRegistry(t))
	ag.newCallID = func() string { return "generated" }

	if _, err := ag.Run(context.Background(), "weather", ""); err != nil {
		t.Fatalf("run: %v", err)
	}
	messages := model.requests[1].Messages
	if messages[1].ToolCalls[0].ID != "generated" || messages[2].ToolCallID != "generated" {
		t.Fatalf("call id not propagated: %+v", messages)
	}
}

func TestRunReplaysAndSavesMemory(t *testing.T) {
	store := memory.NewMemoryStore()
	history := []llm.Message{
		{Role: llm.RoleUser, Content: "my name is Ada"},
		{Role: llm.RoleAssistant, Content: "hello Ada"},
	}
	if err := store.Save(context.Background(), "conv-1", history, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	model := &scriptedLLM{responses: []*llm.Response{{Content: "your name is Ada"}}}
	ag, _ := New(model, nil, WithMemory(store), WithName("helper"), WithSystemPrompt("be brief"))

	result, err := ag.Run(context.Background(), "what is my name?", "conv-1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	sent := model.requests[0].Messages
	wantRoles := []llm.Role{llm.RoleSystem, llm.RoleUser, llm.RoleAssistant, llm.RoleUser}
	gotRoles := make([]llm.Role, len(sent))
	for i, msg := range sent {
		gotRoles[i] = msg.Role
	}
	if diff := cmp.Diff(wantRoles, gotRoles); diff != "" {
		t.Fatalf("unexpected roles (-want +got):\n%s", diff)
	}
	if sent[0].Content != "be brief" {
		t.Fatalf("system prompt should lead the request, got %q", sent[0].Content)
	}
	if model.requests[0].Tools != nil {
		t.Fatalf("empty registry should not advertise tools")
	}

	saved, err := store.Load(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(saved) != 4 || saved[3].Content != "your name is Ada" {
		t.Fatalf("unexpected saved conversation: %+v", saved)
	}
	if meta, _ := store.Metadata("conv-1"); meta["agent"] != "helper" {
		t.Fatalf("expected agent metadata, got %v", meta)
	}
	if result.Metadata["conversation_id"] != "conv-1" {
		t.Fatalf("expected conversation id in metadata, got %v", result.Metadata)
	}
}

type failingStore struct{}

func (failingStore) Save(context.Context, string, []llm.Message, map[string]string) error {
	return errors.New("disk full")
}

func (failingStore) Load(context.Context, string) ([]llm.Message, error) {
	return nil, errors.New("unreachable")
}

func TestRunToleratesMemoryFailures(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{{Content: "fine"}}}
	ag, _ := New(model, nil, WithMemory(failingStore{}))
	result, err := ag.Run(context.Background(), "hi", "conv-2")
	if err != nil || result.Content != "fine" {
		t.Fatalf("memory errors should degrade, got %+v %v", result, err)
	}
}

type stubPlanner struct {
	plan *planner.Plan
	err  error
	seen string
}

func (p *stubPlanner) Plan(_ context.Context, task, _ string) (*planner.Plan, error) {
	p.seen = task
	return p.plan, p.err
}

func TestRunInjectsPlanSummary(t *testing.T) {
	plan := &planner.Plan{
		Task:           "report",
		Steps:          []planner.Step{{ID: "s1", Description: "collect data"}, {ID: "s2", Description: "write", Dependencies: []string{"s1"}}},
		ExecutionOrder: []string{"s1", "s2"},
	}
	stub := &stubPlanner{plan: plan}
	model := &scriptedLLM{responses: []*llm.Response{{Content: "report done"}}}
	ag, _ := New(model, nil, WithPlanner(stub))

	result, err := ag.Run(context.Background(), "report", "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stub.seen != "report" {
		t.Fatalf("planner not consulted")
	}
	sent := model.requests[0].Messages
	if sent[0].Role != llm.RoleSystem || !strings.Contains(sent[0].Content, "[s1] collect data") {
		t.Fatalf("plan summary not injected: %+v", sent)
	}
	if diff := cmp.Diff([]string{"s1", "s2"}, result.Metadata["plan"]); diff != "" {
		t.Fatalf("unexpected plan metadata (-want +got):\n%s", diff)
	}
}

func TestRunDegradesWhenPlanningFails(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{{Content: "answered anyway"}}}
	ag, _ := New(model, nil, WithPlanner(&stubPlanner{err: errors.New("planner offline")}))

	result, err := ag.Run(context.Background(), "task", "")
	if err != nil {
		t.Fatalf("planning failure should not abort: %v", err)
	}
	if result.Content != "answered anyway" {
		t.Fatalf("unexpected content %q", result.Content)
	}
	if len(model.requests[0].Messages) != 1 {
		t.Fatalf("no plan summary expected, got %+v", model.requests[0].Messages)
	}
	if _, ok := result.Metadata["plan"]; ok {
		t.Fatalf("plan metadata should be absent")
	}
}

func TestRunMapsModelErrors(t *testing.T) {
	ag, _ := New(&scriptedLLM{err: errors.New("rate limited")}, nil)
	if _, err := ag.Run(context.Background(), "task", ""); !xerrors.HasCode(err, xerrors.CodeModelInvocation) {
		t.Fatalf("expected model invocation error, got %v", err)
	}

	slow, _ := New(&scriptedLLM{wait: 50 * time.Millisecond, responses: []*llm.Response{{Content: "late"}}}, nil,
		WithLLMTimeout(10*time.Millisecond))
	_, err := slow.Run(context.Background(), "task", "")
	if !xerrors.HasCode(err, xerrors.CodeTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	model := llm.ClientFunc(func(context.Context, llm.Request) (*llm.Response, error) {
		cancel()
		return &llm.Response{ToolCalls: []llm.ToolInvocation{{ID: "1", Name: "get_weather", Arguments: `{"city":"Oslo"}`}}}, nil
	})
	ag, _ := New(model, weatherRegistry(t))

	result, err := ag.Run(ctx, "weather", "")
	if result != nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %+v %v", result, err)
	}
}

func TestRunStartsFromCleanContext(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{{Content: "one"}, {Content: "two"}}}
	ag, _ := New(model, nil)
	if _, err := ag.Run(context.Background(), "first", ""); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := ag.Run(context.Background(), "second", ""); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := model.requests[1].Messages; len(got) != 1 || got[0].Content != "second" {
		t.Fatalf("previous run leaked into the context: %+v", got)
	}
	if len(ag.Messages()) != 2 {
		t.Fatalf("expected task and answer in context, got %+v", ag.Messages())
	}
	ag.Reset()
	if len(ag.Messages()) != 0 || ag.State() != StateReady {
		t.Fatalf("reset should clear the context")
	}
}

// assertWellFormed 检查请求中包含当前任务，且每条工具结果都能找到之前声明的调用。
func assertWellFormed(t *testing.T, task string, messages []llm.Message) {
	t.Helper()
	hasTask := false
	declared := make(map[string]bool)
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleUser:
			if msg.Content == task {
				hasTask = true
			}
		case llm.RoleAssistant:
			for _, call := range msg.ToolCalls {
				declared[call.ID] = true
			}
		case llm.RoleTool:
			if !declared[msg.ToolCallID] {
				t.Fatalf("tool result %q has no preceding call: %+v", msg.ToolCallID, messages)
			}
		}
	}
	if !hasTask {
		t.Fatalf("task message evicted from request: %+v", messages)
	}
}

func TestRunBoundedContextKeepsTaskAndToolPairs(t *testing.T) {
	const task = "Compare the weather in Oslo and Rome"
	for _, bound := range []int{2, 3} {
		t.Run(fmt.Sprintf("max_%d", bound), func(t *testing.T) {
			model := &scriptedLLM{responses: []*llm.Response{
				{ToolCalls: []llm.ToolInvocation{
					{ID: "c1", Name: "get_weather", Arguments: `{"city":"Oslo"}`},
					{ID: "c2", Name: "get_weather", Arguments: `{"city":"Rome"}`},
				}},
				{ToolCalls: []llm.ToolInvocation{{ID: "c3", Name: "get_weather", Arguments: `{"city":"Paris"}`}}},
				{Content: "Rome is warmer"},
			}}
			ag, err := New(model, weatherRegistry(t), WithMaxMessages(bound))
			if err != nil {
				t.Fatalf("new agent: %v", err)
			}
			result, err := ag.Run(context.Background(), task, "")
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if result.Content != "Rome is warmer" || model.calls() != 3 {
				t.Fatalf("unexpected result %+v after %d calls", result, model.calls())
			}
			for i, req := range model.requests {
				t.Logf("request %d carries %d messages", i, len(req.Messages))
				assertWellFormed(t, task, req.Messages)
			}
			second := model.requests[1].Messages
			if last := second[len(second)-1]; last.Role != llm.RoleTool || last.ToolCallID != "c2" {
				t.Fatalf("second request should end with the c2 result: %+v", second)
			}
			if got := ag.Messages(); got[0].Content != task {
				t.Fatalf("task should lead the final context: %+v", got)
			}
		})
	}
}

func TestRunKeepsPlanSummaryOutOfMemory(t *testing.T) {
	store := memory.NewMemoryStore()
	stub := &stubPlanner{plan: &planner.Plan{
		Steps:          []planner.Step{{ID: "s1", Description: "collect data"}},
		ExecutionOrder: []string{"s1"},
	}}
	model := &scriptedLLM{responses: []*llm.Response{{Content: "first answer"}, {Content: "second answer"}}}
	ag, _ := New(model, nil, WithPlanner(stub), WithMemory(store))

	for _, task := range []string{"first", "second"} {
		if _, err := ag.Run(context.Background(), task, "conv-plan"); err != nil {
			t.Fatalf("run %s: %v", task, err)
		}
	}

	summaries := 0
	for _, msg := range model.requests[1].Messages {
		if msg.Role == llm.RoleSystem {
			summaries++
		}
	}
	if summaries != 1 {
		t.Fatalf("expected exactly one plan summary in the second request, got %d: %+v", summaries, model.requests[1].Messages)
	}
	saved, err := store.Load(context.Background(), "conv-plan")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, msg := range saved {
		if msg.Role == llm.RoleSystem {
			t.Fatalf("plan summary persisted into history: %+v", saved)
		}
	}
	if len(saved) != 4 {
		t.Fatalf("expected two tasks and two answers, got %+v", saved)
	}
}
