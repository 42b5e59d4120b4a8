package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"AgentHub/internal/agent"
	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/llm"
	"AgentHub/internal/tool"
)

type stubRunner struct {
	name  string
	err   error
	calls atomic.Int32
	block chan struct{}
}

func (r *stubRunner) Run(_ context.Context, task, _ string) (*agent.Result, error) {
	r.calls.Add(1)
	if r.block != nil {
		<-r.block
	}
	if r.err != nil {
		return nil, r.err
	}
	return &agent.Result{Content: r.name + ":" + task, Iterations: 1}, nil
}

func TestRoundRobinWrapsAround(t *testing.T) {
	pool := []Descriptor{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	s, err := NewStrategy(StrategyRoundRobin)
	if err != nil {
		t.Fatalf("new strategy: %v", err)
	}
	counts := make(map[int]int)
	var picks []int
	for i := 0; i < len(pool)+1; i++ {
		idx, err := s.Select(pool, "task")
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		counts[idx]++
		picks = append(picks, idx)
	}
	if diff := cmp.Diff(map[int]int{0: 2, 1: 1, 2: 1}, counts); diff != "" {
		t.Fatalf("unexpected distribution (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 1, 2, 0}, picks); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestLoadBalancingPicksMinimum(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		pool := make([]Descriptor, 1+rng.Intn(6))
		for i := range pool {
			pool[i] = Descriptor{ID: fmt.Sprintf("a%d", i), CurrentLoad: rng.Intn(4)}
		}
		idx, err := LoadBalancing{}.Select(pool, "task")
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		for i, desc := range pool {
			if desc.CurrentLoad < pool[idx].CurrentLoad {
				t.Fatalf("picked load %d but %d has %d", pool[idx].CurrentLoad, i, desc.CurrentLoad)
			}
			if desc.CurrentLoad == pool[idx].CurrentLoad && i < idx {
				t.Fatalf("tie should go to the first minimum, picked %d over %d", idx, i)
			}
		}
	}
}

func TestSpecializationMatchesOrFallsBack(t *testing.T) {
	pool := []Descriptor{
		{ID: "general", CurrentLoad: 2},
		{ID: "coder", Specialization: "Code", CurrentLoad: 5},
		{ID: "writer", Specialization: "essay", CurrentLoad: 1},
	}
	s, _ := NewStrategy(StrategySpecialization)

	if idx, _ := s.Select(pool, "please review this CODE"); idx != 1 {
		t.Fatalf("expected specialist match, got %d", idx)
	}
	if idx, _ := s.Select(pool, "what's the weather?"); idx != 2 {
		t.Fatalf("expected load-balancing fallback, got %d", idx)
	}
}

func TestStrategiesRejectEmptyPoolAndUnknownNames(t *testing.T) {
	for _, name := range []string{StrategyRoundRobin, StrategyLoadBalancing, StrategySpecialization} {
		s, err := NewStrategy(name)
		if err != nil {
			t.Fatalf("new strategy %s: %v", name, err)
		}
		if s.Name() != name {
			t.Fatalf("unexpected name %s", s.Name())
		}
		if _, err := s.Select(nil, "task"); !xerrors.HasCode(err, xerrors.CodeNoAgents) {
			t.Fatalf("%s: expected no agents error, got %v", name, err)
		}
	}
	if _, err := NewStrategy("random"); !xerrors.HasCode(err, xerrors.CodeUnknownStrategy) {
		t.Fatalf("expected unknown strategy error, got %v", err)
	}
	o := New()
	if err := o.SetStrategy("random"); !xerrors.HasCode(err, xerrors.CodeUnknownStrategy) {
		t.Fatalf("expected unknown strategy error, got %v", err)
	}
	if o.Strategy() != StrategyRoundRobin {
		t.Fatalf("failed switch must keep the previous strategy")
	}
}

func TestExecuteTaskRequiresAgents(t *testing.T) {
	o := New()
	if _, err := o.ExecuteTask(context.Background(), "task", ""); !xerrors.HasCode(err, xerrors.CodeNoAgents) {
		t.Fatalf("expected no agents error, got %v", err)
	}
}

func TestRegisterValidates(t *testing.T) {
	o := New()
	if err := o.Register("a", &stubRunner{}, ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := o.Register("a", &stubRunner{}, ""); !xerrors.HasCode(err, xerrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := o.Register(" ", &stubRunner{}, ""); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if err := o.Register("b", nil, ""); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if !o.Unregister("a") || o.Unregister("a") {
		t.Fatalf("unregister should report presence once")
	}
	if len(o.Agents()) != 0 {
		t.Fatalf("pool should be empty")
	}
}

func TestExecuteTaskDispatchesRoundRobin(t *testing.T) {
	o := New()
	first, second := &stubRunner{name: "a"}, &stubRunner{name: "b"}
	_ = o.Register("a", first, "")
	_ = o.Register("b", second, "")

	var contents []string
	for i := 0; i < 3; i++ {
		result, err := o.ExecuteTask(context.Background(), fmt.Sprintf("t%d", i), "")
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
		contents = append(contents, result.Content)
	}
	if diff := cmp.Diff([]string{"a:t0", "b:t1", "a:t2"}, contents); diff != "" {
		t.Fatalf("unexpected dispatch (-want +got):\n%s", diff)
	}
	result, _ := o.ExecuteTask(context.Background(), "t3", "")
	if result.Metadata["agent_id"] != "b" {
		t.Fatalf("expected agent id in metadata, got %v", result.Metadata)
	}
}

func TestLoadReturnsToZeroAfterFailures(t *testing.T) {
	o := New(WithConcurrency(3))
	failing := &stubRunner{err: errors.New("boom")}
	_ = o.Register("solo", failing, "")

	tasks := make([]string, 10)
	for i := range tasks {
		tasks[i] = fmt.Sprintf("task-%d", i)
	}
	outcomes := o.ExecuteTasksParallel(context.Background(), tasks, nil)
	for _, outcome := range outcomes {
		if outcome.Err == nil {
			t.Fatalf("expected every run to fail")
		}
	}
	if failing.calls.Load() != 10 {
		t.Fatalf("expected 10 runs, got %d", failing.calls.Load())
	}
	if load := o.Agents()[0].CurrentLoad; load != 0 {
		t.Fatalf("load should return to 0, got %d", load)
	}
}

func TestLoadIsHeldDuringExecution(t *testing.T) {
	o := New(WithStrategy(LoadBalancing{}))
	busy := &stubRunner{name: "busy", block: make(chan struct{})}
	idle := &stubRunner{name: "idle"}
	_ = o.Register("busy", busy, "")
	_ = o.Register("idle", idle, "")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = o.ExecuteTask(context.Background(), "long", "")
	}()

	deadline := time.Now().Add(time.Second)
	for busy.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := o.Agents()[0].CurrentLoad; got != 1 {
		t.Fatalf("expected busy load 1 while running, got %d", got)
	}
	result, err := o.ExecuteTask(context.Background(), "short", "")
	if err != nil || result.Content != "idle:short" {
		t.Fatalf("expected dispatch to idle agent, got %+v %v", result, err)
	}

	close(busy.block)
	wg.Wait()
	for _, desc := range o.Agents() {
		if desc.CurrentLoad != 0 {
			t.Fatalf("load not released for %s: %d", desc.ID, desc.CurrentLoad)
		}
	}
}

func TestExecuteTasksParallelPreservesOrder(t *testing.T) {
	o := New(WithStrategy(LoadBalancing{}))
	_ = o.Register("a", &stubRunner{name: "a"}, "")
	_ = o.Register("b", &stubRunner{name: "b"}, "")

	tasks := []string{"one", "two", "three", "four"}
	outcomes := o.ExecuteTasksParallel(context.Background(), tasks, []string{"c1"})
	if len(outcomes) != len(tasks) {
		t.Fatalf("expected %d outcomes, got %d", len(tasks), len(outcomes))
	}
	for i, outcome := range outcomes {
		if outcome.Err != nil {
			t.Fatalf("task %d failed: %v", i, outcome.Err)
		}
		suffix := ":" + tasks[i]
		if got := outcome.Result.Content; len(got) < len(suffix) || got[len(got)-len(suffix):] != suffix {
			t.Fatalf("outcome %d out of order: %q", i, got)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, outcome := range o.ExecuteTasksParallel(ctx, tasks, nil) {
		if !errors.Is(outcome.Err, context.Canceled) {
			t.Fatalf("expected cancellation, got %v", outcome.Err)
		}
	}
}

func TestExecuteTaskWithRealAgent(t *testing.T) {
	model := llm.ClientFunc(func(context.Context, llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: "done"}, nil
	})
	ag, err := agent.New(model, tool.NewRegistry(), agent.WithName("worker"))
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	o := New()
	if err := o.Register("worker", ag, ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	result, err := o.ExecuteTask(context.Background(), "do it", "")
	if err != nil || result.Content != "done" || result.Iterations != 1 {
		t.Fatalf("unexpected result %+v %v", result, err)
	}
}

func TestAggregateMerge(t *testing.T) {
	results := []*agent.Result{
		{Content: "A", Iterations: 1, ToolCalls: []tool.Record{{Tool: "x"}}},
		{Content: "B", Iterations: 2, ToolCalls: []tool.Record{{Tool: "y"}}},
	}
	merged := Aggregate(results, MethodMerge)
	if merged.Content != "A\n\nB" {
		t.Fatalf("unexpected content %q", merged.Content)
	}
	if merged.Iterations != 3 || merged.Metadata["iterations"] != 3 {
		t.Fatalf("iterations should be summed, got %d / %v", merged.Iterations, merged.Metadata["iterations"])
	}
	if diff := cmp.Diff([]tool.Record{{Tool: "x"}, {Tool: "y"}}, merged.ToolCalls); diff != "" {
		t.Fatalf("unexpected tool calls (-want +got):\n%s", diff)
	}
}

func TestAggregateVoteAndFallback(t *testing.T) {
	results := []*agent.Result{
		{Content: "blue"},
		{Content: "red"},
		{Content: " red "},
		{Content: "green"},
	}
	if got := Aggregate(results, MethodVote); got.Content != "red" || got.Metadata["votes"] != 2 {
		t.Fatalf("expected majority answer, got %+v", got)
	}

	tie := []*agent.Result{{Content: "x"}, {Content: "y"}, {Content: "y"}, {Content: "x"}}
	if got := Aggregate(tie, MethodVote); got.Content != "x" {
		t.Fatalf("tie should go to the earliest answer, got %q", got.Content)
	}

	if got := Aggregate(results, "concat"); got != results[0] {
		t.Fatalf("unknown method should return the first result")
	}
	if Aggregate(nil, MethodMerge) != nil {
		t.Fatalf("empty input should aggregate to nil")
	}
}
