package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"AgentHub/internal/agent"
	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/observability/metrics"
	"AgentHub/pkg/logger"
)

// Runner 是可被调度的执行单元，*agent.Agent 满足该接口。
type Runner interface {
	Run(ctx context.Context, task, conversationID string) (*agent.Result, error)
}

type member struct {
	desc   Descriptor
	runner Runner
}

// Outcome 是并行执行中单个任务的结果。
type Outcome struct {
	Result *agent.Result `json:"result,omitempty"`
	Err    error         `json:"-"`
}

// Orchestrator 维护智能体池，并按策略把任务分发给池中成员。
type Orchestrator struct {
	mu       sync.Mutex
	members  []*member
	strategy Strategy

	concurrency int
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// Option 定义可选配置。
type Option func(*Orchestrator)

// WithStrategy 设置初始策略。
func WithStrategy(s Strategy) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.strategy = s
		}
	}
}

// WithConcurrency 限制 ExecuteTasksParallel 的并发度，0 表示不限。
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics 设置指标采集器。
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// New 创建编排器，默认使用轮询策略。
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{strategy: &RoundRobin{}}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.logger == nil {
		o.logger = logger.Named("orchestrator")
	}
	return o
}

// Register 将智能体加入池中，ID 重复时返回 CodeConflict。
func (o *Orchestrator) Register(id string, runner Runner, specialization string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "智能体 ID 不能为空")
	}
	if runner == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "智能体不能为空", xerrors.WithMetadata("agent", id))
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, m := range o.members {
		if m.desc.ID == id {
			return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("智能体 %s 已注册", id),
				xerrors.WithMetadata("agent", id))
		}
	}
	o.members = append(o.members, &member{
		desc:   Descriptor{ID: id, Specialization: strings.TrimSpace(specialization)},
		runner: runner,
	})
	o.metrics.SetAgentLoad(id, 0)
	return nil
}

// Unregister 移除智能体。正在执行的任务不受影响。
func (o *Orchestrator) Unregister(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, m := range o.members {
		if m.desc.ID == id {
			o.members = append(o.members[:i], o.members[i+1:]...)
			return true
		}
	}
	return false
}

// Agents 按注册顺序返回池的快照。
func (o *Orchestrator) Agents() []Descriptor {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot()
}

func (o *Orchestrator) snapshot() []Descriptor {
	pool := make([]Descriptor, len(o.members))
	for i, m := range o.members {
		pool[i] = m.desc
	}
	return pool
}

// SetStrategy 按名称切换分发策略。
func (o *Orchestrator) SetStrategy(name string) error {
	s, err := NewStrategy(name)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.strategy = s
	o.mu.Unlock()
	return nil
}

// Strategy 返回当前策略名称。
func (o *Orchestrator) Strategy() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.strategy.Name()
}

// ExecuteTask 选择一个智能体执行任务。负载在分发前占用，无论成功失败都只释放一次。
func (o *Orchestrator) ExecuteTask(ctx context.Context, task, conversationID string) (*agent.Result, error) {
	m, strategy, err := o.acquire(task)
	if err != nil {
		return nil, err
	}
	defer o.release(m)

	logger.Audit().Info("agent dispatched",
		slog.String("agent", m.desc.ID),
		slog.String("strategy", strategy),
		slog.String("conversation_id", conversationID),
	)

	started := time.Now()
	result, err := m.runner.Run(ctx, task, conversationID)
	if err != nil {
		o.logger.Warn("智能体执行失败",
			slog.String("agent", m.desc.ID),
			slog.Duration("duration", time.Since(started)),
			slog.Any("error", err),
		)
		return nil, err
	}
	if result == nil {
		return nil, xerrors.New(xerrors.CodeUnknown, "智能体未返回结果", xerrors.WithMetadata("agent", m.desc.ID))
	}
	if result.Metadata == nil {
		result.Metadata = make(map[string]any)
	}
	result.Metadata["agent_id"] = m.desc.ID
	return result, nil
}

func (o *Orchestrator) acquire(task string) (*member, string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.members) == 0 {
		return nil, "", emptyPool()
	}
	pool := o.snapshot()
	idx, err := o.strategy.Select(pool, task)
	if err != nil {
		return nil, "", err
	}
	if idx < 0 || idx >= len(o.members) {
		return nil, "", xerrors.New(xerrors.CodeUnknown, fmt.Sprintf("策略返回了越界下标 %d", idx))
	}
	m := o.members[idx]
	m.desc.CurrentLoad++
	o.metrics.SetAgentLoad(m.desc.ID, m.desc.CurrentLoad)
	o.metrics.ObserveDispatch(m.desc.ID, o.strategy.Name())
	return m, o.strategy.Name(), nil
}

func (o *Orchestrator) release(m *member) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m.desc.CurrentLoad--
	o.metrics.SetAgentLoad(m.desc.ID, m.desc.CurrentLoad)
}

// ExecuteTasksParallel 并发执行多个任务，每个任务独立选择智能体。
// 返回结果与输入顺序一致；convIDs 可以比 tasks 短，缺失的视为无会话。
func (o *Orchestrator) ExecuteTasksParallel(ctx context.Context, tasks []string, convIDs []string) []Outcome {
	outcomes := make([]Outcome, len(tasks))
	var g errgroup.Group
	if o.concurrency > 0 {
		g.SetLimit(o.concurrency)
	}
	for i, task := range tasks {
		convID := ""
		if i < len(convIDs) {
			convID = convIDs[i]
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i] = Outcome{Err: err}
				return nil
			}
			result, err := o.ExecuteTask(ctx, task, convID)
			outcomes[i] = Outcome{Result: result, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}
