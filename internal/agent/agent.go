package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"AgentHub/internal/conversation"
	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/llm"
	"AgentHub/internal/memory"
	"AgentHub/internal/observability/metrics"
	"AgentHub/internal/planner"
	"AgentHub/internal/tool"
	"AgentHub/pkg/logger"
)

// DefaultMaxIterations 是单次任务允许的模型调用轮数上限的默认值。
const DefaultMaxIterations = 10

// ErrIterationBudget 用于 errors.Is 判断任务是否因轮数耗尽而失败。
var ErrIterationBudget = xerrors.New(xerrors.CodeIterationBudget, "iteration budget exceeded")

// State 表示执行循环所处的状态。
type State string

const (
	StateReady     State = "ready"
	StateIterating State = "iterating"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

// Result 是一次任务执行的结果。
type Result struct {
	Content    string         `json:"content"`
	ToolCalls  []tool.Record  `json:"tool_calls"`
	Iterations int            `json:"iterations"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Planner 是执行循环使用的规划能力。
type Planner interface {
	Plan(ctx context.Context, task, extraContext string) (*planner.Plan, error)
}

// Agent 驱动"模型调用 → 工具执行"的循环，直到得到最终答案或耗尽轮数。
//
// 每个 Agent 独占一个对话上下文，同一实例上的 Run 调用串行执行。
type Agent struct {
	name          string
	client        llm.Client
	tools         tool.Toolbox
	planner       Planner
	planning      bool
	memory        memory.Store
	maxIterations int
	maxMessages   int
	systemPrompt  string
	llmTimeout    time.Duration
	logger        *slog.Logger
	metrics       *metrics.Metrics
	newCallID     func() string

	runMu   sync.Mutex
	context *conversation.Context

	stateMu sync.RWMutex
	state   State
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithName 设置智能体名称，用于日志与结果元数据。
func WithName(name string) Option {
	return func(a *Agent) {
		if strings.TrimSpace(name) != "" {
			a.name = strings.TrimSpace(name)
		}
	}
}

// WithMaxIterations 设置单次任务的最大轮数。
func WithMaxIterations(n int) Option {
	return func(a *Agent) {
		a.maxIterations = n
	}
}

// WithMaxMessages 限制对话上下文保留的消息条数，0 表示不限。
func WithMaxMessages(n int) Option {
	return func(a *Agent) {
		a.maxMessages = n
	}
}

// WithSystemPrompt 设置系统提示。系统提示不计入上下文条数，也不会被淘汰。
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) {
		a.systemPrompt = strings.TrimSpace(prompt)
	}
}

// WithPlanner 配置规划器，并默认启用规划。
func WithPlanner(p Planner) Option {
	return func(a *Agent) {
		a.planner = p
		a.planning = p != nil
	}
}

// WithPlanning 显式开启或关闭规划。
func WithPlanning(enabled bool) Option {
	return func(a *Agent) {
		a.planning = enabled
	}
}

// WithMemory 配置长期记忆存储。
func WithMemory(store memory.Store) Option {
	return func(a *Agent) {
		a.memory = store
	}
}

// WithLLMTimeout 设置单次调用大模型的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout <= 0 {
			a.llmTimeout = 0
			return
		}
		a.llmTimeout = timeout
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithMetrics 设置指标采集器。
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Agent) {
		a.metrics = m
	}
}

// New 创建一个 Agent。tools 为空时使用空的工具注册表。
func New(client llm.Client, tools tool.Toolbox, opts ...Option) (*Agent, error) {
	// 验证必要的组件是否已配置。
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	if tools == nil {
		tools = tool.NewRegistry()
	}

	ag := &Agent{
		name:          "agent",
		client:        client,
		tools:         tools,
		maxIterations: DefaultMaxIterations,
		newCallID:     uuid.NewString,
		state:         StateReady,
	}
	// 应用可选配置。
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}

	if ag.maxIterations <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "max_iterations 必须大于 0")
	}
	if ag.planning && ag.planner == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "启用规划时必须配置 Planner")
	}
	if ag.logger == nil {
		ag.logger = logger.Named("agent")
	}
	ag.logger = ag.logger.With(slog.String("agent", ag.name))
	ag.context = conversation.New(ag.maxMessages)
	return ag, nil
}

// Name 返回智能体名称。
func (a *Agent) Name() string {
	return a.name
}

// MaxIterations 返回轮数上限。
func (a *Agent) MaxIterations() int {
	return a.maxIterations
}

// State 返回当前状态。
func (a *Agent) State() State {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	return a.state
}

func (a *Agent) setState(state State) {
	a.stateMu.Lock()
	a.state = state
	a.stateMu.Unlock()
}

// Messages 返回最近一次执行的对话副本。
func (a *Agent) Messages() []llm.Message {
	return a.context.Messages()
}

// Reset 清空对话上下文并回到就绪状态。
func (a *Agent) Reset() {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	a.context.Clear()
	a.setState(StateReady)
}

// Run 执行一个任务。
//
// 轮数耗尽时返回 CodeIterationBudget 错误而不是截断的答案；工具失败会写回对话，
// 不会中断循环；规划与加载历史失败只记录日志。
func (a *Agent) Run(ctx context.Context, task, conversationID string) (*Result, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "任务不能为空")
	}
	conversationID = strings.TrimSpace(conversationID)

	a.runMu.Lock()
	defer a.runMu.Unlock()

	result, err := a.run(ctx, task, conversationID)
	outcome := "success"
	iterations := 0
	if result != nil {
		iterations = result.Iterations
	}
	if err != nil {
		a.setState(StateFailed)
		outcome = string(xerrors.CodeOf(err))
		if stdErrors.Is(err, context.Canceled) {
			outcome = "canceled"
		}
		a.logger.Warn("任务执行失败", slog.String("conversation_id", conversationID), slog.Any("error", err))
	} else {
		a.setState(StateDone)
	}
	a.metrics.ObserveAgentRun(a.name, outcome, iterations)
	return result, err
}

func (a *Agent) run(ctx context.Context, task, conversationID string) (*Result, error) {
	a.context.Clear()
	a.setState(StateReady)

	// 回放长期记忆中的历史消息。
	a.replayHistory(ctx, conversationID)

	// 规划只在任务开始时执行一次，摘要只随本次请求发送，不进入上下文。
	plan := a.plan(ctx, task)
	summary := plan.Summary()

	// 当前任务固定在上下文中，不参与淘汰。
	a.context.Pin(llm.Message{Role: llm.RoleUser, Content: task})
	a.setState(StateIterating)

	records := make([]tool.Record, 0)
	for iteration := 1; iteration <= a.maxIterations; iteration++ {
		resp, err := a.generate(ctx, summary)
		if err != nil {
			return nil, err
		}

		if !resp.HasToolCalls() {
			// 没有工具调用请求，视为最终答案。
			a.context.AddMessage(llm.RoleAssistant, resp.Content)
			a.persist(ctx, conversationID, plan)
			return a.buildResult(resp.Content, records, iteration, conversationID, plan), nil
		}

		calls := make([]llm.ToolInvocation, len(resp.ToolCalls))
		for i, call := range resp.ToolCalls {
			if strings.TrimSpace(call.ID) == "" {
				call.ID = a.newCallID()
			}
			calls[i] = call
		}
		a.context.Add(llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: calls})

		for _, call := range calls {
			record := a.invoke(ctx, call)
			records = append(records, record)
			a.context.AddToolMessage(call.Name, call.ID, tool.FormatResult(record))
		}

		if err := ctx.Err(); err != nil {
			return nil, contextError(err)
		}
		a.logger.Debug("完成一轮工具调用", slog.Int("iteration", iteration), slog.Int("tool_calls", len(calls)))
	}

	return nil, xerrors.Wrap(xerrors.CodeIterationBudget, ErrIterationBudget,
		fmt.Sprintf("超过最大轮数 %d 仍未得到最终答案", a.maxIterations),
		xerrors.WithMetadata("agent", a.name),
		xerrors.WithMetadata("max_iterations", fmt.Sprint(a.maxIterations)),
	)
}

func (a *Agent) replayHistory(ctx context.Context, conversationID string) {
	if a.memory == nil || conversationID == "" {
		return
	}
	history, err := a.memory.Load(ctx, conversationID)
	if err != nil {
		if !stdErrors.Is(err, memory.ErrNotFound) {
			a.logger.Warn("加载历史会话失败，按空历史处理",
				slog.String("conversation_id", conversationID),
				slog.Any("error", err),
			)
		}
		return
	}
	for _, msg := range history {
		// 系统消息不属于对话历史。
		if msg.Role == llm.RoleSystem {
			continue
		}
		a.context.Add(msg)
	}
}

func (a *Agent) plan(ctx context.Context, task string) *planner.Plan {
	if !a.planning || a.planner == nil {
		return nil
	}
	var hints strings.Builder
	for _, spec := range a.tools.Schemas() {
		if hints.Len() == 0 {
			hints.WriteString("Available tools:\n")
		}
		fmt.Fprintf(&hints, "- %s: %s\n", spec.Name, spec.Description)
	}
	plan, err := a.planner.Plan(ctx, task, hints.String())
	if err != nil {
		a.logger.Warn("任务规划失败，直接执行", slog.Any("error", err))
		return nil
	}
	return plan
}

func (a *Agent) generate(ctx context.Context, planSummary string) (*llm.Response, error) {
	history := a.context.Messages()
	messages := make([]llm.Message, 0, len(history)+2)
	if a.systemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: a.systemPrompt})
	}
	if planSummary != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: planSummary})
	}
	messages = append(messages, history...)
	req := llm.Request{Messages: messages}
	if schemas := a.tools.Schemas(); len(schemas) > 0 {
		req.Tools = schemas
	}

	llmCtx := ctx
	if a.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, a.llmTimeout)
		defer cancel()
	}

	resp, err := a.client.Generate(llmCtx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, contextError(ctxErr)
		}
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "大模型推理超时")
		}
		return nil, xerrors.Wrap(xerrors.CodeModelInvocation, err, "大模型推理失败")
	}
	if resp == nil {
		return nil, xerrors.New(xerrors.CodeModelInvocation, "大模型返回了空响应")
	}
	return resp, nil
}

func (a *Agent) invoke(ctx context.Context, call llm.ToolInvocation) tool.Record {
	record := tool.Record{Tool: call.Name}
	args, err := tool.DecodeArguments(call.Arguments)
	if err != nil {
		record.Arguments = map[string]any{"raw": call.Arguments}
		record.Error = err.Error()
		a.metrics.ObserveToolCall(call.Name, err)
		return record
	}
	record.Arguments = args

	started := time.Now()
	result, err := a.tools.Execute(ctx, call.Name, args)
	a.metrics.ObserveToolCall(call.Name, err)
	if err != nil {
		record.Error = err.Error()
		a.logger.Warn("工具调用失败",
			slog.String("tool", call.Name),
			slog.String("arguments", call.Arguments),
			slog.Any("error", err),
		)
	} else {
		record.Result = result
	}
	logger.Audit().Info("工具调用完成",
		slog.String("agent", a.name),
		slog.String("tool", call.Name),
		slog.Bool("success", err == nil),
		slog.Duration("duration", time.Since(started)),
	)
	return record
}

func (a *Agent) persist(ctx context.Context, conversationID string, plan *planner.Plan) {
	if a.memory == nil || conversationID == "" {
		return
	}
	metadata := map[string]string{"agent": a.name}
	if plan != nil {
		metadata["plan"] = strings.Join(plan.ExecutionOrder, ",")
	}
	if err := a.memory.Save(ctx, conversationID, a.context.Messages(), metadata); err != nil {
		a.logger.Warn("保存会话失败",
			slog.String("conversation_id", conversationID),
			slog.Any("error", err),
		)
	}
}

func (a *Agent) buildResult(content string, records []tool.Record, iterations int, conversationID string, plan *planner.Plan) *Result {
	metadata := map[string]any{"agent": a.name}
	if conversationID != "" {
		metadata["conversation_id"] = conversationID
	}
	if plan != nil {
		metadata["plan"] = append([]string(nil), plan.ExecutionOrder...)
		if plan.Cyclic {
			metadata["plan_cyclic"] = true
		}
	}
	return &Result{
		Content:    content,
		ToolCalls:  records,
		Iterations: iterations,
		Metadata:   metadata,
	}
}

func contextError(err error) error {
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "任务执行超时")
	}
	return err
}
