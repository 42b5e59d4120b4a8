package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"AgentHub/internal/agent"
	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/observability/alerting"
	"AgentHub/internal/observability/metrics"
	"AgentHub/pkg/logger"
)

// Executor 定义了处理器所需的执行能力，编排器满足该接口。
type Executor interface {
	ExecuteTask(ctx context.Context, task, conversationID string) (*agent.Result, error)
}

// Processor 负责从队列消费任务并交给执行器。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	taskTimeout time.Duration
	logger      *slog.Logger
	recovery    RecoveryHandler
	alerter     alerting.Dispatcher
	metrics     *metrics.Metrics
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithTaskTimeout 限制单个任务的执行时间。
func WithTaskTimeout(timeout time.Duration) ProcessorOption {
	return func(p *Processor) {
		if timeout > 0 {
			p.taskTimeout = timeout
		}
	}
}

// WithRecoveryHandler 配置失败补偿策略。
func WithRecoveryHandler(handler RecoveryHandler) ProcessorOption {
	return func(p *Processor) {
		p.recovery = handler
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// WithProcessorMetrics 配置指标采集器。
func WithProcessorMetrics(m *metrics.Metrics) ProcessorOption {
	return func(p *Processor) {
		p.metrics = m
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	if p.logger == nil {
		p.logger = logger.Named("task.processor")
	}
	return p
}

// Start 启动任务处理循环，直到 ctx 被取消。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, taskID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	task, err := p.store.Claim(ctx, taskID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) || stdErrors.Is(err, ErrTaskCompleted) ||
			stdErrors.Is(err, ErrTaskExhausted) || stdErrors.Is(err, ErrTaskConflict) {
			p.logger.Debug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取任务失败", slog.Any("error", err), slog.String("task_id", taskID))
		p.emitAlert(ctx, &Task{ID: taskID}, CodeTaskProcessing, err, "claim")
		return err
	}
	p.metrics.ObserveTask(string(StatusRunning))

	execCtx := ctx
	if p.taskTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, p.taskTimeout)
		defer cancel()
	}
	result, execErr := p.executor.ExecuteTask(execCtx, task.Task, task.ConversationID)
	if execErr != nil {
		return p.handleExecutionFailure(ctx, task, execErr)
	}

	record := toExecutionResult(result)
	if err := p.store.MarkSucceeded(ctx, task.ID, record); err != nil {
		p.logger.Error("标记任务成功状态失败", slog.Any("error", err), slog.String("task_id", task.ID))
		if storeErr := p.store.MarkFailed(ctx, task.ID, CodeTaskProcessing, err.Error(), false); storeErr != nil {
			p.logger.Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("task_id", task.ID))
			return storeErr
		}
		if pubErr := p.producer.Publish(ctx, task.ID); pubErr != nil {
			return xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("任务 %s 在标记成功失败后重投失败", task.ID))
		}
		return nil
	}
	p.metrics.ObserveTask(string(StatusSucceeded))
	logger.Audit().Info("任务执行成功",
		slog.String("task_id", task.ID),
		slog.String("agent", record.Agent),
		slog.Int("iterations", record.Iterations),
		slog.Int("tool_calls", len(record.ToolCalls)),
	)
	return nil
}

func toExecutionResult(result *agent.Result) ExecutionResult {
	if result == nil {
		return ExecutionResult{}
	}
	record := ExecutionResult{
		Content:    result.Content,
		Iterations: result.Iterations,
		ToolCalls:  result.ToolCalls,
	}
	if id, ok := result.Metadata["agent_id"].(string); ok {
		record.Agent = id
	} else if name, ok := result.Metadata["agent"].(string); ok {
		record.Agent = name
	}
	return record
}

func (p *Processor) handleExecutionFailure(ctx context.Context, task *Task, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := task.Attempts >= task.MaxRetries || !retryable

	if !retryable && p.recovery != nil {
		if p.compensate(ctx, task, code, execErr) {
			return nil
		}
	}

	if storeErr := p.store.MarkFailed(ctx, task.ID, code, execErr.Error(), terminal); storeErr != nil {
		p.logger.Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("task_id", task.ID))
		return storeErr
	}
	p.metrics.ObserveTask(string(StatusFailed))
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", task.ID),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", task.Attempts),
		slog.Int("max_retries", task.MaxRetries),
	)

	stage := "retry"
	if terminal {
		stage = "terminal"
		if !retryable {
			stage = "non_retryable"
		}
	}
	if terminal || xerrors.ShouldAlert(execErr) {
		p.emitAlert(ctx, task, code, execErr, stage)
	}

	if !terminal {
		if pubErr := p.producer.Publish(ctx, task.ID); pubErr != nil {
			return xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("任务 %s 重投失败", task.ID))
		}
		p.logger.Debug("任务已重新排队", slog.String("task_id", task.ID), slog.Int("attempts", task.Attempts))
	}
	return nil
}

// compensate 调用补偿策略，返回任务是否已被补偿结果接管。
func (p *Processor) compensate(ctx context.Context, task *Task, code xerrors.Code, execErr error) bool {
	fallback, recErr := p.recovery.Recover(ctx, task, execErr)
	if recErr != nil {
		wrapped := xerrors.Wrap(CodeTaskCompensate, recErr, "任务补偿失败")
		p.logger.Error("执行补偿逻辑失败", slog.Any("error", wrapped), slog.String("task_id", task.ID))
		p.emitAlert(ctx, task, CodeTaskCompensate, wrapped, "compensate")
		return false
	}
	if fallback == nil {
		return false
	}
	if fallback.Content == "" {
		fallback.Content = fmt.Sprintf("降级处理: %v", execErr)
	}
	if err := p.store.MarkSucceeded(ctx, task.ID, *fallback); err != nil {
		p.logger.Error("记录降级结果失败", slog.Any("error", err), slog.String("task_id", task.ID))
		return false
	}
	p.metrics.ObserveTask(string(StatusSucceeded))
	logger.Audit().Warn("任务降级完成",
		slog.String("task_id", task.ID),
		slog.String("error_code", string(code)),
		slog.String("content", fallback.Content),
	)
	p.emitAlert(ctx, task, code, execErr, "degraded")
	return true
}

func (p *Processor) emitAlert(ctx context.Context, task *Task, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || task == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	metadata := map[string]string{"stage": stage}
	if cause != nil {
		message = cause.Error()
		metadata["cause"] = cause.Error()
	}
	if task.ConversationID != "" {
		metadata["conversation_id"] = task.ConversationID
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		TaskID:     task.ID,
		Attempts:   task.Attempts,
		MaxRetries: task.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败",
			slog.Any("error", err),
			slog.String("task_id", task.ID),
			slog.String("stage", stage),
		)
	}
}
