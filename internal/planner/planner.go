package planner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/llm"
	"AgentHub/internal/observability/metrics"
	"AgentHub/pkg/logger"
)

const decomposePrompt = `You are a planning assistant. Break the user's task into a small number of concrete steps.
Reply with JSON only, in the form:
{"steps": [{"id": "s1", "description": "...", "dependencies": [], "required_tools": [], "expected_output": "..."}]}
Use dependencies to reference the ids of steps that must finish first.`

// Planner 借助大模型分解任务，并负责解析与排序。
type Planner struct {
	client  llm.Client
	cache   Cache
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option 定义 Planner 的可选配置。
type Option func(*Planner)

// WithCache 设置计划缓存。缓存以原始任务文本为键，不区分附加上下文。
func WithCache(cache Cache) Option {
	return func(p *Planner) {
		p.cache = cache
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(p *Planner) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics 设置指标采集器。
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Planner) {
		p.metrics = m
	}
}

// New 创建 Planner。
func New(client llm.Client, opts ...Option) (*Planner, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "Planner 需要配置大模型客户端")
	}
	p := &Planner{
		client: client,
		logger: logger.Named("planner"),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Plan 分解任务并计算执行顺序。
func (p *Planner) Plan(ctx context.Context, task, extraContext string) (*Plan, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "任务不能为空")
	}

	if p.cache != nil {
		cached, ok, err := p.cache.Get(ctx, task)
		if err != nil {
			p.logger.Warn("读取计划缓存失败", slog.Any("error", err))
		}
		p.metrics.ObservePlanCache(ok)
		if ok {
			return cached, nil
		}
	}

	var b strings.Builder
	b.WriteString("Task: ")
	b.WriteString(task)
	if extra := strings.TrimSpace(extraContext); extra != "" {
		b.WriteString("\n\nContext:\n")
		b.WriteString(extra)
	}

	plan, err := p.decompose(ctx, task, b.String())
	if err != nil {
		return nil, err
	}

	if p.cache != nil {
		if err := p.cache.Set(ctx, task, plan); err != nil {
			p.logger.Warn("写入计划缓存失败", slog.Any("error", err))
		}
	}
	return plan, nil
}

// Adjust 根据已完成步骤和失败原因重新规划。
//
// 没有剩余步骤或 cause 为空时原样返回；重新分解失败时记录日志并返回原计划。
func (p *Planner) Adjust(ctx context.Context, plan *Plan, completed []string, results map[string]string, cause error) (*Plan, error) {
	if plan == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "计划不能为空")
	}
	remaining := plan.Remaining(completed)
	if len(remaining) == 0 || cause == nil {
		return plan, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n", plan.Task)
	b.WriteString("Completed steps:\n")
	if len(completed) == 0 {
		b.WriteString("(none)\n")
	}
	for _, id := range completed {
		fmt.Fprintf(&b, "- %s", id)
		if result, ok := results[id]; ok {
			fmt.Fprintf(&b, ": %s", result)
		}
		b.WriteString("\n")
	}
	extra := make([]string, 0)
	for id := range results {
		if !contains(completed, id) {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	for _, id := range extra {
		fmt.Fprintf(&b, "- %s (partial): %s\n", id, results[id])
	}
	b.WriteString("\nRemaining steps:\n")
	for _, step := range remaining {
		fmt.Fprintf(&b, "- %s: %s\n", step.ID, step.Description)
	}
	fmt.Fprintf(&b, "\nThe last step failed with: %v\nProduce a revised plan for the remaining work.", cause)

	adjusted, err := p.decompose(ctx, plan.Task, b.String())
	if err != nil {
		p.logger.Warn("调整计划失败，沿用原计划",
			slog.String("task", plan.Task),
			slog.Any("error", err),
		)
		return plan, nil
	}
	return adjusted, nil
}

func (p *Planner) decompose(ctx context.Context, task, prompt string) (*Plan, error) {
	resp, err := p.client.Generate(ctx, llm.Request{Messages: []llm.Message{
		{Role: llm.RoleSystem, Content: decomposePrompt},
		{Role: llm.RoleUser, Content: prompt},
	}})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePlanning, err, "调用大模型分解任务失败")
	}
	if resp == nil {
		return nil, xerrors.New(xerrors.CodePlanning, "大模型未返回内容")
	}

	steps, err := ParseSteps(resp.Content)
	if err != nil {
		return nil, err
	}
	order, cyclic := Order(steps)
	if cyclic {
		p.logger.Warn("计划依赖存在环，剩余步骤按声明顺序执行", slog.String("task", task))
	}
	return &Plan{
		Task:           task,
		Steps:          steps,
		ExecutionOrder: order,
		Cyclic:         cyclic,
		CreatedAt:      p.now().UTC(),
	}, nil
}

func contains(list []string, target string) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}
