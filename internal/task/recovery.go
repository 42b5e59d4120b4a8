package task

import (
	"context"

	xerrors "AgentHub/internal/errors"
)

// RecoveryHandler 定义了在任务以不可重试错误失败时的补偿策略。
type RecoveryHandler interface {
	// Recover 返回的 ExecutionResult 将作为降级结果写入任务；返回 nil 则按失败流程处理。
	Recover(ctx context.Context, task *Task, cause error) (*ExecutionResult, error)
}

// RecoveryFunc 允许使用普通函数实现 RecoveryHandler。
type RecoveryFunc func(ctx context.Context, task *Task, cause error) (*ExecutionResult, error)

// Recover 实现 RecoveryHandler 接口。
func (f RecoveryFunc) Recover(ctx context.Context, task *Task, cause error) (*ExecutionResult, error) {
	return f(ctx, task, cause)
}

// FallbackReply 对指定错误码返回固定答复，其余错误保持失败。
type FallbackReply struct {
	Codes   []xerrors.Code
	Content string
}

// Recover 实现 RecoveryHandler 接口。
func (f FallbackReply) Recover(_ context.Context, _ *Task, cause error) (*ExecutionResult, error) {
	for _, code := range f.Codes {
		if xerrors.HasCode(cause, code) {
			return &ExecutionResult{Content: f.Content}, nil
		}
	}
	return nil, nil
}
