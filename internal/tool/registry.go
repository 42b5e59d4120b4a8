package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/llm"
)

// Registry 按名称保存工具。执行期间不持有锁。
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry 创建空注册表。
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

type registerOptions struct {
	override bool
}

// RegisterOption 控制注册行为。
type RegisterOption func(*registerOptions)

// WithOverride 允许覆盖同名工具。
func WithOverride() RegisterOption {
	return func(o *registerOptions) {
		o.override = true
	}
}

// Register 注册工具，同名冲突时返回 CodeToolConflict。
func (r *Registry) Register(t Tool, opts ...RegisterOption) error {
	if t == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "工具不能为空")
	}
	name := strings.TrimSpace(t.Name())
	if name == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "工具名称不能为空")
	}
	var options registerOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists && !options.override {
		return xerrors.New(xerrors.CodeToolConflict, fmt.Sprintf("工具 %s 已注册", name),
			xerrors.WithMetadata("tool", name))
	}
	r.tools[name] = t
	return nil
}

// MustRegister 注册失败时 panic，仅用于启动阶段。
func (r *Registry) MustRegister(t Tool, opts ...RegisterOption) {
	if err := r.Register(t, opts...); err != nil {
		panic(err)
	}
}

// Unregister 移除工具，返回是否存在。
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return false
	}
	delete(r.tools, name)
	return true
}

// Get 查询工具。
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Len 返回工具数量。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// List 返回按名称排序的工具名。
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas 返回按名称排序的工具声明。
func (r *Registry) Schemas() []llm.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]llm.ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, Spec(t))
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Execute 调用指定工具。底层失败（含 panic）统一包装为 CodeToolExecution，并保留原始错误。
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (result any, err error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, xerrors.New(xerrors.CodeToolNotFound, fmt.Sprintf("未找到工具 %s", name),
			xerrors.WithMetadata("tool", name))
	}
	if args == nil {
		args = map[string]any{}
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			result = nil
			err = executionError(name, args, fmt.Errorf("panic: %v", recovered))
		}
	}()

	result, err = t.Call(ctx, args)
	if err != nil {
		return nil, executionError(name, args, err)
	}
	return result, nil
}

func executionError(name string, args map[string]any, cause error) error {
	raw, marshalErr := json.Marshal(args)
	if marshalErr != nil {
		raw = []byte(fmt.Sprintf("%v", args))
	}
	return xerrors.Wrap(xerrors.CodeToolExecution, cause, fmt.Sprintf("工具 %s 执行失败", name),
		xerrors.WithMetadata("tool", name),
		xerrors.WithMetadata("arguments", string(raw)))
}
