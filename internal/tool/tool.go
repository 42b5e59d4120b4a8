package tool

import (
	"context"
	"encoding/json"
	"fmt"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/llm"
)

// Tool 是可被大模型调用的具名能力。
type Tool interface {
	Name() string
	Description() string
	// Parameters 返回 JSON Schema 形式的参数描述。
	Parameters() map[string]any
	Call(ctx context.Context, args map[string]any) (any, error)
}

// Toolbox 是执行循环所见的注册表视图，只能查询和执行，不能修改。
type Toolbox interface {
	Schemas() []llm.ToolSpec
	Execute(ctx context.Context, name string, args map[string]any) (any, error)
}

// Func 是 FunctionTool 包装的函数签名。
type Func func(ctx context.Context, args map[string]any) (any, error)

// FunctionTool 将普通函数适配为 Tool。
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          Func
}

// NewFunction 创建函数工具。parameters 为空时视为不接受参数的对象。
func NewFunction(name, description string, parameters map[string]any, fn Func) *FunctionTool {
	if parameters == nil {
		parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return &FunctionTool{name: name, description: description, parameters: parameters, fn: fn}
}

// Name 实现 Tool 接口。
func (t *FunctionTool) Name() string { return t.name }

// Description 实现 Tool 接口。
func (t *FunctionTool) Description() string { return t.description }

// Parameters 实现 Tool 接口。
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call 校验必填参数后调用底层函数。
func (t *FunctionTool) Call(ctx context.Context, args map[string]any) (any, error) {
	if t.fn == nil {
		return nil, fmt.Errorf("工具 %s 未绑定实现", t.name)
	}
	for _, key := range RequiredKeys(t.parameters) {
		if _, ok := args[key]; !ok {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("缺少必填参数 %s", key))
		}
	}
	return t.fn(ctx, args)
}

// RequiredKeys 从参数描述中提取 required 字段。
func RequiredKeys(parameters map[string]any) []string {
	switch v := parameters["required"].(type) {
	case []string:
		return v
	case []any:
		keys := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				keys = append(keys, s)
			}
		}
		return keys
	default:
		return nil
	}
}

// Spec 将工具转换为大模型可见的声明。
func Spec(t Tool) llm.ToolSpec {
	return llm.ToolSpec{Name: t.Name(), Description: t.Description(), Parameters: t.Parameters()}
}

// Record 是一次任务执行中的工具调用记录。
type Record struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	Result    any            `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Failed 判断调用是否失败。
func (r Record) Failed() bool {
	return r.Error != ""
}

// FormatResult 将调用记录序列化为工具结果消息的内容。
func FormatResult(r Record) string {
	if r.Failed() {
		payload := map[string]any{
			"tool":      r.Tool,
			"arguments": r.Arguments,
			"error":     r.Error,
		}
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Sprintf("工具 %s 执行失败: %s", r.Tool, r.Error)
		}
		return string(encoded)
	}
	switch v := r.Result.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	}
	encoded, err := json.Marshal(r.Result)
	if err != nil {
		return fmt.Sprintf("%v", r.Result)
	}
	return string(encoded)
}
