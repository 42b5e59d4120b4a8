package llm

import (
	"context"
	"strings"
)

// Role 表示消息在对话中的角色。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// IsValid 判断角色是否为支持的枚举值。
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	default:
		return false
	}
}

// Message 是对话中的一条消息。追加到上下文后不再修改。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Name 在工具结果消息中记录工具名称。
	Name string `json:"name,omitempty"`
	// ToolCallID 将工具结果与模型发起的调用请求对应起来。
	ToolCallID string `json:"tool_call_id,omitempty"`
	// ToolCalls 记录助手消息中请求的工具调用。
	ToolCalls []ToolInvocation `json:"tool_calls,omitempty"`
}

// Clone 返回消息的深拷贝。
func (m Message) Clone() Message {
	clone := m
	if len(m.ToolCalls) > 0 {
		clone.ToolCalls = append([]ToolInvocation(nil), m.ToolCalls...)
	}
	return clone
}

// ToolSpec 描述暴露给大模型的工具声明。
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolInvocation 是大模型请求执行的一次工具调用，Arguments 为原始 JSON 文本。
type ToolInvocation struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Request 描述发送给大模型的一次调用。
type Request struct {
	Messages []Message
	Tools    []ToolSpec
}

// Response 是大模型的一次输出：要么是最终内容，要么包含工具调用请求。
type Response struct {
	Content   string
	ToolCalls []ToolInvocation
}

// HasToolCalls 判断响应是否请求了工具调用。
func (r *Response) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// Client 定义了调用大模型的统一接口。实现需要支持调用方自行重试。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// ClientFunc 允许使用普通函数实现 Client。
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

// Generate 实现 Client 接口。
func (f ClientFunc) Generate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// EchoClient 是一个离线模型，直接复述最后一条用户消息，便于在没有凭证时启动服务。
type EchoClient struct {
	Prefix string
}

// Generate 实现 Client 接口。
func (c EchoClient) Generate(_ context.Context, req Request) (*Response, error) {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		msg := req.Messages[i]
		if msg.Role == RoleUser {
			return &Response{Content: c.Prefix + strings.TrimSpace(msg.Content)}, nil
		}
	}
	return &Response{Content: c.Prefix}, nil
}
