// Package anthropic adapts the Anthropic Messages API to the llm.Client
// contract, including tool_use / tool_result round trips.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"AgentHub/internal/llm"
)

const (
	defaultModel     = "claude-3-5-sonnet-latest"
	defaultMaxTokens = 4096
	defaultTimeout   = 60 * time.Second
)

// Config 描述了调用 Anthropic 所需的信息。
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
	HTTPClient  *http.Client
}

// Client 通过官方 SDK 调用 Claude 模型。
type Client struct {
	sdk         anthropic.Client
	model       anthropic.Model
	maxTokens   int64
	temperature float64
}

// NewClient 根据配置创建 Anthropic 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 Anthropic API Key")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Client{
		sdk:         anthropic.NewClient(opts...),
		model:       anthropic.Model(model),
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Generate 调用 Messages 接口。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	system, messages := buildMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  messages,
	}
	if c.temperature > 0 {
		params.Temperature = anthropic.Float(c.temperature)
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("请求 Anthropic 失败: %w", err)
	}

	out := &llm.Response{}
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			toolUse := block.AsToolUse()
			args := "{}"
			if encoded, err := json.Marshal(toolUse.Input); err == nil && len(encoded) > 0 && string(encoded) != "null" {
				args = string(encoded)
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolInvocation{
				ID:        toolUse.ID,
				Name:      toolUse.Name,
				Arguments: args,
			})
		}
	}
	out.Content = strings.TrimSpace(text.String())
	if out.Content == "" && len(out.ToolCalls) == 0 {
		return nil, errors.New("Anthropic 响应内容为空")
	}
	return out, nil
}

// buildMessages 拆分出系统提示，并把连续的工具结果合并到同一条用户消息中。
func buildMessages(messages []llm.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var (
		system  []anthropic.TextBlockParam
		out     []anthropic.MessageParam
		pending []anthropic.ContentBlockParamUnion
	)
	flush := func() {
		if len(pending) > 0 {
			out = append(out, anthropic.NewUserMessage(pending...))
			pending = nil
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			if strings.TrimSpace(msg.Content) != "" {
				system = append(system, anthropic.TextBlockParam{Text: msg.Content})
			}
		case llm.RoleTool:
			if msg.ToolCallID == "" {
				pending = append(pending, anthropic.NewTextBlock(fmt.Sprintf("[%s 工具结果] %s", msg.Name, msg.Content)))
				continue
			}
			pending = append(pending, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		case llm.RoleAssistant:
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				var input any = map[string]any{}
				if strings.TrimSpace(call.Arguments) != "" {
					var decoded any
					if err := json.Unmarshal([]byte(call.Arguments), &decoded); err == nil {
						input = decoded
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		default:
			flush()
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	flush()
	return system, out
}

func buildTools(specs []llm.ToolSpec) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if properties, ok := spec.Parameters["properties"]; ok {
			schema.Properties = properties
		}
		schema.Required = requiredFields(spec.Parameters["required"])

		tool := anthropic.ToolUnionParamOfTool(schema, spec.Name)
		if tool.OfTool != nil && spec.Description != "" {
			tool.OfTool.Description = anthropic.String(spec.Description)
		}
		tools = append(tools, tool)
	}
	return tools
}

func requiredFields(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
