package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"AgentHub/internal/llm"
)

// Client 通过调用 Python 脚本实现大模型推理。
//
// 脚本从标准输入读取 {"messages": [...], "tools": [...], "timestamp": N}，
// 向标准输出写入 {"content": "...", "tool_calls": [{"id", "name", "arguments"}]}。
type Client struct {
	pythonExec string
	scriptPath string
	workingDir string
}

// NewClient 创建 Python Bridge 客户端。
func NewClient(pythonExec, scriptPath, workingDir string) (*Client, error) {
	if scriptPath == "" {
		return nil, fmt.Errorf("未指定 Python 脚本路径")
	}
	if pythonExec == "" {
		pythonExec = "python3"
	}
	return &Client{
		pythonExec: pythonExec,
		scriptPath: scriptPath,
		workingDir: workingDir,
	}, nil
}

type bridgeMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []bridgeInvoke `json:"tool_calls,omitempty"`
}

type bridgeInvoke struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type bridgeTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type bridgeRequest struct {
	Messages  []bridgeMessage `json:"messages"`
	Tools     []bridgeTool    `json:"tools,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type bridgeResponse struct {
	Content   string         `json:"content"`
	ToolCalls []bridgeInvoke `json:"tool_calls"`
}

// Generate 调用外部脚本，并解析输出。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	payload := bridgeRequest{
		Messages:  make([]bridgeMessage, 0, len(req.Messages)),
		Timestamp: time.Now().Unix(),
	}
	for _, msg := range req.Messages {
		encodedMsg := bridgeMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			Name:       msg.Name,
			ToolCallID: msg.ToolCallID,
		}
		for _, call := range msg.ToolCalls {
			encodedMsg.ToolCalls = append(encodedMsg.ToolCalls, bridgeInvoke(call))
		}
		payload.Messages = append(payload.Messages, encodedMsg)
	}
	for _, spec := range req.Tools {
		payload.Tools = append(payload.Tools, bridgeTool(spec))
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	command := exec.CommandContext(ctx, c.pythonExec, c.scriptPath)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("执行 Python 脚本失败: %v, stderr=%s", err, strings.TrimSpace(stderr.String()))
	}

	return decodeResponse(stdout.Bytes())
}

func decodeResponse(raw []byte) (*llm.Response, error) {
	var resp bridgeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("解析 Python 输出失败: %w", err)
	}
	out := &llm.Response{Content: strings.TrimSpace(resp.Content)}
	for _, call := range resp.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolInvocation(call))
	}
	return out, nil
}

// ResolveScriptPath 根据工作目录推导脚本绝对路径。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" {
		return ""
	}
	if filepath.IsAbs(script) {
		return script
	}
	if baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}
