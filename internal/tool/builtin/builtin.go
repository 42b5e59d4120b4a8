// Package builtin 提供随服务一同注册的通用工具。
package builtin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"AgentHub/internal/knowledge"
	"AgentHub/internal/tool"
)

const (
	CurrentTimeName     = "current_time"
	KnowledgeSearchName = "knowledge_search"
)

var timeFormats = map[string]string{
	"YYYY-MM-DD HH:mm:ss": "2006-01-02 15:04:05",
	"YYYY-MM-DD":          "2006-01-02",
	"HH:mm:ss":            "15:04:05",
	"RFC3339":             time.RFC3339,
}

// TimeResult 是 current_time 工具的输出。
type TimeResult struct {
	CurrentTime string `json:"current_time"`
	Timezone    string `json:"timezone"`
	Unix        int64  `json:"unix"`
}

// CurrentTime 返回查询当前时间的工具，now 为空时使用 time.Now。
func CurrentTime(now func() time.Time) tool.Tool {
	if now == nil {
		now = time.Now
	}
	return tool.NewFunction(CurrentTimeName, "返回指定时区的当前时间", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"timezone": map[string]any{"type": "string", "description": "IANA 时区，例如 Asia/Shanghai"},
			"format":   map[string]any{"type": "string", "description": "RFC3339、YYYY-MM-DD 或 Go 布局字符串"},
		},
	}, func(_ context.Context, args map[string]any) (any, error) {
		current := now()
		zone := "UTC"
		if name, ok := tool.StringArg(args, "timezone"); ok && name != "" {
			loc, err := time.LoadLocation(name)
			if err != nil {
				return nil, fmt.Errorf("未知时区 %s: %w", name, err)
			}
			current = current.In(loc)
			zone = name
		} else {
			current = current.UTC()
		}

		layout := time.RFC3339
		if format, ok := tool.StringArg(args, "format"); ok && format != "" {
			if mapped, known := timeFormats[format]; known {
				layout = mapped
			} else {
				layout = format
			}
		}
		return TimeResult{CurrentTime: current.Format(layout), Timezone: zone, Unix: current.Unix()}, nil
	})
}

// KnowledgeSearch 返回在静态知识库中检索的工具。
func KnowledgeSearch(provider knowledge.Provider) tool.Tool {
	return tool.NewFunction(KnowledgeSearchName, "在内置知识库中检索与问题相关的资料", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "检索关键词或问题"},
			"limit": map[string]any{"type": "integer", "description": "返回条数上限"},
		},
		"required": []string{"query"},
	}, func(_ context.Context, args map[string]any) (any, error) {
		if provider == nil {
			return nil, fmt.Errorf("知识库未配置")
		}
		query, _ := tool.StringArg(args, "query")
		if query == "" {
			return nil, fmt.Errorf("query 不能为空")
		}
		snippets := provider.Query(query, tool.IntArg(args, "limit", 0))
		if len(snippets) == 0 {
			return "未找到相关资料", nil
		}
		var b strings.Builder
		for i, snippet := range snippets {
			if i > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "- %s: %s", snippet.Title, snippet.Content)
		}
		return b.String(), nil
	})
}

// Register 将内置工具注册到注册表。provider 为空时跳过知识检索工具。
func Register(reg *tool.Registry, provider knowledge.Provider) error {
	if err := reg.Register(CurrentTime(nil)); err != nil {
		return err
	}
	if provider != nil {
		if err := reg.Register(KnowledgeSearch(provider)); err != nil {
			return err
		}
	}
	return nil
}
