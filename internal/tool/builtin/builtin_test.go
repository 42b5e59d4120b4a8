package builtin

import (
	"context"
	"strings"
	"testing"
	"time"

	"AgentHub/internal/knowledge"
	"AgentHub/internal/tool"
)

func TestCurrentTime(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	current := CurrentTime(func() time.Time { return fixed })

	result, err := current.Call(context.Background(), map[string]any{"timezone": "Asia/Shanghai", "format": "YYYY-MM-DD HH:mm:ss"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	got := result.(TimeResult)
	if got.CurrentTime != "2024-05-01 16:30:00" || got.Timezone != "Asia/Shanghai" || got.Unix != fixed.Unix() {
		t.Fatalf("unexpected result %+v", got)
	}

	if _, err := current.Call(context.Background(), map[string]any{"timezone": "Mars/Base"}); err == nil {
		t.Fatalf("expected error for unknown zone")
	}
}

func TestKnowledgeSearch(t *testing.T) {
	provider := knowledge.NewStaticProvider([]knowledge.Snippet{
		{Title: "eth", Content: "Ethereum basics", Keywords: []string{"ethereum"}},
	}, 3)
	reg := tool.NewRegistry()
	if err := Register(reg, provider); err != nil {
		t.Fatalf("register: %v", err)
	}
	if reg.Len() != 2 {
		t.Fatalf("expected two builtin tools, got %d", reg.Len())
	}

	result, err := reg.Execute(context.Background(), KnowledgeSearchName, map[string]any{"query": "what is ethereum"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(result.(string), "Ethereum basics") {
		t.Fatalf("unexpected result %v", result)
	}

	result, err = reg.Execute(context.Background(), KnowledgeSearchName, map[string]any{"query": "cooking"})
	if err != nil || result != "未找到相关资料" {
		t.Fatalf("unexpected miss result %v (%v)", result, err)
	}
}
