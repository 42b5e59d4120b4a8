package pythonbridge

import (
	"path/filepath"
	"testing"
)

func TestDecodeResponse(t *testing.T) {
	resp, err := decodeResponse([]byte(`{"content":" done ","tool_calls":[{"id":"1","name":"calc","arguments":"{\"x\":1}"}]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Content != "done" {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "calc" {
		t.Fatalf("unexpected tool calls %+v", resp.ToolCalls)
	}

	if _, err := decodeResponse([]byte("not json")); err == nil {
		t.Fatalf("expected error for invalid output")
	}
}

func TestResolveScriptPath(t *testing.T) {
	abs := filepath.Join(string(filepath.Separator), "opt", "bridge.py")
	if got := ResolveScriptPath("/base", abs); got != abs {
		t.Fatalf("absolute path should be kept, got %s", got)
	}
	if got := ResolveScriptPath("/base", "scripts/bridge.py"); got != filepath.Join("/base", "scripts/bridge.py") {
		t.Fatalf("unexpected resolved path %s", got)
	}
	if got := ResolveScriptPath("", ""); got != "" {
		t.Fatalf("empty script should stay empty")
	}
}

func TestNewClientRequiresScript(t *testing.T) {
	if _, err := NewClient("", "", ""); err == nil {
		t.Fatalf("expected error without script path")
	}
	client, err := NewClient("", "bridge.py", "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.pythonExec != "python3" {
		t.Fatalf("expected python3 default, got %s", client.pythonExec)
	}
}
