package knowledge

import (
	"os"
	"path/filepath"
	"testing"
)

func TestQueryRanksByScore(t *testing.T) {
	provider := NewStaticProvider([]Snippet{
		{Title: "gas", Content: "gas basics", Tags: []string{"ethereum"}},
		{Title: "balance", Content: "how to read balances", Keywords: []string{"balance", "ethereum"}},
		{Title: "weather", Content: "unrelated", Keywords: []string{"rain"}},
	}, 5)

	results := provider.Query("Check the Ethereum balance of an address", 0)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Title != "balance" {
		t.Fatalf("keyword hits should rank first, got %s", results[0].Title)
	}

	if got := provider.Query("ethereum balance", 1); len(got) != 1 {
		t.Fatalf("limit should cap results, got %d", len(got))
	}
	if got := provider.Query("   ", 0); got != nil {
		t.Fatalf("blank query should return nothing")
	}
}

func TestLoadStaticProviderFormats(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "kb.json")
	if err := os.WriteFile(jsonPath, []byte(`[{"title":"a","content":"c","keywords":["k"]}]`), 0o600); err != nil {
		t.Fatalf("write json: %v", err)
	}
	yamlPath := filepath.Join(dir, "kb.yaml")
	if err := os.WriteFile(yamlPath, []byte("- title: b\n  content: d\n  tags: [t]\n"), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	fromJSON, err := LoadStaticProvider(jsonPath, 3)
	if err != nil || fromJSON.Len() != 1 {
		t.Fatalf("load json: %v", err)
	}
	fromYAML, err := LoadStaticProvider(yamlPath, 3)
	if err != nil || fromYAML.Len() != 1 {
		t.Fatalf("load yaml: %v", err)
	}
	if got := fromYAML.Query("has t inside", 0); len(got) != 1 || got[0].Title != "b" {
		t.Fatalf("unexpected yaml query result %+v", got)
	}

	if _, err := LoadStaticProvider("", 3); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
