package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider 定义知识库检索的通用接口。
type Provider interface {
	Query(query string, limit int) []Snippet
}

// Snippet 描述可供大模型引用的一段知识。
type Snippet struct {
	Title    string   `json:"title" yaml:"title"`
	Content  string   `json:"content" yaml:"content"`
	Keywords []string `json:"keywords" yaml:"keywords"`
	Tags     []string `json:"tags" yaml:"tags"`
}

// StaticProvider 提供基于关键字打分的静态知识检索能力。
type StaticProvider struct {
	items      []Snippet
	maxResults int
}

// NewStaticProvider 创建静态知识库实例。
func NewStaticProvider(items []Snippet, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &StaticProvider{
		items:      items,
		maxResults: maxResults,
	}
}

// LoadStaticProvider 从 JSON 或 YAML 文件加载知识条目，格式由扩展名决定。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("知识库文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析知识库路径失败: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}

	var entries []Snippet
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &entries)
	default:
		err = json.Unmarshal(data, &entries)
	}
	if err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}

	return NewStaticProvider(entries, maxResults), nil
}

// Len 返回条目数量。
func (p *StaticProvider) Len() int {
	if p == nil {
		return 0
	}
	return len(p.items)
}

// Query 按命中的关键字、标签和标题打分，返回得分最高的条目。
// limit <= 0 时使用默认上限；得分相同按声明顺序。
func (p *StaticProvider) Query(query string, limit int) []Snippet {
	if p == nil {
		return nil
	}
	if limit <= 0 || limit > p.maxResults {
		limit = p.maxResults
	}

	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	type scored struct {
		index int
		score int
	}
	hits := make([]scored, 0, len(p.items))
	for i, item := range p.items {
		if score := score(item, query); score > 0 {
			hits = append(hits, scored{index: i, score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	if len(hits) > limit {
		hits = hits[:limit]
	}
	results := make([]Snippet, 0, len(hits))
	for _, hit := range hits {
		results = append(results, p.items[hit.index])
	}
	return results
}

func score(snippet Snippet, query string) int {
	total := 0
	for _, keyword := range snippet.Keywords {
		if contains(query, keyword) {
			total += 3
		}
	}
	for _, tag := range snippet.Tags {
		if contains(query, tag) {
			total += 2
		}
	}
	if title := strings.ToLower(strings.TrimSpace(snippet.Title)); title != "" && strings.Contains(query, title) {
		total++
	}
	return total
}

func contains(query, term string) bool {
	normalized := strings.ToLower(strings.TrimSpace(term))
	return normalized != "" && strings.Contains(query, normalized)
}

// Ensure StaticProvider 实现 Provider 接口。
var _ Provider = (*StaticProvider)(nil)
