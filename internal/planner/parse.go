package planner

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	xerrors "AgentHub/internal/errors"
)

// ParseSteps 从模型输出中提取步骤列表。
//
// 支持 Markdown 代码块、JSON 前后夹杂的说明文字、顶层数组或 {"steps": [...]} 对象，
// 以及 id/step_id、dependencies/depends_on 等字段别名。缺少 ID 的步骤按位置命名为
// step_<n>；重复 ID 只保留第一个；指向不存在步骤的依赖会被丢弃。
func ParseSteps(raw string) ([]Step, error) {
	doc, ok := extractJSON(raw)
	if !ok {
		return nil, xerrors.New(xerrors.CodePlanning, "模型输出中没有可解析的步骤列表")
	}

	result := gjson.Parse(doc)
	list := result
	if result.IsObject() {
		list = firstOf(result, "steps", "plan", "tasks")
	}
	if !list.IsArray() {
		return nil, xerrors.New(xerrors.CodePlanning, "步骤列表必须是数组")
	}

	steps := make([]Step, 0)
	seen := make(map[string]struct{})
	list.ForEach(func(_, item gjson.Result) bool {
		step, valid := parseStep(item, len(steps)+1)
		if !valid {
			return true
		}
		if _, dup := seen[step.ID]; dup {
			return true
		}
		seen[step.ID] = struct{}{}
		steps = append(steps, step)
		return true
	})
	if len(steps) == 0 {
		return nil, xerrors.New(xerrors.CodePlanning, "步骤列表为空")
	}

	for i := range steps {
		steps[i].Dependencies = filterKnown(steps[i].Dependencies, seen)
	}
	return steps, nil
}

func parseStep(item gjson.Result, position int) (Step, bool) {
	if item.Type == gjson.String {
		description := strings.TrimSpace(item.String())
		if description == "" {
			return Step{}, false
		}
		return Step{ID: fmt.Sprintf("step_%d", position), Description: description}, true
	}
	if !item.IsObject() {
		return Step{}, false
	}

	step := Step{
		ID:             strings.TrimSpace(firstOf(item, "id", "step_id", "name").String()),
		Description:    strings.TrimSpace(firstOf(item, "description", "task", "title", "action").String()),
		Dependencies:   stringList(firstOf(item, "dependencies", "depends_on", "deps")),
		RequiredTools:  stringList(firstOf(item, "required_tools", "tools")),
		ExpectedOutput: strings.TrimSpace(firstOf(item, "expected_output", "output").String()),
	}
	if step.Description == "" {
		return Step{}, false
	}
	if step.ID == "" {
		step.ID = fmt.Sprintf("step_%d", position)
	}
	return step, true
}

func firstOf(item gjson.Result, keys ...string) gjson.Result {
	for _, key := range keys {
		if value := item.Get(key); value.Exists() {
			return value
		}
	}
	return gjson.Result{}
}

func stringList(value gjson.Result) []string {
	if !value.Exists() {
		return nil
	}
	if !value.IsArray() {
		if s := strings.TrimSpace(value.String()); s != "" {
			return []string{s}
		}
		return nil
	}
	var out []string
	value.ForEach(func(_, item gjson.Result) bool {
		if s := strings.TrimSpace(item.String()); s != "" {
			out = append(out, s)
		}
		return true
	})
	return out
}

func filterKnown(ids []string, known map[string]struct{}) []string {
	if len(ids) == 0 {
		return nil
	}
	out := ids[:0]
	for _, id := range ids {
		if _, ok := known[id]; ok {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// extractJSON 去掉代码块标记，并截取第一个完整的 JSON 数组或对象。
func extractJSON(raw string) (string, bool) {
	text := strings.TrimSpace(raw)
	if fenced, ok := fencedBlock(text); ok {
		text = fenced
	}
	if gjson.Valid(text) {
		parsed := gjson.Parse(text)
		if parsed.IsArray() || parsed.IsObject() {
			return text, true
		}
	}

	for start := 0; start < len(text); start++ {
		if text[start] != '[' && text[start] != '{' {
			continue
		}
		if end, ok := matchClosing(text, start); ok {
			candidate := text[start : end+1]
			if gjson.Valid(candidate) {
				return candidate, true
			}
		}
	}
	return "", false
}

func fencedBlock(text string) (string, bool) {
	open := strings.Index(text, "```")
	if open < 0 {
		return "", false
	}
	rest := text[open+3:]
	if newline := strings.IndexByte(rest, '\n'); newline >= 0 {
		rest = rest[newline+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// matchClosing 返回与 start 处括号配对的位置，会跳过字符串中的括号。
func matchClosing(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
