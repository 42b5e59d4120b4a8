package orchestrator

import (
	"strings"

	"AgentHub/internal/agent"
	"AgentHub/internal/tool"
)

// 支持的聚合方式。
const (
	MethodMerge = "merge"
	MethodVote  = "vote"
)

// Aggregate 合并多个执行结果。
//
// merge 以空行拼接内容、串联工具调用并累加轮数；vote 取去除首尾空白后出现次数
// 最多的内容，票数相同取最早出现者；其他方式返回第一个结果。输入为空时返回 nil。
func Aggregate(results []*agent.Result, method string) *agent.Result {
	valid := make([]*agent.Result, 0, len(results))
	for _, r := range results {
		if r != nil {
			valid = append(valid, r)
		}
	}
	if len(valid) == 0 {
		return nil
	}

	switch strings.ToLower(strings.TrimSpace(method)) {
	case MethodMerge:
		return merge(valid)
	case MethodVote:
		return vote(valid)
	default:
		return valid[0]
	}
}

func merge(results []*agent.Result) *agent.Result {
	contents := make([]string, len(results))
	calls := make([]tool.Record, 0)
	sources := make([]any, 0, len(results))
	iterations := 0
	for i, r := range results {
		contents[i] = r.Content
		calls = append(calls, r.ToolCalls...)
		iterations += r.Iterations
		if id, ok := r.Metadata["agent_id"]; ok {
			sources = append(sources, id)
		}
	}
	return &agent.Result{
		Content:    strings.Join(contents, "\n\n"),
		ToolCalls:  calls,
		Iterations: iterations,
		Metadata: map[string]any{
			"method":     MethodMerge,
			"iterations": iterations,
			"results":    len(results),
			"sources":    sources,
		},
	}
}

func vote(results []*agent.Result) *agent.Result {
	counts := make(map[string]int, len(results))
	first := make(map[string]int, len(results))
	for i, r := range results {
		key := strings.TrimSpace(r.Content)
		if _, seen := first[key]; !seen {
			first[key] = i
		}
		counts[key]++
	}

	winner := 0
	for key, idx := range first {
		best := strings.TrimSpace(results[winner].Content)
		if counts[key] > counts[best] || (counts[key] == counts[best] && idx < first[best]) {
			winner = idx
		}
	}

	chosen := *results[winner]
	metadata := make(map[string]any, len(chosen.Metadata)+3)
	for k, v := range chosen.Metadata {
		metadata[k] = v
	}
	metadata["method"] = MethodVote
	metadata["votes"] = counts[strings.TrimSpace(chosen.Content)]
	metadata["results"] = len(results)
	chosen.Metadata = metadata
	return &chosen
}
