package planner

import (
	"fmt"
	"strings"
	"time"
)

// Step 是计划中的一个子任务。步骤之间只通过 ID 引用。
type Step struct {
	ID             string   `json:"id"`
	Description    string   `json:"description"`
	Dependencies   []string `json:"dependencies,omitempty"`
	RequiredTools  []string `json:"required_tools,omitempty"`
	ExpectedOutput string   `json:"expected_output,omitempty"`
}

// Plan 是任务分解的结果。Cyclic 为 true 时依赖图存在环，
// ExecutionOrder 不保证满足全部依赖。
type Plan struct {
	Task           string    `json:"task"`
	Steps          []Step    `json:"steps"`
	ExecutionOrder []string  `json:"execution_order"`
	Cyclic         bool      `json:"cyclic,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Step 根据 ID 查找步骤。
func (p *Plan) Step(id string) (Step, bool) {
	if p == nil {
		return Step{}, false
	}
	for _, step := range p.Steps {
		if step.ID == id {
			return step, true
		}
	}
	return Step{}, false
}

// Remaining 按执行顺序返回尚未完成的步骤。
func (p *Plan) Remaining(completed []string) []Step {
	if p == nil {
		return nil
	}
	done := make(map[string]struct{}, len(completed))
	for _, id := range completed {
		done[id] = struct{}{}
	}
	out := make([]Step, 0, len(p.Steps))
	for _, id := range p.ExecutionOrder {
		if _, ok := done[id]; ok {
			continue
		}
		if step, ok := p.Step(id); ok {
			out = append(out, step)
		}
	}
	return out
}

// Summary 生成注入到对话中的简短计划描述。
func (p *Plan) Summary() string {
	if p == nil || len(p.Steps) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Execution plan for the current task:\n")
	for i, id := range p.ExecutionOrder {
		step, ok := p.Step(id)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%d. [%s] %s", i+1, step.ID, step.Description)
		if len(step.Dependencies) > 0 {
			fmt.Fprintf(&b, " (after %s)", strings.Join(step.Dependencies, ", "))
		}
		if len(step.RequiredTools) > 0 {
			fmt.Fprintf(&b, " tools: %s", strings.Join(step.RequiredTools, ", "))
		}
		b.WriteString("\n")
	}
	if p.Cyclic {
		b.WriteString("Note: some dependencies are circular; the order above does not satisfy all of them.\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// clone 返回计划的深拷贝，避免缓存中的计划被调用方修改。
func (p *Plan) clone() *Plan {
	if p == nil {
		return nil
	}
	out := *p
	out.Steps = make([]Step, len(p.Steps))
	for i, step := range p.Steps {
		step.Dependencies = append([]string(nil), step.Dependencies...)
		step.RequiredTools = append([]string(nil), step.RequiredTools...)
		out.Steps[i] = step
	}
	out.ExecutionOrder = append([]string(nil), p.ExecutionOrder...)
	return &out
}

// Order 使用 Kahn 算法计算执行顺序。
//
// 每次从所有就绪步骤中选出声明下标最小的一个，因此刚解除依赖的步骤可以排在
// 更早就绪但声明更靠后的步骤之前。存在环时，剩余步骤按声明顺序追加到末尾，
// 并返回 cyclic=true。未知的依赖 ID 会被忽略。
func Order(steps []Step) (order []string, cyclic bool) {
	index := make(map[string]int, len(steps))
	for i, step := range steps {
		index[step.ID] = i
	}

	indegree := make([]int, len(steps))
	dependents := make([][]int, len(steps))
	for i, step := range steps {
		seen := make(map[string]struct{}, len(step.Dependencies))
		for _, dep := range step.Dependencies {
			j, ok := index[dep]
			if !ok {
				continue
			}
			if _, dup := seen[dep]; dup {
				continue
			}
			seen[dep] = struct{}{}
			indegree[i]++
			if j != i {
				dependents[j] = append(dependents[j], i)
			}
		}
	}

	placed := make([]bool, len(steps))
	order = make([]string, 0, len(steps))
	for {
		next := -1
		for i := range steps {
			if !placed[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			break
		}
		placed[next] = true
		order = append(order, steps[next].ID)
		for _, dependent := range dependents[next] {
			indegree[dependent]--
		}
	}

	for i, step := range steps {
		if !placed[i] {
			cyclic = true
			order = append(order, step.ID)
		}
	}
	return order, cyclic
}
