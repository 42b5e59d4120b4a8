package orchestrator

import (
	"fmt"
	"strings"
	"sync"

	xerrors "AgentHub/internal/errors"
)

// 支持的分发策略名称。
const (
	StrategyRoundRobin     = "round_robin"
	StrategyLoadBalancing  = "load_balancing"
	StrategySpecialization = "specialization"
)

// Descriptor 描述池中的一个智能体。
type Descriptor struct {
	ID             string `json:"id"`
	Specialization string `json:"specialization,omitempty"`
	CurrentLoad    int    `json:"current_load"`
}

// Strategy 从智能体池中为任务挑选一个成员，返回其在 pool 中的下标。
type Strategy interface {
	Name() string
	Select(pool []Descriptor, task string) (int, error)
}

// NewStrategy 按名称构造策略，名称为空时使用轮询。
func NewStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", StrategyRoundRobin:
		return &RoundRobin{}, nil
	case StrategyLoadBalancing:
		return LoadBalancing{}, nil
	case StrategySpecialization:
		return Specialization{}, nil
	default:
		return nil, xerrors.New(xerrors.CodeUnknownStrategy, fmt.Sprintf("未知的分发策略 %s", name),
			xerrors.WithMetadata("strategy", name))
	}
}

func emptyPool() error {
	return xerrors.New(xerrors.CodeNoAgents, "智能体池为空")
}

// RoundRobin 按注册顺序轮流选择，游标跨调用保留。
type RoundRobin struct {
	mu     sync.Mutex
	cursor int
}

// Name 实现 Strategy 接口。
func (s *RoundRobin) Name() string { return StrategyRoundRobin }

// Select 实现 Strategy 接口。
func (s *RoundRobin) Select(pool []Descriptor, _ string) (int, error) {
	if len(pool) == 0 {
		return 0, emptyPool()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.cursor % len(pool)
	s.cursor = idx + 1
	return idx, nil
}

// LoadBalancing 选择当前负载最小的智能体，负载相同时取池中靠前者。
type LoadBalancing struct{}

// Name 实现 Strategy 接口。
func (LoadBalancing) Name() string { return StrategyLoadBalancing }

// Select 实现 Strategy 接口。
func (LoadBalancing) Select(pool []Descriptor, _ string) (int, error) {
	if len(pool) == 0 {
		return 0, emptyPool()
	}
	best := 0
	for i := 1; i < len(pool); i++ {
		if pool[i].CurrentLoad < pool[best].CurrentLoad {
			best = i
		}
	}
	return best, nil
}

// Specialization 选择专长标签出现在任务文本中的第一个智能体（不区分大小写），
// 没有匹配时退化为负载均衡。
type Specialization struct{}

// Name 实现 Strategy 接口。
func (Specialization) Name() string { return StrategySpecialization }

// Select 实现 Strategy 接口。
func (Specialization) Select(pool []Descriptor, task string) (int, error) {
	if len(pool) == 0 {
		return 0, emptyPool()
	}
	text := strings.ToLower(task)
	for i, desc := range pool {
		tag := strings.ToLower(strings.TrimSpace(desc.Specialization))
		if tag != "" && strings.Contains(text, tag) {
			return i, nil
		}
	}
	return LoadBalancing{}.Select(pool, task)
}
