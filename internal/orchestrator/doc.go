// Package orchestrator 管理多个智能体组成的池，按可替换的策略分发任务，
// 支持并行执行和结果聚合。
package orchestrator
