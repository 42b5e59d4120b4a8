package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"AgentHub/internal/api"
	"AgentHub/internal/config"
	"AgentHub/internal/observability/metrics"
	"AgentHub/internal/orchestrator"
	"AgentHub/internal/task"
	"AgentHub/pkg/logger"
)

// main 是 AgentHub 守护进程的入口。
func main() {
	configPath := flag.String("config", "", "配置文件路径，默认读取 "+config.EnvConfigPath)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "agenthubd 运行失败: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" && os.Getenv(config.EnvConfigPath) == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		return config.Default(wd), nil
	}
	return config.Load(path)
}

func run(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()
	log := logger.Named("agenthubd")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	m := metrics.New()
	backends, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer backends.Close()

	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}

	registry, closeTools, err := buildToolRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeTools()

	memoryStore, err := buildMemoryStore(cfg, backends)
	if err != nil {
		return err
	}
	plannerSvc, err := buildPlanner(cfg, llmClient, backends, m)
	if err != nil {
		return err
	}

	strategy, err := orchestrator.NewStrategy(cfg.Orchestrator.Strategy)
	if err != nil {
		return err
	}
	orch := orchestrator.New(
		orchestrator.WithStrategy(strategy),
		orchestrator.WithConcurrency(cfg.Orchestrator.Parallelism),
		orchestrator.WithMetrics(m),
	)
	if err := registerAgents(cfg, orch, llmClient, registry, memoryStore, plannerSvc, m); err != nil {
		return err
	}

	taskStore, err := buildTaskStore(cfg, backends)
	if err != nil {
		return err
	}
	taskQueue, err := buildTaskQueue(cfg, backends)
	if err != nil {
		return err
	}

	taskService := task.NewService(taskStore, taskQueue, cfg.TaskQueue.MaxRetries)
	defer func() {
		if err := taskService.Close(); err != nil {
			log.Warn("关闭任务服务失败", slog.Any("error", err))
		}
	}()

	processorOpts := []task.ProcessorOption{
		task.WithWorkerCount(cfg.TaskQueue.Workers),
		task.WithTaskTimeout(cfg.TaskQueue.TaskTimeout()),
		task.WithAlertDispatcher(buildAlerting(cfg)),
		task.WithProcessorMetrics(m),
	}
	if recovery := buildRecovery(cfg); recovery != nil {
		processorOpts = append(processorOpts, task.WithRecoveryHandler(recovery))
	}
	processor := task.NewProcessor(orch, taskStore, taskQueue, taskQueue, processorOpts...)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("任务处理器异常退出", slog.Any("error", err))
		}
	}()

	log.Info("AgentHub 已就绪",
		slog.String("llm", cfg.LLM.Provider),
		slog.Int("agents", len(cfg.Agents)),
		slog.String("strategy", orch.Strategy()),
		slog.Int("tools", registry.Len()),
		slog.String("task_queue", cfg.TaskQueue.Driver),
	)

	server := api.NewServer(cfg.Server.Address, api.Dependencies{
		Tasks:        taskService,
		Orchestrator: orch,
		Tools:        registry,
		Metrics:      m,
	}).WithShutdownTimeout(cfg.Server.ShutdownTimeout())

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
