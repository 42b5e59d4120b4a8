package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"AgentHub/internal/agent"
	"AgentHub/internal/config"
	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/knowledge"
	"AgentHub/internal/llm"
	"AgentHub/internal/llm/anthropic"
	"AgentHub/internal/llm/openai"
	"AgentHub/internal/llm/pythonbridge"
	"AgentHub/internal/memory"
	"AgentHub/internal/observability/alerting"
	"AgentHub/internal/observability/metrics"
	"AgentHub/internal/orchestrator"
	"AgentHub/internal/planner"
	mysqlstore "AgentHub/internal/storage/mysql"
	redisstore "AgentHub/internal/storage/redis"
	"AgentHub/internal/task"
	"AgentHub/internal/tool"
	"AgentHub/internal/tool/builtin"
	"AgentHub/internal/tool/chain"
	"AgentHub/pkg/logger"
)

// backends 持有各组件共享的外部连接，由进程统一关闭。
type backends struct {
	redis *goredis.Client
	mysql *sql.DB
}

func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{}
	if cfg.NeedsRedis() {
		client, err := redisstore.Open(ctx, redisstore.Config{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return nil, err
		}
		b.redis = client
	}
	if cfg.NeedsMySQL() {
		db, err := mysqlstore.Open(ctx, mysqlstore.Config{
			DSN:          cfg.MySQL.DSN,
			MaxOpenConns: cfg.MySQL.MaxOpenConns,
			AutoMigrate:  cfg.MySQL.AutoMigrate,
		})
		if err != nil {
			b.Close()
			return nil, err
		}
		b.mysql = db
	}
	return b, nil
}

func (b *backends) Close() error {
	var errs []error
	if b.redis != nil {
		errs = append(errs, b.redis.Close())
	}
	if b.mysql != nil {
		errs = append(errs, b.mysql.Close())
	}
	return errors.Join(errs...)
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "echo":
		logger.L().Warn("使用 echo 模型，回答仅回显用户输入")
		return llm.EchoClient{}, nil
	case "python_bridge":
		scriptPath := pythonbridge.ResolveScriptPath(cfg.LLM.Python.WorkingDir, cfg.LLM.Python.ScriptPath)
		return pythonbridge.NewClient(cfg.LLM.Python.PythonExecutable, scriptPath, cfg.LLM.Python.WorkingDir)
	case "openai":
		apiKey := cfg.LLM.ResolveAPIKey()
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或 api_key_env")
		}
		return openai.NewClient(openai.Config{
			APIKey:      apiKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout(),
			MaxRetries:  cfg.LLM.MaxRetries,
		})
	case "anthropic":
		apiKey := cfg.LLM.ResolveAPIKey()
		if apiKey == "" {
			return nil, errors.New("Anthropic provider 需要配置 api_key 或 api_key_env")
		}
		return anthropic.NewClient(anthropic.Config{
			APIKey:      apiKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout(),
			MaxRetries:  cfg.LLM.MaxRetries,
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

// buildToolRegistry 注册内置工具，配置了 RPC 地址时追加链上工具。
func buildToolRegistry(ctx context.Context, cfg *config.Config) (*tool.Registry, func(), error) {
	registry := tool.NewRegistry()
	closer := func() {}

	var provider knowledge.Provider
	if cfg.Tools.KnowledgeSource != "" {
		static, err := knowledge.LoadStaticProvider(cfg.Tools.KnowledgeSource, cfg.Tools.KnowledgeMaxResults)
		if err != nil {
			return nil, closer, err
		}
		provider = static
	}
	if err := builtin.Register(registry, provider); err != nil {
		return nil, closer, err
	}

	if cfg.Tools.ChainRPCURL != "" {
		client, err := chain.Dial(ctx, cfg.Tools.ChainRPCURL)
		if err != nil {
			return nil, closer, err
		}
		closer = client.Close
		if err := chain.Register(registry, client, cfg.Tools.ChainNetwork); err != nil {
			client.Close()
			return nil, func() {}, err
		}
	}
	return registry, closer, nil
}

func buildMemoryStore(cfg *config.Config, b *backends) (memory.Store, error) {
	switch cfg.Memory.Driver {
	case "none":
		return nil, nil
	case "memory":
		return memory.NewMemoryStore(), nil
	case "file":
		return memory.NewFileStore(cfg.Memory.Dir)
	case "mysql":
		return memory.NewMySQLStore(b.mysql)
	case "redis":
		return memory.NewRedisStore(b.redis, "", cfg.Memory.TTL())
	default:
		return nil, fmt.Errorf("未知的记忆驱动: %s", cfg.Memory.Driver)
	}
}

func buildPlanner(cfg *config.Config, client llm.Client, b *backends, m *metrics.Metrics) (*planner.Planner, error) {
	planning := false
	for _, a := range cfg.Agents {
		planning = planning || a.Planning
	}
	if !planning {
		return nil, nil
	}

	var cache planner.Cache
	switch cfg.Planner.CacheDriver {
	case "redis":
		redisCache, err := planner.NewRedisCache(b.redis, "", cfg.Planner.CacheTTL())
		if err != nil {
			return nil, err
		}
		cache = redisCache
	default:
		cache = planner.NewMemoryCache(cfg.Planner.CacheSize)
	}
	return planner.New(client, planner.WithCache(cache), planner.WithMetrics(m))
}

func registerAgents(cfg *config.Config, orch *orchestrator.Orchestrator, client llm.Client, tools tool.Toolbox,
	store memory.Store, p *planner.Planner, m *metrics.Metrics) error {
	for _, ac := range cfg.Agents {
		opts := []agent.Option{
			agent.WithName(ac.ID),
			agent.WithMaxIterations(ac.MaxIterations),
			agent.WithMaxMessages(ac.MaxMessages),
			agent.WithLLMTimeout(cfg.LLM.Timeout()),
			agent.WithMetrics(m),
		}
		if ac.SystemPrompt != "" {
			opts = append(opts, agent.WithSystemPrompt(ac.SystemPrompt))
		}
		if store != nil {
			opts = append(opts, agent.WithMemory(store))
		}
		if ac.Planning && p != nil {
			opts = append(opts, agent.WithPlanner(p), agent.WithPlanning(true))
		}
		ag, err := agent.New(client, tools, opts...)
		if err != nil {
			return fmt.Errorf("创建代理 %s 失败: %w", ac.ID, err)
		}
		if err := orch.Register(ac.ID, ag, ac.Specialization); err != nil {
			return err
		}
	}
	return nil
}

func buildTaskStore(cfg *config.Config, b *backends) (task.Store, error) {
	switch cfg.Storage.TaskStore.Driver {
	case "mysql":
		return task.NewMySQLStore(b.mysql)
	default:
		return task.NewMemoryStore(), nil
	}
}

func buildTaskQueue(cfg *config.Config, b *backends) (task.Queue, error) {
	switch cfg.TaskQueue.Driver {
	case "redis":
		return task.NewRedisQueue(b.redis, task.RedisQueueConfig{Queue: cfg.TaskQueue.Queue})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:      cfg.TaskQueue.RabbitMQ.URL,
			Queue:    cfg.TaskQueue.Queue,
			Prefetch: cfg.TaskQueue.RabbitMQ.Prefetch,
			Durable:  cfg.TaskQueue.RabbitMQ.Durable,
		})
	default:
		return task.NewMemoryQueue(cfg.TaskQueue.Buffer), nil
	}
}

func buildAlerting(cfg *config.Config) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.Alerting.WebhookURL})
	}
	dispatcher := alerting.NewFanout(notifiers...)
	if cfg.Alerting.MinimumSeverity != "" {
		dispatcher.WithMinimumSeverity(xerrors.Severity(cfg.Alerting.MinimumSeverity))
	}
	logger.L().Debug("告警渠道已配置", slog.Int("notifiers", len(notifiers)))
	return dispatcher
}

// buildRecovery 根据 task_queue.fallback 构造降级处理器，未配置时返回 nil。
func buildRecovery(cfg *config.Config) task.RecoveryHandler {
	fallback := cfg.TaskQueue.Fallback
	if !fallback.Enabled() {
		return nil
	}
	codes := make([]xerrors.Code, 0, len(fallback.Codes))
	for _, code := range fallback.Codes {
		if code = strings.TrimSpace(code); code != "" {
			codes = append(codes, xerrors.Code(strings.ToUpper(code)))
		}
	}
	logger.L().Info("已启用任务降级答复", slog.Any("codes", codes))
	return task.FallbackReply{Codes: codes, Content: fallback.Content}
}
