package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"AgentHub/pkg/logger"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "AGENTHUB_CONFIG"

// Config 描述了 AgentHub 在启动阶段需要加载的核心配置。
type Config struct {
	Server       ServerConfig       `json:"server" yaml:"server"`
	Logging      logger.Config      `json:"logging" yaml:"logging"`
	LLM          LLMConfig          `json:"llm" yaml:"llm"`
	Agents       []AgentConfig      `json:"agents" yaml:"agents"`
	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator"`
	Planner      PlannerConfig      `json:"planner" yaml:"planner"`
	Memory       MemoryConfig       `json:"memory" yaml:"memory"`
	TaskQueue    TaskQueueConfig    `json:"task_queue" yaml:"task_queue"`
	Storage      StorageConfig      `json:"storage" yaml:"storage"`
	Tools        ToolsConfig        `json:"tools" yaml:"tools"`
	Alerting     AlertingConfig     `json:"alerting" yaml:"alerting"`
	Redis        RedisConfig        `json:"redis" yaml:"redis"`
	MySQL        MySQLConfig        `json:"mysql" yaml:"mysql"`
	Runtime      RuntimeConfig      `json:"runtime" yaml:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address                string `json:"address" yaml:"address"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider       string             `json:"provider" yaml:"provider"`
	Model          string             `json:"model" yaml:"model"`
	BaseURL        string             `json:"base_url" yaml:"base_url"`
	APIKey         string             `json:"api_key" yaml:"api_key"`
	APIKeyEnv      string             `json:"api_key_env" yaml:"api_key_env"`
	Temperature    float64            `json:"temperature" yaml:"temperature"`
	MaxTokens      int64              `json:"max_tokens" yaml:"max_tokens"`
	TimeoutSeconds int                `json:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries     int                `json:"max_retries" yaml:"max_retries"`
	Python         PythonBridgeConfig `json:"python_bridge" yaml:"python_bridge"`
}

// PythonBridgeConfig 描述通过 Python 脚本完成推理时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `json:"python_executable" yaml:"python_executable"`
	ScriptPath       string `json:"script_path" yaml:"script_path"`
	WorkingDir       string `json:"working_dir" yaml:"working_dir"`
}

// AgentConfig 描述代理池中的一个代理。
type AgentConfig struct {
	ID             string `json:"id" yaml:"id"`
	Specialization string `json:"specialization" yaml:"specialization"`
	MaxIterations  int    `json:"max_iterations" yaml:"max_iterations"`
	MaxMessages    int    `json:"max_messages" yaml:"max_messages"`
	Planning       bool   `json:"planning" yaml:"planning"`
	SystemPrompt   string `json:"system_prompt" yaml:"system_prompt"`
}

// OrchestratorConfig 控制调度策略与并行度。
type OrchestratorConfig struct {
	Strategy    string `json:"strategy" yaml:"strategy"`
	Parallelism int    `json:"parallelism" yaml:"parallelism"`
}

// PlannerConfig 控制计划缓存。
type PlannerConfig struct {
	CacheDriver     string `json:"cache_driver" yaml:"cache_driver"`
	CacheSize       int    `json:"cache_size" yaml:"cache_size"`
	CacheTTLSeconds int    `json:"cache_ttl_seconds" yaml:"cache_ttl_seconds"`
}

// MemoryConfig 控制长期会话记忆的存储后端。
type MemoryConfig struct {
	Driver     string `json:"driver" yaml:"driver"`
	Dir        string `json:"dir" yaml:"dir"`
	TTLSeconds int    `json:"ttl_seconds" yaml:"ttl_seconds"`
}

// TaskQueueConfig 控制异步任务队列。
type TaskQueueConfig struct {
	Driver             string         `json:"driver" yaml:"driver"`
	Queue              string         `json:"queue" yaml:"queue"`
	Workers            int            `json:"workers" yaml:"workers"`
	Buffer             int            `json:"buffer" yaml:"buffer"`
	MaxRetries         int            `json:"max_retries" yaml:"max_retries"`
	TaskTimeoutSeconds int            `json:"task_timeout_seconds" yaml:"task_timeout_seconds"`
	RabbitMQ           RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
	Fallback           FallbackConfig `json:"fallback" yaml:"fallback"`
}

// FallbackConfig 描述任务以指定错误码失败时返回的降级答复。Content 为空时不启用。
type FallbackConfig struct {
	Codes   []string `json:"codes" yaml:"codes"`
	Content string   `json:"content" yaml:"content"`
}

// Enabled 报告是否配置了降级答复。
func (c FallbackConfig) Enabled() bool {
	return strings.TrimSpace(c.Content) != ""
}

// RabbitMQConfig 描述 RabbitMQ 连接。
type RabbitMQConfig struct {
	URL      string `json:"url" yaml:"url"`
	Prefetch int    `json:"prefetch" yaml:"prefetch"`
	Durable  bool   `json:"durable" yaml:"durable"`
}

// StorageConfig 描述任务状态等持久化后端。
type StorageConfig struct {
	TaskStore TaskStoreConfig `json:"task_store" yaml:"task_store"`
}

// TaskStoreConfig 选择任务状态存储实现。
type TaskStoreConfig struct {
	Driver string `json:"driver" yaml:"driver"`
}

// ToolsConfig 控制内置工具。
type ToolsConfig struct {
	KnowledgeSource     string `json:"knowledge_source" yaml:"knowledge_source"`
	KnowledgeMaxResults int    `json:"knowledge_max_results" yaml:"knowledge_max_results"`
	ChainRPCURL         string `json:"chain_rpc_url" yaml:"chain_rpc_url"`
	ChainNetwork        string `json:"chain_network" yaml:"chain_network"`
}

// AlertingConfig 控制告警渠道。
type AlertingConfig struct {
	WebhookURL      string `json:"webhook_url" yaml:"webhook_url"`
	MinimumSeverity string `json:"minimum_severity" yaml:"minimum_severity"`
}

// RedisConfig 描述共享的 Redis 连接。
type RedisConfig struct {
	Address  string `json:"address" yaml:"address"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	PoolSize int    `json:"pool_size" yaml:"pool_size"`
}

// MySQLConfig 描述共享的 MySQL 连接。
type MySQLConfig struct {
	DSN          string `json:"dsn" yaml:"dsn"`
	MaxOpenConns int    `json:"max_open_conns" yaml:"max_open_conns"`
	AutoMigrate  bool   `json:"auto_migrate" yaml:"auto_migrate"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir" yaml:"data_dir"`
}

// Load 解析指定路径的 JSON 或 YAML 配置文件，路径为空时读取 AGENTHUB_CONFIG。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, &cfg)
	default:
		err = json.Unmarshal(content, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回以 baseDir 为根目录的默认配置。
func Default(baseDir string) *Config {
	cfg := &Config{}
	cfg.applyDefaults(baseDir)
	return cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 10
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = "echo"
	}
	if c.LLM.APIKeyEnv == "" {
		switch c.LLM.Provider {
		case "openai":
			c.LLM.APIKeyEnv = "OPENAI_API_KEY"
		case "anthropic":
			c.LLM.APIKeyEnv = "ANTHROPIC_API_KEY"
		}
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 60
	}
	if c.LLM.Python.PythonExecutable == "" {
		c.LLM.Python.PythonExecutable = "python3"
	}
	c.LLM.Python.WorkingDir = resolvePath(baseDir, c.LLM.Python.WorkingDir, baseDir)

	if len(c.Agents) == 0 {
		c.Agents = []AgentConfig{{ID: "agent-1"}}
	}
	for i := range c.Agents {
		if c.Agents[i].ID == "" {
			c.Agents[i].ID = fmt.Sprintf("agent-%d", i+1)
		}
		if c.Agents[i].MaxIterations <= 0 {
			c.Agents[i].MaxIterations = 10
		}
		if c.Agents[i].MaxMessages <= 0 {
			c.Agents[i].MaxMessages = 50
		}
	}

	if c.Orchestrator.Strategy == "" {
		c.Orchestrator.Strategy = "round_robin"
	}
	if c.Orchestrator.Parallelism <= 0 {
		c.Orchestrator.Parallelism = len(c.Agents)
	}

	if c.Planner.CacheDriver == "" {
		c.Planner.CacheDriver = "memory"
	}
	if c.Planner.CacheSize <= 0 {
		c.Planner.CacheSize = 128
	}

	if c.Memory.Driver == "" {
		c.Memory.Driver = "memory"
	}

	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Workers <= 0 {
		c.TaskQueue.Workers = 4
	}
	if c.TaskQueue.Buffer <= 0 {
		c.TaskQueue.Buffer = 1024
	}
	if c.TaskQueue.MaxRetries <= 0 {
		c.TaskQueue.MaxRetries = 3
	}
	if c.TaskQueue.TaskTimeoutSeconds <= 0 {
		c.TaskQueue.TaskTimeoutSeconds = 300
	}
	if c.TaskQueue.Fallback.Enabled() && len(c.TaskQueue.Fallback.Codes) == 0 {
		c.TaskQueue.Fallback.Codes = []string{"ITERATION_BUDGET_EXCEEDED"}
	}

	if c.Storage.TaskStore.Driver == "" {
		c.Storage.TaskStore.Driver = "memory"
	}

	if c.Tools.KnowledgeMaxResults <= 0 {
		c.Tools.KnowledgeMaxResults = 3
	}
	if c.Tools.KnowledgeSource != "" {
		c.Tools.KnowledgeSource = resolvePath(baseDir, c.Tools.KnowledgeSource, "")
	}
	if c.Tools.ChainNetwork == "" {
		c.Tools.ChainNetwork = "ethereum"
	}

	c.Runtime.DataDir = resolvePath(baseDir, c.Runtime.DataDir, filepath.Join(baseDir, "data"))
	c.Memory.Dir = resolvePath(baseDir, c.Memory.Dir, filepath.Join(c.Runtime.DataDir, "conversations"))
}

func resolvePath(baseDir, value, fallback string) string {
	if value == "" {
		return fallback
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}

// Validate 检查枚举字段与驱动依赖的连接配置。
func (c *Config) Validate() error {
	var errs []error
	check := func(field, value string, allowed ...string) {
		for _, candidate := range allowed {
			if value == candidate {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s 不支持 %q，可选值: %s", field, value, strings.Join(allowed, ", ")))
	}
	check("llm.provider", c.LLM.Provider, "openai", "anthropic", "python_bridge", "echo")
	check("orchestrator.strategy", c.Orchestrator.Strategy, "round_robin", "load_balancing", "specialization")
	check("planner.cache_driver", c.Planner.CacheDriver, "memory", "redis")
	check("memory.driver", c.Memory.Driver, "none", "memory", "file", "mysql", "redis")
	check("task_queue.driver", c.TaskQueue.Driver, "memory", "redis", "rabbitmq")
	check("storage.task_store.driver", c.Storage.TaskStore.Driver, "memory", "mysql")

	if c.NeedsRedis() && strings.TrimSpace(c.Redis.Address) == "" {
		errs = append(errs, errors.New("redis.address 不能为空"))
	}
	if c.NeedsMySQL() && strings.TrimSpace(c.MySQL.DSN) == "" {
		errs = append(errs, errors.New("mysql.dsn 不能为空"))
	}
	if c.TaskQueue.Driver == "rabbitmq" && strings.TrimSpace(c.TaskQueue.RabbitMQ.URL) == "" {
		errs = append(errs, errors.New("task_queue.rabbitmq.url 不能为空"))
	}
	if c.LLM.Provider == "python_bridge" && strings.TrimSpace(c.LLM.Python.ScriptPath) == "" {
		errs = append(errs, errors.New("llm.python_bridge.script_path 不能为空"))
	}

	seen := make(map[string]struct{}, len(c.Agents))
	for _, agent := range c.Agents {
		if _, ok := seen[agent.ID]; ok {
			errs = append(errs, fmt.Errorf("agents 中存在重复的 id %q", agent.ID))
		}
		seen[agent.ID] = struct{}{}
	}
	return errors.Join(errs...)
}

// NeedsRedis 报告是否有组件依赖 Redis。
func (c *Config) NeedsRedis() bool {
	return c.Planner.CacheDriver == "redis" || c.Memory.Driver == "redis" || c.TaskQueue.Driver == "redis"
}

// NeedsMySQL 报告是否有组件依赖 MySQL。
func (c *Config) NeedsMySQL() bool {
	return c.Memory.Driver == "mysql" || c.Storage.TaskStore.Driver == "mysql"
}

// ResolveAPIKey 优先返回显式配置的密钥，否则读取 api_key_env 指定的环境变量。
func (c LLMConfig) ResolveAPIKey() string {
	if key := strings.TrimSpace(c.APIKey); key != "" {
		return key
	}
	if c.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.APIKeyEnv))
}

// Timeout 返回模型调用超时。
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CacheTTL 返回计划缓存过期时间，0 表示不过期。
func (c PlannerConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// TTL 返回会话记忆过期时间，0 表示不过期。
func (c MemoryConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// TaskTimeout 返回单个任务的执行超时。
func (c TaskQueueConfig) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutSeconds) * time.Second
}

// ShutdownTimeout 返回优雅退出的等待时间。
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}
