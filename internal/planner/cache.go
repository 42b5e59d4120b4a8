package planner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache 以原始任务文本为键缓存计划。
type Cache interface {
	Get(ctx context.Context, task string) (*Plan, bool, error)
	Set(ctx context.Context, task string, plan *Plan) error
}

// MemoryCache 是进程内缓存，超过容量时按写入顺序淘汰。
type MemoryCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*Plan
	order    []string
}

// NewMemoryCache 创建内存缓存，capacity <= 0 时默认 128。
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = 128
	}
	return &MemoryCache{capacity: capacity, items: make(map[string]*Plan)}
}

// Get 实现 Cache 接口。
func (c *MemoryCache) Get(_ context.Context, task string) (*Plan, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	plan, ok := c.items[task]
	if !ok {
		return nil, false, nil
	}
	return plan.clone(), true, nil
}

// Set 实现 Cache 接口。
func (c *MemoryCache) Set(_ context.Context, task string, plan *Plan) error {
	if plan == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[task]; !exists {
		c.order = append(c.order, task)
	}
	c.items[task] = plan.clone()
	for len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.items, oldest)
	}
	return nil
}

// Len 返回缓存条目数。
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// RedisCache 将计划以 JSON 形式写入 Redis，供多个实例共享。
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache 创建 Redis 缓存。ttl <= 0 表示不过期。
func NewRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration) (*RedisCache, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		prefix = "agenthub:plan:"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}, nil
}

func (c *RedisCache) key(task string) string {
	sum := sha256.Sum256([]byte(task))
	return c.prefix + hex.EncodeToString(sum[:])
}

// Get 实现 Cache 接口。
func (c *RedisCache) Get(ctx context.Context, task string) (*Plan, bool, error) {
	raw, err := c.client.Get(ctx, c.key(task)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read plan cache: %w", err)
	}
	var plan Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, false, fmt.Errorf("decode cached plan: %w", err)
	}
	return &plan, true, nil
}

// Set 实现 Cache 接口。
func (c *RedisCache) Set(ctx context.Context, task string, plan *Plan) error {
	if plan == nil {
		return nil
	}
	raw, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	if err := c.client.Set(ctx, c.key(task), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("write plan cache: %w", err)
	}
	return nil
}

var (
	_ Cache = (*MemoryCache)(nil)
	_ Cache = (*RedisCache)(nil)
)
