package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Config 描述 Redis 连接参数。
type Config struct {
	Address     string
	Password    string
	DB          int
	DialTimeout time.Duration
	PoolSize    int
}

// Options 将配置转换为 go-redis 连接选项。
func (c Config) Options() (*goredis.Options, error) {
	addr := strings.TrimSpace(c.Address)
	if addr == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	opts := &goredis.Options{
		Addr:     addr,
		Password: c.Password,
		DB:       c.DB,
	}
	if c.DialTimeout > 0 {
		opts.DialTimeout = c.DialTimeout
	}
	if c.PoolSize > 0 {
		opts.PoolSize = c.PoolSize
	}
	return opts, nil
}

// Open 创建客户端并通过 PING 检查连通性。
func Open(ctx context.Context, cfg Config) (*goredis.Client, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return client, nil
}
