package memory

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/llm"
)

// RedisStore 将会话以 JSON 形式保存到 Redis，可设置过期时间。
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore 创建 Redis 存储。ttl <= 0 表示不过期。
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "Redis 客户端未初始化")
	}
	if prefix == "" {
		prefix = "agenthub:conversation:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, now: time.Now}, nil
}

// Save 实现 Store 接口。
func (s *RedisStore) Save(ctx context.Context, conversationID string, messages []llm.Message, metadata map[string]string) error {
	if err := ValidateID(conversationID); err != nil {
		return err
	}
	payload, err := json.Marshal(Conversation{
		ID:        conversationID,
		Messages:  messages,
		Metadata:  metadata,
		UpdatedAt: s.now().Unix(),
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码会话失败")
	}
	if err := s.client.Set(ctx, s.prefix+conversationID, payload, s.ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 Redis 会话失败")
	}
	return nil
}

// Load 实现 Store 接口。
func (s *RedisStore) Load(ctx context.Context, conversationID string) ([]llm.Message, error) {
	raw, err := s.client.Get(ctx, s.prefix+conversationID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 Redis 会话失败")
	}
	var conv Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析 Redis 会话失败")
	}
	return conv.Messages, nil
}

var _ Store = (*RedisStore)(nil)
