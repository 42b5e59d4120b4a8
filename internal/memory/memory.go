// Package memory 提供会话的长期记忆存储。
//
// 执行循环在任务开始前加载历史消息，在得到最终答案后保存完整上下文。
// 加载失败视为空历史，保存失败只记录日志。
package memory

import (
	"context"
	stdErrors "errors"
	"regexp"
	"strings"
	"sync"
	"time"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/llm"
)

// ErrNotFound 表示会话不存在。
var ErrNotFound = stdErrors.New("conversation not found")

// Store 定义长期记忆的读写接口。
type Store interface {
	Save(ctx context.Context, conversationID string, messages []llm.Message, metadata map[string]string) error
	Load(ctx context.Context, conversationID string) ([]llm.Message, error)
}

// Conversation 是一次保存的会话快照。
type Conversation struct {
	ID        string            `json:"id"`
	Messages  []llm.Message     `json:"messages"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	UpdatedAt int64             `json:"updated_at"`
}

var conversationIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.:\-]{1,128}$`)

// ValidateID 检查会话 ID 是否可以安全地用作键或文件名。
func ValidateID(id string) error {
	if !conversationIDPattern.MatchString(id) || strings.Contains(id, "..") {
		return xerrors.New(xerrors.CodeInvalidArgument, "非法的会话 ID",
			xerrors.WithMetadata("conversation_id", id))
	}
	return nil
}

func cloneMessages(messages []llm.Message) []llm.Message {
	out := make([]llm.Message, len(messages))
	for i, msg := range messages {
		out[i] = msg.Clone()
	}
	return out
}

func cloneMetadata(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}

// MemoryStore 在进程内保存会话，适合单实例部署与测试。
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Conversation
	now   func() time.Time
}

// NewMemoryStore 创建内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Conversation), now: time.Now}
}

// Save 实现 Store 接口，整体覆盖已有会话。
func (s *MemoryStore) Save(_ context.Context, conversationID string, messages []llm.Message, metadata map[string]string) error {
	if err := ValidateID(conversationID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[conversationID] = Conversation{
		ID:        conversationID,
		Messages:  cloneMessages(messages),
		Metadata:  cloneMetadata(metadata),
		UpdatedAt: s.now().Unix(),
	}
	return nil
}

// Load 实现 Store 接口。
func (s *MemoryStore) Load(_ context.Context, conversationID string) ([]llm.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.items[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMessages(conv.Messages), nil
}

// Metadata 返回会话的附加信息。
func (s *MemoryStore) Metadata(conversationID string) (map[string]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.items[conversationID]
	if !ok {
		return nil, false
	}
	return cloneMetadata(conv.Metadata), true
}

var _ Store = (*MemoryStore)(nil)
