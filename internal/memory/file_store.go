package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/llm"
)

// FileStore 将每个会话写入 <dir>/<id>.jsonl，每行一条消息。
// 元数据写入同名的 .meta.json 文件。
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore 创建文件存储并确保目录存在。
func NewFileStore(dir string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "会话存储目录不能为空")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建会话存储目录失败")
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(conversationID, ext string) string {
	return filepath.Join(s.dir, conversationID+ext)
}

// Save 实现 Store 接口。先写临时文件再原子替换。
func (s *FileStore) Save(_ context.Context, conversationID string, messages []llm.Message, metadata map[string]string) error {
	if err := ValidateID(conversationID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.path(conversationID, ".jsonl")
	tmp, err := os.CreateTemp(s.dir, conversationID+".*.tmp")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建临时会话文件失败")
	}
	defer os.Remove(tmp.Name())

	writer := bufio.NewWriter(tmp)
	encoder := json.NewEncoder(writer)
	for _, msg := range messages {
		if err := encoder.Encode(msg); err != nil {
			tmp.Close()
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入会话消息失败")
		}
	}
	if err := writer.Flush(); err != nil {
		tmp.Close()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入会话文件失败")
	}
	if err := tmp.Close(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "关闭会话文件失败")
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "替换会话文件失败")
	}

	metaPath := s.path(conversationID, ".meta.json")
	if len(metadata) == 0 {
		if err := os.Remove(metaPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "清理会话元数据失败")
		}
		return nil
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码会话元数据失败")
	}
	if err := os.WriteFile(metaPath, encoded, 0o644); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入会话元数据失败")
	}
	return nil
}

// Load 实现 Store 接口。
func (s *FileStore) Load(_ context.Context, conversationID string) ([]llm.Message, error) {
	if err := ValidateID(conversationID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path(conversationID, ".jsonl"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取会话文件失败")
	}
	defer file.Close()

	var messages []llm.Message
	decoder := json.NewDecoder(bufio.NewReader(file))
	for {
		var msg llm.Message
		err := decoder.Decode(&msg)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("解析会话文件第 %d 条消息失败", len(messages)+1))
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

var _ Store = (*FileStore)(nil)
