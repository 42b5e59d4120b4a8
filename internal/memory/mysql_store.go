package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/llm"
)

// MySQLStore 将会话写入 conversations 与 conversation_messages 表。
// 表结构由 storage/mysql 的迁移创建。
type MySQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewMySQLStore 基于已有连接池创建存储。
func NewMySQLStore(db *sql.DB) (*MySQLStore, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "MySQL 连接未初始化")
	}
	return &MySQLStore{db: db, now: time.Now}, nil
}

// Save 实现 Store 接口。在同一事务中覆盖会话的全部消息。
func (s *MySQLStore) Save(ctx context.Context, conversationID string, messages []llm.Message, metadata map[string]string) error {
	if err := ValidateID(conversationID); err != nil {
		return err
	}
	metaValue, err := encodeNullable(metadata, len(metadata) == 0)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码会话元数据失败")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启会话事务失败")
	}
	defer tx.Rollback()

	now := s.now().Unix()
	const upsert = `INSERT INTO conversations (id, metadata, message_count, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE metadata = VALUES(metadata), message_count = VALUES(message_count), updated_at = VALUES(updated_at)`
	if _, err := tx.ExecContext(ctx, upsert, conversationID, metaValue, len(messages), now, now); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入会话失败")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_messages WHERE conversation_id = ?`, conversationID); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "清理会话消息失败")
	}

	if len(messages) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO conversation_messages
        (conversation_id, seq, role, content, name, tool_call_id, tool_calls) VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "准备会话消息语句失败")
		}
		defer stmt.Close()
		for i, msg := range messages {
			calls, err := encodeNullable(msg.ToolCalls, len(msg.ToolCalls) == 0)
			if err != nil {
				return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码工具调用失败")
			}
			if _, err := stmt.ExecContext(ctx, conversationID, i, string(msg.Role), msg.Content, msg.Name, msg.ToolCallID, calls); err != nil {
				return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入会话消息失败")
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交会话事务失败")
	}
	return nil
}

// Load 实现 Store 接口。
func (s *MySQLStore) Load(ctx context.Context, conversationID string) ([]llm.Message, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT message_count FROM conversations WHERE id = ?`, conversationID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话失败")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT role, content, name, tool_call_id, tool_calls
        FROM conversation_messages WHERE conversation_id = ? ORDER BY seq ASC`, conversationID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话消息失败")
	}
	defer rows.Close()

	messages := make([]llm.Message, 0, count)
	for rows.Next() {
		var (
			msg   llm.Message
			role  string
			calls sql.NullString
		)
		if err := rows.Scan(&role, &msg.Content, &msg.Name, &msg.ToolCallID, &calls); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析会话消息失败")
		}
		msg.Role = llm.Role(role)
		if calls.Valid && strings.TrimSpace(calls.String) != "" {
			if err := json.Unmarshal([]byte(calls.String), &msg.ToolCalls); err != nil {
				return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析工具调用失败")
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历会话消息失败")
	}
	return messages, nil
}

func encodeNullable(value any, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(encoded), Valid: true}, nil
}

var _ Store = (*MySQLStore)(nil)
