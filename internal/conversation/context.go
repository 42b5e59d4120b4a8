// Package conversation 维护单个智能体独占的有序消息日志。
package conversation

import (
	"slices"
	"sync"

	"AgentHub/internal/llm"
)

// Context 是按插入顺序保存的消息序列，可选地限制最大条数。
//
// 超出上限时从最旧的消息开始淘汰，其余消息的相对顺序保持不变。带工具调用的
// assistant 消息与其后的工具结果作为一组整体淘汰；固定消息与最新的一组消息
// 总会保留，因此上限可能被短暂突破。没有对应工具调用的工具结果会被丢弃。
type Context struct {
	mu          sync.RWMutex
	entries     []entry
	maxMessages int
}

type entry struct {
	msg    llm.Message
	pinned bool
}

// New 创建上下文。maxMessages <= 0 表示不限制条数。
func New(maxMessages int) *Context {
	if maxMessages < 0 {
		maxMessages = 0
	}
	return &Context{maxMessages: maxMessages}
}

// MaxMessages 返回配置的上限，0 表示不限。
func (c *Context) MaxMessages() int {
	return c.maxMessages
}

// Add 追加一条消息。
func (c *Context) Add(msg llm.Message) {
	c.append(msg, false)
}

// Pin 追加一条不会被淘汰的消息，直到 Clear。
func (c *Context) Pin(msg llm.Message) {
	c.append(msg, true)
}

func (c *Context) append(msg llm.Message, pinned bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry{msg: msg.Clone(), pinned: pinned})
	c.dropOrphansLocked()
	c.evictLocked()
}

// AddMessage 以角色和内容追加一条消息。
func (c *Context) AddMessage(role llm.Role, content string) {
	c.Add(llm.Message{Role: role, Content: content})
}

// AddToolMessage 追加工具结果消息。
func (c *Context) AddToolMessage(toolName, callID, content string) {
	c.Add(llm.Message{Role: llm.RoleTool, Name: toolName, ToolCallID: callID, Content: content})
}

// Messages 返回当前消息的副本。
func (c *Context) Messages() []llm.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]llm.Message, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.msg.Clone()
	}
	return out
}

// Len 返回消息条数。
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear 清空所有消息，包括固定消息。
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
}

// dropOrphansLocked 删除前面没有声明对应调用的工具结果。
func (c *Context) dropOrphansLocked() {
	kept := c.entries[:0]
	var open map[string]struct{}
	for _, e := range c.entries {
		if e.msg.Role != llm.RoleTool {
			open = nil
			if e.msg.Role == llm.RoleAssistant && len(e.msg.ToolCalls) > 0 {
				open = make(map[string]struct{}, len(e.msg.ToolCalls))
				for _, call := range e.msg.ToolCalls {
					open[call.ID] = struct{}{}
				}
			}
			kept = append(kept, e)
			continue
		}
		if open == nil {
			continue
		}
		if _, ok := open[e.msg.ToolCallID]; !ok && e.msg.ToolCallID != "" {
			continue
		}
		kept = append(kept, e)
	}
	clear(c.entries[len(kept):])
	c.entries = kept
}

func (c *Context) evictLocked() {
	if c.maxMessages <= 0 {
		return
	}
	for len(c.entries) > c.maxMessages {
		start, end, ok := c.oldestEvictableLocked()
		if !ok {
			return
		}
		c.entries = slices.Delete(c.entries, start, end)
	}
}

// oldestEvictableLocked 返回最旧的可淘汰消息组 [start, end)。
// 一组是一条非工具消息加上紧随其后的工具结果；固定消息与最后一组不可淘汰。
func (c *Context) oldestEvictableLocked() (start, end int, ok bool) {
	for start < len(c.entries) {
		end = start + 1
		for end < len(c.entries) && c.entries[end].msg.Role == llm.RoleTool {
			end++
		}
		if end == len(c.entries) {
			return 0, 0, false
		}
		if !c.entries[start].pinned {
			return start, end, true
		}
		start = end
	}
	return 0, 0, false
}
