package tool

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DecodeArguments 解析模型给出的原始 JSON 参数，空串视为空对象。
func DecodeArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("参数不是合法的 JSON 对象: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// StringArg 读取字符串参数。
func StringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", false
	}
	switch typed := v.(type) {
	case string:
		return strings.TrimSpace(typed), true
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", typed)), true
	}
}

// IntArg 读取整数参数，兼容 JSON 数字和数字字符串。
func IntArg(args map[string]any, key string, fallback int) int {
	switch typed := args[key].(type) {
	case float64:
		return int(typed)
	case int:
		return typed
	case int64:
		return int(typed)
	case json.Number:
		if n, err := typed.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(typed)); err == nil {
			return n
		}
	}
	return fallback
}
