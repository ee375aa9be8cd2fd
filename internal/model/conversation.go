// Package model 包含了应用的数据模型定义。
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// 消息角色。除 user/assistant 之外的角色（例如 system）不参与轮次划分。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ErrCorruptHistory 表示对话历史无法被解析为消息序列。
var ErrCorruptHistory = errors.New("corrupt conversation history")

// ChatMessage 代表存储在 Redis 中的单条对话消息。
type ChatMessage struct {
	Role      string    `json:"role"` // "user" 或 "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation 是对话存储返回的原始视图，History 为序列化后的 JSON 数组（可能为空）。
type Conversation struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	History   string `json:"history"`
}

// Messages 解析 History。空字符串视为空历史，解析失败时返回包裹了 ErrCorruptHistory 的错误。
func (c *Conversation) Messages() ([]ChatMessage, error) {
	return DecodeHistory(c.History)
}

// DecodeHistory 将 JSON 数组解析为消息序列。
func DecodeHistory(raw string) ([]ChatMessage, error) {
	if raw == "" {
		return []ChatMessage{}, nil
	}
	var messages []ChatMessage
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptHistory, err)
	}
	if messages == nil {
		messages = []ChatMessage{}
	}
	return messages, nil
}

// EncodeHistory 将消息序列序列化为 JSON 数组。
func EncodeHistory(messages []ChatMessage) (string, error) {
	if messages == nil {
		messages = []ChatMessage{}
	}
	b, err := json.Marshal(messages)
	if err != nil {
		return "", fmt.Errorf("failed to marshal conversation history: %w", err)
	}
	return string(b), nil
}
