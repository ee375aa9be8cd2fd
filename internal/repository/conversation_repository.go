// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"llm-amnesia-go/internal/model"
)

// ConversationRepository 定义了对话历史记录的操作接口。
type ConversationRepository interface {
	// GetCurrentConversationID 返回会话当前的对话ID，不存在时返回空字符串。
	GetCurrentConversationID(ctx context.Context, sessionID string) (string, error)
	GetOrCreateConversationID(ctx context.Context, sessionID string) (string, error)
	// GetConversation 返回对话的原始视图，不存在时返回 nil, nil。
	GetConversation(ctx context.Context, sessionID, conversationID string) (*model.Conversation, error)
	UpdateConversation(ctx context.Context, sessionID, conversationID string, messages []model.ChatMessage) error
}

type redisConversationRepository struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(redisClient *redis.Client, ttl time.Duration) ConversationRepository {
	return &redisConversationRepository{redisClient: redisClient, ttl: ttl}
}

func currentConversationKey(sessionID string) string {
	return fmt.Sprintf("session:%s:current_conversation", sessionID)
}

func conversationKey(sessionID, conversationID string) string {
	return fmt.Sprintf("conversation:%s:%s", sessionID, conversationID)
}

func (r *redisConversationRepository) GetCurrentConversationID(ctx context.Context, sessionID string) (string, error) {
	convID, err := r.redisClient.Get(ctx, currentConversationKey(sessionID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get conversation id: %w", err)
	}
	return convID, nil
}

// GetOrCreateConversationID 获取或创建一个新的对话ID。
func (r *redisConversationRepository) GetOrCreateConversationID(ctx context.Context, sessionID string) (string, error) {
	convID, err := r.GetCurrentConversationID(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if convID != "" {
		return convID, nil
	}

	convID = fmt.Sprintf("%d", time.Now().UnixNano())
	// SetNX 保证并发创建时只有一个ID胜出
	ok, err := r.redisClient.SetNX(ctx, currentConversationKey(sessionID), convID, r.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("failed to set conversation id: %w", err)
	}
	if !ok {
		return r.GetCurrentConversationID(ctx, sessionID)
	}
	return convID, nil
}

// GetConversation 从 Redis 获取对话。历史不做解析，交由调用方判断格式是否损坏。
func (r *redisConversationRepository) GetConversation(ctx context.Context, sessionID, conversationID string) (*model.Conversation, error) {
	key := conversationKey(sessionID, conversationID)
	jsonData, err := r.redisClient.Get(ctx, key).Result()
	if err == redis.Nil {
		// 对话ID存在但尚无历史：视作空对话
		current, curErr := r.GetCurrentConversationID(ctx, sessionID)
		if curErr != nil {
			return nil, curErr
		}
		if current != conversationID {
			return nil, nil
		}
		return &model.Conversation{ID: conversationID, SessionID: sessionID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation history: %w", err)
	}
	return &model.Conversation{ID: conversationID, SessionID: sessionID, History: jsonData}, nil
}

// UpdateConversation 在 Redis 中覆盖对话历史记录。
func (r *redisConversationRepository) UpdateConversation(ctx context.Context, sessionID, conversationID string, messages []model.ChatMessage) error {
	jsonData, err := model.EncodeHistory(messages)
	if err != nil {
		return err
	}
	err = r.redisClient.Set(ctx, conversationKey(sessionID, conversationID), jsonData, r.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set conversation history: %w", err)
	}
	return nil
}
