package service

import (
	"context"
	"fmt"

	"llm-amnesia-go/internal/model"
	"llm-amnesia-go/internal/repository"
)

// ConversationService 定义了对话历史的读写接口。
type ConversationService interface {
	GetConversationHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error)
	AppendMessages(ctx context.Context, sessionID string, messages ...model.ChatMessage) error
}

type conversationService struct {
	repo repository.ConversationRepository
}

// NewConversationService 创建一个新的 ConversationService。
func NewConversationService(repo repository.ConversationRepository) ConversationService {
	return &conversationService{repo: repo}
}

// GetConversationHistory 获取会话当前对话的完整消息历史，必要时创建新对话。
func (s *conversationService) GetConversationHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	conversationID, err := s.repo.GetOrCreateConversationID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	conv, err := s.repo.GetConversation(ctx, sessionID, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return []model.ChatMessage{}, nil
	}
	return conv.Messages()
}

// AppendMessages 将消息追加到会话当前对话的末尾。
func (s *conversationService) AppendMessages(ctx context.Context, sessionID string, messages ...model.ChatMessage) error {
	conversationID, err := s.repo.GetOrCreateConversationID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to get or create conversation ID: %w", err)
	}
	conv, err := s.repo.GetConversation(ctx, sessionID, conversationID)
	if err != nil {
		return fmt.Errorf("failed to get conversation history: %w", err)
	}
	history := []model.ChatMessage{}
	if conv != nil {
		if history, err = conv.Messages(); err != nil {
			// 不覆盖已损坏的历史
			return err
		}
	}
	history = append(history, messages...)
	return s.repo.UpdateConversation(ctx, sessionID, conversationID, history)
}
