package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"llm-amnesia-go/internal/amnesia"
	"llm-amnesia-go/internal/model"
	"llm-amnesia-go/pkg/llm"
	"llm-amnesia-go/pkg/log"
)

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	StreamResponse(ctx context.Context, key amnesia.Key, query string, ws llm.MessageWriter) error
}

type chatService struct {
	llmClient     llm.Client
	conversations ConversationService
	amnesia       AmnesiaService
	systemPrompt  string
	generation    *llm.GenerationParams
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(llmClient llm.Client, conversations ConversationService, amnesiaService AmnesiaService, systemPrompt string, generation *llm.GenerationParams) ChatService {
	return &chatService{
		llmClient:     llmClient,
		conversations: conversations,
		amnesia:       amnesiaService,
		systemPrompt:  systemPrompt,
		generation:    generation,
	}
}

// StreamResponse 携带历史调用大模型并流式返回，结束后保存本轮问答。
func (s *chatService) StreamResponse(ctx context.Context, key amnesia.Key, query string, ws llm.MessageWriter) error {
	// 即将调用大模型：按策略清除可反悔记录
	s.amnesia.NotifyActivity(key, amnesia.ActivityLLMRequest)

	history, err := s.conversations.GetConversationHistory(ctx, key.SessionID)
	if err != nil {
		return fmt.Errorf("failed to load conversation history: %w", err)
	}
	messages := s.composeMessages(history, query)

	answerBuilder := &strings.Builder{}
	interceptor := &wsWriterInterceptor{conn: ws, writer: answerBuilder}
	if err := s.llmClient.StreamChatMessages(ctx, messages, s.generation, interceptor); err != nil {
		return err
	}

	sendCompletion(ws)
	fullAnswer := answerBuilder.String()
	if fullAnswer == "" {
		return nil
	}

	// 即使请求被取消，也要保存已经成功生成的答案
	now := time.Now()
	err = s.conversations.AppendMessages(context.WithoutCancel(ctx), key.SessionID,
		model.ChatMessage{Role: model.RoleUser, Content: query, Timestamp: now},
		model.ChatMessage{Role: model.RoleAssistant, Content: fullAnswer, Timestamp: now},
	)
	if err != nil {
		// 只记录错误，流式响应已经成功
		log.Errorf("Failed to save conversation history: %v", err)
	}
	return nil
}

func (s *chatService) composeMessages(history []model.ChatMessage, userInput string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	if s.systemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: model.RoleSystem, Content: s.systemPrompt})
	}
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: model.RoleUser, Content: userInput})
	return msgs
}

// wsWriterInterceptor 包装 websocket 连接，用于捕获写入的消息。
type wsWriterInterceptor struct {
	conn   llm.MessageWriter
	writer *strings.Builder
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	w.writer.Write(data)
	// 将原始分块包装成 {"chunk":"..."}
	b, _ := json.Marshal(map[string]string{"chunk": string(data)})
	return w.conn.WriteMessage(messageType, b)
}

// sendCompletion 发送完成通知 JSON
func sendCompletion(ws llm.MessageWriter) {
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"message":   "响应已完成",
		"timestamp": time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(notif)
	_ = ws.WriteMessage(websocket.TextMessage, b)
}
