package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"llm-amnesia-go/internal/model"
	"llm-amnesia-go/internal/service"
	"llm-amnesia-go/pkg/log"
)

// ConversationHandler 处理与对话相关的 API 请求。
type ConversationHandler struct {
	service service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(service service.ConversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

// GetConversation 返回会话当前对话的完整历史。
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	history, err := h.service.GetConversationHistory(c.Request.Context(), c.Param("sessionId"))
	if errors.Is(err, model.ErrCorruptHistory) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": http.StatusUnprocessableEntity, "message": "对话历史格式错误", "data": nil})
		return
	}
	if err != nil {
		log.Error("GetConversation: failed to load history", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "Failed to retrieve conversation history",
			"data":    nil,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    history,
	})
}
