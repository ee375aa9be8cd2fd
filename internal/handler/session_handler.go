package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"llm-amnesia-go/internal/service"
	"llm-amnesia-go/pkg/log"
)

// SessionHandler 管理共享会话的成员。
type SessionHandler struct {
	service service.SessionAccessService
}

// NewSessionHandler 创建一个新的 SessionHandler。
func NewSessionHandler(service service.SessionAccessService) *SessionHandler {
	return &SessionHandler{service: service}
}

// AddMemberRequest 定义了添加会话成员的请求体结构。
type AddMemberRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// AddMember 由现有成员把另一个用户加入会话。调用方的成员身份由 SessionAccessMiddleware 保证。
func (h *SessionHandler) AddMember(c *gin.Context) {
	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("AddMember: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载：userId 不能为空", "data": nil})
		return
	}

	sessionID := c.Param("sessionId")
	err := h.service.AddMember(c.Request.Context(), sessionID, req.UserID)
	if errors.Is(err, service.ErrPrivateSession) {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "私聊会话不能添加成员", "data": nil})
		return
	}
	if err != nil {
		log.Error("AddMember: failed to add session member", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "添加会话成员失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
}
