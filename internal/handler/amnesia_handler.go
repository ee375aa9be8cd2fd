// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"llm-amnesia-go/internal/amnesia"
	"llm-amnesia-go/internal/middleware"
	"llm-amnesia-go/internal/model"
	"llm-amnesia-go/internal/service"
	"llm-amnesia-go/pkg/log"
)

// AmnesiaHandler 处理遗忘、反悔与状态查询请求。
type AmnesiaHandler struct {
	service service.AmnesiaService
}

// NewAmnesiaHandler 创建一个新的 AmnesiaHandler。
func NewAmnesiaHandler(service service.AmnesiaService) *AmnesiaHandler {
	return &AmnesiaHandler{service: service}
}

// ForgetRequest 定义了遗忘 API 的请求体结构，省略 rounds 时默认遗忘 1 轮。
type ForgetRequest struct {
	Rounds *int `json:"rounds"`
}

// keyFrom 由路径中的会话ID与 token 中的用户ID组成缓存键。
func keyFrom(c *gin.Context) (amnesia.Key, bool) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无法获取用户信息", "data": nil})
		return amnesia.Key{}, false
	}
	return amnesia.Key{SessionID: c.Param("sessionId"), UserID: claims.UserID}, true
}

// Forget 处理遗忘最近 N 轮对话的请求。
func (h *AmnesiaHandler) Forget(c *gin.Context) {
	key, ok := keyFrom(c)
	if !ok {
		return
	}

	var req ForgetRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			log.Warnf("Forget: Invalid request payload, error: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
			return
		}
	}
	rounds := 1
	if req.Rounds != nil {
		rounds = *req.Rounds
	}

	res := h.service.Forget(c.Request.Context(), key, rounds)
	code := forgetHTTPStatus(res.Status)
	c.JSON(code, gin.H{
		"code":    code,
		"message": res.Message(),
		"data": gin.H{
			"status":        res.Status.String(),
			"roundsRemoved": res.RoundsRemoved,
			"foundRounds":   res.FoundRounds,
			"preview":       res.Preview,
		},
	})
}

// CancelForget 处理恢复最近一次遗忘的请求。
func (h *AmnesiaHandler) CancelForget(c *gin.Context) {
	key, ok := keyFrom(c)
	if !ok {
		return
	}

	res := h.service.CancelForget(c.Request.Context(), key)
	code := cancelHTTPStatus(res.Status)
	c.JSON(code, gin.H{
		"code":    code,
		"message": res.Message(),
		"data": gin.H{
			"status":           res.Status.String(),
			"roundsRestored":   res.RoundsRestored,
			"messagesRestored": res.MessagesRestored,
		},
	})
}

// Status 查询当前用户在该会话下是否有可恢复的遗忘记录。
func (h *AmnesiaHandler) Status(c *gin.Context) {
	key, ok := keyFrom(c)
	if !ok {
		return
	}
	res := h.service.Status(key)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": res.Message(), "data": res})
}

// Help 返回指令帮助。
func (h *AmnesiaHandler) Help(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": h.service.Help()})
}

func forgetHTTPStatus(s service.ForgetStatus) int {
	switch s {
	case service.ForgetSucceeded:
		return http.StatusOK
	case service.ForgetInvalidRounds:
		return http.StatusBadRequest
	case service.ForgetNoConversation, service.ForgetConversationNotFound:
		return http.StatusNotFound
	case service.ForgetCorruptHistory:
		return http.StatusUnprocessableEntity
	case service.ForgetInsufficientHistory:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func cancelHTTPStatus(s service.CancelStatus) int {
	switch s {
	case service.CancelRestored:
		return http.StatusOK
	case service.CancelNothingToRestore, service.CancelConversationNotFound:
		return http.StatusNotFound
	case service.CancelCorruptHistory:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// AuditHandler 提供遗忘审计日志的查询接口（管理员）。
type AuditHandler struct {
	service service.AuditService
}

// NewAuditHandler 创建一个新的 AuditHandler。
func NewAuditHandler(service service.AuditService) *AuditHandler {
	return &AuditHandler{service: service}
}

// ListEvents 按时间倒序返回某个会话的遗忘事件。
func (h *AuditHandler) ListEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	events, err := h.service.ListEvents(c.Request.Context(), c.Param("sessionId"), limit)
	if err != nil {
		log.Error("ListEvents: failed to query amnesia events", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询审计日志失败", "data": nil})
		return
	}
	views := make([]model.AmnesiaEventView, 0, len(events))
	for _, e := range events {
		views = append(views, e.View())
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": views})
}
