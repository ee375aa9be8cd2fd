package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"llm-amnesia-go/internal/amnesia"
	"llm-amnesia-go/internal/service"
	"llm-amnesia-go/pkg/log"
	"llm-amnesia-go/pkg/token"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ChatHandler 处理 WebSocket 聊天连接。连接内既可以发送普通消息，也可以发送斜杠指令。
type ChatHandler struct {
	chatService    service.ChatService
	amnesiaService service.AmnesiaService
	accessService  service.SessionAccessService
	jwtManager     *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, amnesiaService service.AmnesiaService, accessService service.SessionAccessService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{
		chatService:    chatService,
		amnesiaService: amnesiaService,
		accessService:  accessService,
		jwtManager:     jwtManager,
	}
}

// Handle 处理一个传入的 WebSocket 连接：/chat/:token?session=<会话ID>。
// 未指定 session 时使用用户的私聊会话 "private:<userId>"；
// 共享会话要求用户已是成员，尚无成员的会话由第一个进入的用户创建。
func (h *ChatHandler) Handle(c *gin.Context) {
	claims, err := h.jwtManager.VerifyAccessToken(c.Param("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}
	key := amnesia.Key{SessionID: c.DefaultQuery("session", service.PrivateSessionID(claims.UserID)), UserID: claims.UserID}

	allowed, err := h.accessService.Enter(c.Request.Context(), key.SessionID, key.UserID)
	if err != nil {
		log.Errorw("检查会话权限失败", "sessionId", key.SessionID, "userId", key.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "检查会话权限失败", "data": nil})
		return
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "message": "无权访问该会话", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infow("WebSocket 连接已建立", "sessionId", key.SessionID, "userId", key.UserID)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		if cmd, ok := ParseCommand(string(message)); ok {
			reply := runCommand(c.Request.Context(), h.amnesiaService, key, cmd)
			writeJSON(conn, map[string]interface{}{
				"type":      "command",
				"message":   reply,
				"timestamp": time.Now().UnixMilli(),
			})
			continue
		}

		// 普通消息：按策略判断是否让可反悔记录失效
		h.amnesiaService.NotifyActivity(key, amnesia.ActivityMessage)

		err = h.chatService.StreamResponse(c.Request.Context(), key, string(message), conn)
		if err != nil {
			log.Errorf("处理流式响应失败: %v", err)
			writeJSON(conn, map[string]string{"error": "AI服务暂时不可用，请稍后重试"})
			writeJSON(conn, map[string]interface{}{
				"type":      "completion",
				"status":    "finished",
				"message":   "响应已完成",
				"timestamp": time.Now().UnixMilli(),
			})
			break
		}
	}
}

func writeJSON(conn *websocket.Conn, v interface{}) {
	b, _ := json.Marshal(v)
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		log.Warnf("写入 WebSocket 消息失败: %v", err)
	}
}
