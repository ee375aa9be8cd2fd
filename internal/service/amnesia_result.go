package service

import (
	"fmt"
	"strings"
	"time"
)

// ForgetStatus 是一次遗忘操作的结果分类。
type ForgetStatus int

const (
	ForgetSucceeded ForgetStatus = iota
	ForgetInvalidRounds
	ForgetNoConversation
	ForgetConversationNotFound
	ForgetCorruptHistory
	ForgetInsufficientHistory
	ForgetFailed
)

func (s ForgetStatus) String() string {
	switch s {
	case ForgetSucceeded:
		return "succeeded"
	case ForgetInvalidRounds:
		return "invalid_rounds"
	case ForgetNoConversation:
		return "no_conversation"
	case ForgetConversationNotFound:
		return "conversation_not_found"
	case ForgetCorruptHistory:
		return "corrupt_history"
	case ForgetInsufficientHistory:
		return "insufficient_history"
	case ForgetFailed:
		return "failed"
	default:
		return fmt.Sprintf("forget_status(%d)", int(s))
	}
}

// TurnPreview 是被删除的一轮对话的摘要。
type TurnPreview struct {
	User               string `json:"user"`
	Assistant          string `json:"assistant"`
	UserTruncated      bool   `json:"userTruncated"`
	AssistantTruncated bool   `json:"assistantTruncated"`
}

// ForgetResult 描述 Forget 的结果。只有 Status == ForgetFailed 时 Err 非空。
type ForgetResult struct {
	Status          ForgetStatus
	RequestedRounds int
	RoundsRemoved   int
	FoundRounds     int
	MinRounds       int
	MaxRounds       int
	Preview         []TurnPreview
	Err             error
}

// Message 返回面向用户的提示文本。
func (r ForgetResult) Message() string {
	switch r.Status {
	case ForgetSucceeded:
		var b strings.Builder
		fmt.Fprintf(&b, "✅ 已遗忘 %d 轮对话\n\n删除了 %d 轮对话:\n\n", r.RoundsRemoved, r.RoundsRemoved)
		for i, p := range r.Preview {
			fmt.Fprintf(&b, "轮次%d:\n", i+1)
			fmt.Fprintf(&b, "👤 你: %s%s\n", p.User, ellipsis(p.UserTruncated))
			fmt.Fprintf(&b, "🤖 AI: %s%s\n\n", p.Assistant, ellipsis(p.AssistantTruncated))
		}
		b.WriteString("💡 在下一条消息发送前，发送 /cancel_forget 可以恢复这些对话")
		return b.String()
	case ForgetInvalidRounds:
		return fmt.Sprintf("遗忘轮次数必须在%d到%d之间 ❌", r.MinRounds, r.MaxRounds)
	case ForgetNoConversation:
		return "无法获取当前对话ID ❌"
	case ForgetConversationNotFound:
		return "无法获取对话对象 ❌"
	case ForgetCorruptHistory:
		return "对话历史格式错误 ❌"
	case ForgetInsufficientHistory:
		return fmt.Sprintf("对话历史不足 %d 轮，只找到了 %d 轮可遗忘的对话 ❌", r.RequestedRounds, r.FoundRounds)
	default:
		return fmt.Sprintf("遗忘对话时出现错误 ❌: %v", r.Err)
	}
}

func ellipsis(truncated bool) string {
	if truncated {
		return "..."
	}
	return ""
}

// CancelStatus 是一次反悔操作的结果分类。
type CancelStatus int

const (
	CancelRestored CancelStatus = iota
	CancelNothingToRestore
	CancelConversationNotFound
	CancelCorruptHistory
	CancelFailed
)

func (s CancelStatus) String() string {
	switch s {
	case CancelRestored:
		return "restored"
	case CancelNothingToRestore:
		return "nothing_to_restore"
	case CancelConversationNotFound:
		return "conversation_not_found"
	case CancelCorruptHistory:
		return "corrupt_history"
	case CancelFailed:
		return "failed"
	default:
		return fmt.Sprintf("cancel_status(%d)", int(s))
	}
}

// CancelResult 描述 CancelForget 的结果。
type CancelResult struct {
	Status           CancelStatus
	RoundsRestored   int
	MessagesRestored int
	Err              error
}

// Message 返回面向用户的提示文本。
func (r CancelResult) Message() string {
	switch r.Status {
	case CancelRestored:
		return fmt.Sprintf("✅ 已恢复 %d 轮被删除的对话\n\n对话已恢复到之前的状态", r.RoundsRestored)
	case CancelNothingToRestore:
		return "没有可恢复的遗忘记录 ❌"
	case CancelConversationNotFound:
		return "获取当前对话失败 ❌"
	case CancelCorruptHistory:
		return "对话历史格式错误，无法恢复 ❌"
	default:
		return fmt.Sprintf("恢复对话时出现错误 ❌: %v", r.Err)
	}
}

// StatusResult 描述某个用户当前的可反悔记录。
type StatusResult struct {
	Pending      bool `json:"pending"`
	MinutesAgo   int  `json:"minutesAgo"`
	RoundCount   int  `json:"roundCount"`
	MessageCount int  `json:"messageCount"`
}

// Message 返回面向用户的提示文本。
func (r StatusResult) Message() string {
	if !r.Pending {
		return "没有待恢复的遗忘记录 ✅"
	}
	return fmt.Sprintf("📝 遗忘状态\n\n你有可恢复的遗忘记录:\n⏰ 删除时间: %d分钟前\n🔄 删除轮次: %d轮\n💬 删除消息数: %d条\n\n💡 发送 /cancel_forget 可以恢复这些对话",
		r.MinutesAgo, r.RoundCount, r.MessageCount)
}

// HelpText 返回遗忘指令的帮助信息。
func HelpText(minRounds, maxRounds int, retention time.Duration) string {
	return strings.TrimSpace(fmt.Sprintf(`
📝 遗忘插件使用帮助

📋 基本指令:
• /forget - 遗忘最新一轮对话
• /forget 3 - 遗忘最新3轮对话

⚙️ 参数说明:
• 支持遗忘%d-%d轮对话
• 默认遗忘1轮对话

🔄 其他指令:
• /cancel_forget - 取消遗忘，恢复对话
• /forget_status - 查看遗忘状态
• /forget_help - 显示此帮助信息

⏰ 注意事项:
• 删除记录%d分钟后自动清理
• 反悔功能只能在下一条消息发送前使用
`, minRounds, maxRounds, int(retention.Minutes())))
}
