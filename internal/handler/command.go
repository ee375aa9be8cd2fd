package handler

import (
	"context"
	"strconv"
	"strings"

	"llm-amnesia-go/internal/amnesia"
	"llm-amnesia-go/internal/service"
)

// CommandKind 枚举聊天中支持的斜杠指令。
type CommandKind int

const (
	CommandForget CommandKind = iota + 1
	CommandCancelForget
	CommandForgetStatus
	CommandForgetHelp
)

// Command 是解析后的一条斜杠指令。
type Command struct {
	Kind   CommandKind
	Rounds int
}

// ParseCommand 识别 /forget [n]、/cancel_forget、/forget_status、/forget_help。
// 非指令文本返回 false，应作为普通聊天消息处理。
// /forget 后跟非整数时 Rounds 为 0，由 AmnesiaService 报告轮次越界。
func ParseCommand(text string) (Command, bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return Command{}, false
	}

	switch strings.ToLower(fields[0]) {
	case "/forget":
		rounds := 1
		if len(fields) > 1 {
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				n = 0
			}
			rounds = n
		}
		return Command{Kind: CommandForget, Rounds: rounds}, true
	case "/cancel_forget":
		return Command{Kind: CommandCancelForget}, true
	case "/forget_status":
		return Command{Kind: CommandForgetStatus}, true
	case "/forget_help":
		return Command{Kind: CommandForgetHelp}, true
	default:
		return Command{}, false
	}
}

// runCommand 执行指令并返回回复文本。
func runCommand(ctx context.Context, svc service.AmnesiaService, key amnesia.Key, cmd Command) string {
	switch cmd.Kind {
	case CommandForget:
		return svc.Forget(ctx, key, cmd.Rounds).Message()
	case CommandCancelForget:
		return svc.CancelForget(ctx, key).Message()
	case CommandForgetStatus:
		return svc.Status(key).Message()
	default:
		return svc.Help()
	}
}
