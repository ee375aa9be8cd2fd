// Package amnesia 实现"遗忘最近 N 轮对话"的核心逻辑：轮次切分与可反悔的删除缓存。
package amnesia

import "llm-amnesia-go/internal/model"

// Split 是一次轮次切分的结果。
// history[:Index] 保留，history[Index:] 即 Removed（保持原有顺序）。
type Split struct {
	Index      int
	Removed    []model.ChatMessage
	TurnsFound int
}

// ComputeSplit 从历史末尾向前，每次两条地寻找连续的 user→assistant 轮次。
//
// 扫描遇到第一对不满足条件的消息即停止，不会跳过它继续往前找；
// 因此只有"紧贴末尾"的完整轮次才会被计数。找到的轮次少于 roundCount 时，
// Index/Removed 仍描述已找到的部分，由调用方决定是否拒绝。
// TurnsFound 为 0 时 Index == len(history)，Removed 为空。
func ComputeSplit(history []model.ChatMessage, roundCount int) Split {
	split := Split{Index: len(history)}
	if roundCount <= 0 {
		return split
	}

	for i := len(history) - 1; i >= 1; i -= 2 {
		if history[i].Role != model.RoleAssistant || history[i-1].Role != model.RoleUser {
			break
		}
		split.TurnsFound++
		split.Index = i - 1
		if split.TurnsFound == roundCount {
			break
		}
	}

	if split.TurnsFound > 0 {
		split.Removed = make([]model.ChatMessage, len(history)-split.Index)
		copy(split.Removed, history[split.Index:])
	}
	return split
}
