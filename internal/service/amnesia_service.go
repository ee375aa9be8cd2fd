// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"llm-amnesia-go/internal/amnesia"
	"llm-amnesia-go/internal/model"
	"llm-amnesia-go/internal/repository"
	"llm-amnesia-go/pkg/log"
)

const publishTimeout = 3 * time.Second

// EventPublisher 发布遗忘记录的生命周期事件（Kafka 或直接落库）。
type EventPublisher interface {
	Publish(ctx context.Context, event model.AmnesiaEvent) error
}

// AmnesiaService 定义了"遗忘最近 N 轮对话"及其反悔操作的接口。
type AmnesiaService interface {
	Forget(ctx context.Context, key amnesia.Key, rounds int) ForgetResult
	CancelForget(ctx context.Context, key amnesia.Key) CancelResult
	Status(key amnesia.Key) StatusResult
	// OnNewActivity 无条件清除 key 的可反悔记录。
	OnNewActivity(key amnesia.Key)
	// NotifyActivity 在活动满足配置的失效策略时调用 OnNewActivity。
	NotifyActivity(key amnesia.Key, kind amnesia.ActivityKind)
	// OnExpired 供 Sweeper 回调，记录过期事件。
	OnExpired(e amnesia.Expired)
	Help() string
}

// AmnesiaOptions 配置 AmnesiaService 的可调参数。
type AmnesiaOptions struct {
	MinRounds     int
	MaxRounds     int
	PreviewLength int
	PendingTTL    time.Duration
	Policy        amnesia.ActivityPolicy
	Now           func() time.Time
}

type amnesiaService struct {
	repo      repository.ConversationRepository
	cache     *amnesia.UndoCache
	locks     *amnesia.KeyedMutex
	publisher EventPublisher
	opts      AmnesiaOptions
}

// NewAmnesiaService 创建一个新的 AmnesiaService。publisher 可以为 nil。
func NewAmnesiaService(repo repository.ConversationRepository, cache *amnesia.UndoCache, publisher EventPublisher, opts AmnesiaOptions) AmnesiaService {
	if opts.MinRounds <= 0 {
		opts.MinRounds = 1
	}
	if opts.MaxRounds < opts.MinRounds {
		opts.MaxRounds = 10
	}
	if opts.PreviewLength <= 0 {
		opts.PreviewLength = 50
	}
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = 30 * time.Minute
	}
	if opts.Policy == nil {
		opts.Policy = amnesia.InvalidateOnLLMRequest
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &amnesiaService{repo: repo, cache: cache, locks: amnesia.NewKeyedMutex(), publisher: publisher, opts: opts}
}

// Forget 从当前对话末尾删除 rounds 轮对话，并保存被删除的部分以便反悔。
func (s *amnesiaService) Forget(ctx context.Context, key amnesia.Key, rounds int) (result ForgetResult) {
	log.Infow("forget 指令开始", "sessionId", key.SessionID, "userId", key.UserID, "rounds", rounds)

	if rounds < s.opts.MinRounds || rounds > s.opts.MaxRounds {
		return ForgetResult{
			Status:          ForgetInvalidRounds,
			RequestedRounds: rounds,
			MinRounds:       s.opts.MinRounds,
			MaxRounds:       s.opts.MaxRounds,
		}
	}

	// 同一 key 的遗忘与反悔串行执行，反悔不会落在截断完成之前
	defer s.locks.Lock(key)()

	defer func() {
		if r := recover(); r != nil {
			log.Errorw("遗忘对话时出错", "sessionId", key.SessionID, "userId", key.UserID, "panic", r, "stack", string(debug.Stack()))
			result = ForgetResult{Status: ForgetFailed, RequestedRounds: rounds, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	convID, err := s.repo.GetCurrentConversationID(ctx, key.SessionID)
	if err != nil {
		return s.forgetFailed(key, rounds, err)
	}
	if convID == "" {
		log.Warnf("无法获取当前对话ID: session=%s", key.SessionID)
		return ForgetResult{Status: ForgetNoConversation, RequestedRounds: rounds}
	}

	conv, err := s.repo.GetConversation(ctx, key.SessionID, convID)
	if err != nil {
		return s.forgetFailed(key, rounds, err)
	}
	if conv == nil {
		log.Warnf("无法获取对话对象: session=%s, conversation=%s", key.SessionID, convID)
		return ForgetResult{Status: ForgetConversationNotFound, RequestedRounds: rounds}
	}

	history, err := conv.Messages()
	if errors.Is(err, model.ErrCorruptHistory) {
		log.Errorw("对话历史解析失败", "sessionId", key.SessionID, "conversationId", conv.ID, "error", err)
		return ForgetResult{Status: ForgetCorruptHistory, RequestedRounds: rounds}
	}
	if err != nil {
		return s.forgetFailed(key, rounds, err)
	}

	split := amnesia.ComputeSplit(history, rounds)
	if split.TurnsFound < rounds {
		log.Infow("没有找到足够的可删除对话轮次", "sessionId", key.SessionID, "requested", rounds, "found", split.TurnsFound)
		return ForgetResult{Status: ForgetInsufficientHistory, RequestedRounds: rounds, FoundRounds: split.TurnsFound}
	}

	record := amnesia.PendingDeletion{
		RemovedMessages: split.Removed,
		ConversationID:  conv.ID,
		CreatedAt:       s.opts.Now(),
		RoundCount:      rounds,
	}
	// 先登记再截断：若截断期间有新活动到来，失效逻辑能看到这条记录。
	s.cache.Put(key, record)

	if err := s.repo.UpdateConversation(ctx, key.SessionID, conv.ID, history[:split.Index]); err != nil {
		s.cache.RemoveIf(key, record.CreatedAt)
		return s.forgetFailed(key, rounds, err)
	}

	log.Infow("遗忘对话成功",
		"sessionId", key.SessionID,
		"userId", key.UserID,
		"conversationId", conv.ID,
		"rounds", rounds,
		"before", len(history),
		"after", split.Index,
	)
	s.publish(ctx, model.EventForgotten, key, record)

	return ForgetResult{
		Status:          ForgetSucceeded,
		RequestedRounds: rounds,
		RoundsRemoved:   rounds,
		FoundRounds:     split.TurnsFound,
		Preview:         buildPreview(split.Removed, s.opts.PreviewLength),
	}
}

func (s *amnesiaService) forgetFailed(key amnesia.Key, rounds int, err error) ForgetResult {
	log.Errorw("遗忘对话时出错", "sessionId", key.SessionID, "userId", key.UserID, "rounds", rounds, "error", err)
	return ForgetResult{Status: ForgetFailed, RequestedRounds: rounds, Err: err}
}

// CancelForget 取出可反悔记录，并把被删除的消息追加回原对话。
func (s *amnesiaService) CancelForget(ctx context.Context, key amnesia.Key) (result CancelResult) {
	defer s.locks.Lock(key)()

	record, ok := s.cache.Take(key)
	if !ok {
		return CancelResult{Status: CancelNothingToRestore}
	}

	defer func() {
		if r := recover(); r != nil {
			log.Errorw("取消遗忘时出错", "sessionId", key.SessionID, "userId", key.UserID, "panic", r, "stack", string(debug.Stack()))
			s.cache.PutIfAbsent(key, record)
			result = CancelResult{Status: CancelFailed, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	conv, err := s.repo.GetConversation(ctx, key.SessionID, record.ConversationID)
	if err != nil {
		return s.cancelFailed(key, record, err)
	}
	if conv == nil {
		log.Warnf("被遗忘的对话已不存在: session=%s, conversation=%s", key.SessionID, record.ConversationID)
		return CancelResult{Status: CancelConversationNotFound}
	}

	history, err := conv.Messages()
	if errors.Is(err, model.ErrCorruptHistory) {
		log.Errorw("对话历史解析失败", "sessionId", key.SessionID, "conversationId", conv.ID, "error", err)
		s.cache.PutIfAbsent(key, record)
		return CancelResult{Status: CancelCorruptHistory}
	}
	if err != nil {
		return s.cancelFailed(key, record, err)
	}

	restored := make([]model.ChatMessage, 0, len(history)+len(record.RemovedMessages))
	restored = append(restored, history...)
	restored = append(restored, record.RemovedMessages...)
	if err := s.repo.UpdateConversation(ctx, key.SessionID, conv.ID, restored); err != nil {
		return s.cancelFailed(key, record, err)
	}

	log.Infow("取消遗忘成功", "sessionId", key.SessionID, "userId", key.UserID, "rounds", record.RoundCount)
	s.publish(ctx, model.EventRestored, key, record)

	return CancelResult{
		Status:           CancelRestored,
		RoundsRestored:   record.RoundCount,
		MessagesRestored: len(record.RemovedMessages),
	}
}

// cancelFailed 记录错误，并把记录放回缓存以便用户重试（不覆盖期间产生的新记录）。
func (s *amnesiaService) cancelFailed(key amnesia.Key, record amnesia.PendingDeletion, err error) CancelResult {
	log.Errorw("取消遗忘时出错", "sessionId", key.SessionID, "userId", key.UserID, "error", err)
	s.cache.PutIfAbsent(key, record)
	return CancelResult{Status: CancelFailed, Err: err}
}

func (s *amnesiaService) Status(key amnesia.Key) StatusResult {
	record, ok := s.cache.Peek(key)
	if !ok {
		return StatusResult{}
	}
	return StatusResult{
		Pending:      true,
		MinutesAgo:   int(s.opts.Now().Sub(record.CreatedAt).Minutes()),
		RoundCount:   record.RoundCount,
		MessageCount: len(record.RemovedMessages),
	}
}

func (s *amnesiaService) OnNewActivity(key amnesia.Key) {
	record, ok := s.cache.Take(key)
	if !ok {
		return
	}
	log.Infow("检测到新的对话活动，自动清除遗忘记录", "sessionId", key.SessionID, "userId", key.UserID)
	s.publish(context.Background(), model.EventInvalidated, key, record)
}

func (s *amnesiaService) NotifyActivity(key amnesia.Key, kind amnesia.ActivityKind) {
	if s.opts.Policy(kind) {
		s.OnNewActivity(key)
	}
}

func (s *amnesiaService) OnExpired(e amnesia.Expired) {
	s.publish(context.Background(), model.EventExpired, e.Key, e.Record)
}

func (s *amnesiaService) Help() string {
	return HelpText(s.opts.MinRounds, s.opts.MaxRounds, s.opts.PendingTTL)
}

// publish 发布事件。失败只记录日志，不影响主流程。
func (s *amnesiaService) publish(ctx context.Context, typ model.AmnesiaEventType, key amnesia.Key, record amnesia.PendingDeletion) {
	if s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	event := model.AmnesiaEvent{
		Type:           typ,
		SessionID:      key.SessionID,
		UserID:         key.UserID,
		ConversationID: record.ConversationID,
		Rounds:         record.RoundCount,
		MessageCount:   len(record.RemovedMessages),
		OccurredAt:     s.opts.Now(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Errorw("发布遗忘事件失败", "type", typ, "sessionId", key.SessionID, "error", err)
	}
}

// buildPreview 将被删除的消息按轮次截取前 limit 个字符作为预览。
func buildPreview(removed []model.ChatMessage, limit int) []TurnPreview {
	previews := make([]TurnPreview, 0, len(removed)/2)
	for i := 0; i+1 < len(removed); i += 2 {
		user, userCut := clip(removed[i].Content, limit)
		assistant, assistantCut := clip(removed[i+1].Content, limit)
		previews = append(previews, TurnPreview{
			User:               user,
			Assistant:          assistant,
			UserTruncated:      userCut,
			AssistantTruncated: assistantCut,
		})
	}
	return previews
}

func clip(s string, limit int) (string, bool) {
	runes := []rune(s)
	if len(runes) <= limit {
		return s, false
	}
	return string(runes[:limit]), true
}
