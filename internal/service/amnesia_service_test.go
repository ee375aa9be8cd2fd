package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-amnesia-go/internal/amnesia"
	"llm-amnesia-go/internal/model"
	"llm-amnesia-go/internal/repository"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []model.AmnesiaEvent
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, event model.AmnesiaEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *fakePublisher) types() []model.AmnesiaEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.AmnesiaEventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// failingRepo 在指定操作上返回错误或 panic。
type failingRepo struct {
	repository.ConversationRepository
	failUpdate bool
	failGet    bool
	panicGet   bool
	onUpdate   func()
}

func (r *failingRepo) GetConversation(ctx context.Context, sessionID, conversationID string) (*model.Conversation, error) {
	if r.panicGet {
		panic("store exploded")
	}
	if r.failGet {
		return nil, errors.New("redis: connection refused")
	}
	return r.ConversationRepository.GetConversation(ctx, sessionID, conversationID)
}

func (r *failingRepo) UpdateConversation(ctx context.Context, sessionID, conversationID string, messages []model.ChatMessage) error {
	if r.onUpdate != nil {
		r.onUpdate()
	}
	if r.failUpdate {
		return errors.New("redis: connection refused")
	}
	return r.ConversationRepository.UpdateConversation(ctx, sessionID, conversationID, messages)
}

// gatedRepo 让第一次 UpdateConversation 停在 entered 之后，直到 release 被关闭。
type gatedRepo struct {
	repository.ConversationRepository
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedRepo(inner repository.ConversationRepository) *gatedRepo {
	return &gatedRepo{ConversationRepository: inner, entered: make(chan struct{}), release: make(chan struct{})}
}

func (r *gatedRepo) UpdateConversation(ctx context.Context, sessionID, conversationID string, messages []model.ChatMessage) error {
	r.once.Do(func() {
		close(r.entered)
		<-r.release
	})
	return r.ConversationRepository.UpdateConversation(ctx, sessionID, conversationID, messages)
}

type fixture struct {
	mr        *miniredis.Miniredis
	repo      repository.ConversationRepository
	cache     *amnesia.UndoCache
	publisher *fakePublisher
	now       time.Time
	svc       AmnesiaService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		mr:        mr,
		repo:      repository.NewConversationRepository(client, time.Hour),
		cache:     amnesia.NewUndoCache(),
		publisher: &fakePublisher{},
		now:       time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	f.svc = f.service(f.repo, amnesia.InvalidateOnLLMRequest)
	return f
}

func (f *fixture) service(repo repository.ConversationRepository, policy amnesia.ActivityPolicy) AmnesiaService {
	return NewAmnesiaService(repo, f.cache, f.publisher, AmnesiaOptions{
		MinRounds:     1,
		MaxRounds:     10,
		PreviewLength: 50,
		PendingTTL:    30 * time.Minute,
		Policy:        policy,
		Now:           func() time.Time { return f.now },
	})
}

func (f *fixture) seed(t *testing.T, sessionID string, history []model.ChatMessage) string {
	t.Helper()
	ctx := context.Background()
	convID, err := f.repo.GetOrCreateConversationID(ctx, sessionID)
	require.NoError(t, err)
	require.NoError(t, f.repo.UpdateConversation(ctx, sessionID, convID, history))
	return convID
}

func (f *fixture) history(t *testing.T, sessionID string) []model.ChatMessage {
	t.Helper()
	ctx := context.Background()
	convID, err := f.repo.GetCurrentConversationID(ctx, sessionID)
	require.NoError(t, err)
	conv, err := f.repo.GetConversation(ctx, sessionID, convID)
	require.NoError(t, err)
	require.NotNil(t, conv)
	msgs, err := conv.Messages()
	require.NoError(t, err)
	return msgs
}

func pairs(n int) []model.ChatMessage {
	out := make([]model.ChatMessage, 0, n*2)
	for i := 1; i <= n; i++ {
		ts := time.Unix(int64(i*10), 0).UTC()
		out = append(out,
			model.ChatMessage{Role: model.RoleUser, Content: fmt.Sprintf("question %d", i), Timestamp: ts},
			model.ChatMessage{Role: model.RoleAssistant, Content: fmt.Sprintf("answer %d", i), Timestamp: ts.Add(time.Second)},
		)
	}
	return out
}

var alice = amnesia.Key{SessionID: "qq:group:1001", UserID: "alice"}

func TestForget_RemovesLastRound(t *testing.T) {
	f := newFixture(t)
	history := pairs(3)
	f.seed(t, alice.SessionID, history)

	res := f.svc.Forget(context.Background(), alice, 1)

	require.Equal(t, ForgetSucceeded, res.Status, res.Message())
	assert.Equal(t, 1, res.RoundsRemoved)
	require.Len(t, res.Preview, 1)
	assert.Equal(t, TurnPreview{User: "question 3", Assistant: "answer 3"}, res.Preview[0])
	assert.Equal(t, history[:4], f.history(t, alice.SessionID))

	record, ok := f.cache.Peek(alice)
	require.True(t, ok)
	assert.Equal(t, history[4:], record.RemovedMessages)
	assert.Equal(t, f.now, record.CreatedAt)
	assert.Equal(t, []model.AmnesiaEventType{model.EventForgotten}, f.publisher.types())
}

func TestForget_InsufficientHistory(t *testing.T) {
	f := newFixture(t)
	history := pairs(1)
	f.seed(t, alice.SessionID, history)

	res := f.svc.Forget(context.Background(), alice, 2)

	assert.Equal(t, ForgetInsufficientHistory, res.Status)
	assert.Equal(t, 1, res.FoundRounds)
	assert.Contains(t, res.Message(), "只找到了 1 轮")
	assert.Equal(t, history, f.history(t, alice.SessionID))
	assert.Equal(t, 0, f.cache.Len())
}

func TestForget_InvalidRounds(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice.SessionID, pairs(12))

	for _, rounds := range []int{0, -1, 11} {
		res := f.svc.Forget(context.Background(), alice, rounds)
		assert.Equal(t, ForgetInvalidRounds, res.Status, "rounds=%d", rounds)
		assert.Contains(t, res.Message(), "1到10")
	}
	assert.Len(t, f.history(t, alice.SessionID), 24)
}

func TestForget_NoConversation(t *testing.T) {
	f := newFixture(t)

	res := f.svc.Forget(context.Background(), alice, 1)

	assert.Equal(t, ForgetNoConversation, res.Status)
	assert.NoError(t, res.Err)
}

func TestForget_ConversationObjectMissing(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice.SessionID, pairs(1))

	// 当前对话ID存在，但存储中找不到对话对象
	repo := &missingConversationRepo{ConversationRepository: f.repo}
	res := f.service(repo, amnesia.InvalidateOnLLMRequest).Forget(context.Background(), alice, 1)

	assert.Equal(t, ForgetConversationNotFound, res.Status)
}

type missingConversationRepo struct {
	repository.ConversationRepository
}

func (missingConversationRepo) GetConversation(context.Context, string, string) (*model.Conversation, error) {
	return nil, nil
}

func TestForget_CorruptHistory(t *testing.T) {
	f := newFixture(t)
	convID := f.seed(t, alice.SessionID, pairs(1))
	require.NoError(t, f.mr.Set("conversation:"+alice.SessionID+":"+convID, `[{"role": "user"`))

	res := f.svc.Forget(context.Background(), alice, 1)

	assert.Equal(t, ForgetCorruptHistory, res.Status)
	assert.NoError(t, res.Err)
	assert.Equal(t, 0, f.cache.Len())
}

func TestForget_StoreFailureRollsBackCache(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice.SessionID, pairs(2))
	svc := f.service(&failingRepo{ConversationRepository: f.repo, failUpdate: true}, amnesia.InvalidateOnLLMRequest)

	res := svc.Forget(context.Background(), alice, 1)

	assert.Equal(t, ForgetFailed, res.Status)
	require.Error(t, res.Err)
	assert.Contains(t, res.Message(), "connection refused")
	assert.Equal(t, 0, f.cache.Len())
	assert.Len(t, f.history(t, alice.SessionID), 4)
}

func TestForget_RollbackKeepsNewerRecord(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice.SessionID, pairs(2))
	newer := amnesia.PendingDeletion{ConversationID: "other", CreatedAt: f.now.Add(time.Second), RoundCount: 3}
	svc := f.service(&failingRepo{
		ConversationRepository: f.repo,
		failUpdate:             true,
		onUpdate:               func() { f.cache.Put(alice, newer) },
	}, amnesia.InvalidateOnLLMRequest)

	res := svc.Forget(context.Background(), alice, 1)

	assert.Equal(t, ForgetFailed, res.Status)
	got, ok := f.cache.Peek(alice)
	require.True(t, ok)
	assert.Equal(t, 3, got.RoundCount)
}

func TestCancelWaitsForInFlightForget(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice.SessionID, pairs(3))
	repo := newGatedRepo(f.repo)
	svc := f.service(repo, amnesia.InvalidateOnLLMRequest)
	ctx := context.Background()

	forgetDone := make(chan ForgetResult, 1)
	go func() { forgetDone <- svc.Forget(ctx, alice, 1) }()
	<-repo.entered

	cancelDone := make(chan CancelResult, 1)
	go func() { cancelDone <- svc.CancelForget(ctx, alice) }()

	select {
	case <-cancelDone:
		t.Fatal("cancel finished while forget was still truncating")
	case <-time.After(50 * time.Millisecond):
	}

	close(repo.release)
	assert.Equal(t, ForgetSucceeded, (<-forgetDone).Status)
	assert.Equal(t, CancelRestored, (<-cancelDone).Status)

	assert.Equal(t, pairs(3), f.history(t, alice.SessionID))
	assert.False(t, svc.Status(alice).Pending)
}

func TestForget_PanicIsContained(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice.SessionID, pairs(2))
	svc := f.service(&failingRepo{ConversationRepository: f.repo, panicGet: true}, amnesia.InvalidateOnLLMRequest)

	var res ForgetResult
	require.NotPanics(t, func() { res = svc.Forget(context.Background(), alice, 1) })
	assert.Equal(t, ForgetFailed, res.Status)
	assert.ErrorContains(t, res.Err, "store exploded")
}

func TestForget_PreviewIsClipped(t *testing.T) {
	f := newFixture(t)
	long := strings.Repeat("忘", 60)
	f.seed(t, alice.SessionID, []model.ChatMessage{
		{Role: model.RoleUser, Content: long},
		{Role: model.RoleAssistant, Content: "short"},
	})

	res := f.svc.Forget(context.Background(), alice, 1)

	require.Equal(t, ForgetSucceeded, res.Status)
	require.Len(t, res.Preview, 1)
	assert.Equal(t, strings.Repeat("忘", 50), res.Preview[0].User)
	assert.True(t, res.Preview[0].UserTruncated)
	assert.False(t, res.Preview[0].AssistantTruncated)
	assert.Contains(t, res.Message(), "...")
}

func TestForgetThenCancel_RestoresExactHistory(t *testing.T) {
	f := newFixture(t)
	history := pairs(4)
	f.seed(t, alice.SessionID, history)
	ctx := context.Background()

	require.Equal(t, ForgetSucceeded, f.svc.Forget(ctx, alice, 3).Status)
	require.Len(t, f.history(t, alice.SessionID), 2)

	res := f.svc.CancelForget(ctx, alice)

	require.Equal(t, CancelRestored, res.Status, res.Message())
	assert.Equal(t, 3, res.RoundsRestored)
	assert.Equal(t, 6, res.MessagesRestored)
	assert.Equal(t, history, f.history(t, alice.SessionID))
	assert.Equal(t, 0, f.cache.Len())
	assert.Equal(t, []model.AmnesiaEventType{model.EventForgotten, model.EventRestored}, f.publisher.types())

	// 记录只能使用一次
	assert.Equal(t, CancelNothingToRestore, f.svc.CancelForget(ctx, alice).Status)
}

func TestForgetCancelForget_SecondRecordIsFresh(t *testing.T) {
	f := newFixture(t)
	history := pairs(3)
	f.seed(t, alice.SessionID, history)
	ctx := context.Background()

	require.Equal(t, ForgetSucceeded, f.svc.Forget(ctx, alice, 1).Status)
	require.Equal(t, CancelRestored, f.svc.CancelForget(ctx, alice).Status)
	require.Equal(t, ForgetSucceeded, f.svc.Forget(ctx, alice, 2).Status)

	record, ok := f.cache.Peek(alice)
	require.True(t, ok)
	assert.Equal(t, 2, record.RoundCount)
	assert.Equal(t, history[2:], record.RemovedMessages)
}

func TestForget_NewActivityInvalidates(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice.SessionID, pairs(3))
	ctx := context.Background()

	require.Equal(t, ForgetSucceeded, f.svc.Forget(ctx, alice, 1).Status)
	f.svc.OnNewActivity(alice)

	assert.Equal(t, CancelNothingToRestore, f.svc.CancelForget(ctx, alice).Status)
	assert.Len(t, f.history(t, alice.SessionID), 4)
	assert.Equal(t, []model.AmnesiaEventType{model.EventForgotten, model.EventInvalidated}, f.publisher.types())
}

func TestNotifyActivity_RespectsPolicy(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice.SessionID, pairs(3))
	ctx := context.Background()

	require.Equal(t, ForgetSucceeded, f.svc.Forget(ctx, alice, 1).Status)
	f.svc.NotifyActivity(alice, amnesia.ActivityMessage)
	assert.True(t, f.svc.Status(alice).Pending, "plain messages do not invalidate under llm_request policy")

	f.svc.NotifyActivity(alice, amnesia.ActivityLLMRequest)
	assert.False(t, f.svc.Status(alice).Pending)

	strict := f.service(f.repo, amnesia.InvalidateOnAnyMessage)
	require.Equal(t, ForgetSucceeded, strict.Forget(ctx, alice, 1).Status)
	strict.NotifyActivity(alice, amnesia.ActivityMessage)
	assert.False(t, strict.Status(alice).Pending)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice.SessionID, pairs(3))

	assert.Equal(t, StatusResult{}, f.svc.Status(alice))
	assert.Contains(t, f.svc.Status(alice).Message(), "没有待恢复")

	require.Equal(t, ForgetSucceeded, f.svc.Forget(context.Background(), alice, 2).Status)
	f.now = f.now.Add(7*time.Minute + 30*time.Second)

	st := f.svc.Status(alice)
	assert.Equal(t, StatusResult{Pending: true, MinutesAgo: 7, RoundCount: 2, MessageCount: 4}, st)
	assert.Contains(t, st.Message(), "7分钟前")
	// Status 是只读的
	assert.Equal(t, 1, f.cache.Len())
}

func TestCancel_StoreFailureKeepsRecord(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice.SessionID, pairs(2))
	ctx := context.Background()
	require.Equal(t, ForgetSucceeded, f.svc.Forget(ctx, alice, 1).Status)

	broken := f.service(&failingRepo{ConversationRepository: f.repo, failUpdate: true}, amnesia.InvalidateOnLLMRequest)
	res := broken.CancelForget(ctx, alice)
	assert.Equal(t, CancelFailed, res.Status)
	assert.Error(t, res.Err)

	// 记录被放回，恢复后可以重试
	assert.Equal(t, CancelRestored, f.svc.CancelForget(ctx, alice).Status)
	assert.Len(t, f.history(t, alice.SessionID), 4)
}

func TestCancel_CorruptHistoryKeepsRecord(t *testing.T) {
	f := newFixture(t)
	convID := f.seed(t, alice.SessionID, pairs(2))
	ctx := context.Background()
	require.Equal(t, ForgetSucceeded, f.svc.Forget(ctx, alice, 1).Status)
	require.NoError(t, f.mr.Set("conversation:"+alice.SessionID+":"+convID, "garbage"))

	res := f.svc.CancelForget(ctx, alice)

	assert.Equal(t, CancelCorruptHistory, res.Status)
	assert.True(t, f.svc.Status(alice).Pending)
}

func TestCancel_ConversationGone(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice.SessionID, pairs(2))
	ctx := context.Background()
	require.Equal(t, ForgetSucceeded, f.svc.Forget(ctx, alice, 1).Status)

	gone := f.service(&missingConversationRepo{ConversationRepository: f.repo}, amnesia.InvalidateOnLLMRequest)
	res := gone.CancelForget(ctx, alice)

	assert.Equal(t, CancelConversationNotFound, res.Status)
	assert.Equal(t, 0, f.cache.Len())
}

func TestCancel_PanicIsContained(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice.SessionID, pairs(2))
	ctx := context.Background()
	require.Equal(t, ForgetSucceeded, f.svc.Forget(ctx, alice, 1).Status)

	boom := f.service(&failingRepo{ConversationRepository: f.repo, panicGet: true}, amnesia.InvalidateOnLLMRequest)
	var res CancelResult
	require.NotPanics(t, func() { res = boom.CancelForget(ctx, alice) })

	assert.Equal(t, CancelFailed, res.Status)
	assert.True(t, f.svc.Status(alice).Pending)
}

func TestPublishFailureDoesNotFailForget(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice.SessionID, pairs(2))
	f.publisher.err = errors.New("broker unavailable")

	res := f.svc.Forget(context.Background(), alice, 1)

	assert.Equal(t, ForgetSucceeded, res.Status)
}

func TestOnExpiredPublishes(t *testing.T) {
	f := newFixture(t)

	f.svc.OnExpired(amnesia.Expired{Key: alice, Record: amnesia.PendingDeletion{ConversationID: "c1", RoundCount: 2}})

	require.Len(t, f.publisher.events, 1)
	e := f.publisher.events[0]
	assert.Equal(t, model.EventExpired, e.Type)
	assert.Equal(t, "c1", e.ConversationID)
	assert.Equal(t, alice.UserID, e.UserID)
}

func TestConcurrentForgetDistinctKeys(t *testing.T) {
	f := newFixture(t)
	const n = 16
	keys := make([]amnesia.Key, n)
	for i := range keys {
		keys[i] = amnesia.Key{SessionID: fmt.Sprintf("session-%d", i), UserID: fmt.Sprintf("user-%d", i)}
		f.seed(t, keys[i].SessionID, pairs(i%3+1))
	}

	var wg sync.WaitGroup
	results := make([]ForgetResult, n)
	for i := range keys {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.svc.Forget(context.Background(), keys[i], 1)
		}(i)
	}
	wg.Wait()

	for i, key := range keys {
		require.Equal(t, ForgetSucceeded, results[i].Status, "key %v", key)
		record, ok := f.cache.Peek(key)
		require.True(t, ok)
		last := i%3 + 1
		assert.Equal(t, fmt.Sprintf("question %d", last), record.RemovedMessages[0].Content)
		assert.Len(t, f.history(t, key.SessionID), 2*(last-1))
	}
	assert.Equal(t, n, f.cache.Len())
}

func TestHelpMentionsRange(t *testing.T) {
	f := newFixture(t)
	help := f.svc.Help()
	assert.Contains(t, help, "1-10")
	assert.Contains(t, help, "30分钟")
}
