package amnesia

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"llm-amnesia-go/pkg/log"
)

// ErrSweeperStarted 表示 Start 被重复调用。
var ErrSweeperStarted = errors.New("sweeper already started")

// Sweeper 按 cron 表达式定期清理过期的可反悔记录。
// 它由服务的启动流程创建、启动，并在停机时显式停止。
type Sweeper struct {
	cache     *UndoCache
	schedule  string
	maxAge    time.Duration
	now       func() time.Time
	onExpired func(Expired)

	mu   sync.Mutex
	cron *cron.Cron
	job  cron.Job
}

// SweeperOption 自定义 Sweeper。
type SweeperOption func(*Sweeper)

// WithClock 替换时钟，测试中用来构造确定的过期边界。
func WithClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

// WithOnExpired 注册一个回调，每清理一条记录调用一次（在缓存锁之外）。
func WithOnExpired(fn func(Expired)) SweeperOption {
	return func(s *Sweeper) { s.onExpired = fn }
}

// NewSweeper 创建一个 Sweeper，schedule 使用 robfig/cron 语法（例如 "@every 5m"）。
func NewSweeper(cache *UndoCache, schedule string, maxAge time.Duration, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		cache:    cache,
		schedule: schedule,
		maxAge:   maxAge,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	// 单次清理中的 panic 只记录日志，不影响后续调度。
	s.job = cron.NewChain(
		cron.Recover(log.CronLogger()),
		cron.SkipIfStillRunning(log.CronLogger()),
	).Then(cron.FuncJob(func() { s.RunOnce() }))
	return s
}

// Start 立即执行一次清理，然后按 schedule 调度后续清理。
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return ErrSweeperStarted
	}

	c := cron.New(cron.WithLogger(log.CronLogger()))
	if _, err := c.AddJob(s.schedule, s.job); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	s.job.Run()
	c.Start()
	s.cron = c
	log.Infow("遗忘记录清理任务已启动", "schedule", s.schedule, "maxAge", s.maxAge.String())
	return nil
}

// Stop 停止调度，并等待正在执行的清理结束（最多等到 ctx 结束）。
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	done := c.Stop()
	select {
	case <-done.Done():
		log.Info("遗忘记录清理任务已停止")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for sweep to finish: %w", ctx.Err())
	}
}

// RunOnce 执行一次清理并返回清理掉的记录数。
func (s *Sweeper) RunOnce() int {
	expired := s.cache.SweepExpired(s.now(), s.maxAge)
	for _, e := range expired {
		log.Infow("清理过期遗忘记录",
			"sessionId", e.Key.SessionID,
			"userId", e.Key.UserID,
			"createdAt", e.Record.CreatedAt,
		)
		if s.onExpired != nil {
			s.onExpired(e)
		}
	}
	return len(expired)
}
