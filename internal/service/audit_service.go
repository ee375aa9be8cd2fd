package service

import (
	"context"

	"llm-amnesia-go/internal/model"
	"llm-amnesia-go/internal/repository"
)

// AuditService 将遗忘事件写入审计表，并提供查询。
// 它既可以作为 Kafka 消费者的 EventProcessor，也可以在未启用 Kafka 时直接充当 EventPublisher。
type AuditService interface {
	Process(ctx context.Context, event model.AmnesiaEvent) error
	Publish(ctx context.Context, event model.AmnesiaEvent) error
	ListEvents(ctx context.Context, sessionID string, limit int) ([]model.AmnesiaEvent, error)
}

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

type auditService struct {
	repo repository.AmnesiaEventRepository
}

// NewAuditService 创建一个新的 AuditService。
func NewAuditService(repo repository.AmnesiaEventRepository) AuditService {
	return &auditService{repo: repo}
}

func (s *auditService) Process(ctx context.Context, event model.AmnesiaEvent) error {
	// 消费端可能重复投递，ID 由数据库生成
	event.ID = 0
	return s.repo.Create(ctx, &event)
}

func (s *auditService) Publish(ctx context.Context, event model.AmnesiaEvent) error {
	return s.Process(ctx, event)
}

func (s *auditService) ListEvents(ctx context.Context, sessionID string, limit int) ([]model.AmnesiaEvent, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}
	return s.repo.ListBySession(ctx, sessionID, limit)
}
