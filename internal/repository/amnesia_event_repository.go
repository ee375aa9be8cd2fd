package repository

import (
	"context"

	"gorm.io/gorm"

	"llm-amnesia-go/internal/model"
)

// AmnesiaEventRepository 定义了遗忘审计日志的持久化接口。
type AmnesiaEventRepository interface {
	Create(ctx context.Context, event *model.AmnesiaEvent) error
	ListBySession(ctx context.Context, sessionID string, limit int) ([]model.AmnesiaEvent, error)
}

type amnesiaEventRepository struct {
	db *gorm.DB
}

// NewAmnesiaEventRepository 创建一个新的 AmnesiaEventRepository 实例。
func NewAmnesiaEventRepository(db *gorm.DB) AmnesiaEventRepository {
	return &amnesiaEventRepository{db: db}
}

func (r *amnesiaEventRepository) Create(ctx context.Context, event *model.AmnesiaEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// ListBySession 按时间倒序返回某个会话的审计日志。
func (r *amnesiaEventRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]model.AmnesiaEvent, error) {
	var events []model.AmnesiaEvent
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
