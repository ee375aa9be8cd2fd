package model

import "time"

// AmnesiaEventType 描述遗忘记录生命周期中的一次变化。
type AmnesiaEventType string

const (
	EventForgotten   AmnesiaEventType = "forgotten"
	EventRestored    AmnesiaEventType = "restored"
	EventInvalidated AmnesiaEventType = "invalidated"
	EventExpired     AmnesiaEventType = "expired"
)

// AmnesiaEvent 既是发往 Kafka 的消息体，也是 MySQL 审计表的一行。
type AmnesiaEvent struct {
	ID             uint             `gorm:"primaryKey" json:"id"`
	Type           AmnesiaEventType `gorm:"type:varchar(32);not null" json:"type"`
	SessionID      string           `gorm:"type:varchar(255);index;not null" json:"sessionId"`
	UserID         string           `gorm:"type:varchar(255);index;not null" json:"userId"`
	ConversationID string           `gorm:"type:varchar(255)" json:"conversationId"`
	Rounds         int              `json:"rounds"`
	MessageCount   int              `json:"messageCount"`
	OccurredAt     time.Time        `gorm:"index" json:"occurredAt"`
	CreatedAt      time.Time        `gorm:"autoCreateTime" json:"createdAt"`
}

func (AmnesiaEvent) TableName() string {
	return "amnesia_events"
}
