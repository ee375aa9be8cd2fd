package model

import (
	"fmt"
	"strings"
	"time"
)

// LocalTime 以 "YYYY-MM-DD HH:MM:SS"（本地时区）格式序列化，供管理端展示。
type LocalTime time.Time

const timeFormat = "2006-01-02 15:04:05"

// MarshalJSON implements the json.Marshaler interface.
func (t LocalTime) MarshalJSON() ([]byte, error) {
	if time.Time(t).IsZero() {
		return []byte("null"), nil
	}
	return []byte(fmt.Sprintf("%q", time.Time(t).Local().Format(timeFormat))), nil
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (t *LocalTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*t = LocalTime{}
		return nil
	}
	parsed, err := time.ParseInLocation(timeFormat, s, time.Local)
	if err != nil {
		return err
	}
	*t = LocalTime(parsed)
	return nil
}

// AmnesiaEventView 是审计事件在管理端接口中的展示形式。
type AmnesiaEventView struct {
	ID             uint             `json:"id"`
	Type           AmnesiaEventType `json:"type"`
	SessionID      string           `json:"sessionId"`
	UserID         string           `json:"userId"`
	ConversationID string           `json:"conversationId"`
	Rounds         int              `json:"rounds"`
	MessageCount   int              `json:"messageCount"`
	OccurredAt     LocalTime        `json:"occurredAt"`
}

// View 转换为展示形式。
func (e AmnesiaEvent) View() AmnesiaEventView {
	return AmnesiaEventView{
		ID:             e.ID,
		Type:           e.Type,
		SessionID:      e.SessionID,
		UserID:         e.UserID,
		ConversationID: e.ConversationID,
		Rounds:         e.Rounds,
		MessageCount:   e.MessageCount,
		OccurredAt:     LocalTime(e.OccurredAt),
	}
}
