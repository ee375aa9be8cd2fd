package service

import (
	"context"
	"errors"
	"strings"

	"llm-amnesia-go/internal/repository"
)

// PrivateSessionPrefix 是私聊会话ID的前缀，后接所属用户的ID。
const PrivateSessionPrefix = "private:"

// ErrPrivateSession 表示试图为私聊会话添加成员。
var ErrPrivateSession = errors.New("private sessions cannot have members")

// SessionAccessService 判断用户能否访问某个会话。
// 私聊会话 "private:<userId>" 只属于该用户；其他会话按成员集合判断。
type SessionAccessService interface {
	// CanAccess 用于 REST 接口，只认已有成员。
	CanAccess(ctx context.Context, sessionID, userID string) (bool, error)
	// Enter 用于聊天连接，尚无成员的共享会话由第一个进入的用户创建。
	Enter(ctx context.Context, sessionID, userID string) (bool, error)
	AddMember(ctx context.Context, sessionID, userID string) error
}

type sessionAccessService struct {
	members repository.SessionMemberRepository
}

// NewSessionAccessService 创建一个新的 SessionAccessService。
func NewSessionAccessService(members repository.SessionMemberRepository) SessionAccessService {
	return &sessionAccessService{members: members}
}

// PrivateSessionID 返回用户的私聊会话ID。
func PrivateSessionID(userID string) string {
	return PrivateSessionPrefix + userID
}

func (s *sessionAccessService) CanAccess(ctx context.Context, sessionID, userID string) (bool, error) {
	return s.check(ctx, sessionID, userID, s.members.IsMember)
}

func (s *sessionAccessService) Enter(ctx context.Context, sessionID, userID string) (bool, error) {
	return s.check(ctx, sessionID, userID, s.members.Join)
}

func (s *sessionAccessService) check(ctx context.Context, sessionID, userID string, member func(context.Context, string, string) (bool, error)) (bool, error) {
	if sessionID == "" || userID == "" {
		return false, nil
	}
	if owner, ok := strings.CutPrefix(sessionID, PrivateSessionPrefix); ok {
		return owner == userID, nil
	}
	return member(ctx, sessionID, userID)
}

func (s *sessionAccessService) AddMember(ctx context.Context, sessionID, userID string) error {
	if strings.HasPrefix(sessionID, PrivateSessionPrefix) {
		return ErrPrivateSession
	}
	return s.members.AddMember(ctx, sessionID, userID)
}
