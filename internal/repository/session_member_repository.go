package repository

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// SessionMemberRepository 维护共享会话的成员集合 session:<id>:members。
type SessionMemberRepository interface {
	IsMember(ctx context.Context, sessionID, userID string) (bool, error)
	// Join 在会话尚无成员时把 userID 登记为第一个成员，返回 userID 是否为成员。
	Join(ctx context.Context, sessionID, userID string) (bool, error)
	AddMember(ctx context.Context, sessionID, userID string) error
}

// 检查成员身份与“空会话由第一个用户创建”必须在一次原子操作中完成。
var joinScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 1 then
	return 1
end
if redis.call('SCARD', KEYS[1]) == 0 then
	redis.call('SADD', KEYS[1], ARGV[1])
	return 1
end
return 0
`)

type redisSessionMemberRepository struct {
	redisClient *redis.Client
}

// NewSessionMemberRepository 创建一个新的 SessionMemberRepository 实例。
func NewSessionMemberRepository(redisClient *redis.Client) SessionMemberRepository {
	return &redisSessionMemberRepository{redisClient: redisClient}
}

func sessionMembersKey(sessionID string) string {
	return fmt.Sprintf("session:%s:members", sessionID)
}

func (r *redisSessionMemberRepository) IsMember(ctx context.Context, sessionID, userID string) (bool, error) {
	ok, err := r.redisClient.SIsMember(ctx, sessionMembersKey(sessionID), userID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check session membership: %w", err)
	}
	return ok, nil
}

func (r *redisSessionMemberRepository) Join(ctx context.Context, sessionID, userID string) (bool, error) {
	n, err := joinScript.Run(ctx, r.redisClient, []string{sessionMembersKey(sessionID)}, userID).Int()
	if err != nil {
		return false, fmt.Errorf("failed to join session: %w", err)
	}
	return n == 1, nil
}

func (r *redisSessionMemberRepository) AddMember(ctx context.Context, sessionID, userID string) error {
	if err := r.redisClient.SAdd(ctx, sessionMembersKey(sessionID), userID).Err(); err != nil {
		return fmt.Errorf("failed to add session member: %w", err)
	}
	return nil
}
