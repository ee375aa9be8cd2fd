package amnesia

import (
	"sync"
	"time"

	"llm-amnesia-go/internal/model"
)

// Key 标识一条可反悔记录的归属：同一会话中的同一用户。
type Key struct {
	SessionID string
	UserID    string
}

// PendingDeletion 保存一次遗忘操作删掉的消息，供反悔时恢复。
type PendingDeletion struct {
	RemovedMessages []model.ChatMessage
	ConversationID  string
	CreatedAt       time.Time
	RoundCount      int
}

// clone 返回一份不与缓存共享底层数组的副本。
func (p PendingDeletion) clone() PendingDeletion {
	msgs := make([]model.ChatMessage, len(p.RemovedMessages))
	copy(msgs, p.RemovedMessages)
	p.RemovedMessages = msgs
	return p
}

// Expired 是 SweepExpired 清理掉的一条记录。
type Expired struct {
	Key    Key
	Record PendingDeletion
}

// UndoCache 为每个 (session, user) 保存至多一条 PendingDeletion。
// 所有操作共用一把互斥锁；锁只保护内存中的 map，调用方不应在持锁期间做外部 I/O。
type UndoCache struct {
	mu       sync.Mutex
	sessions map[string]map[string]PendingDeletion
}

// NewUndoCache 创建一个空的缓存。
func NewUndoCache() *UndoCache {
	return &UndoCache{sessions: make(map[string]map[string]PendingDeletion)}
}

// getOrCreate 返回会话下的用户分组，不存在时创建。调用方必须持有锁。
func (c *UndoCache) getOrCreate(sessionID string) map[string]PendingDeletion {
	users, ok := c.sessions[sessionID]
	if !ok {
		users = make(map[string]PendingDeletion)
		c.sessions[sessionID] = users
	}
	return users
}

// remove 删除一条记录并在分组为空时一并删除分组。调用方必须持有锁。
func (c *UndoCache) remove(key Key) (PendingDeletion, bool) {
	users, ok := c.sessions[key.SessionID]
	if !ok {
		return PendingDeletion{}, false
	}
	record, ok := users[key.UserID]
	if !ok {
		return PendingDeletion{}, false
	}
	delete(users, key.UserID)
	if len(users) == 0 {
		delete(c.sessions, key.SessionID)
	}
	return record, true
}

// Put 无条件覆盖 key 下已有的记录。
func (c *UndoCache) Put(key Key, record PendingDeletion) {
	record = record.clone()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getOrCreate(key.SessionID)[key.UserID] = record
}

// PutIfAbsent 仅在 key 下没有记录时写入，返回是否写入成功。
// 用于恢复失败后把取出的记录放回去，而不覆盖期间产生的更新记录。
func (c *UndoCache) PutIfAbsent(key Key, record PendingDeletion) bool {
	record = record.clone()
	c.mu.Lock()
	defer c.mu.Unlock()
	users := c.getOrCreate(key.SessionID)
	if _, exists := users[key.UserID]; exists {
		return false
	}
	users[key.UserID] = record
	return true
}

// Take 原子地取出并删除记录。
func (c *UndoCache) Take(key Key) (PendingDeletion, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remove(key)
}

// Peek 返回记录的副本但不删除。
func (c *UndoCache) Peek(key Key) (PendingDeletion, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	record, ok := c.sessions[key.SessionID][key.UserID]
	if !ok {
		return PendingDeletion{}, false
	}
	return record.clone(), true
}

// Invalidate 删除记录（若存在），返回是否确实删除了记录。
func (c *UndoCache) Invalidate(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.remove(key)
	return ok
}

// RemoveIf 仅当 key 下的记录仍是 createdAt 时刻写入的那条时删除它。
// 用于回滚自己写入的记录，而不误删期间被覆盖的更新记录。
func (c *UndoCache) RemoveIf(key Key, createdAt time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	record, ok := c.sessions[key.SessionID][key.UserID]
	if !ok || !record.CreatedAt.Equal(createdAt) {
		return false
	}
	c.remove(key)
	return true
}

// SweepExpired 删除所有 now.Sub(CreatedAt) > maxAge 的记录，并清理空的会话分组。
// CreatedAt 晚于 now 的记录（在快照之后写入）永远不会被删除。
func (c *UndoCache) SweepExpired(now time.Time, maxAge time.Duration) []Expired {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []Expired
	for sessionID, users := range c.sessions {
		for userID, record := range users {
			if now.Sub(record.CreatedAt) > maxAge {
				delete(users, userID)
				expired = append(expired, Expired{
					Key:    Key{SessionID: sessionID, UserID: userID},
					Record: record,
				})
			}
		}
		if len(users) == 0 {
			delete(c.sessions, sessionID)
		}
	}
	return expired
}

// Len 返回当前保存的记录总数。
func (c *UndoCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, users := range c.sessions {
		n += len(users)
	}
	return n
}

// sessionCount 返回会话分组数，仅用于测试空分组是否被清理。
func (c *UndoCache) sessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}
