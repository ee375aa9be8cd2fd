package amnesia

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-amnesia-go/internal/model"
)

func record(createdAt time.Time) PendingDeletion {
	return PendingDeletion{
		RemovedMessages: turns(1),
		ConversationID:  "conv-1",
		CreatedAt:       createdAt,
		RoundCount:      1,
	}
}

func TestUndoCache_PutTake(t *testing.T) {
	c := NewUndoCache()
	key := Key{SessionID: "s1", UserID: "u1"}
	want := record(time.Now())

	c.Put(key, want)
	got, ok := c.Take(key)

	require.True(t, ok)
	assert.Equal(t, want, got)

	_, ok = c.Take(key)
	assert.False(t, ok)
	assert.Equal(t, 0, c.sessionCount())
}

func TestUndoCache_PutOverwrites(t *testing.T) {
	c := NewUndoCache()
	key := Key{SessionID: "s1", UserID: "u1"}
	first := record(time.Now())
	second := record(time.Now())
	second.ConversationID = "conv-2"
	second.RoundCount = 3

	c.Put(key, first)
	c.Put(key, second)

	got, ok := c.Take(key)
	require.True(t, ok)
	assert.Equal(t, second, got)
	assert.Equal(t, 0, c.Len())
}

func TestUndoCache_Peek(t *testing.T) {
	c := NewUndoCache()
	key := Key{SessionID: "s1", UserID: "u1"}

	_, ok := c.Peek(key)
	assert.False(t, ok)

	c.Put(key, record(time.Now()))
	got, ok := c.Peek(key)
	require.True(t, ok)

	// 修改副本不应影响缓存中的记录
	got.RemovedMessages[0].Content = "mutated"
	again, ok := c.Peek(key)
	require.True(t, ok)
	assert.Equal(t, "q1", again.RemovedMessages[0].Content)
	assert.Equal(t, 1, c.Len())
}

func TestUndoCache_PutCopiesInput(t *testing.T) {
	c := NewUndoCache()
	key := Key{SessionID: "s1", UserID: "u1"}
	r := record(time.Now())

	c.Put(key, r)
	r.RemovedMessages[0] = model.ChatMessage{Role: model.RoleSystem}

	got, _ := c.Take(key)
	assert.Equal(t, model.RoleUser, got.RemovedMessages[0].Role)
}

func TestUndoCache_InvalidateIdempotent(t *testing.T) {
	c := NewUndoCache()
	key := Key{SessionID: "s1", UserID: "u1"}

	assert.False(t, c.Invalidate(key))
	assert.False(t, c.Invalidate(key))

	c.Put(key, record(time.Now()))
	assert.True(t, c.Invalidate(key))
	assert.False(t, c.Invalidate(key))
	assert.Equal(t, 0, c.sessionCount())
}

func TestUndoCache_InvalidateKeepsOtherUsers(t *testing.T) {
	c := NewUndoCache()
	a := Key{SessionID: "s1", UserID: "a"}
	b := Key{SessionID: "s1", UserID: "b"}
	c.Put(a, record(time.Now()))
	c.Put(b, record(time.Now()))

	c.Invalidate(a)

	_, ok := c.Peek(b)
	assert.True(t, ok)
	assert.Equal(t, 1, c.sessionCount())
}

func TestUndoCache_PutIfAbsent(t *testing.T) {
	c := NewUndoCache()
	key := Key{SessionID: "s1", UserID: "u1"}
	first := record(time.Now())
	second := record(time.Now())
	second.RoundCount = 2

	assert.True(t, c.PutIfAbsent(key, first))
	assert.False(t, c.PutIfAbsent(key, second))

	got, _ := c.Take(key)
	assert.Equal(t, 1, got.RoundCount)
}

func TestUndoCache_RemoveIfOnlyRemovesMatchingRecord(t *testing.T) {
	c := NewUndoCache()
	key := Key{SessionID: "s1", UserID: "u1"}
	older := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	newer := older.Add(time.Second)
	c.Put(key, record(newer))

	assert.False(t, c.RemoveIf(key, older))
	_, ok := c.Peek(key)
	assert.True(t, ok)

	assert.True(t, c.RemoveIf(key, newer))
	assert.Equal(t, 0, c.sessionCount())
	assert.False(t, c.RemoveIf(key, newer))
}

func TestUndoCache_SweepExpiredBoundary(t *testing.T) {
	c := NewUndoCache()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	old := Key{SessionID: "s1", UserID: "old"}
	fresh := Key{SessionID: "s1", UserID: "fresh"}
	lonely := Key{SessionID: "s2", UserID: "old"}

	c.Put(old, record(now.Add(-30*time.Minute-time.Second)))
	c.Put(fresh, record(now.Add(-29*time.Minute-59*time.Second)))
	c.Put(lonely, record(now.Add(-time.Hour)))

	expired := c.SweepExpired(now, 30*time.Minute)

	assert.Len(t, expired, 2)
	_, ok := c.Peek(old)
	assert.False(t, ok)
	_, ok = c.Peek(fresh)
	assert.True(t, ok)
	// s2 分组已空，应被清理
	assert.Equal(t, 1, c.sessionCount())
}

func TestUndoCache_SweepKeepsRecordsNewerThanSnapshot(t *testing.T) {
	c := NewUndoCache()
	now := time.Now()
	key := Key{SessionID: "s1", UserID: "u1"}
	c.Put(key, record(now.Add(time.Minute)))

	expired := c.SweepExpired(now, 0)

	assert.Empty(t, expired)
	assert.Equal(t, 1, c.Len())
}

func TestUndoCache_ConcurrentDistinctKeys(t *testing.T) {
	c := NewUndoCache()
	const n = 64

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := Key{SessionID: fmt.Sprintf("s%d", i%8), UserID: fmt.Sprintf("u%d", i)}
			r := record(time.Now())
			r.RoundCount = i
			c.Put(key, r)
			_, _ = c.Peek(key)
		}(i)
	}
	wg.Wait()

	require.Equal(t, n, c.Len())
	for i := 0; i < n; i++ {
		got, ok := c.Take(Key{SessionID: fmt.Sprintf("s%d", i%8), UserID: fmt.Sprintf("u%d", i)})
		require.True(t, ok)
		assert.Equal(t, i, got.RoundCount)
	}
	assert.Equal(t, 0, c.sessionCount())
}
