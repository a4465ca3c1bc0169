package cache

import (
	"sync"

	"analytics-orchestrator/internal/shared/model"
)

// DefaultCapacity 默认最多缓存的载荷数
const DefaultCapacity = 4096

// MemoryCache 进程内载荷缓存
//
// 按会话建立二级索引，失效时只触及该会话的条目。容量满时淘汰最早写入的会话。
type MemoryCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[Key]*model.Payload
	sessions map[string]map[Key]struct{}
	order    []string // 会话首次写入顺序
}

// NewMemoryCache 创建进程内缓存
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryCache{
		capacity: capacity,
		entries:  make(map[Key]*model.Payload),
		sessions: make(map[string]map[Key]struct{}),
	}
}

// Get 获取缓存
func (c *MemoryCache) Get(key Key) (*model.Payload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.entries[key]
	return p, ok
}

// Set 写入缓存
func (c *MemoryCache) Set(key Key, payload *model.Payload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.entries) >= c.capacity && len(c.order) > 0 {
		c.dropSession(c.order[0])
	}
	keys, ok := c.sessions[key.SessionID]
	if !ok {
		keys = make(map[Key]struct{})
		c.sessions[key.SessionID] = keys
		c.order = append(c.order, key.SessionID)
	}
	keys[key] = struct{}{}
	c.entries[key] = payload
}

// InvalidateSession 删除会话的全部缓存，返回删除数量
func (c *MemoryCache) InvalidateSession(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropSession(sessionID)
}

// Len 当前条目数
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryCache) dropSession(sessionID string) int {
	keys, ok := c.sessions[sessionID]
	if !ok {
		return 0
	}
	for k := range keys {
		delete(c.entries, k)
	}
	delete(c.sessions, sessionID)
	for i, id := range c.order {
		if id == sessionID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return len(keys)
}

var _ PayloadCache = (*MemoryCache)(nil)
