// Package cache 缓存层 mock 实现
package cache

import "analytics-orchestrator/internal/shared/model"

// ============================================================================
// NoOpCache - 空操作的 PayloadCache 实现（用于测试和禁用缓存）
// ============================================================================

// NoOpCache 是一个不做任何操作的 PayloadCache 实现
type NoOpCache struct{}

// NewNoOpCache 创建 NoOpCache 实例
func NewNoOpCache() *NoOpCache {
	return &NoOpCache{}
}

func (NoOpCache) Get(Key) (*model.Payload, bool) { return nil, false }
func (NoOpCache) Set(Key, *model.Payload)        {}
func (NoOpCache) InvalidateSession(string) int   { return 0 }
func (NoOpCache) Len() int                       { return 0 }

// 确保 NoOpCache 实现了 PayloadCache 接口
var _ PayloadCache = (*NoOpCache)(nil)
