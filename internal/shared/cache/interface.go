// Package cache 载荷缓存抽象接口
//
// 缓存 BuildPayload 的结果；会话追加 Turn 时按会话整体失效。
package cache

import (
	"fmt"

	"analytics-orchestrator/internal/shared/model"
)

// ============================================================================
// 缓存接口定义
// ============================================================================

// Key 载荷缓存键
type Key struct {
	SessionID string
	Role      model.Role
	TurnCount int
	Budget    int
}

func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%d|%d", k.SessionID, k.Role, k.TurnCount, k.Budget)
}

// PayloadCache 载荷缓存接口
//
// 实现必须并发安全；Get 返回的载荷由调用方只读使用。
type PayloadCache interface {
	Get(key Key) (*model.Payload, bool)
	Set(key Key, payload *model.Payload)
	InvalidateSession(sessionID string) int
	Len() int
}
