package storage

import (
	"net/url"
	"path"
)

// SessionKey 会话元数据
func SessionKey(sessionID string) string {
	return path.Join("sessions", url.PathEscape(sessionID))
}

// TurnsKey 会话 Turn 日志
func TurnsKey(sessionID string) string {
	return path.Join("sessions", url.PathEscape(sessionID), "turns")
}

// SummariesKey 会话在某角色视图下的摘要集合
func SummariesKey(sessionID, role string) string {
	return path.Join("sessions", url.PathEscape(sessionID), "summaries", url.PathEscape(role))
}

// SnapshotsKey 工作流快照日志
func SnapshotsKey(workflowID string) string {
	return path.Join("workflows", url.PathEscape(workflowID), "snapshots")
}
