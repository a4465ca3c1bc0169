package model

import (
	"encoding/json"
	"strings"
)

// 约定的请求参数键
const (
	ParamSessionID    = "session_id"
	ParamWorkflowID   = "workflow_id"
	ParamWorkflowStep = "workflow_step"
	ParamCapability   = "capability"
)

// DefaultCategory 无法分类时的默认意图类别
const DefaultCategory = "general"

// Request 客户端提交的分析请求（提交后不可变）
type Request struct {
	RequestID      string            `json:"request_id"`
	UserID         string            `json:"user_id"`
	RawText        string            `json:"raw_text"`
	DeclaredIntent string            `json:"declared_intent,omitempty"`
	Parameters     map[string]string `json:"parameters,omitempty"`
	RoleHint       string            `json:"role_hint,omitempty"`

	// CallerTier 由外围应用（认证层）赋予的授权等级
	CallerTier PermissionTier `json:"caller_tier"`
}

// Param 读取参数，缺失返回空串
func (r *Request) Param(key string) string {
	if r.Parameters == nil {
		return ""
	}
	return strings.TrimSpace(r.Parameters[key])
}

// SessionID 会话标识：显式 session_id 参数优先，否则每个用户一个默认会话
func (r *Request) SessionID() string {
	if id := r.Param(ParamSessionID); id != "" {
		return id
	}
	return "user:" + r.UserID
}

// Status 响应状态
type Status string

const (
	StatusSuccess  Status = "success"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// Response 编排结果
type Response struct {
	RequestID string          `json:"request_id"`
	Status    Status          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Metadata  RoutingMetadata `json:"routing_metadata"`
	Error     *ErrorBody      `json:"error,omitempty"`
}

// RoutingMetadata 路由元数据
type RoutingMetadata struct {
	Intent          string   `json:"intent"`
	Role            Role     `json:"role"`
	WorkerUsed      string   `json:"worker_used,omitempty"`
	DegradedMode    bool     `json:"degraded_mode"`
	Warnings        []string `json:"warnings"`
	ExecutionTimeMS int64    `json:"execution_time_ms"`
	SessionID       string   `json:"session_id,omitempty"`
	SnapshotID      string   `json:"snapshot_id,omitempty"`
	Attempts        int      `json:"attempts,omitempty"`
}

// AddWarning 追加警告
func (m *RoutingMetadata) AddWarning(w string) {
	m.Warnings = append(m.Warnings, w)
}
