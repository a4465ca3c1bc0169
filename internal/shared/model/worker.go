package model

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// Worker 分析 Worker 需实现的协作接口
type Worker interface {
	Invoke(ctx context.Context, payload *Payload, params map[string]string) (*WorkerResult, error)
	Capabilities() []string
	PermissionTier() PermissionTier
}

// WorkerResult Worker 输出
type WorkerResult struct {
	// Output 原始输出，对编排核心不透明
	Output json.RawMessage `json:"output"`
	// Digest 可选的输出摘要，写入 Turn.ResponseSummary
	Digest string `json:"digest,omitempty"`
	// State 可选的工作流状态，存在时作为快照内容
	State []byte `json:"state,omitempty"`
}

// ConstructionArgs Worker 构造参数
type ConstructionArgs struct {
	RequestID  string
	SessionID  string
	Role       Role
	Intent     string
	Parameters map[string]string
}

// Constructor Worker 构造函数
type Constructor func(args ConstructionArgs) (Worker, error)

// WorkerDescriptor Worker 注册描述
type WorkerDescriptor struct {
	TypeName     string         `json:"type_name"`
	Capabilities []string       `json:"capabilities"`
	Categories   []string       `json:"categories,omitempty"` // 可服务的意图类别（用于模糊匹配）
	Tier         PermissionTier `json:"permission_tier"`
	Priority     int            `json:"priority"`
	Constructor  Constructor    `json:"-"`
}

// Validate 校验描述完整性
func (d WorkerDescriptor) Validate() error {
	if strings.TrimSpace(d.TypeName) == "" {
		return errors.New("worker type name is required")
	}
	if len(d.Capabilities) == 0 {
		return errors.New("worker must declare at least one capability")
	}
	if !d.Tier.Valid() {
		return errors.New("worker permission tier is invalid")
	}
	if d.Constructor == nil {
		return errors.New("worker constructor is required")
	}
	return nil
}

// HasCapability 是否声明了指定能力
func (d WorkerDescriptor) HasCapability(capability string) bool {
	for _, c := range d.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// ServesCategory 是否服务指定意图类别
func (d WorkerDescriptor) ServesCategory(category string) bool {
	for _, c := range d.Categories {
		if c == category {
			return true
		}
	}
	return false
}
