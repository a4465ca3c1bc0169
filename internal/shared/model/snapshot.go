package model

import "time"

// 快照元数据中的保留键
const (
	MetaRolledBackFrom = "rolled_back_from"
)

// WorkflowSnapshot 工作流状态快照（写入后不可变）
//
// Version 在同一 workflow_id 内单调递增；回滚创建新版本而不是修改旧版本。
// 大体积状态存放在对象存储中，记录只保留 BlobRef。
type WorkflowSnapshot struct {
	SnapshotID string            `json:"snapshot_id"`
	WorkflowID string            `json:"workflow_id"`
	Version    int64             `json:"version"`
	StateBlob  []byte            `json:"state_blob,omitempty"`
	BlobRef    string            `json:"blob_ref,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// SnapshotVersion 版本列表项（不含状态内容）
type SnapshotVersion struct {
	Version    int64             `json:"version"`
	SnapshotID string            `json:"snapshot_id"`
	Size       int               `json:"size"`
	Offloaded  bool              `json:"offloaded,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
