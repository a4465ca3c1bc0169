// Package model 定义编排核心的数据模型
//
// tier.go 权限等级：
//   - ReadOnly < ReadExecute < ReadExecuteWrite < Administrative
//   - 调用方只能调用等级不高于自身授权等级的 Worker
package model

import (
	"fmt"
	"strings"
)

// PermissionTier 权限等级（有序枚举）
type PermissionTier int

const (
	TierReadOnly PermissionTier = iota
	TierReadExecute
	TierReadExecuteWrite
	TierAdministrative
)

var tierNames = map[PermissionTier]string{
	TierReadOnly:         "read-only",
	TierReadExecute:      "read-execute",
	TierReadExecuteWrite: "read-execute-write",
	TierAdministrative:   "administrative",
}

// AllTiers 按从低到高返回所有权限等级
func AllTiers() []PermissionTier {
	return []PermissionTier{TierReadOnly, TierReadExecute, TierReadExecuteWrite, TierAdministrative}
}

// String 返回等级名称
func (t PermissionTier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Valid 是否为已知等级
func (t PermissionTier) Valid() bool {
	_, ok := tierNames[t]
	return ok
}

// Allows 当前等级是否足以调用 required 等级的 Worker
func (t PermissionTier) Allows(required PermissionTier) bool {
	return t >= required
}

// ParseTier 解析等级名称，接受 read-only / read_only / readonly 等写法
func ParseTier(s string) (PermissionTier, error) {
	norm := strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(s)))
	switch norm {
	case "readonly", "ro":
		return TierReadOnly, nil
	case "readexecute", "rx":
		return TierReadExecute, nil
	case "readexecutewrite", "rwx":
		return TierReadExecuteWrite, nil
	case "administrative", "admin":
		return TierAdministrative, nil
	}
	return TierReadOnly, fmt.Errorf("unknown permission tier %q", s)
}

// MarshalText 实现 encoding.TextMarshaler
func (t PermissionTier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid permission tier %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (t *PermissionTier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
