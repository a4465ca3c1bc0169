package model

import "strings"

// Role 请求角色（每次请求重新推断，不作为会话属性持久化）
type Role string

const (
	RoleOperator Role = "operator"
	RoleAnalyst  Role = "analyst"
	RoleLearner  Role = "learner"
)

// RolePriority 平局时的角色优先级（高→低）
var RolePriority = []Role{RoleOperator, RoleAnalyst, RoleLearner}

// Valid 是否为已知角色
func (r Role) Valid() bool {
	switch r {
	case RoleOperator, RoleAnalyst, RoleLearner:
		return true
	}
	return false
}

// ParseRole 解析角色名称，未知返回 false
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}
