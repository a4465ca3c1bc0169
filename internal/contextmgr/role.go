package contextmgr

import (
	"analytics-orchestrator/internal/shared/keyword"
	"analytics-orchestrator/internal/shared/model"
)

// InferRole 推断请求角色
//
// 每个角色按关键词权重计分，有效的 hint 额外加 HintWeight；取最高分，
// 平局按 Operator > Analyst > Learner，全部为零时返回默认角色。
func (m *Manager) InferRole(hint, text string) model.Role {
	return inferRole(&m.cfg, hint, text)
}

// RoleScores 各角色得分（调试与测试用）
func (m *Manager) RoleScores(hint, text string) map[model.Role]int {
	return roleScores(&m.cfg, hint, text)
}

func inferRole(cfg *Config, hint, text string) model.Role {
	scores := roleScores(cfg, hint, text)
	best, bestScore := cfg.DefaultRole, 0
	for _, role := range model.RolePriority {
		if s := scores[role]; s > bestScore {
			best, bestScore = role, s
		}
	}
	return best
}

func roleScores(cfg *Config, hint, text string) map[model.Role]int {
	parsed := keyword.Parse(text)
	scores := make(map[model.Role]int, len(model.RolePriority))
	for _, role := range model.RolePriority {
		for kw, weight := range cfg.Roles[role].Keywords {
			if parsed.Has(kw) {
				scores[role] += weight
			}
		}
	}
	if r, ok := model.ParseRole(hint); ok {
		scores[r] += cfg.HintWeight
	}
	return scores
}
