package contextmgr

import (
	"sort"

	"analytics-orchestrator/internal/shared/model"
)

// filterTurns 按角色相关性过滤，只删除不重排
func filterTurns(turns []model.Turn, rc RoleConfig) []model.Turn {
	var out []model.Turn
	if len(rc.Categories) == 0 {
		out = append(out, turns...)
	} else {
		allowed := make(map[string]bool, len(rc.Categories))
		for _, c := range rc.Categories {
			allowed[c] = true
		}
		for _, t := range turns {
			if allowed[t.Category] {
				out = append(out, t)
			}
		}
	}
	if rc.RecentWindow > 0 && len(out) > rc.RecentWindow {
		out = out[len(out)-rc.RecentWindow:]
	}
	return out
}

// applySummaries 用已持久化的摘要替换其覆盖的 Turn
//
// 摘要之间互不重叠；最近一个 Turn 永远不会被替换。
func applySummaries(turns []model.Turn, summaries []model.Summary) []model.Entry {
	entries := make([]model.Entry, 0, len(turns))
	if len(turns) == 0 {
		return entries
	}
	latest := turns[len(turns)-1].TurnID

	sorted := append([]model.Summary(nil), summaries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartTurn < sorted[j].StartTurn })

	used := make(map[int]bool)
	for _, t := range turns {
		idx := -1
		for i, s := range sorted {
			if s.Covers(t.TurnID) && !s.Covers(latest) {
				idx = i
				break
			}
		}
		if idx < 0 {
			entries = append(entries, model.TurnEntry(t))
			continue
		}
		if !used[idx] {
			used[idx] = true
			entries = append(entries, model.SummaryEntry(sorted[idx]))
		}
	}
	return entries
}

// mergeSummaries 新摘要取代与之重叠的旧摘要
func mergeSummaries(existing, created []model.Summary) []model.Summary {
	out := make([]model.Summary, 0, len(existing)+len(created))
	for _, old := range existing {
		overlapped := false
		for _, s := range created {
			if old.StartTurn <= s.EndTurn && s.StartTurn <= old.EndTurn {
				overlapped = true
				break
			}
		}
		if !overlapped {
			out = append(out, old)
		}
	}
	out = append(out, created...)
	sort.Slice(out, func(i, j int) bool { return out[i].StartTurn < out[j].StartTurn })
	return out
}
