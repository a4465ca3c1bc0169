package router

import (
	"strings"

	"analytics-orchestrator/internal/shared/keyword"
	"analytics-orchestrator/internal/shared/model"
)

// Classify 推断意图类别
//
// declared_intent 优先；否则按类别顺序做关键词匹配，第一个命中的类别胜出；
// 都不命中时归入 general，分类本身从不失败。
func (r *Router) Classify(req *model.Request) string {
	return classify(&r.cfg, req)
}

func classify(cfg *Config, req *model.Request) string {
	if declared := strings.ToLower(strings.TrimSpace(req.DeclaredIntent)); declared != "" {
		return declared
	}
	text := keyword.Parse(req.RawText)
	for _, cat := range cfg.Categories {
		for _, kw := range cat.Keywords {
			if text.Has(kw) {
				return cat.Name
			}
		}
	}
	return model.DefaultCategory
}

// resolveQuery 选择 Registry 查询：显式 capability 参数 > 类别默认能力 > 类别名
func resolveQuery(cfg *Config, req *model.Request, intent string) string {
	if c := req.Param(model.ParamCapability); c != "" {
		return c
	}
	if cat, ok := cfg.category(intent); ok && cat.Capability != "" {
		return cat.Capability
	}
	return intent
}
