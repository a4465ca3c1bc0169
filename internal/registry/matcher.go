package registry

import (
	"strings"

	"analytics-orchestrator/internal/shared/model"
)

// 匹配层级基础分，Priority 只在同一层级内比较
const (
	ScoreExactCapability = 100
	ScoreCategory        = 50
	ScoreFuzzyCapability = 25
)

// Matcher 能力匹配器
//
// 匹配器组成匹配链，按顺序尝试，第一个命中的匹配器决定基础分。
type Matcher interface {
	// Name 返回匹配器名称（用于日志）
	Name() string

	// Match 判断描述是否满足查询，命中返回基础分
	Match(desc model.WorkerDescriptor, query string) (int, bool)
}

// MatcherChain 匹配链
type MatcherChain struct {
	matchers []Matcher
}

// NewMatcherChain 创建匹配链
func NewMatcherChain(matchers ...Matcher) *MatcherChain {
	return &MatcherChain{matchers: matchers}
}

// DefaultMatcherChain 精确能力 → 意图类别 → 模糊能力
func DefaultMatcherChain() *MatcherChain {
	return NewMatcherChain(ExactCapabilityMatcher{}, CategoryMatcher{}, FuzzyCapabilityMatcher{})
}

// Match 按链顺序匹配，返回基础分和命中的匹配器名
func (c *MatcherChain) Match(desc model.WorkerDescriptor, query string) (int, string, bool) {
	for _, m := range c.matchers {
		if score, ok := m.Match(desc, query); ok {
			return score, m.Name(), true
		}
	}
	return 0, "", false
}

// Matchers 返回当前匹配器列表（只读）
func (c *MatcherChain) Matchers() []Matcher {
	result := make([]Matcher, len(c.matchers))
	copy(result, c.matchers)
	return result
}

// ExactCapabilityMatcher 能力名完全一致
type ExactCapabilityMatcher struct{}

func (ExactCapabilityMatcher) Name() string { return "exact" }

func (ExactCapabilityMatcher) Match(desc model.WorkerDescriptor, query string) (int, bool) {
	return ScoreExactCapability, desc.HasCapability(query)
}

// CategoryMatcher 描述声明服务该意图类别
type CategoryMatcher struct{}

func (CategoryMatcher) Name() string { return "category" }

func (CategoryMatcher) Match(desc model.WorkerDescriptor, query string) (int, bool) {
	return ScoreCategory, desc.ServesCategory(query)
}

// FuzzyCapabilityMatcher 能力名包含查询词（如 "prediction" 命中 "generate-prediction"）
type FuzzyCapabilityMatcher struct{}

func (FuzzyCapabilityMatcher) Name() string { return "fuzzy" }

func (FuzzyCapabilityMatcher) Match(desc model.WorkerDescriptor, query string) (int, bool) {
	q := strings.ToLower(query)
	if q == "" {
		return 0, false
	}
	for _, c := range desc.Capabilities {
		if strings.Contains(strings.ToLower(c), q) {
			return ScoreFuzzyCapability, true
		}
	}
	return 0, false
}
