package contextmgr

import (
	"fmt"
	"time"

	"analytics-orchestrator/internal/shared/model"
)

// RoleConfig 单个角色的推断信号与相关性规则
type RoleConfig struct {
	// Keywords 关键词 → 权重；文本包含该词（按词边界）即计入权重
	Keywords map[string]int `yaml:"keywords"`

	// Categories 该角色关心的 Turn 类别，为空表示全部
	Categories []string `yaml:"categories"`

	// RecentWindow 只保留最近 N 个匹配的 Turn，0 表示不限制
	RecentWindow int `yaml:"recent_window"`
}

// Config 上下文管理器配置
type Config struct {
	// DefaultRole 所有角色得分为零时使用
	DefaultRole model.Role `yaml:"default_role"`

	// HintWeight 有效 role_hint 的附加分
	HintWeight int `yaml:"hint_weight"`

	// Roles 各角色配置
	Roles map[model.Role]RoleConfig `yaml:"roles"`

	// DefaultBudget 调用方未给出预算时的载荷大小上限（字节）
	DefaultBudget int `yaml:"default_budget"`

	// MaxEntries 载荷视图最多条目数，超过时合并最早的一段，0 表示不限制
	MaxEntries int `yaml:"max_entries"`

	// ReductionRatio 摘要相对原文的目标压缩比例 [0, 1)
	ReductionRatio float64 `yaml:"reduction_ratio"`

	// MinSummaryChars / MaxSummaryChars 单个摘要的长度范围
	MinSummaryChars int `yaml:"min_summary_chars"`
	MaxSummaryChars int `yaml:"max_summary_chars"`

	// CacheSize 载荷缓存容量
	CacheSize int `yaml:"cache_size"`

	// MaxSessions 进程内跟踪的会话状态上限，超出时淘汰最久未访问的会话
	MaxSessions int `yaml:"max_sessions"`

	// BuildTimeout 单次共享构建的时限；构建不随任何单个调用方取消
	BuildTimeout time.Duration `yaml:"build_timeout"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		DefaultRole:     model.RoleAnalyst,
		HintWeight:      10,
		Roles:           defaultRoles(),
		DefaultBudget:   4000,
		MaxEntries:      40,
		ReductionRatio:  0.4,
		MinSummaryChars: 64,
		MaxSummaryChars: 1200,
		CacheSize:       4096,
		MaxSessions:     10000,
		BuildTimeout:    30 * time.Second,
	}
}

func defaultRoles() map[model.Role]RoleConfig {
	return map[model.Role]RoleConfig{
		model.RoleOperator: {
			Keywords: map[string]int{
				"deploy": 3, "restart": 3, "execute": 2, "run": 2, "schedule": 2,
				"retrain": 3, "refresh": 2, "pipeline": 2, "job": 2, "status": 1,
			},
			Categories:   []string{"operations", "general"},
			RecentWindow: 10,
		},
		model.RoleAnalyst: {
			Keywords: map[string]int{
				"compare": 2, "trend": 2, "statistics": 2, "stats": 2, "analyze": 2,
				"analysis": 2, "predict": 2, "prediction": 2, "odds": 2, "probability": 2,
				"performance": 1, "metrics": 1, "report": 1,
			},
		},
		model.RoleLearner: {
			Keywords: map[string]int{
				"explain": 3, "what is": 2, "how does": 2, "why": 1, "learn": 2,
				"understand": 2, "meaning": 2, "beginner": 3, "teach": 3,
			},
			Categories: []string{"explanation", "analysis", "report", "general"},
		},
	}
}

// Validate 验证配置并填充默认值
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.DefaultRole == "" {
		c.DefaultRole = def.DefaultRole
	}
	if !c.DefaultRole.Valid() {
		return fmt.Errorf("context.default_role %q is not a known role", c.DefaultRole)
	}
	if c.HintWeight == 0 {
		c.HintWeight = def.HintWeight
	}
	if len(c.Roles) == 0 {
		c.Roles = def.Roles
	}
	for role := range c.Roles {
		if !role.Valid() {
			return fmt.Errorf("context.roles: unknown role %q", role)
		}
	}
	if c.DefaultBudget <= 0 {
		c.DefaultBudget = def.DefaultBudget
	}
	if c.ReductionRatio == 0 {
		c.ReductionRatio = def.ReductionRatio
	}
	if c.ReductionRatio < 0 || c.ReductionRatio >= 1 {
		return fmt.Errorf("context.reduction_ratio must be in [0, 1)")
	}
	if c.MinSummaryChars <= 0 {
		c.MinSummaryChars = def.MinSummaryChars
	}
	if c.MaxSummaryChars <= 0 {
		c.MaxSummaryChars = def.MaxSummaryChars
	}
	if c.MaxSummaryChars < c.MinSummaryChars {
		return fmt.Errorf("context.max_summary_chars must be >= min_summary_chars")
	}
	if c.MaxEntries < 0 {
		return fmt.Errorf("context.max_entries must be >= 0")
	}
	if c.MaxEntries == 1 {
		return fmt.Errorf("context.max_entries must leave room for a summary and the latest turn")
	}
	if c.CacheSize <= 0 {
		c.CacheSize = def.CacheSize
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = def.MaxSessions
	}
	if c.BuildTimeout <= 0 {
		c.BuildTimeout = def.BuildTimeout
	}
	return nil
}
