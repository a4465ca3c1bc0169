package router

import (
	"fmt"
	"strings"
	"time"

	"analytics-orchestrator/internal/shared/model"
)

// Category 意图类别：按配置顺序决定优先级
type Category struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	// Capability 该类别默认查询的能力，空表示直接以类别名查询
	Capability string `yaml:"capability"`
}

// Config 路由器配置
type Config struct {
	// MaxConcurrent 同时处理的 Submit 上限
	MaxConcurrent int64 `yaml:"max_concurrent"`
	// ContextTimeout 载荷构建超时，超时后以空载荷降级继续
	ContextTimeout time.Duration `yaml:"context_timeout"`
	// RequestTimeout 单次 Submit 的总时限（调用方 ctx 更短时以其为准）
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// SizeBudget 载荷预算（字节），0 表示使用上下文管理器的默认值
	SizeBudget int `yaml:"size_budget"`
	// DigestLimit 写入 Turn 的输出摘要长度上限
	DigestLimit int `yaml:"digest_limit"`
	// Categories 意图类别，靠前的优先
	Categories []Category `yaml:"categories"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrent:  64,
		ContextTimeout: 2 * time.Second,
		RequestTimeout: 60 * time.Second,
		DigestLimit:    280,
		Categories:     defaultCategories(),
	}
}

func defaultCategories() []Category {
	return []Category{
		{Name: "operations", Keywords: []string{"deploy", "restart", "retrain", "schedule", "pipeline", "job", "refresh"}, Capability: "operations"},
		{Name: "prediction", Keywords: []string{"predict", "prediction", "forecast", "odds", "probability", "who will win", "likely"}, Capability: "predict"},
		{Name: "report", Keywords: []string{"report", "summary", "summarize", "digest"}, Capability: "report"},
		{Name: "analysis", Keywords: []string{"compare", "comparison", "trend", "statistics", "stats", "analyze", "analysis", "performance", "metrics"}, Capability: "analyze"},
		{Name: "explanation", Keywords: []string{"explain", "what is", "how does", "why", "meaning", "teach"}, Capability: "explain"},
	}
}

// Validate 校验并填充默认值
func (c *Config) Validate() error {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 64
	}
	if c.ContextTimeout <= 0 {
		c.ContextTimeout = 2 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if c.SizeBudget < 0 {
		return fmt.Errorf("router.size_budget must not be negative, got %d", c.SizeBudget)
	}
	if c.DigestLimit <= 0 {
		c.DigestLimit = 280
	}
	if c.Categories == nil {
		c.Categories = defaultCategories()
	}
	seen := make(map[string]bool, len(c.Categories))
	for i := range c.Categories {
		cat := &c.Categories[i]
		cat.Name = strings.ToLower(strings.TrimSpace(cat.Name))
		if cat.Name == "" {
			return fmt.Errorf("router.categories[%d]: name is required", i)
		}
		if cat.Name == model.DefaultCategory {
			return fmt.Errorf("router.categories[%d]: %q is reserved for unclassified requests", i, cat.Name)
		}
		if seen[cat.Name] {
			return fmt.Errorf("router.categories[%d]: duplicate category %q", i, cat.Name)
		}
		seen[cat.Name] = true
	}
	return nil
}

// category 按名称查找类别
func (c *Config) category(name string) (Category, bool) {
	for _, cat := range c.Categories {
		if cat.Name == name {
			return cat, true
		}
	}
	return Category{}, false
}
