// Package summarizer 会话摘要生成
//
// 两种实现：
//   - Heuristic：确定性的本地摘要，默认使用
//   - Anthropic：调用 Claude 生成摘要，经弹性层保护，失败时退回 Heuristic
package summarizer

import (
	"context"
	"fmt"
	"strings"

	"analytics-orchestrator/internal/resilience"
	"analytics-orchestrator/internal/shared/model"
	"analytics-orchestrator/pkg/logging"
)

// Dependency 弹性层中摘要服务的依赖名
const Dependency = "summarizer"

// Summarizer 把一段连续条目压缩为不超过 limit 字节的文本
type Summarizer interface {
	Name() string
	Summarize(ctx context.Context, entries []model.Entry, limit int) (string, error)
}

// Config 摘要配置
type Config struct {
	// Provider heuristic 或 anthropic
	Provider string `yaml:"provider"`

	// Model Anthropic 模型 ID
	Model string `yaml:"model"`

	// MaxTokens 单次摘要的最大输出 token
	MaxTokens int `yaml:"max_tokens"`

	// APIKey 仅从环境变量 ANTHROPIC_API_KEY 读取
	APIKey string `yaml:"-"`
}

const (
	ProviderHeuristic = "heuristic"
	ProviderAnthropic = "anthropic"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Provider:  ProviderHeuristic,
		Model:     DefaultModel,
		MaxTokens: 400,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Provider == "" {
		c.Provider = ProviderHeuristic
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 400
	}
	switch c.Provider {
	case ProviderHeuristic, ProviderAnthropic:
		return nil
	default:
		return fmt.Errorf("unknown summarizer provider %q", c.Provider)
	}
}

// New 按配置创建摘要器
func New(cfg *Config, ex *resilience.Executor, logger *logging.Logger) (Summarizer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Provider == ProviderHeuristic {
		return Heuristic{}, nil
	}
	client, err := NewAnthropic(cfg)
	if err != nil {
		return nil, err
	}
	return NewProtected(client, Heuristic{}, ex, logger), nil
}

// ============================================================================
// Protected
// ============================================================================

// Protected 经弹性层调用主摘要器，失败时使用备用摘要器
type Protected struct {
	primary  Summarizer
	fallback Summarizer
	executor *resilience.Executor
	logger   *logging.Logger
}

// NewProtected 创建受保护的摘要器
func NewProtected(primary, fallback Summarizer, ex *resilience.Executor, logger *logging.Logger) *Protected {
	if logger == nil {
		logger = logging.Default("summarizer")
	}
	return &Protected{primary: primary, fallback: fallback, executor: ex, logger: logger}
}

// Name 主摘要器名称
func (p *Protected) Name() string {
	return p.primary.Name()
}

// Summarize 生成摘要
func (p *Protected) Summarize(ctx context.Context, entries []model.Entry, limit int) (string, error) {
	call := resilience.Call[string]{
		Dependency: Dependency,
		Operation: func(ctx context.Context) (string, error) {
			return p.primary.Summarize(ctx, entries, limit)
		},
	}
	if p.fallback != nil {
		call.Fallbacks = []resilience.Fallback[string]{{
			Name: Dependency + "-" + p.fallback.Name(),
			Operation: func(ctx context.Context) (string, error) {
				return p.fallback.Summarize(ctx, entries, limit)
			},
		}}
	}
	res, err := resilience.Execute(ctx, p.executor, call)
	if err != nil {
		return "", err
	}
	if res.Degraded() {
		p.logger.WithContext(ctx).Warn("[summarizer.fallback]", "used", res.Fallback)
	}
	return model.Truncate(res.Value, limit), nil
}

// ============================================================================
// Heuristic
// ============================================================================

// Heuristic 确定性摘要：统计轮数与类别，依次列出每轮问题的开头
type Heuristic struct{}

// snippetRunes 每轮问题保留的字符数
const snippetRunes = 48

// Name 名称
func (Heuristic) Name() string {
	return ProviderHeuristic
}

// Summarize 生成摘要
func (Heuristic) Summarize(_ context.Context, entries []model.Entry, limit int) (string, error) {
	if limit <= 0 || len(entries) == 0 {
		return "", nil
	}

	var turns int
	var categories []string
	seen := map[string]bool{}
	var snippets []string
	for _, e := range entries {
		switch e.Kind {
		case model.EntryTurn:
			turns++
			if c := e.Turn.Category; c != "" && !seen[c] {
				seen[c] = true
				categories = append(categories, c)
			}
			snippets = append(snippets, clip(e.Turn.RequestText, snippetRunes))
		case model.EntrySummary:
			start, end := e.Span()
			turns += int(end - start + 1)
			snippets = append(snippets, clip(e.Summary.Text, snippetRunes))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d exchanges", turns)
	if len(categories) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(categories, ","))
	}
	b.WriteString(": ")
	b.WriteString(strings.Join(snippets, "; "))
	return model.Truncate(b.String(), limit), nil
}

func clip(s string, runes int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= runes {
		return s
	}
	return string(r[:runes]) + "..."
}
