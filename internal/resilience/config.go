package resilience

import (
	"fmt"
	"time"
)

// Policy 单个依赖的熔断与重试参数
type Policy struct {
	// FailureThreshold 连续失败多少次后打开熔断器
	FailureThreshold uint32 `yaml:"failure_threshold"`

	// SuccessThreshold 半开状态下连续成功多少次后关闭熔断器
	// 同时也是半开状态允许放行的试探调用数
	SuccessThreshold uint32 `yaml:"success_threshold"`

	// Cooldown 打开状态持续时间，之后进入半开
	Cooldown time.Duration `yaml:"cooldown"`

	// MaxRetries 瞬时错误的最大重试次数（不含首次调用）
	MaxRetries int `yaml:"max_retries"`

	// InitialBackoff / MaxBackoff 指数退避的起止间隔
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`

	// Multiplier 退避倍数
	Multiplier float64 `yaml:"multiplier"`

	// Jitter 随机抖动比例 [0, 1)
	Jitter float64 `yaml:"jitter"`
}

// Config 弹性层配置
type Config struct {
	Policy `yaml:",inline"`

	// CallTimeout 调用方上下文没有截止时间时使用的单次 Execute 超时
	CallTimeout time.Duration `yaml:"call_timeout"`

	// Dependencies 按依赖名覆盖的参数，零值字段继承默认值
	Dependencies map[string]Policy `yaml:"dependencies"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Policy:      defaultPolicy(),
		CallTimeout: 30 * time.Second,
	}
}

func defaultPolicy() Policy {
	return Policy{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
		MaxRetries:       2,
		InitialBackoff:   100 * time.Millisecond,
		MaxBackoff:       2 * time.Second,
		Multiplier:       2,
		Jitter:           0.2,
	}
}

// Validate 验证配置并填充默认值
func (c *Config) Validate() error {
	retries := c.MaxRetries
	c.Policy = c.Policy.withDefaults(defaultPolicy())
	c.MaxRetries = retries // 0 表示不重试
	if c.CallTimeout == 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("resilience.max_retries must be >= 0")
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		return fmt.Errorf("resilience.jitter must be in [0, 1)")
	}
	for name, p := range c.Dependencies {
		if p.MaxRetries < 0 {
			return fmt.Errorf("resilience.dependencies.%s.max_retries must be >= 0", name)
		}
	}
	return nil
}

// PolicyFor 返回依赖的生效参数
func (c *Config) PolicyFor(dependency string) Policy {
	if p, ok := c.Dependencies[dependency]; ok {
		return p.withDefaults(c.Policy)
	}
	return c.Policy
}

func (p Policy) withDefaults(base Policy) Policy {
	if p.FailureThreshold == 0 {
		p.FailureThreshold = base.FailureThreshold
	}
	if p.SuccessThreshold == 0 {
		p.SuccessThreshold = base.SuccessThreshold
	}
	if p.Cooldown == 0 {
		p.Cooldown = base.Cooldown
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = base.MaxRetries
	}
	if p.InitialBackoff == 0 {
		p.InitialBackoff = base.InitialBackoff
	}
	if p.MaxBackoff == 0 {
		p.MaxBackoff = base.MaxBackoff
	}
	if p.Multiplier == 0 {
		p.Multiplier = base.Multiplier
	}
	if p.Jitter == 0 {
		p.Jitter = base.Jitter
	}
	return p
}
