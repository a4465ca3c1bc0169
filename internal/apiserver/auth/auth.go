// Package auth 调用方认证：JWT 令牌与 HTTP 中间件
//
// 令牌中的 tier 声明决定调用方的权限等级；关闭认证时所有调用方使用默认等级。
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"analytics-orchestrator/internal/shared/model"
)

// contextKey context 键类型
type contextKey string

const ctxKeyCaller contextKey = "caller"

// Caller 从 JWT 解析出的调用方
type Caller struct {
	ID   string
	Tier model.PermissionTier
}

// Config 认证配置
type Config struct {
	JWTSecret      string
	DefaultTier    model.PermissionTier
	AccessTokenTTL time.Duration
}

// DefaultConfig 返回默认认证配置（无认证、只读）
func DefaultConfig() Config {
	return Config{
		DefaultTier:    model.TierReadOnly,
		AccessTokenTTL: 24 * time.Hour,
	}
}

// Enabled 是否启用认证
func (c Config) Enabled() bool {
	return c.JWTSecret != ""
}

// ============================================================================
// JWT Token
// ============================================================================

// Claims JWT 声明
type Claims struct {
	jwt.RegisteredClaims
	Tier string `json:"tier,omitempty"`
	Type string `json:"type,omitempty"` // "access"
}

// GenerateAccessToken 生成访问令牌
func GenerateAccessToken(cfg Config, subject string, tier model.PermissionTier) (string, error) {
	if !cfg.Enabled() {
		return "", fmt.Errorf("jwt secret is not configured")
	}
	ttl := cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = DefaultConfig().AccessTokenTTL
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Tier: tier.String(),
		Type: "access",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.JWTSecret))
}

// ParseToken 解析并验证 JWT
func ParseToken(cfg Config, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// TierOf 解析 tier 声明，未知值按只读处理
func (c *Claims) TierOf() model.PermissionTier {
	tier, err := model.ParseTier(c.Tier)
	if err != nil {
		return model.TierReadOnly
	}
	return tier
}

// ============================================================================
// Context 辅助函数
// ============================================================================

// WithCaller 将调用方信息注入 context
func WithCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, ctxKeyCaller, c)
}

// CallerFrom 从 context 获取调用方，缺失时返回 nil
func CallerFrom(ctx context.Context) *Caller {
	c, _ := ctx.Value(ctxKeyCaller).(*Caller)
	return c
}
