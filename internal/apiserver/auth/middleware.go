package auth

import (
	"net/http"
	"strings"

	"analytics-orchestrator/pkg/logging"
)

// 免认证路由白名单（前缀匹配）
var publicPrefixes = []string{
	"/health",
	"/metrics",
}

func isPublicRoute(path string) bool {
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Middleware 创建 JWT 认证中间件
// 如果 cfg.Enabled() == false，所有请求以默认等级放行（无认证模式）
func Middleware(cfg Config, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default("auth")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled() {
				ctx := WithCaller(r.Context(), &Caller{Tier: cfg.DefaultTier})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			if isPublicRoute(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			// 提取 Bearer Token
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				http.Error(w, `{"error":"invalid authorization header"}`, http.StatusUnauthorized)
				return
			}

			claims, err := ParseToken(cfg, parts[1])
			if err != nil {
				logger.Warn("[auth.token_rejected]", "error", err.Error())
				http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
				return
			}
			if claims.Type != "access" {
				http.Error(w, `{"error":"invalid token type"}`, http.StatusUnauthorized)
				return
			}

			ctx := WithCaller(r.Context(), &Caller{ID: claims.Subject, Tier: claims.TierOf()})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
