package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
)

// DSN 按驱动构建连接串，URI 非空时直接使用
func (db DatabaseConfig) DSN() string {
	if db.URI != "" {
		return db.URI
	}
	switch db.Driver {
	case DriverSQLite:
		path := db.Path
		if path == "" {
			path = "orchestrator.db"
		}
		return fmt.Sprintf("file:%s?cache=shared&mode=rwc", path)
	case DriverMongoDB:
		if db.User != "" && db.Password != "" {
			return fmt.Sprintf("mongodb://%s:%s@%s:%d", db.User, url.QueryEscape(db.Password), db.Host, db.Port)
		}
		return fmt.Sprintf("mongodb://%s:%d", db.Host, db.Port)
	case DriverPostgres:
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			db.User, url.QueryEscape(db.Password), db.Host, db.Port, db.Name, db.SSLMode)
	default:
		return ""
	}
}

// DSN 构建 Redis 连接串
// URL 字段非空时直接使用；否则从 host/port/db/password 构建
func (r RedisConfig) DSN() string {
	if r.URL != "" {
		return r.URL
	}
	if r.Password != "" {
		return fmt.Sprintf("redis://:%s@%s:%d/%d", url.QueryEscape(r.Password), r.Host, r.Port, r.DB)
	}
	return fmt.Sprintf("redis://%s:%d/%d", r.Host, r.Port, r.DB)
}

// detectDatabaseDriver 从 DATABASE_URL 前缀检测驱动，无法识别时保留当前值
func detectDatabaseDriver(current, databaseURL string) string {
	switch {
	case strings.HasPrefix(databaseURL, "file:"), strings.HasPrefix(databaseURL, "sqlite:"):
		return DriverSQLite
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return DriverPostgres
	case strings.HasPrefix(databaseURL, "mongodb://"), strings.HasPrefix(databaseURL, "mongodb+srv://"):
		return DriverMongoDB
	case strings.HasPrefix(databaseURL, "redis://"), strings.HasPrefix(databaseURL, "rediss://"):
		return DriverRedis
	default:
		return current
	}
}

var passwordRe = regexp.MustCompile(`(://[^:/@]*:)([^@]+)(@)`)

// maskPassword 隐藏密码
func maskPassword(dsn string) string {
	return passwordRe.ReplaceAllString(dsn, "${1}***${3}")
}

// parseEnv 解析环境字符串
func parseEnv(env string) Environment {
	switch strings.ToLower(env) {
	case "test":
		return EnvTest
	case "prod", "production":
		return EnvProduction
	default:
		return EnvDevelopment
	}
}

// getEnv 获取环境变量，支持默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
