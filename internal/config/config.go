package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"analytics-orchestrator/internal/contextmgr"
	"analytics-orchestrator/internal/observability"
	"analytics-orchestrator/internal/resilience"
	"analytics-orchestrator/internal/router"
	"analytics-orchestrator/internal/shared/model"
	"analytics-orchestrator/internal/shared/objstore"
	"analytics-orchestrator/internal/snapshot"
	"analytics-orchestrator/internal/summarizer"
)

// envSearchDirs .env 文件搜索目录（仅 dev/test 使用，生产环境由 systemd 注入）
var envSearchDirs = []string{".", ".."}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Env:    EnvDevelopment,
		Server: ServerConfig{Port: "8080", ShutdownTimeout: 15 * time.Second},
		Database: DatabaseConfig{
			Driver:  DriverMemory,
			Host:    "localhost",
			Port:    5432,
			User:    "orchestrator",
			Name:    "orchestrator",
			SSLMode: "disable",
		},
		Redis:      RedisConfig{Host: "localhost", Port: 6379, Prefix: "orchestrator"},
		Etcd:       EtcdConfig{Endpoints: []string{"localhost:2379"}, Prefix: "/orchestrator", DialTimeout: 5 * time.Second},
		MinIO:      objstore.Config{Bucket: objstore.DefaultBucket},
		Auth:       AuthConfig{DefaultTier: model.TierReadOnly.String()},
		Router:     *router.DefaultConfig(),
		Context:    *contextmgr.DefaultConfig(),
		Resilience: *resilience.DefaultConfig(),
		Snapshot:   *snapshot.DefaultConfig(),
		Summarizer: *summarizer.DefaultConfig(),
		Tracing:    observability.TracingConfig{Exporter: observability.ExporterNone},
	}
}

// Load 加载配置
//  1. 加载 .env.{env} / .env（不覆盖已有环境变量）
//  2. 默认值 → common.yaml → {env}.yaml
//  3. 环境变量覆盖与凭据
func Load() (*Config, error) {
	env := parseEnv(getEnv("APP_ENV", "dev"))
	loadEnvFiles(env)
	env = parseEnv(getEnv("APP_ENV", string(env)))

	cfg := Default()
	cfg.Env = env
	for _, name := range []string{"common.yaml", fmt.Sprintf("%s.yaml", env)} {
		if err := cfg.mergeFirst(configPaths(env), name); err != nil {
			return nil, err
		}
	}
	return cfg.finish()
}

// LoadFile 从显式路径加载配置（--config 参数），文件必须存在
func LoadFile(path string) (*Config, error) {
	env := parseEnv(getEnv("APP_ENV", "dev"))
	loadEnvFiles(env)

	cfg := Default()
	cfg.Env = parseEnv(getEnv("APP_ENV", string(env)))
	if err := cfg.merge(path); err != nil {
		return nil, err
	}
	return cfg.finish()
}

// LoadedFrom 返回实际加载的配置文件
func (c *Config) LoadedFrom() []string {
	return c.loadedFrom
}

// IsTest 是否为测试环境
func (c *Config) IsTest() bool {
	return c.Env == EnvTest
}

func (c *Config) finish() (*Config, error) {
	c.applyEnv()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// mergeFirst 合并搜索路径中第一个存在的同名文件，都不存在时跳过
func (c *Config) mergeFirst(dirs []string, name string) error {
	for _, dir := range dirs {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return c.merge(path)
		}
	}
	return nil
}

func (c *Config) merge(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	c.loadedFrom = append(c.loadedFrom, path)
	return nil
}

// applyEnv 环境变量覆盖（部署时无需改动 YAML）
func (c *Config) applyEnv() {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URI = v
		if os.Getenv("DATABASE_DRIVER") == "" {
			c.Database.Driver = detectDatabaseDriver(c.Database.Driver, v)
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("ETCD_ENDPOINTS"); v != "" {
		c.Etcd.Endpoints = splitList(v)
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		c.MinIO.Endpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		c.MinIO.AccessKey = v
	}
	if v := os.Getenv("AUTH_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Auth.Enabled = b
		}
	}
	if v := os.Getenv("TRACING_EXPORTER"); v != "" {
		c.Tracing.Exporter = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Tracing.Endpoint = v
	}

	// 凭据
	c.Database.Password = os.Getenv("DB_PASSWORD")
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	c.MinIO.SecretKey = os.Getenv("MINIO_SECRET_KEY")
	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Summarizer.APIKey = os.Getenv("ANTHROPIC_API_KEY")
}

// validate 校验并填充各组件默认值
func (c *Config) validate() error {
	var errs []error
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}

	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	switch c.Database.Driver {
	case "":
		c.Database.Driver = DriverMemory
	case DriverMemory, DriverSQLite, DriverPostgres, DriverMongoDB, DriverRedis, DriverEtcd:
	default:
		errs = append(errs, fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver))
	}
	if c.Database.Driver == DriverEtcd && len(c.Etcd.Endpoints) == 0 {
		errs = append(errs, errors.New("etcd.endpoints: required when database.driver is etcd"))
	}

	if c.Auth.DefaultTier == "" {
		c.Auth.DefaultTier = model.TierReadOnly.String()
	}
	if _, err := model.ParseTier(c.Auth.DefaultTier); err != nil {
		errs = append(errs, fmt.Errorf("auth.default_tier: %w", err))
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.enabled requires JWT_SECRET"))
	}
	if c.MinIO.Bucket == "" {
		c.MinIO.Bucket = objstore.DefaultBucket
	}
	if c.Snapshot.Bucket == "" {
		c.Snapshot.Bucket = c.MinIO.Bucket
	}

	for name, v := range map[string]interface{ Validate() error }{
		"router":     &c.Router,
		"context":    &c.Context,
		"resilience": &c.Resilience,
		"snapshot":   &c.Snapshot,
		"summarizer": &c.Summarizer,
		"tracing":    &c.Tracing,
	} {
		if err := v.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	seen := make(map[string]bool, len(c.Workers))
	for i := range c.Workers {
		if err := c.Workers[i].Validate(); err != nil {
			errs = append(errs, fmt.Errorf("workers[%d]: %w", i, err))
			continue
		}
		if seen[c.Workers[i].Name] {
			errs = append(errs, fmt.Errorf("workers[%d]: duplicate worker %q", i, c.Workers[i].Name))
		}
		seen[c.Workers[i].Name] = true
	}
	return errors.Join(errs...)
}

// DefaultTier 关闭认证时使用的调用方等级
func (c *Config) DefaultTier() model.PermissionTier {
	tier, _ := model.ParseTier(c.Auth.DefaultTier)
	return tier
}

// String 返回配置摘要（隐藏密码）
func (c *Config) String() string {
	return fmt.Sprintf("Config{Env: %s, Port: %s, Driver: %s, DB: %s, Redis: %s, MinIO: %s, Auth: %t, Summarizer: %s, Workers: %d}",
		c.Env, c.Server.Port, c.Database.Driver, maskPassword(c.Database.DSN()), maskPassword(c.Redis.DSN()),
		c.MinIO.Endpoint, c.Auth.Enabled, c.Summarizer.Provider, len(c.Workers))
}

// configPaths 根据环境返回配置文件搜索路径
func configPaths(env Environment) []string {
	if dir := os.Getenv("CONFIG_DIR"); dir != "" {
		return []string{dir}
	}
	if env == EnvProduction {
		return []string{"/etc/analytics-orchestrator"}
	}
	return []string{"configs", "../configs", "../../configs"}
}

// loadEnvFiles 加载 .env 文件
//
// 生产环境不搜索 .env 文件（密码由 systemd EnvironmentFile 或 shell 环境注入）。
// godotenv.Load 不覆盖已有环境变量，优先级低于 shell 环境变量。
func loadEnvFiles(env Environment) {
	if env == EnvProduction {
		return
	}
	for _, name := range []string{fmt.Sprintf(".env.%s", env), ".env"} {
		for _, dir := range envSearchDirs {
			if err := godotenv.Load(filepath.Join(dir, name)); err == nil {
				break
			}
		}
	}
}
