// Package config 统一配置管理
//
// 配置加载优先级（高→低）：
//  1. 环境变量（通过 .env 文件或 shell/systemd 注入）
//  2. YAML 配置文件（{env}.yaml，如 dev.yaml、test.yaml、prod.yaml）
//  3. 公共配置 common.yaml
//  4. 代码硬编码默认值
//
// 凭据单一数据源：
//
//	密码/密钥只从环境变量读取（YAML 中不存储任何密码）：
//	DB_PASSWORD、REDIS_PASSWORD、MINIO_SECRET_KEY、JWT_SECRET、ANTHROPIC_API_KEY
//
// 配置路径确定策略：
//  1. --config 命令行参数（LoadFile 显式路径）
//  2. CONFIG_DIR 环境变量
//  3. 按 APP_ENV 选择默认路径：
//     - prod → /etc/analytics-orchestrator/
//     - dev/test → ./configs/
package config

import (
	"time"

	"analytics-orchestrator/internal/contextmgr"
	"analytics-orchestrator/internal/observability"
	"analytics-orchestrator/internal/resilience"
	"analytics-orchestrator/internal/router"
	"analytics-orchestrator/internal/shared/objstore"
	"analytics-orchestrator/internal/snapshot"
	"analytics-orchestrator/internal/summarizer"
	"analytics-orchestrator/internal/workers"
)

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// 存储驱动
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongoDB  = "mongodb"
	DriverRedis    = "redis"
	DriverEtcd     = "etcd"
)

// Config 应用配置
type Config struct {
	Env Environment `yaml:"-"`

	Server   ServerConfig    `yaml:"server"`
	Database DatabaseConfig  `yaml:"database"`
	Redis    RedisConfig     `yaml:"redis"`
	Etcd     EtcdConfig      `yaml:"etcd"`
	MinIO    objstore.Config `yaml:"minio"`
	Auth     AuthConfig      `yaml:"auth"`

	Router     router.Config               `yaml:"router"`
	Context    contextmgr.Config           `yaml:"context"`
	Resilience resilience.Config           `yaml:"resilience"`
	Snapshot   snapshot.Config             `yaml:"snapshot"`
	Summarizer summarizer.Config           `yaml:"summarizer"`
	Tracing    observability.TracingConfig `yaml:"tracing"`
	Workers    []workers.Spec              `yaml:"workers"`

	// loadedFrom 按合并顺序记录已加载的配置文件
	loadedFrom []string
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig 会话与快照的持久化后端
type DatabaseConfig struct {
	Driver  string `yaml:"driver"` // memory | sqlite | postgres | mongodb | redis | etcd
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	User    string `yaml:"user"`
	Name    string `yaml:"name"`
	SSLMode string `yaml:"sslmode"`
	Path    string `yaml:"path"` // sqlite 文件路径
	URI     string `yaml:"uri"`  // 显式连接串，优先于分项字段

	Password string `yaml:"-"` // 只从 DB_PASSWORD 环境变量读取
}

// RedisConfig Redis 配置（driver=redis 时作为存储后端）
type RedisConfig struct {
	URL    string `yaml:"url"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	DB     int    `yaml:"db"`
	Prefix string `yaml:"prefix"`

	Password string `yaml:"-"` // 只从 REDIS_PASSWORD 环境变量读取
}

// EtcdConfig etcd 配置（driver=etcd 时作为存储后端）
type EtcdConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	Prefix      string        `yaml:"prefix"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// AuthConfig 认证配置
// JWTSecret 只从环境变量读取，不存储在 YAML 中
type AuthConfig struct {
	Enabled     bool   `yaml:"enabled"`
	DefaultTier string `yaml:"default_tier"` // 关闭认证时调用方的权限等级
	JWTSecret   string `yaml:"-"`
}
