// Package repository 数据库无关的 SQL 存储后端
//
// 通过 dbutil.Dialect 接口屏蔽不同数据库的 SQL 差异，
// 所有 SQL 以 PostgreSQL 风格编写，运行时由 Dialect.Rebind() 转换。
package repository

import (
	"database/sql"
	"fmt"

	"analytics-orchestrator/internal/shared/storage"
	"analytics-orchestrator/internal/shared/storage/dbutil"
	postgresdriver "analytics-orchestrator/internal/shared/storage/driver/postgres"
	sqlitedriver "analytics-orchestrator/internal/shared/storage/driver/sqlite"
	"analytics-orchestrator/pkg/logging"
)

// Store SQL 存储实现
// 实现了 storage.Backend 接口
type Store struct {
	db      *sql.DB
	dialect dbutil.Dialect
	logger  *logging.Logger
}

var _ storage.Backend = (*Store)(nil)

// NewStore 创建 SQL 存储
func NewStore(db *sql.DB, dialect dbutil.Dialect) *Store {
	return &Store{db: db, dialect: dialect, logger: logging.Default("repository")}
}

// Open 按驱动类型打开数据库、执行建表并返回存储
func Open(driver dbutil.DriverType, dsn string) (*Store, error) {
	var (
		db      *sql.DB
		dialect dbutil.Dialect
		err     error
	)
	switch driver {
	case dbutil.DriverSQLite:
		db, err = sqlitedriver.Open(dsn)
		dialect = sqlitedriver.NewDialect()
	case dbutil.DriverPostgres:
		db, err = postgresdriver.Open(dsn)
		dialect = postgresdriver.NewDialect()
	default:
		return nil, fmt.Errorf("unsupported sql driver: %s", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := dialect.AutoMigrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate %s schema: %w", driver, err)
	}
	return NewStore(db, dialect), nil
}

// WithLogger 替换查询日志记录器
func (s *Store) WithLogger(l *logging.Logger) *Store {
	if l != nil {
		s.logger = l
	}
	return s
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	return s.db.Close()
}

// DB 返回底层数据库连接（仅用于测试）
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect 返回当前方言
func (s *Store) Dialect() dbutil.Dialect {
	return s.dialect
}

// rebind 快捷方法：将 PG 风格 SQL 转换为当前方言
func (s *Store) rebind(query string) string {
	return s.dialect.Rebind(query)
}

// now 返回当前时间戳 SQL 表达式
func (s *Store) now() string {
	return s.dialect.CurrentTimestamp()
}
