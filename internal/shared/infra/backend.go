package infra

import (
	"fmt"

	"analytics-orchestrator/internal/config"
	"analytics-orchestrator/internal/shared/storage"
	"analytics-orchestrator/internal/shared/storage/dbutil"
	"analytics-orchestrator/internal/shared/storage/etcdstore"
	"analytics-orchestrator/internal/shared/storage/memstore"
	"analytics-orchestrator/internal/shared/storage/mongostore"
	"analytics-orchestrator/internal/shared/storage/redisstore"
	"analytics-orchestrator/internal/shared/storage/repository"
)

// NewBackend 按 database.driver 创建持久化存储
func NewBackend(cfg *config.Config) (storage.Backend, error) {
	db := cfg.Database
	switch db.Driver {
	case config.DriverMemory, "":
		return memstore.New(), nil
	case config.DriverSQLite:
		return repository.Open(dbutil.DriverSQLite, db.DSN())
	case config.DriverPostgres:
		return repository.Open(dbutil.DriverPostgres, db.DSN())
	case config.DriverMongoDB:
		return mongostore.NewStore(db.DSN(), db.Name)
	case config.DriverRedis:
		return redisstore.NewStoreFromURL(cfg.Redis.DSN(), cfg.Redis.Prefix)
	case config.DriverEtcd:
		return etcdstore.NewStore(etcdstore.Config{
			Endpoints:   cfg.Etcd.Endpoints,
			DialTimeout: cfg.Etcd.DialTimeout,
			Prefix:      cfg.Etcd.Prefix,
		})
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", db.Driver)
	}
}
