// Package infra 基础设施聚合层
//
// 按配置初始化并统一关闭：
//   - Backend：会话与快照的持久化存储（memory/sqlite/postgres/mongodb/redis/etcd）
//   - Blobs：大快照状态的对象存储（MinIO，可选）
package infra

import (
	"context"
	"errors"
	"fmt"

	"analytics-orchestrator/internal/config"
	"analytics-orchestrator/internal/shared/objstore"
	"analytics-orchestrator/internal/shared/storage"
	"analytics-orchestrator/internal/snapshot"
	"analytics-orchestrator/pkg/logging"
)

// Infrastructure 基础设施聚合结构
type Infrastructure struct {
	// Backend 持久化存储
	Backend storage.Backend

	// Blobs 对象存储，未配置 MinIO 时为 nil
	Blobs *objstore.Client
}

// New 按配置初始化基础设施，任一组件失败时关闭已创建的部分
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Infrastructure, error) {
	if logger == nil {
		logger = logging.Default("infra")
	}
	backend, err := NewBackend(cfg)
	if err != nil {
		return nil, err
	}
	infra := &Infrastructure{Backend: backend}
	logger.Info("[infra.backend_ready]", "driver", cfg.Database.Driver)

	if cfg.MinIO.Enabled() {
		blobs, err := objstore.NewClient(cfg.MinIO, logger.Named("objstore"))
		if err != nil {
			infra.Close()
			return nil, err
		}
		if err := blobs.EnsureBucket(ctx); err != nil {
			infra.Close()
			return nil, fmt.Errorf("minio %s: %w", cfg.MinIO.Endpoint, err)
		}
		infra.Blobs = blobs
		logger.Info("[infra.objstore_ready]", "endpoint", cfg.MinIO.Endpoint, "bucket", blobs.Bucket())
	}
	return infra, nil
}

// BlobStore 返回快照使用的对象存储，未配置时返回 nil 接口
func (i *Infrastructure) BlobStore() snapshot.BlobStore {
	if i.Blobs == nil {
		return nil
	}
	return i.Blobs
}

// Close 关闭所有基础设施连接
func (i *Infrastructure) Close() error {
	var errs []error
	if i.Backend != nil {
		if err := i.Backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close backend: %w", err))
		}
	}
	if i.Blobs != nil {
		if err := i.Blobs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close objstore: %w", err))
		}
	}
	return errors.Join(errs...)
}
