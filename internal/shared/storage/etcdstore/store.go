// Package etcdstore etcd 存储后端
//
// key 布局（均在 prefix 下）：
//   - v/<key>：值
//   - c/<key>：日志计数器
//   - l/<key>#<seq 补零>：日志条目，按 key 字典序即 seq 顺序
//
// Append 通过事务比较计数器的 ModRevision 实现无锁的原子追加。
package etcdstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"analytics-orchestrator/internal/shared/storage"
)

// maxAppendAttempts 事务竞争时的最大重试次数
const maxAppendAttempts = 16

// Store etcd 存储客户端
type Store struct {
	client *clientv3.Client
	prefix string
}

var _ storage.Backend = (*Store)(nil)

// Config etcd 配置
type Config struct {
	Endpoints   []string
	DialTimeout time.Duration
	Prefix      string
}

// NewStore 创建 etcd 存储客户端
func NewStore(cfg Config) (*Store, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("etcd endpoints are required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "/orchestrator"
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := client.Status(ctx, cfg.Endpoints[0]); err != nil {
		client.Close()
		return nil, fmt.Errorf("etcd health check failed: %w", err)
	}

	log.Printf("[etcd] Connected to %v", cfg.Endpoints)
	return &Store{client: client, prefix: cfg.Prefix}, nil
}

// Close 关闭连接
func (s *Store) Close() error {
	return s.client.Close()
}

// Client 返回底层 etcd 客户端
func (s *Store) Client() *clientv3.Client {
	return s.client
}

func (s *Store) valueKey(key string) string   { return s.prefix + "/v/" + key }
func (s *Store) counterKey(key string) string { return s.prefix + "/c/" + key }
func (s *Store) logPrefix(key string) string  { return s.prefix + "/l/" + key + "#" }

func (s *Store) entryKey(key string, seq int64) string {
	return fmt.Sprintf("%s%020d", s.logPrefix(key), seq)
}

// Get 读取值
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.Get(ctx, s.valueKey(key))
	if err != nil {
		return nil, fmt.Errorf("etcd get %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, storage.ErrNotFound
	}
	return resp.Kvs[0].Value, nil
}

// Put 写入值
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if _, err := s.client.Put(ctx, s.valueKey(key), string(value)); err != nil {
		return fmt.Errorf("etcd put %s: %w", key, err)
	}
	return nil
}

// Append 追加日志
func (s *Store) Append(ctx context.Context, key string, value []byte) (int64, error) {
	ck := s.counterKey(key)
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		resp, err := s.client.Get(ctx, ck)
		if err != nil {
			return 0, fmt.Errorf("etcd read counter %s: %w", key, err)
		}
		var current, rev int64
		if len(resp.Kvs) > 0 {
			current, err = strconv.ParseInt(string(resp.Kvs[0].Value), 10, 64)
			if err != nil {
				return 0, fmt.Errorf("etcd corrupt counter %s: %w", key, err)
			}
			rev = resp.Kvs[0].ModRevision
		}
		next := current + 1

		txn, err := s.client.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(ck), "=", rev)).
			Then(
				clientv3.OpPut(ck, strconv.FormatInt(next, 10)),
				clientv3.OpPut(s.entryKey(key, next), string(value)),
			).
			Commit()
		if err != nil {
			return 0, fmt.Errorf("etcd append %s: %w", key, err)
		}
		if txn.Succeeded {
			return next, nil
		}
	}
	return 0, fmt.Errorf("etcd append %s: %w", key, storage.ErrConflict)
}

// Range 读取日志
func (s *Store) Range(ctx context.Context, key string) ([][]byte, error) {
	resp, err := s.client.Get(ctx, s.logPrefix(key),
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, fmt.Errorf("etcd range %s: %w", key, err)
	}
	out := make([][]byte, len(resp.Kvs))
	for i, kv := range resp.Kvs {
		out[i] = kv.Value
	}
	return out, nil
}
