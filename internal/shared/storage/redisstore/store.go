// Package redisstore Redis 存储后端
//
// 值使用 SET/GET，日志使用 LIST（RPUSH 返回的长度即为 seq）。
// 所有 key 带统一前缀，便于与其他业务共用同一个 Redis。
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"analytics-orchestrator/internal/shared/storage"
)

// DefaultPrefix 默认 key 前缀
const DefaultPrefix = "orchestrator:"

// Store Redis 存储层
type Store struct {
	client *redis.Client
	prefix string
}

var _ storage.Backend = (*Store)(nil)

// NewStoreFromURL 从 URL 创建 Redis 存储实例
func NewStoreFromURL(redisURL, prefix string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("[Redis/Backend] Connected to %s", opts.Addr)
	return NewStore(client, prefix), nil
}

// NewStore 基于已有客户端创建存储
func NewStore(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Close 关闭 Redis 连接
func (s *Store) Close() error {
	return s.client.Close()
}

// Client 返回底层 Redis 客户端
func (s *Store) Client() *redis.Client {
	return s.client
}

func (s *Store) valueKey(key string) string {
	return s.prefix + "v:" + key
}

func (s *Store) logKey(key string) string {
	return s.prefix + "l:" + key
}

// Get 读取值
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, s.valueKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

// Put 写入值（不过期）
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.valueKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Append 追加日志
func (s *Store) Append(ctx context.Context, key string, value []byte) (int64, error) {
	n, err := s.client.RPush(ctx, s.logKey(key), value).Result()
	if err != nil {
		return 0, fmt.Errorf("redis rpush %s: %w", key, err)
	}
	return n, nil
}

// Range 读取日志
func (s *Store) Range(ctx context.Context, key string) ([][]byte, error) {
	items, err := s.client.LRange(ctx, s.logKey(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange %s: %w", key, err)
	}
	out := make([][]byte, len(items))
	for i, item := range items {
		out[i] = []byte(item)
	}
	return out, nil
}
