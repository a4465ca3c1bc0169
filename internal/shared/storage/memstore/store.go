// Package memstore 进程内存储后端
//
// 用于测试和 driver=memory 的单机部署，数据不跨进程持久化。
package memstore

import (
	"context"
	"sync"

	"analytics-orchestrator/internal/shared/storage"
)

// Store 内存后端
type Store struct {
	mu     sync.RWMutex
	values map[string][]byte
	logs   map[string][][]byte
	closed bool
}

var _ storage.Backend = (*Store)(nil)

// New 创建内存后端
func New() *Store {
	return &Store{
		values: make(map[string][]byte),
		logs:   make(map[string][][]byte),
	}
}

// Get 读取值
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	v, ok := s.values[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return clone(v), nil
}

// Put 写入值
func (s *Store) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	s.values[key] = clone(value)
	return nil
}

// Append 追加日志
func (s *Store) Append(_ context.Context, key string, value []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, storage.ErrClosed
	}
	s.logs[key] = append(s.logs[key], clone(value))
	return int64(len(s.logs[key])), nil
}

// Range 读取日志
func (s *Store) Range(_ context.Context, key string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	log := s.logs[key]
	out := make([][]byte, len(log))
	for i, v := range log {
		out[i] = clone(v)
	}
	return out, nil
}

// Close 关闭后端
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
