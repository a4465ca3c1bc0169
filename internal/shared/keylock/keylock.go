// Package keylock 按 key 加锁
//
// 用于会话 Turn 追加和工作流快照追加的串行化。等待锁时响应 ctx 取消；
// 没有持有者和等待者的 key 会被回收，锁表不会随 key 数量无限增长。
package keylock

import (
	"context"
	"sync"
)

type entry struct {
	ch   chan struct{}
	refs int
}

// Set 一组按 key 区分的互斥锁
type Set struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// New 创建锁集合
func New() *Set {
	return &Set{locks: make(map[string]*entry)}
}

// Lock 获取 key 的锁，返回释放函数（可重复调用）
func (s *Set) Lock(ctx context.Context, key string) (func(), error) {
	s.mu.Lock()
	e, ok := s.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		s.locks[key] = e
	}
	e.refs++
	s.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.ch
				s.release(key, e)
			})
		}, nil
	case <-ctx.Done():
		s.release(key, e)
		return nil, ctx.Err()
	}
}

func (s *Set) release(key string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(s.locks, key)
	}
}

// Len 当前被持有或等待中的 key 数
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
