// Package storagetest 提供所有 Backend 实现共用的契约测试
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analytics-orchestrator/internal/shared/storage"
)

// Run 对 Backend 实现执行契约测试
//
// newBackend 每次调用返回一个独立（或以唯一前缀隔离）的后端实例。
func Run(t *testing.T, newBackend func(t *testing.T) storage.Backend) {
	t.Run("Get 不存在返回 ErrNotFound", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.Get(context.Background(), "missing/key")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("Put 覆盖并立即可读", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.Put(ctx, "sessions/s1", []byte(`{"v":1}`)))
		require.NoError(t, b.Put(ctx, "sessions/s1", []byte(`{"v":2}`)))

		got, err := b.Get(ctx, "sessions/s1")
		require.NoError(t, err)
		assert.Equal(t, `{"v":2}`, string(got))
	})

	t.Run("Append 序号单调递增且 Range 保持顺序", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		for i := 1; i <= 5; i++ {
			seq, err := b.Append(ctx, "sessions/s1/turns", []byte(fmt.Sprintf("t%d", i)))
			require.NoError(t, err)
			assert.Equal(t, int64(i), seq)
		}
		items, err := b.Range(ctx, "sessions/s1/turns")
		require.NoError(t, err)
		require.Len(t, items, 5)
		for i, item := range items {
			assert.Equal(t, fmt.Sprintf("t%d", i+1), string(item))
		}
	})

	t.Run("Range 不存在返回空", func(t *testing.T) {
		b := newBackend(t)
		items, err := b.Range(context.Background(), "workflows/none/snapshots")
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("值与日志命名空间独立", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.Put(ctx, "k", []byte("value")))
		_, err := b.Append(ctx, "k", []byte("log"))
		require.NoError(t, err)

		v, err := b.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "value", string(v))
		items, err := b.Range(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, [][]byte{[]byte("log")}, items)
	})

	t.Run("并发 Append 不丢失不重复", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		const n = 20
		var wg sync.WaitGroup
		seqs := make(chan int64, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				seq, err := b.Append(ctx, "concurrent", []byte(fmt.Sprintf("%d", i)))
				if assert.NoError(t, err) {
					seqs <- seq
				}
			}(i)
		}
		wg.Wait()
		close(seqs)

		seen := make(map[int64]bool)
		for s := range seqs {
			assert.False(t, seen[s], "duplicate seq %d", s)
			seen[s] = true
		}
		items, err := b.Range(ctx, "concurrent")
		require.NoError(t, err)
		assert.Len(t, items, n)
	})
}
