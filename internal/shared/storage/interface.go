// Package storage 定义持久化存储层抽象接口
//
// 设计原则：依赖倒置 (DIP)
//   - 调用方（contextmgr、snapshot）只依赖 Backend 接口
//   - 具体实现在子包中：memstore/, repository/, mongostore/, redisstore/, etcdstore/
//   - 初始化时通过 infra 包按配置选择实现并注入
//
// 一致性约定：同一进程内对同一 key 的写入对随后的读取立即可见（read-your-writes）。
package storage

import "context"

// Backend 按 key 寻址的持久化后端
//
// 两类数据共存于同一后端：
//   - 值（Get/Put）：整体覆盖，例如会话元数据
//   - 日志（Append/Range）：只追加序列，例如 Turn 历史、快照版本
//
// 值与日志使用独立的命名空间，同名 key 互不影响。
type Backend interface {
	// Get 读取值，不存在返回 ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Put 写入值（覆盖）
	Put(ctx context.Context, key string, value []byte) error

	// Append 追加到日志末尾，返回追加后的序号（从 1 开始，单调递增）
	Append(ctx context.Context, key string, value []byte) (int64, error)

	// Range 按追加顺序读取日志全部条目，不存在返回空切片
	Range(ctx context.Context, key string) ([][]byte, error)

	// Close 释放连接
	Close() error
}
