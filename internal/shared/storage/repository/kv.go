package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"analytics-orchestrator/internal/shared/storage"
)

// appendRetries 并发追加撞上同一 seq 时的重试次数
const appendRetries = 5

// Get 读取值
func (s *Store) Get(ctx context.Context, key string) (_ []byte, err error) {
	defer s.observe("get", "kv_values", time.Now(), &err)
	query := s.rebind(`SELECT value FROM kv_values WHERE key = $1`)
	var value []byte
	err = s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// Put 写入值（UPSERT）
func (s *Store) Put(ctx context.Context, key string, value []byte) (err error) {
	defer s.observe("put", "kv_values", time.Now(), &err)
	query := s.rebind(fmt.Sprintf(`
		INSERT INTO kv_values (key, value, updated_at)
		VALUES ($1, $2, %s)
		%s`, s.now(), s.dialect.UpsertConflict("key", []string{
		"value = EXCLUDED.value",
		"updated_at = EXCLUDED.updated_at",
	})))
	if _, err = s.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Append 追加日志
//
// seq 由同一条语句计算并写入；并发写入撞上主键时重试。
func (s *Store) Append(ctx context.Context, key string, value []byte) (_ int64, err error) {
	defer s.observe("append", "kv_log", time.Now(), &err)
	query := s.rebind(fmt.Sprintf(`
		INSERT INTO kv_log (key, seq, value, created_at)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, %s FROM kv_log WHERE key = $3
		RETURNING seq`, s.now()))

	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		var seq int64
		err = s.db.QueryRowContext(ctx, query, key, value, key).Scan(&seq)
		if err == nil {
			return seq, nil
		}
		if !s.dialect.IsUniqueViolation(err) {
			return 0, fmt.Errorf("append %s: %w", key, err)
		}
		lastErr = err
	}
	return 0, fmt.Errorf("append %s: %w: %v", key, storage.ErrConflict, lastErr)
}

// Range 读取日志
func (s *Store) Range(ctx context.Context, key string) (_ [][]byte, err error) {
	defer s.observe("range", "kv_log", time.Now(), &err)
	query := s.rebind(`SELECT value FROM kv_log WHERE key = $1 ORDER BY seq ASC`)
	rows, err := s.db.QueryContext(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("range %s: %w", key, err)
	}
	defer rows.Close()

	out := [][]byte{}
	for rows.Next() {
		var value []byte
		if err = rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("range %s: %w", key, err)
		}
		out = append(out, value)
	}
	return out, rows.Err()
}

// observe 记录查询耗时，未命中不算失败
func (s *Store) observe(operation, table string, start time.Time, errp *error) {
	err := *errp
	if errors.Is(err, storage.ErrNotFound) {
		err = nil
	}
	s.logger.DBQueryLog(operation, table, time.Since(start), err)
}
