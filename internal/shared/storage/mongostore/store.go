// Package mongostore 实现基于 MongoDB 的 storage.Backend
//
// 使用 mongo-go-driver v2：
//   - kv_values：值，_id 为 key
//   - kv_log：日志条目，(key, seq) 唯一
//   - kv_counters：每个日志 key 的序号计数器，$inc 原子分配 seq
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"analytics-orchestrator/internal/shared/storage"
)

// Collection 名称常量
const (
	ColValues   = "kv_values"
	ColLog      = "kv_log"
	ColCounters = "kv_counters"
)

// Store 实现 storage.Backend 接口的 MongoDB 驱动
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ storage.Backend = (*Store)(nil)

type valueDoc struct {
	Key       string    `bson:"_id"`
	Value     []byte    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type logDoc struct {
	Key       string    `bson:"key"`
	Seq       int64     `bson:"seq"`
	Value     []byte    `bson:"value"`
	CreatedAt time.Time `bson:"created_at"`
}

type counterDoc struct {
	Key string `bson:"_id"`
	Seq int64  `bson:"seq"`
}

// NewStore 创建 MongoDB 存储实例
//
// uri: MongoDB 连接 URI，如 "mongodb://localhost:27017"
// dbName: 数据库名称，如 "orchestrator"
func NewStore(uri, dbName string) (*Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect failed: %w", err)
	}

	// 验证连接
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongostore: ping failed: %w", err)
	}

	s := &Store{client: client, db: client.Database(dbName)}

	// 创建索引
	if err := s.ensureIndexes(ctx); err != nil {
		log.Printf("WARNING: mongostore: ensure indexes failed: %v", err)
	}

	return s, nil
}

// Close 关闭 MongoDB 连接
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// col 获取指定 Collection
func (s *Store) col(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// ensureIndexes 创建必要的索引
func (s *Store) ensureIndexes(ctx context.Context) error {
	model := mongo.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}, {Key: "seq", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := s.col(ColLog).Indexes().CreateOne(ctx, model); err != nil {
		return fmt.Errorf("create index on %s: %w", ColLog, err)
	}
	return nil
}

// Get 读取值
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var doc valueDoc
	if err := s.col(ColValues).FindOne(ctx, bson.M{"_id": key}).Decode(&doc); err != nil {
		return nil, wrapError(err)
	}
	return doc.Value, nil
}

// Put 写入值
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	update := bson.M{"$set": bson.M{"value": value, "updated_at": time.Now().UTC()}}
	_, err := s.col(ColValues).UpdateOne(ctx, bson.M{"_id": key}, update, options.UpdateOne().SetUpsert(true))
	return wrapError(err)
}

// Append 追加日志
func (s *Store) Append(ctx context.Context, key string, value []byte) (int64, error) {
	var counter counterDoc
	err := s.col(ColCounters).FindOneAndUpdate(ctx,
		bson.M{"_id": key},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("mongostore: allocate seq for %s: %w", key, wrapError(err))
	}

	doc := logDoc{Key: key, Seq: counter.Seq, Value: value, CreatedAt: time.Now().UTC()}
	if _, err := s.col(ColLog).InsertOne(ctx, doc); err != nil {
		// 仅当计数器未被其他写入推进时回退，避免留下空洞
		_, _ = s.col(ColCounters).UpdateOne(context.Background(),
			bson.M{"_id": key, "seq": counter.Seq},
			bson.M{"$inc": bson.M{"seq": int64(-1)}})
		return 0, fmt.Errorf("mongostore: append %s: %w", key, wrapError(err))
	}
	return counter.Seq, nil
}

// Range 读取日志
func (s *Store) Range(ctx context.Context, key string) ([][]byte, error) {
	docs, err := findMany[logDoc](ctx, s.col(ColLog), bson.M{"key": key},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Value)
	}
	return out, nil
}

// findMany 通用查询多个文档
func findMany[T any](ctx context.Context, col *mongo.Collection, filter bson.M, opts ...options.Lister[options.FindOptions]) ([]T, error) {
	cursor, err := col.Find(ctx, filter, opts...)
	if err != nil {
		return nil, wrapError(err)
	}
	defer cursor.Close(ctx)

	var results []T
	if err := cursor.All(ctx, &results); err != nil {
		return nil, wrapError(err)
	}
	return results, nil
}

// wrapError 将 MongoDB 错误转换为领域错误
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return storage.ErrNotFound
	}
	if mongo.IsDuplicateKeyError(err) {
		return storage.ErrDuplicate
	}
	return err
}
