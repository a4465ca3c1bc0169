// Package snapshot 工作流状态快照管理器
//
// 快照以只追加日志的形式保存在 storage.Backend 中，版本号即日志位置。
// 回滚不会删除或修改任何已有版本，而是追加一个复制目标状态的新版本。
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"analytics-orchestrator/internal/shared/model"
	"analytics-orchestrator/internal/shared/storage"
	"analytics-orchestrator/pkg/logging"
)

// BlobStore 大体积状态的对象存储（由 objstore.Client 实现）
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Recorder 快照事件观察者（由 observability.Metrics 实现）
type Recorder interface {
	SnapshotSaved(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) SnapshotSaved(string) {}

// 快照写入结果
const (
	OutcomeStored    = "stored"
	OutcomeOffloaded = "offloaded"
	OutcomeRollback  = "rollback"
	OutcomeError     = "error"
)

// LatestVersion Load 时表示最新版本
const LatestVersion int64 = 0

// record 日志中的存储格式，Version 由日志位置决定
type record struct {
	model.WorkflowSnapshot
	Size int `json:"size"`
}

// Manager 快照管理器
type Manager struct {
	cfg      Config
	backend  storage.Backend
	blobs    BlobStore
	recorder Recorder
	logger   *logging.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// Option 管理器选项
type Option func(*Manager)

// WithBlobStore 启用大状态卸载
func WithBlobStore(b BlobStore) Option {
	return func(m *Manager) { m.blobs = b }
}

// WithRecorder 设置事件观察者
func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithLogger 设置日志器
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New 创建快照管理器
func New(cfg *Config, backend storage.Backend, opts ...Option) (*Manager, error) {
	if backend == nil {
		return nil, errors.New("snapshot: nil storage backend")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:      *cfg,
		backend:  backend,
		recorder: nopRecorder{},
		tracer:   otel.Tracer("analytics-orchestrator/snapshot"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.Default("snapshot")
	}
	return m, nil
}

// Save 保存新版本，返回 snapshot_id
//
// 每次调用都追加新版本，从不覆盖。
func (m *Manager) Save(ctx context.Context, workflowID string, state []byte, metadata map[string]string) (string, error) {
	if workflowID == "" {
		return "", model.NewError(model.CodeInvalidRequest, "workflow id is required").WithStage(model.StageSnapshot)
	}

	ctx, span := m.tracer.Start(ctx, "snapshot.save", trace.WithAttributes(
		attribute.String("workflow_id", workflowID),
		attribute.Int("size", len(state)),
	))
	defer span.End()

	rec := record{
		WorkflowSnapshot: model.WorkflowSnapshot{
			SnapshotID: uuid.NewString(),
			WorkflowID: workflowID,
			Metadata:   copyMetadata(metadata),
			CreatedAt:  m.now(),
		},
		Size: len(state),
	}

	outcome := OutcomeStored
	if m.shouldOffload(len(state)) {
		key := blobKey(workflowID, rec.SnapshotID)
		if err := m.blobs.Put(ctx, key, state); err != nil {
			return "", m.saveFailed(span, persistenceError(err, "offload snapshot state of %s", workflowID))
		}
		rec.BlobRef = key
		outcome = OutcomeOffloaded
	} else {
		rec.StateBlob = append([]byte(nil), state...)
	}

	version, err := m.append(ctx, rec)
	if err != nil {
		return "", m.saveFailed(span, err)
	}

	span.SetAttributes(attribute.Int64("version", version), attribute.Bool("offloaded", rec.BlobRef != ""))
	m.recorder.SnapshotSaved(outcome)
	m.logger.WithContext(ctx).WithWorkflowID(workflowID).Debug("[snapshot.saved]",
		"snapshot_id", rec.SnapshotID, "version", version, "size", rec.Size, "offloaded", rec.BlobRef != "")
	return rec.SnapshotID, nil
}

// Load 读取指定版本（LatestVersion 表示最新），外部存储的状态会被透明取回
func (m *Manager) Load(ctx context.Context, workflowID string, version int64) (*model.WorkflowSnapshot, error) {
	rec, err := m.find(ctx, workflowID, version)
	if err != nil {
		return nil, err
	}
	snap := rec.WorkflowSnapshot
	if snap.BlobRef != "" {
		if m.blobs == nil {
			return nil, model.NewError(model.CodePersistence,
				"snapshot %s of %s is offloaded but no blob store is configured", snap.SnapshotID, workflowID).
				WithStage(model.StageSnapshot)
		}
		data, err := m.blobs.Get(ctx, snap.BlobRef)
		if err != nil {
			return nil, persistenceError(err, "load snapshot state %s", snap.BlobRef)
		}
		snap.StateBlob = data
	}
	return &snap, nil
}

// Rollback 追加一个复制 toVersion 状态的新版本，返回新 snapshot_id
//
// 外部存储的状态直接复用原对象 key；对象不可变，无需复制。
func (m *Manager) Rollback(ctx context.Context, workflowID string, toVersion int64) (string, error) {
	if toVersion < 1 {
		return "", model.NewError(model.CodeNotFound, "version %d of workflow %s not found", toVersion, workflowID).
			WithStage(model.StageSnapshot)
	}
	target, err := m.find(ctx, workflowID, toVersion)
	if err != nil {
		return "", err
	}

	metadata := copyMetadata(target.Metadata)
	if metadata == nil {
		metadata = make(map[string]string, 1)
	}
	metadata[model.MetaRolledBackFrom] = strconv.FormatInt(toVersion, 10)

	rec := record{
		WorkflowSnapshot: model.WorkflowSnapshot{
			SnapshotID: uuid.NewString(),
			WorkflowID: workflowID,
			StateBlob:  target.StateBlob,
			BlobRef:    target.BlobRef,
			Metadata:   metadata,
			CreatedAt:  m.now(),
		},
		Size: target.Size,
	}
	version, err := m.append(ctx, rec)
	if err != nil {
		m.recorder.SnapshotSaved(OutcomeError)
		return "", err
	}
	m.recorder.SnapshotSaved(OutcomeRollback)
	m.logger.WithContext(ctx).WithWorkflowID(workflowID).Info("[snapshot.rolled_back]",
		"to_version", toVersion, "version", version, "snapshot_id", rec.SnapshotID)
	return rec.SnapshotID, nil
}

// ListVersions 按版本号升序列出全部版本
func (m *Manager) ListVersions(ctx context.Context, workflowID string) ([]model.SnapshotVersion, error) {
	records, err := m.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, model.NewError(model.CodeNotFound, "workflow %s not found", workflowID).WithStage(model.StageSnapshot)
	}
	out := make([]model.SnapshotVersion, len(records))
	for i, r := range records {
		out[i] = model.SnapshotVersion{
			Version:    r.Version,
			SnapshotID: r.SnapshotID,
			Size:       r.Size,
			Offloaded:  r.BlobRef != "",
			Metadata:   r.Metadata,
			CreatedAt:  r.CreatedAt,
		}
	}
	return out, nil
}

// ============================================================================
// 存储读写
// ============================================================================

func (m *Manager) shouldOffload(size int) bool {
	return m.blobs != nil && m.cfg.OffloadThreshold > 0 && size > m.cfg.OffloadThreshold
}

func (m *Manager) append(ctx context.Context, rec record) (int64, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}
	version, err := m.backend.Append(ctx, storage.SnapshotsKey(rec.WorkflowID), data)
	if err != nil {
		return 0, persistenceError(err, "append snapshot of %s", rec.WorkflowID)
	}
	return version, nil
}

func (m *Manager) load(ctx context.Context, workflowID string) ([]record, error) {
	raw, err := m.backend.Range(ctx, storage.SnapshotsKey(workflowID))
	if err != nil {
		return nil, persistenceError(err, "load snapshots of %s", workflowID)
	}
	out := make([]record, len(raw))
	for i, data := range raw {
		if err := json.Unmarshal(data, &out[i]); err != nil {
			return nil, persistenceError(err, "decode snapshot %d of %s", i+1, workflowID)
		}
		out[i].Version = int64(i + 1)
	}
	return out, nil
}

func (m *Manager) find(ctx context.Context, workflowID string, version int64) (*record, error) {
	records, err := m.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, model.NewError(model.CodeNotFound, "workflow %s not found", workflowID).WithStage(model.StageSnapshot)
	}
	if version == LatestVersion {
		return &records[len(records)-1], nil
	}
	if version < 1 || version > int64(len(records)) {
		return nil, model.NewError(model.CodeNotFound, "version %d of workflow %s not found", version, workflowID).
			WithStage(model.StageSnapshot)
	}
	return &records[version-1], nil
}

func (m *Manager) saveFailed(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	m.recorder.SnapshotSaved(OutcomeError)
	return err
}

func blobKey(workflowID, snapshotID string) string {
	return path.Join("snapshots", url.PathEscape(workflowID), snapshotID)
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func persistenceError(err error, format string, args ...any) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, storage.ErrNotFound) {
		return model.WrapError(model.CodeNotFound, err, format, args...).WithStage(model.StageSnapshot)
	}
	return model.WrapError(model.CodePersistence, err, format, args...).WithStage(model.StageSnapshot)
}
