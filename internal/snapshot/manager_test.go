package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analytics-orchestrator/internal/shared/model"
	"analytics-orchestrator/internal/shared/storage"
	"analytics-orchestrator/internal/shared/storage/memstore"
	"analytics-orchestrator/pkg/logging"
)

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    bool
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: make(map[string][]byte)} }

func (b *memBlobs) Put(_ context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errors.New("bucket unreachable")
	}
	b.objects[key] = append([]byte(nil), data...)
	return nil
}

func (b *memBlobs) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

type brokenBackend struct{ storage.Backend }

func (brokenBackend) Append(context.Context, string, []byte) (int64, error) {
	return 0, errors.New("connection reset")
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (r *countingRecorder) SnapshotSaved(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = make(map[string]int)
	}
	r.outcomes[outcome]++
}

func newTestManager(t *testing.T, cfg *Config, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Nop())}, opts...)
	m, err := New(cfg, memstore.New(), opts...)
	require.NoError(t, err)
	return m
}

func TestSaveLoad(t *testing.T) {
	fixed := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	m := newTestManager(t, nil, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	id1, err := m.Save(ctx, "wf-1", []byte("step one"), map[string]string{"workflow_step": "1"})
	require.NoError(t, err)
	id2, err := m.Save(ctx, "wf-1", []byte("step two"), nil)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	latest, err := m.Load(ctx, "wf-1", LatestVersion)
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest.Version)
	assert.Equal(t, id2, latest.SnapshotID)
	assert.Equal(t, []byte("step two"), latest.StateBlob)
	assert.Equal(t, fixed, latest.CreatedAt)

	first, err := m.Load(ctx, "wf-1", 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("step one"), first.StateBlob)
	assert.Equal(t, "1", first.Metadata["workflow_step"])
}

func TestSave_CopiesInput(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	state := []byte("original")
	meta := map[string]string{"k": "v"}
	_, err := m.Save(ctx, "wf", state, meta)
	require.NoError(t, err)
	state[0] = 'X'
	meta["k"] = "changed"

	snap, err := m.Load(ctx, "wf", LatestVersion)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), snap.StateBlob)
	assert.Equal(t, "v", snap.Metadata["k"])
}

func TestLoad_NotFound(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	_, err := m.Load(ctx, "missing", LatestVersion)
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = m.Save(ctx, "wf", []byte("a"), nil)
	require.NoError(t, err)
	for _, v := range []int64{-1, 2, 99} {
		_, err = m.Load(ctx, "wf", v)
		assert.ErrorIs(t, err, model.ErrNotFound, "version %d", v)
	}

	_, err = m.ListVersions(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRollback_AppendOnly(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := m.Save(ctx, "wf", []byte(fmt.Sprintf("state-%d", i)), map[string]string{"step": fmt.Sprint(i)})
		require.NoError(t, err)
	}
	before, err := m.ListVersions(ctx, "wf")
	require.NoError(t, err)
	require.Len(t, before, 3)

	id, err := m.Rollback(ctx, "wf", 1)
	require.NoError(t, err)

	after, err := m.ListVersions(ctx, "wf")
	require.NoError(t, err)
	require.Len(t, after, 4)
	assert.Equal(t, before, after[:3], "existing versions are unchanged")
	assert.Equal(t, int64(4), after[3].Version)
	assert.Equal(t, id, after[3].SnapshotID)
	assert.Equal(t, "1", after[3].Metadata[model.MetaRolledBackFrom])
	assert.Equal(t, "1", after[3].Metadata["step"])

	latest, err := m.Load(ctx, "wf", LatestVersion)
	require.NoError(t, err)
	assert.Equal(t, []byte("state-1"), latest.StateBlob)

	// 回滚后继续保存，版本号继续递增
	_, err = m.Save(ctx, "wf", []byte("state-5"), nil)
	require.NoError(t, err)
	snap, err := m.Load(ctx, "wf", LatestVersion)
	require.NoError(t, err)
	assert.Equal(t, int64(5), snap.Version)
}

func TestRollback_NotFound(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	_, err := m.Rollback(ctx, "missing", 1)
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = m.Save(ctx, "wf", []byte("a"), nil)
	require.NoError(t, err)
	_, err = m.Rollback(ctx, "wf", 0)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = m.Rollback(ctx, "wf", 7)
	assert.ErrorIs(t, err, model.ErrNotFound)

	versions, err := m.ListVersions(ctx, "wf")
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestSave_Offload(t *testing.T) {
	blobs := newMemBlobs()
	rec := &countingRecorder{}
	m := newTestManager(t, &Config{OffloadThreshold: 8}, WithBlobStore(blobs), WithRecorder(rec))
	ctx := context.Background()

	_, err := m.Save(ctx, "wf/a", []byte("small"), nil)
	require.NoError(t, err)
	_, err = m.Save(ctx, "wf/a", []byte("a much larger state"), nil)
	require.NoError(t, err)

	versions, err := m.ListVersions(ctx, "wf/a")
	require.NoError(t, err)
	assert.False(t, versions[0].Offloaded)
	assert.True(t, versions[1].Offloaded)
	assert.Equal(t, len("a much larger state"), versions[1].Size)
	assert.Len(t, blobs.objects, 1)

	snap, err := m.Load(ctx, "wf/a", 2)
	require.NoError(t, err)
	assert.Equal(t, []byte("a much larger state"), snap.StateBlob)
	assert.Contains(t, snap.BlobRef, "wf%2Fa")

	// 回滚复用同一对象
	_, err = m.Rollback(ctx, "wf/a", 2)
	require.NoError(t, err)
	assert.Len(t, blobs.objects, 1)
	rolled, err := m.Load(ctx, "wf/a", LatestVersion)
	require.NoError(t, err)
	assert.Equal(t, snap.BlobRef, rolled.BlobRef)
	assert.Equal(t, snap.StateBlob, rolled.StateBlob)

	assert.Equal(t, map[string]int{OutcomeStored: 1, OutcomeOffloaded: 1, OutcomeRollback: 1}, rec.outcomes)
}

func TestSave_OffloadFailure(t *testing.T) {
	blobs := newMemBlobs()
	blobs.fail = true
	m := newTestManager(t, &Config{OffloadThreshold: 4}, WithBlobStore(blobs))

	_, err := m.Save(context.Background(), "wf", []byte("too large for inline"), nil)
	assert.ErrorIs(t, err, model.ErrPersistence)
	assert.Equal(t, model.StageSnapshot, model.AsError(err).Stage)
}

func TestLoad_OffloadedWithoutBlobStore(t *testing.T) {
	backend := memstore.New()
	ctx := context.Background()
	writer, err := New(&Config{OffloadThreshold: 4}, backend, WithBlobStore(newMemBlobs()), WithLogger(logging.Nop()))
	require.NoError(t, err)
	_, err = writer.Save(ctx, "wf", []byte("offloaded state"), nil)
	require.NoError(t, err)

	reader, err := New(nil, backend, WithLogger(logging.Nop()))
	require.NoError(t, err)
	_, err = reader.Load(ctx, "wf", LatestVersion)
	assert.ErrorIs(t, err, model.ErrPersistence)
}

func TestSave_PersistenceError(t *testing.T) {
	rec := &countingRecorder{}
	m, err := New(nil, brokenBackend{memstore.New()}, WithLogger(logging.Nop()), WithRecorder(rec))
	require.NoError(t, err)

	_, err = m.Save(context.Background(), "wf", []byte("x"), nil)
	assert.ErrorIs(t, err, model.ErrPersistence)
	assert.Equal(t, 1, rec.outcomes[OutcomeError])
}

func TestSave_Validation(t *testing.T) {
	m := newTestManager(t, nil)
	_, err := m.Save(context.Background(), "", []byte("x"), nil)
	assert.Equal(t, model.CodeInvalidRequest, model.CodeOf(err))
}

func TestSave_ConcurrentVersionsUnique(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Save(ctx, "wf", []byte(fmt.Sprint(i)), nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	versions, err := m.ListVersions(ctx, "wf")
	require.NoError(t, err)
	require.Len(t, versions, 50)
	ids := map[string]bool{}
	for i, v := range versions {
		assert.Equal(t, int64(i+1), v.Version)
		ids[v.SnapshotID] = true
	}
	assert.Len(t, ids, 50)
}

func TestConfig_Validate(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultOffloadThreshold, cfg.OffloadThreshold)

	assert.Error(t, (&Config{Bucket: "ab"}).Validate())
}
