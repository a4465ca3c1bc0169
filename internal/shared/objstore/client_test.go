package objstore

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analytics-orchestrator/internal/shared/storage"
	"analytics-orchestrator/pkg/logging"
)

func TestNewClient_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"缺少 endpoint", Config{AccessKey: "a", SecretKey: "s"}},
		{"缺少 access key", Config{Endpoint: "localhost:9000", SecretKey: "s"}},
		{"缺少 secret key", Config{Endpoint: "localhost:9000", AccessKey: "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.cfg, logging.Nop())
			assert.Error(t, err)
		})
	}
}

func TestNewClient_DefaultBucket(t *testing.T) {
	c, err := NewClient(Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s"}, logging.Nop())
	require.NoError(t, err)
	assert.Equal(t, DefaultBucket, c.Bucket())
	assert.NoError(t, c.Close())

	assert.False(t, Config{}.Enabled())
	assert.True(t, Config{Endpoint: "localhost:9000"}.Enabled())
}

// 需要真实 MinIO：MINIO_TEST_ENDPOINT / MINIO_TEST_ACCESS_KEY / MINIO_TEST_SECRET_KEY
func TestClient_RoundTrip(t *testing.T) {
	endpoint := os.Getenv("MINIO_TEST_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_TEST_ENDPOINT not set, skipping MinIO tests")
	}
	c, err := NewClient(Config{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("MINIO_TEST_ACCESS_KEY"),
		SecretKey: os.Getenv("MINIO_TEST_SECRET_KEY"),
		Bucket:    "orchestrator-test",
	}, logging.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.EnsureBucket(ctx))
	require.NoError(t, c.EnsureBucket(ctx))

	key := "snapshots/wf/" + uuid.NewString()
	ok, err := c.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, key, []byte(`{"step":1}`)))
	ok, err = c.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"step":1}`, string(data))

	_, err = c.Get(ctx, key+"-missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}
