package workers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analytics-orchestrator/internal/registry"
	"analytics-orchestrator/internal/resilience"
	"analytics-orchestrator/internal/shared/model"
	"analytics-orchestrator/pkg/logging"
)

func newRemote(t *testing.T, url string, mutate ...func(*Spec)) model.Worker {
	t.Helper()
	spec := Spec{Name: "remote-predictor", URL: url, Capabilities: []string{"predict"}, Tier: "read-execute"}
	for _, m := range mutate {
		m(&spec)
	}
	desc, err := spec.Descriptor(nil)
	require.NoError(t, err)
	w, err := desc.Constructor(model.ConstructionArgs{})
	require.NoError(t, err)
	return w
}

func TestRemote_Invoke(t *testing.T) {
	var got invokeRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		auth = r.Header.Get("X-Api-Key")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"output":{"home_win":0.55},"digest":"home 55%"}`))
	}))
	t.Cleanup(srv.Close)

	w := newRemote(t, srv.URL, func(s *Spec) { s.Headers = map[string]string{"X-Api-Key": "k1"} })
	assert.Equal(t, model.TierReadExecute, w.PermissionTier())

	payload := model.EmptyPayload("s1", model.RoleAnalyst, 100)
	res, err := w.Invoke(context.Background(), payload, map[string]string{"match": "ars-che"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"home_win":0.55}`, string(res.Output))
	assert.Equal(t, "home 55%", res.Digest)
	assert.Equal(t, "k1", auth)
	assert.Equal(t, "ars-che", got.Parameters["match"])
	require.NotNil(t, got.Payload)
	assert.Equal(t, "s1", got.Payload.SessionID)
}

func TestRemote_BareBodyIsOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[1,2,3]`))
	}))
	t.Cleanup(srv.Close)

	res, err := newRemote(t, srv.URL).Invoke(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2,3]`, string(res.Output))
}

func TestRemote_ErrorClasses(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{"5xx 可重试", http.StatusBadGateway, "upstream down", true},
		{"429 可重试", http.StatusTooManyRequests, "slow down", true},
		{"4xx 不重试", http.StatusBadRequest, "bad match id", false},
		{"非 JSON 响应", http.StatusOK, "<html>", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			t.Cleanup(srv.Close)

			_, err := newRemote(t, srv.URL).Invoke(context.Background(), nil, nil)
			require.Error(t, err)
			assert.Equal(t, tt.transient, resilience.IsTransient(err))
			if tt.status == http.StatusBadRequest {
				assert.True(t, errdefs.IsInvalidArgument(err))
				assert.Contains(t, err.Error(), "bad match id")
			}
		})
	}
}

func TestRemote_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newRemote(t, url).Invoke(context.Background(), nil, nil)
	require.Error(t, err)
	assert.True(t, errdefs.IsUnavailable(err))
}

func TestRemote_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	w := newRemote(t, srv.URL, func(s *Spec) { s.Timeout = 20 * time.Millisecond })
	_, err := w.Invoke(context.Background(), nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, resilience.IsTransient(err))
}

func TestRemote_RetriedThroughExecutor(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"output":"ok"}`))
	}))
	t.Cleanup(srv.Close)

	ex := resilience.NewExecutor(&resilience.Config{
		Policy: resilience.Policy{
			FailureThreshold: 5,
			SuccessThreshold: 1,
			Cooldown:         time.Second,
			MaxRetries:       3,
			InitialBackoff:   time.Millisecond,
			MaxBackoff:       5 * time.Millisecond,
			Multiplier:       2,
		},
	}, resilience.WithLogger(logging.Nop()))

	w := newRemote(t, srv.URL)
	res, err := resilience.Execute(context.Background(), ex, resilience.Call[*model.WorkerResult]{
		Dependency: "remote-predictor",
		Operation: func(ctx context.Context) (*model.WorkerResult, error) {
			return w.Invoke(ctx, nil, nil)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.JSONEq(t, `"ok"`, string(res.Value.Output))
}

func TestSpec_Validate(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{"合法", Spec{Name: "a", URL: "http://localhost:9000/run", Capabilities: []string{"x"}}, false},
		{"缺少名称", Spec{URL: "http://h/run", Capabilities: []string{"x"}}, true},
		{"相对 URL", Spec{Name: "a", URL: "/run", Capabilities: []string{"x"}}, true},
		{"非 http 协议", Spec{Name: "a", URL: "ftp://h/run", Capabilities: []string{"x"}}, true},
		{"缺少能力", Spec{Name: "a", URL: "http://h/run"}, true},
		{"未知等级", Spec{Name: "a", URL: "http://h/run", Capabilities: []string{"x"}, Tier: "root"}, true},
		{"负超时", Spec{Name: "a", URL: "http://h/run", Capabilities: []string{"x"}, Timeout: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "read-only", tt.spec.Tier)
		})
	}
}

func TestRegister(t *testing.T) {
	reg := registry.New(logging.Nop())
	specs := []Spec{
		{Name: "a", URL: "http://h/a", Capabilities: []string{"predict"}, Priority: 1},
		{Name: "b", URL: "http://h/b", Capabilities: []string{"predict"}, Tier: "admin"},
	}
	require.NoError(t, Register(reg, specs, nil))
	assert.Equal(t, 2, reg.Len())

	// 管理员等级的 Worker 对只读调用方不可见
	eligible := reg.Eligible("predict", model.TierReadOnly)
	require.Len(t, eligible, 1)
	assert.Equal(t, "a", eligible[0].TypeName)

	err := Register(reg, []Spec{{Name: "bad"}}, nil)
	assert.ErrorContains(t, err, "workers[0]")
}

func TestEcho(t *testing.T) {
	desc := EchoDescriptor()
	require.NoError(t, desc.Validate())

	w, err := desc.Constructor(model.ConstructionArgs{})
	require.NoError(t, err)
	payload := &model.Payload{SessionID: "s1", Role: model.RoleLearner, TurnCount: 4,
		Entries: []model.Entry{model.TurnEntry(model.Turn{TurnID: 4})}}

	res, err := w.Invoke(context.Background(), payload, map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"parameters":{"k":"v"},"session_id":"s1","role":"learner","context_entries":1,"turn_count":4,"context_degraded":false}`,
		string(res.Output))
	assert.Equal(t, "echo: 1 context entries", res.Digest)

	reg := registry.New(logging.Nop())
	require.NoError(t, reg.Register(desc))
	assert.Len(t, reg.Eligible(model.DefaultCategory, model.TierReadOnly), 1)
}
