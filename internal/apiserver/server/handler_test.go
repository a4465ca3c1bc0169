package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analytics-orchestrator/internal/apiserver/auth"
	"analytics-orchestrator/internal/observability"
	"analytics-orchestrator/internal/shared/model"
	"analytics-orchestrator/internal/shared/storage/memstore"
	"analytics-orchestrator/internal/snapshot"
	"analytics-orchestrator/pkg/logging"
)

type fakeSubmitter struct {
	got  *model.Request
	resp *model.Response
	err  error
}

func (f *fakeSubmitter) Submit(_ context.Context, req *model.Request) (*model.Response, error) {
	f.got = req
	if f.resp != nil {
		return f.resp, f.err
	}
	return &model.Response{RequestID: req.RequestID, Status: model.StatusSuccess}, nil
}

type fakeCircuits []model.CircuitState

func (f fakeCircuits) States() []model.CircuitState { return f }

type fakeWorkers []model.WorkerDescriptor

func (f fakeWorkers) List() []model.WorkerDescriptor { return f }

type testServer struct {
	handler   http.Handler
	submitter *fakeSubmitter
	snapshots *snapshot.Manager
}

func newTestServer(t *testing.T, authCfg auth.Config) *testServer {
	t.Helper()
	snaps, err := snapshot.New(snapshot.DefaultConfig(), memstore.New(), snapshot.WithLogger(logging.Nop()))
	require.NoError(t, err)
	sub := &fakeSubmitter{}
	h := NewHandler(Deps{
		Router:    sub,
		Snapshots: snaps,
		Circuits: fakeCircuits{
			{Dependency: "predictor", State: model.CircuitOpen, ConsecutiveFailures: 3},
		},
		Workers: fakeWorkers{
			{TypeName: "echo", Capabilities: []string{"echo"}, Tier: model.TierReadOnly},
		},
		Metrics: observability.NewMetrics("test"),
		Auth:    authCfg,
		Logger:  logging.Nop(),
	})
	return &testServer{handler: h.Router(), submitter: sub, snapshots: snaps}
}

func (s *testServer) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, auth.DefaultConfig())
	rec := s.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, auth.DefaultConfig())
	s.do(http.MethodGet, "/health", "")
	rec := s.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitRequest_TierFromAuth(t *testing.T) {
	cfg := auth.DefaultConfig()
	cfg.DefaultTier = model.TierReadExecute
	s := newTestServer(t, cfg)

	rec := s.do(http.MethodPost, "/api/v1/requests",
		`{"request_id":"r1","user_id":"u1","raw_text":"predict the odds","parameters":{"match":"m1"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	got := s.submitter.got
	require.NotNil(t, got)
	assert.Equal(t, "r1", got.RequestID)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, model.TierReadExecute, got.CallerTier)
	assert.Equal(t, "m1", got.Parameters["match"])
}

func TestSubmitRequest_CallerTierNotAccepted(t *testing.T) {
	s := newTestServer(t, auth.DefaultConfig())
	rec := s.do(http.MethodPost, "/api/v1/requests", `{"user_id":"u1","raw_text":"x","caller_tier":3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, s.submitter.got)

	var body map[string]model.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, model.CodeInvalidRequest, body["error"].Code)
}

func TestSubmitRequest_FailureStatus(t *testing.T) {
	tests := []struct {
		code   model.ErrorCode
		status int
	}{
		{model.CodeInvalidRequest, http.StatusBadRequest},
		{model.CodeNoEligibleWorker, http.StatusForbidden},
		{model.CodePermanent, http.StatusUnprocessableEntity},
		{model.CodeFallbackExhausted, http.StatusBadGateway},
		{model.CodeCircuitOpen, http.StatusServiceUnavailable},
		{model.CodeDeadlineExceeded, http.StatusGatewayTimeout},
		{model.CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			s := newTestServer(t, auth.DefaultConfig())
			err := model.NewError(tt.code, "boom")
			s.submitter.resp = &model.Response{RequestID: "r", Status: model.StatusFailed, Error: err.Body()}
			s.submitter.err = err

			rec := s.do(http.MethodPost, "/api/v1/requests", `{"user_id":"u1","raw_text":"x"}`)
			assert.Equal(t, tt.status, rec.Code)

			var resp model.Response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, model.StatusFailed, resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestSubmitRequest_DegradedIsOK(t *testing.T) {
	s := newTestServer(t, auth.DefaultConfig())
	s.submitter.resp = &model.Response{RequestID: "r", Status: model.StatusDegraded}
	rec := s.do(http.MethodPost, "/api/v1/requests", `{"user_id":"u1","raw_text":"x"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitRequest_AuthEnabled(t *testing.T) {
	cfg := auth.DefaultConfig()
	cfg.JWTSecret = "test-secret"
	s := newTestServer(t, cfg)

	rec := s.do(http.MethodPost, "/api/v1/requests", `{"raw_text":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, s.submitter.got)

	token, err := auth.GenerateAccessToken(cfg, "alice", model.TierAdministrative)
	require.NoError(t, err)
	rec = s.do(http.MethodPost, "/api/v1/requests", `{"raw_text":"x"}`, "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", s.submitter.got.UserID)
	assert.Equal(t, model.TierAdministrative, s.submitter.got.CallerTier)

	// 公开路由不需要令牌
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", "").Code)
}

func TestSnapshots(t *testing.T) {
	s := newTestServer(t, auth.DefaultConfig())
	ctx := context.Background()
	_, err := s.snapshots.Save(ctx, "wf-1", []byte(`{"step":1}`), nil)
	require.NoError(t, err)
	_, err = s.snapshots.Save(ctx, "wf-1", []byte(`{"step":2}`), nil)
	require.NoError(t, err)

	rec := s.do(http.MethodGet, "/api/v1/workflows/wf-1/snapshots", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		WorkflowID string                  `json:"workflow_id"`
		Versions   []model.SnapshotVersion `json:"versions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, "wf-1", list.WorkflowID)
	require.Len(t, list.Versions, 2)

	rec = s.do(http.MethodGet, "/api/v1/workflows/wf-1/snapshots/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap model.WorkflowSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(2), snap.Version)
	assert.JSONEq(t, `{"step":2}`, string(snap.StateBlob))

	rec = s.do(http.MethodGet, "/api/v1/workflows/wf-1/snapshots/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(1), snap.Version)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/v1/workflows/wf-1/snapshots/0", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/v1/workflows/wf-1/snapshots/abc", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/v1/workflows/wf-1/snapshots/9", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/v1/workflows/missing/snapshots", "").Code)
}

func TestRollback(t *testing.T) {
	s := newTestServer(t, auth.DefaultConfig())
	ctx := context.Background()
	_, err := s.snapshots.Save(ctx, "wf-1", []byte(`{"step":1}`), nil)
	require.NoError(t, err)
	_, err = s.snapshots.Save(ctx, "wf-1", []byte(`{"step":2}`), nil)
	require.NoError(t, err)

	rec := s.do(http.MethodPost, "/api/v1/workflows/wf-1/rollback", `{"version":1}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["snapshot_id"])
	assert.EqualValues(t, 1, body[model.MetaRolledBackFrom])

	latest, err := s.snapshots.Load(ctx, "wf-1", snapshot.LatestVersion)
	require.NoError(t, err)
	assert.Equal(t, int64(3), latest.Version)
	assert.JSONEq(t, `{"step":1}`, string(latest.StateBlob))

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/api/v1/workflows/wf-1/rollback", `{"version":7}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/v1/workflows/wf-1/rollback", `not json`).Code)
}

func TestStatusEndpoints(t *testing.T) {
	s := newTestServer(t, auth.DefaultConfig())

	rec := s.do(http.MethodGet, "/api/v1/circuits", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"predictor"`)
	assert.Contains(t, rec.Body.String(), `"open"`)

	rec = s.do(http.MethodGet, "/api/v1/workers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"echo"`)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, auth.DefaultConfig())
	rec := s.do(http.MethodOptions, "/api/v1/requests", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWriteModelError_Unstructured(t *testing.T) {
	rec := httptest.NewRecorder()
	writeModelError(rec, errors.New("disk full"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "disk full")
}
