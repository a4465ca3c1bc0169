package server

import (
	"context"
	"net/http"

	"analytics-orchestrator/internal/apiserver/auth"
	"analytics-orchestrator/internal/observability"
	"analytics-orchestrator/internal/shared/model"
	"analytics-orchestrator/pkg/logging"
)

// Submitter 请求提交（由 router.Router 实现）
type Submitter interface {
	Submit(ctx context.Context, req *model.Request) (*model.Response, error)
}

// Snapshots 工作流快照（由 snapshot.Manager 实现）
type Snapshots interface {
	Load(ctx context.Context, workflowID string, version int64) (*model.WorkflowSnapshot, error)
	Rollback(ctx context.Context, workflowID string, toVersion int64) (string, error)
	ListVersions(ctx context.Context, workflowID string) ([]model.SnapshotVersion, error)
}

// CircuitInspector 熔断器状态（由 resilience.Executor 实现）
type CircuitInspector interface {
	States() []model.CircuitState
}

// WorkerLister 已注册的 Worker（由 registry.Registry 实现）
type WorkerLister interface {
	List() []model.WorkerDescriptor
}

// Handler API 处理器
type Handler struct {
	router    Submitter
	snapshots Snapshots
	circuits  CircuitInspector
	workers   WorkerLister
	metrics   *observability.Metrics
	auth      auth.Config
	logger    *logging.Logger
}

// Deps Handler 依赖
type Deps struct {
	Router    Submitter
	Snapshots Snapshots
	Circuits  CircuitInspector
	Workers   WorkerLister
	Metrics   *observability.Metrics
	Auth      auth.Config
	Logger    *logging.Logger
}

// NewHandler 创建 Handler 实例
func NewHandler(d Deps) *Handler {
	h := &Handler{
		router:    d.Router,
		snapshots: d.Snapshots,
		circuits:  d.Circuits,
		workers:   d.Workers,
		metrics:   d.Metrics,
		auth:      d.Auth,
		logger:    d.Logger,
	}
	if h.metrics == nil {
		h.metrics = observability.NewMetrics("orchestrator")
	}
	if h.logger == nil {
		h.logger = logging.Default("apiserver")
	}
	return h
}

// Router 返回配置好的 HTTP 路由
//
// 健康检查与指标:
//   - GET  /health
//   - GET  /metrics
//
// 请求:
//   - POST /api/v1/requests                             - 提交分析请求
//
// 工作流快照:
//   - GET  /api/v1/workflows/{id}/snapshots             - 列出版本
//   - GET  /api/v1/workflows/{id}/snapshots/{version}   - 读取指定版本（latest 表示最新）
//   - POST /api/v1/workflows/{id}/rollback              - 回滚到指定版本
//
// 运行状态:
//   - GET  /api/v1/circuits                             - 熔断器状态
//   - GET  /api/v1/workers                              - 已注册的 Worker
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", h.metrics.Handler())

	mux.HandleFunc("POST /api/v1/requests", h.SubmitRequest)

	mux.HandleFunc("GET /api/v1/workflows/{id}/snapshots", h.ListSnapshots)
	mux.HandleFunc("GET /api/v1/workflows/{id}/snapshots/{version}", h.GetSnapshot)
	mux.HandleFunc("POST /api/v1/workflows/{id}/rollback", h.Rollback)

	mux.HandleFunc("GET /api/v1/circuits", h.ListCircuits)
	mux.HandleFunc("GET /api/v1/workers", h.ListWorkers)

	api := h.metrics.MetricsMiddleware(mux)
	authed := auth.Middleware(h.auth, h.logger.Named("auth"))(api)
	return corsMiddleware(accessLog(h.logger, authed))
}

// Health 健康检查接口
//
// 路由: GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
