// Package observability Prometheus 指标与 OpenTelemetry 追踪
//
// Metrics 同时实现各组件的 Recorder 接口，组件只依赖自己声明的小接口。
package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"analytics-orchestrator/internal/shared/model"
)

// DefaultNamespace 默认指标命名空间
const DefaultNamespace = "orchestrator"

// Metrics 编排服务指标
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// 路由指标
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	WorkerInvocations *prometheus.CounterVec

	// 弹性层指标
	RetriesTotal       *prometheus.CounterVec
	FallbacksTotal     *prometheus.CounterVec
	CallsTotal         *prometheus.CounterVec
	CircuitState       *prometheus.GaugeVec
	CircuitTransitions *prometheus.CounterVec

	// 上下文指标
	PayloadBuilds    *prometheus.CounterVec
	SummariesCreated *prometheus.CounterVec

	// 快照指标
	SnapshotSaves *prometheus.CounterVec
}

// NewMetrics 在独立的 Registry 上创建指标实例
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total orchestrated requests by status and intent",
			},
			[]string{"status", "intent"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "End-to-end Submit duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"intent"},
		),
		WorkerInvocations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_invocations_total",
				Help:      "Worker invocations by worker and outcome",
			},
			[]string{"worker", "outcome"},
		),
		RetriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Retries of transient failures by dependency",
			},
			[]string{"dependency"},
		),
		FallbacksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallbacks_total",
				Help:      "Fallback attempts by dependency, fallback and result",
			},
			[]string{"dependency", "fallback", "result"},
		),
		CallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "protected_calls_total",
				Help:      "Protected primary calls by dependency and outcome",
			},
			[]string{"dependency", "outcome"},
		),
		CircuitState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Circuit breaker state per dependency (0=closed, 1=half-open, 2=open)",
			},
			[]string{"dependency"},
		),
		CircuitTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_transitions_total",
				Help:      "Circuit breaker transitions",
			},
			[]string{"dependency", "from", "to"},
		),
		PayloadBuilds: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payload_builds_total",
				Help:      "Context payload builds by outcome",
			},
			[]string{"outcome"},
		),
		SummariesCreated: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "summaries_created_total",
				Help:      "Summaries created during compaction by role",
			},
			[]string{"role"},
		),
		SnapshotSaves: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshot_saves_total",
				Help:      "Snapshot writes by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Registry 返回底层 Registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 /metrics Handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ============================================================================
// 组件 Recorder 实现
// ============================================================================

// RequestCompleted 记录一次 Submit
func (m *Metrics) RequestCompleted(intent string, status model.Status, d time.Duration) {
	m.RequestsTotal.WithLabelValues(string(status), intent).Inc()
	m.RequestDuration.WithLabelValues(intent).Observe(d.Seconds())
}

// WorkerInvoked 记录 Worker 调用结果
func (m *Metrics) WorkerInvoked(worker, outcome string) {
	m.WorkerInvocations.WithLabelValues(worker, outcome).Inc()
}

// CircuitTransition 记录熔断器状态变化
func (m *Metrics) CircuitTransition(dependency string, from, to model.CircuitStatus) {
	m.CircuitTransitions.WithLabelValues(dependency, string(from), string(to)).Inc()
	m.CircuitState.WithLabelValues(dependency).Set(circuitValue(to))
}

// RetryAttempt 记录一次重试
func (m *Metrics) RetryAttempt(dependency string) {
	m.RetriesTotal.WithLabelValues(dependency).Inc()
}

// CallOutcome 记录主调用结果
func (m *Metrics) CallOutcome(dependency, outcome string) {
	m.CallsTotal.WithLabelValues(dependency, outcome).Inc()
}

// FallbackOutcome 记录降级调用结果
func (m *Metrics) FallbackOutcome(dependency, fallback string, ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	m.FallbacksTotal.WithLabelValues(dependency, fallback, result).Inc()
}

// PayloadBuilt 记录载荷构建结果
func (m *Metrics) PayloadBuilt(outcome string) {
	m.PayloadBuilds.WithLabelValues(outcome).Inc()
}

// SummaryCreated 记录新建摘要
func (m *Metrics) SummaryCreated(role model.Role) {
	m.SummariesCreated.WithLabelValues(string(role)).Inc()
}

// SnapshotSaved 记录快照写入结果
func (m *Metrics) SnapshotSaved(outcome string) {
	m.SnapshotSaves.WithLabelValues(outcome).Inc()
}

func circuitValue(s model.CircuitStatus) float64 {
	switch s {
	case model.CircuitHalfOpen:
		return 1
	case model.CircuitOpen:
		return 2
	}
	return 0
}

// ============================================================================
// HTTP 中间件
// ============================================================================

// MetricsMiddleware 创建 HTTP 指标中间件
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		// 包装 ResponseWriter 以捕获状态码
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := normalizePath(r.URL.Path)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// responseWriter 包装 http.ResponseWriter 以捕获状态码
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath 规范化路径，避免高基数
//
// /api/v1/workflows/wf-123/snapshots/4 -> /api/v1/workflows/{id}/snapshots/{version}
func normalizePath(path string) string {
	const prefix = "/api/v1/workflows/"
	if !strings.HasPrefix(path, prefix) {
		return path
	}
	parts := strings.Split(strings.TrimPrefix(path, prefix), "/")
	switch {
	case len(parts) >= 3 && parts[1] == "snapshots":
		return prefix + "{id}/snapshots/{version}"
	case len(parts) >= 2:
		return prefix + "{id}/" + parts[1]
	default:
		return prefix + "{id}"
	}
}
