// Package server HTTP 传输层
//
// 文件组织：
//   - handler.go: Handler 定义与路由
//   - requests.go: 请求提交接口
//   - workflows.go: 工作流快照接口
//   - status.go: 熔断器与 Worker 查询接口
//   - common.go: 通用工具函数
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"analytics-orchestrator/internal/shared/model"
	"analytics-orchestrator/pkg/logging"
)

// maxBodyBytes 请求体上限
const maxBodyBytes = 1 << 20

// writeJSON 将数据以 JSON 格式写入 HTTP 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError 将错误信息以 JSON 格式写入 HTTP 响应
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeModelError 按错误码选择 HTTP 状态并输出结构化错误
func writeModelError(w http.ResponseWriter, err error) {
	body := model.AsError(err).Body()
	writeJSON(w, httpStatus(body.Code), map[string]*model.ErrorBody{"error": body})
}

// httpStatus 错误码 → HTTP 状态
func httpStatus(code model.ErrorCode) int {
	switch code {
	case model.CodeInvalidRequest:
		return http.StatusBadRequest
	case model.CodeNoEligibleWorker:
		return http.StatusForbidden
	case model.CodeNotFound:
		return http.StatusNotFound
	case model.CodePermanent:
		return http.StatusUnprocessableEntity
	case model.CodeFallbackExhausted, model.CodeTransient:
		return http.StatusBadGateway
	case model.CodeCircuitOpen:
		return http.StatusServiceUnavailable
	case model.CodeDeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON 读取有限大小的 JSON 请求体
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// statusRecorder 捕获状态码用于访问日志
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// accessLog 访问日志中间件
func accessLog(logger *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.HTTPRequestLog(r.Method, r.URL.Path, rec.status, time.Since(start), r.RemoteAddr)
	})
}

// corsMiddleware 添加 CORS 头支持跨域请求
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
