package server

import (
	"net/http"
)

// ListCircuits 熔断器状态
//
// 路由: GET /api/v1/circuits
func (h *Handler) ListCircuits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"circuits": h.circuits.States()})
}

// ListWorkers 已注册的 Worker
//
// 路由: GET /api/v1/workers
func (h *Handler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"workers": h.workers.List()})
}
