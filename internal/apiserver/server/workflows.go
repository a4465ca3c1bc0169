package server

import (
	"net/http"
	"strconv"
	"strings"

	"analytics-orchestrator/internal/shared/model"
)

// ListSnapshots 列出工作流的快照版本
//
// 路由: GET /api/v1/workflows/{id}/snapshots
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	versions, err := h.snapshots.ListVersions(r.Context(), id)
	if err != nil {
		writeModelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workflow_id": id,
		"versions":    versions,
	})
}

// GetSnapshot 读取指定版本
//
// 路由: GET /api/v1/workflows/{id}/snapshots/{version}
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	version, ok := parseVersion(r.PathValue("version"))
	if !ok {
		writeError(w, http.StatusBadRequest, "version must be a positive integer or 'latest'")
		return
	}
	snap, err := h.snapshots.Load(r.Context(), r.PathValue("id"), version)
	if err != nil {
		writeModelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type rollbackBody struct {
	Version int64 `json:"version"`
}

// Rollback 回滚到指定版本，生成新的快照
//
// 路由: POST /api/v1/workflows/{id}/rollback
func (h *Handler) Rollback(w http.ResponseWriter, r *http.Request) {
	var body rollbackBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	id := r.PathValue("id")
	snapshotID, err := h.snapshots.Rollback(r.Context(), id, body.Version)
	if err != nil {
		writeModelError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"workflow_id":           id,
		"snapshot_id":           snapshotID,
		model.MetaRolledBackFrom: body.Version,
	})
}

// parseVersion "latest" → LatestVersion(0)，其余必须为正整数
func parseVersion(s string) (int64, bool) {
	if strings.EqualFold(s, "latest") {
		return 0, true
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 1 {
		return 0, false
	}
	return v, true
}
