package server

import (
	"net/http"

	"analytics-orchestrator/internal/apiserver/auth"
	"analytics-orchestrator/internal/shared/model"
)

// submitBody 请求体；调用方等级来自认证层，不接受客户端声明
type submitBody struct {
	RequestID      string            `json:"request_id"`
	UserID         string            `json:"user_id"`
	RawText        string            `json:"raw_text"`
	DeclaredIntent string            `json:"declared_intent"`
	Parameters     map[string]string `json:"parameters"`
	RoleHint       string            `json:"role_hint"`
}

// SubmitRequest 提交分析请求
//
// 路由: POST /api/v1/requests
//
// success/degraded 返回 200，failed 按错误码映射 HTTP 状态，响应体总是完整的 Response。
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var body submitBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeModelError(w, model.NewError(model.CodeInvalidRequest, "invalid request body: %v", err).
			WithStage(model.StageValidate))
		return
	}

	req := &model.Request{
		RequestID:      body.RequestID,
		UserID:         body.UserID,
		RawText:        body.RawText,
		DeclaredIntent: body.DeclaredIntent,
		Parameters:     body.Parameters,
		RoleHint:       body.RoleHint,
		CallerTier:     h.auth.DefaultTier,
	}
	if caller := auth.CallerFrom(r.Context()); caller != nil {
		req.CallerTier = caller.Tier
		if req.UserID == "" {
			req.UserID = caller.ID
		}
	}

	resp, err := h.router.Submit(r.Context(), req)
	status := http.StatusOK
	if err != nil {
		status = httpStatus(model.CodeOf(err))
	}
	writeJSON(w, status, resp)
}
