package model

import (
	"errors"
	"fmt"
)

// ErrorCode 稳定错误码（对外可见）
type ErrorCode string

const (
	CodeInvalidRequest     ErrorCode = "INVALID_REQUEST"
	CodeNoEligibleWorker   ErrorCode = "NO_ELIGIBLE_WORKER"
	CodeWorkerConstruction ErrorCode = "WORKER_CONSTRUCTION_FAILED"
	CodeCircuitOpen        ErrorCode = "CIRCUIT_OPEN"
	CodeDeadlineExceeded   ErrorCode = "DEADLINE_EXCEEDED"
	CodeTransient          ErrorCode = "TRANSIENT_FAILURE"
	CodePermanent          ErrorCode = "PERMANENT_FAILURE"
	CodeFallbackExhausted  ErrorCode = "FALLBACK_EXHAUSTED"
	CodePersistence        ErrorCode = "PERSISTENCE_ERROR"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeInternal           ErrorCode = "INTERNAL"
)

// 失败阶段
const (
	StageValidate   = "validate"
	StageAdmit      = "admit"
	StageResolve    = "resolve"
	StageConstruct  = "construct"
	StagePrimary    = "primary"
	StageFallback   = "fallback"
	StagePayload    = "payload"
	StageCheckpoint = "checkpoint"
	StageSnapshot   = "snapshot"
)

// 用于 errors.Is 的错误码哨兵
var (
	ErrNoEligibleWorker   = &Error{Code: CodeNoEligibleWorker}
	ErrWorkerConstruction = &Error{Code: CodeWorkerConstruction}
	ErrCircuitOpen        = &Error{Code: CodeCircuitOpen}
	ErrDeadlineExceeded   = &Error{Code: CodeDeadlineExceeded}
	ErrFallbackExhausted  = &Error{Code: CodeFallbackExhausted}
	ErrPersistence        = &Error{Code: CodePersistence}
	ErrNotFound           = &Error{Code: CodeNotFound}
)

// Error 带错误码、阶段和依赖名的结构化错误
type Error struct {
	Code       ErrorCode
	Stage      string
	Dependency string
	Message    string
	Err        error
}

// NewError 创建错误
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError 包装底层错误
func WrapError(code ErrorCode, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithStage 设置失败阶段
func (e *Error) WithStage(stage string) *Error {
	e.Stage = stage
	return e
}

// WithDependency 设置依赖名
func (e *Error) WithDependency(dep string) *Error {
	e.Dependency = dep
	return e
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Stage != "" {
		msg += " [" + e.Stage + "]"
	}
	if e.Dependency != "" {
		msg += " dependency=" + e.Dependency
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 按错误码匹配
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Body 转换为响应体
func (e *Error) Body() *ErrorBody {
	b := &ErrorBody{Code: e.Code, Stage: e.Stage, Dependency: e.Dependency, Message: e.Message}
	if e.Err != nil {
		if b.Message == "" {
			b.Message = e.Err.Error()
		} else {
			b.Message += ": " + e.Err.Error()
		}
	}
	return b
}

// ErrorBody 响应中的错误信息
type ErrorBody struct {
	Code       ErrorCode `json:"code"`
	Stage      string    `json:"stage,omitempty"`
	Dependency string    `json:"dependency,omitempty"`
	Message    string    `json:"message"`
}

// CodeOf 提取错误码，非结构化错误返回 CodeInternal
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// AsError 转换为结构化错误
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return WrapError(CodeInternal, err, "")
}
