package resilience

import (
	"context"
	"errors"

	"github.com/containerd/errdefs"
	"github.com/sony/gobreaker/v2"

	"analytics-orchestrator/internal/shared/model"
)

// Class 错误分类
type Class int

const (
	ClassPermanent Class = iota
	ClassTransient
	ClassCircuitOpen
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassCircuitOpen:
		return "circuit_open"
	default:
		return "permanent"
	}
}

// Classify 判断错误类别
//
// Worker 通过包装 errdefs 哨兵声明错误类别；未分类的错误一律视为永久错误。
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassPermanent
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests),
		errors.Is(err, model.ErrCircuitOpen):
		return ClassCircuitOpen
	case errdefs.IsUnavailable(err),
		errdefs.IsDeadlineExceeded(err),
		errdefs.IsResourceExhausted(err),
		errdefs.IsAborted(err),
		errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	default:
		return ClassPermanent
	}
}

// IsTransient 是否可重试
func IsTransient(err error) bool {
	return Classify(err) == ClassTransient
}

// isCallerFault 调用方自身的问题，不计入依赖的失败次数
func isCallerFault(err error) bool {
	return errdefs.IsInvalidArgument(err) || errors.Is(err, context.Canceled)
}

// codeFor 把依赖错误映射为对外错误码
func codeFor(err error) model.ErrorCode {
	switch Classify(err) {
	case ClassCircuitOpen:
		return model.CodeCircuitOpen
	case ClassTransient:
		return model.CodeTransient
	default:
		return model.CodePermanent
	}
}
