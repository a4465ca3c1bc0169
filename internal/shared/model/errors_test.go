package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsByCode(t *testing.T) {
	err := NewError(CodeNoEligibleWorker, "no worker for %q", "explain-concept").WithStage(StageResolve)
	wrapped := fmt.Errorf("submit: %w", err)

	assert.True(t, errors.Is(wrapped, ErrNoEligibleWorker))
	assert.False(t, errors.Is(wrapped, ErrCircuitOpen))
	assert.Equal(t, CodeNoEligibleWorker, CodeOf(wrapped))
	assert.Contains(t, err.Error(), "[resolve]")
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapError(CodePersistence, cause, "save snapshot").WithDependency("snapshots")

	assert.ErrorIs(t, err, cause)
	body := err.Body()
	assert.Equal(t, CodePersistence, body.Code)
	assert.Equal(t, "snapshots", body.Dependency)
	assert.Equal(t, "save snapshot: disk full", body.Message)
}

func TestCodeOf_Plain(t *testing.T) {
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
}
