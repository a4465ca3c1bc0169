package model

import "time"

// CircuitStatus 熔断器状态
type CircuitStatus string

const (
	CircuitClosed   CircuitStatus = "closed"
	CircuitOpen     CircuitStatus = "open"
	CircuitHalfOpen CircuitStatus = "half-open"
)

// CircuitState 单个依赖的熔断器状态
type CircuitState struct {
	Dependency             string        `json:"dependency"`
	State                  CircuitStatus `json:"state"`
	ConsecutiveFailures    uint32        `json:"consecutive_failures"`
	OpenedAt               time.Time     `json:"opened_at,omitzero"`
	SuccessCountInHalfOpen uint32        `json:"success_count_in_half_open"`
}
