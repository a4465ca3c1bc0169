// Package resilience 弹性层
//
// 所有对 Worker 和外部协作方的调用都经由 Executor：
//   - 每个依赖名一个熔断器（gobreaker），状态互不影响
//   - 瞬时错误按指数退避加抖动重试（backoff），熔断打开时不重试
//   - 主调用最终失败后按顺序尝试降级链，第一个成功者胜出
//
// 调用总是带截止时间；截止时间到达后立即中止重试并返回 DEADLINE_EXCEEDED。
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"analytics-orchestrator/internal/shared/model"
	"analytics-orchestrator/pkg/logging"
)

// Recorder 弹性层事件观察者（由 observability.Metrics 实现）
type Recorder interface {
	CircuitTransition(dependency string, from, to model.CircuitStatus)
	RetryAttempt(dependency string)
	CallOutcome(dependency string, outcome string)
	FallbackOutcome(dependency, fallback string, ok bool)
}

type nopRecorder struct{}

func (nopRecorder) CircuitTransition(string, model.CircuitStatus, model.CircuitStatus) {}
func (nopRecorder) RetryAttempt(string)                                                {}
func (nopRecorder) CallOutcome(string, string)                                         {}
func (nopRecorder) FallbackOutcome(string, string, bool)                               {}

// Operation 受保护的调用
type Operation[T any] func(ctx context.Context) (T, error)

// Fallback 降级调用，Name 同时作为其熔断器的依赖名
type Fallback[T any] struct {
	Name      string
	Operation Operation[T]
}

// Call 一次受保护调用的描述
type Call[T any] struct {
	Dependency string
	Operation  Operation[T]
	Fallbacks  []Fallback[T]
}

// Result 调用结果
type Result[T any] struct {
	Value    T
	Stage    string // primary 或 fallback
	Attempts int    // 主调用实际执行次数
	Fallback string // 成功的降级名称
}

// Degraded 是否由降级链产生
func (r Result[T]) Degraded() bool {
	return r.Stage == model.StageFallback
}

type breaker struct {
	cb       *gobreaker.CircuitBreaker[any]
	openedAt atomic.Int64 // unix nano
}

// Executor 弹性执行器
type Executor struct {
	cfg      Config
	mu       sync.Mutex
	breakers map[string]*breaker
	recorder Recorder
	logger   *logging.Logger
	tracer   trace.Tracer
}

// Option 执行器选项
type Option func(*Executor)

// WithRecorder 设置事件观察者
func WithRecorder(r Recorder) Option {
	return func(e *Executor) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithLogger 设置日志器
func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExecutor 创建执行器
func NewExecutor(cfg *Config, opts ...Option) *Executor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	e := &Executor{
		cfg:      *cfg,
		breakers: make(map[string]*breaker),
		recorder: nopRecorder{},
		tracer:   otel.Tracer("analytics-orchestrator/resilience"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.Default("resilience")
	}
	return e
}

// ============================================================================
// 熔断器
// ============================================================================

func (e *Executor) breaker(dep string) *breaker {
	e.mu.Lock()
	defer e.mu.Unlock()

	if b, ok := e.breakers[dep]; ok {
		return b
	}
	p := e.cfg.PolicyFor(dep)
	b := &breaker{}
	b.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        dep,
		MaxRequests: p.SuccessThreshold,
		Timeout:     p.Cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= p.FailureThreshold
		},
		// 调用方错误只在 Closed 下豁免；HalfOpen 试探期间不能用它来闭合熔断器
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return isCallerFault(err) && b.cb.State() == gobreaker.StateClosed
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				b.openedAt.Store(time.Now().UnixNano())
			}
			e.logger.WithDependency(name).Warn("[resilience.circuit_transition]",
				"from", statusOf(from), "to", statusOf(to))
			e.recorder.CircuitTransition(name, statusOf(from), statusOf(to))
		},
	})
	e.breakers[dep] = b
	return b
}

func statusOf(s gobreaker.State) model.CircuitStatus {
	switch s {
	case gobreaker.StateOpen:
		return model.CircuitOpen
	case gobreaker.StateHalfOpen:
		return model.CircuitHalfOpen
	default:
		return model.CircuitClosed
	}
}

// State 返回依赖的熔断状态，未使用过的依赖为 Closed
func (e *Executor) State(dep string) model.CircuitState {
	e.mu.Lock()
	b, ok := e.breakers[dep]
	e.mu.Unlock()
	if !ok {
		return model.CircuitState{Dependency: dep, State: model.CircuitClosed}
	}
	return b.state(dep)
}

// States 返回所有已知依赖的熔断状态（按名称排序）
func (e *Executor) States() []model.CircuitState {
	e.mu.Lock()
	names := make([]string, 0, len(e.breakers))
	for name := range e.breakers {
		names = append(names, name)
	}
	e.mu.Unlock()

	sort.Strings(names)
	out := make([]model.CircuitState, 0, len(names))
	for _, name := range names {
		out = append(out, e.State(name))
	}
	return out
}

func (b *breaker) state(dep string) model.CircuitState {
	status := statusOf(b.cb.State())
	counts := b.cb.Counts()
	st := model.CircuitState{
		Dependency:          dep,
		State:               status,
		ConsecutiveFailures: counts.ConsecutiveFailures,
	}
	if status == model.CircuitHalfOpen {
		st.SuccessCountInHalfOpen = counts.ConsecutiveSuccesses
	}
	if status != model.CircuitClosed {
		if ns := b.openedAt.Load(); ns > 0 {
			st.OpenedAt = time.Unix(0, ns)
		}
	}
	return st
}

// ============================================================================
// Execute
// ============================================================================

// Execute 以熔断、重试和降级保护执行调用
func Execute[T any](ctx context.Context, e *Executor, call Call[T]) (Result[T], error) {
	var res Result[T]
	if call.Operation == nil {
		return res, model.NewError(model.CodeInternal, "nil operation").WithDependency(call.Dependency)
	}

	if _, ok := ctx.Deadline(); !ok && e.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
	}

	ctx, span := e.tracer.Start(ctx, "resilience.execute",
		trace.WithAttributes(attribute.String("dependency", call.Dependency)))
	defer span.End()

	log := e.logger.WithContext(ctx).WithDependency(call.Dependency)

	value, attempts, err := retry(ctx, e, call.Dependency, call.Operation)
	res.Attempts = attempts
	span.SetAttributes(attribute.Int("attempts", attempts))
	if err == nil {
		e.recorder.CallOutcome(call.Dependency, "success")
		res.Value, res.Stage = value, model.StagePrimary
		return res, nil
	}

	primaryErr := primaryError(ctx, call.Dependency, err)
	e.recorder.CallOutcome(call.Dependency, outcomeLabel(primaryErr))
	span.RecordError(primaryErr)

	if model.CodeOf(primaryErr) == model.CodeDeadlineExceeded || len(call.Fallbacks) == 0 {
		span.SetStatus(codes.Error, string(model.CodeOf(primaryErr)))
		log.Warn("[resilience.failed]", "attempts", attempts, "error", primaryErr.Error())
		return res, primaryErr
	}

	if model.CodeOf(primaryErr) == model.CodeCircuitOpen {
		log.Warn("[resilience.circuit_open] primary short-circuited, trying fallbacks",
			"fallbacks", len(call.Fallbacks))
	} else {
		log.Warn("[resilience.primary_failed] trying fallbacks",
			"attempts", attempts, "fallbacks", len(call.Fallbacks), "error", err.Error())
	}

	lastErr := primaryErr
	for _, fb := range call.Fallbacks {
		if ctx.Err() != nil {
			dl := deadlineError(ctx, call.Dependency, model.StageFallback)
			span.SetStatus(codes.Error, string(model.CodeDeadlineExceeded))
			return res, dl
		}
		v, fbErr := invoke(ctx, e, fb.Name, fb.Operation)
		if fbErr == nil {
			e.recorder.FallbackOutcome(call.Dependency, fb.Name, true)
			log.Warn("[resilience.fallback_succeeded]", "fallback", fb.Name)
			span.SetAttributes(attribute.String("fallback", fb.Name))
			res.Value, res.Stage, res.Fallback = v, model.StageFallback, fb.Name
			return res, nil
		}
		e.recorder.FallbackOutcome(call.Dependency, fb.Name, false)
		log.Warn("[resilience.fallback_failed]", "fallback", fb.Name, "error", fbErr.Error())
		lastErr = fbErr
	}

	if ctx.Err() != nil {
		span.SetStatus(codes.Error, string(model.CodeDeadlineExceeded))
		return res, deadlineError(ctx, call.Dependency, model.StageFallback)
	}
	exhausted := model.WrapError(model.CodeFallbackExhausted, lastErr,
		"primary failed with %s and %d fallbacks failed", model.CodeOf(primaryErr), len(call.Fallbacks)).
		WithStage(model.StageFallback).
		WithDependency(call.Dependency)
	span.SetStatus(codes.Error, string(model.CodeFallbackExhausted))
	log.Error("[resilience.fallback_exhausted]", "error", exhausted.Error())
	return res, exhausted
}

// retry 在熔断器保护下按退避策略重试瞬时错误
func retry[T any](ctx context.Context, e *Executor, dep string, op Operation[T]) (T, int, error) {
	p := e.cfg.PolicyFor(dep)
	attempts := 0

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.InitialBackoff
	expo.MaxInterval = p.MaxBackoff
	expo.Multiplier = p.Multiplier
	expo.RandomizationFactor = p.Jitter
	expo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(p.MaxRetries)), ctx)

	attempt := func() (T, error) {
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, backoff.Permanent(err)
		}
		attempts++
		v, err := invoke(ctx, e, dep, op)
		if err == nil {
			return v, nil
		}
		if Classify(err) != ClassTransient {
			return zero, backoff.Permanent(err)
		}
		return zero, err
	}
	notify := func(err error, wait time.Duration) {
		e.recorder.RetryAttempt(dep)
		e.logger.WithContext(ctx).WithDependency(dep).Info("[resilience.retry]",
			"attempt", attempts, "wait_ms", wait.Milliseconds(), "error", err.Error())
	}

	v, err := backoff.RetryNotifyWithData(attempt, policy, notify)
	return v, attempts, err
}

// invoke 单次经熔断器的调用
func invoke[T any](ctx context.Context, e *Executor, dep string, op Operation[T]) (T, error) {
	var zero T
	if op == nil {
		return zero, fmt.Errorf("nil operation for %s", dep)
	}
	out, err := e.breaker(dep).cb.Execute(func() (any, error) {
		return op(ctx)
	})
	if err != nil {
		return zero, err
	}
	v, ok := out.(T)
	if !ok && out != nil {
		return zero, fmt.Errorf("unexpected result type %T from %s", out, dep)
	}
	return v, nil
}

func primaryError(ctx context.Context, dep string, err error) error {
	if ctx.Err() != nil {
		return deadlineError(ctx, dep, model.StagePrimary)
	}
	return model.WrapError(codeFor(err), err, "call failed").
		WithStage(model.StagePrimary).
		WithDependency(dep)
}

func deadlineError(ctx context.Context, dep, stage string) error {
	cause := ctx.Err()
	if cause == nil {
		cause = context.DeadlineExceeded
	}
	return model.WrapError(model.CodeDeadlineExceeded, cause, "deadline elapsed").
		WithStage(stage).
		WithDependency(dep)
}

func outcomeLabel(err error) string {
	var me *model.Error
	if errors.As(err, &me) {
		switch me.Code {
		case model.CodeCircuitOpen:
			return "circuit_open"
		case model.CodeDeadlineExceeded:
			return "deadline"
		case model.CodeTransient:
			return "transient"
		}
	}
	return "permanent"
}
