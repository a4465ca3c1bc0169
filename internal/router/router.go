// Package router 请求路由器
//
// Submit 串联各组件：
//   - Classify / InferRole：意图类别与角色
//   - BuildPayload：有独立超时，失败时以空载荷降级继续
//   - Registry：解析并按调用方等级过滤 Worker，构造失败时尝试下一个
//   - Resilience：熔断、重试与降级链保护 Worker 调用
//   - AppendTurn / Snapshot：成功后写回会话与工作流检查点，失败只产生警告
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"analytics-orchestrator/internal/registry"
	"analytics-orchestrator/internal/resilience"
	"analytics-orchestrator/internal/shared/model"
	"analytics-orchestrator/pkg/logging"
)

// ContextManager 路由器依赖的上下文管理能力（由 contextmgr.Manager 实现）
type ContextManager interface {
	InferRole(hint, text string) model.Role
	BuildPayload(ctx context.Context, sessionID string, role model.Role, budget int) (*model.Payload, error)
	AppendTurn(ctx context.Context, sessionID, userID string, turn model.Turn) (*model.Turn, error)
	RecordSnapshot(ctx context.Context, sessionID, workflowID, snapshotID string) error
}

// Checkpointer 工作流检查点（由 snapshot.Manager 实现）
type Checkpointer interface {
	Save(ctx context.Context, workflowID string, state []byte, metadata map[string]string) (string, error)
}

// Recorder 路由事件观察者（由 observability.Metrics 实现）
type Recorder interface {
	RequestCompleted(intent string, status model.Status, d time.Duration)
	WorkerInvoked(worker, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RequestCompleted(string, model.Status, time.Duration) {}
func (nopRecorder) WorkerInvoked(string, string)                         {}

// Router 请求路由器
type Router struct {
	cfg         Config
	registry    *registry.Registry
	contexts    ContextManager
	executor    *resilience.Executor
	checkpoints Checkpointer
	sem         *semaphore.Weighted
	recorder    Recorder
	logger      *logging.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// Option 路由器选项
type Option func(*Router)

// WithCheckpointer 启用工作流检查点
func WithCheckpointer(c Checkpointer) Option {
	return func(r *Router) { r.checkpoints = c }
}

// WithRecorder 设置事件观察者
func WithRecorder(rec Recorder) Option {
	return func(r *Router) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// WithLogger 设置日志器
func WithLogger(l *logging.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New 创建路由器
func New(cfg *Config, reg *registry.Registry, contexts ContextManager, ex *resilience.Executor, opts ...Option) (*Router, error) {
	if reg == nil || contexts == nil || ex == nil {
		return nil, errors.New("router: registry, context manager and executor are required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Router{
		cfg:      *cfg,
		registry: reg,
		contexts: contexts,
		executor: ex,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		recorder: nopRecorder{},
		tracer:   otel.Tracer("analytics-orchestrator/router"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.Default("router")
	}
	return r, nil
}

// RegisterWorker 注册 Worker（启动阶段使用）
func (r *Router) RegisterWorker(desc model.WorkerDescriptor) error {
	return r.registry.Register(desc)
}

// submission 一次 Submit 的中间状态
type submission struct {
	req       *model.Request
	sessionID string
	intent    string
	role      model.Role
	payload   *model.Payload
	meta      model.RoutingMetadata
	degraded  bool
}

// Submit 处理一次请求
//
// 总是返回 Response；失败时 Status 为 failed，error 携带稳定错误码。
func (r *Router) Submit(ctx context.Context, req *model.Request) (*model.Response, error) {
	start := r.now()
	if req == nil {
		req = &model.Request{}
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()
	ctx = logging.ContextWith(ctx, logging.RequestIDKey, req.RequestID)

	ctx, span := r.tracer.Start(ctx, "router.submit", trace.WithAttributes(
		attribute.String("request_id", req.RequestID),
		attribute.String("user_id", req.UserID),
	))
	defer span.End()

	sub := &submission{
		req:       req,
		sessionID: req.SessionID(),
		meta:      model.RoutingMetadata{Warnings: []string{}},
	}
	sub.meta.SessionID = sub.sessionID
	log := r.logger.WithContext(ctx).WithSessionID(sub.sessionID)

	resp, err := r.submit(ctx, sub)
	resp.Metadata.ExecutionTimeMS = r.now().Sub(start).Milliseconds()

	span.SetAttributes(
		attribute.String("intent", sub.intent),
		attribute.String("status", string(resp.Status)),
		attribute.String("worker", resp.Metadata.WorkerUsed),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(model.CodeOf(err)))
		log.Warn("[router.failed]", "intent", sub.intent, "code", model.CodeOf(err), "error", err.Error())
	} else {
		log.Info("[router.completed]", "intent", sub.intent, "role", sub.role, "status", resp.Status,
			"worker", resp.Metadata.WorkerUsed, "duration_ms", resp.Metadata.ExecutionTimeMS)
	}
	r.recorder.RequestCompleted(sub.intent, resp.Status, r.now().Sub(start))
	return resp, err
}

func (r *Router) submit(ctx context.Context, sub *submission) (*model.Response, error) {
	req := sub.req
	if err := validate(req); err != nil {
		return r.fail(sub, err), err
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		werr := model.WrapError(model.CodeDeadlineExceeded, err, "waiting for a free slot").WithStage(model.StageAdmit)
		return r.fail(sub, werr), werr
	}
	defer r.sem.Release(1)

	// 1-2. 意图与角色
	sub.intent = r.Classify(req)
	sub.role = r.contexts.InferRole(req.RoleHint, req.RawText)
	sub.meta.Intent, sub.meta.Role = sub.intent, sub.role

	// 3. 载荷
	sub.payload = r.buildPayload(ctx, sub)

	// 4. 解析 Worker
	query := resolveQuery(&r.cfg, req, sub.intent)
	eligible := r.registry.Eligible(query, req.CallerTier)
	if len(eligible) == 0 {
		err := r.noEligibleWorker(query, req.CallerTier)
		return r.fail(sub, err), err
	}
	args := model.ConstructionArgs{
		RequestID:  req.RequestID,
		SessionID:  sub.sessionID,
		Role:       sub.role,
		Intent:     sub.intent,
		Parameters: req.Parameters,
	}
	primary, worker, rest, err := r.construct(ctx, eligible, args)
	if err != nil {
		return r.fail(sub, err), err
	}

	// 5. 执行
	res, err := resilience.Execute(ctx, r.executor, resilience.Call[*model.WorkerResult]{
		Dependency: primary.TypeName,
		Operation:  r.invokeOp(worker, sub),
		Fallbacks:  r.fallbacks(rest, args, sub),
	})
	sub.meta.Attempts = res.Attempts
	if err != nil {
		r.recorder.WorkerInvoked(primary.TypeName, string(model.CodeOf(err)))
		return r.fail(sub, err), err
	}
	workerUsed := primary.TypeName
	if res.Degraded() {
		workerUsed = res.Fallback
		sub.degraded = true
		sub.meta.AddWarning(fmt.Sprintf("primary worker %s unavailable, served by fallback %s", primary.TypeName, res.Fallback))
	}
	sub.meta.WorkerUsed = workerUsed
	r.recorder.WorkerInvoked(workerUsed, "success")

	result := res.Value
	if result == nil {
		result = &model.WorkerResult{}
	}

	// 6. 写回会话与检查点
	r.appendTurn(ctx, sub, result)
	r.checkpoint(ctx, sub, result)

	// 7. 合成响应
	return r.synthesize(sub, result), nil
}

// ============================================================================
// 各阶段
// ============================================================================

func validate(req *model.Request) error {
	var problems []string
	if strings.TrimSpace(req.UserID) == "" {
		problems = append(problems, "user_id is required")
	}
	if strings.TrimSpace(req.RawText) == "" && strings.TrimSpace(req.DeclaredIntent) == "" {
		problems = append(problems, "raw_text or declared_intent is required")
	}
	if !req.CallerTier.Valid() {
		problems = append(problems, "caller tier is invalid")
	}
	if len(problems) > 0 {
		return model.NewError(model.CodeInvalidRequest, "%s", strings.Join(problems, "; ")).WithStage(model.StageValidate)
	}
	return nil
}

// buildPayload 在独立超时内构建载荷，失败时返回空载荷并标记降级
func (r *Router) buildPayload(ctx context.Context, sub *submission) *model.Payload {
	pctx, cancel := context.WithTimeout(ctx, r.cfg.ContextTimeout)
	defer cancel()

	p, err := r.contexts.BuildPayload(pctx, sub.sessionID, sub.role, r.cfg.SizeBudget)
	if err == nil {
		return p
	}
	reason := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		reason = fmt.Sprintf("timed out after %s", r.cfg.ContextTimeout)
	}
	r.logger.WithContext(ctx).WithSessionID(sub.sessionID).Warn("[router.payload_degraded]",
		"role", sub.role, "error", err.Error())
	sub.degraded = true
	sub.meta.AddWarning("context payload unavailable: " + reason)
	return model.EmptyPayload(sub.sessionID, sub.role, r.cfg.SizeBudget)
}

func (r *Router) noEligibleWorker(query string, tier model.PermissionTier) error {
	resolved := r.registry.Resolve(query)
	if len(resolved) == 0 {
		return model.NewError(model.CodeNoEligibleWorker, "no worker provides %q", query).WithStage(model.StageResolve)
	}
	return model.NewError(model.CodeNoEligibleWorker,
		"%d worker(s) provide %q but none is permitted for tier %s", len(resolved), query, tier).
		WithStage(model.StageResolve)
}

// construct 按排名依次构造，返回首个成功的 Worker 以及其后的候选
func (r *Router) construct(ctx context.Context, eligible []model.WorkerDescriptor, args model.ConstructionArgs) (model.WorkerDescriptor, model.Worker, []model.WorkerDescriptor, error) {
	var lastErr error
	for i, desc := range eligible {
		w, err := r.registry.Instantiate(desc, args)
		if err == nil {
			return desc, w, eligible[i+1:], nil
		}
		lastErr = err
		r.logger.WithContext(ctx).WithDependency(desc.TypeName).Warn("[router.construct_failed]", "error", err.Error())
	}
	err := model.WrapError(model.CodeNoEligibleWorker, lastErr, "all %d eligible worker(s) failed to construct", len(eligible)).
		WithStage(model.StageConstruct)
	return model.WorkerDescriptor{}, nil, nil, err
}

func (r *Router) invokeOp(w model.Worker, sub *submission) resilience.Operation[*model.WorkerResult] {
	return func(ctx context.Context) (*model.WorkerResult, error) {
		return w.Invoke(ctx, sub.payload, sub.req.Parameters)
	}
}

// fallbacks 剩余候选作为降级链，按需构造
func (r *Router) fallbacks(rest []model.WorkerDescriptor, args model.ConstructionArgs, sub *submission) []resilience.Fallback[*model.WorkerResult] {
	out := make([]resilience.Fallback[*model.WorkerResult], 0, len(rest))
	for _, desc := range rest {
		out = append(out, resilience.Fallback[*model.WorkerResult]{
			Name: desc.TypeName,
			Operation: func(ctx context.Context) (*model.WorkerResult, error) {
				w, err := r.registry.Instantiate(desc, args)
				if err != nil {
					return nil, err
				}
				return w.Invoke(ctx, sub.payload, sub.req.Parameters)
			},
		})
	}
	return out
}

// digest 写入 Turn 的输出摘要
func (r *Router) digest(result *model.WorkerResult) string {
	text := strings.TrimSpace(result.Digest)
	if text == "" {
		text = strings.TrimSpace(string(result.Output))
	}
	return model.Truncate(text, r.cfg.DigestLimit)
}

func (r *Router) appendTurn(ctx context.Context, sub *submission, result *model.WorkerResult) {
	turn := model.Turn{
		RequestID:       sub.req.RequestID,
		RequestText:     sub.req.RawText,
		ResponseSummary: r.digest(result),
		Category:        sub.intent,
		Role:            sub.role,
	}
	if _, err := r.contexts.AppendTurn(ctx, sub.sessionID, sub.req.UserID, turn); err != nil {
		r.logger.WithContext(ctx).WithSessionID(sub.sessionID).Warn("[router.turn_append_failed]", "error", err.Error())
		sub.meta.AddWarning("session update failed: " + err.Error())
	}
}

// checkpoint 请求属于工作流时保存快照
func (r *Router) checkpoint(ctx context.Context, sub *submission, result *model.WorkerResult) {
	workflowID := sub.req.Param(model.ParamWorkflowID)
	if workflowID == "" {
		return
	}
	log := r.logger.WithContext(ctx).WithWorkflowID(workflowID)
	if r.checkpoints == nil {
		log.Warn("[router.checkpoint_skipped] no snapshot store configured")
		sub.meta.AddWarning("checkpoint skipped: no snapshot store configured")
		return
	}

	state, err := checkpointState(sub, result)
	if err != nil {
		sub.meta.AddWarning("checkpoint failed: " + err.Error())
		return
	}
	metadata := map[string]string{
		"request_id": sub.req.RequestID,
		"worker":     sub.meta.WorkerUsed,
		"intent":     sub.intent,
	}
	if step := sub.req.Param(model.ParamWorkflowStep); step != "" {
		metadata[model.ParamWorkflowStep] = step
	}

	id, err := r.checkpoints.Save(ctx, workflowID, state, metadata)
	if err != nil {
		log.Warn("[router.checkpoint_failed]", "error", err.Error())
		sub.meta.AddWarning("checkpoint failed: " + err.Error())
		return
	}
	sub.meta.SnapshotID = id
	if err := r.contexts.RecordSnapshot(ctx, sub.sessionID, workflowID, id); err != nil {
		log.Warn("[router.snapshot_index_failed]", "snapshot_id", id, "error", err.Error())
		sub.meta.AddWarning("session snapshot index update failed: " + err.Error())
	}
}

func checkpointState(sub *submission, result *model.WorkerResult) ([]byte, error) {
	if len(result.State) > 0 {
		return result.State, nil
	}
	output := result.Output
	if len(output) == 0 {
		output = json.RawMessage("null")
	}
	return json.Marshal(struct {
		RequestID string          `json:"request_id"`
		Intent    string          `json:"intent"`
		Worker    string          `json:"worker"`
		Output    json.RawMessage `json:"output"`
	}{sub.req.RequestID, sub.intent, sub.meta.WorkerUsed, output})
}

func (r *Router) synthesize(sub *submission, result *model.WorkerResult) *model.Response {
	sub.meta.DegradedMode = sub.degraded
	status := model.StatusSuccess
	if sub.degraded {
		status = model.StatusDegraded
	}
	return &model.Response{
		RequestID: sub.req.RequestID,
		Status:    status,
		Result:    result.Output,
		Metadata:  sub.meta,
	}
}

func (r *Router) fail(sub *submission, err error) *model.Response {
	sub.meta.DegradedMode = sub.degraded
	return &model.Response{
		RequestID: sub.req.RequestID,
		Status:    model.StatusFailed,
		Metadata:  sub.meta,
		Error:     model.AsError(err).Body(),
	}
}
