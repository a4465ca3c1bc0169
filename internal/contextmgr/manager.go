// Package contextmgr 上下文管理器
//
// 负责会话的持久化与载荷构建：
//   - InferRole：按关键词权重推断角色
//   - BuildPayload：读取 Turn，按角色过滤，超出预算时把最早的一段合并为摘要
//   - AppendTurn：同一会话的追加串行执行，追加后立即使该会话的载荷缓存失效
//
// 摘要按（会话, 角色）持久化，之后的构建直接复用，保证重复构建结果逐字节一致。
package contextmgr

import (
	"container/list"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"analytics-orchestrator/internal/shared/cache"
	"analytics-orchestrator/internal/shared/keylock"
	"analytics-orchestrator/internal/shared/model"
	"analytics-orchestrator/internal/shared/storage"
	"analytics-orchestrator/internal/summarizer"
	"analytics-orchestrator/pkg/logging"
)

// Recorder 上下文事件观察者（由 observability.Metrics 实现）
type Recorder interface {
	PayloadBuilt(outcome string)
	SummaryCreated(role model.Role)
}

type nopRecorder struct{}

func (nopRecorder) PayloadBuilt(string)       {}
func (nopRecorder) SummaryCreated(model.Role) {}

// 载荷构建结果
const (
	OutcomeCacheHit  = "cache_hit"
	OutcomeBuilt     = "built"
	OutcomeCompacted = "compacted"
	OutcomeError     = "error"
)

// sessionState 进程内会话状态：已知 Turn 数与变更代数
type sessionState struct {
	id        string
	turnCount int // -1 表示未知
	gen       uint64
}

// Manager 上下文管理器
type Manager struct {
	cfg        Config
	backend    storage.Backend
	summarizer summarizer.Summarizer
	cache      cache.PayloadCache
	locks      *keylock.Set
	flight     singleflight.Group
	recorder   Recorder
	logger     *logging.Logger
	tracer     trace.Tracer
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*list.Element
	lru      *list.List // 队首最近访问
	epoch    uint64     // 全局变更代数，单调递增
}

// Option 管理器选项
type Option func(*Manager)

// WithCache 替换载荷缓存
func WithCache(c cache.PayloadCache) Option {
	return func(m *Manager) { m.cache = c }
}

// WithRecorder 设置事件观察者
func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithLogger 设置日志器
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New 创建上下文管理器
func New(cfg *Config, backend storage.Backend, sum summarizer.Summarizer, opts ...Option) (*Manager, error) {
	if backend == nil {
		return nil, errors.New("contextmgr: nil storage backend")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sum == nil {
		sum = summarizer.Heuristic{}
	}
	m := &Manager{
		cfg:        *cfg,
		backend:    backend,
		summarizer: sum,
		locks:      keylock.New(),
		recorder:   nopRecorder{},
		tracer:     otel.Tracer("analytics-orchestrator/contextmgr"),
		now:        time.Now,
		sessions:   make(map[string]*list.Element),
		lru:        list.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cache == nil {
		m.cache = cache.NewMemoryCache(m.cfg.CacheSize)
	}
	if m.logger == nil {
		m.logger = logging.Default("contextmgr")
	}
	return m, nil
}

// DefaultBudget 默认载荷预算
func (m *Manager) DefaultBudget() int {
	return m.cfg.DefaultBudget
}

// ============================================================================
// BuildPayload
// ============================================================================

// BuildPayload 为角色构建不超过 budget 的载荷
//
// 返回的载荷可能被缓存共享，调用方只读使用。
func (m *Manager) BuildPayload(ctx context.Context, sessionID string, role model.Role, budget int) (*model.Payload, error) {
	if sessionID == "" {
		return nil, model.NewError(model.CodeInvalidRequest, "session id is required").WithStage(model.StagePayload)
	}
	if !role.Valid() {
		role = m.cfg.DefaultRole
	}
	if budget <= 0 {
		budget = m.cfg.DefaultBudget
	}

	ctx, span := m.tracer.Start(ctx, "context.build_payload", trace.WithAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("role", string(role)),
		attribute.Int("budget", budget),
	))
	defer span.End()

	// 共享构建脱离发起者的取消，只受 BuildTimeout 约束；每个调用方各自等待自己的 ctx
	flightKey := fmt.Sprintf("%s|%s|%d|%d", sessionID, role, budget, m.generation(sessionID))
	ch := m.flight.DoChan(flightKey, func() (any, error) {
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.BuildTimeout)
		defer cancel()
		return m.build(buildCtx, sessionID, role, budget)
	})

	select {
	case <-ctx.Done():
		span.SetStatus(codes.Error, "context done")
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
			return nil, res.Err
		}
		p := res.Val.(*model.Payload)
		span.SetAttributes(attribute.Int("entries", len(p.Entries)), attribute.Int("size", p.Size()))
		return p, nil
	}
}

func (m *Manager) build(ctx context.Context, sessionID string, role model.Role, budget int) (*model.Payload, error) {
	unlock, err := m.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	log := m.logger.WithContext(ctx).WithSessionID(sessionID)

	if n, ok := m.turnCount(sessionID); ok {
		if p, hit := m.cache.Get(cache.Key{SessionID: sessionID, Role: role, TurnCount: n, Budget: budget}); hit {
			m.recorder.PayloadBuilt(OutcomeCacheHit)
			return p, nil
		}
	}

	turns, err := m.loadTurns(ctx, sessionID)
	if err != nil {
		m.recorder.PayloadBuilt(OutcomeError)
		return nil, err
	}
	m.setTurnCount(sessionID, len(turns))
	key := cache.Key{SessionID: sessionID, Role: role, TurnCount: len(turns), Budget: budget}
	if p, hit := m.cache.Get(key); hit {
		m.recorder.PayloadBuilt(OutcomeCacheHit)
		return p, nil
	}

	stored, err := m.loadSummaries(ctx, sessionID, role)
	if err != nil {
		m.recorder.PayloadBuilt(OutcomeError)
		return nil, err
	}

	view := applySummaries(filterTurns(turns, m.cfg.Roles[role]), stored)
	c := &compactor{cfg: &m.cfg, summarize: m.summarizer.Summarize, now: m.now}
	entries, created, err := c.compact(ctx, view, budget)
	if err != nil {
		m.recorder.PayloadBuilt(OutcomeError)
		return nil, fmt.Errorf("summarize session %s: %w", sessionID, err)
	}

	outcome := OutcomeBuilt
	if len(created) > 0 {
		outcome = OutcomeCompacted
		for range created {
			m.recorder.SummaryCreated(role)
		}
		if err := m.saveSummaries(ctx, sessionID, role, mergeSummaries(stored, created)); err != nil {
			log.Warn("[contextmgr.summary_persist_failed]", "role", role, "error", err.Error())
		} else {
			log.Info("[contextmgr.compacted]", "role", role, "summaries", len(created),
				"turns", len(turns), "size", model.RenderedSize(entries), "budget", budget)
		}
	}

	p := &model.Payload{
		SessionID:  sessionID,
		Role:       role,
		Entries:    entries,
		SizeBudget: budget,
		TurnCount:  len(turns),
		BuiltAt:    m.now(),
	}
	m.cache.Set(key, p)
	m.recorder.PayloadBuilt(outcome)
	return p, nil
}

// ============================================================================
// AppendTurn / 会话
// ============================================================================

// AppendTurn 追加 Turn，返回带 TurnID 的副本
func (m *Manager) AppendTurn(ctx context.Context, sessionID, userID string, turn model.Turn) (*model.Turn, error) {
	if sessionID == "" {
		return nil, model.NewError(model.CodeInvalidRequest, "session id is required")
	}
	unlock, err := m.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// 无论写入成败，该会话的缓存都不再可信
	defer m.invalidate(sessionID)

	meta, err := m.loadMeta(ctx, sessionID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, persistenceError(err, "load session %s", sessionID)
	}
	now := m.now()
	if meta == nil {
		meta = &model.Session{SessionID: sessionID, UserID: userID, CreatedAt: now}
	}
	meta.LastUpdatedAt = now
	if err := m.saveMeta(ctx, meta); err != nil {
		return nil, persistenceError(err, "save session %s", sessionID)
	}

	if turn.Timestamp.IsZero() {
		turn.Timestamp = now
	}
	turn.TurnID = 0
	data, err := json.Marshal(turn)
	if err != nil {
		return nil, fmt.Errorf("marshal turn: %w", err)
	}
	seq, err := m.backend.Append(ctx, storage.TurnsKey(sessionID), data)
	if err != nil {
		return nil, persistenceError(err, "append turn to %s", sessionID)
	}
	turn.TurnID = seq

	m.mu.Lock()
	st := m.state(sessionID)
	if st.turnCount >= 0 && int64(st.turnCount)+1 == seq {
		st.turnCount = int(seq)
	} else {
		st.turnCount = -1
	}
	m.mu.Unlock()

	m.logger.WithContext(ctx).WithSessionID(sessionID).Debug("[contextmgr.turn_appended]",
		"turn_id", seq, "category", turn.Category)
	return &turn, nil
}

// GetSession 读取会话及全部 Turn
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	meta, err := m.loadMeta(ctx, sessionID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, persistenceError(err, "load session %s", sessionID)
	}
	turns, err := m.loadTurns(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		if len(turns) == 0 {
			return nil, model.NewError(model.CodeNotFound, "session %s not found", sessionID)
		}
		meta = &model.Session{SessionID: sessionID}
	}
	meta.Turns = turns
	return meta, nil
}

// RecordSnapshot 记录工作流最新的快照 ID
func (m *Manager) RecordSnapshot(ctx context.Context, sessionID, workflowID, snapshotID string) error {
	unlock, err := m.locks.Lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()

	meta, err := m.loadMeta(ctx, sessionID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return persistenceError(err, "load session %s", sessionID)
	}
	if meta == nil {
		meta = &model.Session{SessionID: sessionID, CreatedAt: m.now()}
	}
	if meta.Snapshots == nil {
		meta.Snapshots = make(map[string]string)
	}
	meta.Snapshots[workflowID] = snapshotID
	meta.LastUpdatedAt = m.now()
	if err := m.saveMeta(ctx, meta); err != nil {
		return persistenceError(err, "save session %s", sessionID)
	}
	return nil
}

// ============================================================================
// 存储读写
// ============================================================================

func (m *Manager) loadMeta(ctx context.Context, sessionID string) (*model.Session, error) {
	data, err := m.backend.Get(ctx, storage.SessionKey(sessionID))
	if err != nil {
		return nil, err
	}
	var s model.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &s, nil
}

func (m *Manager) saveMeta(ctx context.Context, s *model.Session) error {
	stored := *s
	stored.Turns = nil
	data, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	return m.backend.Put(ctx, storage.SessionKey(s.SessionID), data)
}

// loadTurns 读取 Turn 日志，TurnID 取日志位置
func (m *Manager) loadTurns(ctx context.Context, sessionID string) ([]model.Turn, error) {
	raw, err := m.backend.Range(ctx, storage.TurnsKey(sessionID))
	if err != nil {
		return nil, persistenceError(err, "load turns of %s", sessionID)
	}
	turns := make([]model.Turn, 0, len(raw))
	for i, data := range raw {
		var t model.Turn
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, persistenceError(err, "decode turn %d of %s", i+1, sessionID)
		}
		t.TurnID = int64(i + 1)
		turns = append(turns, t)
	}
	return turns, nil
}

func (m *Manager) loadSummaries(ctx context.Context, sessionID string, role model.Role) ([]model.Summary, error) {
	data, err := m.backend.Get(ctx, storage.SummariesKey(sessionID, string(role)))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, persistenceError(err, "load summaries of %s", sessionID)
	}
	var out []model.Summary
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, persistenceError(err, "decode summaries of %s", sessionID)
	}
	return out, nil
}

func (m *Manager) saveSummaries(ctx context.Context, sessionID string, role model.Role, summaries []model.Summary) error {
	data, err := json.Marshal(summaries)
	if err != nil {
		return err
	}
	return m.backend.Put(ctx, storage.SummariesKey(sessionID, string(role)), data)
}

// ============================================================================
// 进程内会话状态
// ============================================================================

// state 返回会话状态并标记为最近访问，调用方持有 m.mu
//
// 新建的状态从当前全局代数起步，淘汰后重建也不会让代数回退。
func (m *Manager) state(sessionID string) *sessionState {
	if el, ok := m.sessions[sessionID]; ok {
		m.lru.MoveToFront(el)
		return el.Value.(*sessionState)
	}
	st := &sessionState{id: sessionID, turnCount: -1, gen: m.epoch}
	m.sessions[sessionID] = m.lru.PushFront(st)
	for m.lru.Len() > m.cfg.MaxSessions {
		oldest := m.lru.Back()
		m.lru.Remove(oldest)
		delete(m.sessions, oldest.Value.(*sessionState).id)
	}
	return st
}

func (m *Manager) generation(sessionID string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.sessions[sessionID]; ok {
		return el.Value.(*sessionState).gen
	}
	return m.epoch
}

func (m *Manager) turnCount(sessionID string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.sessions[sessionID]
	if !ok {
		return 0, false
	}
	st := el.Value.(*sessionState)
	if st.turnCount < 0 {
		return 0, false
	}
	return st.turnCount, true
}

func (m *Manager) setTurnCount(sessionID string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state(sessionID).turnCount = n
}

// invalidate 使会话缓存失效并推进变更代数
func (m *Manager) invalidate(sessionID string) {
	m.mu.Lock()
	m.epoch++
	m.state(sessionID).gen = m.epoch
	m.mu.Unlock()
	m.cache.InvalidateSession(sessionID)
}

func persistenceError(err error, format string, args ...any) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return model.WrapError(model.CodePersistence, err, format, args...)
}
