// Package registry Worker 注册表
//
// 维护 能力 → Worker 构造器 的映射：
//   - Register：按 TypeName 幂等注册，后注册者覆盖（记录 replace 日志）
//   - Resolve：按匹配层级和优先级排序返回候选描述
//   - Authorize：纯函数，caller_tier >= descriptor.tier
//   - Instantiate：调用构造器，失败返回 WORKER_CONSTRUCTION_FAILED
//
// 描述表以写时复制的方式整体替换，Resolve 无锁读取，永远不会看到半更新的条目。
package registry

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"analytics-orchestrator/internal/shared/model"
	"analytics-orchestrator/pkg/logging"
)

type descriptorMap map[string]model.WorkerDescriptor

// Registry Worker 注册表
type Registry struct {
	mu      sync.Mutex // 串行化写入
	entries atomic.Pointer[descriptorMap]
	chain   *MatcherChain
	logger  *logging.Logger
}

// New 创建注册表
func New(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Default("registry")
	}
	r := &Registry{chain: DefaultMatcherChain(), logger: logger}
	empty := descriptorMap{}
	r.entries.Store(&empty)
	return r
}

// WithMatchers 替换匹配链
func (r *Registry) WithMatchers(chain *MatcherChain) *Registry {
	r.chain = chain
	return r
}

// Register 注册 Worker 描述
func (r *Registry) Register(desc model.WorkerDescriptor) error {
	if err := desc.Validate(); err != nil {
		return fmt.Errorf("register worker %q: %w", desc.TypeName, err)
	}
	desc = cloneDescriptor(desc)

	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.entries.Load()
	next := make(descriptorMap, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	_, replaced := current[desc.TypeName]
	next[desc.TypeName] = desc
	r.entries.Store(&next)

	if replaced {
		r.logger.Warn("[registry.replace] worker descriptor replaced",
			"worker", desc.TypeName, "tier", desc.Tier.String(), "capabilities", desc.Capabilities)
	} else {
		r.logger.Info("[registry.register] worker registered",
			"worker", desc.TypeName, "tier", desc.Tier.String(), "capabilities", desc.Capabilities)
	}
	return nil
}

// Unregister 移除 Worker 描述
func (r *Registry) Unregister(typeName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.entries.Load()
	if _, ok := current[typeName]; !ok {
		return false
	}
	next := make(descriptorMap, len(current))
	for k, v := range current {
		if k != typeName {
			next[k] = v
		}
	}
	r.entries.Store(&next)
	r.logger.Info("[registry.unregister] worker removed", "worker", typeName)
	return true
}

// Get 按名称获取描述
func (r *Registry) Get(typeName string) (model.WorkerDescriptor, bool) {
	d, ok := (*r.entries.Load())[typeName]
	return d, ok
}

// List 返回全部描述（按名称排序）
func (r *Registry) List() []model.WorkerDescriptor {
	current := *r.entries.Load()
	out := make([]model.WorkerDescriptor, 0, len(current))
	for _, d := range current {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TypeName < out[j].TypeName })
	return out
}

// Len 注册数量
func (r *Registry) Len() int {
	return len(*r.entries.Load())
}

// Candidate 带分数的候选
//
// Score 是匹配层级的基础分，Priority 只在同一层级内排序，跨层级不可叠加。
type Candidate struct {
	Descriptor model.WorkerDescriptor
	Score      int
	MatchedBy  string
}

// Rank 返回候选列表：匹配层级降序，同层按 Priority 降序，再按名称升序
func (r *Registry) Rank(query string) []Candidate {
	current := *r.entries.Load()
	var out []Candidate
	for _, d := range current {
		base, by, ok := r.chain.Match(d, query)
		if !ok {
			continue
		}
		out = append(out, Candidate{Descriptor: d, Score: base, MatchedBy: by})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if pi, pj := out[i].Descriptor.Priority, out[j].Descriptor.Priority; pi != pj {
			return pi > pj
		}
		return out[i].Descriptor.TypeName < out[j].Descriptor.TypeName
	})
	return out
}

// Resolve 按能力或意图类别返回排序后的描述
func (r *Registry) Resolve(query string) []model.WorkerDescriptor {
	ranked := r.Rank(query)
	out := make([]model.WorkerDescriptor, len(ranked))
	for i, c := range ranked {
		out[i] = c.Descriptor
	}
	return out
}

// Eligible Resolve 后按调用方等级过滤，保持排序
func (r *Registry) Eligible(query string, callerTier model.PermissionTier) []model.WorkerDescriptor {
	var out []model.WorkerDescriptor
	for _, d := range r.Resolve(query) {
		if Authorize(d, callerTier) {
			out = append(out, d)
		}
	}
	return out
}

// Authorize 调用方等级是否足以调用该 Worker
func Authorize(desc model.WorkerDescriptor, callerTier model.PermissionTier) bool {
	return callerTier.Allows(desc.Tier)
}

// Instantiate 调用构造器创建 Worker
//
// 构造器 panic、返回 nil 或返回的 Worker 等级高于描述声明时，均视为构造失败。
func (r *Registry) Instantiate(desc model.WorkerDescriptor, args model.ConstructionArgs) (w model.Worker, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			w = nil
			err = constructionError(desc, fmt.Errorf("constructor panic: %v", rec))
		}
	}()

	if desc.Constructor == nil {
		return nil, constructionError(desc, fmt.Errorf("no constructor"))
	}
	w, err = desc.Constructor(args)
	if err != nil {
		return nil, constructionError(desc, err)
	}
	if w == nil {
		return nil, constructionError(desc, fmt.Errorf("constructor returned nil worker"))
	}
	if w.PermissionTier() > desc.Tier {
		return nil, constructionError(desc, fmt.Errorf("worker tier %s exceeds declared tier %s", w.PermissionTier(), desc.Tier))
	}
	return w, nil
}

func constructionError(desc model.WorkerDescriptor, err error) error {
	return model.WrapError(model.CodeWorkerConstruction, err, "instantiate worker").
		WithStage(model.StageConstruct).
		WithDependency(desc.TypeName)
}

func cloneDescriptor(d model.WorkerDescriptor) model.WorkerDescriptor {
	d.Capabilities = append([]string(nil), d.Capabilities...)
	d.Categories = append([]string(nil), d.Categories...)
	return d
}
