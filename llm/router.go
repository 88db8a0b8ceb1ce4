package llm

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/sophia/config"
	"github.com/BaSui01/sophia/metrics"
	"github.com/BaSui01/sophia/types"
)

// RouteOptions 控制一次路由决策。
type RouteOptions struct {
	// Provider 显式指定供应商，跳过自动选择
	Provider string
	// RequiredCapabilities 必须全部命中的能力标签
	RequiredCapabilities []string
	// PromptTokens 提示词 token 数，用于成本预估
	PromptTokens int
	// MaxOutputTokens 输出上限；为 0 用全局默认
	MaxOutputTokens int
}

// Router 在注册表之上做成本感知的供应商选择与故障转移。
type Router struct {
	registry *Registry
	cfg      config.LLMConfig
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewRouter 创建路由器。collector 可为 nil。
func NewRouter(registry *Registry, cfg config.LLMConfig, collector *metrics.Collector, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		registry: registry,
		cfg:      cfg,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "llm_router")),
	}
}

// Select 返回本次请求的候选供应商序列（首个为主选，其余为故障转移顺序）。
// 顺序规则：显式指定 > active > default > 其余按
// （千 token 成本升序，能力命中数降序，名字升序）。
// unreachable 的供应商从不入选；显式指定只决定首选，指定者 unreachable
// 或生成失败时仍按成本序转移到其余可达候选。
func (r *Router) Select(opts RouteOptions) ([]*Profile, error) {
	pool := r.rankedPool(opts)

	if opts.Provider != "" {
		p, ok := r.registry.Get(opts.Provider)
		if !ok {
			return nil, types.NewError(types.ErrInvalidRequest,
				fmt.Sprintf("unknown provider %q", opts.Provider))
		}
		out := make([]*Profile, 0, len(pool)+1)
		if p.Status() != StatusUnreachable {
			out = append(out, p)
		}
		for _, q := range pool {
			if q.Name() != p.Name() {
				out = append(out, q)
			}
		}
		if len(out) == 0 {
			return nil, types.NewError(types.ErrNoProviderAvailable,
				fmt.Sprintf("provider %q is unreachable and no fallback is reachable", opts.Provider)).
				WithProvider(opts.Provider)
		}
		return out, nil
	}

	if len(pool) == 0 {
		return nil, types.NewError(types.ErrNoProviderAvailable,
			"no reachable provider matches the request")
	}

	// active / default 提到队首，其余保持故障转移顺序。
	pool = promote(pool, r.cfg.Default)
	pool = promote(pool, r.cfg.Active)
	return pool, nil
}

// rankedPool 过滤 unreachable 与能力不匹配的供应商，按故障转移顺序排序。
func (r *Router) rankedPool(opts RouteOptions) []*Profile {
	var pool []*Profile
	for _, p := range r.registry.List() {
		if p.Status() == StatusUnreachable {
			continue
		}
		if !p.HasCapabilities(opts.RequiredCapabilities) {
			continue
		}
		pool = append(pool, p)
	}
	sort.SliceStable(pool, func(i, j int) bool {
		a, b := pool[i], pool[j]
		if a.cfg.CostPer1KTokens != b.cfg.CostPer1KTokens {
			return a.cfg.CostPer1KTokens < b.cfg.CostPer1KTokens
		}
		am, bm := a.capabilityMatches(opts.RequiredCapabilities), b.capabilityMatches(opts.RequiredCapabilities)
		if am != bm {
			return am > bm
		}
		return a.Name() < b.Name()
	})
	return pool
}

// promote 把名为 name 的档案移到队首（存在时）。
func promote(pool []*Profile, name string) []*Profile {
	if name == "" {
		return pool
	}
	for i, p := range pool {
		if p.Name() == name {
			out := make([]*Profile, 0, len(pool))
			out = append(out, p)
			out = append(out, pool[:i]...)
			out = append(out, pool[i+1:]...)
			return out
		}
	}
	return pool
}

// Generate 路由并执行一次生成。
// 候选供应商依序尝试；瞬态错误在同一供应商上重试一次，再失败则记为
// 降级并转移到下一候选。预估成本超出单查询上限的候选被跳过；
// 全部候选都因成本被跳过时报 COST_CEILING_EXCEEDED。
func (r *Router) Generate(ctx context.Context, req *GenerateRequest, opts RouteOptions) (*GenerateResult, string, error) {
	if req == nil || req.Prompt == "" {
		return nil, "", types.NewError(types.ErrInvalidRequest, "prompt is required")
	}

	maxOut := opts.MaxOutputTokens
	if maxOut <= 0 {
		maxOut = r.cfg.MaxOutputTokens
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = maxOut
	}

	candidates, err := r.Select(opts)
	if err != nil {
		return nil, "", err
	}

	var (
		lastErr    error
		prevName   string
		allTooCost = true
	)

	for _, p := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		if r.cfg.MaxCostPerQuery > 0 {
			if cost := p.EstimateCost(opts.PromptTokens, req.MaxTokens); cost > r.cfg.MaxCostPerQuery {
				r.logger.Warn("provider skipped by cost ceiling",
					zap.String("provider", p.Name()),
					zap.Float64("estimated_usd", cost),
					zap.Float64("ceiling_usd", r.cfg.MaxCostPerQuery))
				continue
			}
		}
		allTooCost = false

		if !p.Allow() {
			lastErr = types.NewError(types.ErrRateLimited,
				fmt.Sprintf("provider %q rate limit exhausted", p.Name())).
				WithProvider(p.Name()).WithRetryable(true)
			continue
		}

		if prevName != "" {
			r.metrics.RecordFailover(prevName, p.Name())
		}

		result, err := r.generateOnce(ctx, p, req)
		if err == nil {
			p.RecordSuccess(result.PromptTokens, result.CompletionTokens)
			r.registry.publishState(p, p.Status())
			return result, p.Name(), nil
		}
		if types.IsCode(err, types.ErrInvalidRequest) {
			// 请求本身不合法，换供应商也救不回来。
			return nil, "", err
		}

		status := p.RecordFailure(err)
		r.registry.publishState(p, status)
		lastErr = err
		prevName = p.Name()
		r.logger.Warn("provider failed, failing over",
			zap.String("provider", p.Name()),
			zap.String("status", status.String()),
			zap.Error(err))
	}

	if allTooCost {
		return nil, "", types.NewError(types.ErrCostCeilingExceeded,
			fmt.Sprintf("no provider fits the per-query cost ceiling of $%.4f", r.cfg.MaxCostPerQuery))
	}
	e := types.NewError(types.ErrNoProviderAvailable, "all candidate providers failed")
	if lastErr != nil {
		e = e.WithCause(lastErr)
	}
	return nil, "", e
}

// generateOnce 在单个供应商上执行，瞬态错误原地重试一次。
// 每次尝试都从父 context 派生新的供应商超时，首次超时不吞掉重试机会。
func (r *Router) generateOnce(ctx context.Context, p *Profile, req *GenerateRequest) (*GenerateResult, error) {
	start := time.Now()
	result, err := r.attempt(ctx, p, req)
	if err != nil && types.IsRetryable(err) && ctx.Err() == nil {
		r.logger.Debug("retrying transient generation error",
			zap.String("provider", p.Name()),
			zap.Error(err))
		result, err = r.attempt(ctx, p, req)
	}
	if err != nil {
		return nil, err
	}

	r.metrics.ObserveGeneration(p.Name(), time.Since(start),
		result.PromptTokens, result.CompletionTokens,
		float64(result.TotalTokens())/1000*p.cfg.CostPer1KTokens)
	return result, nil
}

// attempt 单次调用，带独立的供应商级超时。
func (r *Router) attempt(ctx context.Context, p *Profile, req *GenerateRequest) (*GenerateResult, error) {
	callCtx := ctx
	if t := p.cfg.Timeout; t > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	return p.provider.Generate(callCtx, req)
}
