package llm

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/BaSui01/sophia/config"
	"github.com/BaSui01/sophia/metrics"
	"github.com/BaSui01/sophia/types"
)

// Status 是供应商健康状态。
// 状态机：unknown → healthy ⇄ degraded → unreachable；
// unreachable 只能经探活成功回到 healthy。
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusDegraded
	StatusUnreachable
)

// String 返回状态名。
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// unreachableAfter 连续失败多少次进入 unreachable。
const unreachableAfter = 3

// Profile 聚合一个供应商的实现、配置与运行期健康状态。
type Profile struct {
	mu sync.Mutex

	provider Provider
	cfg      config.ProviderConfig

	status    Status
	lastProbe time.Time
	lastError error
	failures  int

	limiter *rate.Limiter

	totalCostUSD float64
	totalTokens  int64
}

// newProfile 创建供应商档案。RateLimit <= 0 表示不限流。
func newProfile(p Provider, cfg config.ProviderConfig) *Profile {
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), int(cfg.RateLimit))
	}
	return &Profile{
		provider: p,
		cfg:      cfg,
		status:   StatusUnknown,
		limiter:  limiter,
	}
}

// Name 返回供应商实例名。
func (p *Profile) Name() string { return p.cfg.Name }

// Config 返回供应商配置副本。
func (p *Profile) Config() config.ProviderConfig { return p.cfg }

// Status 返回当前健康状态。
func (p *Profile) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// LastError 返回最近一次失败原因。
func (p *Profile) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastError
}

// Allow 消耗一个限流令牌；无限流配置时恒为 true。
func (p *Profile) Allow() bool {
	if p.limiter == nil {
		return true
	}
	return p.limiter.Allow()
}

// RecordSuccess 记录一次生成成功并累计用量。
// unreachable 状态不因生成成功翻转，必须等探活确认。
func (p *Profile) RecordSuccess(promptTokens, completionTokens int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = 0
	p.lastError = nil
	if p.status != StatusUnreachable {
		p.status = StatusHealthy
	}
	tokens := promptTokens + completionTokens
	p.totalTokens += int64(tokens)
	p.totalCostUSD += float64(tokens) / 1000 * p.cfg.CostPer1KTokens
}

// RecordFailure 记录一次失败；连续失败达到阈值降为 unreachable。
func (p *Profile) RecordFailure(err error) Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures++
	p.lastError = err
	if p.failures >= unreachableAfter {
		p.status = StatusUnreachable
	} else if p.status != StatusUnreachable {
		p.status = StatusDegraded
	}
	return p.status
}

// RecordProbe 记录一次探活结果。探活成功是离开 unreachable 的唯一出口。
func (p *Profile) RecordProbe(err error) Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastProbe = time.Now()
	if err == nil {
		p.failures = 0
		p.lastError = nil
		p.status = StatusHealthy
	} else {
		p.failures++
		p.lastError = err
		if p.failures >= unreachableAfter || p.status == StatusUnreachable {
			p.status = StatusUnreachable
		} else {
			p.status = StatusDegraded
		}
	}
	return p.status
}

// Usage 返回累计 token 与成本。
func (p *Profile) Usage() (tokens int64, costUSD float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalTokens, p.totalCostUSD
}

// EstimateCost 估算一次调用的美元成本。
func (p *Profile) EstimateCost(promptTokens, maxOutputTokens int) float64 {
	return float64(promptTokens+maxOutputTokens) / 1000 * p.cfg.CostPer1KTokens
}

// HasCapabilities 判断是否覆盖全部要求的能力标签。
func (p *Profile) HasCapabilities(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(p.cfg.Capabilities))
	for _, c := range p.cfg.Capabilities {
		have[c] = struct{}{}
	}
	for _, r := range required {
		if _, ok := have[r]; !ok {
			return false
		}
	}
	return true
}

// capabilityMatches 统计命中的能力标签数，用于故障转移排序。
func (p *Profile) capabilityMatches(required []string) int {
	n := 0
	have := make(map[string]struct{}, len(p.cfg.Capabilities))
	for _, c := range p.cfg.Capabilities {
		have[c] = struct{}{}
	}
	for _, r := range required {
		if _, ok := have[r]; ok {
			n++
		}
	}
	return n
}

// Registry 持有全部供应商档案。
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	metrics  *metrics.Collector
}

// NewRegistry 创建空注册表。collector 可为 nil。
func NewRegistry(collector *metrics.Collector) *Registry {
	return &Registry{
		profiles: make(map[string]*Profile),
		metrics:  collector,
	}
}

// Register 注册一个供应商。重名报 INVALID_CONFIG。
func (r *Registry) Register(p Provider, cfg config.ProviderConfig) error {
	if p == nil {
		return types.NewError(types.ErrInvalidConfig, "provider is nil")
	}
	if cfg.Name == "" {
		cfg.Name = p.Name()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.profiles[cfg.Name]; exists {
		return types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("provider %q already registered", cfg.Name))
	}
	r.profiles[cfg.Name] = newProfile(p, cfg)
	return nil
}

// Get 按名取档案。
func (r *Registry) Get(name string) (*Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[name]
	return p, ok
}

// List 返回按名排序的全部档案。
func (r *Registry) List() []*Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Snapshot 返回各供应商当前状态，用于可观测面。
func (r *Registry) Snapshot() map[string]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Status, len(r.profiles))
	for name, p := range r.profiles {
		out[name] = p.Status()
	}
	return out
}

// publishState 把状态同步到指标。
func (r *Registry) publishState(p *Profile, s Status) {
	r.metrics.SetProviderState(p.Name(), int(s))
}
