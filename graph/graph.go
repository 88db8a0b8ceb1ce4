// Package graph 实现知识图谱查询适配器：面向图存储发出参数化的
// 遍历/查找查询，返回实体-关系三元组。适配器只读，不写图。
package graph

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/sophia/retry"
	"github.com/BaSui01/sophia/types"
)

// EntityRef 标识一个遍历起点。ID 与 Name 至少一项非空。
type EntityRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Store 是图存储客户端抽象（Neo4j / FalkorDB）。
type Store interface {
	// QueryRelated 返回以 refs 为起点、单跳展开的三元组。
	// 多跳遍历由 Adapter 以 BFS 分层驱动，保证深度有界。
	QueryRelated(ctx context.Context, refs []EntityRef) ([]types.Triple, error)

	// LookupEntities 按名称查找实体（用于查询词到图节点的播种）。
	LookupEntities(ctx context.Context, terms []string, limit int) ([]types.Entity, error)

	// Ping 探测存储连通性。
	Ping(ctx context.Context) error
}

// Config 适配器配置。
type Config struct {
	// MaxDepth 遍历深度上限（防止无界遍历）。
	MaxDepth int
	// Timeout 单次查询超时。
	Timeout time.Duration
	// MaxRetries 失败重试次数（带退避）。
	MaxRetries int
}

// DefaultConfig 返回默认适配器配置。
func DefaultConfig() Config {
	return Config{
		MaxDepth:   3,
		Timeout:    5 * time.Second,
		MaxRetries: 2,
	}
}

// Adapter 包装 Store，提供深度钳制、超时与重试语义。
type Adapter struct {
	store   Store
	cfg     Config
	retryer *retry.Retryer
	logger  *zap.Logger
}

// NewAdapter 创建图查询适配器。
func NewAdapter(store Store, cfg Config, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultConfig().MaxDepth
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	policy := &retry.Policy{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		Retryable:    types.IsRetryable,
	}

	return &Adapter{
		store:   store,
		cfg:     cfg,
		retryer: retry.New(policy, logger),
		logger:  logger.With(zap.String("component", "graph_adapter")),
	}
}

// QueryRelated 以 BFS 分层展开 refs 的邻域，深度被钳制到配置上限。
// 起点集合为空视为无效请求。连通性失败映射为 GRAPH_UNAVAILABLE，
// 超出期限映射为 GRAPH_QUERY_TIMEOUT，二者均可由调用方退避重试。
func (a *Adapter) QueryRelated(ctx context.Context, refs []EntityRef, depth int) ([]types.Triple, error) {
	if len(refs) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "graph query requires at least one entity ref")
	}
	if depth <= 0 {
		depth = 1
	}
	if depth > a.cfg.MaxDepth {
		a.logger.Debug("depth clamped",
			zap.Int("requested", depth),
			zap.Int("max", a.cfg.MaxDepth))
		depth = a.cfg.MaxDepth
	}

	queryCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	var all []types.Triple
	seenEdge := make(map[[3]string]struct{})
	visited := make(map[string]struct{})
	frontier := refs

	for level := 0; level < depth && len(frontier) > 0; level++ {
		var triples []types.Triple
		err := a.retryer.Do(queryCtx, func() error {
			var qerr error
			triples, qerr = a.store.QueryRelated(queryCtx, frontier)
			return a.mapError(qerr)
		})
		if err != nil {
			return nil, a.mapError(err)
		}

		for _, ref := range frontier {
			if ref.ID != "" {
				visited[ref.ID] = struct{}{}
			}
		}

		var next []EntityRef
		for _, t := range triples {
			key := [3]string{t.Subject.ID, t.Predicate.Type, t.Object.ID}
			if _, dup := seenEdge[key]; dup {
				continue
			}
			seenEdge[key] = struct{}{}
			all = append(all, t)

			if _, ok := visited[t.Object.ID]; !ok && t.Object.ID != "" {
				visited[t.Object.ID] = struct{}{}
				next = append(next, EntityRef{ID: t.Object.ID})
			}
		}
		frontier = next
	}

	a.logger.Debug("graph traversal completed",
		zap.Int("depth", depth),
		zap.Int("triples", len(all)))
	return all, nil
}

// LookupEntities 按查询词查找候选起点实体。
func (a *Adapter) LookupEntities(ctx context.Context, terms []string, limit int) ([]types.Entity, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	queryCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	var entities []types.Entity
	err := a.retryer.Do(queryCtx, func() error {
		var qerr error
		entities, qerr = a.store.LookupEntities(queryCtx, terms, limit)
		return a.mapError(qerr)
	})
	if err != nil {
		return nil, a.mapError(err)
	}
	return entities, nil
}

// Ping 探测图存储连通性。
func (a *Adapter) Ping(ctx context.Context) error {
	return a.mapError(a.store.Ping(ctx))
}

// mapError 将底层错误归一到检索错误分类。
func (a *Adapter) mapError(err error) error {
	if err == nil {
		return nil
	}
	// 已经归一过的错误原样返回。
	var typed *types.Error
	if errors.As(err, &typed) {
		return typed
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrGraphQueryTimeout, "graph traversal exceeded deadline").
			WithCause(err).WithRetryable(true)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return types.NewError(types.ErrGraphUnavailable, "graph store unreachable").
		WithCause(err).WithRetryable(true)
}
