// Package vector 实现向量检索适配器：面向向量存储发出近邻查询，
// 返回带归一化相关度的文本块。适配器只读。
package vector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/sophia/types"
)

// ScoredChunk 是一条检索命中：Chunk 与其原始余弦相似度（[-1,1]）。
type ScoredChunk struct {
	Chunk types.Chunk `json:"chunk"`
	// Score 余弦相似度，区间 [-1,1]；由 Adapter 归一化后对外为 [0,1]。
	Score float64 `json:"score"`
}

// Filter 是可选的检索谓词。
type Filter struct {
	// DocumentIDs 限定命中所属文档。
	DocumentIDs []string `json:"document_ids,omitempty"`
}

// Store 是向量存储客户端抽象（Weaviate）。
type Store interface {
	// SimilaritySearch 返回按余弦相似度降序的 top-k 命中（原始分数）。
	SimilaritySearch(ctx context.Context, embedding []float32, k int, filter *Filter) ([]ScoredChunk, error)

	// Ping 探测存储连通性。
	Ping(ctx context.Context) error
}

// Config 适配器配置。
type Config struct {
	// MaxK k 上限（防止无界结果集）。
	MaxK int
	// Dimension 期望的嵌入维度；不匹配视为配置错误（fatal，不重试）。
	Dimension int
	// Timeout 单次查询超时。
	Timeout time.Duration
}

// DefaultConfig 返回默认适配器配置。
func DefaultConfig() Config {
	return Config{
		MaxK:      50,
		Dimension: 1536,
		Timeout:   5 * time.Second,
	}
}

// Adapter 包装 Store，提供 k 钳制、维度校验与分数归一化。
type Adapter struct {
	store  Store
	cfg    Config
	logger *zap.Logger
}

// NewAdapter 创建向量查询适配器。
func NewAdapter(store Store, cfg Config, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxK <= 0 {
		cfg.MaxK = DefaultConfig().MaxK
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Adapter{
		store:  store,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "vector_adapter")),
	}
}

// SimilaritySearch 执行近邻检索。返回的分数已归一化到 [0,1]。
// 维度不匹配是配置错误（EMBEDDING_DIMENSION_MISMATCH），立即失败且不重试。
func (a *Adapter) SimilaritySearch(ctx context.Context, embedding []float32, k int, filter *Filter) ([]ScoredChunk, error) {
	if len(embedding) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "query embedding is required")
	}
	if a.cfg.Dimension > 0 && len(embedding) != a.cfg.Dimension {
		return nil, types.NewError(types.ErrDimensionMismatch,
			fmt.Sprintf("query embedding has dimension %d, store expects %d",
				len(embedding), a.cfg.Dimension))
	}
	if k <= 0 {
		k = a.cfg.MaxK
	}
	if k > a.cfg.MaxK {
		a.logger.Debug("k clamped", zap.Int("requested", k), zap.Int("max", a.cfg.MaxK))
		k = a.cfg.MaxK
	}

	queryCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	hits, err := a.store.SimilaritySearch(queryCtx, embedding, k, filter)
	if err != nil {
		return nil, a.mapError(err)
	}

	// 原始余弦 [-1,1] → [0,1]，越界值钳制。
	out := make([]ScoredChunk, 0, len(hits))
	for _, h := range hits {
		h.Score = normalizeCosine(h.Score)
		out = append(out, h)
	}

	a.logger.Debug("similarity search completed",
		zap.Int("k", k),
		zap.Int("hits", len(out)))
	return out, nil
}

// Ping 探测向量存储连通性。
func (a *Adapter) Ping(ctx context.Context) error {
	return a.mapError(a.store.Ping(ctx))
}

// normalizeCosine 将余弦相似度从 [-1,1] 映射到 [0,1]。
func normalizeCosine(score float64) float64 {
	normalized := (score + 1) / 2
	if normalized < 0 {
		return 0
	}
	if normalized > 1 {
		return 1
	}
	return normalized
}

func (a *Adapter) mapError(err error) error {
	if err == nil {
		return nil
	}
	var typed *types.Error
	if errors.As(err, &typed) {
		return typed
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrVectorStoreUnavailable, "vector search exceeded deadline").
			WithCause(err).WithRetryable(true)
	}
	return types.NewError(types.ErrVectorStoreUnavailable, "vector store unreachable").
		WithCause(err).WithRetryable(true)
}
