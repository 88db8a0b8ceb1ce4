// Package tutor 把检索、生成与引用绑定编排成一次完整的问答：
// 嵌入问题 → 混合检索 → 构造带编号来源的提示词 → 路由生成 → 绑定引用。
package tutor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/sophia/citation"
	"github.com/BaSui01/sophia/llm"
	"github.com/BaSui01/sophia/metrics"
	"github.com/BaSui01/sophia/tokenizer"
	"github.com/BaSui01/sophia/types"
)

// systemPrompt 固定的导师系统提示词。引用规则必须与绑定器的
// 标记格式保持一致。
const systemPrompt = `You are a philosophy tutor. Answer the student's question using ONLY the numbered sources provided. Cite every claim with bracketed source numbers like [1] or [2,3]. If the sources do not cover the question, say so instead of inventing an answer.`

// Retriever 是问答引擎需要的检索能力。
type Retriever interface {
	Retrieve(ctx context.Context, query string, embedding []float32) (*types.Context, error)
}

// Embedder 把问题编码为查询向量。
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Generator 路由并执行一次生成，返回结果与实际供应商名。
type Generator interface {
	Generate(ctx context.Context, req *llm.GenerateRequest, opts llm.RouteOptions) (*llm.GenerateResult, string, error)
}

// Options 控制单次问答。
type Options struct {
	// Provider 显式指定供应商
	Provider string
	// MaxTokens 输出上限（0 用全局默认）
	MaxTokens int
	// Temperature 采样温度
	Temperature float32
	// SkipCache 跳过答案缓存
	SkipCache bool
}

// Option 函数式选项。
type Option func(*Options)

// WithProvider 显式指定供应商。
func WithProvider(name string) Option {
	return func(o *Options) { o.Provider = name }
}

// WithMaxTokens 覆盖输出 token 上限。
func WithMaxTokens(n int) Option {
	return func(o *Options) { o.MaxTokens = n }
}

// WithTemperature 覆盖采样温度。
func WithTemperature(t float32) Option {
	return func(o *Options) { o.Temperature = t }
}

// WithoutCache 跳过答案缓存。
func WithoutCache() Option {
	return func(o *Options) { o.SkipCache = true }
}

// Engine 是问答编排引擎。
type Engine struct {
	embedder  Embedder
	retriever Retriever
	generator Generator
	binder    *citation.Binder
	counter   tokenizer.Counter
	cache     *AnswerCache
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// NewEngine 创建问答引擎。cache 与 collector 可为 nil。
func NewEngine(
	embedder Embedder,
	retriever Retriever,
	generator Generator,
	binder *citation.Binder,
	counter tokenizer.Counter,
	cache *AnswerCache,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if binder == nil {
		binder = citation.NewBinder(logger)
	}
	if counter == nil {
		counter = tokenizer.NewEstimator()
	}
	return &Engine{
		embedder:  embedder,
		retriever: retriever,
		generator: generator,
		binder:    binder,
		counter:   counter,
		cache:     cache,
		metrics:   collector,
		logger:    logger.With(zap.String("component", "tutor_engine")),
	}
}

// Answer 执行一次完整问答。
func (e *Engine) Answer(ctx context.Context, query string, options ...Option) (*types.Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "query is required")
	}
	var opts Options
	for _, apply := range options {
		apply(&opts)
	}

	if !opts.SkipCache {
		if cached := e.cache.Get(ctx, query, opts.Provider); cached != nil {
			e.metrics.RecordCacheHit()
			e.logger.Debug("answer served from cache")
			return cached, nil
		}
		e.metrics.RecordCacheMiss()
	}

	start := time.Now()

	// 嵌入失败不终止请求：向量分支按降级处理，图分支仍可支撑回答。
	var embedding []float32
	var embedFailed bool
	if e.embedder != nil {
		vec, err := e.embedder.EmbedOne(ctx, query)
		if err != nil {
			if types.IsCode(err, types.ErrDimensionMismatch) {
				// 配置错误没有降级可言。
				return nil, err
			}
			embedFailed = true
			e.logger.Warn("query embedding failed, vector branch degraded", zap.Error(err))
		} else {
			embedding = vec
		}
	}

	retrieved, err := e.retriever.Retrieve(ctx, query, embedding)
	if err != nil {
		return nil, err
	}
	if embedFailed {
		retrieved.VectorDegraded = true
	}

	prompt := e.buildPrompt(query, retrieved)
	promptTokens, countErr := e.counter.Count(prompt)
	if countErr != nil {
		promptTokens = len(prompt) / 4
	}

	result, providerName, err := e.generator.Generate(ctx, &llm.GenerateRequest{
		System:      systemPrompt,
		Prompt:      prompt,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}, llm.RouteOptions{
		Provider:        opts.Provider,
		PromptTokens:    promptTokens,
		MaxOutputTokens: opts.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	bound := e.binder.Bind(result.Text, retrieved)
	e.metrics.RecordCitations(len(bound.Citations), bound.Dropped, bound.Ungrounded)

	resp := &types.Response{
		Answer:    bound.Answer,
		Citations: bound.Citations,
		Provider:  providerName,
		Model:     result.Model,
		Usage: types.Usage{
			PromptTokens:     result.PromptTokens,
			CompletionTokens: result.CompletionTokens,
			TotalTokens:      result.TotalTokens(),
		},
		Latency:    time.Since(start),
		Degraded:   retrieved.Degraded(),
		Ungrounded: bound.Ungrounded,
	}

	if !opts.SkipCache {
		e.cache.Put(ctx, query, opts.Provider, resp)
	}

	e.logger.Info("question answered",
		zap.String("provider", providerName),
		zap.Int("citations", len(bound.Citations)),
		zap.Int("dropped", bound.Dropped),
		zap.Bool("degraded", resp.Degraded),
		zap.Bool("ungrounded", resp.Ungrounded),
		zap.Duration("latency", resp.Latency))
	return resp, nil
}

// buildPrompt 把上下文渲染为带编号来源的提示词。编号从 1 起，
// 与引用绑定器的序号约定一致。
func (e *Engine) buildPrompt(query string, retrieved *types.Context) string {
	var b strings.Builder
	b.WriteString("Sources:\n")
	for i, item := range retrieved.Items {
		ref := sourceLabel(item)
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, ref, item.Text)
	}
	b.WriteString("Question: ")
	b.WriteString(query)
	return b.String()
}

// sourceLabel 渲染来源标签：文本块用书目信息，图路径标注来源为图谱。
func sourceLabel(item types.RetrievedItem) string {
	if item.Chunk != nil {
		return item.Chunk.Reference()
	}
	if item.Provenance == types.ProvenanceGraph || item.Provenance == types.ProvenanceHybrid {
		return "knowledge graph"
	}
	return item.SourceID
}
