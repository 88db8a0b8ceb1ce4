// Package fusion 实现混合检索融合引擎：并行发起图检索与向量检索，
// 归一化打分、加权合并、按 token 预算组装上下文。
// 任一分支失败只降级，不让整个请求失败。
package fusion

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/sophia/graph"
	"github.com/BaSui01/sophia/metrics"
	"github.com/BaSui01/sophia/tokenizer"
	"github.com/BaSui01/sophia/types"
	"github.com/BaSui01/sophia/vector"
)

// GraphRetriever 是融合引擎需要的图检索能力。
type GraphRetriever interface {
	LookupEntities(ctx context.Context, terms []string, limit int) ([]types.Entity, error)
	QueryRelated(ctx context.Context, refs []graph.EntityRef, depth int) ([]types.Triple, error)
}

// VectorRetriever 是融合引擎需要的向量检索能力。
type VectorRetriever interface {
	SimilaritySearch(ctx context.Context, embedding []float32, k int, filter *vector.Filter) ([]vector.ScoredChunk, error)
}

// Config 融合引擎配置。
type Config struct {
	// GraphWeight / VectorWeight 跨源命中的加权系数；内部归一化为和 1。
	GraphWeight  float64
	VectorWeight float64
	// TokenBudget 上下文 token 预算
	TokenBudget int
	// GraphTimeout / VectorTimeout 各分支独立超时
	GraphTimeout  time.Duration
	VectorTimeout time.Duration
	// TopK 向量检索条数
	TopK int
	// GraphDepth 图遍历深度
	GraphDepth int
	// EntityLimit 实体解析上限
	EntityLimit int
}

// DefaultConfig 返回默认融合配置。
func DefaultConfig() Config {
	return Config{
		GraphWeight:   0.4,
		VectorWeight:  0.6,
		TokenBudget:   3000,
		GraphTimeout:  800 * time.Millisecond,
		VectorTimeout: 800 * time.Millisecond,
		TopK:          10,
		GraphDepth:    2,
		EntityLimit:   8,
	}
}

// Engine 是混合检索融合引擎。
type Engine struct {
	graph   GraphRetriever
	vector  VectorRetriever
	counter tokenizer.Counter
	cfg     Config
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewEngine 创建融合引擎。metrics 可为 nil。
func NewEngine(g GraphRetriever, v VectorRetriever, counter tokenizer.Counter, cfg Config, collector *metrics.Collector, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if counter == nil {
		counter = tokenizer.NewEstimator()
	}
	def := DefaultConfig()
	if cfg.GraphWeight <= 0 && cfg.VectorWeight <= 0 {
		cfg.GraphWeight, cfg.VectorWeight = def.GraphWeight, def.VectorWeight
	}
	// 权重归一化，保证 w_g + w_v = 1。
	sum := cfg.GraphWeight + cfg.VectorWeight
	cfg.GraphWeight /= sum
	cfg.VectorWeight /= sum
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = def.TokenBudget
	}
	if cfg.GraphTimeout <= 0 {
		cfg.GraphTimeout = def.GraphTimeout
	}
	if cfg.VectorTimeout <= 0 {
		cfg.VectorTimeout = def.VectorTimeout
	}
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.GraphDepth <= 0 {
		cfg.GraphDepth = def.GraphDepth
	}
	if cfg.EntityLimit <= 0 {
		cfg.EntityLimit = def.EntityLimit
	}

	return &Engine{
		graph:   g,
		vector:  v,
		counter: counter,
		cfg:     cfg,
		metrics: collector,
		logger:  logger.With(zap.String("component", "fusion_engine")),
	}
}

// Retrieve 执行一次混合检索并返回组装好的上下文。
// 两个分支并行、各自超时；分支失败记为降级。两路都空且未降级时
// 返回 EMPTY_CONTEXT。
func (e *Engine) Retrieve(ctx context.Context, query string, embedding []float32) (*types.Context, error) {
	if strings.TrimSpace(query) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "query is required")
	}

	var (
		graphItems   []types.RetrievedItem
		vectorItems  []types.RetrievedItem
		graphFailed  bool
		vectorFailed bool
	)

	// errgroup 只做等待；分支错误被吸收为降级，永不取消对方。
	var group errgroup.Group

	group.Go(func() error {
		start := time.Now()
		items, err := e.retrieveGraph(ctx, query)
		e.metrics.ObserveRetrieval("graph", time.Since(start), err != nil)
		if err != nil {
			graphFailed = true
			e.logger.Warn("graph branch degraded",
				zap.String("code", string(types.GetErrorCode(err))),
				zap.Error(err))
			return nil
		}
		graphItems = items
		return nil
	})

	group.Go(func() error {
		start := time.Now()
		items, err := e.retrieveVector(ctx, embedding)
		e.metrics.ObserveRetrieval("vector", time.Since(start), err != nil)
		if err != nil {
			vectorFailed = true
			e.logger.Warn("vector branch degraded",
				zap.String("code", string(types.GetErrorCode(err))),
				zap.Error(err))
			return nil
		}
		vectorItems = items
		return nil
	})

	_ = group.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	merged := e.fuse(graphItems, vectorItems)
	out := e.assemble(merged)
	out.GraphDegraded = graphFailed
	out.VectorDegraded = vectorFailed

	if out.Empty() {
		if graphFailed && vectorFailed {
			return nil, types.NewError(types.ErrEmptyContext,
				"both retrieval branches failed")
		}
		return nil, types.NewError(types.ErrEmptyContext,
			fmt.Sprintf("no relevant material found for query %q", truncate(query, 80)))
	}

	e.metrics.ObserveContext(len(out.Items), out.TokenCount)
	e.logger.Info("context assembled",
		zap.Int("items", len(out.Items)),
		zap.Int("tokens", out.TokenCount),
		zap.Bool("graph_degraded", graphFailed),
		zap.Bool("vector_degraded", vectorFailed))
	return out, nil
}

// retrieveGraph 解析查询中的实体并展开邻域，产出图侧候选。
func (e *Engine) retrieveGraph(ctx context.Context, query string) ([]types.RetrievedItem, error) {
	if e.graph == nil {
		return nil, nil
	}
	branchCtx, cancel := context.WithTimeout(ctx, e.cfg.GraphTimeout)
	defer cancel()

	terms := extractTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	entities, err := e.graph.LookupEntities(branchCtx, terms, e.cfg.EntityLimit)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, nil
	}

	refs := make([]graph.EntityRef, 0, len(entities))
	for _, ent := range entities {
		refs = append(refs, graph.EntityRef{ID: ent.ID, Name: ent.Name})
	}
	triples, err := e.graph.QueryRelated(branchCtx, refs, e.cfg.GraphDepth)
	if err != nil {
		return nil, err
	}

	items := make([]types.RetrievedItem, 0, len(triples))
	for _, tr := range triples {
		tr := tr
		items = append(items, types.RetrievedItem{
			SourceID:   graphSourceID(tr),
			Provenance: types.ProvenanceGraph,
			Score:      graphRawScore(tr),
			Text:       renderTriple(tr),
			Recency:    laterTime(tr.Subject.UpdatedAt, tr.Object.UpdatedAt),
			Path:       []types.Triple{tr},
		})
	}
	return items, nil
}

// retrieveVector 执行向量近邻检索，产出文本块候选。
func (e *Engine) retrieveVector(ctx context.Context, embedding []float32) ([]types.RetrievedItem, error) {
	if e.vector == nil || len(embedding) == 0 {
		return nil, nil
	}
	branchCtx, cancel := context.WithTimeout(ctx, e.cfg.VectorTimeout)
	defer cancel()

	hits, err := e.vector.SimilaritySearch(branchCtx, embedding, e.cfg.TopK, nil)
	if err != nil {
		return nil, err
	}

	items := make([]types.RetrievedItem, 0, len(hits))
	for _, h := range hits {
		chunk := h.Chunk
		items = append(items, types.RetrievedItem{
			SourceID:   "chunk:" + chunk.ID,
			Provenance: types.ProvenanceVector,
			Score:      h.Score,
			Text:       chunk.Text,
			Recency:    chunk.UpdatedAt,
			Chunk:      &chunk,
		})
	}
	return items, nil
}

// fuse 对两路候选做分支内 min-max 归一化，再按来源加权合并。
// 跨源命中得分 w_g*g + w_v*v：同一 source id 两路同时命中时合并为一条
// hybrid；chunk 关联的实体（id、文档 id 或正文提及）出现在图结果中时，
// chunk 就地升级为 hybrid 并附上图路径。单源命中保留归一化得分。
// 排序键：得分降序、时间降序、插入序稳定。
func (e *Engine) fuse(graphItems, vectorItems []types.RetrievedItem) []types.RetrievedItem {
	normalizeScores(graphItems)
	normalizeScores(vectorItems)

	merged := make([]types.RetrievedItem, 0, len(graphItems)+len(vectorItems))
	index := make(map[string]int, len(graphItems))
	entities := collectEntities(graphItems)

	for _, it := range graphItems {
		it.GraphScore = it.Score
		index[it.SourceID] = len(merged)
		merged = append(merged, it)
	}
	for _, it := range vectorItems {
		it.VectorScore = it.Score
		if i, ok := index[it.SourceID]; ok {
			prev := &merged[i]
			prev.Provenance = types.ProvenanceHybrid
			prev.VectorScore = it.VectorScore
			prev.Score = e.cfg.GraphWeight*prev.GraphScore + e.cfg.VectorWeight*prev.VectorScore
			if prev.Chunk == nil {
				prev.Chunk = it.Chunk
			}
			if it.Recency.After(prev.Recency) {
				prev.Recency = it.Recency
			}
			continue
		}
		if hit, ok := matchEntity(entities, it.Chunk); ok {
			it.Provenance = types.ProvenanceHybrid
			it.GraphScore = hit.score
			it.Score = e.cfg.GraphWeight*hit.score + e.cfg.VectorWeight*it.VectorScore
			it.Path = hit.path
		}
		merged = append(merged, it)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].Recency.After(merged[j].Recency)
	})
	return merged
}

// assemble 逐条做 token 计数并按预算贪心准入；超预算的条目跳过，
// 继续尝试更小的后续条目。
func (e *Engine) assemble(items []types.RetrievedItem) *types.Context {
	out := types.NewContext(e.cfg.TokenBudget)
	for _, it := range items {
		if it.Tokens == 0 {
			it.Tokens = e.countTokens(it.Text)
		}
		out.Add(it)
	}
	return out
}

func (e *Engine) countTokens(text string) int {
	n, err := e.counter.Count(text)
	if err != nil || n <= 0 {
		// 计数器失效时退回粗略估算，预算准入不能因此中断。
		return len(text)/4 + 1
	}
	return n
}

// entityHit 记录图结果中某个实体的最高归一化得分与来源路径。
type entityHit struct {
	name  string
	score float64
	path  []types.Triple
}

// collectEntities 汇总图结果路径上的实体，按小写 id 与名字建索引；
// 同一实体出现在多条结果中时保留得分最高的一条。
func collectEntities(graphItems []types.RetrievedItem) map[string]entityHit {
	hits := make(map[string]entityHit)
	record := func(ent types.Entity, it types.RetrievedItem) {
		hit := entityHit{name: strings.ToLower(ent.Name), score: it.Score, path: it.Path}
		for _, key := range []string{strings.ToLower(ent.ID), hit.name} {
			if key == "" {
				continue
			}
			if prev, ok := hits[key]; !ok || it.Score > prev.score {
				hits[key] = hit
			}
		}
	}
	for _, it := range graphItems {
		for _, tr := range it.Path {
			record(tr.Subject, it)
			record(tr.Object, it)
		}
	}
	return hits
}

// matchEntity 判断 chunk 是否命中图实体：先按 chunk id 与文档 id 精确查，
// 再按实体名在正文中的提及扫描。多个命中取得分最高者，同分取名字序靠前，
// 保证结果与 map 遍历顺序无关。
func matchEntity(entities map[string]entityHit, chunk *types.Chunk) (entityHit, bool) {
	if chunk == nil || len(entities) == 0 {
		return entityHit{}, false
	}
	if hit, ok := entities[strings.ToLower(chunk.ID)]; ok {
		return hit, true
	}
	if hit, ok := entities[strings.ToLower(chunk.DocumentID)]; ok {
		return hit, true
	}
	text := strings.ToLower(chunk.Text)
	var best entityHit
	var found bool
	for key, hit := range entities {
		if key != hit.name {
			// id 键不参与正文扫描。
			continue
		}
		if !strings.Contains(text, key) {
			continue
		}
		if !found || hit.score > best.score || (hit.score == best.score && hit.name < best.name) {
			best, found = hit, true
		}
	}
	return best, found
}

// normalizeScores 分支内 min-max 归一化到 [0,1]；全部同分时记满分。
func normalizeScores(items []types.RetrievedItem) {
	if len(items) == 0 {
		return
	}
	lo, hi := items[0].Score, items[0].Score
	for _, it := range items[1:] {
		if it.Score < lo {
			lo = it.Score
		}
		if it.Score > hi {
			hi = it.Score
		}
	}
	if hi == lo {
		for i := range items {
			items[i].Score = 1
		}
		return
	}
	for i := range items {
		items[i].Score = (items[i].Score - lo) / (hi - lo)
	}
}

// graphRawScore 取边权作为原始分；缺省退回实体置信度均值。
func graphRawScore(t types.Triple) float64 {
	if t.Predicate.Weight > 0 {
		return t.Predicate.Weight
	}
	return (t.Subject.Confidence + t.Object.Confidence) / 2
}

func graphSourceID(t types.Triple) string {
	return fmt.Sprintf("graph:%s:%s:%s", t.Subject.ID, t.Predicate.Type, t.Object.ID)
}

// renderTriple 把三元组渲染为可入提示词的陈述句。
func renderTriple(t types.Triple) string {
	rel := strings.ToLower(strings.ReplaceAll(t.Predicate.Type, "_", " "))
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s.", t.Subject.Name, rel, t.Object.Name)
	if t.Object.Description != "" {
		fmt.Fprintf(&b, " %s: %s", t.Object.Name, t.Object.Description)
	}
	return b.String()
}

func laterTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// stopwords 实体解析跳过的常见词。
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"between": {}, "by": {}, "did": {}, "do": {}, "does": {}, "for": {},
	"from": {}, "how": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "who": {}, "why": {},
	"with": {},
}

// extractTerms 从查询中抽取候选实体词：去标点、转小写、滤停用词。
func extractTerms(query string) []string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !isWordRune(r)
	})
	seen := make(map[string]struct{}, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.ToLower(f)
		if len(w) < 2 {
			continue
		}
		if _, skip := stopwords[w]; skip {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		terms = append(terms, w)
	}
	return terms
}

func isWordRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-', r == '\'':
		return true
	case r > 127:
		// CJK 与带变音符的字符保留。
		return true
	}
	return false
}
