package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/sophia/types"
)

// FalkorConfig 配置基于 FalkorDB 的图存储客户端。
// FalkorDB 通过 Redis 协议执行 Cypher（GRAPH.QUERY）。
type FalkorConfig struct {
	// Addr Redis 地址（host:port）
	Addr string `json:"addr"`
	// Password 认证密码
	Password string `json:"password,omitempty"`
	// Graph 图名
	Graph string `json:"graph"`
}

// FalkorStore 通过 go-redis 实现 Store。
type FalkorStore struct {
	client redis.UniversalClient
	graph  string
	logger *zap.Logger
}

// NewFalkorStore 创建 FalkorDB 图存储客户端。
func NewFalkorStore(cfg FalkorConfig, logger *zap.Logger) *FalkorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.Graph == "" {
		cfg.Graph = "philosophy"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
	})
	return &FalkorStore{
		client: client,
		graph:  cfg.Graph,
		logger: logger.With(zap.String("component", "falkor_store")),
	}
}

// NewFalkorStoreWithClient 复用已有的 redis 客户端（测试用）。
func NewFalkorStoreWithClient(client redis.UniversalClient, graph string, logger *zap.Logger) *FalkorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FalkorStore{
		client: client,
		graph:  graph,
		logger: logger.With(zap.String("component", "falkor_store")),
	}
}

// QueryRelated 展开一跳邻域。
func (s *FalkorStore) QueryRelated(ctx context.Context, refs []EntityRef) ([]types.Triple, error) {
	var idList, nameList []string
	for _, ref := range refs {
		if ref.ID != "" {
			idList = append(idList, quoteCypherString(ref.ID))
		} else if ref.Name != "" {
			nameList = append(nameList, quoteCypherString(strings.ToLower(ref.Name)))
		}
	}
	if len(idList) == 0 && len(nameList) == 0 {
		return nil, nil
	}

	var clauses []string
	if len(idList) > 0 {
		clauses = append(clauses, fmt.Sprintf("a.id IN [%s]", strings.Join(idList, ", ")))
	}
	if len(nameList) > 0 {
		clauses = append(clauses, fmt.Sprintf("toLower(a.name) IN [%s]", strings.Join(nameList, ", ")))
	}

	query := fmt.Sprintf(
		"MATCH (a)-[r]-(b) WHERE %s "+
			"RETURN a.id, a.name, a.type, a.description, a.confidence, "+
			"type(r), coalesce(r.weight, 0.0), "+
			"b.id, b.name, b.type, b.description, b.confidence",
		strings.Join(clauses, " OR "))

	rows, err := s.query(ctx, query)
	if err != nil {
		return nil, err
	}

	var triples []types.Triple
	for _, row := range rows {
		if t, ok := tripleFromRow(row); ok {
			triples = append(triples, t)
		}
	}
	return triples, nil
}

// LookupEntities 按名称查找实体。
func (s *FalkorStore) LookupEntities(ctx context.Context, terms []string, limit int) ([]types.Entity, error) {
	if limit <= 0 {
		limit = 10
	}
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, quoteCypherString(strings.ToLower(t)))
	}

	query := fmt.Sprintf(
		"MATCH (e) WHERE toLower(e.name) IN [%s] "+
			"RETURN DISTINCT e.id, e.name, e.type, e.description, e.confidence LIMIT %d",
		strings.Join(quoted, ", "), limit)

	rows, err := s.query(ctx, query)
	if err != nil {
		return nil, err
	}

	var entities []types.Entity
	for _, row := range rows {
		if e, ok := entityFromRow(row, 0); ok {
			entities = append(entities, e)
		}
	}
	return entities, nil
}

// Ping 探测连通性。
func (s *FalkorStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return types.NewError(types.ErrGraphUnavailable, "falkordb unreachable").
			WithCause(err).WithRetryable(true)
	}
	return nil
}

// query 执行 GRAPH.QUERY 并解析非紧凑回复：[header, rows, stats]。
func (s *FalkorStore) query(ctx context.Context, cypher string) ([][]any, error) {
	res, err := s.client.Do(ctx, "GRAPH.QUERY", s.graph, cypher).Result()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewError(types.ErrGraphUnavailable, "falkordb query failed").
			WithCause(err).WithRetryable(true)
	}

	reply, ok := res.([]any)
	if !ok || len(reply) < 2 {
		return nil, types.NewError(types.ErrGraphUnavailable,
			fmt.Sprintf("unexpected falkordb reply shape %T", res)).WithRetryable(false)
	}

	rawRows, ok := reply[1].([]any)
	if !ok {
		return nil, nil
	}

	rows := make([][]any, 0, len(rawRows))
	for _, raw := range rawRows {
		cols, ok := raw.([]any)
		if !ok {
			continue
		}
		rows = append(rows, cols)
	}

	s.logger.Debug("falkordb query executed", zap.Int("rows", len(rows)))
	return rows, nil
}

// quoteCypherString 为内联 Cypher 字符串做转义加引号。
func quoteCypherString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}
