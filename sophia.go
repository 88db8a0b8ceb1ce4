// Package sophia wires the retrieval, generation, and citation layers into
// a ready-to-use philosophy tutoring core.
//
// Usage:
//
//	cfg, err := config.NewLoader().WithConfigPath("sophia.yaml").Load()
//	sys, err := sophia.New(cfg, nil)
//	defer sys.Close()
//
//	resp, err := sys.Tutor.Answer(ctx, "What did the Stoics mean by apatheia?")
package sophia

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/sophia/citation"
	"github.com/BaSui01/sophia/config"
	"github.com/BaSui01/sophia/embedding"
	"github.com/BaSui01/sophia/fusion"
	"github.com/BaSui01/sophia/graph"
	"github.com/BaSui01/sophia/llm"
	"github.com/BaSui01/sophia/llm/providers/claude"
	"github.com/BaSui01/sophia/llm/providers/ollama"
	"github.com/BaSui01/sophia/llm/providers/openai"
	"github.com/BaSui01/sophia/metrics"
	"github.com/BaSui01/sophia/tokenizer"
	"github.com/BaSui01/sophia/tutor"
	"github.com/BaSui01/sophia/types"
	"github.com/BaSui01/sophia/vector"
)

// System bundles the assembled components.
type System struct {
	Tutor    *tutor.Engine
	Registry *llm.Registry
	Router   *llm.Router
	Prober   *llm.Prober
	Metrics  *metrics.Collector

	logger *zap.Logger
}

// New assembles a System from configuration. The prober is started; call
// Close to stop it. A nil registerer falls back to the default Prometheus
// registry.
func New(cfg *config.Config, reg prometheus.Registerer) (*System, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	collector := metrics.NewCollector(reg)

	graphStore, err := newGraphStore(cfg.Graph, logger)
	if err != nil {
		return nil, err
	}
	graphAdapter := graph.NewAdapter(graphStore, graph.Config{
		MaxDepth:   cfg.Graph.MaxDepth,
		Timeout:    cfg.Graph.Timeout,
		MaxRetries: cfg.Graph.MaxRetries,
	}, logger)

	vectorStore := vector.NewWeaviateStore(vector.WeaviateConfig{
		BaseURL:   cfg.Vector.BaseURL,
		APIKey:    cfg.Vector.APIKey,
		ClassName: cfg.Vector.ClassName,
		Timeout:   cfg.Vector.Timeout,
	}, logger)
	vectorAdapter := vector.NewAdapter(vectorStore, vector.Config{
		MaxK:      cfg.Vector.MaxK,
		Dimension: cfg.Vector.Dimension,
		Timeout:   cfg.Vector.Timeout,
	}, logger)

	embedder := embedding.NewClient(embedding.Config{
		BaseURL:   cfg.Embedding.BaseURL,
		APIKey:    cfg.Embedding.APIKey,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		Timeout:   cfg.Embedding.Timeout,
	}, logger)

	counter := tokenizer.ForModel(defaultModel(cfg.LLM))

	fusionEngine := fusion.NewEngine(graphAdapter, vectorAdapter, counter, fusion.Config{
		GraphWeight:   cfg.Fusion.GraphWeight,
		VectorWeight:  cfg.Fusion.VectorWeight,
		TokenBudget:   cfg.Fusion.TokenBudget,
		GraphTimeout:  cfg.Fusion.GraphTimeout,
		VectorTimeout: cfg.Fusion.VectorTimeout,
		TopK:          cfg.Fusion.TopK,
		GraphDepth:    cfg.Fusion.GraphDepth,
	}, collector, logger)

	registry := llm.NewRegistry(collector)
	for _, pc := range cfg.LLM.Providers {
		provider, err := newProvider(pc, logger)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(provider, pc); err != nil {
			return nil, err
		}
	}
	router := llm.NewRouter(registry, cfg.LLM, collector, logger)
	prober := llm.NewProber(registry, cfg.LLM.ProbeInterval, cfg.LLM.ProbeTimeout, logger)

	var cache *tutor.AnswerCache
	if cfg.Cache.Enabled {
		cache = tutor.NewAnswerCache(cfg.Cache, logger)
	}

	engine := tutor.NewEngine(
		embedder,
		fusionEngine,
		router,
		citation.NewBinder(logger),
		counter,
		cache,
		collector,
		logger,
	)

	prober.Start()

	return &System{
		Tutor:    engine,
		Registry: registry,
		Router:   router,
		Prober:   prober,
		Metrics:  collector,
		logger:   logger,
	}, nil
}

// Close stops background work and flushes logs.
func (s *System) Close() {
	s.Prober.Stop()
	_ = s.logger.Sync()
}

// NewLogger builds a zap logger from LogConfig.
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	if cfg.Format == "console" {
		zc.Encoding = "console"
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	return zc.Build()
}

// newGraphStore 按配置选择图存储后端。
func newGraphStore(cfg config.GraphConfig, logger *zap.Logger) (graph.Store, error) {
	switch cfg.Backend {
	case "neo4j":
		return graph.NewNeo4jStore(graph.Neo4jConfig{
			BaseURL:  cfg.Neo4jURL,
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
			Timeout:  cfg.Timeout,
		}, logger), nil
	case "falkordb":
		return graph.NewFalkorStore(graph.FalkorConfig{
			Addr:     cfg.FalkorAddr,
			Password: cfg.Password,
			Graph:    cfg.FalkorGraph,
		}, logger), nil
	default:
		return nil, types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("unknown graph backend %q", cfg.Backend))
	}
}

// newProvider 按配置实例化供应商客户端。
func newProvider(pc config.ProviderConfig, logger *zap.Logger) (llm.Provider, error) {
	switch pc.Kind {
	case "openai":
		return openai.New(openai.Config{
			Name:    pc.Name,
			BaseURL: pc.BaseURL,
			APIKey:  pc.APIKey,
			Model:   pc.Model,
			Timeout: pc.Timeout,
		}, logger), nil
	case "claude":
		return claude.New(claude.Config{
			Name:    pc.Name,
			BaseURL: pc.BaseURL,
			APIKey:  pc.APIKey,
			Model:   pc.Model,
			Timeout: pc.Timeout,
		}, logger), nil
	case "ollama":
		return ollama.New(ollama.Config{
			Name:    pc.Name,
			BaseURL: pc.BaseURL,
			Model:   pc.Model,
			Timeout: pc.Timeout,
		}, logger), nil
	default:
		return nil, types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("unknown provider kind %q", pc.Kind))
	}
}

// defaultModel 取默认供应商的模型名用于 token 计数。
func defaultModel(cfg config.LLMConfig) string {
	for _, p := range cfg.Providers {
		if p.Name == cfg.Default {
			return p.Model
		}
	}
	return ""
}
