// Package config 提供统一配置加载：默认值 → YAML 文件 → 环境变量覆盖。
// 重载（Reload）是显式的，不做文件监听；配置错误在加载期立即失败，
// 绝不推迟到请求期。
package config

import (
	"fmt"
	"time"

	"github.com/BaSui01/sophia/types"
)

// Config 是检索-生成核心的完整配置结构。
type Config struct {
	Graph     GraphConfig     `yaml:"graph" env:"GRAPH"`
	Vector    VectorConfig    `yaml:"vector" env:"VECTOR"`
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`
	Fusion    FusionConfig    `yaml:"fusion" env:"FUSION"`
	LLM       LLMConfig       `yaml:"llm" env:"LLM"`
	Cache     CacheConfig     `yaml:"cache" env:"CACHE"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
}

// GraphConfig 知识图谱存储配置。
type GraphConfig struct {
	// Backend: neo4j 或 falkordb
	Backend string `yaml:"backend" env:"BACKEND"`
	// Neo4j HTTP 端点（如 http://localhost:7474）
	Neo4jURL string `yaml:"neo4j_url" env:"NEO4J_URL"`
	// Neo4j 数据库名
	Database string `yaml:"database" env:"DATABASE"`
	// Neo4j 认证
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
	// FalkorDB 地址（host:port）与图名
	FalkorAddr  string `yaml:"falkor_addr" env:"FALKOR_ADDR"`
	FalkorGraph string `yaml:"falkor_graph" env:"FALKOR_GRAPH"`
	// 遍历深度上限（防止无界遍历）
	MaxDepth int `yaml:"max_depth" env:"MAX_DEPTH"`
	// 单次查询超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 失败重试次数（带退避）
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
}

// VectorConfig 向量存储配置。
type VectorConfig struct {
	// Weaviate 基础 URL（如 http://localhost:8080）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	APIKey  string `yaml:"api_key" env:"API_KEY"`
	// Weaviate class 名（必填）
	ClassName string `yaml:"class_name" env:"CLASS_NAME"`
	// k 上限（防止无界结果集）
	MaxK int `yaml:"max_k" env:"MAX_K"`
	// 嵌入维度，用于请求期维度校验
	Dimension int           `yaml:"dimension" env:"DIMENSION"`
	Timeout   time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// EmbeddingConfig 嵌入服务配置（OpenAI 兼容 /v1/embeddings）。
type EmbeddingConfig struct {
	BaseURL   string        `yaml:"base_url" env:"BASE_URL"`
	APIKey    string        `yaml:"api_key" env:"API_KEY"`
	Model     string        `yaml:"model" env:"MODEL"`
	Dimension int           `yaml:"dimension" env:"DIMENSION"`
	Timeout   time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// FusionConfig 检索融合配置。
type FusionConfig struct {
	// 加权融合权重：combined = w_graph*graph + w_vector*vector
	GraphWeight  float64 `yaml:"graph_weight" env:"GRAPH_WEIGHT"`
	VectorWeight float64 `yaml:"vector_weight" env:"VECTOR_WEIGHT"`
	// Context token 预算
	TokenBudget int `yaml:"token_budget" env:"TOKEN_BUDGET"`
	// 两条检索分支各自的独立超时
	GraphTimeout  time.Duration `yaml:"graph_timeout" env:"GRAPH_TIMEOUT"`
	VectorTimeout time.Duration `yaml:"vector_timeout" env:"VECTOR_TIMEOUT"`
	// 向量检索 top-k
	TopK int `yaml:"top_k" env:"TOP_K"`
	// 图遍历深度
	GraphDepth int `yaml:"graph_depth" env:"GRAPH_DEPTH"`
}

// ProviderConfig 单个 LLM Provider 配置。
type ProviderConfig struct {
	Name string `yaml:"name"`
	// Kind: openai / claude / ollama
	Kind    string `yaml:"kind"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	// 每 1K token 的综合成本（USD），用于路由排序与成本上限
	CostPer1KTokens float64 `yaml:"cost_per_1k_tokens"`
	// 声明的能力标签（如 citation/long_context/cheap）
	Capabilities []string `yaml:"capabilities"`
	// 每秒请求数限制（0 表示不限）
	RateLimit float64       `yaml:"rate_limit"`
	Timeout   time.Duration `yaml:"timeout"`
}

// LLMConfig LLM 路由配置。
type LLMConfig struct {
	Providers []ProviderConfig `yaml:"providers"`
	// 默认 Provider（必须在 Providers 中）
	Default string `yaml:"default" env:"DEFAULT"`
	// 进程级活跃 Provider（可为空，为空时用 Default）
	Active string `yaml:"active" env:"ACTIVE"`
	// 单次请求成本上限（USD）
	MaxCostPerQuery float64 `yaml:"max_cost_per_query" env:"MAX_COST_PER_QUERY"`
	// 回答生成的最大输出 token
	MaxOutputTokens int `yaml:"max_output_tokens" env:"MAX_OUTPUT_TOKENS"`
	// 健康探测周期与单次探测超时
	ProbeInterval time.Duration `yaml:"probe_interval" env:"PROBE_INTERVAL"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout" env:"PROBE_TIMEOUT"`
}

// CacheConfig 答案缓存（Redis）配置。
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled" env:"ENABLED"`
	Addr     string        `yaml:"addr" env:"ADDR"`
	Password string        `yaml:"password" env:"PASSWORD"`
	DB       int           `yaml:"db" env:"DB"`
	TTL      time.Duration `yaml:"ttl" env:"TTL"`
}

// LogConfig 日志配置。
type LogConfig struct {
	// Level: debug / info / warn / error
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json / console
	Format string `yaml:"format" env:"FORMAT"`
}

// DefaultConfig 返回带合理默认值的配置。
func DefaultConfig() *Config {
	return &Config{
		Graph: GraphConfig{
			Backend:     "neo4j",
			Neo4jURL:    "http://localhost:7474",
			Database:    "neo4j",
			FalkorAddr:  "localhost:6379",
			FalkorGraph: "philosophy",
			MaxDepth:    3,
			Timeout:     5 * time.Second,
			MaxRetries:  2,
		},
		Vector: VectorConfig{
			BaseURL:   "http://localhost:8080",
			ClassName: "PhilosophyChunk",
			MaxK:      50,
			Dimension: 1536,
			Timeout:   5 * time.Second,
		},
		Embedding: EmbeddingConfig{
			BaseURL:   "https://api.openai.com",
			Model:     "text-embedding-3-small",
			Dimension: 1536,
			Timeout:   10 * time.Second,
		},
		Fusion: FusionConfig{
			GraphWeight:   0.4,
			VectorWeight:  0.6,
			TokenBudget:   3000,
			GraphTimeout:  3 * time.Second,
			VectorTimeout: 3 * time.Second,
			TopK:          10,
			GraphDepth:    2,
		},
		LLM: LLMConfig{
			MaxCostPerQuery: 0.10,
			MaxOutputTokens: 1024,
			ProbeInterval:   30 * time.Second,
			ProbeTimeout:    10 * time.Second,
		},
		Cache: CacheConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			TTL:     5 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate 校验配置，配置级错误立即返回（fatal-configuration）。
func (c *Config) Validate() error {
	switch c.Graph.Backend {
	case "neo4j", "falkordb":
	default:
		return types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("unknown graph backend %q", c.Graph.Backend))
	}
	if c.Graph.MaxDepth <= 0 {
		return types.NewError(types.ErrInvalidConfig, "graph.max_depth must be positive")
	}
	if c.Vector.ClassName == "" {
		return types.NewError(types.ErrInvalidConfig, "vector.class_name is required")
	}
	if c.Vector.Dimension <= 0 {
		return types.NewError(types.ErrInvalidConfig, "vector.dimension must be positive")
	}
	if c.Embedding.Dimension != c.Vector.Dimension {
		return types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("embedding.dimension %d does not match vector.dimension %d",
				c.Embedding.Dimension, c.Vector.Dimension))
	}
	if c.Fusion.TokenBudget <= 0 {
		return types.NewError(types.ErrInvalidConfig, "fusion.token_budget must be positive")
	}
	if c.Fusion.GraphWeight < 0 || c.Fusion.VectorWeight < 0 {
		return types.NewError(types.ErrInvalidConfig, "fusion weights must be non-negative")
	}

	names := make(map[string]bool, len(c.LLM.Providers))
	for i, p := range c.LLM.Providers {
		if p.Name == "" {
			return types.NewError(types.ErrInvalidConfig,
				fmt.Sprintf("llm.providers[%d]: name is required", i))
		}
		if names[p.Name] {
			return types.NewError(types.ErrInvalidConfig,
				fmt.Sprintf("llm.providers: duplicate name %q", p.Name))
		}
		names[p.Name] = true
		switch p.Kind {
		case "openai", "claude", "ollama":
		default:
			return types.NewError(types.ErrInvalidConfig,
				fmt.Sprintf("llm.providers[%s]: unknown kind %q", p.Name, p.Kind))
		}
		if p.CostPer1KTokens < 0 {
			return types.NewError(types.ErrInvalidConfig,
				fmt.Sprintf("llm.providers[%s]: cost must be non-negative", p.Name))
		}
	}
	if len(c.LLM.Providers) == 0 {
		return types.NewError(types.ErrInvalidConfig, "llm.providers must not be empty")
	}
	if c.LLM.Default == "" {
		return types.NewError(types.ErrInvalidConfig, "llm.default is required")
	}
	if !names[c.LLM.Default] {
		return types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("llm.default %q is not a configured provider", c.LLM.Default))
	}
	if c.LLM.Active != "" && !names[c.LLM.Active] {
		return types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("llm.active %q is not a configured provider", c.LLM.Active))
	}
	return nil
}
