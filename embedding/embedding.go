// Package embedding 提供查询嵌入客户端：把用户问题编码为向量，
// 供向量检索使用。嵌入服务兼容 OpenAI /v1/embeddings 协议。
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/sophia/types"
)

// Embedder 把文本编码为稠密向量。
type Embedder interface {
	// Embed 批量编码；返回向量与输入一一对应。
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension 返回输出向量维度。
	Dimension() int
}

// Config 嵌入客户端配置。
type Config struct {
	// BaseURL 服务地址（默认 https://api.openai.com）
	BaseURL string `json:"base_url"`
	// APIKey 鉴权密钥
	APIKey string `json:"api_key,omitempty"`
	// Model 嵌入模型名（默认 text-embedding-3-small）
	Model string `json:"model"`
	// Dimension 期望向量维度；服务返回不一致时立即报错
	Dimension int `json:"dimension"`
	// Timeout 请求超时（默认 15s）
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Client 是兼容 OpenAI 协议的嵌入客户端。
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient 创建嵌入客户端。
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 1536
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With(zap.String("component", "embedding_client")),
	}
}

// Dimension 返回配置的向量维度。
func (c *Client) Dimension() int {
	return c.cfg.Dimension
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Embed 批量编码文本。返回向量按输入顺序排列；
// 任一向量维度与配置不符即返回 EMBEDDING_DIMENSION_MISMATCH。
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "no texts to embed")
	}

	payload, err := json.Marshal(embeddingRequest{Model: c.cfg.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewError(types.ErrVectorStoreUnavailable, "embedding service unreachable").
			WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, types.NewError(types.ErrRateLimited, "embedding service rate limited").
			WithRetryable(true)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, types.NewError(types.ErrUnauthorized, "embedding service rejected credentials")
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, types.NewError(types.ErrVectorStoreUnavailable,
			fmt.Sprintf("embedding service returned status %d: %s", resp.StatusCode, string(msg))).
			WithRetryable(resp.StatusCode >= 500)
	}

	var decoded embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, types.NewError(types.ErrVectorStoreUnavailable, "decode embedding response").
			WithCause(err).WithRetryable(false)
	}
	if decoded.Error != nil {
		return nil, types.NewError(types.ErrUpstreamError,
			fmt.Sprintf("embedding service error: %s", decoded.Error.Message)).
			WithRetryable(false)
	}
	if len(decoded.Data) != len(texts) {
		return nil, types.NewError(types.ErrUpstreamError,
			fmt.Sprintf("embedding service returned %d vectors for %d inputs",
				len(decoded.Data), len(texts))).
			WithRetryable(false)
	}

	// 服务端按 index 标注顺序，不依赖响应数组顺序。
	out := make([][]float32, len(texts))
	for _, d := range decoded.Data {
		if d.Index < 0 || d.Index >= len(out) {
			continue
		}
		if len(d.Embedding) != c.cfg.Dimension {
			return nil, types.NewError(types.ErrDimensionMismatch,
				fmt.Sprintf("embedding has dimension %d, configured %d",
					len(d.Embedding), c.cfg.Dimension))
		}
		out[d.Index] = d.Embedding
	}

	c.logger.Debug("texts embedded",
		zap.Int("count", len(texts)),
		zap.String("model", c.cfg.Model))
	return out, nil
}

// EmbedOne 编码单条文本。
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
