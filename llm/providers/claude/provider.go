// Package claude 实现 Anthropic Messages 协议的生成供应商。
package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/sophia/llm"
	"github.com/BaSui01/sophia/llm/providers"
	"github.com/BaSui01/sophia/types"
)

const anthropicVersion = "2023-06-01"

// Config Claude 供应商配置。
type Config struct {
	// Name 实例名（注册表内唯一）
	Name string
	// BaseURL 服务地址（默认 https://api.anthropic.com）
	BaseURL string
	// APIKey 鉴权密钥
	APIKey string
	// Model 默认模型
	Model string
	// Timeout 请求超时（默认 60s）
	Timeout time.Duration
}

// Provider 通过 /v1/messages 提供文本生成。
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New 创建 Claude 供应商。
func New(cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "claude"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("provider", cfg.Name)),
	}
}

// Name 返回实例名。
func (p *Provider) Name() string { return p.cfg.Name }

type messagesRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float32       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Generate 执行一次补全。
func (p *Provider) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResult, error) {
	if req == nil || req.Prompt == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "prompt is required").
			WithProvider(p.Name())
	}

	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		// Messages API 要求 max_tokens 必填。
		maxTokens = 1024
	}

	payload, err := json.Marshal(messagesRequest{
		Model:       model,
		System:      req.System,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal messages request: %w", err)
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	p.buildHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, providers.MapTransportError(ctx, err, p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, providers.MapHTTPError(resp.StatusCode, providers.ReadErrorMessage(resp.Body), p.Name())
	}

	var decoded messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "decode messages response").
			WithCause(err).WithProvider(p.Name())
	}

	var text strings.Builder
	for _, block := range decoded.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, types.NewError(types.ErrUpstreamError, "messages response has no text content").
			WithProvider(p.Name())
	}

	p.logger.Debug("completion finished",
		zap.String("model", decoded.Model),
		zap.String("stop_reason", decoded.StopReason),
		zap.Int("output_tokens", decoded.Usage.OutputTokens))

	return &llm.GenerateResult{
		Text:             text.String(),
		Model:            decoded.Model,
		PromptTokens:     decoded.Usage.InputTokens,
		CompletionTokens: decoded.Usage.OutputTokens,
		FinishReason:     decoded.StopReason,
	}, nil
}

// HealthCheck 发送一条 1 token 的消息做探活。
// Anthropic 没有免费的列表端点，这是最便宜的真实信号。
func (p *Provider) HealthCheck(ctx context.Context) error {
	payload, err := json.Marshal(messagesRequest{
		Model:     p.cfg.Model,
		Messages:  []chatMessage{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	})
	if err != nil {
		return err
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	p.buildHeaders(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return providers.MapTransportError(ctx, err, p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return providers.MapHTTPError(resp.StatusCode, providers.ReadErrorMessage(resp.Body), p.Name())
	}
	return nil
}

func (p *Provider) buildHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
}
