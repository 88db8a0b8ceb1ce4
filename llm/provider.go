// Package llm 提供多供应商文本生成层：统一 Provider 抽象、
// 健康注册表、成本感知路由与后台探活。
package llm

import (
	"context"
)

// GenerateRequest 是一次生成调用的入参。
type GenerateRequest struct {
	// System 系统提示词（可选）
	System string `json:"system,omitempty"`
	// Prompt 用户提示词
	Prompt string `json:"prompt"`
	// Model 指定模型；为空时用供应商默认模型
	Model string `json:"model,omitempty"`
	// MaxTokens 输出 token 上限
	MaxTokens int `json:"max_tokens,omitempty"`
	// Temperature 采样温度
	Temperature float32 `json:"temperature,omitempty"`
}

// GenerateResult 是一次生成调用的出参。
type GenerateResult struct {
	Text             string `json:"text"`
	Model            string `json:"model"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	FinishReason     string `json:"finish_reason,omitempty"`
}

// TotalTokens 返回本次调用消耗的总 token 数。
func (r *GenerateResult) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// Provider 是文本生成供应商的统一抽象。
type Provider interface {
	// Name 返回供应商实例名（配置中的唯一名字，非厂商名）。
	Name() string

	// Generate 执行一次补全。错误必须映射为 types.Error 分类。
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)

	// HealthCheck 发起轻量探活。
	HealthCheck(ctx context.Context) error
}
