// Package tokenizer 提供 token 计数能力，供融合引擎做预算准入、
// 供问答层做提示词与成本核算。
package tokenizer

// Counter 是统一的 token 计数接口。
type Counter interface {
	// Count 返回给定文本的 token 数。
	Count(text string) (int, error)

	// Name 返回计数器的名称。
	Name() string
}

// ForModel 返回适配给定模型的计数器：已知 OpenAI 系模型用 tiktoken，
// 其余回退到通用估算器。
func ForModel(model string) Counter {
	if t, err := NewTiktokenCounter(model); err == nil {
		return t
	}
	return NewEstimator()
}
