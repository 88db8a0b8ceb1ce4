package types

import "time"

// Span is a half-open byte range [Start, End) in the answer text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Citation links a span of the generated answer back to a source item in
// the Context. A Citation is immutable once attached to a Response.
type Citation struct {
	ID         string  `json:"id"`
	SourceID   string  `json:"source_id"`
	Ordinal    int     `json:"ordinal"`
	Reference  string  `json:"reference"`
	Span       Span    `json:"span"`
	Confidence float64 `json:"confidence"`
}

// Usage records token consumption and cost of one generation call.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost"` // USD
}

// Response is the terminal object returned to the caller. It is not
// mutated after being returned.
type Response struct {
	Answer    string        `json:"answer"`
	Citations []Citation    `json:"citations"`
	Provider  string        `json:"provider"`
	Model     string        `json:"model,omitempty"`
	Usage     Usage         `json:"usage"`
	Latency   time.Duration `json:"latency"`

	// Degraded is set when the answer was produced with a reduced
	// context or after provider failover.
	Degraded bool `json:"degraded,omitempty"`

	// Ungrounded is set when the answer carried zero valid citations
	// despite a non-empty Context. It signals a likely poorly-grounded
	// answer and is reported for observability, never fatal.
	Ungrounded bool `json:"ungrounded,omitempty"`
}
