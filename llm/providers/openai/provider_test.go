package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/sophia/llm"
	"github.com/BaSui01/sophia/types"
)

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, "org-1", r.Header.Get("OpenAI-Organization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)
		assert.Equal(t, 256, req.MaxTokens)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-4o-mini",
			"choices": []map[string]any{{
				"message":       map[string]any{"role": "assistant", "content": "Virtue is a habit. [1]"},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 120, "completion_tokens": 30},
		})
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, APIKey: "key", Organization: "org-1"}, zap.NewNop())

	result, err := p.Generate(context.Background(), &llm.GenerateRequest{
		System:    "You are a tutor.",
		Prompt:    "What is virtue?",
		MaxTokens: 256,
	})
	require.NoError(t, err)
	assert.Equal(t, "Virtue is a habit. [1]", result.Text)
	assert.Equal(t, 120, result.PromptTokens)
	assert.Equal(t, 30, result.CompletionTokens)
	assert.Equal(t, "stop", result.FinishReason)
}

func TestGenerateErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCode  types.ErrorCode
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, types.ErrRateLimited, true},
		{"unauthorized", http.StatusUnauthorized, types.ErrUnauthorized, false},
		{"server error", http.StatusInternalServerError, types.ErrUpstreamError, true},
		{"bad request", http.StatusBadRequest, types.ErrInvalidRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{"message": "upstream says no"},
				})
			}))
			defer srv.Close()

			p := New(Config{BaseURL: srv.URL, APIKey: "key"}, zap.NewNop())
			_, err := p.Generate(context.Background(), &llm.GenerateRequest{Prompt: "q"})
			require.Error(t, err)
			assert.True(t, types.IsCode(err, tt.wantCode), "got %v", err)
			assert.Equal(t, tt.retryable, types.IsRetryable(err))
			assert.Contains(t, err.Error(), "upstream says no")
		})
	}
}

func TestGenerateConnectionRefused(t *testing.T) {
	p := New(Config{BaseURL: "http://127.0.0.1:1", APIKey: "key"}, zap.NewNop())
	_, err := p.Generate(context.Background(), &llm.GenerateRequest{Prompt: "q"})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrUpstreamError))
	assert.True(t, types.IsRetryable(err))
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, APIKey: "key"}, zap.NewNop())
	require.NoError(t, p.HealthCheck(context.Background()))
}

func TestGenerateRequiresPrompt(t *testing.T) {
	p := New(Config{BaseURL: "http://127.0.0.1:1"}, zap.NewNop())
	_, err := p.Generate(context.Background(), &llm.GenerateRequest{})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))
}
