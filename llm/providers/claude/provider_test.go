package claude

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
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		var req messagesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "You are a tutor.", req.System)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		assert.Positive(t, req.MaxTokens, "max_tokens is mandatory for the messages api")

		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "claude-sonnet-4-5",
			"content": []map[string]any{
				{"type": "text", "text": "The examined life "},
				{"type": "text", "text": "is worth living. [1]"},
			},
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 200, "output_tokens": 40},
		})
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, APIKey: "key"}, zap.NewNop())

	result, err := p.Generate(context.Background(), &llm.GenerateRequest{
		System: "You are a tutor.",
		Prompt: "Why examine life?",
	})
	require.NoError(t, err)
	assert.Equal(t, "The examined life is worth living. [1]", result.Text)
	assert.Equal(t, 200, result.PromptTokens)
	assert.Equal(t, 40, result.CompletionTokens)
	assert.Equal(t, "end_turn", result.FinishReason)
}

func TestGenerateOverloaded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "overloaded"},
		})
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, APIKey: "key"}, zap.NewNop())
	_, err := p.Generate(context.Background(), &llm.GenerateRequest{Prompt: "q"})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrUpstreamError))
	assert.True(t, types.IsRetryable(err))
}

func TestGenerateEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":   "claude-sonnet-4-5",
			"content": []map[string]any{},
			"usage":   map[string]any{"input_tokens": 1, "output_tokens": 0},
		})
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, APIKey: "key"}, zap.NewNop())
	_, err := p.Generate(context.Background(), &llm.GenerateRequest{Prompt: "q"})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrUpstreamError))
}

func TestHealthCheckUsesTinyMessage(t *testing.T) {
	var captured messagesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":   "claude-sonnet-4-5",
			"content": []map[string]any{{"type": "text", "text": "pong"}},
			"usage":   map[string]any{"input_tokens": 1, "output_tokens": 1},
		})
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, APIKey: "key"}, zap.NewNop())
	require.NoError(t, p.HealthCheck(context.Background()))
	assert.Equal(t, 1, captured.MaxTokens)
}
