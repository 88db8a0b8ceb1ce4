package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/sophia/types"
)

func newEmbeddingServer(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		data := make([]map[string]any, 0, len(req.Input))
		// Reverse order on purpose: the client must reorder by index.
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float32, dim)
			vec[0] = float32(i)
			data = append(data, map[string]any{"index": i, "embedding": vec})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
}

func TestEmbedOrdersByIndex(t *testing.T) {
	srv := newEmbeddingServer(t, 4)
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key", Dimension: 4}, zap.NewNop())

	vecs, err := c.Embed(context.Background(), []string{"first", "second", "third"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for i, v := range vecs {
		require.Len(t, v, 4)
		assert.Equal(t, float32(i), v[0], "vector %d must match input order", i)
	}
}

func TestEmbedDimensionMismatch(t *testing.T) {
	srv := newEmbeddingServer(t, 8)
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key", Dimension: 4}, zap.NewNop())

	_, err := c.Embed(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrDimensionMismatch))
	assert.False(t, types.IsRetryable(err))
}

func TestEmbedEmptyInput(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1"}, zap.NewNop())
	_, err := c.Embed(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))
}

func TestEmbedRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, zap.NewNop())
	_, err := c.Embed(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrRateLimited))
	assert.True(t, types.IsRetryable(err))
}

func TestEmbedUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, zap.NewNop())
	_, err := c.Embed(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrUnauthorized))
}

func TestEmbedOne(t *testing.T) {
	srv := newEmbeddingServer(t, 4)
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key", Dimension: 4}, zap.NewNop())
	vec, err := c.EmbedOne(context.Background(), "what is virtue")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, 4, c.Dimension())
}
