package vector

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

// WeaviateConfig configures the Weaviate-backed vector Store.
type WeaviateConfig struct {
	// BaseURL of the Weaviate instance (default: http://localhost:8080)
	BaseURL string `json:"base_url"`
	// APIKey for bearer authentication (optional)
	APIKey string `json:"api_key,omitempty"`
	// ClassName is the Weaviate class holding text chunks
	ClassName string `json:"class_name"`
	// Timeout for HTTP requests (default: 10s)
	Timeout time.Duration `json:"timeout,omitempty"`
	// Headers are extra headers attached to every request
	Headers map[string]string `json:"headers,omitempty"`
}

// WeaviateStore implements Store over the Weaviate GraphQL API.
// It is read-only: ingestion is owned by a separate indexing pipeline.
type WeaviateStore struct {
	cfg    WeaviateConfig
	client *http.Client
	logger *zap.Logger
}

// NewWeaviateStore creates a Weaviate-backed vector Store.
func NewWeaviateStore(cfg WeaviateConfig, logger *zap.Logger) *WeaviateStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	if cfg.ClassName == "" {
		cfg.ClassName = "PhilosophyChunk"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &WeaviateStore{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "weaviate_store")),
	}
}

// SimilaritySearch runs a nearVector GraphQL query and returns hits with
// raw cosine similarity recovered from Weaviate's certainty field
// (certainty = (1+cos)/2, so cos = 2*certainty-1).
func (s *WeaviateStore) SimilaritySearch(ctx context.Context, embedding []float32, k int, filter *Filter) ([]ScoredChunk, error) {
	if len(embedding) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "embedding is required")
	}
	if k <= 0 {
		k = 10
	}

	query := s.buildNearVectorQuery(embedding, k, filter)
	result, err := s.executeGraphQL(ctx, query)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Ping probes the instance readiness endpoint.
func (s *WeaviateStore) Ping(ctx context.Context) error {
	endpoint := strings.TrimRight(s.cfg.BaseURL, "/") + "/v1/.well-known/ready"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	s.applyHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return types.NewError(types.ErrVectorStoreUnavailable, "weaviate unreachable").
			WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.NewError(types.ErrVectorStoreUnavailable,
			fmt.Sprintf("weaviate not ready: status %d", resp.StatusCode)).
			WithRetryable(true)
	}
	return nil
}

// buildNearVectorQuery assembles the GraphQL Get query. The vector is
// serialized inline; an optional document filter becomes a where operand.
func (s *WeaviateStore) buildNearVectorQuery(embedding []float32, k int, filter *Filter) string {
	var vec strings.Builder
	vec.WriteByte('[')
	for i, v := range embedding {
		if i > 0 {
			vec.WriteByte(',')
		}
		fmt.Fprintf(&vec, "%g", v)
	}
	vec.WriteByte(']')

	where := ""
	if filter != nil && len(filter.DocumentIDs) > 0 {
		quoted := make([]string, 0, len(filter.DocumentIDs))
		for _, id := range filter.DocumentIDs {
			quoted = append(quoted, fmt.Sprintf("%q", id))
		}
		where = fmt.Sprintf(
			`, where: {path: ["documentId"], operator: ContainsAny, valueTextArray: [%s]}`,
			strings.Join(quoted, ","))
	}

	return fmt.Sprintf(`{
  Get {
    %s(nearVector: {vector: %s}, limit: %d%s) {
      chunkId
      documentId
      text
      source
      author
      work
      section
      publishedYear
      _additional { id certainty distance }
    }
  }
}`, s.cfg.ClassName, vec.String(), k, where)
}

type weaviateHit struct {
	ChunkID       string `json:"chunkId"`
	DocumentID    string `json:"documentId"`
	Text          string `json:"text"`
	Source        string `json:"source"`
	Author        string `json:"author"`
	Work          string `json:"work"`
	Section       string `json:"section"`
	PublishedYear int    `json:"publishedYear"`
	Additional    struct {
		ID        string   `json:"id"`
		Certainty *float64 `json:"certainty"`
		Distance  *float64 `json:"distance"`
	} `json:"_additional"`
}

// executeGraphQL posts the query and decodes the hits for the configured
// class into ScoredChunks with raw cosine scores.
func (s *WeaviateStore) executeGraphQL(ctx context.Context, query string) ([]ScoredChunk, error) {
	payload, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, fmt.Errorf("marshal graphql query: %w", err)
	}

	endpoint := strings.TrimRight(s.cfg.BaseURL, "/") + "/v1/graphql"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	s.applyHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewError(types.ErrVectorStoreUnavailable, "weaviate request failed").
			WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, types.NewError(types.ErrVectorStoreUnavailable,
			fmt.Sprintf("weaviate returned status %d: %s", resp.StatusCode, string(msg))).
			WithRetryable(resp.StatusCode >= 500)
	}

	var decoded struct {
		Data   map[string]json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, types.NewError(types.ErrVectorStoreUnavailable, "decode weaviate response").
			WithCause(err).WithRetryable(false)
	}
	if len(decoded.Errors) > 0 {
		return nil, types.NewError(types.ErrVectorStoreUnavailable,
			fmt.Sprintf("weaviate graphql error: %s", decoded.Errors[0].Message)).
			WithRetryable(false)
	}

	var getBlock map[string][]weaviateHit
	if raw, ok := decoded.Data["Get"]; ok {
		if err := json.Unmarshal(raw, &getBlock); err != nil {
			return nil, types.NewError(types.ErrVectorStoreUnavailable, "decode weaviate hits").
				WithCause(err).WithRetryable(false)
		}
	}

	hits := getBlock[s.cfg.ClassName]
	chunks := make([]ScoredChunk, 0, len(hits))
	for _, h := range hits {
		id := h.ChunkID
		if id == "" {
			id = h.Additional.ID
		}
		chunks = append(chunks, ScoredChunk{
			Chunk: types.Chunk{
				ID:            id,
				DocumentID:    h.DocumentID,
				Text:          h.Text,
				Source:        h.Source,
				Author:        h.Author,
				Work:          h.Work,
				Section:       h.Section,
				PublishedYear: h.PublishedYear,
			},
			Score: rawCosine(h.Additional.Certainty, h.Additional.Distance),
		})
	}

	s.logger.Debug("weaviate search executed",
		zap.String("class", s.cfg.ClassName),
		zap.Int("hits", len(chunks)))
	return chunks, nil
}

// rawCosine recovers cosine similarity from Weaviate's _additional fields.
// Certainty is preferred; distance (1-cos for cosine indexes) is the fallback.
func rawCosine(certainty, distance *float64) float64 {
	if certainty != nil {
		return 2**certainty - 1
	}
	if distance != nil {
		return 1 - *distance
	}
	return 0
}

func (s *WeaviateStore) applyHeaders(req *http.Request) {
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}
}
