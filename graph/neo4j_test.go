package graph

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

func neo4jRow(aID, rel, bID string) []any {
	return []any{
		aID, "Name " + aID, "Person", "desc", 0.9,
		rel, 0.5,
		bID, "Name " + bID, "Concept", "desc", 0.8,
	}
}

func newNeo4jTestServer(t *testing.T, rows [][]any, capture *neo4jRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/db/neo4j/tx/commit")

		if capture != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(capture))
		}

		data := make([]map[string]any, 0, len(rows))
		for _, row := range rows {
			data = append(data, map[string]any{"row": row})
		}
		resp := map[string]any{
			"results": []map[string]any{{
				"columns": []string{},
				"data":    data,
			}},
			"errors": []any{},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestNeo4jQueryRelated(t *testing.T) {
	var captured neo4jRequest
	srv := newNeo4jTestServer(t, [][]any{
		neo4jRow("socrates", "TAUGHT", "plato"),
		neo4jRow("socrates", "PRACTICED", "dialectic"),
	}, &captured)
	defer srv.Close()

	store := NewNeo4jStore(Neo4jConfig{BaseURL: srv.URL}, zap.NewNop())

	triples, err := store.QueryRelated(context.Background(), []EntityRef{
		{ID: "socrates"},
		{Name: "Plato"},
	})
	require.NoError(t, err)
	require.Len(t, triples, 2)

	assert.Equal(t, "socrates", triples[0].Subject.ID)
	assert.Equal(t, "TAUGHT", triples[0].Predicate.Type)
	assert.Equal(t, "plato", triples[0].Object.ID)
	assert.Equal(t, types.EntityConcept, triples[0].Object.Type)
	assert.InDelta(t, 0.5, triples[0].Predicate.Weight, 1e-9)

	// ID refs and name refs go out as separate parameterized statements.
	require.Len(t, captured.Statements, 2)
	assert.Equal(t, []any{"socrates"}, captured.Statements[0].Parameters["ids"])
	assert.Equal(t, []any{"plato"}, captured.Statements[1].Parameters["names"])
}

func TestNeo4jLookupEntities(t *testing.T) {
	srv := newNeo4jTestServer(t, [][]any{
		{"stoicism", "Stoicism", "School", "Hellenistic school", 0.95},
	}, nil)
	defer srv.Close()

	store := NewNeo4jStore(Neo4jConfig{BaseURL: srv.URL}, zap.NewNop())

	entities, err := store.LookupEntities(context.Background(), []string{"Stoicism"}, 5)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "stoicism", entities[0].ID)
	assert.Equal(t, types.EntitySchool, entities[0].Type)
	assert.InDelta(t, 0.95, entities[0].Confidence, 1e-9)
}

func TestNeo4jServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	store := NewNeo4jStore(Neo4jConfig{BaseURL: srv.URL}, zap.NewNop())

	_, err := store.QueryRelated(context.Background(), []EntityRef{{ID: "x"}})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrGraphUnavailable))
	assert.True(t, types.IsRetryable(err), "5xx should be retryable")
}

func TestNeo4jCypherError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []any{},
			"errors": []map[string]any{{
				"code":    "Neo.ClientError.Statement.SyntaxError",
				"message": "bad cypher",
			}},
		})
	}))
	defer srv.Close()

	store := NewNeo4jStore(Neo4jConfig{BaseURL: srv.URL}, zap.NewNop())

	_, err := store.QueryRelated(context.Background(), []EntityRef{{ID: "x"}})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrGraphUnavailable))
	assert.False(t, types.IsRetryable(err), "cypher errors are not retryable")
	assert.Contains(t, err.Error(), "SyntaxError")
}

func TestNeo4jConnectionRefused(t *testing.T) {
	store := NewNeo4jStore(Neo4jConfig{BaseURL: "http://127.0.0.1:1"}, zap.NewNop())
	err := store.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrGraphUnavailable))
}

func TestQuoteCypherString(t *testing.T) {
	assert.Equal(t, `'plato'`, quoteCypherString("plato"))
	assert.Equal(t, `'it\'s'`, quoteCypherString("it's"))
	assert.Equal(t, `'a\\b'`, quoteCypherString(`a\b`))
}
