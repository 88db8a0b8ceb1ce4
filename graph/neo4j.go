package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/sophia/types"
)

// Neo4jConfig configures the Neo4j-backed graph Store.
//
// The client speaks the HTTP transactional Cypher API
// (POST /db/{database}/tx/commit) so it needs no driver beyond net/http.
type Neo4jConfig struct {
	// BaseURL of the Neo4j HTTP endpoint (default: http://localhost:7474)
	BaseURL string `json:"base_url"`
	// Database name (default: neo4j)
	Database string `json:"database"`
	// Basic auth credentials
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	// Request timeout (default: 10s)
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Neo4jStore implements Store over the Neo4j HTTP API.
type Neo4jStore struct {
	cfg    Neo4jConfig
	client *http.Client
	logger *zap.Logger
}

// NewNeo4jStore creates a Neo4j-backed graph Store.
func NewNeo4jStore(cfg Neo4jConfig, logger *zap.Logger) *Neo4jStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:7474"
	}
	if cfg.Database == "" {
		cfg.Database = "neo4j"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Neo4jStore{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "neo4j_store")),
	}
}

// cypher statements used by the store. All user input travels through
// parameters, never through string interpolation.
const (
	neo4jRelatedByID = `
UNWIND $ids AS sid
MATCH (a {id: sid})-[r]-(b)
RETURN a.id, a.name, a.type, a.description, a.confidence,
       type(r), coalesce(r.weight, 0.0),
       b.id, b.name, b.type, b.description, b.confidence`

	neo4jRelatedByName = `
UNWIND $names AS nm
MATCH (a)-[r]-(b)
WHERE toLower(a.name) = nm
RETURN a.id, a.name, a.type, a.description, a.confidence,
       type(r), coalesce(r.weight, 0.0),
       b.id, b.name, b.type, b.description, b.confidence`

	neo4jLookup = `
UNWIND $terms AS term
MATCH (e)
WHERE toLower(e.name) = term OR toLower(e.name) CONTAINS term
RETURN DISTINCT e.id, e.name, e.type, e.description, e.confidence
LIMIT $limit`
)

type neo4jStatement struct {
	Statement  string         `json:"statement"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type neo4jRequest struct {
	Statements []neo4jStatement `json:"statements"`
}

type neo4jResponse struct {
	Results []struct {
		Columns []string `json:"columns"`
		Data    []struct {
			Row []any `json:"row"`
		} `json:"data"`
	} `json:"results"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// QueryRelated expands refs by one hop. Refs with an ID use an exact id
// match; refs with only a name match case-insensitively on entity name.
func (s *Neo4jStore) QueryRelated(ctx context.Context, refs []EntityRef) ([]types.Triple, error) {
	var ids, names []string
	for _, ref := range refs {
		if ref.ID != "" {
			ids = append(ids, ref.ID)
		} else if ref.Name != "" {
			names = append(names, strings.ToLower(ref.Name))
		}
	}

	var statements []neo4jStatement
	if len(ids) > 0 {
		statements = append(statements, neo4jStatement{
			Statement:  neo4jRelatedByID,
			Parameters: map[string]any{"ids": ids},
		})
	}
	if len(names) > 0 {
		statements = append(statements, neo4jStatement{
			Statement:  neo4jRelatedByName,
			Parameters: map[string]any{"names": names},
		})
	}
	if len(statements) == 0 {
		return nil, nil
	}

	resp, err := s.commit(ctx, neo4jRequest{Statements: statements})
	if err != nil {
		return nil, err
	}

	var triples []types.Triple
	for _, result := range resp.Results {
		for _, d := range result.Data {
			t, ok := tripleFromRow(d.Row)
			if !ok {
				continue
			}
			triples = append(triples, t)
		}
	}

	s.logger.Debug("neo4j hop expanded",
		zap.Int("refs", len(refs)),
		zap.Int("triples", len(triples)))
	return triples, nil
}

// LookupEntities resolves query terms to graph entities.
func (s *Neo4jStore) LookupEntities(ctx context.Context, terms []string, limit int) ([]types.Entity, error) {
	lowered := make([]string, 0, len(terms))
	for _, t := range terms {
		lowered = append(lowered, strings.ToLower(t))
	}
	if limit <= 0 {
		limit = 10
	}

	resp, err := s.commit(ctx, neo4jRequest{Statements: []neo4jStatement{{
		Statement:  neo4jLookup,
		Parameters: map[string]any{"terms": lowered, "limit": limit},
	}}})
	if err != nil {
		return nil, err
	}

	var entities []types.Entity
	for _, result := range resp.Results {
		for _, d := range result.Data {
			if e, ok := entityFromRow(d.Row, 0); ok {
				entities = append(entities, e)
			}
		}
	}
	return entities, nil
}

// Ping issues a trivial statement to probe connectivity.
func (s *Neo4jStore) Ping(ctx context.Context) error {
	_, err := s.commit(ctx, neo4jRequest{Statements: []neo4jStatement{{Statement: "RETURN 1"}}})
	return err
}

func (s *Neo4jStore) commit(ctx context.Context, req neo4jRequest) (*neo4jResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal cypher request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/db/%s/tx/commit",
		strings.TrimRight(s.cfg.BaseURL, "/"), s.cfg.Database)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if s.cfg.Username != "" {
		httpReq.SetBasicAuth(s.cfg.Username, s.cfg.Password)
	}

	httpResp, err := s.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewError(types.ErrGraphUnavailable, "neo4j request failed").
			WithCause(err).WithRetryable(true)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, types.NewError(types.ErrGraphUnavailable,
			fmt.Sprintf("neo4j returned status %d: %s", httpResp.StatusCode, string(msg))).
			WithRetryable(httpResp.StatusCode >= 500)
	}

	var resp neo4jResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, types.NewError(types.ErrGraphUnavailable, "decode neo4j response").
			WithCause(err).WithRetryable(false)
	}
	if len(resp.Errors) > 0 {
		return nil, types.NewError(types.ErrGraphUnavailable,
			fmt.Sprintf("neo4j error %s: %s", resp.Errors[0].Code, resp.Errors[0].Message)).
			WithRetryable(false)
	}
	return &resp, nil
}

// tripleFromRow decodes one 12-column traversal row.
func tripleFromRow(row []any) (types.Triple, bool) {
	if len(row) < 12 {
		return types.Triple{}, false
	}
	subject, ok := entityFromRow(row, 0)
	if !ok {
		return types.Triple{}, false
	}
	object, ok := entityFromRow(row, 7)
	if !ok {
		return types.Triple{}, false
	}
	return types.Triple{
		Subject: subject,
		Predicate: types.Relationship{
			Type:   asString(row[5]),
			From:   subject.ID,
			To:     object.ID,
			Weight: asFloat(row[6]),
		},
		Object: object,
	}, true
}

// entityFromRow decodes the 5 entity columns starting at offset.
func entityFromRow(row []any, offset int) (types.Entity, bool) {
	if len(row) < offset+5 {
		return types.Entity{}, false
	}
	id := asString(row[offset])
	if id == "" {
		return types.Entity{}, false
	}
	return types.Entity{
		ID:          id,
		Name:        asString(row[offset+1]),
		Type:        types.EntityType(asString(row[offset+2])),
		Description: asString(row[offset+3]),
		Confidence:  asFloat(row[offset+4]),
	}, true
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	case json.Number:
		f, _ := x.Float64()
		return f
	case string:
		// FalkorDB replies carry numbers as bulk strings.
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
