package types

import (
	"strings"
	"time"
)

// EntityType classifies a knowledge graph entity.
type EntityType string

const (
	EntityPerson  EntityType = "Person"
	EntityConcept EntityType = "Concept"
	EntityWork    EntityType = "Work"
	EntitySchool  EntityType = "School"
)

// Entity is a node in the knowledge graph. Entities are created during
// ingestion and are read-only to this core.
type Entity struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Type        EntityType `json:"type"`
	Description string     `json:"description,omitempty"`
	Confidence  float64    `json:"confidence,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at,omitempty"`
}

// Relationship is a typed edge between two entities.
type Relationship struct {
	Type   string  `json:"type"`
	From   string  `json:"from"`
	To     string  `json:"to"`
	Weight float64 `json:"weight,omitempty"`
}

// Triple is one traversal step: (subject entity, relationship, object entity).
type Triple struct {
	Subject   Entity       `json:"subject"`
	Predicate Relationship `json:"predicate"`
	Object    Entity       `json:"object"`
}

// Chunk is a text fragment with its embedding, stored in the vector store.
// Chunks are created during ingestion and are read-only to this core.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Text       string `json:"text"`
	Position   int    `json:"position"`

	// Bibliographic metadata carried for citation rendering.
	Source        string `json:"source,omitempty"`
	Author        string `json:"author,omitempty"`
	Work          string `json:"work,omitempty"`
	Section       string `json:"section,omitempty"`
	PublishedYear int    `json:"published_year,omitempty"`

	Embedding []float32 `json:"embedding,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Reference renders a human-readable citation reference for the chunk,
// e.g. "Aristotle, Nicomachean Ethics, Book II". Falls back to the source
// or document id when bibliographic metadata is missing.
func (c *Chunk) Reference() string {
	parts := make([]string, 0, 3)
	if c.Author != "" {
		parts = append(parts, c.Author)
	}
	if c.Work != "" {
		parts = append(parts, c.Work)
	}
	if c.Section != "" {
		parts = append(parts, c.Section)
	}
	if len(parts) > 0 {
		return strings.Join(parts, ", ")
	}
	if c.Source != "" {
		return c.Source
	}
	return c.DocumentID
}

// Provenance marks which store a retrieved item came from.
type Provenance string

const (
	ProvenanceGraph  Provenance = "graph"
	ProvenanceVector Provenance = "vector"
	ProvenanceHybrid Provenance = "hybrid"
)

// RetrievedItem wraps either an entity traversal path or a chunk, with a
// normalized relevance score in [0,1]. It exists only for the lifetime of
// one query.
type RetrievedItem struct {
	SourceID    string     `json:"source_id"`
	Provenance  Provenance `json:"provenance"`
	Score       float64    `json:"score"`
	GraphScore  float64    `json:"graph_score,omitempty"`
	VectorScore float64    `json:"vector_score,omitempty"`
	Text        string     `json:"text"`
	Tokens      int        `json:"tokens"`
	Recency     time.Time  `json:"recency,omitempty"`

	// Exactly one of Chunk / Path is populated.
	Chunk *Chunk   `json:"chunk,omitempty"`
	Path  []Triple `json:"path,omitempty"`
}

// Context is the ordered, deduplicated, token-bounded set of retrieved
// items backing one answer. It is owned exclusively by the current request.
type Context struct {
	Items       []RetrievedItem `json:"items"`
	TokenBudget int             `json:"token_budget"`
	TokenCount  int             `json:"token_count"`

	// Degradation flags: true when the corresponding retrieval branch
	// failed or timed out and contributed nothing.
	GraphDegraded  bool `json:"graph_degraded,omitempty"`
	VectorDegraded bool `json:"vector_degraded,omitempty"`

	seen map[string]struct{}
}

// NewContext creates an empty Context with the given token budget.
func NewContext(tokenBudget int) *Context {
	return &Context{
		TokenBudget: tokenBudget,
		seen:        make(map[string]struct{}),
	}
}

// Contains reports whether an item with the given source id was admitted.
func (c *Context) Contains(sourceID string) bool {
	if c.seen != nil {
		_, ok := c.seen[sourceID]
		return ok
	}
	for _, it := range c.Items {
		if it.SourceID == sourceID {
			return true
		}
	}
	return false
}

// Add admits an item if it is not a duplicate and fits the remaining token
// budget. An item that would overflow the budget is skipped, not truncated.
// Returns true when the item was admitted.
func (c *Context) Add(item RetrievedItem) bool {
	if c.Contains(item.SourceID) {
		return false
	}
	if c.TokenBudget > 0 && c.TokenCount+item.Tokens > c.TokenBudget {
		return false
	}
	if c.seen == nil {
		c.seen = make(map[string]struct{})
	}
	c.seen[item.SourceID] = struct{}{}
	c.Items = append(c.Items, item)
	c.TokenCount += item.Tokens
	return true
}

// SourceIDs returns the admitted source ids in order.
func (c *Context) SourceIDs() []string {
	ids := make([]string, 0, len(c.Items))
	for _, it := range c.Items {
		ids = append(ids, it.SourceID)
	}
	return ids
}

// Empty reports whether no item was admitted.
func (c *Context) Empty() bool {
	return len(c.Items) == 0
}

// Degraded reports whether any retrieval branch was lost.
func (c *Context) Degraded() bool {
	return c.GraphDegraded || c.VectorDegraded
}
