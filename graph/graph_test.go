package graph

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/sophia/types"
)

// fakeStore is a scriptable in-memory Store.
type fakeStore struct {
	triples  map[string][]types.Triple // subject id -> one-hop triples
	entities []types.Entity
	err      error
	failures int32 // fail this many calls before succeeding
	calls    int32
	delay    time.Duration
}

func (f *fakeStore) QueryRelated(ctx context.Context, refs []EntityRef) ([]types.Triple, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		if atomic.AddInt32(&f.failures, -1) >= 0 {
			return nil, f.err
		}
	}
	var out []types.Triple
	for _, ref := range refs {
		out = append(out, f.triples[ref.ID]...)
	}
	return out, nil
}

func (f *fakeStore) LookupEntities(ctx context.Context, terms []string, limit int) ([]types.Entity, error) {
	if f.err != nil && atomic.AddInt32(&f.failures, -1) >= 0 {
		return nil, f.err
	}
	return f.entities, nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return f.err }

func entity(id string) types.Entity {
	return types.Entity{ID: id, Name: id, Type: types.EntityConcept}
}

func triple(from, rel, to string) types.Triple {
	return types.Triple{
		Subject:   entity(from),
		Predicate: types.Relationship{Type: rel, From: from, To: to},
		Object:    entity(to),
	}
}

func TestQueryRelatedRequiresRefs(t *testing.T) {
	a := NewAdapter(&fakeStore{}, DefaultConfig(), zap.NewNop())
	_, err := a.QueryRelated(context.Background(), nil, 2)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))
}

func TestQueryRelatedBFSDepth(t *testing.T) {
	store := &fakeStore{triples: map[string][]types.Triple{
		"socrates": {triple("socrates", "TAUGHT", "plato")},
		"plato":    {triple("plato", "TAUGHT", "aristotle")},
		"aristotle": {
			triple("aristotle", "FOUNDED", "lyceum"),
		},
	}}
	a := NewAdapter(store, Config{MaxDepth: 5, Timeout: time.Second}, zap.NewNop())

	got, err := a.QueryRelated(context.Background(), []EntityRef{{ID: "socrates"}}, 2)
	require.NoError(t, err)

	// Depth 2: socrates->plato, plato->aristotle; the lyceum hop is depth 3.
	require.Len(t, got, 2)
	assert.Equal(t, "plato", got[0].Object.ID)
	assert.Equal(t, "aristotle", got[1].Object.ID)
}

func TestQueryRelatedClampsDepth(t *testing.T) {
	store := &fakeStore{triples: map[string][]types.Triple{
		"a": {triple("a", "R", "b")},
		"b": {triple("b", "R", "c")},
		"c": {triple("c", "R", "d")},
	}}
	a := NewAdapter(store, Config{MaxDepth: 1, Timeout: time.Second}, zap.NewNop())

	got, err := a.QueryRelated(context.Background(), []EntityRef{{ID: "a"}}, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1, "depth must be clamped to MaxDepth=1")
}

func TestQueryRelatedDeduplicatesEdges(t *testing.T) {
	// b links back to a: the reverse edge reappears at level 2.
	store := &fakeStore{triples: map[string][]types.Triple{
		"a": {triple("a", "R", "b")},
		"b": {triple("a", "R", "b")},
	}}
	a := NewAdapter(store, Config{MaxDepth: 3, Timeout: time.Second}, zap.NewNop())

	got, err := a.QueryRelated(context.Background(), []EntityRef{{ID: "a"}}, 3)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestQueryRelatedRetriesTransient(t *testing.T) {
	store := &fakeStore{
		triples:  map[string][]types.Triple{"a": {triple("a", "R", "b")}},
		err:      types.NewError(types.ErrGraphUnavailable, "down").WithRetryable(true),
		failures: 1,
	}
	a := NewAdapter(store, Config{MaxDepth: 2, Timeout: time.Second, MaxRetries: 2}, zap.NewNop())

	got, err := a.QueryRelated(context.Background(), []EntityRef{{ID: "a"}}, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&store.calls), int32(2))
}

func TestQueryRelatedMapsTimeout(t *testing.T) {
	store := &fakeStore{
		triples: map[string][]types.Triple{"a": {triple("a", "R", "b")}},
		delay:   200 * time.Millisecond,
	}
	a := NewAdapter(store, Config{MaxDepth: 2, Timeout: 20 * time.Millisecond}, zap.NewNop())

	_, err := a.QueryRelated(context.Background(), []EntityRef{{ID: "a"}}, 1)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrGraphQueryTimeout), "got %v", err)
	assert.True(t, types.IsRetryable(err))
}

func TestQueryRelatedMapsUnavailable(t *testing.T) {
	store := &fakeStore{
		err:      errors.New("dial tcp: connection refused"),
		failures: 100,
	}
	a := NewAdapter(store, Config{MaxDepth: 2, Timeout: time.Second, MaxRetries: 1}, zap.NewNop())

	_, err := a.QueryRelated(context.Background(), []EntityRef{{ID: "a"}}, 1)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrGraphUnavailable))
}

func TestLookupEntities(t *testing.T) {
	store := &fakeStore{entities: []types.Entity{entity("stoicism")}}
	a := NewAdapter(store, DefaultConfig(), zap.NewNop())

	got, err := a.LookupEntities(context.Background(), []string{"stoicism"}, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "stoicism", got[0].ID)

	got, err = a.LookupEntities(context.Background(), nil, 5)
	require.NoError(t, err)
	assert.Nil(t, got)
}
