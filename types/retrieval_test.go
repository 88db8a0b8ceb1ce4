package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(id string, tokens int) RetrievedItem {
	return RetrievedItem{
		SourceID:   id,
		Provenance: ProvenanceVector,
		Score:      0.5,
		Text:       "stub",
		Tokens:     tokens,
	}
}

func TestContextAddDeduplicates(t *testing.T) {
	ctx := NewContext(100)

	require.True(t, ctx.Add(item("chunk-1", 10)))
	assert.False(t, ctx.Add(item("chunk-1", 10)), "duplicate source id must be rejected")
	assert.Len(t, ctx.Items, 1)
	assert.Equal(t, 10, ctx.TokenCount)
	assert.True(t, ctx.Contains("chunk-1"))
	assert.False(t, ctx.Contains("chunk-2"))
}

func TestContextBudgetSkipsOverflowing(t *testing.T) {
	ctx := NewContext(25)

	require.True(t, ctx.Add(item("a", 10)))
	require.True(t, ctx.Add(item("b", 10)))

	// Would overflow: skipped, not truncated.
	assert.False(t, ctx.Add(item("c", 10)))
	// A smaller later item still fits.
	assert.True(t, ctx.Add(item("d", 5)))

	assert.Equal(t, 25, ctx.TokenCount)
	assert.Equal(t, []string{"a", "b", "d"}, ctx.SourceIDs())
}

func TestContextZeroBudgetUnbounded(t *testing.T) {
	ctx := NewContext(0)
	require.True(t, ctx.Add(item("a", 1000)))
	require.True(t, ctx.Add(item("b", 1000)))
	assert.Equal(t, 2000, ctx.TokenCount)
}

func TestContextDegraded(t *testing.T) {
	ctx := NewContext(10)
	assert.False(t, ctx.Degraded())
	ctx.GraphDegraded = true
	assert.True(t, ctx.Degraded())
	assert.True(t, ctx.Empty())
}

func TestContextContainsWithoutSeenMap(t *testing.T) {
	// Zero-value Context (e.g. decoded from JSON) must still answer Contains.
	ctx := &Context{Items: []RetrievedItem{item("x", 1)}}
	assert.True(t, ctx.Contains("x"))
	assert.False(t, ctx.Contains("y"))
}
