package fusion

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/sophia/types"
)

func genItems(t *rapid.T, label string, n int) []types.RetrievedItem {
	items := make([]types.RetrievedItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, types.RetrievedItem{
			SourceID: fmt.Sprintf("%s-%d", label, rapid.IntRange(0, n).Draw(t, label+"_id")),
			Score:    rapid.Float64Range(0, 1).Draw(t, label+"_score"),
			Text:     rapid.StringMatching(`[a-z ]{1,64}`).Draw(t, label+"_text"),
		})
	}
	return items
}

func TestFusePropertyNoDuplicatesAfterAssembly(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		e := NewEngine(nil, nil, nil, Config{TokenBudget: rapid.IntRange(1, 500).Draw(rt, "budget")}, nil, zap.NewNop())

		graphItems := genItems(rt, "g", rapid.IntRange(0, 12).Draw(rt, "ng"))
		vectorItems := genItems(rt, "v", rapid.IntRange(0, 12).Draw(rt, "nv"))

		out := e.assemble(e.fuse(graphItems, vectorItems))

		seen := make(map[string]struct{})
		for _, it := range out.Items {
			_, dup := seen[it.SourceID]
			require.False(rt, dup, "duplicate source id %s", it.SourceID)
			seen[it.SourceID] = struct{}{}
		}
	})
}

func TestFusePropertyBudgetNeverExceeded(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		budget := rapid.IntRange(1, 300).Draw(rt, "budget")
		e := NewEngine(nil, nil, nil, Config{TokenBudget: budget}, nil, zap.NewNop())

		items := genItems(rt, "v", rapid.IntRange(0, 20).Draw(rt, "n"))
		out := e.assemble(e.fuse(nil, items))

		assert.LessOrEqual(rt, out.TokenCount, budget)

		total := 0
		for _, it := range out.Items {
			assert.Positive(rt, it.Tokens)
			total += it.Tokens
		}
		assert.Equal(rt, total, out.TokenCount)
	})
}

func TestFusePropertyScoresOrderedAndBounded(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		e := NewEngine(nil, nil, nil, Config{TokenBudget: 100000}, nil, zap.NewNop())

		merged := e.fuse(
			genItems(rt, "g", rapid.IntRange(0, 10).Draw(rt, "ng")),
			genItems(rt, "v", rapid.IntRange(0, 10).Draw(rt, "nv")),
		)

		for i, it := range merged {
			assert.GreaterOrEqual(rt, it.Score, 0.0)
			assert.LessOrEqual(rt, it.Score, 1.0)
			if i > 0 {
				assert.GreaterOrEqual(rt, merged[i-1].Score, it.Score,
					"items must be sorted by score descending")
			}
		}
	})
}
