package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimatorCount(t *testing.T) {
	e := NewEstimator()

	tests := []struct {
		name string
		text string
		min  int
		max  int
	}{
		{"empty", "", 0, 0},
		{"single word", "wisdom", 1, 2},
		{"ascii sentence", "The unexamined life is not worth living.", 8, 12},
		{"cjk text", "认识你自己", 3, 5},
		{"long ascii", strings.Repeat("philosophy ", 100), 250, 300},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := e.Count(tt.text)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, n, tt.min)
			assert.LessOrEqual(t, n, tt.max)
		})
	}
}

func TestEstimatorNeverZeroForNonEmpty(t *testing.T) {
	e := NewEstimator()
	n, err := e.Count("a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewTiktokenCounter(t *testing.T) {
	c, err := NewTiktokenCounter("gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "tiktoken[o200k_base]", c.Name())

	// Prefix match.
	c, err = NewTiktokenCounter("gpt-4o-2024-08-06")
	require.NoError(t, err)
	assert.Equal(t, "tiktoken[o200k_base]", c.Name())

	_, err = NewTiktokenCounter("qwen-max")
	assert.Error(t, err)
}

func TestForModelFallsBackToEstimator(t *testing.T) {
	c := ForModel("some-local-model")
	assert.Equal(t, "estimator", c.Name())

	c = ForModel("gpt-4")
	assert.Equal(t, "tiktoken[cl100k_base]", c.Name())
}
