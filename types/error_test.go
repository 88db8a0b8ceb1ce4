package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := NewError(ErrEmptyContext, "no retrievable context for query")
	assert.Equal(t, "[EMPTY_CONTEXT] no retrievable context for query", err.Error())

	cause := errors.New("dial tcp: connection refused")
	err = NewError(ErrGraphUnavailable, "graph store unreachable").WithCause(cause)
	assert.Contains(t, err.Error(), "GRAPH_UNAVAILABLE")
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestErrorRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"retryable typed error", NewError(ErrGraphQueryTimeout, "deadline").WithRetryable(true), true},
		{"non-retryable typed error", NewError(ErrDimensionMismatch, "dim 768 != 1536"), false},
		{"plain error", errors.New("boom"), false},
		{"wrapped typed error", fmt.Errorf("retrieve: %w", NewError(ErrRateLimited, "429").WithRetryable(true)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, ErrNoProviderAvailable, GetErrorCode(NewError(ErrNoProviderAvailable, "all unreachable")))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))

	wrapped := fmt.Errorf("answer: %w", NewError(ErrCostCeilingExceeded, "projected $0.12 > $0.10"))
	assert.True(t, IsCode(wrapped, ErrCostCeilingExceeded))
	assert.False(t, IsCode(wrapped, ErrEmptyContext))
}

func TestWithProvider(t *testing.T) {
	err := NewError(ErrUpstreamTimeout, "timeout").WithProvider("claude").WithRetryable(true)
	require.Equal(t, "claude", err.Provider)
	require.True(t, err.Retryable)
}
