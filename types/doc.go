// Package types defines the shared data model of the tutoring core:
// retrieved knowledge items, the bounded answer Context, citations, the
// final Response, and the unified error taxonomy used across retrieval,
// routing, and citation binding.
package types
