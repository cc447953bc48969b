package store

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across the engine.
var (
	// ErrNotFound is returned when a memory, quadrant, cluster or hot path
	// does not exist within the tenant scope.
	ErrNotFound = errors.New("not found")

	// ErrEmbeddingTimeout means the embedding gateway did not answer within
	// the configured deadline. The in-flight request is abandoned, not
	// cancelled: treat the outcome as unknown, not as definitely failed.
	ErrEmbeddingTimeout = errors.New("embedding timeout")

	// ErrSearchTimeout means the backing store did not answer within the
	// configured deadline.
	ErrSearchTimeout = errors.New("search timeout")
)

// EmbeddingError wraps a failure from the embedding gateway with enough
// context for the caller to decide retry-or-abort. The engine itself never
// retries.
type EmbeddingError struct {
	Stage    string // "embed" or "embed_batch"
	Duration time.Duration
	Err      error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding %s failed after %s: %v", e.Stage, e.Duration.Round(time.Millisecond), e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// SearchError wraps a failure from the backing store.
type SearchError struct {
	Op       string // "vector", "fulltext", "keyword", "recent"
	Tenant   string
	Duration time.Duration
	Err      error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search %s (tenant %s) failed after %s: %v", e.Op, e.Tenant, e.Duration.Round(time.Millisecond), e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }

// ValidationError reports malformed search filters or options.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
