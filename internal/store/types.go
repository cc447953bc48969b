// Package store defines the domain model and persistence interfaces for the
// memory engine: memories with vector embeddings, spatial assignments
// (quadrants and clusters), hot-path access history, and search results.
//
// Every persistence operation is scoped by a tenant path. Two logical
// projects sharing one database must never see each other's rows.
package store

import (
	"time"

	"github.com/google/uuid"
)

// MemoryType classifies how a memory was formed and how it should age.
type MemoryType string

const (
	TypeEpisodic     MemoryType = "episodic"
	TypeSemantic     MemoryType = "semantic"
	TypeProcedural   MemoryType = "procedural"
	TypeWorking      MemoryType = "working"
	TypeConsolidated MemoryType = "consolidated"
)

// Valid reports whether t is a known memory type.
func (t MemoryType) Valid() bool {
	switch t {
	case TypeEpisodic, TypeSemantic, TypeProcedural, TypeWorking, TypeConsolidated:
		return true
	}
	return false
}

// Importance ranks how costly it would be to lose a memory.
type Importance string

const (
	ImportanceCritical Importance = "critical"
	ImportanceHigh     Importance = "high"
	ImportanceMedium   Importance = "medium"
	ImportanceLow      Importance = "low"
	ImportanceTrivial  Importance = "trivial"
)

// Valid reports whether i is a known importance level.
func (i Importance) Valid() bool {
	switch i {
	case ImportanceCritical, ImportanceHigh, ImportanceMedium, ImportanceLow, ImportanceTrivial:
		return true
	}
	return false
}

// Memory is a stored conversation/code fragment with its embedding.
type Memory struct {
	ID             uuid.UUID      `json:"id"`
	Content        string         `json:"content"`
	Type           MemoryType     `json:"memory_type"`
	Importance     Importance     `json:"importance"`
	Tags           []string       `json:"tags,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Embedding      []float32      `json:"-"`
	TenantPath     string         `json:"tenant_path"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	AccessCount    int            `json:"access_count"`
	LastAccessedAt *time.Time     `json:"last_accessed_at,omitempty"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
}

// ResultSource identifies which search channel produced a result.
// Merge priority is semantic > recent > keyword.
type ResultSource string

const (
	SourceSemantic ResultSource = "semantic"
	SourceRecent   ResultSource = "recent"
	SourceKeyword  ResultSource = "keyword"
)

// Priority returns the merge rank of the source (lower wins).
func (s ResultSource) Priority() int {
	switch s {
	case SourceSemantic:
		return 0
	case SourceRecent:
		return 1
	case SourceKeyword:
		return 2
	}
	return 3
}

// SearchResult is a single ranked hit from memory search.
// IsFallback marks a synthetic similarity (recency or keyword match)
// rather than a real vector distance.
type SearchResult struct {
	Memory     Memory       `json:"memory"`
	Similarity float64      `json:"similarity"`
	Highlights []string     `json:"highlights,omitempty"`
	IsFallback bool         `json:"is_fallback"`
	Source     ResultSource `json:"source"`
}

// Quadrant is one of a small fixed set of named semantic regions.
// A memory belongs to exactly one quadrant at a time.
type Quadrant struct {
	ID          uuid.UUID `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Centroid    []float32 `json:"-"`
	MemberCount int       `json:"member_count"`
}

// Cluster is a dynamically grown group of semantically similar memories.
// A memory belongs to zero-or-one cluster.
type Cluster struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Type           string    `json:"type"`
	Centroid       []float32 `json:"-"`
	CoherenceScore float64   `json:"coherence_score"`
	MemberCount    int       `json:"member_count"`
}

// Relation is a typed, weighted link between two memories.
type Relation struct {
	SourceID uuid.UUID `json:"source_id"`
	TargetID uuid.UUID `json:"target_id"`
	Type     string    `json:"relation_type"`
	Strength float64   `json:"strength"`
}

// HotPath is a recorded access sequence with a decaying heat score.
type HotPath struct {
	ID          uuid.UUID   `json:"id"`
	Name        string      `json:"name"`
	MemoryIDs   []uuid.UUID `json:"memory_ids"`
	HeatScore   float64     `json:"heat_score"`
	AccessCount int         `json:"access_count"`
}

// Transition is a directed access edge between two memories.
type Transition struct {
	FromID uuid.UUID `json:"from_id"`
	ToID   uuid.UUID `json:"to_id"`
	Count  int       `json:"count"`
}

// Prediction is one candidate for the next memory access.
type Prediction struct {
	MemoryID    uuid.UUID `json:"memory_id"`
	Probability float64   `json:"probability"`
}

// OverflowEntry describes a compressed cold-storage payload.
type OverflowEntry struct {
	Key         string    `json:"key"`
	Header      string    `json:"header"`
	Size        int       `json:"size"`
	TTLDays     int       `json:"ttl_days"`
	CreatedAt   time.Time `json:"created_at"`
	AccessedAt  time.Time `json:"accessed_at"`
	AccessCount int       `json:"access_count"`
}

// GenNewID generates a new UUID v7 (time-ordered).
func GenNewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
