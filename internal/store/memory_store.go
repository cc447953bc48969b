package store

import (
	"context"

	"github.com/google/uuid"
)

// MemoryStore manages memory rows and the retrieval queries the search
// pipeline is built from. Implementations must scope every query by tenant.
type MemoryStore interface {
	// CRUD
	CreateMemory(ctx context.Context, tenant string, m *Memory) error
	GetMemory(ctx context.Context, tenant string, id uuid.UUID) (*Memory, error)
	UpdateMemory(ctx context.Context, tenant string, m *Memory) error
	DeleteMemory(ctx context.Context, tenant string, id uuid.UUID) error
	DeleteMemories(ctx context.Context, tenant string, ids []uuid.UUID) (int, error)

	// Retrieval channels. VectorSearch similarity is real cosine similarity
	// in [0,1]; TextSearch returns raw ts_rank scores, which the search
	// engine weights and clamps during fusion; KeywordSearch and
	// RecentMemories carry no score of their own.
	VectorSearch(ctx context.Context, tenant string, embedding []float32, q VectorQuery) ([]SearchResult, error)
	TextSearch(ctx context.Context, tenant string, query string, limit int) ([]SearchResult, error)
	KeywordSearch(ctx context.Context, tenant string, keywords []string, limit int) ([]Memory, error)
	RecentMemories(ctx context.Context, tenant string, limit int) ([]Memory, error)

	// Bookkeeping. BumpAccess increments access_count and stamps
	// last_accessed_at for the given ids.
	BumpAccess(ctx context.Context, tenant string, ids []uuid.UUID) error

	// Relations
	AddRelation(ctx context.Context, tenant string, r Relation) error
	RelationsFrom(ctx context.Context, tenant string, id uuid.UUID) ([]Relation, error)

	// EmbeddingDims reports the fixed vector length of the store.
	EmbeddingDims() int

	Close() error
}

// SpatialStore persists quadrants, clusters and memory assignments.
type SpatialStore interface {
	UpsertQuadrant(ctx context.Context, tenant string, q *Quadrant) error
	ListQuadrants(ctx context.Context, tenant string) ([]Quadrant, error)
	AssignQuadrant(ctx context.Context, tenant string, memoryID, quadrantID uuid.UUID) error

	CreateCluster(ctx context.Context, tenant string, c *Cluster) error
	UpdateCluster(ctx context.Context, tenant string, c *Cluster) error
	ListClusters(ctx context.Context, tenant string) ([]Cluster, error)
	AssignCluster(ctx context.Context, tenant string, memoryID, clusterID uuid.UUID) error
	RenameCluster(ctx context.Context, tenant string, clusterID uuid.UUID, name string) error

	// UnassignedMemories returns memories with embeddings that have no
	// cluster assignment yet, oldest first.
	UnassignedMemories(ctx context.Context, tenant string, limit int) ([]Memory, error)
	ClusterMembers(ctx context.Context, tenant string, clusterID uuid.UUID, limit int) ([]Memory, error)
	QuadrantMembers(ctx context.Context, tenant string, quadrantID uuid.UUID, limit int) ([]Memory, error)
}

// HotPathStore persists access transitions and named hot paths.
// Transition rows accumulate monotonically; heat decays, rows stay.
type HotPathStore interface {
	UpsertTransition(ctx context.Context, tenant string, from, to uuid.UUID) error
	TransitionsFrom(ctx context.Context, tenant string, from uuid.UUID, limit int) ([]Transition, error)

	UpsertHotPath(ctx context.Context, tenant string, name string, memoryIDs []uuid.UUID, heatDelta float64) error
	ListHotPaths(ctx context.Context, tenant string, limit int) ([]HotPath, error)
	ScaleHeat(ctx context.Context, tenant string, factor float64) (int, error)
}
