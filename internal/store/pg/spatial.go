package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/specmem/specmem/internal/store"
)

// SpatialStore implements store.SpatialStore backed by Postgres.
type SpatialStore struct {
	db   *sql.DB
	dims int
}

func NewSpatialStore(db *sql.DB, dims int) *SpatialStore {
	if dims <= 0 {
		dims = 768
	}
	return &SpatialStore{db: db, dims: dims}
}

// UpsertQuadrant writes the quadrant's name and centroid. member_count
// is derived from the assignment table and never overwritten here.
func (s *SpatialStore) UpsertQuadrant(ctx context.Context, tenant string, q *store.Quadrant) error {
	if q.ID == uuid.Nil {
		q.ID = store.GenNewID()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quadrants (id, tenant_path, code, name, centroid, member_count)
		 VALUES ($1, $2, $3, $4, $5, 0)
		 ON CONFLICT (tenant_path, code)
		 DO UPDATE SET name = EXCLUDED.name, centroid = EXCLUDED.centroid`,
		q.ID, tenant, q.Code, q.Name, embeddingParam(q.Centroid, s.dims))
	if err != nil {
		return fmt.Errorf("upsert quadrant: %w", err)
	}
	return nil
}

func (s *SpatialStore) ListQuadrants(ctx context.Context, tenant string) ([]store.Quadrant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, code, name, centroid::text, member_count
		 FROM quadrants WHERE tenant_path = $1 ORDER BY code`, tenant)
	if err != nil {
		return nil, fmt.Errorf("list quadrants: %w", err)
	}
	defer rows.Close()

	var out []store.Quadrant
	for rows.Next() {
		var q store.Quadrant
		var centroid []byte
		if err := rows.Scan(&q.ID, &q.Code, &q.Name, &centroid, &q.MemberCount); err != nil {
			return nil, err
		}
		q.Centroid = parseVectorText(centroid)
		out = append(out, q)
	}
	return out, rows.Err()
}

// AssignQuadrant records that memoryID belongs to quadrantID. A memory
// has exactly one quadrant: re-assignment replaces the previous one.
// Member counts are recomputed from the assignment table.
func (s *SpatialStore) AssignQuadrant(ctx context.Context, tenant string, memoryID, quadrantID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_spatial_assignment (memory_id, tenant_path, quadrant_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (memory_id)
		 DO UPDATE SET quadrant_id = EXCLUDED.quadrant_id, assigned_at = NOW()`,
		memoryID, tenant, quadrantID)
	if err != nil {
		return fmt.Errorf("assign quadrant: %w", err)
	}
	return s.refreshQuadrantCounts(ctx, tenant)
}

func (s *SpatialStore) refreshQuadrantCounts(ctx context.Context, tenant string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE quadrants q SET member_count = (
			SELECT COUNT(*) FROM memory_spatial_assignment a
			WHERE a.quadrant_id = q.id AND a.tenant_path = $1
		 ) WHERE q.tenant_path = $1`, tenant)
	if err != nil {
		return fmt.Errorf("refresh quadrant counts: %w", err)
	}
	return nil
}

func (s *SpatialStore) CreateCluster(ctx context.Context, tenant string, c *store.Cluster) error {
	if c.ID == uuid.Nil {
		c.ID = store.GenNewID()
	}
	if c.Type == "" {
		c.Type = "semantic"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO clusters (id, tenant_path, name, cluster_type, centroid, coherence_score, member_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, tenant, c.Name, c.Type, embeddingParam(c.Centroid, s.dims),
		c.CoherenceScore, c.MemberCount)
	if err != nil {
		return fmt.Errorf("create cluster: %w", err)
	}
	return nil
}

func (s *SpatialStore) UpdateCluster(ctx context.Context, tenant string, c *store.Cluster) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE clusters SET centroid = $1, coherence_score = $2, member_count = $3
		 WHERE tenant_path = $4 AND id = $5`,
		embeddingParam(c.Centroid, s.dims), c.CoherenceScore, c.MemberCount, tenant, c.ID)
	if err != nil {
		return fmt.Errorf("update cluster: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SpatialStore) ListClusters(ctx context.Context, tenant string) ([]store.Cluster, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, cluster_type, centroid::text, coherence_score, member_count
		 FROM clusters WHERE tenant_path = $1 ORDER BY member_count DESC`, tenant)
	if err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}
	defer rows.Close()

	var out []store.Cluster
	for rows.Next() {
		var c store.Cluster
		var centroid []byte
		if err := rows.Scan(&c.ID, &c.Name, &c.Type, &centroid, &c.CoherenceScore, &c.MemberCount); err != nil {
			return nil, err
		}
		c.Centroid = parseVectorText(centroid)
		out = append(out, c)
	}
	return out, rows.Err()
}

// AssignCluster records cluster membership. A memory belongs to
// zero-or-one cluster; re-assignment replaces.
func (s *SpatialStore) AssignCluster(ctx context.Context, tenant string, memoryID, clusterID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_spatial_assignment (memory_id, tenant_path, cluster_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (memory_id)
		 DO UPDATE SET cluster_id = EXCLUDED.cluster_id, assigned_at = NOW()`,
		memoryID, tenant, clusterID)
	if err != nil {
		return fmt.Errorf("assign cluster: %w", err)
	}
	return nil
}

func (s *SpatialStore) RenameCluster(ctx context.Context, tenant string, clusterID uuid.UUID, name string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE clusters SET name = $1 WHERE tenant_path = $2 AND id = $3`,
		name, tenant, clusterID)
	if err != nil {
		return fmt.Errorf("rename cluster: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SpatialStore) UnassignedMemories(ctx context.Context, tenant string, limit int) ([]store.Memory, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prefixedMemoryColumns("m")+`
		 FROM memories m
		 LEFT JOIN memory_spatial_assignment a ON a.memory_id = m.id
		 WHERE m.tenant_path = $1 AND m.embedding IS NOT NULL
		   AND (a.memory_id IS NULL OR a.cluster_id IS NULL)
		 ORDER BY m.created_at ASC
		 LIMIT $2`, tenant, limit)
	if err != nil {
		return nil, fmt.Errorf("unassigned memories: %w", err)
	}
	defer rows.Close()

	return collectMemories(rows)
}

func (s *SpatialStore) ClusterMembers(ctx context.Context, tenant string, clusterID uuid.UUID, limit int) ([]store.Memory, error) {
	return s.members(ctx, tenant, "cluster_id", clusterID, limit)
}

func (s *SpatialStore) QuadrantMembers(ctx context.Context, tenant string, quadrantID uuid.UUID, limit int) ([]store.Memory, error) {
	return s.members(ctx, tenant, "quadrant_id", quadrantID, limit)
}

func (s *SpatialStore) members(ctx context.Context, tenant, column string, id uuid.UUID, limit int) ([]store.Memory, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s
		FROM memories m
		JOIN memory_spatial_assignment a ON a.memory_id = m.id
		WHERE m.tenant_path = $1 AND a.%s = $2
		ORDER BY m.created_at DESC
		LIMIT $3`, prefixedMemoryColumns("m"), column)

	rows, err := s.db.QueryContext(ctx, query, tenant, id, limit)
	if err != nil {
		return nil, fmt.Errorf("spatial members: %w", err)
	}
	defer rows.Close()

	members, err := collectMemories(rows)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return members, err
}

// prefixedMemoryColumns qualifies the memory column list with a table
// alias for joined queries.
func prefixedMemoryColumns(alias string) string {
	return alias + `.id, ` + alias + `.content, ` + alias + `.memory_type, ` +
		alias + `.importance, ` + alias + `.tags, ` + alias + `.metadata, ` +
		alias + `.embedding::text, ` + alias + `.tenant_path, ` + alias + `.created_at, ` +
		alias + `.updated_at, ` + alias + `.access_count, ` + alias + `.last_accessed_at, ` +
		alias + `.expires_at`
}
