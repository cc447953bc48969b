package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/specmem/specmem/internal/store"
)

// HotPathStore implements store.HotPathStore backed by Postgres.
// Transition rows accumulate monotonically; only explicit administrative
// cleanup removes them.
type HotPathStore struct {
	db *sql.DB
}

func NewHotPathStore(db *sql.DB) *HotPathStore {
	return &HotPathStore{db: db}
}

func (s *HotPathStore) UpsertTransition(ctx context.Context, tenant string, from, to uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO hot_path_transitions (tenant_path, from_id, to_id, count)
		 VALUES ($1, $2, $3, 1)
		 ON CONFLICT (tenant_path, from_id, to_id)
		 DO UPDATE SET count = hot_path_transitions.count + 1, updated_at = NOW()`,
		tenant, from, to)
	if err != nil {
		return fmt.Errorf("upsert transition: %w", err)
	}
	return nil
}

func (s *HotPathStore) TransitionsFrom(ctx context.Context, tenant string, from uuid.UUID, limit int) ([]store.Transition, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT from_id, to_id, count FROM hot_path_transitions
		 WHERE tenant_path = $1 AND from_id = $2
		 ORDER BY count DESC
		 LIMIT $3`, tenant, from, limit)
	if err != nil {
		return nil, fmt.Errorf("transitions from: %w", err)
	}
	defer rows.Close()

	var out []store.Transition
	for rows.Next() {
		var t store.Transition
		if err := rows.Scan(&t.FromID, &t.ToID, &t.Count); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpsertHotPath bumps an access sequence's heat and access count,
// creating the path row on first sight.
func (s *HotPathStore) UpsertHotPath(ctx context.Context, tenant string, name string, memoryIDs []uuid.UUID, heatDelta float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO hot_paths (id, tenant_path, name, memory_ids, heat_score, access_count)
		 VALUES ($1, $2, $3, $4::uuid[], $5, 1)
		 ON CONFLICT (tenant_path, name)
		 DO UPDATE SET heat_score = hot_paths.heat_score + EXCLUDED.heat_score,
		               access_count = hot_paths.access_count + 1,
		               updated_at = NOW()`,
		store.GenNewID(), tenant, name, pqUUIDArray(memoryIDs), heatDelta)
	if err != nil {
		return fmt.Errorf("upsert hot path: %w", err)
	}
	return nil
}

func (s *HotPathStore) ListHotPaths(ctx context.Context, tenant string, limit int) ([]store.HotPath, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, memory_ids, heat_score, access_count
		 FROM hot_paths
		 WHERE tenant_path = $1
		 ORDER BY heat_score DESC
		 LIMIT $2`, tenant, limit)
	if err != nil {
		return nil, fmt.Errorf("list hot paths: %w", err)
	}
	defer rows.Close()

	var out []store.HotPath
	for rows.Next() {
		var hp store.HotPath
		var ids []byte
		if err := rows.Scan(&hp.ID, &hp.Name, &ids, &hp.HeatScore, &hp.AccessCount); err != nil {
			return nil, err
		}
		scanUUIDArray(ids, &hp.MemoryIDs)
		out = append(out, hp)
	}
	return out, rows.Err()
}

// ScaleHeat multiplies every hot path's heat score by factor. Stale
// paths fade toward zero without being deleted.
func (s *HotPathStore) ScaleHeat(ctx context.Context, tenant string, factor float64) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE hot_paths SET heat_score = heat_score * $1, updated_at = NOW()
		 WHERE tenant_path = $2`, factor, tenant)
	if err != nil {
		return 0, fmt.Errorf("scale heat: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
