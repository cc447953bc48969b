package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/specmem/specmem/internal/store"
)

// MemoryStore implements store.MemoryStore backed by Postgres + pgvector.
type MemoryStore struct {
	db   *sql.DB
	dims int
}

// NewMemoryStore wraps db. dims is the fixed embedding length of the
// memories table.
func NewMemoryStore(db *sql.DB, dims int) *MemoryStore {
	if dims <= 0 {
		dims = 768
	}
	return &MemoryStore{db: db, dims: dims}
}

func (s *MemoryStore) EmbeddingDims() int { return s.dims }

func (s *MemoryStore) Close() error { return s.db.Close() }

const memoryColumns = `id, content, memory_type, importance, tags, metadata,
	embedding::text, tenant_path, created_at, updated_at, access_count,
	last_accessed_at, expires_at`

func (s *MemoryStore) CreateMemory(ctx context.Context, tenant string, m *store.Memory) error {
	if m.ID == uuid.Nil {
		m.ID = store.GenNewID()
	}
	now := nowUTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	m.TenantPath = tenant

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories
			(id, content, memory_type, importance, tags, metadata, embedding,
			 tenant_path, created_at, updated_at, access_count, expires_at)
		 VALUES ($1, $2, $3, $4, $5::text[], $6::jsonb, $7, $8, $9, $10, 0, $11)`,
		m.ID, m.Content, string(m.Type), string(m.Importance),
		pqStringArray(m.Tags), marshalMetadata(m.Metadata),
		embeddingParam(m.Embedding, s.dims),
		tenant, m.CreatedAt, m.UpdatedAt, nilTime(m.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("create memory: %w", err)
	}
	return nil
}

func (s *MemoryStore) GetMemory(ctx context.Context, tenant string, id uuid.UUID) (*store.Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE tenant_path = $1 AND id = $2`,
		tenant, id)

	m, err := scanMemoryRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

func (s *MemoryStore) UpdateMemory(ctx context.Context, tenant string, m *store.Memory) error {
	m.UpdatedAt = nowUTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET content = $1, memory_type = $2, importance = $3,
			tags = $4::text[], metadata = $5::jsonb, embedding = $6,
			updated_at = $7, expires_at = $8
		 WHERE tenant_path = $9 AND id = $10`,
		m.Content, string(m.Type), string(m.Importance),
		pqStringArray(m.Tags), marshalMetadata(m.Metadata),
		embeddingParam(m.Embedding, s.dims),
		m.UpdatedAt, nilTime(m.ExpiresAt), tenant, m.ID,
	)
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *MemoryStore) DeleteMemory(ctx context.Context, tenant string, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memories WHERE tenant_path = $1 AND id = $2`, tenant, id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *MemoryStore) DeleteMemories(ctx context.Context, tenant string, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memories WHERE tenant_path = $1 AND id = ANY($2::uuid[])`,
		tenant, pqUUIDArray(ids))
	if err != nil {
		return 0, fmt.Errorf("delete memories: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// VectorSearch runs the primary similarity query: cosine similarity at or
// above q.Threshold, tenant-scoped, filtered, ordered by similarity
// descending.
func (s *MemoryStore) VectorSearch(ctx context.Context, tenant string, embedding []float32, q store.VectorQuery) ([]store.SearchResult, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	args := []interface{}{pgvector.NewVector(adaptDims(embedding, s.dims)), tenant}
	conds := []string{"tenant_path = $2", "embedding IS NOT NULL"}

	conds, args = appendFilterConds(conds, args, q.Filters, q.NoiseTags)

	if q.Threshold > 0 {
		args = append(args, q.Threshold)
		conds = append(conds, fmt.Sprintf("1 - (embedding <=> $1) >= $%d", len(args)))
	}

	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s, 1 - (embedding <=> $1) AS similarity
		FROM memories
		WHERE %s
		ORDER BY embedding <=> $1
		LIMIT $%d`, memoryColumns, strings.Join(conds, " AND "), len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var results []store.SearchResult
	for rows.Next() {
		m, sim, err := scanMemoryWithScore(rows)
		if err != nil {
			return nil, fmt.Errorf("vector search scan: %w", err)
		}
		results = append(results, store.SearchResult{
			Memory:     *m,
			Similarity: clamp01(sim),
			Source:     store.SourceSemantic,
		})
	}
	return results, rows.Err()
}

// TextSearch runs full-text search with ts_rank scoring. Scores are raw
// ranks; the search engine weights and clamps them when fusing.
func (s *MemoryStore) TextSearch(ctx context.Context, tenant string, query string, limit int) ([]store.SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+`, ts_rank(tsv, plainto_tsquery('simple', $1)) AS score
		 FROM memories
		 WHERE tenant_path = $2 AND tsv @@ plainto_tsquery('simple', $1)
		 ORDER BY score DESC
		 LIMIT $3`,
		query, tenant, limit)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}
	defer rows.Close()

	var results []store.SearchResult
	for rows.Next() {
		m, score, err := scanMemoryWithScore(rows)
		if err != nil {
			return nil, fmt.Errorf("text search scan: %w", err)
		}
		results = append(results, store.SearchResult{
			Memory:     *m,
			Similarity: score,
			Source:     store.SourceSemantic,
		})
	}
	return results, rows.Err()
}

// KeywordSearch is the last-resort ILIKE substring scan over content.
// Scoped to tenant (indexed) so the scan stays bounded.
func (s *MemoryStore) KeywordSearch(ctx context.Context, tenant string, keywords []string, limit int) ([]store.Memory, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	args := []interface{}{tenant}
	var conds []string
	for _, w := range keywords {
		args = append(args, "%"+w+"%")
		conds = append(conds, "content ILIKE $"+strconv.Itoa(len(args)))
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT %s FROM memories
		WHERE tenant_path = $1 AND (%s)
		ORDER BY updated_at DESC
		LIMIT $%d`, memoryColumns, strings.Join(conds, " OR "), len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	return collectMemories(rows)
}

func (s *MemoryStore) RecentMemories(ctx context.Context, tenant string, limit int) ([]store.Memory, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE tenant_path = $1
		 ORDER BY created_at DESC
		 LIMIT $2`, tenant, limit)
	if err != nil {
		return nil, fmt.Errorf("recent memories: %w", err)
	}
	defer rows.Close()

	return collectMemories(rows)
}

func (s *MemoryStore) BumpAccess(ctx context.Context, tenant string, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories
		 SET access_count = access_count + 1, last_accessed_at = NOW()
		 WHERE tenant_path = $1 AND id = ANY($2::uuid[])`,
		tenant, pqUUIDArray(ids))
	if err != nil {
		return fmt.Errorf("bump access: %w", err)
	}
	return nil
}

func (s *MemoryStore) AddRelation(ctx context.Context, tenant string, r store.Relation) error {
	if r.Type == "" {
		r.Type = "related"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_relations (source_id, target_id, relation_type, strength, tenant_path)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (source_id, target_id, relation_type)
		 DO UPDATE SET strength = EXCLUDED.strength`,
		r.SourceID, r.TargetID, r.Type, r.Strength, tenant)
	if err != nil {
		return fmt.Errorf("add relation: %w", err)
	}
	return nil
}

func (s *MemoryStore) RelationsFrom(ctx context.Context, tenant string, id uuid.UUID) ([]store.Relation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, target_id, relation_type, strength
		 FROM memory_relations
		 WHERE tenant_path = $1 AND source_id = $2
		 ORDER BY strength DESC`, tenant, id)
	if err != nil {
		return nil, fmt.Errorf("relations from: %w", err)
	}
	defer rows.Close()

	var rels []store.Relation
	for rows.Next() {
		var r store.Relation
		if err := rows.Scan(&r.SourceID, &r.TargetID, &r.Type, &r.Strength); err != nil {
			return nil, err
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

// --- scanning ---

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemoryInto(sc rowScanner, extra ...interface{}) (*store.Memory, error) {
	var m store.Memory
	var memType, importance string
	var tags, metadata, embedding []byte
	var lastAccessed, expires sql.NullTime

	dest := []interface{}{
		&m.ID, &m.Content, &memType, &importance, &tags, &metadata,
		&embedding, &m.TenantPath, &m.CreatedAt, &m.UpdatedAt,
		&m.AccessCount, &lastAccessed, &expires,
	}
	dest = append(dest, extra...)
	if err := sc.Scan(dest...); err != nil {
		return nil, err
	}

	m.Type = store.MemoryType(memType)
	m.Importance = store.Importance(importance)
	scanStringArray(tags, &m.Tags)
	m.Metadata = unmarshalMetadata(metadata)
	m.Embedding = parseVectorText(embedding)
	if lastAccessed.Valid {
		t := lastAccessed.Time
		m.LastAccessedAt = &t
	}
	if expires.Valid {
		t := expires.Time
		m.ExpiresAt = &t
	}
	return &m, nil
}

func scanMemoryRow(row *sql.Row) (*store.Memory, error) {
	return scanMemoryInto(row)
}

func scanMemoryWithScore(rows *sql.Rows) (*store.Memory, float64, error) {
	var score float64
	m, err := scanMemoryInto(rows, &score)
	return m, score, err
}

func collectMemories(rows *sql.Rows) ([]store.Memory, error) {
	var out []store.Memory
	for rows.Next() {
		m, err := scanMemoryInto(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// --- filters and vectors ---

// appendFilterConds translates SearchFilters into WHERE conditions.
func appendFilterConds(conds []string, args []interface{}, f store.SearchFilters, noiseTags []string) ([]string, []interface{}) {
	if !f.IncludeExpired {
		conds = append(conds, "(expires_at IS NULL OR expires_at > NOW())")
	}
	if !f.IncludeNoise && len(noiseTags) > 0 {
		args = append(args, pqStringArray(noiseTags))
		conds = append(conds, fmt.Sprintf("NOT (tags && $%d::text[])", len(args)))
	}
	if len(f.Tags) > 0 {
		args = append(args, pqStringArray(f.Tags))
		conds = append(conds, fmt.Sprintf("tags && $%d::text[]", len(args)))
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		args = append(args, pqStringArray(types))
		conds = append(conds, fmt.Sprintf("memory_type = ANY($%d::text[])", len(args)))
	}
	if len(f.Importance) > 0 {
		imps := make([]string, len(f.Importance))
		for i, v := range f.Importance {
			imps[i] = string(v)
		}
		args = append(args, pqStringArray(imps))
		conds = append(conds, fmt.Sprintf("importance = ANY($%d::text[])", len(args)))
	}
	if f.CreatedAfter != nil {
		args = append(args, *f.CreatedAfter)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if f.CreatedBefore != nil {
		args = append(args, *f.CreatedBefore)
		conds = append(conds, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	return conds, args
}

// embeddingParam adapts the vector length and returns a driver value, or
// nil for memories without an embedding.
func embeddingParam(vec []float32, dims int) interface{} {
	if len(vec) == 0 {
		return nil
	}
	return pgvector.NewVector(adaptDims(vec, dims))
}

// adaptDims pads or truncates a vector to the store's fixed length.
// Mismatched lengths are always reconciled here, never surfaced.
func adaptDims(vec []float32, dims int) []float32 {
	if dims <= 0 || len(vec) == dims {
		return vec
	}
	out := make([]float32, dims)
	copy(out, vec)
	return out
}

// parseVectorText parses pgvector's text format "[0.1,0.2,...]".
func parseVectorText(data []byte) []float32 {
	s := strings.TrimSpace(string(data))
	if len(s) < 2 || s[0] != '[' {
		return nil
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	vec := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil
		}
		vec = append(vec, float32(f))
	}
	return vec
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
