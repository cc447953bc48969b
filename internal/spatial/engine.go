// Package spatial organizes memories into named quadrants and dynamic
// clusters, and answers neighborhood queries that combine explicit
// relation edges with vector proximity.
//
// The grouping here is a deliberate approximation: nearest-centroid with
// running means, not k-means. Callers are tuned to its speed/quality
// tradeoff; do not "upgrade" it.
package spatial

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/specmem/specmem/internal/embedding"
	"github.com/specmem/specmem/internal/store"
)

// Region is one of the fixed named semantic regions.
type Region struct {
	Code        string
	Name        string
	Description string // embedded to seed the region centroid
}

// DefaultRegions returns the fixed quadrant set.
func DefaultRegions() []Region {
	return []Region{
		{Code: "technical", Name: "Technical", Description: "code, APIs, architecture, bugs, errors, implementation details"},
		{Code: "conceptual", Name: "Conceptual", Description: "ideas, designs, theories, explanations, tradeoffs, principles"},
		{Code: "procedural", Name: "Procedural", Description: "how-to steps, workflows, commands, runbooks, processes"},
		{Code: "contextual", Name: "Contextual", Description: "people, projects, preferences, decisions, timelines, goals"},
	}
}

// Config tunes the clustering heuristics.
type Config struct {
	// ClusterThreshold is the minimum cosine similarity to join a cluster.
	ClusterThreshold float64
	// MinClusterSize is the minimum member count for a new cluster.
	MinClusterSize int
	// BatchLimit caps how many unassigned memories one clustering run reads.
	BatchLimit int
	// Concurrency bounds parallel assignment writes.
	Concurrency int
}

// DefaultConfig returns the tuned production defaults.
func DefaultConfig() Config {
	return Config{ClusterThreshold: 0.75, MinClusterSize: 3, BatchLimit: 500, Concurrency: 4}
}

// Engine assigns memories to quadrants and clusters and serves
// neighborhood queries.
type Engine struct {
	memories store.MemoryStore
	spatial  store.SpatialStore
	gateway  embedding.Gateway

	cfgMu sync.RWMutex
	cfg   Config

	mu sync.Mutex // serializes clustering runs
}

func clampConfig(cfg Config) Config {
	if cfg.ClusterThreshold <= 0 {
		cfg.ClusterThreshold = 0.75
	}
	if cfg.MinClusterSize <= 0 {
		cfg.MinClusterSize = 3
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 500
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return cfg
}

// NewEngine wires the spatial engine. gateway may be nil: quadrant
// centroids then start empty and grow from member vectors only.
func NewEngine(ms store.MemoryStore, ss store.SpatialStore, gw embedding.Gateway, cfg Config) *Engine {
	return &Engine{memories: ms, spatial: ss, gateway: gw, cfg: clampConfig(cfg)}
}

// SetTuning swaps the clustering heuristics. Used by config hot-reload;
// a clustering run in flight keeps the values it started with.
func (e *Engine) SetTuning(cfg Config) {
	cfg = clampConfig(cfg)
	e.cfgMu.Lock()
	e.cfg = cfg
	e.cfgMu.Unlock()
}

func (e *Engine) tuning() Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// InitQuadrants creates the fixed region set for a tenant. Existing
// quadrants are left untouched. Region centroids are seeded from the
// region description when a gateway is available.
func (e *Engine) InitQuadrants(ctx context.Context, tenant string) (int, error) {
	existing, err := e.spatial.ListQuadrants(ctx, tenant)
	if err != nil {
		return 0, err
	}
	have := make(map[string]bool, len(existing))
	for _, q := range existing {
		have[q.Code] = true
	}

	created := 0
	for _, r := range DefaultRegions() {
		if have[r.Code] {
			continue
		}
		q := &store.Quadrant{Code: r.Code, Name: r.Name}
		if e.gateway != nil {
			vec, err := e.gateway.Embed(ctx, r.Description)
			if err != nil {
				slog.Warn("quadrant seed embedding failed", "code", r.Code, "error", err)
			} else {
				q.Centroid = vec
			}
		}
		if err := e.spatial.UpsertQuadrant(ctx, tenant, q); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

// AssignQuadrant places a memory in its nearest region. A memory belongs
// to exactly one quadrant; re-assignment replaces the previous one. When
// the assignment adds a member the winning quadrant's centroid shifts
// toward it (running mean); re-assigning to the same quadrant is
// idempotent.
func (e *Engine) AssignQuadrant(ctx context.Context, tenant string, m *store.Memory) (*store.Quadrant, error) {
	if len(m.Embedding) == 0 {
		return nil, &store.ValidationError{Field: "embedding", Reason: "memory has no embedding"}
	}
	quadrants, err := e.spatial.ListQuadrants(ctx, tenant)
	if err != nil {
		return nil, err
	}
	if len(quadrants) == 0 {
		return nil, fmt.Errorf("no quadrants initialized: %w", store.ErrNotFound)
	}

	best := 0
	bestSim := -1.0
	for i, q := range quadrants {
		sim := embedding.CosineSimilarity(m.Embedding, q.Centroid)
		if sim > bestSim {
			best, bestSim = i, sim
		}
	}
	winner := quadrants[best]
	before := winner.MemberCount

	if err := e.spatial.AssignQuadrant(ctx, tenant, m.ID, winner.ID); err != nil {
		return nil, err
	}

	// The store recomputes member counts from the assignment table; read
	// the winner back. A re-assignment to the same quadrant leaves the
	// count unchanged and must not shift the centroid a second time.
	refreshed, err := e.spatial.ListQuadrants(ctx, tenant)
	if err != nil {
		return nil, err
	}
	for _, q := range refreshed {
		if q.ID == winner.ID {
			winner.MemberCount = q.MemberCount
			break
		}
	}
	if winner.MemberCount > before {
		winner.Centroid = runningMean(winner.Centroid, m.Embedding, winner.MemberCount)
		if err := e.spatial.UpsertQuadrant(ctx, tenant, &winner); err != nil {
			return nil, err
		}
	}
	return &winner, nil
}

// AssignCluster joins a memory to its best-matching existing cluster, if
// any clears the similarity threshold. Returns nil when the memory stays
// unclustered; RunClustering may later group it with peers.
func (e *Engine) AssignCluster(ctx context.Context, tenant string, m *store.Memory) (*store.Cluster, error) {
	if len(m.Embedding) == 0 {
		return nil, &store.ValidationError{Field: "embedding", Reason: "memory has no embedding"}
	}
	clusters, err := e.spatial.ListClusters(ctx, tenant)
	if err != nil {
		return nil, err
	}

	var best *store.Cluster
	bestSim := e.tuning().ClusterThreshold
	for i := range clusters {
		sim := embedding.CosineSimilarity(m.Embedding, clusters[i].Centroid)
		if sim >= bestSim {
			best, bestSim = &clusters[i], sim
		}
	}
	if best == nil {
		return nil, nil
	}

	if err := e.spatial.AssignCluster(ctx, tenant, m.ID, best.ID); err != nil {
		return nil, err
	}

	n := best.MemberCount + 1
	best.Centroid = runningMean(best.Centroid, m.Embedding, n)
	// Coherence is the running mean of the similarity each member had to
	// the centroid at join time.
	best.CoherenceScore = best.CoherenceScore + (bestSim-best.CoherenceScore)/float64(n)
	best.MemberCount = n
	if err := e.spatial.UpdateCluster(ctx, tenant, best); err != nil {
		return nil, err
	}
	return best, nil
}

// ClusteringResult summarizes one RunClustering pass.
type ClusteringResult struct {
	Scanned  int `json:"scanned"`
	Joined   int `json:"joined"`   // joined an existing cluster
	Created  int `json:"created"`  // new clusters
	Orphaned int `json:"orphaned"` // still unassigned (group too small)
}

// RunClustering groups unassigned memories: first each tries to join an
// existing cluster, then the leftovers are greedily grouped around seed
// vectors; groups reaching MinClusterSize become new clusters.
func (e *Engine) RunClustering(ctx context.Context, tenant string) (*ClusteringResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cfg := e.tuning()

	pending, err := e.spatial.UnassignedMemories(ctx, tenant, cfg.BatchLimit)
	if err != nil {
		return nil, err
	}
	res := &ClusteringResult{Scanned: len(pending)}
	if len(pending) == 0 {
		return res, nil
	}

	var leftovers []store.Memory
	for i := range pending {
		c, err := e.AssignCluster(ctx, tenant, &pending[i])
		if err != nil {
			return res, err
		}
		if c != nil {
			res.Joined++
		} else {
			leftovers = append(leftovers, pending[i])
		}
	}

	// Greedy grouping around the first unclaimed vector.
	type group struct {
		seed    []float32
		members []store.Memory
		sims    []float64
	}
	var groups []*group
	for _, m := range leftovers {
		placed := false
		for _, g := range groups {
			sim := embedding.CosineSimilarity(m.Embedding, g.seed)
			if sim >= cfg.ClusterThreshold {
				g.members = append(g.members, m)
				g.sims = append(g.sims, sim)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, &group{seed: m.Embedding, members: []store.Memory{m}, sims: []float64{1}})
		}
	}

	for _, g := range groups {
		if len(g.members) < cfg.MinClusterSize {
			res.Orphaned += len(g.members)
			continue
		}
		c := &store.Cluster{
			Name:           fmt.Sprintf("cluster-%s", store.GenNewID().String()[:8]),
			Type:           "semantic",
			Centroid:       meanVector(g.members),
			CoherenceScore: mean(g.sims),
			MemberCount:    len(g.members),
		}
		if err := e.spatial.CreateCluster(ctx, tenant, c); err != nil {
			return res, err
		}

		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(cfg.Concurrency)
		for _, m := range g.members {
			memID := m.ID
			eg.Go(func() error {
				return e.spatial.AssignCluster(egCtx, tenant, memID, c.ID)
			})
		}
		if err := eg.Wait(); err != nil {
			return res, err
		}
		res.Created++
	}

	slog.Info("clustering pass complete", "tenant", tenant,
		"scanned", res.Scanned, "joined", res.Joined,
		"created", res.Created, "orphaned", res.Orphaned)
	return res, nil
}

// Neighborhood returns the memories nearest to id: explicit relation
// edges first (strongest first), then vector neighbors, deduped and
// capped at k.
func (e *Engine) Neighborhood(ctx context.Context, tenant string, id uuid.UUID, k int) ([]store.Memory, error) {
	if k <= 0 {
		k = 10
	}
	origin, err := e.memories.GetMemory(ctx, tenant, id)
	if err != nil {
		return nil, err
	}

	seen := map[uuid.UUID]bool{id: true}
	var out []store.Memory

	relations, err := e.memories.RelationsFrom(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(relations, func(i, j int) bool {
		return relations[i].Strength > relations[j].Strength
	})
	for _, r := range relations {
		if len(out) >= k || seen[r.TargetID] {
			continue
		}
		m, err := e.memories.GetMemory(ctx, tenant, r.TargetID)
		if err != nil {
			continue // dangling edge
		}
		seen[r.TargetID] = true
		out = append(out, *m)
	}

	if len(out) < k && len(origin.Embedding) > 0 {
		hits, err := e.memories.VectorSearch(ctx, tenant, origin.Embedding, store.VectorQuery{
			Limit: k + len(seen),
		})
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			if len(out) >= k || seen[h.Memory.ID] {
				continue
			}
			seen[h.Memory.ID] = true
			out = append(out, h.Memory)
		}
	}
	return out, nil
}

// Members lists the memories grouped under ref, which may be a quadrant
// code, a cluster id, or a cluster name.
func (e *Engine) Members(ctx context.Context, tenant, ref string, limit int) ([]store.Memory, error) {
	if limit <= 0 {
		limit = 20
	}
	quadrants, err := e.spatial.ListQuadrants(ctx, tenant)
	if err != nil {
		return nil, err
	}
	for _, q := range quadrants {
		if q.Code == ref {
			return e.spatial.QuadrantMembers(ctx, tenant, q.ID, limit)
		}
	}
	if id, perr := uuid.Parse(ref); perr == nil {
		return e.spatial.ClusterMembers(ctx, tenant, id, limit)
	}
	clusters, err := e.spatial.ListClusters(ctx, tenant)
	if err != nil {
		return nil, err
	}
	for i := range clusters {
		if clusters[i].Name == ref {
			return e.spatial.ClusterMembers(ctx, tenant, clusters[i].ID, limit)
		}
	}
	return nil, fmt.Errorf("no quadrant or cluster %q: %w", ref, store.ErrNotFound)
}

// Stats summarizes the spatial index for a tenant.
type Stats struct {
	Quadrants  []store.Quadrant `json:"quadrants"`
	Clusters   int              `json:"clusters"`
	Clustered  int              `json:"clustered_memories"`
	AvgCohere  float64          `json:"avg_coherence"`
	Unassigned int              `json:"unassigned"`
}

// GetStats reports quadrant membership and cluster health.
func (e *Engine) GetStats(ctx context.Context, tenant string) (*Stats, error) {
	quadrants, err := e.spatial.ListQuadrants(ctx, tenant)
	if err != nil {
		return nil, err
	}
	clusters, err := e.spatial.ListClusters(ctx, tenant)
	if err != nil {
		return nil, err
	}
	pending, err := e.spatial.UnassignedMemories(ctx, tenant, e.tuning().BatchLimit)
	if err != nil {
		return nil, err
	}

	st := &Stats{Quadrants: quadrants, Clusters: len(clusters), Unassigned: len(pending)}
	var cohere float64
	for _, c := range clusters {
		st.Clustered += c.MemberCount
		cohere += c.CoherenceScore
	}
	if len(clusters) > 0 {
		st.AvgCohere = cohere / float64(len(clusters))
	}
	return st, nil
}

// LabelCluster renames a cluster.
func (e *Engine) LabelCluster(ctx context.Context, tenant string, id uuid.UUID, name string) error {
	if name == "" {
		return &store.ValidationError{Field: "name", Reason: "empty cluster label"}
	}
	return e.spatial.RenameCluster(ctx, tenant, id, name)
}

// --- vector arithmetic ---

// runningMean shifts centroid toward vec as the n-th member.
func runningMean(centroid, vec []float32, n int) []float32 {
	if len(centroid) == 0 {
		out := make([]float32, len(vec))
		copy(out, vec)
		return out
	}
	if len(vec) != len(centroid) {
		vec = embedding.AdaptDimensions(vec, len(centroid))
	}
	out := make([]float32, len(centroid))
	for i := range centroid {
		out[i] = centroid[i] + (vec[i]-centroid[i])/float32(n)
	}
	return out
}

func meanVector(members []store.Memory) []float32 {
	if len(members) == 0 {
		return nil
	}
	dims := len(members[0].Embedding)
	sum := make([]float64, dims)
	for _, m := range members {
		vec := embedding.AdaptDimensions(m.Embedding, dims)
		for i := range vec {
			sum[i] += float64(vec[i])
		}
	}
	out := make([]float32, dims)
	for i := range sum {
		out[i] = float32(sum[i] / float64(len(members)))
	}
	return out
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var s float64
	for _, v := range vals {
		s += v
	}
	return s / float64(len(vals))
}
