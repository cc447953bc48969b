package spatial

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/specmem/specmem/internal/embedding"
	"github.com/specmem/specmem/internal/store"
)

type fakeSpatialStore struct {
	mu          sync.Mutex
	quadrants   []store.Quadrant
	clusters    []store.Cluster
	assignments map[uuid.UUID]uuid.UUID // memory -> quadrant
	clustered   map[uuid.UUID]uuid.UUID // memory -> cluster
	members     map[uuid.UUID][]store.Memory
	unassigned  []store.Memory
}

func newFakeSpatialStore() *fakeSpatialStore {
	return &fakeSpatialStore{
		assignments: map[uuid.UUID]uuid.UUID{},
		clustered:   map[uuid.UUID]uuid.UUID{},
		members:     map[uuid.UUID][]store.Memory{},
	}
}

// UpsertQuadrant mirrors the Postgres store: name and centroid are
// written, member_count stays owned by the assignment table.
func (f *fakeSpatialStore) UpsertQuadrant(ctx context.Context, tenant string, q *store.Quadrant) error {
	for i := range f.quadrants {
		if f.quadrants[i].Code == q.Code {
			if q.ID == uuid.Nil {
				q.ID = f.quadrants[i].ID
			}
			keep := f.quadrants[i].MemberCount
			f.quadrants[i] = *q
			f.quadrants[i].MemberCount = keep
			return nil
		}
	}
	if q.ID == uuid.Nil {
		q.ID = store.GenNewID()
	}
	added := *q
	added.MemberCount = 0
	f.quadrants = append(f.quadrants, added)
	return nil
}

func (f *fakeSpatialStore) ListQuadrants(ctx context.Context, tenant string) ([]store.Quadrant, error) {
	out := make([]store.Quadrant, len(f.quadrants))
	copy(out, f.quadrants)
	return out, nil
}

func (f *fakeSpatialStore) AssignQuadrant(ctx context.Context, tenant string, memoryID, quadrantID uuid.UUID) error {
	f.assignments[memoryID] = quadrantID
	// Recompute counts from the assignment table, like the pg store.
	counts := map[uuid.UUID]int{}
	for _, qid := range f.assignments {
		counts[qid]++
	}
	for i := range f.quadrants {
		f.quadrants[i].MemberCount = counts[f.quadrants[i].ID]
	}
	return nil
}

func (f *fakeSpatialStore) CreateCluster(ctx context.Context, tenant string, c *store.Cluster) error {
	if c.ID == uuid.Nil {
		c.ID = store.GenNewID()
	}
	f.clusters = append(f.clusters, *c)
	return nil
}

func (f *fakeSpatialStore) UpdateCluster(ctx context.Context, tenant string, c *store.Cluster) error {
	for i := range f.clusters {
		if f.clusters[i].ID == c.ID {
			f.clusters[i] = *c
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeSpatialStore) ListClusters(ctx context.Context, tenant string) ([]store.Cluster, error) {
	out := make([]store.Cluster, len(f.clusters))
	copy(out, f.clusters)
	return out, nil
}

func (f *fakeSpatialStore) AssignCluster(ctx context.Context, tenant string, memoryID, clusterID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clustered[memoryID] = clusterID
	remaining := f.unassigned[:0]
	for _, m := range f.unassigned {
		if m.ID != memoryID {
			remaining = append(remaining, m)
		}
	}
	f.unassigned = remaining
	return nil
}

func (f *fakeSpatialStore) RenameCluster(ctx context.Context, tenant string, clusterID uuid.UUID, name string) error {
	for i := range f.clusters {
		if f.clusters[i].ID == clusterID {
			f.clusters[i].Name = name
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeSpatialStore) UnassignedMemories(ctx context.Context, tenant string, limit int) ([]store.Memory, error) {
	out := make([]store.Memory, len(f.unassigned))
	copy(out, f.unassigned)
	return out, nil
}

func (f *fakeSpatialStore) ClusterMembers(ctx context.Context, tenant string, clusterID uuid.UUID, limit int) ([]store.Memory, error) {
	return f.memberList(clusterID, limit), nil
}

func (f *fakeSpatialStore) QuadrantMembers(ctx context.Context, tenant string, quadrantID uuid.UUID, limit int) ([]store.Memory, error) {
	return f.memberList(quadrantID, limit), nil
}

func (f *fakeSpatialStore) memberList(groupID uuid.UUID, limit int) []store.Memory {
	out := f.members[groupID]
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// fakeMemories serves GetMemory/VectorSearch/RelationsFrom for
// neighborhood tests.
type fakeMemories struct {
	store.MemoryStore
	memories  map[uuid.UUID]store.Memory
	relations map[uuid.UUID][]store.Relation
	nearest   []store.SearchResult
}

func newFakeMemories() *fakeMemories {
	return &fakeMemories{
		memories:  map[uuid.UUID]store.Memory{},
		relations: map[uuid.UUID][]store.Relation{},
	}
}

func (f *fakeMemories) GetMemory(ctx context.Context, tenant string, id uuid.UUID) (*store.Memory, error) {
	m, ok := f.memories[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &m, nil
}

func (f *fakeMemories) VectorSearch(ctx context.Context, tenant string, vec []float32, q store.VectorQuery) ([]store.SearchResult, error) {
	return f.nearest, nil
}

func (f *fakeMemories) RelationsFrom(ctx context.Context, tenant string, id uuid.UUID) ([]store.Relation, error) {
	return f.relations[id], nil
}

func axisVec(dims, axis int) []float32 {
	v := make([]float32, dims)
	v[axis] = 1
	return v
}

func memAt(vec []float32) store.Memory {
	return store.Memory{ID: store.GenNewID(), Content: "m", Embedding: vec}
}

func TestInitQuadrantsCreatesFixedSet(t *testing.T) {
	fs := newFakeSpatialStore()
	e := NewEngine(nil, fs, embedding.NewStubGateway(8), DefaultConfig())
	ctx := context.Background()

	n, err := e.InitQuadrants(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("created %d quadrants, want 4", n)
	}
	for _, q := range fs.quadrants {
		if len(q.Centroid) == 0 {
			t.Errorf("quadrant %s has no seeded centroid", q.Code)
		}
	}

	// Second init is a no-op.
	n, err = e.InitQuadrants(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("re-init created %d quadrants, want 0", n)
	}
}

func TestAssignQuadrantNearestCentroid(t *testing.T) {
	fs := newFakeSpatialStore()
	fs.quadrants = []store.Quadrant{
		{ID: store.GenNewID(), Code: "technical", Centroid: axisVec(4, 0)},
		{ID: store.GenNewID(), Code: "conceptual", Centroid: axisVec(4, 1)},
	}
	e := NewEngine(nil, fs, nil, DefaultConfig())

	m := memAt([]float32{0.1, 0.9, 0, 0})
	q, err := e.AssignQuadrant(context.Background(), "t1", &m)
	if err != nil {
		t.Fatal(err)
	}
	if q.Code != "conceptual" {
		t.Errorf("assigned to %s, want conceptual", q.Code)
	}
	if fs.assignments[m.ID] != q.ID {
		t.Error("assignment not persisted")
	}
	if q.MemberCount != 1 {
		t.Errorf("member count %d, want 1", q.MemberCount)
	}
}

func TestAssignQuadrantReassignmentIsIdempotent(t *testing.T) {
	fs := newFakeSpatialStore()
	fs.quadrants = []store.Quadrant{
		{ID: store.GenNewID(), Code: "technical", Centroid: axisVec(4, 0)},
	}
	e := NewEngine(nil, fs, nil, DefaultConfig())
	ctx := context.Background()

	m := memAt([]float32{0.9, 0.1, 0, 0})
	first, err := e.AssignQuadrant(ctx, "t1", &m)
	if err != nil {
		t.Fatal(err)
	}
	if first.MemberCount != 1 {
		t.Fatalf("first assignment count %d, want 1", first.MemberCount)
	}
	centroidAfterFirst := append([]float32(nil), fs.quadrants[0].Centroid...)

	second, err := e.AssignQuadrant(ctx, "t1", &m)
	if err != nil {
		t.Fatal(err)
	}
	if second.MemberCount != 1 {
		t.Errorf("re-assignment count %d, want 1", second.MemberCount)
	}
	if fs.quadrants[0].MemberCount != 1 {
		t.Errorf("stored count %d after re-assignment, want 1", fs.quadrants[0].MemberCount)
	}
	for i := range centroidAfterFirst {
		if fs.quadrants[0].Centroid[i] != centroidAfterFirst[i] {
			t.Fatalf("centroid shifted again on re-assignment: %v vs %v",
				fs.quadrants[0].Centroid, centroidAfterFirst)
		}
	}
}

func TestAssignQuadrantRequiresEmbedding(t *testing.T) {
	e := NewEngine(nil, newFakeSpatialStore(), nil, DefaultConfig())
	m := store.Memory{ID: store.GenNewID()}
	_, err := e.AssignQuadrant(context.Background(), "t1", &m)
	if err == nil {
		t.Fatal("embeddingless memory accepted")
	}
}

func TestAssignClusterBelowThresholdStaysUnclustered(t *testing.T) {
	fs := newFakeSpatialStore()
	fs.clusters = []store.Cluster{
		{ID: store.GenNewID(), Name: "c1", Centroid: axisVec(4, 0), MemberCount: 3},
	}
	e := NewEngine(nil, fs, nil, DefaultConfig())

	m := memAt(axisVec(4, 1)) // orthogonal, similarity 0
	c, err := e.AssignCluster(context.Background(), "t1", &m)
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Errorf("joined cluster %s despite similarity below threshold", c.Name)
	}
}

func TestAssignClusterJoinsAndUpdatesCentroid(t *testing.T) {
	fs := newFakeSpatialStore()
	fs.clusters = []store.Cluster{
		{ID: store.GenNewID(), Name: "c1", Centroid: axisVec(4, 0), CoherenceScore: 1.0, MemberCount: 1},
	}
	e := NewEngine(nil, fs, nil, DefaultConfig())

	m := memAt([]float32{0.95, 0.05, 0, 0})
	c, err := e.AssignCluster(context.Background(), "t1", &m)
	if err != nil {
		t.Fatal(err)
	}
	if c == nil {
		t.Fatal("near-identical memory did not join the cluster")
	}
	if c.MemberCount != 2 {
		t.Errorf("member count %d, want 2", c.MemberCount)
	}
	if c.Centroid[0] >= 1.0 || c.Centroid[0] <= 0.9 {
		t.Errorf("centroid[0] = %v, want running mean between 0.9 and 1.0", c.Centroid[0])
	}
}

func TestRunClusteringGroupsSimilarMemories(t *testing.T) {
	fs := newFakeSpatialStore()
	// Four near-identical vectors plus one outlier.
	for i := 0; i < 4; i++ {
		v := axisVec(4, 0)
		v[1] = float32(i) * 0.01
		fs.unassigned = append(fs.unassigned, memAt(v))
	}
	outlier := memAt(axisVec(4, 2))
	fs.unassigned = append(fs.unassigned, outlier)

	e := NewEngine(nil, fs, nil, DefaultConfig())
	res, err := e.RunClustering(context.Background(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Created != 1 {
		t.Fatalf("created %d clusters, want 1", res.Created)
	}
	if res.Orphaned != 1 {
		t.Errorf("orphaned %d, want 1 outlier", res.Orphaned)
	}
	if len(fs.clusters) != 1 {
		t.Fatalf("store has %d clusters, want 1", len(fs.clusters))
	}
	c := fs.clusters[0]
	if c.MemberCount != 4 {
		t.Errorf("cluster has %d members, want 4", c.MemberCount)
	}
	if c.CoherenceScore <= 0.9 {
		t.Errorf("coherence %v suspiciously low for near-identical members", c.CoherenceScore)
	}
	if _, ok := fs.clustered[outlier.ID]; ok {
		t.Error("outlier was clustered")
	}
}

func TestNeighborhoodRelationsFirst(t *testing.T) {
	ms := newFakeMemories()
	origin := memAt(axisVec(4, 0))
	related := memAt(axisVec(4, 0))
	near := memAt(axisVec(4, 0))
	ms.memories[origin.ID] = origin
	ms.memories[related.ID] = related
	ms.relations[origin.ID] = []store.Relation{
		{SourceID: origin.ID, TargetID: related.ID, Type: "references", Strength: 0.9},
	}
	ms.nearest = []store.SearchResult{
		{Memory: related, Similarity: 0.99}, // already included via relation
		{Memory: near, Similarity: 0.95},
		{Memory: origin, Similarity: 1.0}, // self, must be excluded
	}

	e := NewEngine(ms, newFakeSpatialStore(), nil, DefaultConfig())
	out, err := e.Neighborhood(context.Background(), "t1", origin.ID, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d neighbors, want 2", len(out))
	}
	if out[0].ID != related.ID {
		t.Error("explicit relation not ordered first")
	}
	if out[1].ID != near.ID {
		t.Error("vector neighbor missing")
	}
}

func TestMembersResolvesQuadrantCodeAndClusterName(t *testing.T) {
	fs := newFakeSpatialStore()
	quad := store.Quadrant{ID: store.GenNewID(), Code: "technical", Centroid: axisVec(4, 0)}
	clus := store.Cluster{ID: store.GenNewID(), Name: "auth-flows", Centroid: axisVec(4, 1)}
	fs.quadrants = []store.Quadrant{quad}
	fs.clusters = []store.Cluster{clus}
	fs.members[quad.ID] = []store.Memory{memAt(axisVec(4, 0)), memAt(axisVec(4, 0))}
	fs.members[clus.ID] = []store.Memory{memAt(axisVec(4, 1))}

	e := NewEngine(nil, fs, nil, DefaultConfig())
	ctx := context.Background()

	out, err := e.Members(ctx, "t1", "technical", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Errorf("quadrant code lookup returned %d members, want 2", len(out))
	}

	out, err = e.Members(ctx, "t1", "auth-flows", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Errorf("cluster name lookup returned %d members, want 1", len(out))
	}

	out, err = e.Members(ctx, "t1", clus.ID.String(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Errorf("cluster id lookup returned %d members, want 1", len(out))
	}

	if _, err := e.Members(ctx, "t1", "no-such-group", 10); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown ref returned %v, want ErrNotFound", err)
	}
}

func TestLabelClusterRejectsEmptyName(t *testing.T) {
	e := NewEngine(nil, newFakeSpatialStore(), nil, DefaultConfig())
	if err := e.LabelCluster(context.Background(), "t1", store.GenNewID(), ""); err == nil {
		t.Fatal("empty label accepted")
	}
}
