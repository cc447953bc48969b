// Package hotpath tracks memory access patterns and predicts likely next
// retrievals. Recording never fails the caller: all writes are
// fire-and-forget bookkeeping on the shared task queue.
package hotpath

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/specmem/specmem/internal/store"
	"github.com/specmem/specmem/internal/tasks"
)

// Config tunes access-pattern tracking.
type Config struct {
	// DecayFactor multiplies heat scores on each decay pass.
	DecayFactor float64
	// MinPathLen is the shortest sequence recorded as a named hot path.
	// Shorter sequences still record pairwise transitions.
	MinPathLen int
}

// DefaultConfig returns the tuned production defaults.
func DefaultConfig() Config {
	return Config{DecayFactor: 0.95, MinPathLen: 3}
}

// Manager records access transitions and answers prediction queries.
type Manager struct {
	store store.HotPathStore
	tasks *tasks.Queue

	mu  sync.RWMutex
	cfg Config
}

func clampConfig(cfg Config) Config {
	if cfg.DecayFactor <= 0 || cfg.DecayFactor >= 1 {
		cfg.DecayFactor = 0.95
	}
	if cfg.MinPathLen <= 0 {
		cfg.MinPathLen = 3
	}
	return cfg
}

// NewManager wires the manager to its store and task queue.
func NewManager(st store.HotPathStore, q *tasks.Queue, cfg Config) *Manager {
	return &Manager{store: st, tasks: q, cfg: clampConfig(cfg)}
}

// SetTuning swaps the tracking constants. Used by config hot-reload.
func (m *Manager) SetTuning(cfg Config) {
	cfg = clampConfig(cfg)
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

func (m *Manager) tuning() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// RecordAccess records the access sequence of one search response: each
// consecutive pair becomes a transition, and sequences of MinPathLen or
// more also bump a named hot path. Never returns an error: failures are
// logged by the task queue and must not reach the read path.
func (m *Manager) RecordAccess(tenant string, ids []uuid.UUID) {
	if len(ids) < 2 {
		return
	}
	seq := make([]uuid.UUID, len(ids))
	copy(seq, ids)

	m.tasks.TrySubmit("hotpath.record", func(ctx context.Context) error {
		for i := 0; i+1 < len(seq); i++ {
			if seq[i] == seq[i+1] {
				continue
			}
			if err := m.store.UpsertTransition(ctx, tenant, seq[i], seq[i+1]); err != nil {
				return err
			}
		}
		if len(seq) >= m.tuning().MinPathLen {
			return m.store.UpsertHotPath(ctx, tenant, pathName(seq), seq, 1.0)
		}
		return nil
	})
}

// PredictNext ranks outgoing transitions from id by count, normalized
// into probabilities. Absent history yields an empty list, not an error.
func (m *Manager) PredictNext(ctx context.Context, tenant string, id uuid.UUID, limit int) ([]store.Prediction, error) {
	if limit <= 0 {
		limit = 5
	}
	transitions, err := m.store.TransitionsFrom(ctx, tenant, id, limit)
	if err != nil {
		return nil, err
	}
	if len(transitions) == 0 {
		return []store.Prediction{}, nil
	}

	total := 0
	for _, t := range transitions {
		total += t.Count
	}
	preds := make([]store.Prediction, len(transitions))
	for i, t := range transitions {
		preds[i] = store.Prediction{
			MemoryID:    t.ToID,
			Probability: float64(t.Count) / float64(total),
		}
	}
	return preds, nil
}

// DecayHeat multiplies all heat scores by the decay factor so stale
// paths fade without being deleted. Returns the number of paths touched.
func (m *Manager) DecayHeat(ctx context.Context, tenant string) (int, error) {
	return m.store.ScaleHeat(ctx, tenant, m.tuning().DecayFactor)
}

// HotPaths lists the hottest recorded paths.
func (m *Manager) HotPaths(ctx context.Context, tenant string, limit int) ([]store.HotPath, error) {
	return m.store.ListHotPaths(ctx, tenant, limit)
}

// pathName derives a stable name from the id sequence.
func pathName(ids []uuid.UUID) string {
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(id.String())
		b.WriteByte('>')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return "path-" + hex.EncodeToString(sum[:6])
}
