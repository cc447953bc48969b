// Package overflow is the cold-storage tier: a TTL-keyed, compressed
// blob cache in a local SQLite file for payloads too large or too stale
// for the primary memory table.
package overflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/specmem/specmem/internal/store"
)

// Config tunes the overflow tier.
type Config struct {
	Path            string // SQLite file path
	MaxEntries      int    // LRU bound, 0 disables eviction
	DefaultTTLDays  int    // used when Store gets ttlDays <= 0
	CleanupInterval time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig(path string) Config {
	return Config{Path: path, MaxEntries: 10000, DefaultTTLDays: 30, CleanupInterval: 15 * time.Minute}
}

// Stats summarizes the overflow table.
type Stats struct {
	Entries        int        `json:"entries"`
	TotalBytes     int64      `json:"total_bytes"`
	TotalAccesses  int64      `json:"total_accesses"`
	OldestCreated  *time.Time `json:"oldest_created,omitempty"`
	NewestAccessed *time.Time `json:"newest_accessed,omitempty"`
}

// Storage is the overflow store. One instance per process is expected;
// the instance owns its cleanup timer.
type Storage struct {
	db    *sql.DB
	codec *codec
	cfg   Config

	// now is swappable for TTL tests.
	now func() time.Time

	mu       sync.Mutex
	stopChan chan struct{}
	doneChan chan struct{}
}

// Open opens (or creates) the overflow database at cfg.Path.
func Open(cfg Config) (*Storage, error) {
	if cfg.DefaultTTLDays <= 0 {
		cfg.DefaultTTLDays = 30
	}
	db, err := sql.Open("sqlite", cfg.Path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open overflow db: %w", err)
	}
	c, err := newCodec()
	if err != nil {
		db.Close()
		return nil, err
	}
	s := &Storage{db: db, codec: c, cfg: cfg, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		c.Close()
		return nil, fmt.Errorf("migrate overflow db: %w", err)
	}
	slog.Info("overflow store opened", "path", cfg.Path)
	return s, nil
}

func (s *Storage) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS overflow_storage (
		key TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		header TEXT NOT NULL,
		ttl_days INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		accessed_at INTEGER NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0
	)`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_overflow_accessed ON overflow_storage(accessed_at)`)
	return err
}

// Initialize starts the periodic cleanup loop. Safe to call once per
// instance; Shutdown stops it.
func (s *Storage) Initialize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopChan != nil || s.cfg.CleanupInterval <= 0 {
		return
	}
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	go s.cleanupLoop(s.stopChan, s.doneChan)
}

func (s *Storage) cleanupLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			removed, err := s.CleanupExpired(ctx)
			if err != nil {
				slog.Warn("overflow.cleanup_failed", "error", err)
			}
			evicted, err := s.EnforceMaxEntries(ctx)
			if err != nil {
				slog.Warn("overflow.eviction_failed", "error", err)
			}
			cancel()
			if removed > 0 || evicted > 0 {
				slog.Info("overflow.cleanup", "expired", removed, "evicted", evicted)
			}
		}
	}
}

// Shutdown stops the cleanup loop and closes the database.
func (s *Storage) Shutdown() error {
	s.mu.Lock()
	if s.stopChan != nil {
		close(s.stopChan)
		<-s.doneChan
		s.stopChan = nil
	}
	s.mu.Unlock()
	s.codec.Close()
	return s.db.Close()
}

// Store compresses and upserts a payload under key. ttlDays <= 0 uses the
// configured default.
func (s *Storage) Store(ctx context.Context, key string, data []byte, ttlDays int) (*store.OverflowEntry, error) {
	if key == "" {
		return nil, &store.ValidationError{Field: "key", Reason: "empty overflow key"}
	}
	if ttlDays <= 0 {
		ttlDays = s.cfg.DefaultTTLDays
	}
	body, header, err := s.codec.Compress(data)
	if err != nil {
		return nil, err
	}
	now := s.now().Unix()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO overflow_storage (key, data, header, ttl_days, created_at, accessed_at, access_count)
		VALUES (?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(key) DO UPDATE SET
			data = excluded.data,
			header = excluded.header,
			ttl_days = excluded.ttl_days,
			created_at = excluded.created_at,
			accessed_at = excluded.accessed_at`,
		key, body, string(header), ttlDays, now, now)
	if err != nil {
		return nil, fmt.Errorf("overflow store %q: %w", key, err)
	}
	return &store.OverflowEntry{
		Key:        key,
		Header:     string(header),
		Size:       len(body),
		TTLDays:    ttlDays,
		CreatedAt:  time.Unix(now, 0).UTC(),
		AccessedAt: time.Unix(now, 0).UTC(),
	}, nil
}

// Retrieve returns the original payload and bumps the access bookkeeping.
// found=false when the key is absent; that is not an error.
func (s *Storage) Retrieve(ctx context.Context, key string) ([]byte, bool, error) {
	var body []byte
	var header string
	err := s.db.QueryRowContext(ctx,
		`SELECT data, header FROM overflow_storage WHERE key = ?`, key).Scan(&body, &header)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("overflow retrieve %q: %w", key, err)
	}
	data, err := s.codec.Decompress(body, []byte(header))
	if err != nil {
		return nil, false, fmt.Errorf("overflow retrieve %q: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE overflow_storage SET accessed_at = ?, access_count = access_count + 1 WHERE key = ?`,
		s.now().Unix(), key)
	if err != nil {
		// Bookkeeping only: the payload is already in hand.
		slog.Warn("overflow.touch_failed", "key", key, "error", err)
	}
	return data, true, nil
}

// Delete removes one entry. Missing keys are a no-op.
func (s *Storage) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM overflow_storage WHERE key = ?`, key)
	return err
}

// DeleteMany removes a batch of keys and reports how many existed.
func (s *Storage) DeleteMany(ctx context.Context, keys []string) (int, error) {
	deleted := 0
	for _, k := range keys {
		res, err := s.db.ExecContext(ctx, `DELETE FROM overflow_storage WHERE key = ?`, k)
		if err != nil {
			return deleted, err
		}
		if n, err := res.RowsAffected(); err == nil {
			deleted += int(n)
		}
	}
	return deleted, nil
}

// Exists reports whether key is present, without touching access state.
func (s *Storage) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM overflow_storage WHERE key = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// GetMetadata returns an entry's bookkeeping row without its payload.
func (s *Storage) GetMetadata(ctx context.Context, key string) (*store.OverflowEntry, error) {
	var e store.OverflowEntry
	var created, accessed int64
	var size int
	err := s.db.QueryRowContext(ctx, `
		SELECT key, header, length(data), ttl_days, created_at, accessed_at, access_count
		FROM overflow_storage WHERE key = ?`, key).
		Scan(&e.Key, &e.Header, &size, &e.TTLDays, &created, &accessed, &e.AccessCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Size = size
	e.CreatedAt = time.Unix(created, 0).UTC()
	e.AccessedAt = time.Unix(accessed, 0).UTC()
	return &e, nil
}

// CleanupExpired deletes entries older than their own ttl_days.
func (s *Storage) CleanupExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM overflow_storage WHERE created_at + ttl_days * 86400 <= ?`,
		s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("overflow cleanup: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// EnforceMaxEntries evicts least-recently-accessed rows (ties broken by
// insertion order) until the table is at or below the configured bound.
func (s *Storage) EnforceMaxEntries(ctx context.Context) (int, error) {
	if s.cfg.MaxEntries <= 0 {
		return 0, nil
	}
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM overflow_storage`).Scan(&count); err != nil {
		return 0, err
	}
	excess := count - s.cfg.MaxEntries
	if excess <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM overflow_storage WHERE key IN (
			SELECT key FROM overflow_storage
			ORDER BY accessed_at ASC, rowid ASC
			LIMIT ?
		)`, excess)
	if err != nil {
		return 0, fmt.Errorf("overflow eviction: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// GetStats summarizes the table.
func (s *Storage) GetStats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	var oldest, newest sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(length(data)), 0), COALESCE(SUM(access_count), 0),
			MIN(created_at), MAX(accessed_at)
		FROM overflow_storage`).
		Scan(&st.Entries, &st.TotalBytes, &st.TotalAccesses, &oldest, &newest)
	if err != nil {
		return nil, err
	}
	if oldest.Valid {
		t := time.Unix(oldest.Int64, 0).UTC()
		st.OldestCreated = &t
	}
	if newest.Valid {
		t := time.Unix(newest.Int64, 0).UTC()
		st.NewestAccessed = &t
	}
	return st, nil
}
