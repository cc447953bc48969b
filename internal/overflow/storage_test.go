package overflow

import (
	"bytes"
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func openTestStorage(t *testing.T, cfg Config) *Storage {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "overflow.db")
	}
	if cfg.DefaultTTLDays == 0 {
		cfg.DefaultTTLDays = 30
	}
	s, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Shutdown() })
	return s
}

func TestStoreRetrieveRoundtrip(t *testing.T) {
	s := openTestStorage(t, Config{})
	ctx := context.Background()

	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 50)
	entry, err := s.Store(ctx, "k1", payload, 7)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Size >= len(payload) {
		t.Errorf("compressed size %d not smaller than %d for repetitive payload", entry.Size, len(payload))
	}

	got, found, err := s.Retrieve(ctx, "k1")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("stored key not found")
	}
	if !bytes.Equal(got, payload) {
		t.Error("retrieved payload differs from original")
	}
}

func TestSmallPayloadStoredRaw(t *testing.T) {
	s := openTestStorage(t, Config{})
	ctx := context.Background()

	payload := []byte("tiny")
	if _, err := s.Store(ctx, "k1", payload, 1); err != nil {
		t.Fatal(err)
	}
	got, found, err := s.Retrieve(ctx, "k1")
	if err != nil || !found {
		t.Fatalf("retrieve: found=%v err=%v", found, err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("raw roundtrip failed")
	}
}

func TestStoreUpsertsByKey(t *testing.T) {
	s := openTestStorage(t, Config{})
	ctx := context.Background()

	s.Store(ctx, "k1", []byte("first version of the payload"), 1)
	s.Store(ctx, "k1", []byte("second version of the payload"), 1)

	got, _, err := s.Retrieve(ctx, "k1")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "second version of the payload" {
		t.Errorf("got %q, want the second version", got)
	}
	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 1 {
		t.Errorf("%d entries after upsert, want 1", stats.Entries)
	}
}

func TestRetrieveMissingKey(t *testing.T) {
	s := openTestStorage(t, Config{})

	_, found, err := s.Retrieve(context.Background(), "absent")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("absent key reported as found")
	}
}

func TestRetrieveBumpsAccessState(t *testing.T) {
	s := openTestStorage(t, Config{})
	ctx := context.Background()

	s.Store(ctx, "k1", []byte("payload for access bookkeeping"), 1)
	s.Retrieve(ctx, "k1")
	s.Retrieve(ctx, "k1")

	meta, err := s.GetMetadata(ctx, "k1")
	if err != nil {
		t.Fatal(err)
	}
	if meta.AccessCount != 2 {
		t.Errorf("access count %d, want 2", meta.AccessCount)
	}
}

func TestCleanupExpired(t *testing.T) {
	s := openTestStorage(t, Config{})
	ctx := context.Background()

	base := time.Now()
	s.now = func() time.Time { return base }
	s.Store(ctx, "k1", []byte("expires in one day"), 1)
	s.Store(ctx, "k2", []byte("expires in ten days"), 10)

	// Advance the clock two days.
	s.now = func() time.Time { return base.Add(48 * time.Hour) }
	removed, err := s.CleanupExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("removed %d, want 1", removed)
	}
	if ok, _ := s.Exists(ctx, "k1"); ok {
		t.Error("expired key still exists")
	}
	if ok, _ := s.Exists(ctx, "k2"); !ok {
		t.Error("unexpired key removed")
	}
}

func TestEnforceMaxEntriesEvictsLRU(t *testing.T) {
	s := openTestStorage(t, Config{MaxEntries: 3})
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 5; i++ {
		tick := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return tick }
		s.Store(ctx, "k"+strconv.Itoa(i), []byte("entry payload number "+strconv.Itoa(i)), 30)
	}
	// Touch k0 so it becomes the most recently accessed.
	s.now = func() time.Time { return base.Add(time.Hour) }
	s.Retrieve(ctx, "k0")

	evicted, err := s.EnforceMaxEntries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if evicted != 2 {
		t.Errorf("evicted %d, want 2", evicted)
	}
	for _, key := range []string{"k1", "k2"} {
		if ok, _ := s.Exists(ctx, key); ok {
			t.Errorf("least-recently-used %s survived eviction", key)
		}
	}
	for _, key := range []string{"k0", "k3", "k4"} {
		if ok, _ := s.Exists(ctx, key); !ok {
			t.Errorf("recently used %s was evicted", key)
		}
	}
}

func TestDeleteMany(t *testing.T) {
	s := openTestStorage(t, Config{})
	ctx := context.Background()

	s.Store(ctx, "k1", []byte("payload one"), 1)
	s.Store(ctx, "k2", []byte("payload two"), 1)

	n, err := s.DeleteMany(ctx, []string{"k1", "k2", "missing"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("deleted %d, want 2", n)
	}
}

func TestStoreRejectsEmptyKey(t *testing.T) {
	s := openTestStorage(t, Config{})
	if _, err := s.Store(context.Background(), "", []byte("x"), 1); err == nil {
		t.Fatal("empty key accepted")
	}
}

func TestCodecRejectsUnknownCodec(t *testing.T) {
	c, err := newCodec()
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if _, err := c.Decompress([]byte("body"), []byte(`{"codec":"lz9"}`)); err == nil {
		t.Fatal("unknown codec accepted")
	}
}
