package cmd

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/specmem/specmem/internal/config"
	"github.com/specmem/specmem/internal/embedding"
	"github.com/specmem/specmem/internal/hotpath"
	"github.com/specmem/specmem/internal/overflow"
	"github.com/specmem/specmem/internal/search"
	"github.com/specmem/specmem/internal/spatial"
	"github.com/specmem/specmem/internal/store/pg"
	"github.com/specmem/specmem/internal/tasks"
)

// runtime holds the fully wired engine graph for one CLI invocation.
// Explicit construction, no singletons: every engine gets its
// dependencies here and nowhere else.
type runtime struct {
	cfg      *config.Config
	db       *sql.DB
	memories *pg.MemoryStore
	gateway  embedding.Gateway
	queue    *tasks.Queue
	search   *search.Engine
	spatial  *spatial.Engine
	hotpaths *hotpath.Manager
	watcher  *config.Watcher
}

func newRuntime() (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	db, err := pg.OpenDB(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	dims := cfg.Embedding.Dimensions
	var gw embedding.Gateway = embedding.NewSocketGateway(cfg.Embedding.SocketPath, dims, cfg.Embedding.Timeout)
	if cfg.Embedding.RateRPM > 0 {
		gw = embedding.NewThrottledGateway(gw, cfg.Embedding.RateRPM, cfg.Embedding.Burst)
	}
	if cfg.Embedding.CacheSize > 0 {
		gw, err = embedding.NewCachedGateway(gw, cfg.Embedding.CacheSize)
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	queue := tasks.New(cfg.Tasks.QueueSize, cfg.Tasks.Workers)
	memories := pg.NewMemoryStore(db, dims)
	spatialStore := pg.NewSpatialStore(db, dims)
	hotStore := pg.NewHotPathStore(db)

	hot := hotpath.NewManager(hotStore, queue, hotpath.Config{
		DecayFactor: cfg.HotPath.DecayFactor,
		MinPathLen:  cfg.HotPath.MinPathLen,
	})
	sp := spatial.NewEngine(memories, spatialStore, gw, spatial.Config{
		ClusterThreshold: cfg.Spatial.ClusterThreshold,
		MinClusterSize:   cfg.Spatial.MinClusterSize,
		BatchLimit:       cfg.Spatial.BatchLimit,
		Concurrency:      cfg.Spatial.Concurrency,
	})
	se := search.NewEngine(memories, gw, queue, hot, cfg.Search, cfg.Embedding.Timeout)

	// Tuning edits apply to the running engines without a restart. The
	// watcher is best-effort: a missing config directory just disables
	// live reload.
	watcher, err := config.NewWatcher(resolveConfigPath())
	if err == nil {
		watcher.OnChange(func(next *config.Config) {
			se.SetTuning(next.Search)
			sp.SetTuning(spatial.Config{
				ClusterThreshold: next.Spatial.ClusterThreshold,
				MinClusterSize:   next.Spatial.MinClusterSize,
				BatchLimit:       next.Spatial.BatchLimit,
				Concurrency:      next.Spatial.Concurrency,
			})
			hot.SetTuning(hotpath.Config{
				DecayFactor: next.HotPath.DecayFactor,
				MinPathLen:  next.HotPath.MinPathLen,
			})
		})
		if err := watcher.Start(); err != nil {
			slog.Debug("config watcher disabled", "error", err)
			watcher.Stop()
			watcher = nil
		}
	} else {
		slog.Debug("config watcher disabled", "error", err)
		watcher = nil
	}

	return &runtime{
		cfg:      cfg,
		db:       db,
		memories: memories,
		gateway:  gw,
		queue:    queue,
		search:   se,
		spatial:  sp,
		hotpaths: hot,
		watcher:  watcher,
	}, nil
}

// Close drains the bookkeeping queue and releases the pool.
func (r *runtime) Close() {
	if r.watcher != nil {
		r.watcher.Stop()
	}
	r.queue.Close()
	r.db.Close()
}

// openOverflow opens the overflow tier on its own. It does not need the
// Postgres pool or the gateway.
func openOverflow() (*overflow.Storage, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	st, err := overflow.Open(overflow.Config{
		Path:            cfg.Overflow.Path,
		MaxEntries:      cfg.Overflow.MaxEntries,
		DefaultTTLDays:  cfg.Overflow.DefaultTTLDays,
		CleanupInterval: cfg.Overflow.CleanupInterval,
	})
	if err != nil {
		return nil, nil, err
	}
	return st, cfg, nil
}
