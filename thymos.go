// Package thymos wires the Object Store, Versioned Memory Repository,
// Memory Lifecycle & Scope Engine, and PubSub Coordination Layer into a
// single Repository facade, reading every backend choice from a
// repository's own config.yaml (see package config).
package thymos

import (
	"context"
	"path/filepath"

	"github.com/thymos-ai/thymos/config"
	"github.com/thymos-ai/thymos/lifecycle"
	"github.com/thymos-ai/thymos/lifecycle/searchbackend"
	"github.com/thymos-ai/thymos/objectstore"
	"github.com/thymos-ai/thymos/pubsub"
	"github.com/thymos-ai/thymos/vmr"
)

// Repository is the top-level handle an embedding application opens: the
// four components (OS, VMR, MLSE, PSCL) constructed from one on-disk
// config.yaml, ready for Remember/Forget/Search calls and pub/sub
// coordination between agents sharing the same root.
type Repository struct {
	Config config.RepositoryConfig

	Store  *objectstore.Store
	VMR    *vmr.Repository
	Engine *lifecycle.Engine
	PubSub pubsub.Bus

	search *searchbackend.SQLiteBackend
	watch  *config.ConfigWatcher
}

// Options carries the handful of constructor-time dependencies that don't
// belong in config.yaml itself (a caller-owned Prometheus registerer, for
// instance, since a repository may share one registry across several
// Thymos instances).
type Options struct {
	// Metrics, if non-nil, wires pubsub operational counters into reg's
	// registry. Nil disables PSCL metrics collection.
	Metrics *pubsub.Metrics
	// WatchConfig starts a config.ConfigWatcher over root/config.yaml;
	// Repository.ConfigChanges() surfaces the reload channel. Off by
	// default since most embedders manage their own reload policy.
	WatchConfig bool
}

// Open constructs a Repository rooted at dir: it loads (or seeds the
// defaults for) dir/config.yaml, then builds the Object Store backend, the
// VMR, the MLSE search index, and the PSCL bus that config names.
func Open(ctx context.Context, dir string, opts Options) (*Repository, error) {
	cfg, err := config.LoadRepositoryConfig(dir)
	if err != nil {
		return nil, err
	}

	backend, err := objectstore.NewBackendFromConfig(ctx, dir, cfg)
	if err != nil {
		return nil, err
	}
	store := objectstore.New(backend)

	vmrRepo, err := vmr.Open(dir, store)
	if err != nil {
		return nil, err
	}

	indexPath := cfg.SearchIndexDB
	if indexPath == "" {
		indexPath = "search.db"
	}
	search, err := searchbackend.Open(filepath.Join(dir, indexPath))
	if err != nil {
		return nil, err
	}

	engine := lifecycle.NewEngine(vmrRepo, store, search, lifecycle.ConfigFromRepository(cfg))

	bus, err := pubsub.NewBusFromConfig(ctx, cfg, opts.Metrics)
	if err != nil {
		search.Close()
		return nil, err
	}

	repo := &Repository{
		Config: cfg,
		Store:  store,
		VMR:    vmrRepo,
		Engine: engine,
		PubSub: bus,
		search: search,
	}

	if opts.WatchConfig {
		w, err := config.WatchRepositoryConfig(dir)
		if err != nil {
			search.Close()
			return nil, err
		}
		repo.watch = w
	}

	return repo, nil
}

// ConfigChanges returns the reload channel from a WatchConfig-enabled
// Repository, or nil if watching wasn't requested at Open. Reloaded values
// are config.RepositoryConfig snapshots only — callers that want a live
// change applied to Engine/PubSub must re-Open or wire the fields they
// care about themselves, since swapping a running VMR's backend out from
// under in-flight commits isn't supported.
func (r *Repository) ConfigChanges() <-chan config.RepositoryConfig {
	if r.watch == nil {
		return nil
	}
	return r.watch.Changes
}

// Close releases the search index handle and, if running, stops the
// config watcher. It does not close the PubSub bus: DistributedBus and
// HybridBus have no explicit Close in the §4.4.1 contract, matching
// pubsub/fromconfig.go's own note that callers own shutdown indirectly
// through process exit.
func (r *Repository) Close() error {
	if r.watch != nil {
		r.watch.Stop()
	}
	return r.search.Close()
}
