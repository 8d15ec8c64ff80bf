package objectstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/thymos-ai/thymos/errs"
	"github.com/thymos-ai/thymos/internal/tlog"
)

// Backend is a storage backend for raw, already-framed object bytes keyed
// by lowercase hex hash. It knows nothing about blobs, trees, or commits.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Has(ctx context.Context, key string) (bool, error)
	List(ctx context.Context) ([]string, error)

	Type() string
	IsAvailable(ctx context.Context) bool
}

// ManagerConfig tunes the primary/fallback/cache Manager.
type ManagerConfig struct {
	EnableFallback bool
	SyncEnabled    bool
	RetryAttempts  int
	RetryDelay     time.Duration
}

// Manager fronts a primary backend with an optional fallback (for
// durability) and an optional cache (for read latency). Content addressing
// makes every write idempotent, so retries and fallback syncing are safe by
// construction.
type Manager struct {
	primary  Backend
	fallback Backend
	cache    Backend
	cfg      ManagerConfig
}

// NewManager constructs a Manager around a primary backend.
func NewManager(primary Backend, cfg ManagerConfig) *Manager {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	return &Manager{primary: primary, cfg: cfg}
}

// SetFallback installs a durable fallback backend.
func (m *Manager) SetFallback(b Backend) { m.fallback = b }

// SetCache installs a read-through cache backend in front of primary.
func (m *Manager) SetCache(b Backend) { m.cache = b }

func (m *Manager) Type() string { return "manager(" + m.primary.Type() + ")" }

func (m *Manager) IsAvailable(ctx context.Context) bool {
	return m.primary.IsAvailable(ctx)
}

func (m *Manager) Get(ctx context.Context, key string) ([]byte, error) {
	if m.cache != nil {
		if data, err := m.cache.Get(ctx, key); err == nil {
			return data, nil
		}
	}

	data, err := m.primary.Get(ctx, key)
	if err == nil {
		if m.cache != nil {
			_ = m.cache.Put(ctx, key, data)
		}
		return data, nil
	}

	if m.fallback != nil && m.cfg.EnableFallback {
		data, ferr := m.fallback.Get(ctx, key)
		if ferr == nil {
			if m.cfg.SyncEnabled {
				_ = m.primary.Put(ctx, key, data)
			}
			if m.cache != nil {
				_ = m.cache.Put(ctx, key, data)
			}
			return data, nil
		}
	}

	return nil, err
}

func (m *Manager) Put(ctx context.Context, key string, data []byte) error {
	var lastErr error
	for attempt := 0; attempt < m.cfg.RetryAttempts; attempt++ {
		if err := m.primary.Put(ctx, key, data); err == nil {
			if m.cache != nil {
				_ = m.cache.Put(ctx, key, data)
			}
			if m.fallback != nil && m.cfg.SyncEnabled {
				_ = m.fallback.Put(ctx, key, data)
			}
			return nil
		} else {
			lastErr = err
			if attempt < m.cfg.RetryAttempts-1 {
				select {
				case <-time.After(m.cfg.RetryDelay):
				case <-ctx.Done():
					return errs.Wrap("objectstore.Manager.Put", errs.Cancelled, ctx.Err())
				}
			}
		}
	}

	if m.fallback != nil && m.cfg.EnableFallback {
		if err := m.fallback.Put(ctx, key, data); err == nil {
			return nil
		}
	}

	return errs.E("objectstore.Manager.Put", errs.Resource,
		fmt.Sprintf("put %s after %d attempts", key, m.cfg.RetryAttempts), lastErr)
}

func (m *Manager) Delete(ctx context.Context, key string) error {
	if m.cache != nil {
		_ = m.cache.Delete(ctx, key)
	}
	if err := m.primary.Delete(ctx, key); err != nil {
		return err
	}
	if m.fallback != nil && m.cfg.SyncEnabled {
		_ = m.fallback.Delete(ctx, key)
	}
	return nil
}

func (m *Manager) Has(ctx context.Context, key string) (bool, error) {
	if m.cache != nil {
		if ok, err := m.cache.Has(ctx, key); err == nil && ok {
			return true, nil
		}
	}
	if ok, err := m.primary.Has(ctx, key); err == nil {
		return ok, nil
	}
	if m.fallback != nil && m.cfg.EnableFallback {
		return m.fallback.Has(ctx, key)
	}
	return false, nil
}

func (m *Manager) List(ctx context.Context) ([]string, error) {
	keys, err := m.primary.List(ctx)
	if err != nil && m.fallback != nil && m.cfg.EnableFallback {
		return m.fallback.List(ctx)
	}
	return keys, err
}

// Sync reconciles objects present in fallback but missing from primary (and
// vice versa). Content addressing makes this safe to run at any time.
func (m *Manager) Sync(ctx context.Context) error {
	if m.fallback == nil || !m.cfg.SyncEnabled {
		return errs.E("objectstore.Manager.Sync", errs.Validation, "sync not enabled or no fallback configured")
	}

	primaryKeys, err := m.primary.List(ctx)
	if err != nil {
		return errs.Wrap("objectstore.Manager.Sync", errs.Resource, err)
	}
	fallbackKeys, err := m.fallback.List(ctx)
	if err != nil {
		return errs.Wrap("objectstore.Manager.Sync", errs.Resource, err)
	}

	have := make(map[string]bool, len(primaryKeys))
	for _, k := range primaryKeys {
		have[k] = true
	}
	for _, k := range fallbackKeys {
		if have[k] {
			continue
		}
		data, err := m.fallback.Get(ctx, k)
		if err != nil {
			continue
		}
		_ = m.primary.Put(ctx, k, data)
	}
	return nil
}

// HealthCheck verifies every configured backend is reachable.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if !m.primary.IsAvailable(ctx) {
		return errs.E("objectstore.Manager.HealthCheck", errs.Resource, "primary backend "+m.primary.Type()+" unavailable")
	}
	if m.fallback != nil && !m.fallback.IsAvailable(ctx) {
		return errs.E("objectstore.Manager.HealthCheck", errs.Resource, "fallback backend "+m.fallback.Type()+" unavailable")
	}
	if m.cache != nil && !m.cache.IsAvailable(ctx) {
		return errs.E("objectstore.Manager.HealthCheck", errs.Resource, "cache backend "+m.cache.Type()+" unavailable")
	}
	return nil
}

// FSBackend is the default, durable backend: a content-addressed directory
// tree under root, laid out as objects/<two-hex>/<rest-of-hash>, written
// via write-temp, fsync, rename so every write is atomic relative to crash.
type FSBackend struct {
	root string
}

// NewFSBackend returns a Backend rooted at dir/objects.
func NewFSBackend(dir string) (*FSBackend, error) {
	root := filepath.Join(dir, "objects")
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, errs.E("objectstore.NewFSBackend", errs.Resource, "create objects dir", err)
	}
	return &FSBackend{root: root}, nil
}

func (f *FSBackend) path(key string) (string, error) {
	if len(key) < 3 {
		return "", errs.E("objectstore.FSBackend", errs.Validation, "key too short: "+key)
	}
	return filepath.Join(f.root, key[:2], key[2:]), nil
}

func (f *FSBackend) Type() string { return "fs" }

func (f *FSBackend) IsAvailable(ctx context.Context) bool {
	_, err := os.Stat(f.root)
	return err == nil
}

func (f *FSBackend) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := f.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, errs.E("objectstore.FSBackend.Get", errs.NotFound, "object "+key+" not found")
	}
	if err != nil {
		return nil, errs.E("objectstore.FSBackend.Get", errs.Resource, "read "+key, err)
	}
	return data, nil
}

func (f *FSBackend) Put(ctx context.Context, key string, data []byte) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return errs.E("objectstore.FSBackend.Put", errs.Resource, "mkdir", err)
	}

	// Idempotent: an existing object with this content-address is already
	// correct, so a repeat put is a cheap no-op.
	if _, err := os.Stat(p); err == nil {
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return errs.E("objectstore.FSBackend.Put", errs.Resource, "create temp file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errs.E("objectstore.FSBackend.Put", errs.Resource, "write temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errs.E("objectstore.FSBackend.Put", errs.Resource, "fsync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errs.E("objectstore.FSBackend.Put", errs.Resource, "close temp file", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return errs.E("objectstore.FSBackend.Put", errs.Resource, "rename into place", err)
	}
	return nil
}

func (f *FSBackend) Delete(ctx context.Context, key string) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return errs.E("objectstore.FSBackend.Delete", errs.Resource, "remove "+key, err)
	}
	return nil
}

func (f *FSBackend) Has(ctx context.Context, key string) (bool, error) {
	p, err := f.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errs.E("objectstore.FSBackend.Has", errs.Resource, "stat "+key, err)
	}
	return true, nil
}

func (f *FSBackend) List(ctx context.Context) ([]string, error) {
	var keys []string
	entries, err := os.ReadDir(f.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.E("objectstore.FSBackend.List", errs.Resource, "read objects dir", err)
	}
	for _, shard := range entries {
		if !shard.IsDir() {
			continue
		}
		inner, err := os.ReadDir(filepath.Join(f.root, shard.Name()))
		if err != nil {
			tlog.WarningLog.Printf("objectstore: list shard %s: %v", shard.Name(), err)
			continue
		}
		for _, f2 := range inner {
			if f2.IsDir() {
				continue
			}
			keys = append(keys, shard.Name()+f2.Name())
		}
	}
	sort.Strings(keys)
	return keys, nil
}

var _ Backend = (*FSBackend)(nil)
var _ Backend = (*Manager)(nil)
