package lifecycle

import (
	"context"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/thymos-ai/thymos/errs"
	"github.com/thymos-ai/thymos/objectstore"
	"github.com/thymos-ai/thymos/vmr"
)

// scopeKeyPrefix is the reserved tree subkey namespace scope definitions
// live under, per §4.3.1/§4.4's "_scopes/<name>" persistence choice.
const scopeKeyPrefix = "_scopes/"

func scopeKey(name string) string { return scopeKeyPrefix + name }

// Registry is the scope registry, backed by ordinary VMR commits: every
// define_scope is itself a versioned memory change, so scope history rides
// on the same branch/commit/merge machinery as memories do.
type Registry struct {
	repo  *vmr.Repository
	store *objectstore.Store
}

// NewRegistry wraps repo/store with scope registry operations.
func NewRegistry(repo *vmr.Repository, store *objectstore.Store) *Registry {
	return &Registry{repo: repo, store: store}
}

// DefineScope inserts or updates a scope's configuration, committing the
// change immediately (scope changes are versioned, not staged alongside
// unrelated memory edits).
func (r *Registry) DefineScope(ctx context.Context, ws string, cfg ScopeConfig, author string) error {
	if cfg.Name == "" {
		return errs.E("lifecycle.DefineScope", errs.Validation, "scope name required")
	}
	if cfg.SearchWeight < 0 || cfg.SearchWeight > 1 {
		return errs.E("lifecycle.DefineScope", errs.Validation, "search_weight must be in [0,1]")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errs.Wrap("lifecycle.DefineScope", errs.Validation, err)
	}
	if err := r.repo.Stage(ctx, ws, []vmr.StageOp{
		{Key: scopeKey(cfg.Name), Kind: vmr.OpModify, Content: data},
	}); err != nil {
		return err
	}
	_, err = r.repo.Commit(ctx, ws, vmr.CommitOpts{Author: author, Message: "define scope " + cfg.Name})
	return err
}

// GetScope reads a scope's configuration from branch's current tip.
// Missing scopes resolve to nil (caller falls back to "default").
func (r *Registry) GetScope(ctx context.Context, branch, name string) (*ScopeConfig, error) {
	tree, err := r.treeAtBranchTip(ctx, branch)
	if err != nil {
		return nil, err
	}
	if tree == nil {
		return nil, nil
	}
	h, ok := tree.Lookup(scopeKey(name))
	if !ok {
		return nil, nil
	}
	blob, err := r.store.GetBlob(ctx, h)
	if err != nil {
		return nil, err
	}
	var cfg ScopeConfig
	if err := yaml.Unmarshal(blob.Content, &cfg); err != nil {
		return nil, errs.E("lifecycle.GetScope", errs.Corruption, "decode scope config for "+name, err)
	}
	return &cfg, nil
}

// ResolveScope returns the effective configuration for a memory's scope
// tag: the registered scope if it exists, otherwise "default" semantics,
// per §3's scope-tag resolution rule.
func (r *Registry) ResolveScope(ctx context.Context, branch, name string) (ScopeConfig, error) {
	if name == "" {
		name = DefaultScopeName
	}
	cfg, err := r.GetScope(ctx, branch, name)
	if err != nil {
		return ScopeConfig{}, err
	}
	if cfg != nil {
		return *cfg, nil
	}
	def := DefaultScopeConfig()
	def.Name = name
	return def, nil
}

// ListScopes returns every scope defined at branch's current tip.
func (r *Registry) ListScopes(ctx context.Context, branch string) ([]ScopeConfig, error) {
	tree, err := r.treeAtBranchTip(ctx, branch)
	if err != nil {
		return nil, err
	}
	if tree == nil {
		return nil, nil
	}
	var out []ScopeConfig
	for _, e := range tree.Entries {
		if !strings.HasPrefix(e.Key, scopeKeyPrefix) {
			continue
		}
		blob, err := r.store.GetBlob(ctx, e.BlobHash)
		if err != nil {
			return nil, err
		}
		var cfg ScopeConfig
		if err := yaml.Unmarshal(blob.Content, &cfg); err != nil {
			return nil, errs.E("lifecycle.ListScopes", errs.Corruption, "decode scope config", err)
		}
		out = append(out, cfg)
	}
	return out, nil
}

// DeleteScope removes a scope's configuration, refusing if any live memory
// at branch's tip still references it (per §4.3.1).
func (r *Registry) DeleteScope(ctx context.Context, ws, branch, name string, author string) error {
	if name == DefaultScopeName {
		return errs.E("lifecycle.DeleteScope", errs.Validation, "default scope cannot be deleted")
	}
	referenced, err := r.scopeReferenced(ctx, branch, name)
	if err != nil {
		return err
	}
	if referenced {
		return errs.E("lifecycle.DeleteScope", errs.Validation, "scope "+name+" still referenced by live memories")
	}
	if err := r.repo.Stage(ctx, ws, []vmr.StageOp{{Key: scopeKey(name), Kind: vmr.OpDelete}}); err != nil {
		return err
	}
	_, err = r.repo.Commit(ctx, ws, vmr.CommitOpts{Author: author, Message: "delete scope " + name})
	return err
}

func (r *Registry) scopeReferenced(ctx context.Context, branch, name string) (bool, error) {
	tree, err := r.treeAtBranchTip(ctx, branch)
	if err != nil {
		return false, err
	}
	if tree == nil {
		return false, nil
	}
	for _, e := range tree.Entries {
		if strings.HasPrefix(e.Key, scopeKeyPrefix) {
			continue
		}
		blob, err := r.store.GetBlob(ctx, e.BlobHash)
		if err != nil {
			return false, err
		}
		if scopeOf(blob.Metadata) == name {
			return true, nil
		}
	}
	return false, nil
}

func (r *Registry) treeAtBranchTip(ctx context.Context, branch string) (*objectstore.MemoryTree, error) {
	commit, err := r.repo.GetLastCommit(ctx, branch)
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			return nil, nil // branch unborn, no tree yet
		}
		return nil, err
	}
	return r.store.GetTree(ctx, commit.Tree)
}

// scopeOf extracts the "scope" metadata key, defaulting to "default".
func scopeOf(metadata map[string]any) string {
	if metadata == nil {
		return DefaultScopeName
	}
	if v, ok := metadata["scope"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return DefaultScopeName
}
