package vmr

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/thymos-ai/thymos/errs"
	"github.com/thymos-ai/thymos/internal/tlog"
	"github.com/thymos-ai/thymos/objectstore"
)

// DefaultBranch is the branch an empty repository starts on, unborn until
// its first commit.
const DefaultBranch = "main"

// Repository is the Versioned Memory Repository: branch/commit/worktree
// state layered over an objectstore.Store.
type Repository struct {
	root  string
	store *objectstore.Store
	refs  *refStore

	branchLocks *lockTable
	wtLocks     *lockTable

	metaMu sync.Mutex // guards refs/meta.json and worktrees/worktrees.json on disk
}

// workspaceRef identifies one workspace: the main workspace (worktreeDir
// empty) or a specific worktree's directory.
type workspaceRef struct {
	id          string // "" for main
	worktreeDir string // "" for main
}

func mainWorkspace() workspaceRef { return workspaceRef{} }

func (r *Repository) worktreeWorkspace(id string) workspaceRef {
	return workspaceRef{id: id, worktreeDir: filepath.Join(r.root, "worktrees", id)}
}

// lockName is the name under which a workspace's mutation lock is tracked
// in wtLocks ("" is reserved for the main workspace).
func (ws workspaceRef) lockName() string {
	if ws.id == "" {
		return "__main__"
	}
	return ws.id
}

// Open initializes (or re-opens) a repository rooted at dir, backed by
// store for object persistence.
func Open(dir string, store *objectstore.Store) (*Repository, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errs.E("vmr.Open", errs.Resource, "create repository root", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "worktrees"), 0o700); err != nil {
		return nil, errs.E("vmr.Open", errs.Resource, "create worktrees dir", err)
	}
	refs, err := newRefStore(dir)
	if err != nil {
		return nil, err
	}

	r := &Repository{
		root:        dir,
		store:       store,
		refs:        refs,
		branchLocks: newLockTable(),
		wtLocks:     newLockTable(),
	}

	meta, err := r.loadBranchMeta()
	if err != nil {
		return nil, err
	}
	if _, ok := meta[DefaultBranch]; !ok {
		meta[DefaultBranch] = &branchMeta{CreatedAt: time.Now().UTC()}
		if err := r.saveBranchMeta(meta); err != nil {
			return nil, err
		}
	}
	if _, err := os.Stat(r.refs.headPath("")); os.IsNotExist(err) {
		if err := r.refs.setHead("", DefaultBranch, Hash{}); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// branchMeta is the implementation-internal sidecar tracking state
// (Unborn/Active/Merged/Deleted), description, and creation time — fields
// the git-style ref file format has no room for.
type branchMeta struct {
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Merged      bool      `json:"merged,omitempty"`
	Deleted     bool      `json:"deleted,omitempty"`
}

func (r *Repository) branchMetaPath() string { return filepath.Join(r.root, "refs", "meta.json") }

func (r *Repository) loadBranchMeta() (map[string]*branchMeta, error) {
	data, err := os.ReadFile(r.branchMetaPath())
	if os.IsNotExist(err) {
		return make(map[string]*branchMeta), nil
	}
	if err != nil {
		return nil, errs.E("vmr.loadBranchMeta", errs.Resource, "read branch metadata", err)
	}
	var meta map[string]*branchMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errs.E("vmr.loadBranchMeta", errs.Corruption, "decode branch metadata", err)
	}
	return meta, nil
}

func (r *Repository) saveBranchMeta(meta map[string]*branchMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return errs.E("vmr.saveBranchMeta", errs.Resource, "encode branch metadata", err)
	}
	return atomicWriteFile(r.branchMetaPath(), data)
}

// branchState derives the §4.2.6 state machine value for a branch.
func (r *Repository) branchState(name string, m *branchMeta) BranchState {
	if m.Deleted {
		return BranchDeleted
	}
	if !r.refs.branchExists(name) {
		return BranchUnborn
	}
	if m.Merged {
		return BranchMerged
	}
	return BranchActive
}

// CreateBranch creates a new branch pointing at fromCommit, or at the
// caller's current HEAD commit if fromCommit is the zero hash.
func (r *Repository) CreateBranch(ctx context.Context, ws string, name, description string, fromCommit Hash) error {
	if name == "" || !isValidBranchName(name) {
		return errs.E("vmr.CreateBranch", errs.Validation, "invalid branch name: "+name)
	}

	r.metaMu.Lock()
	defer r.metaMu.Unlock()

	meta, err := r.loadBranchMeta()
	if err != nil {
		return err
	}
	if existing, ok := meta[name]; ok && !existing.Deleted {
		return errs.E("vmr.CreateBranch", errs.Validation, "branch already exists: "+name)
	}

	meta[name] = &branchMeta{Description: description, CreatedAt: time.Now().UTC()}
	if err := r.saveBranchMeta(meta); err != nil {
		return err
	}

	if fromCommit != (Hash{}) {
		unlock := r.branchLocks.lock(name)
		defer unlock()
		if err := r.refs.setBranch(name, fromCommit); err != nil {
			return err
		}
	} else {
		// Point at current HEAD commit of the requesting workspace, if any.
		_, head, err := r.resolveWorkspaceHead(r.resolveWorkspace(ws))
		if err == nil && head != (Hash{}) {
			unlock := r.branchLocks.lock(name)
			defer unlock()
			if err := r.refs.setBranch(name, head); err != nil {
				return err
			}
		}
		// Otherwise the branch is created Unborn, matching an empty repo.
	}
	return nil
}

// DeleteBranch removes a branch. Deleting the active branch of any
// workspace is forbidden unless force is set.
func (r *Repository) DeleteBranch(ctx context.Context, name string, force bool) error {
	r.metaMu.Lock()
	defer r.metaMu.Unlock()

	meta, err := r.loadBranchMeta()
	if err != nil {
		return err
	}
	m, ok := meta[name]
	if !ok || m.Deleted {
		return errs.E("vmr.DeleteBranch", errs.NotFound, "branch not found: "+name)
	}

	if !force {
		active, err := r.isBranchActiveAnywhere(name)
		if err != nil {
			return err
		}
		if active {
			return errs.E("vmr.DeleteBranch", errs.Validation, "active branch protected: "+name)
		}
	}

	unlock := r.branchLocks.lock(name)
	defer unlock()

	if err := r.refs.deleteBranch(name); err != nil {
		return err
	}
	m.Deleted = true
	return r.saveBranchMeta(meta)
}

func (r *Repository) isBranchActiveAnywhere(name string) (bool, error) {
	mainBranch, _, err := r.refs.resolveHead("")
	if err == nil && mainBranch == name {
		return true, nil
	}
	worktrees, err := r.listWorktreeMeta()
	if err != nil {
		return false, err
	}
	for _, wt := range worktrees {
		if wt.Branch == name {
			return true, nil
		}
	}
	return false, nil
}

// ListBranches returns every non-deleted branch.
func (r *Repository) ListBranches(ctx context.Context) ([]Branch, error) {
	meta, err := r.loadBranchMeta()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(meta))
	for name := range meta {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Branch
	for _, name := range names {
		m := meta[name]
		if m.Deleted {
			continue
		}
		b := Branch{Name: name, Description: m.Description, CreatedAt: m.CreatedAt, State: r.branchState(name, m)}
		if h, err := r.refs.getBranch(name); err == nil {
			b.CommitHash = h
		}
		out = append(out, b)
	}
	return out, nil
}

// GetLastCommit returns the tip commit of name.
func (r *Repository) GetLastCommit(ctx context.Context, name string) (*objectstore.Commit, error) {
	unlock := r.branchLocks.rlock(name)
	defer unlock()
	h, err := r.refs.getBranch(name)
	if err != nil {
		return nil, err
	}
	return r.store.GetCommit(ctx, h)
}

// ListCommitsBetween returns commits reachable from b's ancestry but not
// a's, i.e. the commits a caller would describe as "a..b" — walked via
// full parent sets (not just first-parent) and returned oldest-first.
func (r *Repository) ListCommitsBetween(ctx context.Context, a, b Hash) ([]*objectstore.Commit, error) {
	excluded, err := r.ancestorSet(ctx, a)
	if err != nil {
		return nil, err
	}
	excluded[a] = true

	var out []*objectstore.Commit
	visited := map[Hash]bool{}
	var walk func(h Hash) error
	walk = func(h Hash) error {
		if h == (Hash{}) || visited[h] || excluded[h] {
			return nil
		}
		visited[h] = true
		c, err := r.store.GetCommit(ctx, h)
		if err != nil {
			return err
		}
		out = append(out, c)
		for _, p := range c.Parents {
			if err := walk(p); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(b); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// ancestorSet returns every commit hash reachable from h, including h
// itself (empty for the zero hash).
func (r *Repository) ancestorSet(ctx context.Context, h Hash) (map[Hash]bool, error) {
	set := map[Hash]bool{}
	if h == (Hash{}) {
		return set, nil
	}
	var walk func(h Hash) error
	walk = func(h Hash) error {
		if h == (Hash{}) || set[h] {
			return nil
		}
		set[h] = true
		c, err := r.store.GetCommit(ctx, h)
		if err != nil {
			return err
		}
		for _, p := range c.Parents {
			if err := walk(p); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(h); err != nil {
		return nil, err
	}
	return set, nil
}

func (r *Repository) resolveWorkspace(ws string) workspaceRef {
	if ws == "" {
		return mainWorkspace()
	}
	return r.worktreeWorkspace(ws)
}

// resolveWorkspaceHead returns the branch name (empty if detached) and
// current commit hash for a workspace.
func (r *Repository) resolveWorkspaceHead(ws workspaceRef) (branchName string, commit Hash, err error) {
	return r.refs.resolveHead(ws.worktreeDir)
}

// ResolveWorkspaceBranch is the public form of resolveWorkspaceHead,
// accepting a workspace id ("" for the main workspace) rather than an
// internal workspaceRef. It is the entry point callers outside this
// package (notably the lifecycle engine) use to learn which branch a
// workspace is tracking before they peek at its prospective tree.
func (r *Repository) ResolveWorkspaceBranch(ctx context.Context, ws string) (branchName string, commit Hash, err error) {
	return r.resolveWorkspaceHead(r.resolveWorkspace(ws))
}

func isValidBranchName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	for _, r := range name {
		switch {
		case r == ' ' || r == '\t' || r == '\n':
			return false
		case r == ':' || r == '~' || r == '^' || r == '?' || r == '*' || r == '[' || r == '\\':
			return false
		}
	}
	return true
}

func logIndexSize(ix *Index) {
	if len(ix.Entries) > 0 {
		tlog.InfoLog.Printf("vmr: index has %d staged entries", len(ix.Entries))
	}
}
