package vmr

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/thymos-ai/thymos/errs"
)

// worktreeRecord is the persisted metadata for a worktree, held in
// worktrees.json. Commit is the worktree's cached base: the commit it last
// synced with its branch, checked for staleness at Commit time.
type worktreeRecord struct {
	ID          string    `json:"id"`
	Branch      string    `json:"branch"`
	Commit      Hash      `json:"commit"`
	StoragePath string    `json:"storage_path"`
	AgentID     string    `json:"agent_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (r *Repository) worktreesMetaPath() string {
	return filepath.Join(r.root, "worktrees", "worktrees.json")
}

func (r *Repository) listWorktreeMeta() (map[string]*worktreeRecord, error) {
	data, err := os.ReadFile(r.worktreesMetaPath())
	if os.IsNotExist(err) {
		return make(map[string]*worktreeRecord), nil
	}
	if err != nil {
		return nil, errs.E("vmr.listWorktreeMeta", errs.Resource, "read worktrees metadata", err)
	}
	var m map[string]*worktreeRecord
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errs.E("vmr.listWorktreeMeta", errs.Corruption, "decode worktrees metadata", err)
	}
	return m, nil
}

func (r *Repository) saveWorktreeMeta(m map[string]*worktreeRecord) error {
	data, err := json.Marshal(m)
	if err != nil {
		return errs.E("vmr.saveWorktreeMeta", errs.Resource, "encode worktrees metadata", err)
	}
	return atomicWriteFile(r.worktreesMetaPath(), data)
}

// CreateWorktree creates a new isolated working copy checked out at
// branch's current tip (or a specific commit, if pinned is non-zero).
func (r *Repository) CreateWorktree(ctx context.Context, branch, agentID string, pinned Hash) (*Worktree, error) {
	r.metaMu.Lock()
	defer r.metaMu.Unlock()

	base := pinned
	if base == (Hash{}) {
		unlock := r.branchLocks.rlock(branch)
		h, err := r.refs.getBranch(branch)
		unlock()
		if err != nil && !errs.Is(err, errs.NotFound) {
			return nil, err
		}
		// NotFound means branch is still Unborn; the worktree starts empty.
		base = h
	}

	id := uuid.NewString()
	ws := r.worktreeWorkspace(id)
	if err := os.MkdirAll(ws.worktreeDir, 0o700); err != nil {
		return nil, errs.E("vmr.CreateWorktree", errs.Resource, "create worktree directory", err)
	}
	if err := r.refs.setHead(ws.worktreeDir, branch, Hash{}); err != nil {
		return nil, err
	}

	rec := &worktreeRecord{
		ID:          id,
		Branch:      branch,
		Commit:      base,
		StoragePath: ws.worktreeDir,
		AgentID:     agentID,
		CreatedAt:   time.Now().UTC(),
	}
	meta, err := r.listWorktreeMeta()
	if err != nil {
		return nil, err
	}
	meta[id] = rec
	if err := r.saveWorktreeMeta(meta); err != nil {
		return nil, err
	}
	return toWorktree(rec), nil
}

func toWorktree(rec *worktreeRecord) *Worktree {
	return &Worktree{
		ID:          rec.ID,
		Branch:      rec.Branch,
		Commit:      rec.Commit,
		StoragePath: rec.StoragePath,
		AgentID:     rec.AgentID,
		CreatedAt:   rec.CreatedAt,
	}
}

// GetWorktree returns metadata for worktree id.
func (r *Repository) GetWorktree(ctx context.Context, id string) (*Worktree, error) {
	meta, err := r.listWorktreeMeta()
	if err != nil {
		return nil, err
	}
	rec, ok := meta[id]
	if !ok {
		return nil, errs.E("vmr.GetWorktree", errs.NotFound, "worktree not found: "+id)
	}
	return toWorktree(rec), nil
}

// ListWorktrees returns all live worktrees.
func (r *Repository) ListWorktrees(ctx context.Context) ([]*Worktree, error) {
	meta, err := r.listWorktreeMeta()
	if err != nil {
		return nil, err
	}
	out := make([]*Worktree, 0, len(meta))
	for _, rec := range meta {
		out = append(out, toWorktree(rec))
	}
	return out, nil
}

// WorktreeHasUncommittedChanges reports whether a worktree has a non-empty
// staging index, per §8.3's removal-safety requirement.
func (r *Repository) WorktreeHasUncommittedChanges(ctx context.Context, id string) (bool, error) {
	ix, err := r.loadIndex(r.worktreeWorkspace(id))
	if err != nil {
		return false, err
	}
	return len(ix.Entries) > 0, nil
}

// RemoveWorktree deletes a worktree's workspace directory and metadata.
// Uncommitted staged changes block removal unless force is set.
func (r *Repository) RemoveWorktree(ctx context.Context, id string, force bool) error {
	if !force {
		dirty, err := r.WorktreeHasUncommittedChanges(ctx, id)
		if err != nil {
			return err
		}
		if dirty {
			return errs.E("vmr.RemoveWorktree", errs.Validation, "worktree has uncommitted changes: "+id)
		}
	}

	r.metaMu.Lock()
	defer r.metaMu.Unlock()

	meta, err := r.listWorktreeMeta()
	if err != nil {
		return err
	}
	rec, ok := meta[id]
	if !ok {
		return errs.E("vmr.RemoveWorktree", errs.NotFound, "worktree not found: "+id)
	}

	unlock := r.wtLocks.lock(id)
	defer unlock()

	if err := os.RemoveAll(rec.StoragePath); err != nil {
		return errs.E("vmr.RemoveWorktree", errs.Resource, "remove worktree directory", err)
	}
	delete(meta, id)
	return r.saveWorktreeMeta(meta)
}
