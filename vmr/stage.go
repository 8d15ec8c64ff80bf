package vmr

import (
	"context"

	"github.com/thymos-ai/thymos/errs"
	"github.com/thymos-ai/thymos/objectstore"
)

// Stage applies ops to the workspace's staging index. For Add/Modify, the
// new content is written to the object store immediately (objects are
// immutable and content-addressed, so writing ahead of commit is safe) and
// the resolved blob hash is recorded in the index entry. The index
// itself is not versioned; it is a plain file cleared on Commit.
func (r *Repository) Stage(ctx context.Context, ws string, ops []StageOp) error {
	if len(ops) == 0 {
		return nil
	}
	target := r.resolveWorkspace(ws)
	unlock := r.wtLocks.lock(target.lockName())
	defer unlock()

	ix, err := r.loadIndex(target)
	if err != nil {
		return err
	}

	for _, op := range ops {
		if op.Key == "" {
			return errs.E("vmr.Stage", errs.Validation, "empty key in stage op")
		}
		entry := IndexEntry{Key: op.Key, Kind: op.Kind}
		if existing, ok := ix.Entries[op.Key]; ok {
			entry.OldBlobHash = existing.NewBlobHash
		}

		switch op.Kind {
		case OpAdd, OpModify:
			blob := &objectstore.MemoryBlob{Content: op.Content, Metadata: op.Metadata}
			h, err := r.store.PutBlob(ctx, blob)
			if err != nil {
				return errs.Wrap("vmr.Stage", errs.Resource, err)
			}
			entry.NewBlobHash = h
		case OpDelete:
			// NewBlobHash left zero; resolved against the base tree at commit time.
		default:
			return errs.E("vmr.Stage", errs.Validation, "invalid op kind for key "+op.Key)
		}
		ix.Entries[op.Key] = entry
	}

	logIndexSize(ix)
	return r.saveIndex(target, ix)
}

// ResetStage discards all pending staged operations in a workspace without
// committing them.
func (r *Repository) ResetStage(ctx context.Context, ws string) error {
	target := r.resolveWorkspace(ws)
	unlock := r.wtLocks.lock(target.lockName())
	defer unlock()
	return r.saveIndex(target, newIndex())
}

// StagedEntries returns a snapshot of the workspace's current staging index.
func (r *Repository) StagedEntries(ctx context.Context, ws string) ([]IndexEntry, error) {
	target := r.resolveWorkspace(ws)
	unlock := r.wtLocks.rlock(target.lockName())
	defer unlock()
	ix, err := r.loadIndex(target)
	if err != nil {
		return nil, err
	}
	out := make([]IndexEntry, 0, len(ix.Entries))
	for _, e := range ix.Entries {
		out = append(out, e)
	}
	return out, nil
}
