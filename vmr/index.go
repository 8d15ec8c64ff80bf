package vmr

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/thymos-ai/thymos/errs"
)

func (r *Repository) workspaceIndexPath(ws workspaceRef) string {
	if ws.worktreeDir == "" {
		return filepath.Join(r.root, "index")
	}
	return filepath.Join(ws.worktreeDir, "index")
}

func (r *Repository) loadIndex(ws workspaceRef) (*Index, error) {
	path := r.workspaceIndexPath(ws)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return newIndex(), nil
	}
	if err != nil {
		return nil, errs.E("vmr.loadIndex", errs.Resource, "read index", err)
	}
	var ix Index
	if err := json.Unmarshal(data, &ix); err != nil {
		return nil, errs.E("vmr.loadIndex", errs.Corruption, "decode index", err)
	}
	if ix.Entries == nil {
		ix.Entries = make(map[string]IndexEntry)
	}
	return &ix, nil
}

func (r *Repository) saveIndex(ws workspaceRef, ix *Index) error {
	path := r.workspaceIndexPath(ws)
	data, err := json.Marshal(ix)
	if err != nil {
		return errs.E("vmr.saveIndex", errs.Resource, "encode index", err)
	}
	return atomicWriteFile(path, data)
}
