package vmr

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/thymos-ai/thymos/errs"
)

// refStore persists branch pointers and HEAD using go-git's reference
// vocabulary (plumbing.ReferenceName, plumbing.Reference), mirroring git's
// own on-disk ref-file format: one hash-or-symbolic-ref per file, written
// atomically via temp-file-then-rename, matching §6.4's persistence layout.
type refStore struct {
	root string // repository root R
}

func newRefStore(root string) (*refStore, error) {
	if err := os.MkdirAll(filepath.Join(root, "refs", "heads"), 0o700); err != nil {
		return nil, errs.E("vmr.refStore", errs.Resource, "create refs dir", err)
	}
	return &refStore{root: root}, nil
}

func (rs *refStore) headsDir() string { return filepath.Join(rs.root, "refs", "heads") }

func (rs *refStore) branchPath(name string) string {
	return filepath.Join(rs.headsDir(), name)
}

func (rs *refStore) headPath(worktreeDir string) string {
	if worktreeDir == "" {
		return filepath.Join(rs.root, "HEAD")
	}
	return filepath.Join(worktreeDir, "HEAD")
}

func atomicWriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errs.E("vmr.refStore", errs.Resource, "mkdir", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-ref-*")
	if err != nil {
		return errs.E("vmr.refStore", errs.Resource, "create temp ref file", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return errs.E("vmr.refStore", errs.Resource, "write temp ref file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return errs.E("vmr.refStore", errs.Resource, "fsync temp ref file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return errs.E("vmr.refStore", errs.Resource, "close temp ref file", err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return errs.E("vmr.refStore", errs.Resource, "rename ref into place", err)
	}
	return nil
}

// setBranch writes refs/heads/<name> to point at hash.
func (rs *refStore) setBranch(name string, hash Hash) error {
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), hash)
	return atomicWriteFile(rs.branchPath(name), []byte(ref.Hash().String()+"\n"))
}

// getBranch reads the commit hash refs/heads/<name> points at.
func (rs *refStore) getBranch(name string) (Hash, error) {
	data, err := os.ReadFile(rs.branchPath(name))
	if os.IsNotExist(err) {
		return Hash{}, errs.E("vmr.refStore.getBranch", errs.NotFound, "branch "+name+" not found")
	}
	if err != nil {
		return Hash{}, errs.E("vmr.refStore.getBranch", errs.Resource, "read branch ref", err)
	}
	return parseHashLine(data)
}

func (rs *refStore) branchExists(name string) bool {
	_, err := os.Stat(rs.branchPath(name))
	return err == nil
}

func (rs *refStore) deleteBranch(name string) error {
	if err := os.Remove(rs.branchPath(name)); err != nil && !os.IsNotExist(err) {
		return errs.E("vmr.refStore.deleteBranch", errs.Resource, "remove branch ref", err)
	}
	return nil
}

func (rs *refStore) listBranches() ([]string, error) {
	entries, err := os.ReadDir(rs.headsDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.E("vmr.refStore.listBranches", errs.Resource, "read refs/heads", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// setHead points HEAD (of the main workspace, or a worktree if worktreeDir
// is non-empty) at a branch name (symbolic) or a detached commit hash.
func (rs *refStore) setHead(worktreeDir, branchName string, detached Hash) error {
	var line string
	if branchName != "" {
		line = "ref: " + string(plumbing.NewBranchReferenceName(branchName)) + "\n"
	} else {
		line = detached.String() + "\n"
	}
	return atomicWriteFile(rs.headPath(worktreeDir), []byte(line))
}

// resolveHead returns the branch name (empty if detached) and the commit
// hash currently checked out in the given workspace.
func (rs *refStore) resolveHead(worktreeDir string) (branchName string, commit Hash, err error) {
	data, readErr := os.ReadFile(rs.headPath(worktreeDir))
	if os.IsNotExist(readErr) {
		return "", Hash{}, errs.E("vmr.refStore.resolveHead", errs.NotFound, "HEAD not initialized")
	}
	if readErr != nil {
		return "", Hash{}, errs.E("vmr.refStore.resolveHead", errs.Resource, "read HEAD", readErr)
	}
	s := strings.TrimSpace(string(data))
	if strings.HasPrefix(s, "ref: ") {
		refName := plumbing.ReferenceName(strings.TrimPrefix(s, "ref: "))
		name := refName.Short()
		h, err := rs.getBranch(name)
		if err != nil {
			return name, Hash{}, err
		}
		return name, h, nil
	}
	h, err := parseHashLine([]byte(s))
	return "", h, err
}

func parseHashLine(data []byte) (Hash, error) {
	s := strings.TrimSpace(string(data))
	var h Hash
	if err := h.UnmarshalText([]byte(s)); err != nil {
		return Hash{}, errs.E("vmr.refStore", errs.Corruption, "malformed ref contents: "+s, err)
	}
	return h, nil
}
