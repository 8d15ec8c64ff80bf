package objectstore

import (
	"context"
	"io"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	car "github.com/ipld/go-car"
	carutil "github.com/ipld/go-car/util"
	mh "github.com/multiformats/go-multihash"
	"github.com/thymos-ai/thymos/errs"
)

// blockCID derives a CIDv1 (raw codec, SHA-256 multihash) for a stored
// object's framed bytes. This is a transfer-format-only addressing scheme:
// it exists so a bundle can interoperate with IPLD tooling, and is
// independent of the SHA-1 Hash used inside the repository itself.
func blockCID(framed []byte) (cid.Cid, error) {
	sum, err := mh.Sum(framed, mh.SHA2_256, -1)
	if err != nil {
		return cid.Undef, errs.E("objectstore.blockCID", errs.Resource, "compute multihash", err)
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// reachable walks the object graph from roots (assumed to be commit
// hashes), returning every reachable commit, tree, and blob hash.
func (s *Store) reachable(ctx context.Context, roots []Hash) ([]Hash, error) {
	seen := make(map[Hash]bool)
	var order []Hash
	var walk func(h Hash) error
	walk = func(h Hash) error {
		if seen[h] {
			return nil
		}
		seen[h] = true
		order = append(order, h)

		c, err := s.GetCommit(ctx, h)
		if err != nil {
			return err
		}
		tree, err := s.GetTree(ctx, c.Tree)
		if err != nil {
			return err
		}
		if !seen[tree.ID] {
			seen[tree.ID] = true
			order = append(order, tree.ID)
		}
		for _, e := range tree.Entries {
			if !seen[e.BlobHash] {
				seen[e.BlobHash] = true
				order = append(order, e.BlobHash)
			}
		}
		for _, p := range c.Parents {
			if err := walk(p); err != nil {
				return err
			}
		}
		return nil
	}
	for _, r := range roots {
		if err := walk(r); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// ExportBundle writes a CARv1 archive of every object reachable from roots
// (which must be commit hashes) to w, for backup or migration of a
// repository or worktree between repository roots.
func (s *Store) ExportBundle(ctx context.Context, roots []Hash, w io.Writer) error {
	hashes, err := s.reachable(ctx, roots)
	if err != nil {
		return errs.Wrap("objectstore.Store.ExportBundle", errs.NotFound, err)
	}

	rootCIDs := make([]cid.Cid, 0, len(roots))
	framedByHash := make(map[Hash][]byte, len(hashes))
	cidByHash := make(map[Hash]cid.Cid, len(hashes))
	for _, h := range hashes {
		framed, err := s.GetRaw(ctx, h)
		if err != nil {
			return err
		}
		c, err := blockCID(framed)
		if err != nil {
			return err
		}
		framedByHash[h] = framed
		cidByHash[h] = c
	}
	for _, r := range roots {
		c, ok := cidByHash[r]
		if !ok {
			return errs.E("objectstore.Store.ExportBundle", errs.NotFound, "root not reachable: "+r.String())
		}
		rootCIDs = append(rootCIDs, c)
	}

	header := &car.CarHeader{Roots: rootCIDs, Version: 1}
	if err := car.WriteHeader(header, w); err != nil {
		return errs.E("objectstore.Store.ExportBundle", errs.Resource, "write car header", err)
	}
	for _, h := range hashes {
		c := cidByHash[h]
		if err := carutil.LdWrite(w, c.Bytes(), framedByHash[h]); err != nil {
			return errs.E("objectstore.Store.ExportBundle", errs.Resource, "write block "+h.String(), err)
		}
	}
	return nil
}

// ImportBundle reads a CARv1 archive produced by ExportBundle and writes
// every block back into the store, verifying each block's declared CID
// against its content before re-deriving and storing under this store's
// native Hash. Returns the commit hashes the bundle declared as roots.
func (s *Store) ImportBundle(ctx context.Context, r io.Reader) ([]Hash, error) {
	cr, err := car.NewCarReader(r)
	if err != nil {
		return nil, errs.E("objectstore.Store.ImportBundle", errs.Corruption, "read car header", err)
	}

	cidToHash := make(map[cid.Cid]Hash)
	for {
		blk, err := cr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.E("objectstore.Store.ImportBundle", errs.Corruption, "read car block", err)
		}
		if err := verifyBlock(blk); err != nil {
			return nil, err
		}
		h, err := s.PutRaw(ctx, blk.RawData())
		if err != nil {
			return nil, err
		}
		cidToHash[blk.Cid()] = h
	}

	roots := make([]Hash, 0, len(cr.Header.Roots))
	for _, rc := range cr.Header.Roots {
		h, ok := cidToHash[rc]
		if !ok {
			return nil, errs.E("objectstore.Store.ImportBundle", errs.Corruption, "declared root not present in archive")
		}
		roots = append(roots, h)
	}
	return roots, nil
}

func verifyBlock(blk blocks.Block) error {
	want, err := blockCID(blk.RawData())
	if err != nil {
		return err
	}
	if want != blk.Cid() {
		return errs.E("objectstore.verifyBlock", errs.Corruption, "block content does not hash to its declared CID")
	}
	return nil
}
