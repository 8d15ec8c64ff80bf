package objectstore

import (
	"context"

	"github.com/thymos-ai/thymos/errs"
)

// Store is the Object Store: durable, content-addressed storage for blobs,
// trees, and commits, fronted by a Backend (typically a Manager composing
// an FSBackend with optional fallback and cache layers).
type Store struct {
	backend Backend
}

// New constructs a Store over the given backend.
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// put computes the hash of (kind, canonical_bytes), writes the framed bytes
// if not already present, and returns the hash. Idempotent by construction.
func (s *Store) put(ctx context.Context, kind Kind, canonical []byte) (Hash, error) {
	framed := frame(kind, canonical)
	h := hashFrame(framed)
	key := h.String()

	exists, err := s.backend.Has(ctx, key)
	if err != nil {
		return Hash{}, errs.Wrap("objectstore.Store.put", errs.Resource, err)
	}
	if exists {
		return h, nil
	}
	if err := s.backend.Put(ctx, key, framed); err != nil {
		return Hash{}, err
	}
	return h, nil
}

// get retrieves the framed bytes for hash, verifies the hash, and returns
// the kind and canonical payload.
func (s *Store) get(ctx context.Context, h Hash) (Kind, []byte, error) {
	key := h.String()
	framed, err := s.backend.Get(ctx, key)
	if err != nil {
		return 0, nil, err
	}
	kind, canonical, err := unframe("objectstore.Store.get", framed)
	if err != nil {
		return 0, nil, err
	}
	if got := hashFrame(framed); got != h {
		return 0, nil, errs.E("objectstore.Store.get", errs.Corruption,
			"object "+h.String()+" hashes to "+got.String())
	}
	return kind, canonical, nil
}

// Exists reports whether hash is present.
func (s *Store) Exists(ctx context.Context, h Hash) (bool, error) {
	ok, err := s.backend.Has(ctx, h.String())
	if err != nil {
		return false, errs.Wrap("objectstore.Store.Exists", errs.Resource, err)
	}
	return ok, nil
}

// Iter returns every hash currently stored whose frame kind matches kind.
// It is a finite, point-in-time snapshot, not restartable across a crash.
func (s *Store) Iter(ctx context.Context, kind Kind) ([]Hash, error) {
	keys, err := s.backend.List(ctx)
	if err != nil {
		return nil, errs.Wrap("objectstore.Store.Iter", errs.Resource, err)
	}
	var out []Hash
	for _, key := range keys {
		framed, err := s.backend.Get(ctx, key)
		if err != nil {
			continue
		}
		if len(framed) == 0 || Kind(framed[0]) != kind {
			continue
		}
		var h Hash
		if err := h.UnmarshalText([]byte(key)); err != nil {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

// GetRaw returns the framed bytes stored under hash, verifying integrity.
// Used by bundle export, which moves whole frames rather than decoding them.
func (s *Store) GetRaw(ctx context.Context, h Hash) ([]byte, error) {
	key := h.String()
	framed, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if got := hashFrame(framed); got != h {
		return nil, errs.E("objectstore.Store.GetRaw", errs.Corruption,
			"object "+h.String()+" hashes to "+got.String())
	}
	return framed, nil
}

// PutRaw stores framed bytes produced elsewhere (e.g. bundle import) under
// the hash computed from the frame, and returns that hash.
func (s *Store) PutRaw(ctx context.Context, framed []byte) (Hash, error) {
	h := hashFrame(framed)
	exists, err := s.backend.Has(ctx, h.String())
	if err != nil {
		return Hash{}, errs.Wrap("objectstore.Store.PutRaw", errs.Resource, err)
	}
	if exists {
		return h, nil
	}
	if err := s.backend.Put(ctx, h.String(), framed); err != nil {
		return Hash{}, err
	}
	return h, nil
}

// PutBlob stores a MemoryBlob and returns (and sets) its ID.
func (s *Store) PutBlob(ctx context.Context, b *MemoryBlob) (Hash, error) {
	h, err := s.put(ctx, KindBlob, b.canonicalBytes())
	if err != nil {
		return Hash{}, err
	}
	b.ID = h
	return h, nil
}

// GetBlob retrieves and decodes a MemoryBlob by hash.
func (s *Store) GetBlob(ctx context.Context, h Hash) (*MemoryBlob, error) {
	kind, canonical, err := s.get(ctx, h)
	if err != nil {
		return nil, err
	}
	if kind != KindBlob {
		return nil, errs.E("objectstore.Store.GetBlob", errs.Corruption, "object is not a blob")
	}
	var cb canonicalBlob
	if err := decodeJSON(canonical, &cb); err != nil {
		return nil, errs.E("objectstore.Store.GetBlob", errs.Corruption, "decode blob", err)
	}
	ts, err := parseTime(cb.CreatedAt)
	if err != nil {
		return nil, errs.E("objectstore.Store.GetBlob", errs.Corruption, "decode blob timestamp", err)
	}
	return &MemoryBlob{ID: h, Content: cb.Content, Metadata: cb.Metadata, CreatedAt: ts}, nil
}

// PutTree stores a MemoryTree and returns (and sets) its ID.
func (s *Store) PutTree(ctx context.Context, t *MemoryTree) (Hash, error) {
	h, err := s.put(ctx, KindTree, t.canonicalBytes())
	if err != nil {
		return Hash{}, err
	}
	t.ID = h
	return h, nil
}

// GetTree retrieves and decodes a MemoryTree by hash.
func (s *Store) GetTree(ctx context.Context, h Hash) (*MemoryTree, error) {
	kind, canonical, err := s.get(ctx, h)
	if err != nil {
		return nil, err
	}
	if kind != KindTree {
		return nil, errs.E("objectstore.Store.GetTree", errs.Corruption, "object is not a tree")
	}
	var entries []canonicalTreeEntry
	if err := decodeJSON(canonical, &entries); err != nil {
		return nil, errs.E("objectstore.Store.GetTree", errs.Corruption, "decode tree", err)
	}
	out := &MemoryTree{ID: h, Entries: make([]TreeEntry, len(entries))}
	for i, e := range entries {
		var bh Hash
		if err := bh.UnmarshalText([]byte(e.BlobHash)); err != nil {
			return nil, errs.E("objectstore.Store.GetTree", errs.Corruption, "decode tree entry hash", err)
		}
		out.Entries[i] = TreeEntry{Key: e.Key, BlobHash: bh}
	}
	return out, nil
}

// PutCommit stores a Commit and returns (and sets) its Hash.
func (s *Store) PutCommit(ctx context.Context, c *Commit) (Hash, error) {
	h, err := s.put(ctx, KindCommit, c.canonicalBytes())
	if err != nil {
		return Hash{}, err
	}
	c.Hash = h
	return h, nil
}

// GetCommit retrieves and decodes a Commit by hash.
func (s *Store) GetCommit(ctx context.Context, h Hash) (*Commit, error) {
	kind, canonical, err := s.get(ctx, h)
	if err != nil {
		return nil, err
	}
	if kind != KindCommit {
		return nil, errs.E("objectstore.Store.GetCommit", errs.Corruption, "object is not a commit")
	}
	var cc canonicalCommit
	if err := decodeJSON(canonical, &cc); err != nil {
		return nil, errs.E("objectstore.Store.GetCommit", errs.Corruption, "decode commit", err)
	}
	parents := make([]Hash, len(cc.Parents))
	for i, p := range cc.Parents {
		if err := parents[i].UnmarshalText([]byte(p)); err != nil {
			return nil, errs.E("objectstore.Store.GetCommit", errs.Corruption, "decode parent hash", err)
		}
	}
	var tree Hash
	if err := tree.UnmarshalText([]byte(cc.Tree)); err != nil {
		return nil, errs.E("objectstore.Store.GetCommit", errs.Corruption, "decode tree hash", err)
	}
	ts, err := parseTime(cc.Timestamp)
	if err != nil {
		return nil, errs.E("objectstore.Store.GetCommit", errs.Corruption, "decode commit timestamp", err)
	}
	return &Commit{
		Hash:          h,
		Parents:       parents,
		Author:        cc.Author,
		Timestamp:     ts,
		Message:       cc.Message,
		Tree:          tree,
		ChangeSummary: cc.ChangeSummary,
	}, nil
}
