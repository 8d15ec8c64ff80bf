// Package objectstore implements the content-addressed, immutable object
// store underlying the versioned memory repository: blobs, trees, and
// commits, each identified by a hash of their canonical encoding.
package objectstore

import (
	"bytes"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/thymos-ai/thymos/errs"
)

// Hash is the canonical object identifier. It reuses go-git's Hash type
// (20-byte SHA-1) so the versioned memory repository's ref files can speak
// the same hex vocabulary git itself uses.
type Hash = plumbing.Hash

// ZeroHash is the hash of no object.
var ZeroHash = plumbing.ZeroHash

// Kind distinguishes the three object shapes the store persists. It is
// folded into the hash (as a one-byte frame prefix) so blob, tree, and
// commit namespaces never collide even on identical canonical bytes.
type Kind byte

const (
	KindBlob Kind = 'b'
	KindTree Kind = 't'
	KindCommit Kind = 'c'
)

func (k Kind) String() string {
	switch k {
	case KindBlob:
		return "blob"
	case KindTree:
		return "tree"
	case KindCommit:
		return "commit"
	default:
		return fmt.Sprintf("kind(%#x)", byte(k))
	}
}

// MemoryBlob is an immutable unit of content plus structured metadata.
type MemoryBlob struct {
	ID        Hash           `json:"-"`
	Content   []byte         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// canonicalBlob excludes ID (the hash can't cover itself) and normalizes
// the timestamp to RFC3339Nano so re-encoding is bit-identical.
type canonicalBlob struct {
	Content   []byte         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at"`
}

func (b *MemoryBlob) canonicalBytes() []byte {
	cb := canonicalBlob{
		Content:   b.Content,
		Metadata:  b.Metadata,
		CreatedAt: b.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	// json.Marshal emits map keys sorted lexicographically, which combined
	// with struct-declaration field order gives a stable byte encoding.
	buf, err := json.Marshal(cb)
	if err != nil {
		panic(fmt.Sprintf("objectstore: marshal canonical blob: %v", err))
	}
	return buf
}

// TreeEntry is one (logical key -> blob hash) mapping within a MemoryTree.
type TreeEntry struct {
	Key      string `json:"key"`
	BlobHash Hash   `json:"blob_hash"`
}

// MemoryTree is an ordered mapping from stable logical key to blob hash,
// representing the full memory set visible at some revision.
type MemoryTree struct {
	ID      Hash        `json:"-"`
	Entries []TreeEntry `json:"entries"`
}

// sortEntries sorts entries in place by key, which is also the canonical order.
func (t *MemoryTree) sortEntries() {
	sort.Slice(t.Entries, func(i, j int) bool { return t.Entries[i].Key < t.Entries[j].Key })
}

// Lookup returns the blob hash for key, if present.
func (t *MemoryTree) Lookup(key string) (Hash, bool) {
	for _, e := range t.Entries {
		if e.Key == key {
			return e.BlobHash, true
		}
	}
	return Hash{}, false
}

type canonicalTreeEntry struct {
	Key      string `json:"key"`
	BlobHash string `json:"blob_hash"`
}

func (t *MemoryTree) canonicalBytes() []byte {
	t.sortEntries()
	entries := make([]canonicalTreeEntry, len(t.Entries))
	for i, e := range t.Entries {
		entries[i] = canonicalTreeEntry{Key: e.Key, BlobHash: e.BlobHash.String()}
	}
	buf, err := json.Marshal(entries)
	if err != nil {
		panic(fmt.Sprintf("objectstore: marshal canonical tree: %v", err))
	}
	return buf
}

// ChangeSummary records what a commit changed relative to its first parent,
// at logical-key granularity.
type ChangeSummary struct {
	Added          []string `json:"added,omitempty"`
	Modified       []string `json:"modified,omitempty"`
	Deleted        []string `json:"deleted,omitempty"`
	ConceptsChanged []string `json:"concepts_changed,omitempty"`
}

// Commit is a snapshot of a tree plus parent linkage and authorship.
type Commit struct {
	Hash          Hash          `json:"-"`
	Parents       []Hash        `json:"parents"`
	Author        string        `json:"author"`
	Timestamp     time.Time     `json:"timestamp"`
	Message       string        `json:"message"`
	Tree          Hash          `json:"tree"`
	ChangeSummary ChangeSummary `json:"change_summary"`
}

type canonicalCommit struct {
	Parents       []string      `json:"parents"`
	Author        string        `json:"author"`
	Timestamp     string        `json:"timestamp"`
	Message       string        `json:"message"`
	Tree          string        `json:"tree"`
	ChangeSummary ChangeSummary `json:"change_summary"`
}

func (c *Commit) canonicalBytes() []byte {
	parents := make([]string, len(c.Parents))
	for i, p := range c.Parents {
		parents[i] = p.String()
	}
	cc := canonicalCommit{
		Parents:       parents,
		Author:        c.Author,
		Timestamp:     c.Timestamp.UTC().Format(time.RFC3339Nano),
		Message:       c.Message,
		Tree:          c.Tree.String(),
		ChangeSummary: c.ChangeSummary,
	}
	buf, err := json.Marshal(cc)
	if err != nil {
		panic(fmt.Sprintf("objectstore: marshal canonical commit: %v", err))
	}
	return buf
}

// IsMerge reports whether the commit has more than one parent.
func (c *Commit) IsMerge() bool { return len(c.Parents) > 1 }

// frame prepends the one-byte kind marker that namespaces the hash.
func frame(kind Kind, canonical []byte) []byte {
	out := make([]byte, 0, len(canonical)+1)
	out = append(out, byte(kind))
	out = append(out, canonical...)
	return out
}

func hashFrame(b []byte) Hash {
	sum := sha1.Sum(b)
	return Hash(sum)
}

// unframe splits a stored object back into its kind and canonical bytes,
// verifying the frame is non-empty.
func unframe(op string, stored []byte) (Kind, []byte, error) {
	if len(stored) == 0 {
		return 0, nil, errs.E(op, errs.Corruption, "empty object frame")
	}
	return Kind(stored[0]), bytes.Clone(stored[1:]), nil
}
