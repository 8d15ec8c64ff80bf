package vmr

import "github.com/thymos-ai/thymos/objectstore"

// keyChange is one logical-key-level difference between two trees.
type keyChange struct {
	Key     string
	Kind    OpKind // OpAdd, OpModify, or OpDelete
	OldHash Hash
	NewHash Hash
}

// diffTrees computes the logical-key changes needed to go from "from" to
// "to". A nil tree is treated as empty, matching the first commit's nil
// parent tree.
func diffTrees(from, to *objectstore.MemoryTree) map[string]keyChange {
	out := make(map[string]keyChange)

	fromMap := map[string]Hash{}
	if from != nil {
		for _, e := range from.Entries {
			fromMap[e.Key] = e.BlobHash
		}
	}
	toMap := map[string]Hash{}
	if to != nil {
		for _, e := range to.Entries {
			toMap[e.Key] = e.BlobHash
		}
	}

	for k, newHash := range toMap {
		oldHash, existed := fromMap[k]
		if !existed {
			out[k] = keyChange{Key: k, Kind: OpAdd, NewHash: newHash}
		} else if oldHash != newHash {
			out[k] = keyChange{Key: k, Kind: OpModify, OldHash: oldHash, NewHash: newHash}
		}
	}
	for k, oldHash := range fromMap {
		if _, stillPresent := toMap[k]; !stillPresent {
			out[k] = keyChange{Key: k, Kind: OpDelete, OldHash: oldHash}
		}
	}
	return out
}
