package vmr

import (
	"context"

	"github.com/thymos-ai/thymos/errs"
)

// BisectPredicate reports whether a commit "behaves correctly". Bisect
// finds the first commit, walking from good toward bad, where the
// predicate flips from true to false.
type BisectPredicate func(ctx context.Context, commit Hash) (bool, error)

// Bisect performs a binary search over the first-parent chain from bad
// back to good, per §4.2.1: behavior is undefined if the ancestry between
// the two endpoints is not linear, so this walks first-parent only and
// does not attempt to reconcile merge commits along the way.
func (r *Repository) Bisect(ctx context.Context, good, bad Hash, predicate BisectPredicate) (Hash, error) {
	chain, err := r.firstParentChain(ctx, good, bad)
	if err != nil {
		return Hash{}, err
	}
	if len(chain) == 0 {
		return Hash{}, errs.E("vmr.Bisect", errs.Validation, "good is not a first-parent ancestor of bad")
	}
	// chain[0] == good, chain[len-1] == bad, oldest to newest.

	lo, hi := 0, len(chain)-1
	okGood, err := predicate(ctx, chain[lo])
	if err != nil {
		return Hash{}, err
	}
	if !okGood {
		return Hash{}, errs.E("vmr.Bisect", errs.Validation, "predicate already false at good")
	}
	okBad, err := predicate(ctx, chain[hi])
	if err != nil {
		return Hash{}, err
	}
	if okBad {
		return Hash{}, errs.E("vmr.Bisect", errs.Validation, "predicate still true at bad")
	}

	for hi-lo > 1 {
		mid := (lo + hi) / 2
		ok, err := predicate(ctx, chain[mid])
		if err != nil {
			return Hash{}, err
		}
		if ok {
			lo = mid
		} else {
			hi = mid
		}
	}
	return chain[hi], nil
}

// firstParentChain returns the commits from good to bad inclusive, walking
// bad's first-parent lineage, oldest first. Returns nil if good is never
// reached by first-parent descent from bad.
func (r *Repository) firstParentChain(ctx context.Context, good, bad Hash) ([]Hash, error) {
	var reversed []Hash
	cur := bad
	for {
		reversed = append(reversed, cur)
		if cur == good {
			break
		}
		c, err := r.store.GetCommit(ctx, cur)
		if err != nil {
			return nil, err
		}
		if len(c.Parents) == 0 {
			return nil, nil
		}
		cur = c.Parents[0]
	}
	chain := make([]Hash, len(reversed))
	for i, h := range reversed {
		chain[len(reversed)-1-i] = h
	}
	return chain, nil
}
