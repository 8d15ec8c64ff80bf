package vmr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thymos-ai/thymos/errs"
	"github.com/thymos-ai/thymos/objectstore"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	fs, err := objectstore.NewFSBackend(t.TempDir())
	require.NoError(t, err)
	store := objectstore.New(fs)
	repo, err := Open(t.TempDir(), store)
	require.NoError(t, err)
	return repo
}

func TestOpenCreatesDefaultUnbornBranch(t *testing.T) {
	repo := newTestRepo(t)
	branches, err := repo.ListBranches(context.Background())
	require.NoError(t, err)
	require.Len(t, branches, 1)
	assert.Equal(t, DefaultBranch, branches[0].Name)
	assert.Equal(t, BranchUnborn, branches[0].State)
}

func TestStageCommitRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	err := repo.Stage(ctx, "", []StageOp{
		{Key: "mem/1", Kind: OpAdd, Content: []byte("remember the meeting")},
	})
	require.NoError(t, err)

	commit, err := repo.Commit(ctx, "", CommitOpts{Author: "agent-1", Message: "add memory 1"})
	require.NoError(t, err)
	assert.Empty(t, commit.Parents)
	assert.Equal(t, []string{"mem/1"}, commit.ChangeSummary.Added)

	branches, err := repo.ListBranches(ctx)
	require.NoError(t, err)
	require.Len(t, branches, 1)
	assert.Equal(t, BranchActive, branches[0].State)
	assert.Equal(t, commit.Hash, branches[0].CommitHash)
}

func TestCommitWithNoStagedChangesFails(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	_, err := repo.Commit(ctx, "", CommitOpts{Author: "a", Message: "empty"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Validation))
}

func TestSecondCommitHasFirstAsParent(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.Stage(ctx, "", []StageOp{{Key: "a", Kind: OpAdd, Content: []byte("1")}}))
	first, err := repo.Commit(ctx, "", CommitOpts{Author: "a", Message: "first"})
	require.NoError(t, err)

	require.NoError(t, repo.Stage(ctx, "", []StageOp{{Key: "b", Kind: OpAdd, Content: []byte("2")}}))
	second, err := repo.Commit(ctx, "", CommitOpts{Author: "a", Message: "second"})
	require.NoError(t, err)

	require.Len(t, second.Parents, 1)
	assert.Equal(t, first.Hash, second.Parents[0])
	assert.Equal(t, []string{"b"}, second.ChangeSummary.Added)
}

func TestWorktreeStaleTipCommitFailsNonFastForward(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.Stage(ctx, "", []StageOp{{Key: "a", Kind: OpAdd, Content: []byte("1")}}))
	_, err := repo.Commit(ctx, "", CommitOpts{Author: "a", Message: "base"})
	require.NoError(t, err)

	wt, err := repo.CreateWorktree(ctx, DefaultBranch, "agent-2", Hash{})
	require.NoError(t, err)

	// Advance main past the worktree's cached base.
	require.NoError(t, repo.Stage(ctx, "", []StageOp{{Key: "b", Kind: OpAdd, Content: []byte("2")}}))
	_, err = repo.Commit(ctx, "", CommitOpts{Author: "a", Message: "main advances"})
	require.NoError(t, err)

	require.NoError(t, repo.Stage(ctx, wt.ID, []StageOp{{Key: "c", Kind: OpAdd, Content: []byte("3")}}))
	_, err = repo.Commit(ctx, wt.ID, CommitOpts{Author: "agent-2", Message: "stale"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Conflict))
}

func TestAddThenDeleteRoundTripsThroughApplyIndex(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.Stage(ctx, "", []StageOp{{Key: "a", Kind: OpAdd, Content: []byte("1")}}))
	_, err := repo.Commit(ctx, "", CommitOpts{Author: "a", Message: "add a"})
	require.NoError(t, err)

	require.NoError(t, repo.Stage(ctx, "", []StageOp{{Key: "a", Kind: OpDelete}}))
	commit, err := repo.Commit(ctx, "", CommitOpts{Author: "a", Message: "delete a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, commit.ChangeSummary.Deleted)

	tree, err := repo.store.GetTree(ctx, commit.Tree)
	require.NoError(t, err)
	_, ok := tree.Lookup("a")
	assert.False(t, ok)
}

func TestCreateBranchRejectsDuplicateAndInvalidNames(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	err := repo.CreateBranch(ctx, "", "feature", "", Hash{})
	require.NoError(t, err)

	err = repo.CreateBranch(ctx, "", "feature", "", Hash{})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Validation))

	err = repo.CreateBranch(ctx, "", "bad name", "", Hash{})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Validation))
}

func TestDeleteActiveBranchRequiresForce(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	err := repo.DeleteBranch(ctx, DefaultBranch, false)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Validation))

	err = repo.DeleteBranch(ctx, DefaultBranch, true)
	require.NoError(t, err)

	branches, err := repo.ListBranches(ctx)
	require.NoError(t, err)
	assert.Empty(t, branches)
}

func TestCheckoutRefusesWithUncommittedChanges(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	require.NoError(t, repo.CreateBranch(ctx, "", "feature", "", Hash{}))
	require.NoError(t, repo.Stage(ctx, "", []StageOp{{Key: "a", Kind: OpAdd, Content: []byte("1")}}))

	err := repo.Checkout(ctx, "", "feature")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Validation))

	require.NoError(t, repo.ResetStage(ctx, ""))
	require.NoError(t, repo.Checkout(ctx, "", "feature"))
}

func TestMergeFastForward(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.Stage(ctx, "", []StageOp{{Key: "a", Kind: OpAdd, Content: []byte("1")}}))
	base, err := repo.Commit(ctx, "", CommitOpts{Author: "a", Message: "base"})
	require.NoError(t, err)

	require.NoError(t, repo.CreateBranch(ctx, "", "feature", "", base.Hash))
	require.NoError(t, repo.Checkout(ctx, "", "feature"))
	// main workspace is now checked out on feature; committing here advances
	// the feature branch, leaving target (main) untouched.
	require.NoError(t, repo.Stage(ctx, "", []StageOp{{Key: "b", Kind: OpAdd, Content: []byte("2")}}))
	featureCommit, err := repo.Commit(ctx, "", CommitOpts{Author: "a", Message: "feature work"})
	require.NoError(t, err)

	result, err := repo.Merge(ctx, "feature", DefaultBranch, StrategyTheirs, nil, "a")
	require.NoError(t, err)
	assert.True(t, result.FastForward)
	require.NotNil(t, result.Commit)
	assert.Equal(t, featureCommit.Hash, *result.Commit)

	// A fast-forward is not "being the source of a successful non-fast-forward
	// merge" (spec.md:141): the source branch's state must stay untouched.
	branches, err := repo.ListBranches(ctx)
	require.NoError(t, err)
	var feature Branch
	for _, b := range branches {
		if b.Name == "feature" {
			feature = b
		}
	}
	assert.Equal(t, BranchActive, feature.State)
}

func TestMergeManualReturnsConflictsWithoutCommitting(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.Stage(ctx, "", []StageOp{{Key: "k", Kind: OpAdd, Content: []byte("base")}}))
	base, err := repo.Commit(ctx, "", CommitOpts{Author: "a", Message: "base"})
	require.NoError(t, err)

	require.NoError(t, repo.CreateBranch(ctx, "", "feature", "", base.Hash))

	// Diverge main.
	require.NoError(t, repo.Stage(ctx, "", []StageOp{{Key: "k", Kind: OpModify, Content: []byte("main-edit")}}))
	targetTip, err := repo.Commit(ctx, "", CommitOpts{Author: "a", Message: "main edits k"})
	require.NoError(t, err)

	// Diverge feature via its own worktree so both lines share the same base.
	wt, err := repo.CreateWorktree(ctx, "feature", "agent-2", base.Hash)
	require.NoError(t, err)
	require.NoError(t, repo.Stage(ctx, wt.ID, []StageOp{{Key: "k", Kind: OpModify, Content: []byte("feature-edit")}}))
	_, err = repo.Commit(ctx, wt.ID, CommitOpts{Author: "agent-2", Message: "feature edits k"})
	require.NoError(t, err)

	result, err := repo.Merge(ctx, "feature", DefaultBranch, StrategyManual, nil, "a")
	require.NoError(t, err)
	assert.Nil(t, result.Commit)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, "k", result.Conflicts[0].Key)
	assert.Equal(t, ContentConflict, result.Conflicts[0].Kind)

	// Target branch must be untouched.
	tip, err := repo.refs.getBranch(DefaultBranch)
	require.NoError(t, err)
	assert.Equal(t, targetTip.Hash, tip)
}

func TestMergeNonFastForwardMarksSourceBranchMerged(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.Stage(ctx, "", []StageOp{{Key: "k", Kind: OpAdd, Content: []byte("base")}}))
	base, err := repo.Commit(ctx, "", CommitOpts{Author: "a", Message: "base"})
	require.NoError(t, err)

	require.NoError(t, repo.CreateBranch(ctx, "", "feature", "", base.Hash))

	// Diverge main so the merge can't fast-forward.
	require.NoError(t, repo.Stage(ctx, "", []StageOp{{Key: "other", Kind: OpAdd, Content: []byte("main-only")}}))
	_, err = repo.Commit(ctx, "", CommitOpts{Author: "a", Message: "main edits other"})
	require.NoError(t, err)

	wt, err := repo.CreateWorktree(ctx, "feature", "agent-2", base.Hash)
	require.NoError(t, err)
	require.NoError(t, repo.Stage(ctx, wt.ID, []StageOp{{Key: "k", Kind: OpModify, Content: []byte("feature-edit")}}))
	_, err = repo.Commit(ctx, wt.ID, CommitOpts{Author: "agent-2", Message: "feature edits k"})
	require.NoError(t, err)

	result, err := repo.Merge(ctx, "feature", DefaultBranch, StrategyTheirs, nil, "a")
	require.NoError(t, err)
	assert.False(t, result.FastForward)
	require.NotNil(t, result.Commit)

	branches, err := repo.ListBranches(ctx)
	require.NoError(t, err)
	var feature Branch
	for _, b := range branches {
		if b.Name == "feature" {
			feature = b
		}
	}
	assert.Equal(t, BranchMerged, feature.State)
}

func TestBisectFindsRegressionCommit(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	var commits []Hash
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Stage(ctx, "", []StageOp{{Key: "k", Kind: OpAdd, Content: []byte{byte(i)}}}))
		c, err := repo.Commit(ctx, "", CommitOpts{Author: "a", Message: "step"})
		require.NoError(t, err)
		commits = append(commits, c.Hash)
	}
	// commits[2] is the first "bad" commit: predicate false from index 2 on.
	badIndex := 2
	predicate := func(ctx context.Context, h Hash) (bool, error) {
		for i, c := range commits {
			if c == h {
				return i < badIndex, nil
			}
		}
		return false, nil
	}

	found, err := repo.Bisect(ctx, commits[0], commits[len(commits)-1], predicate)
	require.NoError(t, err)
	assert.Equal(t, commits[badIndex], found)
}

func TestRemoveWorktreeRequiresForceWithUncommittedChanges(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	require.NoError(t, repo.Stage(ctx, "", []StageOp{{Key: "a", Kind: OpAdd, Content: []byte("1")}}))
	_, err := repo.Commit(ctx, "", CommitOpts{Author: "a", Message: "base"})
	require.NoError(t, err)

	wt, err := repo.CreateWorktree(ctx, DefaultBranch, "agent-2", Hash{})
	require.NoError(t, err)
	require.NoError(t, repo.Stage(ctx, wt.ID, []StageOp{{Key: "b", Kind: OpAdd, Content: []byte("2")}}))

	err = repo.RemoveWorktree(ctx, wt.ID, false)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Validation))

	require.NoError(t, repo.RemoveWorktree(ctx, wt.ID, true))
	_, err = repo.GetWorktree(ctx, wt.ID)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotFound))
}
