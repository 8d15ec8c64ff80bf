package thymos

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thymos-ai/thymos/pubsub"
	"github.com/thymos-ai/thymos/vmr"
)

func TestOpenWiresAllFourComponents(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	repo, err := Open(ctx, dir, Options{})
	require.NoError(t, err)
	defer repo.Close()

	assert.NotNil(t, repo.Store)
	assert.NotNil(t, repo.VMR)
	assert.NotNil(t, repo.Engine)
	assert.NotNil(t, repo.PubSub)
	assert.Equal(t, pubsub.Local, repo.PubSub.BackendType())

	commit, err := repo.Engine.Remember(ctx, "", "note/1", []byte("hello"), nil, "tester")
	require.NoError(t, err)
	assert.NotEqual(t, vmr.Hash{}, commit.Tree)
}

func TestOpenWithConfigWatchExposesChanges(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	repo, err := Open(ctx, dir, Options{WatchConfig: true})
	require.NoError(t, err)
	defer repo.Close()

	assert.NotNil(t, repo.ConfigChanges())
}

func TestConfigChangesNilWithoutWatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	repo, err := Open(ctx, dir, Options{})
	require.NoError(t, err)
	defer repo.Close()

	assert.Nil(t, repo.ConfigChanges())
}
