package objectstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thymos-ai/thymos/config"
)

func TestNewBackendFromConfigDefaultsToFS(t *testing.T) {
	ctx := context.Background()
	b, err := NewBackendFromConfig(ctx, t.TempDir(), config.DefaultRepositoryConfig())
	require.NoError(t, err)
	assert.Equal(t, "fs", b.Type())
}

func TestNewBackendFromConfigRistrettoWrapsFS(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultRepositoryConfig()
	cfg.Storage = config.StorageRistretto
	b, err := NewBackendFromConfig(ctx, t.TempDir(), cfg)
	require.NoError(t, err)
	assert.Contains(t, b.Type(), "manager(fs")
}

func TestNewBackendFromConfigS3RequiresS3Block(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultRepositoryConfig()
	cfg.Storage = config.StorageS3
	_, err := NewBackendFromConfig(ctx, t.TempDir(), cfg)
	assert.Error(t, err)
}
