package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thymos-ai/thymos/config"
)

func TestNewBusFromConfigDefaultsToLocal(t *testing.T) {
	ctx := context.Background()
	bus, err := NewBusFromConfig(ctx, config.DefaultRepositoryConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, Local, bus.BackendType())
	assert.False(t, bus.IsDistributed())
}

func TestNewBusFromConfigDistributedRequiresDSN(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultRepositoryConfig()
	cfg.PubSub = config.PubSubDistributed
	_, err := NewBusFromConfig(ctx, cfg, nil)
	assert.Error(t, err)
}

func TestNewBusFromConfigUnknownBackendErrors(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultRepositoryConfig()
	cfg.PubSub = config.PubSubBackendKind("nonsense")
	_, err := NewBusFromConfig(ctx, cfg, nil)
	assert.Error(t, err)
}
