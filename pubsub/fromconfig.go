package pubsub

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/thymos-ai/thymos/config"
)

// NewBusFromConfig opens the Bus a repository's RepositoryConfig names.
// For Distributed and Hybrid it dials cfg.PostgresDSN and runs the schema
// migration as part of construction; callers own closing the returned
// pool's lifetime indirectly through the process shutting down (there is
// no explicit Bus.Close in the §4.4.1 contract).
func NewBusFromConfig(ctx context.Context, cfg config.RepositoryConfig, metrics *Metrics) (Bus, error) {
	switch cfg.PubSub {
	case config.PubSubLocal, "":
		return NewLocalBus(metrics), nil

	case config.PubSubDistributed:
		dist, err := newDistributedFromConfig(ctx, cfg, metrics)
		if err != nil {
			return nil, err
		}
		return dist, nil

	case config.PubSubHybrid:
		dist, err := newDistributedFromConfig(ctx, cfg, metrics)
		if err != nil {
			return nil, err
		}
		return NewHybridBus(NewLocalBus(metrics), dist), nil

	default:
		return nil, fmt.Errorf("pubsub: unknown backend %q", cfg.PubSub)
	}
}

func newDistributedFromConfig(ctx context.Context, cfg config.RepositoryConfig, metrics *Metrics) (*DistributedBus, error) {
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("pubsub: backend %q requires postgres_dsn", cfg.PubSub)
	}
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("pubsub: dial postgres: %w", err)
	}
	return NewDistributedBus(ctx, pool, metrics)
}
