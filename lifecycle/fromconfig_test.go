package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thymos-ai/thymos/config"
)

func TestConfigFromRepositoryUsesRepositoryValuesWhenSet(t *testing.T) {
	cfg := config.DefaultRepositoryConfig()
	cfg.AccessCountWeight = 0.2
	cfg.EmotionalWeightMultiplier = 2.0
	cfg.BaseStability = 1.5

	got := ConfigFromRepository(cfg)
	assert.Equal(t, 0.2, got.AccessCountWeight)
	assert.Equal(t, 2.0, got.EmotionalWeightMultiplier)
	assert.Equal(t, 1.5, got.BaseStability)
}

func TestConfigFromRepositoryFallsBackToDefaultWhenUnset(t *testing.T) {
	got := ConfigFromRepository(config.RepositoryConfig{})
	assert.Equal(t, DefaultConfig(), got)
}

func TestDefaultScopeConfigFromRepositoryFillsZeroFieldsFromDefaults(t *testing.T) {
	cfg := config.RepositoryConfig{}
	cfg.DefaultScope.SearchWeight = 0.5

	sc := DefaultScopeConfigFromRepository(cfg)
	assert.Equal(t, DefaultScopeName, sc.Name)
	assert.Equal(t, 0.5, sc.SearchWeight)
	assert.Equal(t, DefaultScopeConfig().DecayHours, sc.DecayHours)
	assert.Equal(t, DefaultScopeConfig().ImportanceMultiplier, sc.ImportanceMultiplier)
}
