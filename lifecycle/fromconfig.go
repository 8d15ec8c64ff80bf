package lifecycle

import "github.com/thymos-ai/thymos/config"

// ConfigFromRepository converts a RepositoryConfig's decay constants into a
// lifecycle.Config, so an embedding application's single on-disk config
// file drives the MLSE decay formula directly.
func ConfigFromRepository(cfg config.RepositoryConfig) Config {
	c := Config{
		AccessCountWeight:         cfg.AccessCountWeight,
		EmotionalWeightMultiplier: cfg.EmotionalWeightMultiplier,
		BaseStability:             cfg.BaseStability,
	}
	if c == (Config{}) {
		return DefaultConfig()
	}
	return c
}

// DefaultScopeConfigFromRepository builds the "default" scope's ScopeConfig
// from a RepositoryConfig's default_scope block, falling back to
// DefaultScopeConfig for any field left at its zero value.
func DefaultScopeConfigFromRepository(cfg config.RepositoryConfig) ScopeConfig {
	def := DefaultScopeConfig()
	d := cfg.DefaultScope

	sc := ScopeConfig{
		Name:                 DefaultScopeName,
		DecayHours:           d.DecayHours,
		ImportanceMultiplier: d.ImportanceMultiplier,
		SearchWeight:         d.SearchWeight,
		MaxMemories:          d.MaxMemories,
	}
	if sc.DecayHours == 0 {
		sc.DecayHours = def.DecayHours
	}
	if sc.ImportanceMultiplier == 0 {
		sc.ImportanceMultiplier = def.ImportanceMultiplier
	}
	if sc.SearchWeight == 0 {
		sc.SearchWeight = def.SearchWeight
	}
	return sc
}
