// Package lifecycle implements the Memory Lifecycle & Scope Engine: named
// scopes, temporal-decay strength scoring, scope-weighted search, and
// commit-time retention/pruning layered over the versioned memory
// repository.
package lifecycle

import "time"

// DefaultScopeName is always present in a scope registry.
const DefaultScopeName = "default"

// ScopeConfig is a named scope's configuration.
type ScopeConfig struct {
	Name                 string  `yaml:"name"`
	DecayHours           float64 `yaml:"decay_hours"`
	ImportanceMultiplier float64 `yaml:"importance_multiplier"`
	SearchWeight         float64 `yaml:"search_weight"` // in [0,1]
	MaxMemories          *int    `yaml:"max_memories,omitempty"`
}

// DefaultScopeConfig is the configuration the "default" scope carries when
// a repository has never customized it.
func DefaultScopeConfig() ScopeConfig {
	return ScopeConfig{
		Name:                 DefaultScopeName,
		DecayHours:           24 * 30, // 30 days
		ImportanceMultiplier: 1.0,
		SearchWeight:         1.0,
	}
}

// Config holds the tunable decay-formula constants of §4.3.2. Defaults
// match the spec exactly; only construction code may override them.
type Config struct {
	AccessCountWeight        float64
	EmotionalWeightMultiplier float64
	BaseStability            float64
}

// DefaultConfig returns the spec-mandated default constants.
func DefaultConfig() Config {
	return Config{
		AccessCountWeight:         0.1,
		EmotionalWeightMultiplier: 1.5,
		BaseStability:             1.0,
	}
}

// MemoryMeta is the subset of a MemoryBlob's metadata map the lifecycle
// engine reads and writes. Other metadata keys pass through untouched.
type MemoryMeta struct {
	Scope           string    `json:"scope,omitempty"`
	AccessCount     int       `json:"access_count,omitempty"`
	EmotionalWeight float64   `json:"emotional_weight,omitempty"`
	ImportanceScore float64   `json:"importance_score,omitempty"`
	LastAccessed    time.Time `json:"last_accessed,omitempty"`
	CreatedAt       time.Time `json:"created_at,omitempty"`
}

// ScoreBreakdown records every component contributing to a ScoredMemory's
// final score, so callers and tests can assert individual contributions
// per §4.3.3.
type ScoreBreakdown struct {
	BackendScore  float64
	RecencyBoost  float64 // strength
	ImportanceBoost float64
	ScopeWeight   float64
}

// Final combines the breakdown into the ranking score: backend relevance,
// decay-adjusted recency, importance, and the scope's configured weight.
func (b ScoreBreakdown) Final() float64 {
	return b.BackendScore * b.RecencyBoost * b.ImportanceBoost * b.ScopeWeight
}

// ScoredMemory is one ranked search hit.
type ScoredMemory struct {
	Key          string
	Scope        string
	Content      []byte
	Metadata     map[string]any
	LastAccessed time.Time
	Score        float64
	Breakdown    ScoreBreakdown
}
