// Package config loads and persists repository-level configuration: which
// storage backend a repository uses, its default scope/decay parameters,
// and which PSCL backend it runs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// GetConfigDir returns ~/.thymos, creating it if necessary. A single
// repository's own config.yaml lives at the repository root instead (see
// LoadRepositoryConfig).
func GetConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: get home dir: %w", err)
	}
	dir := filepath.Join(home, ".thymos")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("config: create config dir: %w", err)
	}
	return dir, nil
}

// IsWorktreePath reports whether path is ~/.thymos/worktrees or lies
// beneath it. vmr.CreateWorktree does not use this directory; it places
// worktrees under <repository root>/worktrees.
func IsWorktreePath(path string) bool {
	if path == "" {
		return false
	}
	dir, err := GetConfigDir()
	if err != nil {
		return false
	}
	worktreeDir := filepath.Join(dir, "worktrees")
	return path == worktreeDir || strings.HasPrefix(path, worktreeDir+string(filepath.Separator))
}

// StorageBackendKind selects the objectstore.Backend a repository opens.
type StorageBackendKind string

const (
	StorageFS        StorageBackendKind = "fs"
	StorageS3        StorageBackendKind = "s3"
	StorageRistretto StorageBackendKind = "fs+cache" // fs backend fronted by a ristretto cache
)

// PubSubBackendKind selects the pubsub.Bus a repository runs.
type PubSubBackendKind string

const (
	PubSubLocal       PubSubBackendKind = "local"
	PubSubDistributed PubSubBackendKind = "distributed"
	PubSubHybrid      PubSubBackendKind = "hybrid"
)

// S3Config holds the options objectstore.NewBackendFromConfig needs to construct an
// objectstore S3Backend.
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Prefix   string `yaml:"prefix"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

// DefaultScopeDefaults mirrors lifecycle.ScopeConfig's fields so config can
// seed the "default" scope without this package importing lifecycle (kept
// as plain YAML-shaped data to avoid a config->lifecycle->config cycle).
type DefaultScopeDefaults struct {
	DecayHours           float64 `yaml:"decay_hours"`
	ImportanceMultiplier float64 `yaml:"importance_multiplier"`
	SearchWeight         float64 `yaml:"search_weight"`
	MaxMemories          *int    `yaml:"max_memories,omitempty"`
}

// RepositoryConfig is the on-disk shape of a repository's config.yaml.
type RepositoryConfig struct {
	Storage StorageBackendKind `yaml:"storage"`
	S3      *S3Config          `yaml:"s3,omitempty"`

	PubSub        PubSubBackendKind `yaml:"pubsub"`
	PostgresDSN   string            `yaml:"postgres_dsn,omitempty"`
	SearchIndexDB string            `yaml:"search_index_db"`

	DefaultScope DefaultScopeDefaults `yaml:"default_scope"`

	AccessCountWeight         float64 `yaml:"access_count_weight"`
	EmotionalWeightMultiplier float64 `yaml:"emotional_weight_multiplier"`
	BaseStability             float64 `yaml:"base_stability"`
}

// DefaultRepositoryConfig matches the MLSE decay defaults (§4.3.2) and
// seeds a local, filesystem-backed, single-process repository — the
// configuration LoadRepositoryConfig returns when no config.yaml exists.
func DefaultRepositoryConfig() RepositoryConfig {
	return RepositoryConfig{
		Storage:       StorageFS,
		PubSub:        PubSubLocal,
		SearchIndexDB: "search.db",
		DefaultScope: DefaultScopeDefaults{
			DecayHours:           24 * 30,
			ImportanceMultiplier: 1.0,
			SearchWeight:         1.0,
		},
		AccessCountWeight:         0.1,
		EmotionalWeightMultiplier: 1.5,
		BaseStability:             1.0,
	}
}

// configFileName is the file a repository's root directory holds its
// RepositoryConfig under, alongside the objects/ and refs/ VMR directories.
const configFileName = "config.yaml"

// LoadRepositoryConfig reads root/config.yaml, returning
// DefaultRepositoryConfig if the file does not exist yet (a freshly
// initialized repository with no explicit configuration).
func LoadRepositoryConfig(root string) (RepositoryConfig, error) {
	path := filepath.Join(root, configFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultRepositoryConfig(), nil
	}
	if err != nil {
		return RepositoryConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := DefaultRepositoryConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return RepositoryConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// SaveRepositoryConfig writes cfg to root/config.yaml atomically, so a
// crash mid-write never leaves a partially-written config file behind.
func SaveRepositoryConfig(root string, cfg RepositoryConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return AtomicWriteFile(filepath.Join(root, configFileName), data, 0o644)
}
