package config

import (
	"path/filepath"
	"testing"
)

func TestLoadRepositoryConfigDefaultsWhenAbsent(t *testing.T) {
	cfg, err := LoadRepositoryConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadRepositoryConfig: %v", err)
	}
	want := DefaultRepositoryConfig()
	if cfg != want {
		t.Fatalf("got %+v, want default %+v", cfg, want)
	}
}

func TestSaveThenLoadRepositoryConfigRoundTrips(t *testing.T) {
	root := t.TempDir()

	max := 50
	cfg := DefaultRepositoryConfig()
	cfg.Storage = StorageS3
	cfg.S3 = &S3Config{Bucket: "thymos-memories", Region: "us-east-1"}
	cfg.PubSub = PubSubHybrid
	cfg.PostgresDSN = "postgres://localhost/thymos"
	cfg.DefaultScope.MaxMemories = &max

	if err := SaveRepositoryConfig(root, cfg); err != nil {
		t.Fatalf("SaveRepositoryConfig: %v", err)
	}

	got, err := LoadRepositoryConfig(root)
	if err != nil {
		t.Fatalf("LoadRepositoryConfig: %v", err)
	}

	if got.Storage != StorageS3 || got.S3 == nil || got.S3.Bucket != "thymos-memories" {
		t.Fatalf("storage config did not round-trip: %+v", got)
	}
	if got.PubSub != PubSubHybrid || got.PostgresDSN != cfg.PostgresDSN {
		t.Fatalf("pubsub config did not round-trip: %+v", got)
	}
	if got.DefaultScope.MaxMemories == nil || *got.DefaultScope.MaxMemories != 50 {
		t.Fatalf("default scope max_memories did not round-trip: %+v", got.DefaultScope)
	}
}

func TestSaveRepositoryConfigIsAtomic(t *testing.T) {
	root := t.TempDir()
	if err := SaveRepositoryConfig(root, DefaultRepositoryConfig()); err != nil {
		t.Fatalf("SaveRepositoryConfig: %v", err)
	}
	// No .tmp file should be left behind after a successful save.
	matches, err := filepath.Glob(filepath.Join(root, configFileName+".tmp*"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("leftover temp files: %v", matches)
	}
}
