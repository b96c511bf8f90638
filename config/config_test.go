package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "collection_1", cfg.Qdrant.Collection)
	assert.Equal(t, "bolt://localhost:7687", cfg.Neo4j.URI)
	assert.Equal(t, "hybrid", cfg.Retrieval.Mode)
	assert.Equal(t, 15, cfg.Retrieval.NCandidates)
	assert.Equal(t, 5, cfg.Retrieval.FinalK)
	assert.InDelta(t, 0.3, cfg.Retrieval.Threshold, 1e-9)
	assert.Equal(t, 1500, cfg.Retrieval.ContextBudget)
	assert.False(t, cfg.Cache.Enabled)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
qdrant:
  collection: thesis_chunks
retrieval:
  mode: vector
  n_candidates: 20
  final_k: 7
cache:
  enabled: true
  addr: redis:6379
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "thesis_chunks", cfg.Qdrant.Collection)
	assert.Equal(t, "vector", cfg.Retrieval.Mode)
	assert.Equal(t, 20, cfg.Retrieval.NCandidates)
	assert.Equal(t, 7, cfg.Retrieval.FinalK)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "redis:6379", cfg.Cache.Addr)

	// Untouched sections keep their defaults.
	assert.Equal(t, "mistral", cfg.Generation.Model)
	assert.InDelta(t, 0.3, cfg.Retrieval.Threshold, 1e-9)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("DOCNORM_QDRANT_COLLECTION", "from_env")
	t.Setenv("NEO4J_PASSWORD", "secret")
	t.Setenv("DOCNORM_MODE", "graph")
	t.Setenv("DOCNORM_CACHE_ENABLED", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "from_env", cfg.Qdrant.Collection)
	assert.Equal(t, "secret", cfg.Neo4j.Password)
	assert.Equal(t, "graph", cfg.Retrieval.Mode)
	assert.True(t, cfg.Cache.Enabled)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Retrieval.NCandidates = 3
	cfg.Retrieval.FinalK = 5
	assert.ErrorContains(t, cfg.Validate(), "n_candidates")

	cfg = Default()
	cfg.Retrieval.Mode = "magic"
	assert.ErrorContains(t, cfg.Validate(), "mode")

	cfg = Default()
	cfg.Qdrant.Collection = ""
	assert.ErrorContains(t, cfg.Validate(), "collection")

	cfg = Default()
	cfg.Retrieval.ContextBudget = 0
	assert.ErrorContains(t, cfg.Validate(), "context_budget")
}
