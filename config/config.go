// Package config loads the docnorm configuration from defaults, an
// optional YAML file and environment-variable overrides, in that priority
// order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ddrozdov/docnorm/cache"
	"github.com/ddrozdov/docnorm/embedding"
	"github.com/ddrozdov/docnorm/generate"
	"github.com/ddrozdov/docnorm/graph"
	"github.com/ddrozdov/docnorm/rerank"
	"github.com/ddrozdov/docnorm/retrieval"
)

// LogConfig configures zap.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

// RetrievalConfig bounds one answer pipeline run.
type RetrievalConfig struct {
	retrieval.Options `yaml:",inline"`

	// TopK bounds the graph path's result count.
	TopK int `yaml:"top_k"`

	// ContextBudget is the hard character cap on the assembled context.
	ContextBudget int `yaml:"context_budget"`

	// Mode selects the retrieval path: vector, graph or hybrid.
	Mode string `yaml:"mode"`
}

// Config is the full application configuration.
type Config struct {
	Log        LogConfig              `yaml:"log"`
	Qdrant     retrieval.QdrantConfig `yaml:"qdrant"`
	Neo4j      graph.Neo4jConfig      `yaml:"neo4j"`
	Embedding  embedding.Config       `yaml:"embedding"`
	Rerank     rerank.Config          `yaml:"rerank"`
	Generation generate.Config        `yaml:"generation"`
	Cache      CacheConfig            `yaml:"cache"`
	Retrieval  RetrievalConfig        `yaml:"retrieval"`
}

// CacheConfig wraps the answer cache settings with an enable switch; the
// cache is optional infrastructure.
type CacheConfig struct {
	Enabled      bool `yaml:"enabled"`
	cache.Config `yaml:",inline"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "console"},
		Qdrant: retrieval.QdrantConfig{
			Host:       "localhost",
			Port:       6333,
			Collection: "collection_1",
			Distance:   "Cosine",
			Timeout:    30 * time.Second,
		},
		Neo4j: graph.Neo4jConfig{
			URI:  "bolt://localhost:7687",
			User: "neo4j",
		},
		Embedding: embedding.Config{
			BaseURL: "http://localhost:8080",
			Model:   "multi-qa-mpnet-base-dot-v1",
			Timeout: 60 * time.Second,
		},
		Rerank: rerank.Config{
			BaseURL:  "http://localhost:8081",
			Model:    "cross-encoder/mmarco-mMiniLMv2-L6-H384-v1",
			Timeout:  30 * time.Second,
			MaxBatch: 32,
		},
		Generation: generate.Config{
			BaseURL:     "http://localhost:11434",
			Model:       "mistral",
			Temperature: 0.1,
		},
		Cache: CacheConfig{Enabled: false, Config: cache.DefaultConfig()},
		Retrieval: RetrievalConfig{
			Options:       retrieval.DefaultOptions(),
			TopK:          5,
			ContextBudget: 1500,
			Mode:          "hybrid",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file (when path is
// non-empty), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides the settings that differ between deployments.
func (c *Config) applyEnv() {
	setString(&c.Log.Level, "DOCNORM_LOG_LEVEL")
	setString(&c.Qdrant.BaseURL, "DOCNORM_QDRANT_URL")
	setString(&c.Qdrant.APIKey, "DOCNORM_QDRANT_API_KEY")
	setString(&c.Qdrant.Collection, "DOCNORM_QDRANT_COLLECTION")
	setString(&c.Neo4j.URI, "NEO4J_URI")
	setString(&c.Neo4j.User, "NEO4J_USER")
	setString(&c.Neo4j.Password, "NEO4J_PASSWORD")
	setString(&c.Embedding.BaseURL, "DOCNORM_EMBEDDING_URL")
	setString(&c.Embedding.APIKey, "DOCNORM_EMBEDDING_API_KEY")
	setString(&c.Rerank.BaseURL, "DOCNORM_RERANK_URL")
	setString(&c.Rerank.APIKey, "DOCNORM_RERANK_API_KEY")
	setString(&c.Generation.BaseURL, "DOCNORM_OLLAMA_URL")
	setString(&c.Generation.Model, "DOCNORM_OLLAMA_MODEL")
	setString(&c.Cache.Addr, "DOCNORM_REDIS_ADDR")
	setString(&c.Retrieval.Mode, "DOCNORM_MODE")
	setBool(&c.Cache.Enabled, "DOCNORM_CACHE_ENABLED")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dst = parsed
		}
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Qdrant.Collection == "" {
		return fmt.Errorf("qdrant.collection is required")
	}
	if c.Retrieval.NCandidates < c.Retrieval.FinalK {
		return fmt.Errorf("retrieval.n_candidates (%d) must be >= retrieval.final_k (%d)",
			c.Retrieval.NCandidates, c.Retrieval.FinalK)
	}
	switch c.Retrieval.Mode {
	case "vector", "graph", "hybrid":
	default:
		return fmt.Errorf("retrieval.mode must be vector, graph or hybrid, got %q", c.Retrieval.Mode)
	}
	if c.Retrieval.ContextBudget <= 0 {
		return fmt.Errorf("retrieval.context_budget must be positive")
	}
	return nil
}
