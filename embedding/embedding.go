// Package embedding provides the client for the external embedding service.
//
// The corpus is embedded with passage framing and questions with query
// framing; mixing the two silently degrades retrieval, so the framing is
// part of the provider contract rather than a caller concern.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Provider generates embeddings.
type Provider interface {
	// EmbedQuery embeds a single question with query framing.
	EmbedQuery(ctx context.Context, query string) ([]float64, error)

	// EmbedPassages embeds corpus texts with passage framing.
	EmbedPassages(ctx context.Context, passages []string) ([][]float64, error)

	// Ping verifies the service is usable. Called once at startup so a
	// model that failed to load is fatal immediately, not on first use.
	Ping(ctx context.Context) error
}

// Config configures the HTTP embedding provider.
type Config struct {
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`

	// QueryPrefix / PassagePrefix implement the framing convention of
	// models that require it (e.g. "query: " / "passage: "). Empty for
	// models that do not.
	QueryPrefix   string `yaml:"query_prefix"`
	PassagePrefix string `yaml:"passage_prefix"`

	MaxBatch int `yaml:"max_batch"`
}

// HTTPProvider calls an OpenAI-compatible /v1/embeddings endpoint.
type HTTPProvider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewHTTPProvider creates the provider. It performs no network I/O; call
// Ping at startup to surface initialization failures early.
func NewHTTPProvider(cfg Config, logger *zap.Logger) *HTTPProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxBatch == 0 {
		cfg.MaxBatch = 100
	}
	return &HTTPProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "embedding")),
	}
}

type embedRequest struct {
	Model string   `json:"model,omitempty"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func (p *HTTPProvider) embed(ctx context.Context, inputs []string) ([][]float64, error) {
	body, err := json.Marshal(embedRequest{Model: p.cfg.Model, Input: inputs})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding service error: status=%d body=%s", resp.StatusCode, string(raw))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(parsed.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding count mismatch: got %d for %d inputs", len(parsed.Data), len(inputs))
	}

	out := make([][]float64, len(inputs))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// EmbedQuery embeds a single query with the query prefix applied.
func (p *HTTPProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	vectors, err := p.embed(ctx, []string{p.cfg.QueryPrefix + query})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedPassages embeds corpus texts with the passage prefix applied,
// batched by MaxBatch.
func (p *HTTPProvider) EmbedPassages(ctx context.Context, passages []string) ([][]float64, error) {
	out := make([][]float64, 0, len(passages))
	for start := 0; start < len(passages); start += p.cfg.MaxBatch {
		end := start + p.cfg.MaxBatch
		if end > len(passages) {
			end = len(passages)
		}

		batch := make([]string, 0, end-start)
		for _, passage := range passages[start:end] {
			batch = append(batch, p.cfg.PassagePrefix+passage)
		}

		vectors, err := p.embed(ctx, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// Ping embeds a trivial input to confirm the model is loaded and reachable.
func (p *HTTPProvider) Ping(ctx context.Context) error {
	if _, err := p.embed(ctx, []string{"ping"}); err != nil {
		return fmt.Errorf("embedding service unavailable: %w", err)
	}
	return nil
}
