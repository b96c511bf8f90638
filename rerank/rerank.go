// Package rerank provides the client for the external cross-encoder
// scoring service used as the second-stage relevance pass.
package rerank

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

// Scorer scores (query, text) pairs; higher is better. Implementations
// batch internally, so callers pass the full candidate list.
type Scorer interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// Config configures the HTTP cross-encoder client.
type Config struct {
	BaseURL  string        `yaml:"base_url"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
	MaxBatch int           `yaml:"max_batch"`
}

// HTTPScorer calls a /rerank endpoint (Jina/TEI-compatible shape).
type HTTPScorer struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewHTTPScorer creates the scorer client.
func NewHTTPScorer(cfg Config, logger *zap.Logger) *HTTPScorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBatch == 0 {
		cfg.MaxBatch = 32
	}
	return &HTTPScorer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "reranker")),
	}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Score returns one relevance score per input text, in input order,
// batching requests by MaxBatch.
func (s *HTTPScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	scores := make([]float64, len(texts))

	for start := 0; start < len(texts); start += s.cfg.MaxBatch {
		end := start + s.cfg.MaxBatch
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := s.scoreBatch(ctx, query, texts[start:end])
		if err != nil {
			return nil, err
		}
		copy(scores[start:end], batch)
	}
	return scores, nil
}

func (s *HTTPScorer) scoreBatch(ctx context.Context, query string, texts []string) ([]float64, error) {
	body, err := json.Marshal(rerankRequest{Query: query, Documents: texts, Model: s.cfg.Model})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(s.cfg.BaseURL, "/")+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("scoring service error: status=%d body=%s", resp.StatusCode, string(raw))
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	// Results may come back sorted by relevance; map through the returned
	// index to restore input order.
	scores := make([]float64, len(texts))
	for _, r := range parsed.Results {
		if r.Index < 0 || r.Index >= len(scores) {
			return nil, fmt.Errorf("rerank index %d out of range", r.Index)
		}
		scores[r.Index] = r.RelevanceScore
	}
	return scores, nil
}

// Ping scores a trivial pair to confirm the model is loaded and reachable.
func (s *HTTPScorer) Ping(ctx context.Context) error {
	if _, err := s.scoreBatch(ctx, "ping", []string{"ping"}); err != nil {
		return fmt.Errorf("scoring service unavailable: %w", err)
	}
	return nil
}
