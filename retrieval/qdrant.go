package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Point payload fields every stored chunk carries. These are the service
// contract with the ingestion side; Search refuses payloads without text.
const (
	payloadText     = "text"
	payloadDocument = "document"
	payloadDocID    = "doc_id"
	payloadChunkID  = "chunk_id"
)

// ErrMalformedPayload marks a point whose payload is missing an expected
// field. This is a data-integrity problem, distinct from connectivity
// failures, and is surfaced rather than defaulted away.
var ErrMalformedPayload = errors.New("malformed qdrant payload")

// QdrantConfig configures the Qdrant-backed vector index client.
type QdrantConfig struct {
	Host       string        `yaml:"host"`
	Port       int           `yaml:"port"`
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Collection string        `yaml:"collection"`
	Timeout    time.Duration `yaml:"timeout"`

	// Distance is the collection's metric: Cosine or Dot score candidates
	// higher-better, Euclid lower-better. The orchestrator needs the sense
	// to apply its threshold in the right direction.
	Distance string `yaml:"distance"`
}

// QdrantStore talks to Qdrant's REST API: k-NN search by vector, point
// upsert and full-corpus scroll export.
type QdrantStore struct {
	cfg     QdrantConfig
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewQdrantStore creates a Qdrant client.
func NewQdrantStore(cfg QdrantConfig, logger *zap.Logger) *QdrantStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6333
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Distance == "" {
		cfg.Distance = "Cosine"
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	}

	return &QdrantStore{
		cfg:     cfg,
		baseURL: baseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With(zap.String("component", "qdrant_store")),
	}
}

// HigherIsBetter reports the sense of the collection's score scale.
func (s *QdrantStore) HigherIsBetter() bool {
	return !strings.EqualFold(s.cfg.Distance, "Euclid")
}

var pointNamespace = uuid.MustParse("8b1d6a0e-2f77-47c3-9a41-c6e0d13f5a92")

// pointID derives a stable UUID from the chunk id so upserts are idempotent.
func pointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

func (s *QdrantStore) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(s.cfg.APIKey) != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}
}

func (s *QdrantStore) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return err
	}
	s.applyHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("qdrant request failed: method=%s path=%s status=%d body=%s", method, path, resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// SearchHit is one k-NN result with its payload unpacked.
type SearchHit struct {
	Text     string
	Document string
	DocID    string
	ChunkID  string
	Score    float64
}

// Search runs a k-NN query and returns up to limit hits in the store's
// native score order.
func (s *QdrantStore) Search(ctx context.Context, vector []float64, limit int) ([]SearchHit, error) {
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return nil, fmt.Errorf("qdrant collection is required")
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is required")
	}
	if limit <= 0 {
		return []SearchHit{}, nil
	}

	req := struct {
		Vector      []float64 `json:"vector"`
		Limit       int       `json:"limit"`
		WithPayload bool      `json:"with_payload"`
	}{
		Vector:      vector,
		Limit:       limit,
		WithPayload: true,
	}

	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}

	path := fmt.Sprintf("/collections/%s/points/search", url.PathEscape(s.cfg.Collection))
	if err := s.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}

	hits := make([]SearchHit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hit, err := hitFromPayload(r.Payload, r.Score)
		if err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func hitFromPayload(payload map[string]any, score float64) (SearchHit, error) {
	text, ok := payload[payloadText].(string)
	if !ok || text == "" {
		return SearchHit{}, fmt.Errorf("%w: missing %q field", ErrMalformedPayload, payloadText)
	}
	hit := SearchHit{Text: text, Score: score}
	if v, ok := payload[payloadDocument].(string); ok {
		hit.Document = v
	}
	if v, ok := payload[payloadDocID].(string); ok {
		hit.DocID = v
	}
	hit.ChunkID = payloadString(payload[payloadChunkID])
	return hit, nil
}

// payloadString renders either a string or a numeric chunk index; Qdrant
// stores JSON numbers as float64.
func payloadString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%d", int64(t))
	default:
		return ""
	}
}

// StoredChunk is one exported point from the corpus.
type StoredChunk struct {
	ID       string
	DocID    string
	ChunkID  string
	Document string
	Text     string
}

// Scroll pages through the whole collection using Qdrant's opaque offset
// cursor. A nil next cursor means the corpus is exhausted.
func (s *QdrantStore) Scroll(ctx context.Context, limit int, offset any) ([]StoredChunk, any, error) {
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return nil, nil, fmt.Errorf("qdrant collection is required")
	}
	if limit <= 0 {
		limit = 100
	}

	req := map[string]any{
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
	}
	if offset != nil {
		req["offset"] = offset
	}

	var resp struct {
		Result struct {
			Points []struct {
				ID      any            `json:"id"`
				Payload map[string]any `json:"payload"`
			} `json:"points"`
			NextPageOffset any `json:"next_page_offset"`
		} `json:"result"`
	}

	path := fmt.Sprintf("/collections/%s/points/scroll", url.PathEscape(s.cfg.Collection))
	if err := s.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, nil, err
	}

	chunks := make([]StoredChunk, 0, len(resp.Result.Points))
	for _, p := range resp.Result.Points {
		text, ok := p.Payload[payloadText].(string)
		if !ok {
			return nil, nil, fmt.Errorf("%w: point %v missing %q field", ErrMalformedPayload, p.ID, payloadText)
		}
		chunk := StoredChunk{
			Text:     text,
			DocID:    payloadString(p.Payload[payloadDocID]),
			ChunkID:  payloadString(p.Payload[payloadChunkID]),
			Document: payloadString(p.Payload[payloadDocument]),
		}
		chunk.ID = chunk.DocID + "_" + chunk.ChunkID
		chunks = append(chunks, chunk)
	}

	return chunks, resp.Result.NextPageOffset, nil
}

// ScrollAll drains the collection into memory for graph building.
func (s *QdrantStore) ScrollAll(ctx context.Context, pageSize int) ([]StoredChunk, error) {
	var all []StoredChunk
	var offset any
	for {
		page, next, err := s.Scroll(ctx, pageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next == nil || len(page) == 0 {
			break
		}
		offset = next
	}
	s.logger.Info("corpus exported from qdrant", zap.Int("chunks", len(all)))
	return all, nil
}

// UpsertPoint stores one chunk with its embedding. Used by ingestion
// tooling; the retrieval path itself is read-only.
func (s *QdrantStore) UpsertPoint(ctx context.Context, chunk StoredChunk, vector []float64) error {
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return fmt.Errorf("qdrant collection is required")
	}
	if len(vector) == 0 {
		return fmt.Errorf("chunk %s has no embedding", chunk.ID)
	}

	req := map[string]any{
		"points": []map[string]any{{
			"id":     pointID(chunk.ID),
			"vector": vector,
			"payload": map[string]any{
				payloadText:     chunk.Text,
				payloadDocument: chunk.Document,
				payloadDocID:    chunk.DocID,
				payloadChunkID:  chunk.ChunkID,
			},
		}},
	}

	path := fmt.Sprintf("/collections/%s/points?wait=true", url.PathEscape(s.cfg.Collection))
	return s.doJSON(ctx, http.MethodPut, path, req, nil)
}
