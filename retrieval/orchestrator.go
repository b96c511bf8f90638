package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Embedder produces the query embedding. The implementation must apply the
// same query/passage framing the corpus was embedded with.
type Embedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float64, error)
}

// VectorSearcher is the vector index: k-NN by vector, plus the sense of its
// score scale so thresholds compare in the right direction.
type VectorSearcher interface {
	Search(ctx context.Context, vector []float64, limit int) ([]SearchHit, error)
	HigherIsBetter() bool
}

// Scorer is the cross-encoder scoring service, batched over
// (question, text) pairs; higher is better.
type Scorer interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// RankedChunk is a final retrieval result with full provenance.
type RankedChunk struct {
	Text       string  `json:"text"`
	Document   string  `json:"document"`
	DocID      string  `json:"doc_id"`
	ChunkID    string  `json:"chunk_id"`
	Similarity float64 `json:"similarity"`
	Score      float64 `json:"score"`
}

// Options bound one retrieval request.
type Options struct {
	NCandidates int     `yaml:"n_candidates"`
	FinalK      int     `yaml:"final_k"`
	Threshold   float64 `yaml:"threshold"`
}

// DefaultOptions are the consolidated retrieval parameters: 15 candidates,
// 5 final results, similarity threshold 0.3.
func DefaultOptions() Options {
	return Options{NCandidates: 15, FinalK: 5, Threshold: 0.3}
}

// Orchestrator runs the dense retrieval path: embed, k-NN search, threshold
// filter with a guaranteed-minimum fallback, cross-encoder rerank, top-K.
type Orchestrator struct {
	embedder Embedder
	store    VectorSearcher
	scorer   Scorer
	logger   *zap.Logger
}

// NewOrchestrator wires the three external services together. All of them
// are constructed by the caller and passed by reference; the orchestrator
// owns no connections.
func NewOrchestrator(embedder Embedder, store VectorSearcher, scorer Scorer, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		embedder: embedder,
		store:    store,
		scorer:   scorer,
		logger:   logger.With(zap.String("component", "retrieval")),
	}
}

// Retrieve returns the top FinalK chunks for the question. An empty result
// means nothing was indexed, not a failure.
func (o *Orchestrator) Retrieve(ctx context.Context, question string, opts Options) ([]RankedChunk, error) {
	if opts.NCandidates <= 0 {
		opts = DefaultOptions()
	}

	vector, err := o.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	hits, err := o.store.Search(ctx, vector, opts.NCandidates)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	filtered := filterByThreshold(hits, opts.Threshold, o.store.HigherIsBetter())
	candidates := fallbackOrOriginal(filtered, hits, opts.FinalK)
	if len(candidates) < len(hits) {
		o.logger.Debug("threshold filter applied",
			zap.Int("kept", len(candidates)),
			zap.Int("fetched", len(hits)))
	} else if len(filtered) < opts.FinalK {
		o.logger.Debug("threshold too strict, falling back to unfiltered candidates",
			zap.Int("passed", len(filtered)),
			zap.Int("final_k", opts.FinalK))
	}

	texts := make([]string, len(candidates))
	for i, hit := range candidates {
		texts[i] = hit.Text
	}
	scores, err := o.scorer.Score(ctx, question, texts)
	if err != nil {
		return nil, fmt.Errorf("rerank candidates: %w", err)
	}

	ranked := make([]RankedChunk, len(candidates))
	for i, hit := range candidates {
		ranked[i] = RankedChunk{
			Text:       hit.Text,
			Document:   hit.Document,
			DocID:      hit.DocID,
			ChunkID:    hit.ChunkID,
			Similarity: hit.Score,
		}
		if i < len(scores) {
			ranked[i].Score = scores[i]
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if opts.FinalK > 0 && len(ranked) > opts.FinalK {
		ranked = ranked[:opts.FinalK]
	}

	o.logger.Debug("retrieval completed",
		zap.Int("results", len(ranked)))
	return ranked, nil
}

// filterByThreshold keeps hits passing the threshold in the scale's native
// direction. Split from the fallback so each policy is testable on its own.
func filterByThreshold(hits []SearchHit, threshold float64, higherIsBetter bool) []SearchHit {
	out := make([]SearchHit, 0, len(hits))
	for _, hit := range hits {
		if higherIsBetter {
			if hit.Score >= threshold {
				out = append(out, hit)
			}
		} else if hit.Score <= threshold {
			out = append(out, hit)
		}
	}
	return out
}

// fallbackOrOriginal discards the filter entirely when it leaves fewer than
// finalK survivors: returning some context beats returning too little, even
// at the cost of relevance. This is policy, not an error path.
func fallbackOrOriginal(filtered, original []SearchHit, finalK int) []SearchHit {
	if len(filtered) < finalK {
		return original
	}
	return filtered
}

// SectionDelimiter separates chunks in the assembled context block.
const SectionDelimiter = "\n\n---SECTION---\n\n"

// BuildContext concatenates chunk texts with the section delimiter and hard
// truncates at budget runes. The cutoff is not sentence-aware.
func BuildContext(texts []string, budget int) string {
	joined := strings.Join(texts, SectionDelimiter)
	if budget <= 0 {
		return joined
	}
	runes := []rune(joined)
	if len(runes) > budget {
		return string(runes[:budget])
	}
	return joined
}
