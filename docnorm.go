// Package docnorm answers natural-language questions against a
// formatting-standard document. It combines dense vector retrieval with a
// symbolically-mined knowledge graph and hands the merged context to an
// external generation service.
package docnorm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ddrozdov/docnorm/cache"
	"github.com/ddrozdov/docnorm/generate"
	"github.com/ddrozdov/docnorm/graph"
	"github.com/ddrozdov/docnorm/retrieval"
)

// Mode selects which retrieval paths serve a question.
type Mode string

const (
	ModeVector Mode = "vector"
	ModeGraph  Mode = "graph"
	ModeHybrid Mode = "hybrid"
)

// VectorRetriever is the dense retrieval path.
type VectorRetriever interface {
	Retrieve(ctx context.Context, question string, opts retrieval.Options) ([]retrieval.RankedChunk, error)
}

// GraphRetriever is the knowledge-graph retrieval path.
type GraphRetriever interface {
	AnswerEntities(ctx context.Context, question string, topK int) ([]graph.RankedFact, error)
}

// Source is the provenance of one context chunk in the final answer.
type Source struct {
	Kind       string  // "vector" or "graph"
	Document   string
	ChunkID    string
	Label      string // entity or element labels for the graph path
	Similarity float64
	Score      float64
	Preview    string
}

// Answer is the generated text plus the provenance it was built from.
type Answer struct {
	Text    string
	Sources []Source
	Cached  bool
}

// EngineConfig bounds the answer pipeline.
type EngineConfig struct {
	Mode          Mode
	Retrieval     retrieval.Options
	GraphTopK     int
	ContextBudget int
}

// Engine is the top-level question-answering pipeline. It owns no
// connections; every external service is constructed by the caller and
// passed in, and the engine itself is stateless across questions.
type Engine struct {
	vector    VectorRetriever
	graphPath GraphRetriever
	generator generate.Generator
	answers   *cache.AnswerCache
	cfg       EngineConfig
	logger    *zap.Logger
}

// NewEngine wires the pipeline. The cache may be nil; either retrieval path
// may be nil when the mode does not use it.
func NewEngine(vector VectorRetriever, graphPath GraphRetriever, generator generate.Generator, answers *cache.AnswerCache, cfg EngineConfig, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeHybrid
	}
	if cfg.ContextBudget <= 0 {
		cfg.ContextBudget = 1500
	}
	if cfg.GraphTopK <= 0 {
		cfg.GraphTopK = 5
	}
	if cfg.Retrieval.NCandidates <= 0 {
		cfg.Retrieval = retrieval.DefaultOptions()
	}

	if (cfg.Mode == ModeVector || cfg.Mode == ModeHybrid) && vector == nil {
		return nil, fmt.Errorf("mode %s requires a vector retriever", cfg.Mode)
	}
	if (cfg.Mode == ModeGraph || cfg.Mode == ModeHybrid) && graphPath == nil {
		return nil, fmt.Errorf("mode %s requires a graph retriever", cfg.Mode)
	}
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}

	return &Engine{
		vector:    vector,
		graphPath: graphPath,
		generator: generator,
		answers:   answers,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "engine")),
	}, nil
}

// Ask answers one question: the configured retrieval paths run
// concurrently, their results are merged and deduplicated by chunk,
// the context block is assembled under the character budget and handed to
// the generation service.
func (e *Engine) Ask(ctx context.Context, question string) (*Answer, error) {
	if cached := e.cachedAnswer(ctx, question); cached != nil {
		return cached, nil
	}

	var (
		chunks []retrieval.RankedChunk
		facts  []graph.RankedFact
	)

	g, gctx := errgroup.WithContext(ctx)
	if e.cfg.Mode == ModeVector || e.cfg.Mode == ModeHybrid {
		g.Go(func() error {
			var err error
			chunks, err = e.vector.Retrieve(gctx, question, e.cfg.Retrieval)
			if err != nil {
				return fmt.Errorf("vector path: %w", err)
			}
			return nil
		})
	}
	if e.cfg.Mode == ModeGraph || e.cfg.Mode == ModeHybrid {
		g.Go(func() error {
			var err error
			facts, err = e.graphPath.AnswerEntities(gctx, question, e.cfg.GraphTopK)
			if err != nil {
				return fmt.Errorf("graph path: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	texts, sources := e.merge(chunks, facts)
	contextBlock := retrieval.BuildContext(texts, e.cfg.ContextBudget)

	text, err := e.generator.Generate(ctx, contextBlock, question)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	answer := &Answer{Text: text, Sources: sources}
	e.storeAnswer(ctx, question, answer)
	return answer, nil
}

// merge interleaves provenance and deduplicates chunks that both paths
// retrieved, preserving each path's rank order with the vector path first.
func (e *Engine) merge(chunks []retrieval.RankedChunk, facts []graph.RankedFact) ([]string, []Source) {
	var texts []string
	var sources []Source
	seen := make(map[string]bool)

	for _, c := range chunks {
		key := c.DocID + "_" + c.ChunkID
		if c.ChunkID != "" && seen[key] {
			continue
		}
		seen[key] = true
		texts = append(texts, c.Text)
		sources = append(sources, Source{
			Kind:       "vector",
			Document:   c.Document,
			ChunkID:    c.ChunkID,
			Similarity: c.Similarity,
			Score:      c.Score,
			Preview:    preview(c.Text),
		})
	}

	for _, f := range facts {
		if f.ChunkID != "" && seen[f.ChunkID] {
			continue
		}
		seen[f.ChunkID] = true
		label := strings.Join(f.Entities, ", ")
		if label == "" {
			label = strings.Join(f.Elements, ", ")
		}
		texts = append(texts, f.Text)
		sources = append(sources, Source{
			Kind:     "graph",
			Document: f.Document,
			ChunkID:  f.ChunkID,
			Label:    label,
			Score:    f.Score,
			Preview:  preview(f.Text),
		})
	}

	return texts, sources
}

func (e *Engine) cachedAnswer(ctx context.Context, question string) *Answer {
	if e.answers == nil {
		return nil
	}
	cached, err := e.answers.Get(ctx, question)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	if err != nil {
		e.logger.Warn("answer cache lookup failed", zap.Error(err))
		return nil
	}

	answer := &Answer{Text: cached.Text, Cached: true}
	for _, s := range cached.Sources {
		answer.Sources = append(answer.Sources, Source{Kind: "cache", Preview: s})
	}
	return answer
}

func (e *Engine) storeAnswer(ctx context.Context, question string, answer *Answer) {
	if e.answers == nil {
		return
	}
	cached := &cache.Answer{Text: answer.Text}
	for _, s := range answer.Sources {
		cached.Sources = append(cached.Sources, s.Describe())
	}
	if err := e.answers.Set(ctx, question, cached); err != nil {
		e.logger.Warn("answer cache store failed", zap.Error(err))
	}
}

// Describe renders one source line for user-facing provenance output.
func (s Source) Describe() string {
	var b strings.Builder
	switch s.Kind {
	case "graph":
		fmt.Fprintf(&b, "Сущность: %s", s.Label)
	case "cache":
		return s.Preview
	default:
		fmt.Fprintf(&b, "Источник: %s", orUnknown(s.Document))
		fmt.Fprintf(&b, "\n   Similarity: %.4f", s.Similarity)
	}
	fmt.Fprintf(&b, "\n   Score: %.4f", s.Score)
	fmt.Fprintf(&b, "\n   Текст: %s", s.Preview)
	return b.String()
}

// Format renders the answer with its numbered source list.
func (a *Answer) Format() string {
	var b strings.Builder
	b.WriteString(a.Text)
	if len(a.Sources) == 0 {
		return b.String()
	}
	b.WriteString("\n\nИсточники:\n")
	for i, s := range a.Sources {
		fmt.Fprintf(&b, "%d. %s\n\n", i+1, s.Describe())
	}
	return b.String()
}

func preview(text string) string {
	const max = 300
	flat := strings.ReplaceAll(text, "\n", " ")
	runes := []rune(flat)
	if len(runes) > max {
		return string(runes[:max]) + "..."
	}
	return flat
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
