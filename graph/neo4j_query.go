package graph

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/ddrozdov/docnorm/mining"
)

// EntityChunkSource is the traversal the durable graph store provides:
// chunks one MENTIONS hop away from any of the given entities.
type EntityChunkSource interface {
	ChunksByEntities(ctx context.Context, entities []string, limit int) ([]EntityChunk, error)
}

// EntityQuery answers questions against the durable Neo4j graph the same
// way QueryEngine answers against the in-memory one: entity anchoring,
// one-hop MENTIONS traversal, external scoring, top-K.
type EntityQuery struct {
	store    EntityChunkSource
	scorer   Scorer
	entities *mining.EntityTable
	limit    int
	logger   *zap.Logger
}

// NewEntityQuery creates the Neo4j-backed query path. limit caps the
// traversal result before scoring (50 when zero).
func NewEntityQuery(store EntityChunkSource, scorer Scorer, entities *mining.EntityTable, limit int, logger *zap.Logger) *EntityQuery {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit <= 0 {
		limit = 50
	}
	return &EntityQuery{
		store:    store,
		scorer:   scorer,
		entities: entities,
		limit:    limit,
		logger:   logger.With(zap.String("component", "entity_query")),
	}
}

// AnswerEntities anchors on the entities recognized in the question and
// ranks the chunks mentioning them. No recognized entity means an empty
// result; the whole graph is never scanned unanchored.
func (q *EntityQuery) AnswerEntities(ctx context.Context, question string, topK int) ([]RankedFact, error) {
	matched := mining.DetectEntities(question, q.entities)
	if len(matched) == 0 {
		q.logger.Debug("no entities recognized in question")
		return nil, nil
	}

	chunks, err := q.store.ChunksByEntities(ctx, matched, q.limit)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	// The traversal may return one chunk per matched entity; collapse to
	// one fact per chunk, keeping discovery order.
	seen := make(map[string]int)
	var facts []RankedFact
	for _, chunk := range chunks {
		if i, ok := seen[chunk.ChunkID]; ok {
			facts[i].Entities = append(facts[i].Entities, chunk.Entity)
			continue
		}
		seen[chunk.ChunkID] = len(facts)
		facts = append(facts, RankedFact{
			Text:     chunk.Text,
			ChunkID:  chunk.ChunkID,
			Entities: []string{chunk.Entity},
		})
	}

	texts := make([]string, len(facts))
	for i, fact := range facts {
		texts[i] = fact.Text
	}
	scores, err := q.scorer.Score(ctx, question, texts)
	if err != nil {
		return nil, err
	}
	for i := range facts {
		if i < len(scores) {
			facts[i].Score = scores[i]
		}
	}

	sort.SliceStable(facts, func(i, j int) bool {
		return facts[i].Score > facts[j].Score
	})
	if topK > 0 && len(facts) > topK {
		facts = facts[:topK]
	}
	return facts, nil
}
