package graph

import (
	"go.uber.org/zap"

	"github.com/ddrozdov/docnorm/mining"
)

// Builder materializes mined facts from a chunk corpus as graph nodes and
// edges. The graph is rebuilt from scratch on every run; there is no
// incremental patching, which sidesteps stale facts from edited documents.
type Builder struct {
	miner    *mining.Miner
	entities *mining.EntityTable
	logger   *zap.Logger
}

// NewBuilder creates a graph builder. The entity table may be nil when only
// the rule/element variant is used.
func NewBuilder(miner *mining.Miner, entities *mining.EntityTable, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		miner:    miner,
		entities: entities,
		logger:   logger.With(zap.String("component", "graph_builder")),
	}
}

// BuildRules builds the rule/element-typed graph: every chunk is linked to
// its document, every mined rule to its chunk, and every governed element
// to its rule. Running it twice over the same corpus produces a graph with
// identical node and edge counts.
func (b *Builder) BuildRules(chunks []Chunk) *Graph {
	g := New(b.logger)

	for _, chunk := range chunks {
		b.mergeChunk(g, chunk)

		for _, rule := range b.miner.Mine(chunk.Text, chunk.ID) {
			ruleNode := g.MergeNode(NodeRule, rule.ID, map[string]string{
				"text":     rule.Text,
				"type":     string(rule.Type),
				"chunk_id": rule.ChunkID,
			})
			g.MergeEdge(NodeID(NodeChunk, chunk.ID), ruleNode.ID, EdgeContainsRule)

			for _, element := range rule.Elements {
				elemNode := g.MergeNode(NodeElement, element, nil)
				g.MergeEdge(ruleNode.ID, elemNode.ID, EdgeAppliesTo)
			}
		}
	}

	b.logger.Info("rule graph built", zap.String("stats", g.Stats()))
	return g
}

// BuildEntities builds the keyword-driven graph variant: chunks are linked
// to every entity their text mentions.
func (b *Builder) BuildEntities(chunks []Chunk) *Graph {
	g := New(b.logger)

	for _, chunk := range chunks {
		b.mergeChunk(g, chunk)

		for _, entity := range mining.DetectEntities(chunk.Text, b.entities) {
			entNode := g.MergeNode(NodeEntity, entity, nil)
			g.MergeEdge(NodeID(NodeChunk, chunk.ID), entNode.ID, EdgeMentions)
		}
	}

	b.logger.Info("entity graph built", zap.String("stats", g.Stats()))
	return g
}

func (b *Builder) mergeChunk(g *Graph, chunk Chunk) {
	docNode := g.MergeNode(NodeDocument, chunk.Document, nil)
	chunkNode := g.MergeNode(NodeChunk, chunk.ID, map[string]string{
		"text":     chunk.Text,
		"document": chunk.Document,
	})
	g.MergeEdge(docNode.ID, chunkNode.ID, EdgeHasChunk)
}
