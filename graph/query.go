package graph

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ddrozdov/docnorm/mining"
)

// Scorer is the external cross-encoder scoring service: pairwise
// question/text relevance, higher is better, batched over texts.
type Scorer interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// IntentKey maps a normalized question substring to a query intent.
// Detection is first-match over the slice, so order is significant.
type IntentKey struct {
	Keys   []string
	Intent mining.RuleType
}

// DefaultIntentTable returns the ordered intent table for formatting
// questions. Font-size markers sit above the bare "шрифт" key so that
// "размер шрифта" resolves to font_size, not font.
func DefaultIntentTable() []IntentKey {
	return []IntentKey{
		{Keys: []string{"размер шрифта", "кегл"}, Intent: mining.RuleFontSize},
		{Keys: []string{"шрифт"}, Intent: mining.RuleFont},
		{Keys: []string{"поля", "отступ"}, Intent: mining.RuleMargins},
		{Keys: []string{"интервал"}, Intent: mining.RuleLineSpacing},
		{Keys: []string{"нумер"}, Intent: mining.RuleNumbering},
		{Keys: []string{"располож", "располаг"}, Intent: mining.RuleLayout},
		{Keys: []string{"оформ"}, Intent: mining.RuleFormatting},
	}
}

// RankedFact is a provenance-tagged query result from the graph path.
type RankedFact struct {
	Text     string          `json:"text"`
	RuleID   string          `json:"rule_id,omitempty"`
	ChunkID  string          `json:"chunk_id"`
	Document string          `json:"document,omitempty"`
	Intent   mining.RuleType `json:"intent,omitempty"`
	Elements []string        `json:"elements,omitempty"`
	Entities []string        `json:"entities,omitempty"`
	Score    float64         `json:"score"`
}

// QueryEngine answers questions by traversing an already-built graph.
// It holds no session state; every call is an independent read.
type QueryEngine struct {
	graph    *Graph
	scorer   Scorer
	vocab    *mining.Vocabulary
	entities *mining.EntityTable
	intents  []IntentKey
	elemKeys []string
	logger   *zap.Logger
}

// NewQueryEngine creates a query engine over the given graph. The scorer is
// the external relevance service; vocab and entities must match the tables
// the graph was built with, otherwise question-side detection and graph
// contents disagree.
func NewQueryEngine(g *Graph, scorer Scorer, vocab *mining.Vocabulary, entities *mining.EntityTable, logger *zap.Logger) *QueryEngine {
	if vocab == nil {
		vocab = mining.DefaultVocabulary()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Element detection is first-match; a sorted key list keeps that match
	// deterministic across runs (map iteration order is not).
	elemKeys := make([]string, 0, len(vocab.Elements))
	for k := range vocab.Elements {
		elemKeys = append(elemKeys, k)
	}
	sort.Strings(elemKeys)

	return &QueryEngine{
		graph:    g,
		scorer:   scorer,
		vocab:    vocab,
		entities: entities,
		intents:  DefaultIntentTable(),
		elemKeys: elemKeys,
		logger:   logger.With(zap.String("component", "graph_query")),
	}
}

// DetectIntent returns at most one intent for a question, empty when no
// intent keyword matches.
func (q *QueryEngine) DetectIntent(question string) mining.RuleType {
	normalized := mining.Normalize(question)
	for _, entry := range q.intents {
		for _, key := range entry.Keys {
			if strings.Contains(normalized, key) {
				return entry.Intent
			}
		}
	}
	return ""
}

// DetectElement returns at most one element name for a question, empty when
// no element keyword matches.
func (q *QueryEngine) DetectElement(question string) string {
	normalized := mining.Normalize(question)
	for _, key := range q.elemKeys {
		if strings.Contains(normalized, key) {
			return q.vocab.Elements[key]
		}
	}
	return ""
}

// Answer maps a question onto rule nodes: all rules, narrowed by detected
// intent, then by detected element (a rule passes iff it has an applies_to
// edge to the matched element). Survivors are scored by the external
// service and returned in descending score order, top-K, with provenance.
// No surviving candidates is an empty result, not an error.
func (q *QueryEngine) Answer(ctx context.Context, question string, topK int) ([]RankedFact, error) {
	intent := q.DetectIntent(question)
	element := q.DetectElement(question)

	var candidates []*Node
	for _, rule := range q.graph.NodesByType(NodeRule) {
		if intent != "" && rule.Attrs["type"] != string(intent) {
			continue
		}
		if element != "" && !q.graph.HasEdge(rule.ID, NodeID(NodeElement, element), EdgeAppliesTo) {
			continue
		}
		candidates = append(candidates, rule)
	}

	if len(candidates) == 0 {
		q.logger.Debug("no rules survive filtering",
			zap.String("intent", string(intent)),
			zap.String("element", element))
		return nil, nil
	}

	facts := make([]RankedFact, 0, len(candidates))
	texts := make([]string, 0, len(candidates))
	for _, rule := range candidates {
		fact := RankedFact{
			Text:    rule.Attrs["text"],
			RuleID:  rule.Key,
			ChunkID: rule.Attrs["chunk_id"],
			Intent:  intent,
		}
		for _, elem := range q.graph.Targets(rule.ID, EdgeAppliesTo) {
			fact.Elements = append(fact.Elements, elem.Key)
		}
		if chunk, ok := q.graph.GetNode(NodeChunk, fact.ChunkID); ok {
			fact.Document = chunk.Attrs["document"]
		}
		facts = append(facts, fact)
		texts = append(texts, fact.Text)
	}

	return q.rank(ctx, question, facts, texts, topK)
}

// AnswerEntities is the keyword-graph variant: every entity whose pattern
// matches the question anchors the traversal, and all chunks one MENTIONS
// hop away are collected. A question with no recognized entity returns an
// empty result; a graph-wide scan without anchoring is deliberately not
// attempted.
func (q *QueryEngine) AnswerEntities(ctx context.Context, question string, topK int) ([]RankedFact, error) {
	matched := mining.DetectEntities(question, q.entities)
	if len(matched) == 0 {
		q.logger.Debug("no entities recognized in question")
		return nil, nil
	}

	seen := make(map[string]*RankedFact)
	var order []string
	for _, entity := range matched {
		for _, chunk := range q.graph.Sources(NodeID(NodeEntity, entity), EdgeMentions) {
			if fact, ok := seen[chunk.Key]; ok {
				fact.Entities = append(fact.Entities, entity)
				continue
			}
			seen[chunk.Key] = &RankedFact{
				Text:     chunk.Attrs["text"],
				ChunkID:  chunk.Key,
				Document: chunk.Attrs["document"],
				Entities: []string{entity},
			}
			order = append(order, chunk.Key)
		}
	}

	if len(order) == 0 {
		return nil, nil
	}

	facts := make([]RankedFact, 0, len(order))
	texts := make([]string, 0, len(order))
	for _, chunkID := range order {
		facts = append(facts, *seen[chunkID])
		texts = append(texts, seen[chunkID].Text)
	}

	return q.rank(ctx, question, facts, texts, topK)
}

// rank scores candidates against the question, sorts descending and
// truncates to topK. The sort is stable so equal scores keep discovery
// order.
func (q *QueryEngine) rank(ctx context.Context, question string, facts []RankedFact, texts []string, topK int) ([]RankedFact, error) {
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

	q.logger.Debug("graph query ranked",
		zap.Int("results", len(facts)))
	return facts, nil
}
