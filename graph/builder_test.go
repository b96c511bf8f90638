package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddrozdov/docnorm/mining"
)

func testCorpus() []Chunk {
	return []Chunk{
		{
			ID:       "doc1_0",
			Document: "doc1",
			Text:     "Шрифт основного текста должен быть Times New Roman. Размер шрифта устанавливается равным 14 пт.",
		},
		{
			ID:       "doc1_1",
			Document: "doc1",
			Text:     "Таблицы должны иметь сквозную нумерацию.",
		},
	}
}

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	entities, err := mining.NewEntityTable(mining.DefaultEntityPatterns())
	require.NoError(t, err)
	return NewBuilder(mining.NewMiner(nil, nil), entities, nil)
}

func TestBuildRules(t *testing.T) {
	t.Parallel()

	g := newTestBuilder(t).BuildRules(testCorpus())

	require.Len(t, g.NodesByType(NodeDocument), 1)
	require.Len(t, g.NodesByType(NodeChunk), 2)
	rules := g.NodesByType(NodeRule)
	require.Len(t, rules, 3)

	// Every chunk hangs off its document and every rule off its chunk.
	doc := NodeID(NodeDocument, "doc1")
	assert.True(t, g.HasEdge(doc, NodeID(NodeChunk, "doc1_0"), EdgeHasChunk))
	assert.True(t, g.HasEdge(doc, NodeID(NodeChunk, "doc1_1"), EdgeHasChunk))
	for _, rule := range rules {
		assert.True(t, g.HasEdge(NodeID(NodeChunk, rule.Attrs["chunk_id"]), rule.ID, EdgeContainsRule))
	}

	// The numbering rule governs the Таблицы element.
	elem := NodeID(NodeElement, "Таблицы")
	sources := g.Sources(elem, EdgeAppliesTo)
	require.Len(t, sources, 1)
	assert.Equal(t, string(mining.RuleNumbering), sources[0].Attrs["type"])
}

func TestBuildRules_RebuildIdentical(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t)
	first := b.BuildRules(testCorpus())
	second := b.BuildRules(testCorpus())

	assert.Equal(t, first.NodeCount(), second.NodeCount())
	assert.Equal(t, first.EdgeCount(), second.EdgeCount())
	assert.Equal(t, first.Stats(), second.Stats())
}

func TestBuildEntities(t *testing.T) {
	t.Parallel()

	g := newTestBuilder(t).BuildEntities(testCorpus())

	// doc1_0 mentions шрифт and размер шрифта; doc1_1 mentions таблица and нумерация.
	chunk0 := NodeID(NodeChunk, "doc1_0")
	assert.True(t, g.HasEdge(chunk0, NodeID(NodeEntity, "шрифт"), EdgeMentions))
	assert.True(t, g.HasEdge(chunk0, NodeID(NodeEntity, "размер шрифта"), EdgeMentions))

	chunk1 := NodeID(NodeChunk, "doc1_1")
	assert.True(t, g.HasEdge(chunk1, NodeID(NodeEntity, "таблица"), EdgeMentions))
	assert.True(t, g.HasEdge(chunk1, NodeID(NodeEntity, "нумерация"), EdgeMentions))
	assert.False(t, g.HasEdge(chunk1, NodeID(NodeEntity, "шрифт"), EdgeMentions))

	assert.Empty(t, g.NodesByType(NodeRule))
}
