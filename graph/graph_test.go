package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeNode_Idempotent(t *testing.T) {
	t.Parallel()

	g := New(nil)
	first := g.MergeNode(NodeChunk, "doc1_0", map[string]string{"text": "original"})
	second := g.MergeNode(NodeChunk, "doc1_0", map[string]string{"text": "changed", "document": "doc1"})

	assert.Same(t, first, second)
	assert.Equal(t, 1, g.NodeCount())

	// Existing attributes win; new keys fill in.
	assert.Equal(t, "original", second.Attrs["text"])
	assert.Equal(t, "doc1", second.Attrs["document"])
}

func TestMergeEdge_Deduplicates(t *testing.T) {
	t.Parallel()

	g := New(nil)
	g.MergeNode(NodeChunk, "doc1_0", nil)
	g.MergeNode(NodeEntity, "шрифт", nil)

	src := NodeID(NodeChunk, "doc1_0")
	dst := NodeID(NodeEntity, "шрифт")
	for i := 0; i < 3; i++ {
		g.MergeEdge(src, dst, EdgeMentions)
	}

	assert.Equal(t, 1, g.EdgeCount())
	assert.True(t, g.HasEdge(src, dst, EdgeMentions))
	assert.False(t, g.HasEdge(dst, src, EdgeMentions))
}

func TestTargetsAndSources_InsertionOrder(t *testing.T) {
	t.Parallel()

	g := New(nil)
	rule := g.MergeNode(NodeRule, "rule_doc1_0_0001", nil)
	for _, elem := range []string{"Таблицы", "Рисунки", "Формулы"} {
		n := g.MergeNode(NodeElement, elem, nil)
		g.MergeEdge(rule.ID, n.ID, EdgeAppliesTo)
	}

	targets := g.Targets(rule.ID, EdgeAppliesTo)
	require.Len(t, targets, 3)
	assert.Equal(t, "Таблицы", targets[0].Key)
	assert.Equal(t, "Рисунки", targets[1].Key)
	assert.Equal(t, "Формулы", targets[2].Key)

	sources := g.Sources(NodeID(NodeElement, "Рисунки"), EdgeAppliesTo)
	require.Len(t, sources, 1)
	assert.Equal(t, rule.ID, sources[0].ID)
}

func TestNodesByType(t *testing.T) {
	t.Parallel()

	g := New(nil)
	g.MergeNode(NodeDocument, "doc1", nil)
	g.MergeNode(NodeChunk, "doc1_0", nil)
	g.MergeNode(NodeChunk, "doc1_1", nil)

	chunks := g.NodesByType(NodeChunk)
	require.Len(t, chunks, 2)
	assert.Equal(t, "doc1_0", chunks[0].Key)
	assert.Equal(t, "doc1_1", chunks[1].Key)
	assert.Empty(t, g.NodesByType(NodeEntity))
}
