package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddrozdov/docnorm/mining"
)

type fakeChunkSource struct {
	chunks  []EntityChunk
	err     error
	asked   []string
	limit   int
	queries int
}

func (f *fakeChunkSource) ChunksByEntities(_ context.Context, entities []string, limit int) ([]EntityChunk, error) {
	f.queries++
	f.asked = entities
	f.limit = limit
	return f.chunks, f.err
}

func newTestEntityQuery(t *testing.T, source EntityChunkSource, scorer Scorer) *EntityQuery {
	t.Helper()
	entities, err := mining.NewEntityTable(mining.DefaultEntityPatterns())
	require.NoError(t, err)
	return NewEntityQuery(source, scorer, entities, 0, nil)
}

func TestEntityQuery_CollapsesPerChunk(t *testing.T) {
	t.Parallel()

	// The traversal returns one row per (chunk, entity) pair.
	source := &fakeChunkSource{chunks: []EntityChunk{
		{ChunkID: "doc1_0", Text: "Шрифт и поля по ГОСТ.", Entity: "шрифт"},
		{ChunkID: "doc1_0", Text: "Шрифт и поля по ГОСТ.", Entity: "поля"},
		{ChunkID: "doc1_3", Text: "Поля страницы 20 мм.", Entity: "поля"},
	}}
	scorer := &fakeScorer{scores: map[string]float64{
		"Поля страницы 20 мм.": 0.9,
	}}
	q := newTestEntityQuery(t, source, scorer)

	facts, err := q.AnswerEntities(context.Background(), "Какой шрифт и какие поля нужны?", 5)
	require.NoError(t, err)

	assert.Equal(t, 50, source.limit)
	assert.Contains(t, source.asked, "шрифт")
	assert.Contains(t, source.asked, "поля")

	require.Len(t, facts, 2)
	assert.Equal(t, "doc1_3", facts[0].ChunkID)
	assert.Equal(t, "doc1_0", facts[1].ChunkID)
	assert.Equal(t, []string{"шрифт", "поля"}, facts[1].Entities)
}

func TestEntityQuery_NoAnchorNoTraversal(t *testing.T) {
	t.Parallel()

	source := &fakeChunkSource{}
	q := newTestEntityQuery(t, source, &fakeScorer{})

	facts, err := q.AnswerEntities(context.Background(), "Что сегодня на ужин?", 5)
	require.NoError(t, err)
	assert.Empty(t, facts)
	assert.Zero(t, source.queries)
}

func TestEntityQuery_TraversalErrorPropagates(t *testing.T) {
	t.Parallel()

	source := &fakeChunkSource{err: assert.AnError}
	q := newTestEntityQuery(t, source, &fakeScorer{})

	_, err := q.AnswerEntities(context.Background(), "Какой шрифт использовать?", 5)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestEntityQuery_TopK(t *testing.T) {
	t.Parallel()

	source := &fakeChunkSource{chunks: []EntityChunk{
		{ChunkID: "doc1_0", Text: "первый про шрифт", Entity: "шрифт"},
		{ChunkID: "doc1_1", Text: "второй про шрифт", Entity: "шрифт"},
		{ChunkID: "doc1_2", Text: "третий про шрифт", Entity: "шрифт"},
	}}
	q := newTestEntityQuery(t, source, &fakeScorer{})

	facts, err := q.AnswerEntities(context.Background(), "Какой шрифт использовать?", 2)
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "doc1_0", facts[0].ChunkID)
	assert.Equal(t, "doc1_1", facts[1].ChunkID)
}
