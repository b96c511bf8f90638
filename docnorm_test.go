package docnorm

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddrozdov/docnorm/cache"
	"github.com/ddrozdov/docnorm/graph"
	"github.com/ddrozdov/docnorm/retrieval"
)

type fakeVector struct {
	chunks []retrieval.RankedChunk
	err    error
}

func (f *fakeVector) Retrieve(context.Context, string, retrieval.Options) ([]retrieval.RankedChunk, error) {
	return f.chunks, f.err
}

type fakeGraph struct {
	facts []graph.RankedFact
	err   error
}

func (f *fakeGraph) AnswerEntities(context.Context, string, int) ([]graph.RankedFact, error) {
	return f.facts, f.err
}

type fakeGenerator struct {
	answer   string
	contexts []string
}

func (f *fakeGenerator) Generate(_ context.Context, contextBlock, _ string) (string, error) {
	f.contexts = append(f.contexts, contextBlock)
	return f.answer, nil
}

func (f *fakeGenerator) GenerateStream(ctx context.Context, contextBlock, question string, fn func(string) error) error {
	answer, err := f.Generate(ctx, contextBlock, question)
	if err != nil {
		return err
	}
	return fn(answer)
}

func TestNewEngine_Validation(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{}

	_, err := NewEngine(nil, &fakeGraph{}, gen, nil, EngineConfig{Mode: ModeHybrid}, nil)
	assert.ErrorContains(t, err, "vector retriever")

	_, err = NewEngine(&fakeVector{}, nil, gen, nil, EngineConfig{Mode: ModeGraph}, nil)
	assert.ErrorContains(t, err, "graph retriever")

	_, err = NewEngine(&fakeVector{}, nil, nil, nil, EngineConfig{Mode: ModeVector}, nil)
	assert.ErrorContains(t, err, "generator")

	_, err = NewEngine(&fakeVector{}, nil, gen, nil, EngineConfig{Mode: ModeVector}, nil)
	assert.NoError(t, err)
}

func TestAsk_HybridMergesAndDedupes(t *testing.T) {
	t.Parallel()

	vector := &fakeVector{chunks: []retrieval.RankedChunk{
		{Text: "Шрифт Times New Roman.", Document: "gost.pdf", DocID: "doc1", ChunkID: "0", Similarity: 0.9, Score: 4.0},
		{Text: "Размер шрифта 14 пт.", Document: "gost.pdf", DocID: "doc1", ChunkID: "1", Similarity: 0.8, Score: 3.0},
	}}
	graphPath := &fakeGraph{facts: []graph.RankedFact{
		// Same chunk as the first vector hit; must not appear twice.
		{Text: "Шрифт Times New Roman.", ChunkID: "doc1_0", Document: "gost.pdf", Entities: []string{"шрифт"}, Score: 2.0},
		{Text: "Поля страницы 20 мм.", ChunkID: "doc1_7", Document: "gost.pdf", Entities: []string{"поля"}, Score: 1.5},
	}}
	gen := &fakeGenerator{answer: "Times New Roman, 14 пт."}

	engine, err := NewEngine(vector, graphPath, gen, nil, EngineConfig{Mode: ModeHybrid}, nil)
	require.NoError(t, err)

	answer, err := engine.Ask(context.Background(), "Какой шрифт использовать?")
	require.NoError(t, err)

	assert.Equal(t, "Times New Roman, 14 пт.", answer.Text)
	assert.False(t, answer.Cached)
	require.Len(t, answer.Sources, 3)
	assert.Equal(t, "vector", answer.Sources[0].Kind)
	assert.Equal(t, "vector", answer.Sources[1].Kind)
	assert.Equal(t, "graph", answer.Sources[2].Kind)
	assert.Equal(t, "поля", answer.Sources[2].Label)
	assert.Equal(t, "doc1_7", answer.Sources[2].ChunkID)

	require.Len(t, gen.contexts, 1)
	assert.Equal(t, 1, strings.Count(gen.contexts[0], "Шрифт Times New Roman."))
	assert.Contains(t, gen.contexts[0], retrieval.SectionDelimiter)
	assert.Contains(t, gen.contexts[0], "Поля страницы 20 мм.")
}

func TestAsk_GraphPathError(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(
		&fakeVector{},
		&fakeGraph{err: assert.AnError},
		&fakeGenerator{},
		nil,
		EngineConfig{Mode: ModeHybrid}, nil)
	require.NoError(t, err)

	_, err = engine.Ask(context.Background(), "вопрос")
	require.ErrorIs(t, err, assert.AnError)
}

func TestAsk_CachedAnswerSkipsPipeline(t *testing.T) {
	mr := miniredis.RunT(t)
	answers, err := cache.New(cache.Config{Addr: mr.Addr(), TTL: time.Minute}, nil)
	require.NoError(t, err)
	defer answers.Close() //nolint:errcheck

	gen := &fakeGenerator{answer: "ответ"}
	vector := &fakeVector{chunks: []retrieval.RankedChunk{
		{Text: "Шрифт Times New Roman.", Document: "gost.pdf", DocID: "doc1", ChunkID: "0"},
	}}

	engine, err := NewEngine(vector, nil, gen, answers, EngineConfig{Mode: ModeVector}, nil)
	require.NoError(t, err)

	first, err := engine.Ask(context.Background(), "Какой шрифт использовать?")
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := engine.Ask(context.Background(), "какой ШРИФТ использовать?")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Text, second.Text)
	assert.NotEmpty(t, second.Sources)

	// The generator ran only for the first question.
	assert.Len(t, gen.contexts, 1)
}

func TestAnswer_Format(t *testing.T) {
	t.Parallel()

	a := &Answer{
		Text: "Times New Roman.",
		Sources: []Source{
			{Kind: "vector", Document: "gost.pdf", Similarity: 0.9123, Score: 4.5, Preview: "Шрифт..."},
			{Kind: "graph", Label: "шрифт", Score: 2.0, Preview: "Шрифт..."},
		},
	}

	out := a.Format()
	assert.Contains(t, out, "Times New Roman.")
	assert.Contains(t, out, "Источники:")
	assert.Contains(t, out, "1. Источник: gost.pdf")
	assert.Contains(t, out, "Similarity: 0.9123")
	assert.Contains(t, out, "2. Сущность: шрифт")

	bare := &Answer{Text: "ответ"}
	assert.Equal(t, "ответ", bare.Format())
}

func TestSourceDescribe_UnknownDocument(t *testing.T) {
	t.Parallel()

	s := Source{Kind: "vector", Preview: "текст"}
	assert.Contains(t, s.Describe(), "Unknown")
}
