package mining

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMine_NumberingRule(t *testing.T) {
	t.Parallel()

	miner := NewMiner(nil, nil)
	rules := miner.Mine("Таблицы должны иметь сквозную нумерацию.", "doc1_3")

	require.Len(t, rules, 1)
	assert.Equal(t, RuleNumbering, rules[0].Type)
	assert.Equal(t, []string{"Таблицы"}, rules[0].Elements)
	assert.Equal(t, "doc1_3", rules[0].ChunkID)
	assert.Contains(t, rules[0].ID, "rule_doc1_3_")
}

func TestMine_Idempotent(t *testing.T) {
	t.Parallel()

	text := "Шрифт основного текста должен быть Times New Roman. Размер шрифта устанавливается равным 14 пт."
	miner := NewMiner(nil, nil)

	first := miner.Mine(text, "doc1_0")
	second := miner.Mine(text, "doc1_0")

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Elements, second[i].Elements)
		assert.Equal(t, first[i].Type, second[i].Type)
	}
}

func TestMine_DropsShortFragments(t *testing.T) {
	t.Parallel()

	miner := NewMiner(nil, nil)
	rules := miner.Mine("См. раздел 5.", "doc1_1")
	assert.Empty(t, rules)
}

func TestMine_NoTriggerNoRule(t *testing.T) {
	t.Parallel()

	miner := NewMiner(nil, nil)
	rules := miner.Mine("В этой главе рассматривается история развития физики плазмы.", "doc1_2")
	assert.Empty(t, rules)
}

func TestMine_DropsOverlongSentences(t *testing.T) {
	t.Parallel()

	long := "Шрифт должен быть "
	for len([]rune(long)) < 350 {
		long += "очень "
	}
	long += "красивым."

	miner := NewMiner(nil, nil)
	assert.Empty(t, miner.Mine(long, "doc1_4"))
}

func TestMine_MultipleSentences(t *testing.T) {
	t.Parallel()

	text := "Поля страницы должны составлять 20 мм слева. Рисунки нумеруются арабскими цифрами по порядку!\nЭто предложение не содержит ничего нормативного про физику."
	miner := NewMiner(nil, nil)

	rules := miner.Mine(text, "doc2_0")
	require.Len(t, rules, 2)

	assert.Equal(t, RuleMargins, rules[0].Type)
	assert.Contains(t, rules[0].Elements, "Страницы")

	assert.Equal(t, RuleNumbering, rules[1].Type)
	assert.Contains(t, rules[1].Elements, "Рисунки")
}

func TestClassify_FirstMatchWins(t *testing.T) {
	t.Parallel()

	vocab := DefaultVocabulary()

	// "шрифт" sits above "размер" in the table, so a sentence mentioning
	// both classifies as font.
	got := classify("шрифт и размер определяются гостом", vocab.TypeKeys)
	assert.Equal(t, RuleFont, got)

	got = classify("для сносок допускается меньший размер", vocab.TypeKeys)
	assert.Equal(t, RuleFontSize, got)

	got = classify("ничего предметного", vocab.TypeKeys)
	assert.Equal(t, RuleOther, got)
}

func TestSplitSentences_AbbreviationsSurvive(t *testing.T) {
	t.Parallel()

	// Periods inside "3.5" must not split; the sentence stays whole.
	got := splitSentences("Межстрочный интервал устанавливается равным 1.5 по всему тексту.", 25)
	require.Len(t, got, 1)
}
