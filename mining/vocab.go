package mining

import (
	"regexp"
	"sort"
	"strings"
)

// normalizeRe strips everything that is not a letter, digit or whitespace.
// Mining and query-side detection must normalize identically, otherwise
// rebuilt graphs and incoming questions stop agreeing on keys.
var normalizeRe = regexp.MustCompile(`[^\p{L}\p{N}\s]`)

// Normalize lowercases text and replaces punctuation with spaces.
func Normalize(text string) string {
	return normalizeRe.ReplaceAllString(strings.ToLower(text), " ")
}

// RuleType classifies a mined rule.
type RuleType string

const (
	RuleFont        RuleType = "font"
	RuleFontSize    RuleType = "font_size"
	RuleLineSpacing RuleType = "line_spacing"
	RuleMargins     RuleType = "margins"
	RuleNumbering   RuleType = "numbering"
	RuleLayout      RuleType = "layout"
	RuleFormatting  RuleType = "formatting"
	RuleOther       RuleType = "other"
)

// TypeKey maps a lowercase substring to a rule type. Order matters:
// classification is first-match over the slice.
type TypeKey struct {
	Key  string
	Type RuleType
}

// Vocabulary is the immutable keyword configuration driving the miner and
// the detectors. Built once at startup and passed in explicitly; the miner
// holds no package-level mutable state.
type Vocabulary struct {
	// Triggers are normative markers; a sentence without any of them is
	// not considered a rule candidate.
	Triggers []string

	// TypeKeys is the ordered rule-type classification table.
	TypeKeys []TypeKey

	// Elements maps a normalized keyword to the canonical element name.
	Elements map[string]string

	// MinSentenceLen discards fragments ("см. раздел") below this rune count.
	MinSentenceLen int

	// MaxSentenceLen discards run-on spans that the sentence splitter failed
	// to break up; they are almost never a single rule.
	MaxSentenceLen int
}

// DefaultVocabulary returns the built-in Russian vocabulary for
// formatting-standard documents (ГОСТ-style thesis style manuals).
func DefaultVocabulary() *Vocabulary {
	return &Vocabulary{
		Triggers: []string{
			"должен", "должны", "следует", "необходимо",
			"допускается", "не допускается",
			"запрещается",
			"выполняется", "оформляется",
			"указывается", "приводится",
			"печатается", "располагается",
			"нумеруется", "нумеруются",
			"размер", "шрифт", "интервал", "поля",
		},
		TypeKeys: []TypeKey{
			{Key: "шрифт", Type: RuleFont},
			{Key: "размер", Type: RuleFontSize},
			{Key: "пт", Type: RuleFontSize},
			{Key: "интервал", Type: RuleLineSpacing},
			{Key: "поля", Type: RuleMargins},
			{Key: "мм", Type: RuleMargins},
			{Key: "нумер", Type: RuleNumbering},
			{Key: "располаг", Type: RuleLayout},
			{Key: "оформля", Type: RuleFormatting},
		},
		Elements: map[string]string{
			"таблиц":           "Таблицы",
			"рисун":            "Рисунки",
			"иллюстрац":        "Иллюстрации",
			"формул":           "Формулы",
			"приложени":        "Приложения",
			"титульн":          "Титульный лист",
			"реферат":          "Реферат",
			"введени":          "Введение",
			"заключени":        "Заключение",
			"основная часть":   "Основная часть",
			"список литератур": "Список литературы",
			"источник":         "Список использованных источников",
			"заголов":          "Заголовки",
			"сноск":            "Сноски",
			"страниц":          "Страницы",
			"текст":            "Текст",
		},
		MinSentenceLen: 25,
		MaxSentenceLen: 300,
	}
}

// DetectElements returns the canonical names of all vocabulary elements
// mentioned in text. The input is normalized before substring matching, so
// punctuation and case never affect the result. No match yields an empty set.
func DetectElements(text string, vocab *Vocabulary) []string {
	normalized := Normalize(text)

	found := make(map[string]struct{})
	for key, name := range vocab.Elements {
		if strings.Contains(normalized, key) {
			found[name] = struct{}{}
		}
	}

	out := make([]string, 0, len(found))
	for name := range found {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// EntityPattern holds the compiled patterns recognizing one entity.
// First-match-wins within one entity's pattern list, union across entities.
type EntityPattern struct {
	Name     string
	Patterns []*regexp.Regexp
}

// EntityTable is the compiled entity recognition configuration for the
// keyword-driven graph variant.
type EntityTable struct {
	entries []EntityPattern
}

// NewEntityTable compiles a name -> pattern-list table. Pattern compilation
// errors surface immediately so a broken table fails at startup, not on the
// first question.
func NewEntityTable(patterns map[string][]string) (*EntityTable, error) {
	names := make([]string, 0, len(patterns))
	for name := range patterns {
		names = append(names, name)
	}
	sort.Strings(names)

	t := &EntityTable{}
	for _, name := range names {
		entry := EntityPattern{Name: name}
		for _, p := range patterns[name] {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, err
			}
			entry.Patterns = append(entry.Patterns, re)
		}
		t.entries = append(t.entries, entry)
	}
	return t, nil
}

// DefaultEntityPatterns returns the built-in entity table for the Russian
// formatting-manual domain.
func DefaultEntityPatterns() map[string][]string {
	return map[string][]string{
		"ГОСТ":                 {`гост`},
		"таблица":              {`таблиц`},
		"рисунок":              {`рисун`, `иллюстрац`},
		"шрифт":                {`шрифт`},
		"размер шрифта":        {`размер шрифта`, `кегл`, `(^|\s)пт(\s|$)`},
		"межстрочный интервал": {`интервал`},
		"поля":                 {`(^|\s)пол[яей](\s|$)`, `отступ`},
		"нумерация":            {`нумерац`, `нумеру`},
		"список литературы":    {`список литератур`, `библиограф`, `источник`},
		"приложение":           {`приложени`},
		"оформление":           {`оформлен`},
		"введение":             {`введени`},
		"заключение":           {`заключени`},
		"основная часть":       {`основн\w* част`},
		"титульный лист":       {`титульн`},
		"реферат":              {`реферат`},
	}
}

// DetectEntities returns every entity whose pattern list matches the text.
// All matches are collected (not first-match across entities); an empty
// result means the text anchors to nothing in the graph. Input is run
// through the same normalization as element detection; patterns anchor on
// whitespace rather than \b, which RE2 defines over ASCII only.
func DetectEntities(text string, table *EntityTable) []string {
	normalized := Normalize(text)

	var found []string
	for _, entry := range table.entries {
		for _, re := range entry.Patterns {
			if re.MatchString(normalized) {
				found = append(found, entry.Name)
				break
			}
		}
	}
	return found
}
