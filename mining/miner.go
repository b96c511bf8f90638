// Package mining extracts normative formatting rules and keyword entities
// from Russian document chunks.
package mining

import (
	"fmt"
	"hash/fnv"
	"strings"

	"go.uber.org/zap"
)

// Rule is a mined sentence expressing a normative formatting instruction.
// Immutable once created; many rules may derive from one chunk.
type Rule struct {
	ID       string   `json:"id"`
	ChunkID  string   `json:"chunk_id"`
	Text     string   `json:"text"`
	Type     RuleType `json:"type"`
	Elements []string `json:"elements,omitempty"`
}

// Miner extracts rules from raw chunk text. It is a pure function over its
// inputs plus the injected vocabulary; mining the same chunk twice yields
// identical rule IDs and element sets.
type Miner struct {
	vocab  *Vocabulary
	logger *zap.Logger
}

// NewMiner creates a rule miner over the given vocabulary. A nil vocabulary
// falls back to the built-in one.
func NewMiner(vocab *Vocabulary, logger *zap.Logger) *Miner {
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Miner{
		vocab:  vocab,
		logger: logger.With(zap.String("component", "rule_miner")),
	}
}

// Mine splits chunk text into sentences and returns every sentence that
// carries a normative trigger, classified and tagged with the elements it
// governs. Malformed input never fails; worst case is an empty slice.
func (m *Miner) Mine(chunkText, chunkID string) []Rule {
	sentences := splitSentences(chunkText, m.vocab.MinSentenceLen)

	var rules []Rule
	for _, sent := range sentences {
		low := strings.ToLower(sent)

		if !containsAny(low, m.vocab.Triggers) {
			continue
		}
		if len([]rune(low)) >= m.vocab.MaxSentenceLen {
			continue
		}

		rules = append(rules, Rule{
			ID:       ruleID(chunkID, sent),
			ChunkID:  chunkID,
			Text:     sent,
			Type:     classify(low, m.vocab.TypeKeys),
			Elements: DetectElements(sent, m.vocab),
		})
	}

	if len(rules) > 0 {
		m.logger.Debug("rules mined",
			zap.String("chunk_id", chunkID),
			zap.Int("count", len(rules)))
	}
	return rules
}

// ruleID derives a stable identifier from the owning chunk and a content
// hash of the rule text, so re-mining an unchanged chunk reproduces the
// same IDs and graph rebuilds stay idempotent.
func ruleID(chunkID, text string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	return fmt.Sprintf("rule_%s_%04d", chunkID, h.Sum32()%10000)
}

// splitSentences collapses newlines and splits on sentence-final punctuation
// followed by whitespace, dropping fragments shorter than minLen runes.
func splitSentences(text string, minLen int) []string {
	text = strings.ReplaceAll(text, "\n", " ")

	var sentences []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		if runes[i] != '.' && runes[i] != '!' && runes[i] != '?' {
			continue
		}
		// Sentence boundary only when punctuation is followed by whitespace
		// (or ends the text); "3.5" and "п.2" stay intact.
		if i+1 < len(runes) && !isSpace(runes[i+1]) {
			continue
		}
		sentences = append(sentences, string(runes[start:i+1]))
		i++
		for i < len(runes) && isSpace(runes[i]) {
			i++
		}
		start = i
		i--
	}
	if start < len(runes) {
		sentences = append(sentences, string(runes[start:]))
	}

	var out []string
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if len([]rune(s)) > minLen {
			out = append(out, s)
		}
	}
	return out
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\r'
}

func containsAny(text string, keys []string) bool {
	for _, k := range keys {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// classify returns the first matching rule type in table order, or RuleOther.
func classify(lowText string, keys []TypeKey) RuleType {
	for _, tk := range keys {
		if strings.Contains(lowText, tk.Key) {
			return tk.Type
		}
	}
	return RuleOther
}
