package transform

import (
	"context"
	"regexp"
	"sort"
	"strings"
)

var (
	formalPhrases = newPhraseReplacer(map[string]string{
		"don't":  "do not",
		"can't":  "cannot",
		"won't":  "will not",
		"isn't":  "is not",
		"aren't": "are not",
		"it's":   "it is",
		"I'm":    "I am",
		"gonna":  "going to",
		"wanna":  "want to",
		"kinda":  "somewhat",
		"thanks": "thank you",
		"hey":    "hello",
		"yeah":   "yes",
		"ok":     "acceptable",
	})
	casualPhrases = newPhraseReplacer(map[string]string{
		"do not":    "don't",
		"cannot":    "can't",
		"will not":  "won't",
		"is not":    "isn't",
		"are not":   "aren't",
		"it is":     "it's",
		"I am":      "I'm",
		"going to":  "gonna",
		"thank you": "thanks",
		"hello":     "hey",
		"therefore": "so",
		"however":   "but",
	})
)

// phraseReplacer swaps whole words or phrases only, so "hey" never matches
// inside "they".
type phraseReplacer struct {
	re    *regexp.Regexp
	table map[string]string
}

func newPhraseReplacer(table map[string]string) *phraseReplacer {
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, regexp.QuoteMeta(k))
	}
	// longest first so "do not" wins over a shorter overlapping key
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })

	return &phraseReplacer{
		re:    regexp.MustCompile(`\b(` + strings.Join(keys, "|") + `)\b`),
		table: table,
	}
}

func (p *phraseReplacer) Replace(s string) string {
	return p.re.ReplaceAllStringFunc(s, func(m string) string {
		return p.table[m]
	})
}

// MockEngine rewrites text with fixed rules picked by keywords in the
// instructions. It never calls a model and always returns the same output
// for the same input.
type MockEngine struct{}

func NewMockEngine() *MockEngine {
	return &MockEngine{}
}

func (MockEngine) Transform(ctx context.Context, text, instructions string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	out := strings.Join(strings.Fields(text), " ")
	instr := strings.ToLower(instructions)

	if strings.Contains(instr, "formal") {
		out = formalPhrases.Replace(out)
	}
	if strings.Contains(instr, "casual") {
		out = casualPhrases.Replace(out)
	}
	if strings.Contains(instr, "shorten") || strings.Contains(instr, "shorter") {
		out = shorten(out)
	}
	if strings.Contains(instr, "expand") || strings.Contains(instr, "longer") {
		out = expand(out)
	}

	switch {
	case strings.Contains(instr, "uppercase"):
		out = strings.ToUpper(out)
	case strings.Contains(instr, "lowercase"):
		out = strings.ToLower(out)
	}

	return out, nil
}

// shorten keeps the first half of the sentences, at least one.
func shorten(text string) string {
	sentences := splitSentences(text)
	if len(sentences) <= 1 {
		return text
	}

	keep := (len(sentences) + 1) / 2
	return strings.Join(sentences[:keep], " ")
}

func expand(text string) string {
	if text == "" {
		return text
	}

	sentences := splitSentences(text)
	return text + " In other words, " + lowerFirst(strings.TrimRight(sentences[0], ".!?")) + "."
}

func splitSentences(text string) []string {
	var (
		sentences []string
		start     int
	)

	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(text[start : i+1]); s != "" {
				sentences = append(sentences, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}

	return sentences
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
