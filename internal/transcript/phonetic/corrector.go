package phonetic

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// spanThreshold is the similarity a multi-word span must reach against the
// squashed term before it may replace several words at once.
const spanThreshold = 0.95

// minSpanLetters is the shortest span considered for correction.
const minSpanLetters = 4

var wordRE = regexp.MustCompile(`[\p{L}\p{N}]+`)

// Correction records one substitution made by [Corrector.Correct].
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

// Corrector rewrites spoken spans that match a glossary term.
type Corrector struct {
	m       *Matcher
	terms   []string
	maxSpan int
}

// NewCorrector returns a Corrector for terms. Returns nil when terms is
// empty; a nil Corrector leaves text unchanged.
func NewCorrector(terms []string, opts ...Option) *Corrector {
	clean := make([]string, 0, len(terms))
	maxTokens := 1
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		clean = append(clean, t)
		maxTokens = max(maxTokens, len(strings.Fields(t)))
	}
	if len(clean) == 0 {
		return nil
	}
	return &Corrector{
		m:       New(opts...),
		terms:   clean,
		maxSpan: min(maxTokens+1, 4),
	}
}

// Correct returns text with every matching span replaced by its canonical
// term, and the list of substitutions made. Longer spans are tried first;
// spans never cross punctuation.
func (c *Corrector) Correct(text string) (string, []Correction) {
	if c == nil || text == "" {
		return text, nil
	}
	words := wordRE.FindAllStringIndex(text, -1)

	var (
		out   strings.Builder
		fixes []Correction
		last  int
	)
	for i := 0; i < len(words); {
		n := c.matchAt(text, words, i, &out, &last, &fixes)
		if n == 0 {
			n = 1
		}
		i += n
	}
	if fixes == nil && last == 0 {
		return text, nil
	}
	out.WriteString(text[last:])
	return out.String(), fixes
}

// matchAt tries spans starting at word i and writes the replacement on a hit.
// Returns the number of words consumed, or 0 on no match.
func (c *Corrector) matchAt(text string, words [][]int, i int, out *strings.Builder, last *int, fixes *[]Correction) int {
	for n := min(c.maxSpan, len(words)-i); n >= 1; n-- {
		if n > 1 && !spacesOnly(text, words[i:i+n]) {
			continue
		}
		start, end := words[i][0], words[i+n-1][1]
		tokens := make([]string, n)
		for k := range n {
			tokens[k] = strings.ToLower(text[words[i+k][0]:words[i+k][1]])
		}
		squashed := strings.Join(tokens, "")
		if utf8.RuneCountInString(squashed) < minSpanLetters {
			continue
		}

		term, conf, ok := c.m.Match(strings.Join(tokens, " "), c.terms)
		if !ok {
			continue
		}
		if n > 1 && matchr.JaroWinkler(squashed, squash(term), false) < spanThreshold {
			continue
		}

		span := text[start:end]
		if span != term {
			*fixes = append(*fixes, Correction{Original: span, Corrected: term, Confidence: conf})
		}
		out.WriteString(text[*last:start])
		out.WriteString(term)
		*last = end
		return n
	}
	return 0
}

func spacesOnly(text string, words [][]int) bool {
	for k := 1; k < len(words); k++ {
		if strings.TrimSpace(text[words[k-1][1]:words[k][0]]) != "" {
			return false
		}
	}
	return true
}

func squash(term string) string {
	return strings.ToLower(strings.Join(strings.Fields(term), ""))
}
