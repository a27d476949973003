// Package transcript repairs recogniser output before it reaches the command
// registry.
//
// A [Corrector] snaps misheard words onto the registry vocabulary using the
// [phonetic] matcher. Words that already are keywords are left alone, as are
// very short words, which carry too little sound to match reliably.
package transcript

import (
	"strings"

	"github.com/MrWong99/jarvis/internal/transcript/phonetic"
)

const minWordLength = 3

// Correction records one replaced word.
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

// Option is a functional option for configuring a Corrector.
type Option func(*Corrector)

// WithMatcher replaces the default phonetic matcher.
func WithMatcher(m *phonetic.Matcher) Option {
	return func(c *Corrector) {
		if m != nil {
			c.matcher = m
		}
	}
}

// Corrector rewrites transcripts against a fixed vocabulary. It is immutable
// after construction and safe for concurrent use.
type Corrector struct {
	matcher *phonetic.Matcher
	vocab   []string
	known   map[string]struct{}
}

// NewCorrector returns a Corrector for vocab. Entries are normalised; empty
// and duplicate entries are dropped.
func NewCorrector(vocab []string, opts ...Option) *Corrector {
	c := &Corrector{
		matcher: phonetic.New(),
		known:   make(map[string]struct{}, len(vocab)),
	}
	for _, v := range vocab {
		n := phonetic.Normalize(v)
		if n == "" {
			continue
		}
		if _, dup := c.known[n]; dup {
			continue
		}
		c.known[n] = struct{}{}
		c.vocab = append(c.vocab, n)
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct returns text with misheard words replaced and the list of
// replacements made. Words are split on whitespace; a replaced word loses its
// surrounding punctuation, every other word is kept verbatim.
func (c *Corrector) Correct(text string) (string, []Correction) {
	words := strings.Fields(text)
	if len(words) == 0 || len(c.vocab) == 0 {
		return text, nil
	}

	var corrections []Correction
	for i, w := range words {
		n := phonetic.Normalize(w)
		if len([]rune(n)) < minWordLength {
			continue
		}
		if _, ok := c.known[n]; ok {
			continue
		}
		got, score, ok := c.matcher.Match(n, c.vocab)
		if !ok {
			continue
		}
		corrections = append(corrections, Correction{Original: w, Corrected: got, Confidence: score})
		words[i] = got
	}
	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(words, " "), corrections
}
