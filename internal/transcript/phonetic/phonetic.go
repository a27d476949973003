// Package phonetic matches spoken words against a known vocabulary using
// Double Metaphone codes and Jaro-Winkler similarity.
//
// Speech recognisers often produce a word that sounds right but is spelled
// wrong ("plailist", "musik"). The Matcher accepts a candidate only when the
// two words share at least one Double Metaphone code and their Jaro-Winkler
// similarity reaches the configured threshold, which keeps short words that
// look alike but sound different ("shop" and "stop") apart.
package phonetic

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultThreshold = 0.85

	// mismatchPenalty scales the similarity of a phrase window whose codes do
	// not overlap the phrase codes.
	mismatchPenalty = 0.8
)

// Option is a functional option for configuring a Matcher.
type Option func(*Matcher)

// WithThreshold sets the minimum Jaro-Winkler similarity for a match. Values
// outside (0, 1] are ignored. Defaults to 0.85.
func WithThreshold(t float64) Option {
	return func(m *Matcher) {
		if t > 0 && t <= 1 {
			m.threshold = t
		}
	}
}

// Matcher compares words by how they sound. It holds no mutable state and is
// safe for concurrent use.
type Matcher struct {
	threshold float64
}

// New returns a Matcher configured with opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{threshold: defaultThreshold}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Threshold reports the configured similarity threshold.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Match finds the vocabulary entry that best matches word. It returns the
// entry in its original casing, the Jaro-Winkler similarity and true on a
// match. Without a match word is returned unchanged with confidence 0.
func (m *Matcher) Match(word string, vocab []string) (string, float64, bool) {
	w := Normalize(word)
	if w == "" || len(vocab) == 0 {
		return word, 0, false
	}

	var (
		best      string
		bestScore float64
	)
	for _, v := range vocab {
		nv := Normalize(v)
		if nv == "" {
			continue
		}
		if nv == w {
			return v, 1, true
		}
		if !codesOverlap(w, nv) {
			continue
		}
		if s := matchr.JaroWinkler(w, nv, false); s > bestScore {
			best, bestScore = v, s
		}
	}
	if best == "" || bestScore < m.threshold {
		return word, 0, false
	}
	return best, bestScore, true
}

// Score reports how closely any run of words in text sounds like phrase, in
// [0, 1]. A verbatim occurrence scores 1. Otherwise windows with one word
// fewer, the same number or one more than the phrase are compared with spaces
// removed, and windows whose codes do not overlap the phrase are penalised.
func (m *Matcher) Score(text, phrase string) float64 {
	words := Words(text)
	target := Words(phrase)
	if len(words) == 0 || len(target) == 0 {
		return 0
	}
	joined := strings.Join(target, "")

	var best float64
	for size := max(1, len(target)-1); size <= len(target)+1; size++ {
		for i := 0; i+size <= len(words); i++ {
			window := strings.Join(words[i:i+size], "")
			if window == joined {
				return 1
			}
			s := matchr.JaroWinkler(window, joined, false)
			if !codesOverlap(window, joined) {
				s *= mismatchPenalty
			}
			best = max(best, s)
		}
	}
	return best
}

// Normalize lower-cases s and strips every rune that is not a letter or a
// digit.
func Normalize(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, s)
}

// Words splits s on whitespace and returns the normalised non-empty words.
func Words(s string) []string {
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if n := Normalize(f); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// codesOverlap reports whether a and b share a non-empty Double Metaphone
// code, primary or secondary.
func codesOverlap(a, b string) bool {
	ap, as := matchr.DoubleMetaphone(a)
	bp, bs := matchr.DoubleMetaphone(b)
	for _, x := range []string{ap, as} {
		if x == "" {
			continue
		}
		if x == bp || x == bs {
			return true
		}
	}
	return false
}
