package fingerprint

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Vector is a term-frequency vector with its Euclidean norm cached.
type Vector struct {
	Terms map[string]float64
	norm  float64
}

// NewVector builds a Vector from raw term weights.
func NewVector(terms map[string]float64) Vector {
	var sum float64
	for _, w := range terms {
		sum += w * w
	}
	return Vector{Terms: terms, norm: math.Sqrt(sum)}
}

// Norm returns the Euclidean norm.
func (v Vector) Norm() float64 {
	return v.norm
}

// Empty reports whether the vector has no terms.
func (v Vector) Empty() bool {
	return len(v.Terms) == 0
}

// TopTerms returns up to n terms by descending weight, ties broken alphabetically.
func (v Vector) TopTerms(n int) []string {
	terms := make([]string, 0, len(v.Terms))
	for t := range v.Terms {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		wi, wj := v.Terms[terms[i]], v.Terms[terms[j]]
		if wi != wj {
			return wi > wj
		}
		return terms[i] < terms[j]
	})
	if n > 0 && len(terms) > n {
		terms = terms[:n]
	}
	return terms
}

// Vectorize normalizes text (NFKC, case folded), splits it on letter and
// digit runs, drops stop words and single-rune tokens, and counts terms.
func Vectorize(text string) Vector {
	normalized := cases.Fold().String(norm.NFKC.String(text))

	terms := make(map[string]float64)
	for _, tok := range strings.FieldsFunc(normalized, notWordRune) {
		if len([]rune(tok)) < 2 {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		terms[tok]++
	}
	return NewVector(terms)
}

func notWordRune(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// Cosine returns the cosine similarity of a and b clamped to [0, 1]. The
// second result is false when either vector has zero norm.
func Cosine(a, b Vector) (float64, bool) {
	if a.norm == 0 || b.norm == 0 {
		return 0, false
	}

	small, large := a.Terms, b.Terms
	if len(small) > len(large) {
		small, large = large, small
	}

	var dot float64
	for t, w := range small {
		dot += w * large[t]
	}

	score := dot / (a.norm * b.norm)
	switch {
	case score < 0:
		score = 0
	case score > 1:
		score = 1
	}
	return score, true
}
