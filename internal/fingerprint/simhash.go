// Package fingerprint computes 64-bit SimHash fingerprints of review text.
package fingerprint

import (
	"math/bits"
	"slices"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/unicode/norm"
)

// Fingerprint returns the SimHash of text. Token weight is its frequency.
func Fingerprint(text string) uint64 {
	weights := make(map[string]int)
	for _, tok := range Tokens(text) {
		weights[tok]++
	}

	var acc [64]int
	for tok, w := range weights {
		h := xxhash.Sum64String(tok)
		for i := 0; i < 64; i++ {
			if h>>uint(i)&1 == 1 {
				acc[i] += w
			} else {
				acc[i] -= w
			}
		}
	}

	var fp uint64
	for i := 0; i < 64; i++ {
		if acc[i] > 0 {
			fp |= 1 << uint(i)
		}
	}
	return fp
}

// Tokens splits NFKC-normalized, lower-cased text into runs of letters and digits.
func Tokens(text string) []string {
	s := strings.ToLower(norm.NFKC.String(text))
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Distance is the Hamming distance between two fingerprints.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Terms hashes each token of text in order. Dedup compares term sequences when
// a text is too short for SimHash distance to separate edits from rewrites.
func Terms(text string) []uint64 {
	toks := Tokens(text)
	out := make([]uint64, len(toks))
	for i, tok := range toks {
		out[i] = xxhash.Sum64String(tok)
	}
	return out
}

// TermSet returns the sorted distinct values of terms.
func TermSet(terms []uint64) []uint64 {
	set := slices.Clone(terms)
	slices.Sort(set)
	return slices.Compact(set)
}

// Jaccard is |a∩b| / |a∪b| over two sorted sets. Two empty sets score 0.
func Jaccard(a, b []uint64) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for i, j := 0, 0; i < len(a) && j < len(b); {
		switch {
		case a[i] == b[j]:
			inter++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

// WithinOneEdit reports whether b is a with at most one term substituted,
// inserted or deleted.
func WithinOneEdit(a, b []uint64) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	switch len(b) - len(a) {
	case 0:
		diff := 0
		for i := range a {
			if a[i] != b[i] {
				if diff++; diff > 1 {
					return false
				}
			}
		}
		return true
	case 1:
		i := 0
		for i < len(a) && a[i] == b[i] {
			i++
		}
		return slices.Equal(a[i:], b[i+1:])
	default:
		return false
	}
}
