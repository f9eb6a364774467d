package filter

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cloudflare/ahocorasick"

	"broker_reviews/internal/domain"
)

// Weighted after normalization; avoid short terms that collapse onto common words.
var defaultTerms = map[string]int{
	"fuck":         3,
	"motherfucker": 4,
	"shit":         2,
	"bullshit":     2,
	"bitch":        3,
	"bastard":      2,
	"asshole":      3,
	"dick":         2,
	"prick":        2,
	"cunt":         4,
	"twat":         3,
	"wanker":       2,
	"crap":         1,
	"damn":         1,
}

var leet = map[rune]rune{
	'0': 'o', '1': 'i', '3': 'e', '4': 'a', '5': 's', '7': 't', '@': 'a', '$': 's',
}

var suffixes = []string{"ing", "ers", "er", "ed", "es", "in", "s", "y"}

type profanityMatcher struct {
	terms   []string
	weights []int
	ac      *ahocorasick.Matcher
}

func newProfanityMatcher(terms map[string]int) *profanityMatcher {
	m := &profanityMatcher{}
	seen := map[string]bool{}
	keys := make([]string, 0, len(terms))
	for t := range terms {
		keys = append(keys, t)
	}
	sort.Strings(keys)
	for _, t := range keys {
		n := normalizeForProfanity(t)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		m.terms = append(m.terms, n)
		m.weights = append(m.weights, terms[t])
	}
	m.ac = ahocorasick.NewStringMatcher(m.terms)
	return m
}

// normalizeForProfanity folds case, undoes leetspeak and collapses repeated characters.
func normalizeForProfanity(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var prev rune = -1
	for _, r := range strings.ToLower(s) {
		if sub, ok := leet[r]; ok {
			r = sub
		}
		if r == prev {
			continue
		}
		prev = r
		b.WriteRune(r)
	}
	return b.String()
}

func (m *profanityMatcher) scan(text string) []domain.FilterFlag {
	norm := normalizeForProfanity(text)
	hits := m.ac.Match([]byte(norm))
	if len(hits) == 0 {
		return nil
	}
	sort.Ints(hits)

	var flags []domain.FilterFlag
	for _, idx := range hits {
		if n := countWord(norm, m.terms[idx]); n > 0 {
			flags = append(flags, domain.FilterFlag{
				Kind:   domain.FlagProfanity,
				Term:   m.terms[idx],
				Count:  n,
				Weight: m.weights[idx],
			})
		}
	}
	return flags
}

// countWord counts occurrences of term that start a word and end it, optionally
// through one inflection suffix.
func countWord(s, term string) int {
	n := 0
	for from := 0; from < len(s); {
		i := strings.Index(s[from:], term)
		if i < 0 {
			break
		}
		start := from + i
		end := start + len(term)
		from = start + 1
		if start > 0 && isWordRune(lastRune(s[:start])) {
			continue
		}
		if end == len(s) || !isWordRune(firstRune(s[end:])) {
			n++
			continue
		}
		for _, suf := range suffixes {
			if strings.HasPrefix(s[end:], suf) {
				after := end + len(suf)
				if after == len(s) || !isWordRune(firstRune(s[after:])) {
					n++
					break
				}
			}
		}
	}
	return n
}

func isWordRune(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }

func firstRune(s string) rune {
	r, _ := utf8.DecodeRuneInString(s)
	return r
}

func lastRune(s string) rune {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r
}
