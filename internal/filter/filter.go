// Package filter redacts personal data from review text and scores profanity.
package filter

import (
	"strings"

	"broker_reviews/internal/domain"
)

const (
	PlaceholderEmail  = "[email removed]"
	PlaceholderPhone  = "[phone removed]"
	PlaceholderNumber = "[number removed]"

	DefaultThreshold = 5
)

type Config struct {
	// PhoneRegion is an ISO 3166 region used to validate national phone numbers.
	// Empty falls back to a digit-count heuristic.
	PhoneRegion string
	// Threshold: severity strictly above it forces a review to flagged.
	Threshold int
	// Terms overrides the built-in weighted profanity list.
	Terms map[string]int
}

// Filter is safe for concurrent use; it holds no mutable state after New.
type Filter struct {
	region    string
	threshold int
	prof      *profanityMatcher
}

func New(cfg Config) *Filter {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	terms := cfg.Terms
	if len(terms) == 0 {
		terms = defaultTerms
	}
	return &Filter{
		region:    strings.ToUpper(strings.TrimSpace(cfg.PhoneRegion)),
		threshold: cfg.Threshold,
		prof:      newProfanityMatcher(terms),
	}
}

// Sanitize redacts PII in place with visible placeholders and reports what it found.
// Profanity is scored but left in the text for moderators.
func (f *Filter) Sanitize(text string) (string, []domain.FilterFlag) {
	clean := strings.TrimSpace(text)

	// Run the PII passes to a fixpoint so sanitized output sanitizes to itself.
	// Every pass that changes the text removes digits or '@' and placeholders
	// contain neither, so the loop terminates.
	var emails, phones, numbers int
	for {
		var e, p, n int
		clean, e = redactEmails(clean)
		clean, p = redactPhones(clean, f.region)
		clean, n = redactLongNumbers(clean)
		emails, phones, numbers = emails+e, phones+p, numbers+n
		if e+p+n == 0 {
			break
		}
	}

	var flags []domain.FilterFlag
	add := func(kind domain.FlagKind, n int) {
		if n > 0 {
			flags = append(flags, domain.FilterFlag{Kind: kind, Count: n})
		}
	}
	add(domain.FlagEmail, emails)
	add(domain.FlagPhone, phones)
	add(domain.FlagNumber, numbers)

	flags = append(flags, f.prof.scan(clean)...)
	return clean, flags
}

// Severity sums the profanity weight carried by flags.
func Severity(flags []domain.FilterFlag) int {
	s := 0
	for _, fl := range flags {
		if fl.Kind == domain.FlagProfanity {
			s += fl.Weight * fl.Count
		}
	}
	return s
}

func (f *Filter) Threshold() int { return f.threshold }

// Exceeds reports whether flags push a review over the profanity threshold.
func (f *Filter) Exceeds(flags []domain.FilterFlag) bool {
	return Severity(flags) > f.threshold
}
