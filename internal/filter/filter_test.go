package filter_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"broker_reviews/internal/domain"
	"broker_reviews/internal/filter"
)

func flagCount(flags []domain.FilterFlag, kind domain.FlagKind) int {
	n := 0
	for _, f := range flags {
		if f.Kind == kind {
			n += f.Count
		}
	}
	return n
}

func TestSanitize_RedactsEmail(t *testing.T) {
	f := filter.New(filter.Config{})
	clean, flags := f.Sanitize("contact me at test@example.com for details about this broker")

	assert.NotContains(t, clean, "test@example.com")
	assert.Contains(t, clean, filter.PlaceholderEmail)
	assert.Equal(t, 1, flagCount(flags, domain.FlagEmail))
	for _, fl := range flags {
		assert.NotContains(t, fl.Term, "example.com")
	}
}

func TestSanitize_Phones(t *testing.T) {
	tests := []struct {
		name    string
		region  string
		in      string
		gone    string
		wantHit bool
	}{
		{name: "international", in: "call me on +44 20 7946 0958 any time", gone: "7946 0958", wantHit: true},
		{name: "national ten digits", in: "ring 0412 345 678 after five", gone: "0412 345 678", wantHit: true},
		{name: "region validated", region: "US", in: "their desk is (201) 555-0123 on weekdays", gone: "555-0123", wantHit: true},
		{name: "amount is not a phone", in: "I deposited 1500000 dollars last year", wantHit: false},
		{name: "amount with region", region: "US", in: "I deposited 1500000 dollars last year", wantHit: false},
		{name: "date", in: "account opened on 2023-10-15 without issues", wantHit: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := filter.New(filter.Config{PhoneRegion: tt.region})
			clean, flags := f.Sanitize(tt.in)
			if tt.wantHit {
				assert.Contains(t, clean, filter.PlaceholderPhone)
				assert.NotContains(t, clean, tt.gone)
				assert.Equal(t, 1, flagCount(flags, domain.FlagPhone))
				return
			}
			assert.Equal(t, tt.in, clean)
			assert.Zero(t, flagCount(flags, domain.FlagPhone))
		})
	}
}

func TestSanitize_RedactsLongDigitRuns(t *testing.T) {
	f := filter.New(filter.Config{})
	clean, flags := f.Sanitize("my card 4111 1111 1111 1111 was charged twice, account DE89370400440532013000 too")

	assert.NotContains(t, clean, "4111")
	assert.NotContains(t, clean, "370400440532013000")
	assert.Equal(t, 2, flagCount(flags, domain.FlagNumber))
}

func TestSanitize_Idempotent(t *testing.T) {
	inputs := []string{
		"contact me at test@example.com or +44 20 7946 0958, card 4111-1111-1111-1111",
		"  plain review text with nothing to hide  ",
		"what a fucking scam, sh1t support, email me: a.b+c@mail.co.uk",
		"numbers (555) 123-4567-8901-2345 and 12 3456 7890 1234 5678 mixed",
		"rated 5 of 5, account 0412 345 678 then 1.234.567.890.123.4",
	}
	for _, region := range []string{"", "GB", "US"} {
		f := filter.New(filter.Config{PhoneRegion: region})
		for _, in := range inputs {
			once, _ := f.Sanitize(in)
			twice, _ := f.Sanitize(once)
			require.Equal(t, once, twice, "region %q input %q", region, in)
		}
	}
}

func FuzzSanitizeIdempotent(f *testing.F) {
	for _, seed := range []string{
		"contact me at test@example.com or +44 20 7946 0958, card 4111-1111-1111-1111",
		"  plain review text with nothing to hide  ",
		"what a fucking scam, sh1t support, email me: a.b+c@mail.co.uk",
		"numbers (555) 123-4567-8901-2345 and 12 3456 7890 1234 5678 mixed",
		"rated 5 of 5, account 0412 345 678 then 1.234.567.890.123.4",
		"a1@b2@c3.com (12) 345 678 901 234 567 +1 (415) 555-0100",
	} {
		f.Add(seed)
	}
	filters := []*filter.Filter{
		filter.New(filter.Config{}),
		filter.New(filter.Config{PhoneRegion: "GB"}),
		filter.New(filter.Config{PhoneRegion: "US"}),
	}
	f.Fuzz(func(t *testing.T, in string) {
		for _, flt := range filters {
			once, _ := flt.Sanitize(in)
			twice, flags := flt.Sanitize(once)
			if once != twice {
				t.Fatalf("not idempotent for %q: %q then %q", in, once, twice)
			}
			if n := flagCount(flags, domain.FlagEmail) + flagCount(flags, domain.FlagPhone) + flagCount(flags, domain.FlagNumber); n != 0 {
				t.Fatalf("sanitized text still has %d PII matches: %q", n, once)
			}
		}
	})
}

func TestSanitize_ProfanityScoring(t *testing.T) {
	f := filter.New(filter.Config{})

	clean, flags := f.Sanitize("The platform is shit on mondays but otherwise fine")
	assert.Equal(t, "The platform is shit on mondays but otherwise fine", clean, "profanity is scored, not removed")
	assert.Equal(t, 2, filter.Severity(flags))
	assert.False(t, f.Exceeds(flags))

	_, flags = f.Sanitize("what a fucking scam, total bullshit and these bastards stole my money, fuck them")
	// fuck x2 (3) + bullshit (2) + bastard (2)
	assert.Equal(t, 10, filter.Severity(flags))
	assert.True(t, f.Exceeds(flags))
}

func TestSanitize_ProfanityNormalization(t *testing.T) {
	f := filter.New(filter.Config{})
	cases := map[string]int{
		"support is sh1t":               2,
		"FUUUUCK this withdrawal delay": 3,
		"$HIT spreads":                  2,
		"total CRAP, damn it":           2,
	}
	for in, want := range cases {
		_, flags := f.Sanitize(in)
		assert.Equal(t, want, filter.Severity(flags), in)
	}
}

func TestSanitize_NoFalsePositives(t *testing.T) {
	f := filter.New(filter.Config{})
	for _, in := range []string{
		"Based in Scunthorpe, the team reads Dickens and does a classic assessment of risk.",
		"Spreads on cocktail hour sessions were fine; the passbook shows everything.",
	} {
		_, flags := f.Sanitize(in)
		assert.Zero(t, filter.Severity(flags), in)
	}
}

func TestSanitize_CustomTermsAndThreshold(t *testing.T) {
	f := filter.New(filter.Config{Threshold: 1, Terms: map[string]int{"rubbish": 2}})
	_, flags := f.Sanitize("Rubbish execution and rubbish support.")
	assert.Equal(t, 4, filter.Severity(flags))
	assert.True(t, f.Exceeds(flags))
	assert.Equal(t, 1, f.Threshold())
}

func TestSanitize_TrimsOnly(t *testing.T) {
	f := filter.New(filter.Config{})
	clean, flags := f.Sanitize("  \n ok review text here \t")
	assert.Equal(t, "ok review text here", clean)
	assert.Empty(t, flags)
	assert.False(t, strings.HasPrefix(clean, " "))
}
