package filter

import (
	"regexp"
	"strings"

	"github.com/ttacon/libphonenumber"
)

var (
	emailPattern = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)

	// Phone candidates: optional +, optional (, then digits with common separators.
	phonePattern = regexp.MustCompile(`\+?\(?\d[\d(). \-]{5,}\d`)

	// 12+ digits, optionally split by single spaces or dashes (cards, IBANs, account numbers).
	longNumberPattern = regexp.MustCompile(`\d(?:[ \-]?\d){11,}`)
)

func redactEmails(s string) (string, int) {
	n := 0
	out := emailPattern.ReplaceAllStringFunc(s, func(string) string {
		n++
		return PlaceholderEmail
	})
	return out, n
}

func redactPhones(s, region string) (string, int) {
	n := 0
	out := phonePattern.ReplaceAllStringFunc(s, func(m string) string {
		if !looksLikePhone(m, region) {
			return m
		}
		n++
		return PlaceholderPhone
	})
	return out, n
}

func redactLongNumbers(s string) (string, int) {
	n := 0
	out := longNumberPattern.ReplaceAllStringFunc(s, func(string) string {
		n++
		return PlaceholderNumber
	})
	return out, n
}

func looksLikePhone(m, region string) bool {
	digits := countDigits(m)
	if digits < 7 || digits > 15 {
		return false
	}
	international := strings.HasPrefix(m, "+")
	if region != "" || international {
		r := region
		if r == "" {
			r = "ZZ"
		}
		num, err := libphonenumber.Parse(m, r)
		if err == nil && libphonenumber.IsValidNumber(num) {
			return true
		}
		if region != "" {
			return false
		}
	}
	// No region to validate against: accept international forms and
	// 10-11 digit national forms; longer runs are left to the number pass.
	if international {
		return digits >= 8
	}
	return digits >= 10 && digits <= 11
}

func countDigits(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			n++
		}
	}
	return n
}
