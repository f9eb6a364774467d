package fingerprint_test

import (
	"testing"

	"broker_reviews/internal/fingerprint"
)

const positive = "Fast withdrawals and tight spreads on the major pairs. Support answered my ticket within an hour and the platform never froze during the news releases. The fee schedule is clear and the mobile app is stable for daily trading. I have used this broker for two years and would recommend it to anyone starting out."

const negative = "Terrible experience overall. My account was frozen for a week after a deposit, the chat bot kept looping and nobody from compliance replied to emails. Slippage on gold was huge and the spreads widened every evening."

func TestFingerprint_Deterministic(t *testing.T) {
	if fingerprint.Fingerprint(positive) != fingerprint.Fingerprint(positive) {
		t.Fatalf("fingerprint not deterministic")
	}
	if fingerprint.Fingerprint("") != 0 {
		t.Fatalf("empty text should fingerprint to 0")
	}
}

func TestFingerprint_WhitespaceAndCaseInsensitive(t *testing.T) {
	variants := []string{
		"  FAST withdrawals and tight spreads on the major pairs.\n\nSupport answered my ticket within an hour and the platform never froze during the news releases. The fee schedule is clear and the mobile app is stable for daily trading. I have used this broker for two years and would recommend it to anyone starting out.  ",
		"fast   withdrawals and tight spreads on the major pairs. support answered my ticket within an hour and the platform never froze during the news releases. the fee schedule is clear and the mobile app is stable for daily trading. i have used this broker for two years and would recommend it to anyone starting out.",
		"Fast\twithdrawals and tight spreads on the MAJOR pairs. Support answered my ticket within an hour and the platform never froze during the news releases. The fee schedule is clear and the mobile app is stable for daily trading. I have used this broker for two years and would recommend it to anyone starting out.",
	}
	base := fingerprint.Fingerprint(positive)
	for i, v := range variants {
		if d := fingerprint.Distance(base, fingerprint.Fingerprint(v)); d > 1 {
			t.Fatalf("variant %d: distance %d, want <= 1", i, d)
		}
	}
}

func TestFingerprint_NearAndFar(t *testing.T) {
	base := fingerprint.Fingerprint(positive)

	near := []string{
		"Fast withdrawals and tight spreads on the major pairs. Support answered my ticket within an hour and the platform never froze during the news releases. The fee schedule is clear and the mobile app is reliable for daily trading. I have used this broker for two years and would recommend it to anyone starting out.",
		"Fast withdrawals and tight spreads on the major pairs. Support answered my ticket within an hour and the platform never froze during the news releases. The fee schedule is clear and the mobile app is stable for daily trading. I have used this broker for five years and would recommend it to anyone starting out.",
	}
	for i, n := range near {
		if d := fingerprint.Distance(base, fingerprint.Fingerprint(n)); d > 3 {
			t.Fatalf("near %d: distance %d, want <= 3", i, d)
		}
	}

	if d := fingerprint.Distance(base, fingerprint.Fingerprint(negative)); d <= 3 {
		t.Fatalf("unrelated text too close: distance %d", d)
	}
}

func TestDistance(t *testing.T) {
	cases := []struct {
		a, b uint64
		want int
	}{
		{0, 0, 0},
		{0, 1, 1},
		{0xFF, 0x0F, 4},
		{^uint64(0), 0, 64},
	}
	for _, c := range cases {
		if got := fingerprint.Distance(c.a, c.b); got != c.want {
			t.Fatalf("Distance(%x,%x)=%d want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestTokens(t *testing.T) {
	got := fingerprint.Tokens("Hello,  WORLD! it's 2024")
	want := []string{"hello", "world", "it", "s", "2024"}
	if len(got) != len(want) {
		t.Fatalf("tokens %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tokens %v want %v", got, want)
		}
	}
}

func TestJaccard(t *testing.T) {
	set := func(s string) []uint64 { return fingerprint.TermSet(fingerprint.Terms(s)) }
	cases := []struct {
		a, b string
		want float64
	}{
		{"", "", 0},
		{"fees are low", "", 0},
		{"fees are low", "Fees, are LOW!", 1},
		{"fees are low", "fees are high", 0.5},
		{"the the fees", "fees the", 1},
	}
	for _, c := range cases {
		if got := fingerprint.Jaccard(set(c.a), set(c.b)); got != c.want {
			t.Fatalf("Jaccard(%q,%q)=%v want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestWithinOneEdit(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"fast payouts and fair fees", "fast payouts and fair fees", true},
		{"fast payouts and fair fees", "slow payouts and fair fees", true},
		{"fast payouts and fair fees", "fast payouts and low fair fees", true},
		{"fast payouts and fair fees", "fast payouts and fair", true},
		{"fast payouts and fair fees", "payouts and fair fees", true},
		{"fast payouts and fair fees", "slow payouts and high fees", false},
		{"fast payouts and fair fees", "fast and fair", false},
		{"fast payouts", "payouts fast", false},
	}
	for _, c := range cases {
		a, b := fingerprint.Terms(c.a), fingerprint.Terms(c.b)
		if got := fingerprint.WithinOneEdit(a, b); got != c.want {
			t.Fatalf("WithinOneEdit(%q,%q)=%v want %v", c.a, c.b, got, c.want)
		}
		if got := fingerprint.WithinOneEdit(b, a); got != c.want {
			t.Fatalf("WithinOneEdit(%q,%q) not symmetric", c.b, c.a)
		}
	}
}
