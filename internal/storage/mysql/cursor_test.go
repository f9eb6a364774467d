package mysql

import (
	"testing"
	"time"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 0, 123456000, time.UTC)
	c := encodeCursor(at, "5b7c1d2e-0000-4000-8000-000000000001")

	gotAt, gotID, err := decodeCursor(c)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !gotAt.Equal(at) || gotID != "5b7c1d2e-0000-4000-8000-000000000001" {
		t.Fatalf("unexpected cursor: %v %s", gotAt, gotID)
	}

	for _, bad := range []string{"!!", "MTIz", encodeCursor(at, "")} {
		if _, _, err := decodeCursor(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
