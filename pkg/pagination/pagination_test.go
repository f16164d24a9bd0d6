package pagination

import (
	"testing"
	"time"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 5, 1, 10, 30, 0, 123, time.UTC)
	parsed, err := ParseCursor(EncodeCursor(Cursor{At: at, ID: 42}))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.At.Equal(at) || parsed.ID != 42 {
		t.Fatalf("unexpected cursor %+v", parsed)
	}
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	for _, value := range []string{"!!", "bm9waXBl", EncodeCursor(Cursor{At: time.Now(), ID: 0})} {
		if _, err := ParseCursor(value); err == nil {
			t.Fatalf("expected error for %q", value)
		}
	}
	if c, err := ParseCursor(" "); err != nil || c != nil {
		t.Fatalf("empty cursor should be nil, got %v %v", c, err)
	}
}

func TestNormalizeLimit(t *testing.T) {
	if NormalizeLimit(0) != DefaultLimit || NormalizeLimit(10_000) != MaxLimit || NormalizeLimit(7) != 7 {
		t.Fatal("unexpected limit normalization")
	}
	if LimitWithBuffer(7) != 8 {
		t.Fatal("expected buffer of one")
	}
}
