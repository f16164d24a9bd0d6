package env

import "testing"

func TestGetFallsBackWhenUnset(t *testing.T) {
	t.Setenv("RELAY_TEST_FORMAT", "")
	t.Setenv("TEST_FORMAT", "")
	if got := Get("TEST_FORMAT", "json"); got != "json" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestGetPrefersPrefixedKey(t *testing.T) {
	t.Setenv("TEST_FORMAT", "json")
	t.Setenv("RELAY_TEST_FORMAT", "console")
	if got := Get("TEST_FORMAT", ""); got != "console" {
		t.Fatalf("expected prefixed value, got %q", got)
	}
	t.Setenv("RELAY_TEST_FORMAT", "")
	if got := Get("TEST_FORMAT", ""); got != "json" {
		t.Fatalf("expected bare value, got %q", got)
	}
}

func TestFirstSkipsBlankValues(t *testing.T) {
	t.Setenv("TEST_A", "  ")
	t.Setenv("TEST_B", "b")
	if got := First("TEST_A", "TEST_B"); got != "b" {
		t.Fatalf("expected b, got %q", got)
	}
	if got := First(); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
