package enums

import "testing"

func TestParseDestinationType(t *testing.T) {
	got, err := ParseDestinationType("third_party")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != DestinationThirdParty {
		t.Fatalf("expected third_party, got %s", got)
	}
	if _, err := ParseDestinationType("carrier_pigeon"); err == nil {
		t.Fatal("expected error for unknown destination")
	}
	if DestinationType("").IsValid() {
		t.Fatal("empty destination should be invalid")
	}
}

func TestFailureReasonIs40x(t *testing.T) {
	for _, reason := range []FailureReason{FailureBadRequest, FailureUnauthorized, FailureForbidden, FailureNotFound} {
		if !reason.Is40x() {
			t.Fatalf("expected %s to be a 40x reason", reason)
		}
	}
	for _, reason := range []FailureReason{FailureConflict, FailureAPIError, FailureHostError} {
		if reason.Is40x() {
			t.Fatalf("did not expect %s to be a 40x reason", reason)
		}
	}
}

func TestDeadLetterReasonIsValid(t *testing.T) {
	if !DeadLetterMaxAge.IsValid() || !DeadLetterAttemptsExceeded.IsValid() {
		t.Fatal("expected known reasons to be valid")
	}
	if DeadLetterReason("bored").IsValid() {
		t.Fatal("unexpected valid reason")
	}
}
