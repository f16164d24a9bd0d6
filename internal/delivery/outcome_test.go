package delivery

import (
	"errors"
	"net/http"
	"testing"

	"github.com/angelmondragon/webhook-relay/pkg/enums"
	pkgerrors "github.com/angelmondragon/webhook-relay/pkg/errors"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		kind   Kind
		reason enums.FailureReason
		alert  bool
	}{
		{name: "success", err: nil, kind: KindDelivered},
		{name: "restricted host", err: pkgerrors.New(pkgerrors.CodeRestrictedHost, "restricted"), kind: KindRetry, reason: enums.FailureHostError, alert: true},
		{name: "unreachable host", err: pkgerrors.New(pkgerrors.CodeHostUnreachable, "no route"), kind: KindRetry, reason: enums.FailureHostError},
		{name: "conflict", err: pkgerrors.New(pkgerrors.CodeConflict, "conflict"), kind: KindTerminal, reason: enums.FailureConflict},
		{name: "timeout", err: pkgerrors.New(pkgerrors.CodeTimeout, "timeout"), kind: KindRetry, reason: enums.FailureTimeoutReset},
		{name: "reset", err: pkgerrors.New(pkgerrors.CodeConnectionReset, "reset"), kind: KindRetry, reason: enums.FailureTimeoutReset},
		{name: "bad request", err: pkgerrors.RemoteStatus(http.StatusBadRequest, "bad"), kind: KindTerminal, reason: enums.FailureBadRequest},
		{name: "unauthorized", err: pkgerrors.RemoteStatus(http.StatusUnauthorized, "who"), kind: KindTerminal, reason: enums.FailureUnauthorized},
		{name: "forbidden", err: pkgerrors.RemoteStatus(http.StatusForbidden, "no"), kind: KindTerminal, reason: enums.FailureForbidden},
		{name: "not found", err: pkgerrors.RemoteStatus(http.StatusNotFound, "gone"), kind: KindTerminal, reason: enums.FailureNotFound},
		{name: "server error", err: pkgerrors.RemoteStatus(http.StatusBadGateway, "down"), kind: KindRetry, reason: enums.FailureAPIError},
		{name: "rate limited", err: pkgerrors.RemoteStatus(http.StatusTooManyRequests, "slow"), kind: KindRetry, reason: enums.FailureAPIError},
		{name: "unknown region", err: pkgerrors.New(pkgerrors.CodeNotFound, "no region"), kind: KindUnexpected, reason: enums.FailureUnknownRegion},
		{name: "untyped", err: errors.New("boom"), kind: KindUnexpected, reason: enums.FailureUnexpected},
		{name: "other code", err: pkgerrors.New(pkgerrors.CodeInternal, "internal"), kind: KindUnexpected, reason: enums.FailureUnexpected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcome := Classify(tc.err)
			if outcome.Kind != tc.kind {
				t.Fatalf("expected kind %s, got %s", tc.kind, outcome.Kind)
			}
			if outcome.Reason != tc.reason {
				t.Fatalf("expected reason %q, got %q", tc.reason, outcome.Reason)
			}
			if outcome.Alert != tc.alert {
				t.Fatalf("expected alert %v, got %v", tc.alert, outcome.Alert)
			}
			if tc.err != nil && !errors.Is(outcome.Err, tc.err) {
				t.Fatalf("expected original error to be kept")
			}
		})
	}
}

func TestClassifyKeepsRemoteStatus(t *testing.T) {
	outcome := Classify(pkgerrors.RemoteStatus(http.StatusServiceUnavailable, "unavailable"))
	if outcome.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", outcome.Status)
	}
	if !outcome.Failed() {
		t.Fatal("expected 503 to keep the payload")
	}
}

func TestOutcomeFailed(t *testing.T) {
	if (Outcome{Kind: KindTerminal}).Failed() {
		t.Fatal("terminal outcomes leave the mailbox")
	}
	if (Outcome{Kind: KindDelivered, Reason: enums.FailureForward}).Failed() {
		t.Fatal("swallowed third party failures leave the mailbox")
	}
	if !(Outcome{Kind: KindUnexpected}).Failed() {
		t.Fatal("unexpected outcomes keep the payload")
	}
}
