package delivery

import (
	"net/http"

	"github.com/angelmondragon/webhook-relay/pkg/enums"
	pkgerrors "github.com/angelmondragon/webhook-relay/pkg/errors"
)

// Kind is the classification drainers act on.
type Kind int

const (
	KindDelivered Kind = iota
	KindRetry
	KindTerminal
	// KindUnexpected is an error nothing classified. Drainers treat it like a
	// retry and then surface it.
	KindUnexpected
)

func (k Kind) String() string {
	switch k {
	case KindDelivered:
		return "delivered"
	case KindRetry:
		return "retry"
	case KindTerminal:
		return "terminal"
	case KindUnexpected:
		return "unexpected"
	}
	return "unknown"
}

// Outcome is the result of one delivery attempt.
type Outcome struct {
	Kind        Kind
	Reason      enums.FailureReason
	Destination string
	Status      int
	// Alert marks failures an operator has to act on.
	Alert bool
	Err   error
}

// Failed reports whether the payload has to stay in its mailbox.
func (o Outcome) Failed() bool {
	return o.Kind == KindRetry || o.Kind == KindUnexpected
}

// Classify maps a region transport error onto an outcome.
func Classify(err error) Outcome {
	if err == nil {
		return Outcome{Kind: KindDelivered}
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		return Outcome{Kind: KindUnexpected, Reason: enums.FailureUnexpected, Err: err}
	}

	switch typed.Code() {
	case pkgerrors.CodeRestrictedHost:
		return Outcome{Kind: KindRetry, Reason: enums.FailureHostError, Alert: true, Err: err}
	case pkgerrors.CodeHostUnreachable:
		return Outcome{Kind: KindRetry, Reason: enums.FailureHostError, Err: err}
	case pkgerrors.CodeConflict:
		return Outcome{Kind: KindTerminal, Reason: enums.FailureConflict, Status: http.StatusConflict, Err: err}
	case pkgerrors.CodeTimeout, pkgerrors.CodeConnectionReset:
		return Outcome{Kind: KindRetry, Reason: enums.FailureTimeoutReset, Err: err}
	case pkgerrors.CodeRemoteAPI:
		return classifyStatus(typed.Status(), err)
	case pkgerrors.CodeNotFound:
		return Outcome{Kind: KindUnexpected, Reason: enums.FailureUnknownRegion, Err: err}
	}
	return Outcome{Kind: KindUnexpected, Reason: enums.FailureUnexpected, Err: err}
}

func classifyStatus(status int, err error) Outcome {
	outcome := Outcome{Kind: KindRetry, Reason: enums.FailureAPIError, Status: status, Err: err}
	switch status {
	case http.StatusBadRequest:
		outcome.Kind, outcome.Reason = KindTerminal, enums.FailureBadRequest
	case http.StatusUnauthorized:
		outcome.Kind, outcome.Reason = KindTerminal, enums.FailureUnauthorized
	case http.StatusForbidden:
		outcome.Kind, outcome.Reason = KindTerminal, enums.FailureForbidden
	case http.StatusNotFound:
		outcome.Kind, outcome.Reason = KindTerminal, enums.FailureNotFound
	}
	return outcome
}
