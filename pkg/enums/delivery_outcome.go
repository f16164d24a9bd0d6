package enums

// DeliveryOutcome tags the webhook_deliveries_total counter.
type DeliveryOutcome string

const (
	OutcomeOK               DeliveryOutcome = "ok"
	OutcomeRetry            DeliveryOutcome = "retry"
	OutcomeTerminal         DeliveryOutcome = "terminal"
	OutcomeAttemptsExceed   DeliveryOutcome = "attempts_exceed"
	OutcomeDeliveryDeadline DeliveryOutcome = "delivery_deadline"
	OutcomeRace             DeliveryOutcome = "race"
	OutcomeMaxAge           DeliveryOutcome = "max_age"
)

// FailureReason tags the webhook_delivery_failures_total counter.
type FailureReason string

const (
	FailureHostError     FailureReason = "host_error"
	FailureTimeoutReset  FailureReason = "timeout_reset"
	FailureConflict      FailureReason = "conflict"
	FailureBadRequest    FailureReason = "bad_request"
	FailureUnauthorized  FailureReason = "unauthorized"
	FailureForbidden     FailureReason = "forbidden"
	FailureNotFound      FailureReason = "not_found"
	FailureAPIError      FailureReason = "api_error"
	FailureUnexpected    FailureReason = "unexpected_error"
	FailureUnknownRegion FailureReason = "unknown_region"

	// Third party forwarding.
	FailureUnexpectedPath FailureReason = "unexpected_path"
	FailureFiltered       FailureReason = "filtered"
	FailureConfiguration  FailureReason = "configuration_error"
	FailureJSONDecode     FailureReason = "json_decode_error"
	FailureForward        FailureReason = "failure"
)

// Is40x reports whether the reason is one of the terminal client-error statuses.
func (r FailureReason) Is40x() bool {
	switch r {
	case FailureBadRequest, FailureUnauthorized, FailureForbidden, FailureNotFound:
		return true
	}
	return false
}
