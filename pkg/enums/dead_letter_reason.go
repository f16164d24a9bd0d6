package enums

// DeadLetterReason records why a payload left the mailbox without being delivered.
type DeadLetterReason string

const (
	DeadLetterAttemptsExceeded DeadLetterReason = "attempts_exceed"
	DeadLetterMaxAge           DeadLetterReason = "max_age"
)

var validDeadLetterReasons = []DeadLetterReason{
	DeadLetterAttemptsExceeded,
	DeadLetterMaxAge,
}

func (r DeadLetterReason) IsValid() bool {
	for _, candidate := range validDeadLetterReasons {
		if candidate == r {
			return true
		}
	}
	return false
}
