package enums

// CallbackOutcome labels how a provider callback was applied; it doubles as a metric label.
type CallbackOutcome string

const (
	CallbackOutcomeCompleted        CallbackOutcome = "completed"
	CallbackOutcomeFailed           CallbackOutcome = "failed"
	CallbackOutcomeDuplicate        CallbackOutcome = "duplicate"
	CallbackOutcomeUnmatched        CallbackOutcome = "unmatched"
	CallbackOutcomeUnmatchedFailure CallbackOutcome = "unmatched_failure"
	CallbackOutcomeLatePayment      CallbackOutcome = "late_payment"
	CallbackOutcomeInvalid          CallbackOutcome = "invalid"
	CallbackOutcomeError            CallbackOutcome = "error"
)

func (o CallbackOutcome) String() string {
	return string(o)
}
