package update

import "github.com/nerrad567/wellsite-core/internal/store"

// Outcome is the broker acknowledgement action for one envelope.
type Outcome int

const (
	// Success acknowledges and removes the message.
	Success Outcome = iota

	// Requeue redelivers the message to the same queue.
	Requeue

	// Reject routes the message to the dead-letter queue.
	Reject
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Requeue:
		return "requeue"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// OutcomeFor maps a store classification to a broker outcome.
// Unknown classifications fail closed to Reject.
func OutcomeFor(kind store.KindOfError) Outcome {
	switch kind {
	case store.None:
		return Success
	case store.LikelyRecoverable:
		return Requeue
	default:
		return Reject
	}
}
