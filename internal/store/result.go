package store

// KindOfError classifies the outcome of a manager invocation.
type KindOfError int

const (
	// None means the document was persisted.
	None KindOfError = iota

	// LikelyRecoverable means the update may succeed if redelivered later.
	LikelyRecoverable

	// NotRecoverable means redelivery cannot help: the payload is malformed,
	// mapping failed, or persistence was exhausted on a permanent fault.
	NotRecoverable
)

// String implements fmt.Stringer.
func (k KindOfError) String() string {
	switch k {
	case None:
		return "none"
	case LikelyRecoverable:
		return "likely_recoverable"
	case NotRecoverable:
		return "not_recoverable"
	default:
		return "unknown"
	}
}

// MappingFailedMessage is the Result message when a mapper produced no
// document with an identifying field.
const MappingFailedMessage = "At least one required identifier was missing from the input. Mapping failed."

// Result is the classified outcome of Manager.Update. It is always returned,
// never absent.
type Result struct {
	KindOfError KindOfError
	Message     string
}

// Succeeded reports whether the document was persisted.
func (r Result) Succeeded() bool {
	return r.KindOfError == None
}

func success() Result {
	return Result{KindOfError: None}
}

func notRecoverable(msg string) Result {
	return Result{KindOfError: NotRecoverable, Message: msg}
}
