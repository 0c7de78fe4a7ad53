package update

import "errors"

// Domain-specific errors for envelope handling.
var (
	// ErrEmptyEnvelope is returned when a broker message carries no body.
	ErrEmptyEnvelope = errors.New("update: empty envelope")

	// ErrMalformedEnvelope is returned when a message body is not a valid envelope.
	ErrMalformedEnvelope = errors.New("update: malformed envelope")
)
