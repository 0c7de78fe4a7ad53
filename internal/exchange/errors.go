package exchange

import "errors"

// Domain-specific errors for exchange topology and consumption.
var (
	// ErrInvalidTopology is returned when a topology cannot be expressed as topics.
	ErrInvalidTopology = errors.New("exchange: invalid topology")

	// ErrAlreadyRunning is returned when Run is called on a consumer that has
	// already started.
	ErrAlreadyRunning = errors.New("exchange: consumer already started")

	// ErrInvalidAction is returned by Publisher.Prepare for an incomplete control action.
	ErrInvalidAction = errors.New("exchange: invalid control action")
)
