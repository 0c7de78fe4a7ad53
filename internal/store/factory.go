package store

import (
	"fmt"
	"sort"
)

// Factory resolves a manager by the payload type carried on an envelope.
//
// The registry is populated once by NewFactory and never mutated, so
// Create is safe for concurrent use without locking.
type Factory struct {
	managers map[string]Updater
}

// NewFactory builds the registry keyed by each manager's Responsibility.
//
// Returns:
//   - *Factory: Read-only registry
//   - error: ErrDuplicateResponsibility if two managers claim one tag, or if
//     a manager declares an empty tag
func NewFactory(updaters ...Updater) (*Factory, error) {
	managers := make(map[string]Updater, len(updaters))
	for _, u := range updaters {
		tag := u.Responsibility()
		if tag == "" {
			return nil, fmt.Errorf("%w: empty responsibility", ErrDuplicateResponsibility)
		}
		if _, exists := managers[tag]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateResponsibility, tag)
		}
		managers[tag] = u
	}
	return &Factory{managers: managers}, nil
}

// Create returns the manager registered for payloadType.
// A miss returns ErrNotSupported.
func (f *Factory) Create(payloadType string) (Updater, error) {
	if u, ok := f.managers[payloadType]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNotSupported, payloadType)
}

// Responsibilities lists the registered payload types in sorted order.
func (f *Factory) Responsibilities() []string {
	tags := make([]string, 0, len(f.managers))
	for tag := range f.managers {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
