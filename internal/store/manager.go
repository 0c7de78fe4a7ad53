package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/wellsite-core/internal/infrastructure/logging"
)

// MapFunc converts a deserialized payload into a document. Returning a nil
// document means no identifying field was present.
type MapFunc[P, D any] func(payload P) (*D, error)

// PersistFunc stores a mapped document. It must be idempotent: the same
// document may be persisted again after a retry or a broker redelivery.
type PersistFunc[D any] func(ctx context.Context, doc *D) error

// Strategy holds the hooks a Manager runs for one record kind.
type Strategy[P, D any] struct {
	Map     MapFunc[P, D]
	Persist PersistFunc[D]

	// Key optionally renders the document's identifying key for log entries.
	Key func(doc *D) string
}

// RetryPolicy bounds persistence attempts. It is read once when the
// manager is constructed.
type RetryPolicy struct {
	// Retries is the total number of persistence attempts (minimum 1).
	Retries int

	// Interval is the fixed delay between attempts.
	Interval time.Duration

	// RequeueTransient classifies exhaustion on an ErrTransient failure as
	// LikelyRecoverable instead of NotRecoverable.
	RequeueTransient bool
}

// Updater is the type-erased view of a Manager held by the Factory.
type Updater interface {
	// Responsibility returns the payload type this manager owns.
	Responsibility() string

	// Update deserializes, maps and persists payload. It never panics and
	// always returns a classified Result.
	Update(ctx context.Context, payload, correlationID string) Result
}

// Manager runs the deserialize → map → persist pipeline for payload kind P
// and document kind D.
//
// Thread Safety:
//   - Update is safe for concurrent use provided the Strategy hooks are.
type Manager[P, D any] struct {
	responsibility string
	strategy       Strategy[P, D]
	policy         RetryPolicy
	logger         *logging.Logger

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewManager creates a manager for one responsibility tag.
//
// Parameters:
//   - responsibility: The PayloadType this manager claims (e.g. "tblTransactions")
//   - strategy: Map and Persist hooks; a nil hook behaves as not implemented
//   - policy: Retry bound and delay; Retries below 1 is treated as 1
//   - logger: Logger for transition logging (nil discards)
func NewManager[P, D any](responsibility string, strategy Strategy[P, D], policy RetryPolicy, logger *logging.Logger) *Manager[P, D] {
	if policy.Retries < 1 {
		policy.Retries = 1
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager[P, D]{
		responsibility: responsibility,
		strategy:       strategy,
		policy:         policy,
		logger:         logger.With("responsibility", responsibility),
		sleep:          sleepContext,
	}
}

// Responsibility implements Updater.
func (m *Manager[P, D]) Responsibility() string {
	return m.responsibility
}

// Policy returns the retry policy fixed at construction.
func (m *Manager[P, D]) Policy() RetryPolicy {
	return m.policy
}

// Update implements Updater.
//
// The pipeline short-circuits on the first failure:
//  1. Deserialization failure → NotRecoverable; hooks are not called
//  2. Map returns ErrNotImplemented or fails → NotRecoverable with its message
//  3. Map returns no document → NotRecoverable with MappingFailedMessage
//  4. Persist fails on every attempt → NotRecoverable (or LikelyRecoverable
//     under RequeueTransient)
//
// A panic in either hook is recovered and reported as NotRecoverable.
func (m *Manager[P, D]) Update(ctx context.Context, payload, correlationID string) (result Result) {
	log := m.logger.WithCorrelation(correlationID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("store manager panic recovered", "panic", r)
			result = notRecoverable(fmt.Sprintf("unexpected failure: %v", r))
		}
	}()

	log.Info("deserializing payload", "payload_bytes", len(payload))
	var decoded P
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		log.Error("payload deserialization failed", "error", err)
		return notRecoverable(fmt.Sprintf("payload could not be deserialized: %v", err))
	}

	log.Info("mapping payload")
	doc, err := m.mapPayload(decoded)
	if err != nil {
		log.Error("payload mapping failed", "error", err)
		return notRecoverable(err.Error())
	}
	if doc == nil {
		log.Error("payload mapping failed", "error", MappingFailedMessage)
		return notRecoverable(MappingFailedMessage)
	}

	if m.strategy.Key != nil {
		log = log.With("key", m.strategy.Key(doc))
	}

	return m.persistWithRetry(ctx, log, doc)
}

func (m *Manager[P, D]) mapPayload(payload P) (*D, error) {
	if m.strategy.Map == nil {
		return nil, fmt.Errorf("%w: map for %s", ErrNotImplemented, m.responsibility)
	}
	return m.strategy.Map(payload)
}

func (m *Manager[P, D]) persistWithRetry(ctx context.Context, log *logging.Logger, doc *D) Result {
	var lastErr error

	for attempt := 1; attempt <= m.policy.Retries; attempt++ {
		log.Info("persisting document", "attempt", attempt, "max_attempts", m.policy.Retries)

		lastErr = m.persist(ctx, doc)
		if lastErr == nil {
			log.Info("document persisted", "attempt", attempt)
			return success()
		}

		log.Warn("persist attempt failed", "attempt", attempt, "error", lastErr)

		if isPermanent(lastErr) || attempt == m.policy.Retries {
			break
		}
		if err := m.sleep(ctx, m.policy.Interval); err != nil {
			log.Warn("retry wait cancelled", "error", err)
			break
		}
	}

	return m.exhausted(log, lastErr)
}

func (m *Manager[P, D]) persist(ctx context.Context, doc *D) error {
	if m.strategy.Persist == nil {
		return fmt.Errorf("%w: persist for %s", ErrNotImplemented, m.responsibility)
	}
	return m.strategy.Persist(ctx, doc)
}

// exhausted classifies the final persistence failure.
func (m *Manager[P, D]) exhausted(log *logging.Logger, lastErr error) Result {
	msg := fmt.Sprintf("persistence failed after retries: %v", lastErr)

	if m.policy.RequeueTransient && errors.Is(lastErr, ErrTransient) {
		log.Warn("persistence exhausted on transient failure", "error", lastErr)
		return Result{KindOfError: LikelyRecoverable, Message: msg}
	}

	log.Error("persistence exhausted", "error", lastErr)
	return notRecoverable(msg)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
