package update

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/wellsite-core/internal/infrastructure/logging"
	"github.com/nerrad567/wellsite-core/internal/store"
)

// Resolver finds the manager responsible for a payload type.
// *store.Factory satisfies it.
type Resolver interface {
	Create(payloadType string) (store.Updater, error)
}

// Broadcaster pushes a text message to a live client socket.
// *socket.Registry satisfies it.
type Broadcaster interface {
	Broadcast(socketID, message string) error
}

// UnregisteredPayloadType is the metric label for payload types no manager
// claims, keeping the label set bounded by the registered managers.
const UnregisteredPayloadType = "unregistered"

// Recorder receives one observation per processed envelope.
type Recorder interface {
	RecordOutcome(payloadType, outcome string, duration time.Duration)
}

// Notification is the JSON text frame pushed to a waiting client.
type Notification struct {
	CorrelationID string `json:"correlationId"`
	PayloadType   string `json:"payloadType"`
	Outcome       string `json:"outcome"`
	Message       string `json:"message,omitempty"`
}

// Processor validates envelopes, dispatches them to store managers and
// classifies the result.
//
// Thread Safety:
//   - Process is safe for concurrent use; competing consumers share one Processor.
type Processor struct {
	resolver    Resolver
	broadcaster Broadcaster
	recorder    Recorder
	logger      *logging.Logger
}

// Option configures optional Processor collaborators.
type Option func(*Processor)

// WithBroadcaster enables result notification to the socket named in
// ResponseMetadata.
func WithBroadcaster(b Broadcaster) Option {
	return func(p *Processor) { p.broadcaster = b }
}

// WithRecorder enables outcome metrics.
func WithRecorder(r Recorder) Option {
	return func(p *Processor) { p.recorder = r }
}

// NewProcessor creates a Processor.
//
// Parameters:
//   - resolver: Lookup from payload type to manager, usually *store.Factory
//   - logger: Logger for pipeline transitions (nil discards)
//   - opts: Optional broadcaster and recorder
func NewProcessor(resolver Resolver, logger *logging.Logger, opts ...Option) *Processor {
	if logger == nil {
		logger = logging.Discard()
	}
	p := &Processor{
		resolver: resolver,
		logger:   logger.With("component", "processor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs one envelope through its manager and returns the broker
// acknowledgement action.
//
// An absent envelope is rejected before the resolver is consulted. An
// unregistered payload type is rejected before any deserialisation. A panic
// anywhere in resolution or invocation is recovered and rejected.
func (p *Processor) Process(ctx context.Context, env *Envelope, correlationID string) Outcome {
	log := p.logger.WithCorrelation(correlationID)

	if env == nil {
		log.Error("update envelope is absent, rejecting")
		return Reject
	}

	start := time.Now()
	log = log.With("payload_type", env.PayloadType)

	result, responsibility := p.dispatch(ctx, log, env, correlationID)
	outcome := OutcomeFor(result.KindOfError)

	log.Info("update processed",
		"outcome", outcome.String(),
		"kind_of_error", result.KindOfError.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if p.recorder != nil {
		label := responsibility
		if label == "" {
			label = UnregisteredPayloadType
		}
		p.recorder.RecordOutcome(label, outcome.String(), time.Since(start))
	}
	// A requeued update is not final; the client hears about it once it settles.
	if outcome != Requeue {
		p.notify(log, env, correlationID, outcome, result.Message)
	}

	return outcome
}

// dispatch returns the manager's result and the responsibility of the manager
// that handled it, empty when none was resolved.
func (p *Processor) dispatch(ctx context.Context, log *logging.Logger, env *Envelope, correlationID string) (result store.Result, responsibility string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("update dispatch panic recovered", "panic", r)
			result = store.Result{
				KindOfError: store.NotRecoverable,
				Message:     fmt.Sprintf("unexpected failure: %v", r),
			}
		}
	}()

	manager, err := p.resolver.Create(env.PayloadType)
	if err != nil {
		log.Error("no manager for payload type", "error", err)
		return store.Result{KindOfError: store.NotRecoverable, Message: err.Error()}, ""
	}

	responsibility = manager.Responsibility()
	log.Info("dispatching update", "responsibility", responsibility)
	return manager.Update(ctx, env.Payload, correlationID), responsibility
}

// notify pushes the result to the requesting client, if any. A failed send
// is logged and never changes the outcome.
func (p *Processor) notify(log *logging.Logger, env *Envelope, correlationID string, outcome Outcome, message string) {
	if p.broadcaster == nil {
		return
	}
	socketID := env.SocketID()
	if socketID == "" {
		return
	}

	frame, err := json.Marshal(Notification{
		CorrelationID: correlationID,
		PayloadType:   env.PayloadType,
		Outcome:       outcome.String(),
		Message:       message,
	})
	if err != nil {
		log.Error("encoding result notification failed", "error", err)
		return
	}

	if err := p.broadcaster.Broadcast(socketID, string(frame)); err != nil {
		log.Warn("result notification failed", "socket_id", socketID, "error", err)
		return
	}
	log.Debug("result notification sent", "socket_id", socketID)
}
