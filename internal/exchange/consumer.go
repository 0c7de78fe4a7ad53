package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/wellsite-core/internal/infrastructure/logging"
	"github.com/nerrad567/wellsite-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/wellsite-core/internal/update"
)

// Broker is the subset of *mqtt.Client the exchange needs.
type Broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Settler
}

// Settler publishes requeued envelopes and dead letters.
//
// A consumer's settler must not be the connection it subscribes on: the
// subscription handler holds that connection's router while the prefetch
// buffer is full, so acknowledgements for its own publishes stall.
type Settler interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
}

const (
	defaultSettleAttempts = 3
	defaultSettleInterval = time.Second
)

// ProcessFunc handles one decoded envelope and decides its outcome.
// (*update.Processor).Process satisfies it.
type ProcessFunc func(ctx context.Context, env *update.Envelope, correlationID string) update.Outcome

// State is the lifecycle state of a Consumer.
type State int32

const (
	StateIdle State = iota
	StateConnected
	StateConsuming
	StateDraining
	StateStopped
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateConsuming:
		return "consuming"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// DeadLetter is the body published to the dead-letter topic for a
// rejected message.
type DeadLetter struct {
	Queue         string    `json:"queue"`
	Topic         string    `json:"topic"`
	Reason        string    `json:"reason"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	PayloadType   string    `json:"payload_type,omitempty"`
	RejectedAt    time.Time `json:"rejected_at"`
	Body          []byte    `json:"body"`
}

// ConsumerConfig holds the per-consumer settings.
type ConsumerConfig struct {
	// Name identifies the consumer in logs (e.g. "consumer-0").
	Name string

	// Prefetch bounds the deliveries buffered ahead of processing (minimum 1).
	Prefetch int

	// QoS is the subscription and settle-publish QoS level.
	QoS byte

	// SettleAttempts bounds the requeue or dead-letter publish attempts
	// before a delivery is left unacknowledged (default 3).
	SettleAttempts int

	// SettleInterval is the delay between settle attempts (default 1s).
	SettleInterval time.Duration
}

// Consumer reads update envelopes from one queue and settles each delivery.
//
// Each Consumer owns its own broker connection for the subscription and a
// separate one for settle publishes. Several consumers on the same Topology
// compete for messages through the shared subscription.
//
// Thread Safety:
//   - Run must be called once. State is safe to read concurrently.
type Consumer struct {
	cfg      ConsumerConfig
	broker   Broker
	settler  Settler
	topology Topology
	process  ProcessFunc
	logger   *logging.Logger

	state      atomic.Int32
	deliveries chan *mqtt.Message

	// newID mints correlation ids for envelopes that carry none.
	newID func() string
	now   func() time.Time
}

// NewConsumer creates a consumer for topology.
//
// Parameters:
//   - cfg: Name, prefetch and QoS
//   - broker: Connected broker client owned by this consumer, used to subscribe
//   - settler: Connection for requeue and dead-letter publishes (nil uses broker)
//   - topology: Resolved queue topology
//   - process: Outcome decision for each envelope
//   - logger: Logger (nil discards)
func NewConsumer(cfg ConsumerConfig, broker Broker, settler Settler, topology Topology, process ProcessFunc, logger *logging.Logger) *Consumer {
	if cfg.Prefetch < 1 {
		cfg.Prefetch = 1
	}
	if cfg.SettleAttempts < 1 {
		cfg.SettleAttempts = defaultSettleAttempts
	}
	if cfg.SettleInterval <= 0 {
		cfg.SettleInterval = defaultSettleInterval
	}
	if settler == nil {
		settler = broker
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Consumer{
		cfg:        cfg,
		broker:     broker,
		settler:    settler,
		topology:   topology,
		process:    process,
		logger:     logger.With("consumer", cfg.Name, "queue", topology.Queue),
		deliveries: make(chan *mqtt.Message, cfg.Prefetch),
		newID:      uuid.NewString,
		now:        time.Now,
	}
}

// State returns the current lifecycle state.
func (c *Consumer) State() State {
	return State(c.state.Load())
}

func (c *Consumer) setState(s State) {
	c.state.Store(int32(s))
	c.logger.Debug("consumer state changed", "state", s.String())
}

// Run subscribes to the queue and processes deliveries until ctx is
// cancelled. The message being processed when ctx is cancelled runs to
// completion; deliveries already buffered are then drained and settled.
func (c *Consumer) Run(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateConnected)) {
		return ErrAlreadyRunning
	}
	defer c.setState(StateStopped)

	filters := []string{c.topology.QueueFilter(), c.topology.RequeueFilter()}
	handler := c.enqueue(ctx)

	for i, filter := range filters {
		if err := c.broker.Subscribe(filter, c.cfg.QoS, handler); err != nil {
			for _, subscribed := range filters[:i] {
				c.broker.Unsubscribe(subscribed) //nolint:errcheck // Best effort cleanup on error path
			}
			return fmt.Errorf("subscribing %s: %w", filter, err)
		}
	}

	c.setState(StateConsuming)
	c.logger.Info("consumer started", "filters", filters, "prefetch", c.cfg.Prefetch)

	// In-flight work must finish even after cancellation.
	work := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			c.drain(work, filters)
			return nil
		case msg := <-c.deliveries:
			c.handle(work, msg)
		}
	}
}

// enqueue returns the broker handler. It blocks while the prefetch buffer is
// full, holding back further deliveries for this connection.
func (c *Consumer) enqueue(ctx context.Context) mqtt.MessageHandler {
	return func(msg *mqtt.Message) error {
		select {
		case c.deliveries <- msg:
		case <-ctx.Done():
			// Left unacknowledged; the broker redelivers it.
		}
		return nil
	}
}

func (c *Consumer) drain(ctx context.Context, filters []string) {
	c.setState(StateDraining)

	for _, filter := range filters {
		if err := c.broker.Unsubscribe(filter); err != nil {
			c.logger.Warn("unsubscribe failed", "filter", filter, "error", err)
		}
	}

	for {
		select {
		case msg := <-c.deliveries:
			c.handle(ctx, msg)
		default:
			c.logger.Info("consumer stopped")
			return
		}
	}
}

// handle decodes, processes and settles one delivery.
func (c *Consumer) handle(ctx context.Context, msg *mqtt.Message) {
	env, err := update.DecodeEnvelope(msg.Payload)
	if err != nil {
		correlationID := c.newID()
		c.logger.WithCorrelation(correlationID).Error("undecodable envelope, rejecting",
			"topic", msg.Topic, "error", err)
		c.reject(ctx, msg, nil, correlationID, err.Error())
		return
	}

	correlationID := env.CorrelationID
	if correlationID == "" {
		correlationID = c.newID()
		env.CorrelationID = correlationID
	}
	log := c.logger.WithCorrelation(correlationID)
	if msg.Duplicate {
		log.Info("redelivered message", "topic", msg.Topic)
	}

	outcome := c.safeProcess(ctx, log, env, correlationID)

	switch outcome {
	case update.Success:
		msg.Ack()
	case update.Requeue:
		c.requeue(ctx, msg, env, correlationID)
	default:
		c.reject(ctx, msg, env, correlationID, "processing outcome: "+outcome.String())
	}
}

func (c *Consumer) safeProcess(ctx context.Context, log *logging.Logger, env *update.Envelope, correlationID string) (outcome update.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("process panic recovered, rejecting", "panic", r)
			outcome = update.Reject
		}
	}()
	return c.process(ctx, env, correlationID)
}

// requeue republishes the envelope, with its correlation id, to the queue's
// own requeue topic.
func (c *Consumer) requeue(ctx context.Context, msg *mqtt.Message, env *update.Envelope, correlationID string) {
	log := c.logger.WithCorrelation(correlationID)

	body, err := json.Marshal(env)
	if err != nil {
		log.Error("encoding requeued envelope failed", "error", err)
		c.reject(ctx, msg, env, correlationID, err.Error())
		return
	}

	topic := c.topology.RequeueTopic()
	if err := c.settle(ctx, log, topic, body); err != nil {
		log.Error("requeue publish failed, leaving unacknowledged", "topic", topic, "error", err)
		return
	}
	msg.Ack()
	log.Info("message requeued", "topic", topic)
}

// reject routes the message to the dead-letter topic.
func (c *Consumer) reject(ctx context.Context, msg *mqtt.Message, env *update.Envelope, correlationID, reason string) {
	log := c.logger.WithCorrelation(correlationID)

	dl := DeadLetter{
		Queue:         c.topology.Queue,
		Topic:         msg.Topic,
		Reason:        reason,
		CorrelationID: correlationID,
		RejectedAt:    c.now().UTC(),
		Body:          msg.Payload,
	}
	if env != nil {
		dl.PayloadType = env.PayloadType
	}

	body, err := json.Marshal(dl)
	if err != nil {
		log.Error("encoding dead letter failed", "error", err)
		return
	}

	topic := c.topology.DeadLetterTopic()
	if err := c.settle(ctx, log, topic, body); err != nil {
		log.Error("dead-letter publish failed, leaving unacknowledged", "topic", topic, "error", err)
		return
	}
	msg.Ack()
	log.Warn("message dead-lettered", "topic", topic, "reason", reason)
}

// settle publishes body through the settler, retrying up to SettleAttempts.
func (c *Consumer) settle(ctx context.Context, log *logging.Logger, topic string, body []byte) error {
	var err error
	for attempt := 1; attempt <= c.cfg.SettleAttempts; attempt++ {
		if err = c.settler.Publish(ctx, topic, body, c.cfg.QoS, false); err == nil {
			return nil
		}
		if attempt == c.cfg.SettleAttempts {
			break
		}
		log.Warn("settle publish failed, retrying", "topic", topic, "attempt", attempt, "error", err)

		timer := time.NewTimer(c.cfg.SettleInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return err
		}
	}
	return err
}
