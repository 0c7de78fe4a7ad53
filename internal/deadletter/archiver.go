package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/wellsite-core/internal/exchange"
	"github.com/nerrad567/wellsite-core/internal/infrastructure/logging"
	"github.com/nerrad567/wellsite-core/internal/infrastructure/mqtt"
)

// Subscriber is the subscribe half of exchange.Broker.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Archiver stores dead letters from one dead-letter queue.
type Archiver struct {
	sub    Subscriber
	repo   Repository
	filter string
	qos    byte
	logger *logging.Logger
	now    func() time.Time
}

// NewArchiver creates an archiver for topology's dead-letter queue.
func NewArchiver(sub Subscriber, repo Repository, topology exchange.Topology, qos byte, logger *logging.Logger) *Archiver {
	if logger == nil {
		logger = logging.Discard()
	}
	filter := topology.DeadLetterFilter()
	return &Archiver{
		sub:    sub,
		repo:   repo,
		filter: filter,
		qos:    qos,
		logger: logger.With("component", "deadletter", "filter", filter),
		now:    time.Now,
	}
}

// Run subscribes and archives until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	if err := a.sub.Subscribe(a.filter, a.qos, a.handle(ctx)); err != nil {
		return fmt.Errorf("subscribing dead-letter queue: %w", err)
	}
	a.logger.Info("dead-letter archiver started")

	<-ctx.Done()

	if err := a.sub.Unsubscribe(a.filter); err != nil {
		a.logger.Warn("dead-letter unsubscribe failed", "error", err)
	}
	a.logger.Info("dead-letter archiver stopped")
	return nil
}

// handle archives one delivery. Every delivery is acknowledged; a letter
// that cannot be stored is logged with its full body instead.
func (a *Archiver) handle(ctx context.Context) mqtt.MessageHandler {
	return func(msg *mqtt.Message) error {
		defer msg.Ack()

		rec := a.record(msg)
		log := a.logger.WithCorrelation(rec.CorrelationID)

		if err := a.repo.Insert(context.WithoutCancel(ctx), rec); err != nil {
			log.Error("archiving dead letter failed", "error", err, "payload", string(msg.Payload))
			return nil
		}
		log.Info("dead letter archived", "id", rec.ID, "payload_type", rec.PayloadType, "reason", rec.Reason)
		return nil
	}
}

// record builds the archive row. A body that is not a DeadLetter (published
// by another producer) is archived verbatim under the delivery topic.
func (a *Archiver) record(msg *mqtt.Message) *Record {
	var dl exchange.DeadLetter
	if err := json.Unmarshal(msg.Payload, &dl); err != nil || dl.Body == nil {
		payload := msg.Payload
		if payload == nil {
			payload = []byte{}
		}
		return &Record{Topic: msg.Topic, Payload: payload, ReceivedAt: a.now()}
	}
	topic := dl.Topic
	if topic == "" {
		topic = msg.Topic
	}
	return &Record{
		Topic:         topic,
		CorrelationID: dl.CorrelationID,
		PayloadType:   dl.PayloadType,
		Reason:        dl.Reason,
		Payload:       dl.Body,
		ReceivedAt:    a.now(),
	}
}
