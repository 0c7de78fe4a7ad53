package exchange

import (
	"fmt"

	"github.com/nerrad567/wellsite-core/internal/infrastructure/config"
	"github.com/nerrad567/wellsite-core/internal/infrastructure/mqtt"
)

// requeueLevel is the last topic level of a queue's requeue topic.
const requeueLevel = "requeue"

// Topology is a resolved exchange/queue/dead-letter declaration.
type Topology struct {
	Exchange           string
	Kind               string
	Queue              string
	RoutingKey         string
	DeadLetterExchange string
	DeadLetterKey      string
	DeadLetterQueue    string
}

// NewTopology resolves cfg for one queue discriminator (usually the site id).
// It validates that every name can be expressed as MQTT topic levels.
func NewTopology(cfg config.TopologyConfig, discriminator string) (Topology, error) {
	t := Topology{
		Exchange:           cfg.ExchangeName,
		Kind:               cfg.ExchangeType,
		Queue:              cfg.QueuePrefix + discriminator,
		RoutingKey:         cfg.RoutingKey,
		DeadLetterExchange: cfg.DeadLetterExchange,
		DeadLetterKey:      cfg.DeadLetterKey,
		DeadLetterQueue:    cfg.DeadLetterQueue,
	}
	if err := t.validate(); err != nil {
		return Topology{}, err
	}
	return t, nil
}

func (t Topology) validate() error {
	names := []struct{ kind, value string }{
		{"exchange", t.Exchange},
		{"queue", t.Queue},
		{"dead letter exchange", t.DeadLetterExchange},
	}
	for _, n := range names {
		if n.value == "" {
			return fmt.Errorf("%w: %s name is required", ErrInvalidTopology, n.kind)
		}
		if !validLevel(n.value) {
			return fmt.Errorf("%w: %s name %q contains a topic separator or wildcard", ErrInvalidTopology, n.kind, n.value)
		}
	}
	if t.DeadLetterExchange == t.Exchange {
		return fmt.Errorf("%w: dead letter exchange must differ from exchange %q", ErrInvalidTopology, t.Exchange)
	}
	if t.Queue == t.Exchange || t.Queue == t.DeadLetterExchange {
		return fmt.Errorf("%w: queue %q collides with an exchange name", ErrInvalidTopology, t.Queue)
	}
	if t.DeadLetterQueue != "" && !validLevel(t.DeadLetterQueue) {
		return fmt.Errorf("%w: dead letter queue %q contains a topic separator or wildcard", ErrInvalidTopology, t.DeadLetterQueue)
	}

	switch t.Kind {
	case config.ExchangeTypeFanout:
	case config.ExchangeTypeTopic:
		if _, err := mqtt.RoutingKeyToFilter(t.RoutingKey); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTopology, err)
		}
	default:
		return fmt.Errorf("%w: unknown exchange type %q", ErrInvalidTopology, t.Kind)
	}

	if _, err := mqtt.RoutingKeyToTopic(t.DeadLetterKey); err != nil {
		return fmt.Errorf("%w: dead letter key: %w", ErrInvalidTopology, err)
	}
	return nil
}

func validLevel(s string) bool {
	for _, r := range s {
		switch r {
		case '/', '+', '#':
			return false
		}
	}
	return s != "" && s[0] != '$'
}

// BindingFilter returns the topic filter binding the queue to the exchange.
// A fanout exchange delivers everything; a topic exchange filters by the
// translated routing key.
func (t Topology) BindingFilter() string {
	if t.Kind == config.ExchangeTypeFanout {
		return mqtt.Topics{}.Join(t.Exchange, "#")
	}
	filter, _ := mqtt.RoutingKeyToFilter(t.RoutingKey) //nolint:errcheck // Validated in NewTopology
	return mqtt.Topics{}.Join(t.Exchange, filter)
}

// QueueFilter returns the shared subscription the queue's consumers join.
func (t Topology) QueueFilter() string {
	return mqtt.Topics{}.Shared(t.Queue, t.BindingFilter())
}

// RequeueTopic returns the topic a negatively acknowledged message is
// republished to. It sits outside the exchange tree so no other queue bound
// to the exchange receives it.
func (t Topology) RequeueTopic() string {
	return mqtt.Topics{}.Join(t.Queue, requeueLevel)
}

// RequeueFilter returns the shared subscription for redeliveries.
func (t Topology) RequeueFilter() string {
	return mqtt.Topics{}.Shared(t.Queue, t.RequeueTopic())
}

// PublishTopic returns the topic for routingKey on this exchange. An empty
// routingKey uses the configured base routing key.
func (t Topology) PublishTopic(routingKey string) (string, error) {
	if routingKey == "" {
		routingKey = t.RoutingKey
	}
	levels, err := mqtt.RoutingKeyToTopic(routingKey)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidTopology, err)
	}
	return mqtt.Topics{}.Join(t.Exchange, levels), nil
}

// DeadLetterTopic returns the topic rejected messages are routed to.
func (t Topology) DeadLetterTopic() string {
	levels, _ := mqtt.RoutingKeyToTopic(t.DeadLetterKey) //nolint:errcheck // Validated in NewTopology
	return mqtt.Topics{}.Join(t.DeadLetterExchange, levels)
}

// DeadLetterFilter returns the shared subscription of the dead-letter queue.
func (t Topology) DeadLetterFilter() string {
	queue := t.DeadLetterQueue
	if queue == "" {
		queue = t.Queue + "-dlq"
	}
	return mqtt.Topics{}.Shared(queue, t.DeadLetterTopic())
}
