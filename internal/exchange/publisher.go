package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nerrad567/wellsite-core/internal/infrastructure/logging"
	"github.com/nerrad567/wellsite-core/internal/update"
)

// ControlPayloadType tags control envelopes published by the Publisher.
const ControlPayloadType = "ControlAction"

// Sender is the publish half of Broker.
type Sender interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
}

// Publisher submits control actions to the control exchange.
//
// Thread Safety:
//   - Safe for concurrent use.
type Publisher struct {
	sender   Sender
	topology Topology
	qos      byte
	logger   *logging.Logger
	newID    func() string
}

// NewPublisher creates a publisher for topology.
func NewPublisher(sender Sender, topology Topology, qos byte, logger *logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Publisher{
		sender:   sender,
		topology: topology,
		qos:      qos,
		logger:   logger.With("component", "publisher", "exchange", topology.Exchange),
		newID:    uuid.NewString,
	}
}

// Topology returns the publish-side topology, including the dead-letter
// pair downstream consumers of the control exchange reject to.
func (p *Publisher) Topology() Topology {
	return p.topology
}

// Prepare serialises a control action into a control envelope and returns
// it with the routing key it is published under. The action's
// CorrelationID must already be set.
func (p *Publisher) Prepare(action update.ControlAction) ([]byte, string, error) {
	if strings.TrimSpace(action.NodeID) == "" {
		return nil, "", fmt.Errorf("%w: node id is required", ErrInvalidAction)
	}
	if strings.TrimSpace(action.Action) == "" {
		return nil, "", fmt.Errorf("%w: action is required", ErrInvalidAction)
	}
	if action.CorrelationID == "" {
		return nil, "", fmt.Errorf("%w: correlation id is required", ErrInvalidAction)
	}

	inner, err := json.Marshal(action)
	if err != nil {
		return nil, "", fmt.Errorf("encoding control action: %w", err)
	}

	env := update.Envelope{
		CorrelationID: action.CorrelationID,
		Action:        action.Action,
		Payload:       string(inner),
		PayloadType:   ControlPayloadType,
	}
	if action.SocketID != "" {
		meta, err := json.Marshal(update.ResponseMetadata{SocketID: action.SocketID})
		if err != nil {
			return nil, "", fmt.Errorf("encoding response metadata: %w", err)
		}
		env.ResponseMetadata = string(meta)
	}

	body, err := json.Marshal(env)
	if err != nil {
		return nil, "", fmt.Errorf("encoding control envelope: %w", err)
	}
	return body, p.topology.RoutingKey, nil
}

// Publish prepares and publishes action, minting a correlation id when the
// action has none. It returns the correlation id the eventual result will
// carry.
func (p *Publisher) Publish(ctx context.Context, action update.ControlAction) (string, error) {
	if action.CorrelationID == "" {
		action.CorrelationID = p.newID()
	}
	log := p.logger.WithCorrelation(action.CorrelationID)

	body, routingKey, err := p.Prepare(action)
	if err != nil {
		return "", err
	}

	topic, err := p.topology.PublishTopic(routingKey)
	if err != nil {
		return "", err
	}

	if err := p.sender.Publish(ctx, topic, body, p.qos, false); err != nil {
		log.Error("control publish failed", "topic", topic, "error", err)
		return "", fmt.Errorf("publishing control action: %w", err)
	}

	log.Info("control action published", "topic", topic, "node_id", action.NodeID, "action", action.Action)
	return action.CorrelationID, nil
}
