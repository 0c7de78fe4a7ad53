// Package mqtt provides MQTT client connectivity for the Wellsite Core
// update pipeline.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard and shared-group support
//   - Manual acknowledgement of deliveries
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// The integration layer publishes update envelopes onto the broker; each
// update consumer connects with its own client id and joins a shared
// subscription group so competing consumers split the stream.
//
//	Integration layer → MQTT Broker → Update consumers → SQLite
//	Control API       → MQTT Broker → Device layer
//
// Automatic acknowledgement is disabled. A handler receives a *Message and
// calls Ack once the message outcome has been decided; with a persistent
// session the broker redelivers anything left unacknowledged.
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	filter := mqtt.Topics{}.Shared("wellsite-updates-site-001", "wellsite.updates/#")
//	err = client.Subscribe(filter, 1, func(msg *mqtt.Message) error {
//	    defer msg.Ack()
//	    return handle(msg.Payload)
//	})
package mqtt
