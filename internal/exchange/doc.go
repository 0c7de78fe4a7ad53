// Package exchange maps exchange/queue/dead-letter broker topology onto MQTT
// and runs the update consumers and the control publisher.
//
// # Topology
//
// An exchange E with routing key k1.k2 publishes to topic E/k1/k2. A queue
// named prefix+discriminator is an MQTT shared-subscription group, so
// competing consumers in one queue each receive a distinct subset of the
// messages:
//
//	fanout: $share/<queue>/E/#
//	topic:  $share/<queue>/E/<binding key with . → /, * → +>
//
// Requeued messages are republished to <queue>/requeue, which only the
// queue's own group subscribes to. Rejected messages are wrapped in a
// DeadLetter and published to DLX/<dead letter key>; the dead-letter queue is
// the shared group of whoever archives them.
//
// # Acknowledgement
//
// Automatic acknowledgement is disabled. The consumer acknowledges a
// delivery only after the outcome has been settled:
//
//	Success → ack
//	Requeue → publish to the requeue topic, then ack
//	Reject  → publish to the dead-letter topic, then ack
//
// If the settle publish fails the delivery is left unacknowledged and the
// broker redelivers it on the next session.
package exchange
