// Package update carries update envelopes from the broker to the store
// managers.
//
// An Envelope names the record kind it carries in PayloadType. The Processor
// resolves the matching store.Updater through the store.Factory, runs it, and
// translates the classified store.Result into a broker Outcome:
//
//	store.None              → Success  (ack)
//	store.LikelyRecoverable → Requeue  (redeliver to the same queue)
//	store.NotRecoverable    → Reject   (route to the dead-letter queue)
//
// Validation failures (absent envelope, unregistered payload type) and any
// unexpected panic are rejected without touching a manager.
//
// After classification the Processor optionally pushes a result notification
// to the socket named in ResponseMetadata and records outcome metrics.
package update
