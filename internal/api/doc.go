// Package api implements the HTTP surface of Wellsite Core.
//
// This package provides:
//   - The socket endpoint clients connect to for update results
//   - Control submission, published to the control exchange and audited
//   - Read-only inspection of persisted transactions, events and dead letters
//   - Health and runtime metrics
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Graceful Degradation
//
// Every dependency except the logger is optional. A missing publisher turns
// control submission into 503; missing repositories do the same for their
// inspection routes.
package api
