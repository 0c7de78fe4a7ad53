// Package transaction persists well-control transactions received as
// tblTransactions update envelopes.
//
// A transaction is keyed by its numeric TransactionID. The mapper assigns
// recognised Data columns case-insensitively and ignores the rest; the
// repository upserts so redeliveries and partial updates are idempotent and
// never clear stored columns.
package transaction
