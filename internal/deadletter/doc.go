// Package deadletter archives messages rejected by the update consumers.
//
// The Archiver joins the dead-letter queue's shared subscription and stores
// every DeadLetter in the dead_letters table so rejected updates remain
// inspectable after the broker has forgotten them.
package deadletter
