// Package store turns serialized update payloads into persisted documents.
//
// A Manager is the generic deserialize → map → persist pipeline for one
// record kind. Its two hooks are supplied as a Strategy (a MapFunc and a
// PersistFunc) rather than by embedding, so every concrete manager is a
// plain value holding its closures and its retry policy.
//
// Every call to Manager.Update yields a Result whose KindOfError drives the
// broker acknowledgement:
//
//	None              → message acknowledged
//	LikelyRecoverable → message requeued
//	NotRecoverable    → message dead-lettered
//
// A Factory maps each manager's responsibility tag (the PayloadType carried
// on the envelope, e.g. "tblTransactions") to the manager instance. It is
// built once at startup and is read-only afterwards.
package store
