// Package database provides the SQLite document store for Wellsite Core.
//
// Store adapters (transactions, events, dead letters) persist with
// INSERT ... ON CONFLICT DO UPDATE so retries and broker redeliveries
// re-apply an update idempotently.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Lock contention is reported by IsTransient; the store managers use it to
// decide whether an exhausted retry may be requeued.
package database
