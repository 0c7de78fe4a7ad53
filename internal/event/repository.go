package event

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/wellsite-core/internal/infrastructure/database"
	"github.com/nerrad567/wellsite-core/internal/store"
)

// ErrNotFound is returned when an event does not exist.
var ErrNotFound = errors.New("event: not found")

// Repository defines the persistence operations for events.
type Repository interface {
	Upsert(ctx context.Context, e *Event) error
	Get(ctx context.Context, id int64) (*Event, error)
	ListByNode(ctx context.Context, nodeID string) ([]Event, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a new SQLite-backed event repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Upsert inserts an event or merges it into the stored row without
// clearing columns absent from e. Without a NodeID it only merges.
func (r *SQLiteRepository) Upsert(ctx context.Context, e *Event) error {
	if err := e.validate(); err != nil {
		return err
	}
	if !e.hasNode() {
		return r.merge(ctx, e)
	}

	const query = `INSERT INTO events (event_id, node_id, event_type_id, date, user_id, note, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
			node_id       = COALESCE(excluded.node_id, node_id),
			event_type_id = COALESCE(excluded.event_type_id, event_type_id),
			date          = COALESCE(excluded.date, date),
			user_id       = COALESCE(excluded.user_id, user_id),
			note          = COALESCE(excluded.note, note),
			status        = COALESCE(excluded.status, status),
			updated_at    = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		*e.EventID, *e.NodeID, nullInt(e.EventTypeID), nullStr(e.Date), nullStr(e.UserID),
		nullStr(e.Note), nullStr(e.Status), r.now().UTC().Format(time.RFC3339))
	if err != nil {
		return wrapWriteErr(err, "upserting", *e.EventID)
	}
	return nil
}

func (r *SQLiteRepository) merge(ctx context.Context, e *Event) error {
	const query = `UPDATE events SET
			event_type_id = COALESCE(?, event_type_id),
			date          = COALESCE(?, date),
			user_id       = COALESCE(?, user_id),
			note          = COALESCE(?, note),
			status        = COALESCE(?, status),
			updated_at    = ?
		WHERE event_id = ?`

	res, err := r.db.ExecContext(ctx, query,
		nullInt(e.EventTypeID), nullStr(e.Date), nullStr(e.UserID), nullStr(e.Note),
		nullStr(e.Status), r.now().UTC().Format(time.RFC3339), *e.EventID)
	if err != nil {
		return wrapWriteErr(err, "merging", *e.EventID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("merging event %d: %w", *e.EventID, err)
	}
	if n == 0 {
		// A new event row needs its node.
		return store.MissingField("Event", "NodeID")
	}
	return nil
}

func wrapWriteErr(err error, op string, id int64) error {
	if database.IsTransient(err) {
		return fmt.Errorf("%w: %s event %d: %w", store.ErrTransient, op, id, err)
	}
	return fmt.Errorf("%s event %d: %w", op, id, err)
}

// Get retrieves an event by id.
func (r *SQLiteRepository) Get(ctx context.Context, id int64) (*Event, error) {
	const query = `SELECT event_id, node_id, event_type_id, date, user_id, note, status
		FROM events WHERE event_id = ?`

	e, err := scanEvent(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying event %d: %w", id, err)
	}
	return e, nil
}

// ListByNode returns every event for a node, oldest id first.
func (r *SQLiteRepository) ListByNode(ctx context.Context, nodeID string) ([]Event, error) {
	const query = `SELECT event_id, node_id, event_type_id, date, user_id, note, status
		FROM events WHERE node_id = ? ORDER BY event_id`

	rows, err := r.db.QueryContext(ctx, query, nodeID)
	if err != nil {
		return nil, fmt.Errorf("querying events for node %s: %w", nodeID, err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (*Event, error) {
	var (
		id, typeID                 sql.NullInt64
		nodeID                     string
		date, userID, note, status sql.NullString
	)
	if err := s.Scan(&id, &nodeID, &typeID, &date, &userID, &note, &status); err != nil {
		return nil, err
	}
	eventID := id.Int64
	e := &Event{
		EventID: &eventID,
		NodeID:  &nodeID,
		Date:    strPtr(date),
		UserID:  strPtr(userID),
		Note:    strPtr(note),
		Status:  strPtr(status),
	}
	if typeID.Valid {
		t := typeID.Int64
		e.EventTypeID = &t
	}
	return e, nil
}

func nullStr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
