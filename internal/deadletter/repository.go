package deadletter

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Record is one archived dead letter.
type Record struct {
	ID            int64
	Topic         string
	CorrelationID string
	PayloadType   string
	Reason        string
	Payload       []byte
	ReceivedAt    time.Time
}

// Repository defines the persistence operations for dead letters.
type Repository interface {
	Insert(ctx context.Context, r *Record) error
	ListByCorrelation(ctx context.Context, correlationID string) ([]Record, error)
	Count(ctx context.Context) (int64, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed dead-letter repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Insert stores r and sets r.ID.
func (s *SQLiteRepository) Insert(ctx context.Context, r *Record) error {
	const query = `INSERT INTO dead_letters (topic, correlation_id, payload_type, reason, payload, received_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, query,
		r.Topic, nullIfEmpty(r.CorrelationID), nullIfEmpty(r.PayloadType), nullIfEmpty(r.Reason), r.Payload,
		r.ReceivedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting dead letter: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading dead letter id: %w", err)
	}
	r.ID = id
	return nil
}

// ListByCorrelation returns the dead letters for one correlation id,
// oldest first.
func (s *SQLiteRepository) ListByCorrelation(ctx context.Context, correlationID string) ([]Record, error) {
	const query = `SELECT id, topic, correlation_id, payload_type, reason, payload, received_at
		FROM dead_letters WHERE correlation_id = ? ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, correlationID)
	if err != nil {
		return nil, fmt.Errorf("querying dead letters: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r                   Record
			corr, ptype, reason sql.NullString
			received            string
		)
		if err := rows.Scan(&r.ID, &r.Topic, &corr, &ptype, &reason, &r.Payload, &received); err != nil {
			return nil, fmt.Errorf("scanning dead letter: %w", err)
		}
		r.CorrelationID = corr.String
		r.PayloadType = ptype.String
		r.Reason = reason.String
		if t, err := time.Parse(time.RFC3339Nano, received); err == nil {
			r.ReceivedAt = t
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dead letters: %w", err)
	}
	return records, nil
}

// Count returns the number of archived dead letters.
func (s *SQLiteRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting dead letters: %w", err)
	}
	return n, nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
