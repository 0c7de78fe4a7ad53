package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/wellsite-core/internal/infrastructure/database"
	"github.com/nerrad567/wellsite-core/internal/store"
)

// ErrNotFound is returned when a transaction does not exist.
var ErrNotFound = errors.New("transaction: not found")

// Repository defines the persistence operations for transactions.
type Repository interface {
	Upsert(ctx context.Context, t *Transaction) error
	Get(ctx context.Context, id int64) (*Transaction, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a new SQLite-backed transaction repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Upsert inserts a transaction or merges it into the stored row.
// Columns absent from t keep their stored value. An update without a NodeID
// only merges into an existing row. Lock contention is reported wrapped in
// store.ErrTransient.
func (r *SQLiteRepository) Upsert(ctx context.Context, t *Transaction) error {
	if err := t.validate(); err != nil {
		return err
	}
	if !t.hasNode() {
		return r.merge(ctx, t)
	}

	const query = `INSERT INTO transactions (transaction_id, node_id, task, input, output,
			date_request, date_process, source, comm_status, port_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transaction_id) DO UPDATE SET
			node_id      = COALESCE(excluded.node_id, node_id),
			task         = COALESCE(excluded.task, task),
			input        = COALESCE(excluded.input, input),
			output       = COALESCE(excluded.output, output),
			date_request = COALESCE(excluded.date_request, date_request),
			date_process = COALESCE(excluded.date_process, date_process),
			source       = COALESCE(excluded.source, source),
			comm_status  = COALESCE(excluded.comm_status, comm_status),
			port_id      = COALESCE(excluded.port_id, port_id),
			updated_at   = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		*t.TransactionID, nullStr(t.NodeID), nullStr(t.Task), nullStr(t.Input), nullStr(t.Output),
		nullStr(t.DateRequest), nullStr(t.DateProcess), nullStr(t.Source), nullStr(t.CommStatus),
		nullInt(t.PortID), r.now().UTC().Format(time.RFC3339))
	if err != nil {
		return wrapWriteErr(err, "upserting", *t.TransactionID)
	}
	return nil
}

// merge applies a partial update to an existing row. A missing row is
// reported as a missing NodeID, since inserting it requires one.
func (r *SQLiteRepository) merge(ctx context.Context, t *Transaction) error {
	const query = `UPDATE transactions SET
			task         = COALESCE(?, task),
			input        = COALESCE(?, input),
			output       = COALESCE(?, output),
			date_request = COALESCE(?, date_request),
			date_process = COALESCE(?, date_process),
			source       = COALESCE(?, source),
			comm_status  = COALESCE(?, comm_status),
			port_id      = COALESCE(?, port_id),
			updated_at   = ?
		WHERE transaction_id = ?`

	res, err := r.db.ExecContext(ctx, query,
		nullStr(t.Task), nullStr(t.Input), nullStr(t.Output), nullStr(t.DateRequest),
		nullStr(t.DateProcess), nullStr(t.Source), nullStr(t.CommStatus), nullInt(t.PortID),
		r.now().UTC().Format(time.RFC3339), *t.TransactionID)
	if err != nil {
		return wrapWriteErr(err, "merging", *t.TransactionID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("merging transaction %d: %w", *t.TransactionID, err)
	}
	if n == 0 {
		return store.MissingField("Transaction", "NodeID")
	}
	return nil
}

func wrapWriteErr(err error, op string, id int64) error {
	if database.IsTransient(err) {
		return fmt.Errorf("%w: %s transaction %d: %w", store.ErrTransient, op, id, err)
	}
	return fmt.Errorf("%s transaction %d: %w", op, id, err)
}

// Get retrieves a transaction by id.
func (r *SQLiteRepository) Get(ctx context.Context, id int64) (*Transaction, error) {
	const query = `SELECT transaction_id, node_id, task, input, output, date_request,
			date_process, source, comm_status, port_id
		FROM transactions WHERE transaction_id = ?`

	var (
		t                                                   Transaction
		txID                                                int64
		nodeID                                              string
		task, input, output, dateReq, dateProc, src, status sql.NullString
		port                                                sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&txID, &nodeID, &task, &input, &output, &dateReq, &dateProc, &src, &status, &port)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying transaction %d: %w", id, err)
	}

	t.TransactionID = &txID
	t.NodeID = &nodeID
	t.Task = strPtr(task)
	t.Input = strPtr(input)
	t.Output = strPtr(output)
	t.DateRequest = strPtr(dateReq)
	t.DateProcess = strPtr(dateProc)
	t.Source = strPtr(src)
	t.CommStatus = strPtr(status)
	if port.Valid {
		p := port.Int64
		t.PortID = &p
	}
	return &t, nil
}

// nullStr converts a *string to a sql.NullString for nullable columns.
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
