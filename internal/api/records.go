package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/wellsite-core/internal/deadletter"
	"github.com/nerrad567/wellsite-core/internal/event"
	"github.com/nerrad567/wellsite-core/internal/transaction"
)

// TransactionView is the JSON form of a stored transaction.
type TransactionView struct {
	TransactionID *int64  `json:"transaction_id"`
	NodeID        *string `json:"node_id"`
	Task          *string `json:"task,omitempty"`
	Input         *string `json:"input,omitempty"`
	Output        *string `json:"output,omitempty"`
	DateRequest   *string `json:"date_request,omitempty"`
	DateProcess   *string `json:"date_process,omitempty"`
	Source        *string `json:"source,omitempty"`
	CommStatus    *string `json:"comm_status,omitempty"`
	PortID        *int64  `json:"port_id,omitempty"`
}

// EventView is the JSON form of a stored event.
type EventView struct {
	EventID     *int64  `json:"event_id"`
	NodeID      *string `json:"node_id"`
	EventTypeID *int64  `json:"event_type_id,omitempty"`
	Date        *string `json:"date,omitempty"`
	UserID      *string `json:"user_id,omitempty"`
	Note        *string `json:"note,omitempty"`
	Status      *string `json:"status,omitempty"`
}

// DeadLetterView is the JSON form of an archived dead letter.
type DeadLetterView struct {
	ID            int64  `json:"id"`
	Topic         string `json:"topic"`
	CorrelationID string `json:"correlation_id,omitempty"`
	PayloadType   string `json:"payload_type,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Payload       string `json:"payload"`
	ReceivedAt    string `json:"received_at"`
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	if s.transactions == nil {
		writeUnavailable(w, "transaction store not configured")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeBadRequest(w, "invalid transaction ID")
		return
	}

	t, err := s.transactions.Get(r.Context(), id)
	if errors.Is(err, transaction.ErrNotFound) {
		writeNotFound(w, "transaction not found")
		return
	}
	if err != nil {
		s.logger.Error("loading transaction failed", "transaction_id", id, "error", err)
		writeInternalError(w, "failed to load transaction")
		return
	}

	writeJSON(w, http.StatusOK, TransactionView(*t))
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeUnavailable(w, "event store not configured")
		return
	}
	nodeID := r.URL.Query().Get("node_id")
	if nodeID == "" || len(nodeID) > maxFieldLen {
		writeBadRequest(w, "node_id query parameter is required")
		return
	}

	events, err := s.events.ListByNode(r.Context(), nodeID)
	if err != nil {
		s.logger.Error("listing events failed", "node_id", nodeID, "error", err)
		writeInternalError(w, "failed to list events")
		return
	}

	views := make([]EventView, 0, len(events))
	for _, e := range events {
		views = append(views, eventView(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": views,
		"count":  len(views),
	})
}

func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	if s.deadLetters == nil {
		writeUnavailable(w, "dead-letter archive not configured")
		return
	}
	correlationID := r.URL.Query().Get("correlation_id")
	if correlationID == "" || len(correlationID) > maxFieldLen {
		writeBadRequest(w, "correlation_id query parameter is required")
		return
	}

	records, err := s.deadLetters.ListByCorrelation(r.Context(), correlationID)
	if err != nil {
		s.logger.Error("listing dead letters failed", "correlation_id", correlationID, "error", err)
		writeInternalError(w, "failed to list dead letters")
		return
	}

	views := make([]DeadLetterView, 0, len(records))
	for _, rec := range records {
		views = append(views, deadLetterView(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dead_letters": views,
		"count":        len(views),
	})
}

func eventView(e event.Event) EventView {
	return EventView{
		EventID:     e.EventID,
		NodeID:      e.NodeID,
		EventTypeID: e.EventTypeID,
		Date:        e.Date,
		UserID:      e.UserID,
		Note:        e.Note,
		Status:      e.Status,
	}
}

func deadLetterView(r deadletter.Record) DeadLetterView {
	return DeadLetterView{
		ID:            r.ID,
		Topic:         r.Topic,
		CorrelationID: r.CorrelationID,
		PayloadType:   r.PayloadType,
		Reason:        r.Reason,
		Payload:       string(r.Payload),
		ReceivedAt:    r.ReceivedAt.UTC().Format(time.RFC3339Nano),
	}
}
