package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/nerrad567/wellsite-core/internal/audit"
	"github.com/nerrad567/wellsite-core/internal/exchange"
	"github.com/nerrad567/wellsite-core/internal/update"
)

// maxFieldLen bounds identifier fields accepted from clients.
const maxFieldLen = 256

// ControlRequest is the body of POST /api/v1/control.
type ControlRequest struct {
	NodeID        string          `json:"node_id"`
	Action        string          `json:"action"`
	SocketID      string          `json:"socket_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// ControlResponse is returned once a control action is accepted.
type ControlResponse struct {
	CorrelationID string `json:"correlation_id"`
	SocketID      string `json:"socket_id,omitempty"`
}

// handleControl publishes a control action. The result arrives later on
// the caller's socket, tagged with the returned correlation id.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	if s.publisher == nil {
		writeUnavailable(w, "control publisher not configured")
		return
	}

	var req ControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.NodeID = strings.TrimSpace(req.NodeID)
	req.Action = strings.TrimSpace(req.Action)

	switch {
	case req.NodeID == "":
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "node_id is required")
		return
	case req.Action == "":
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "action is required")
		return
	case len(req.NodeID) > maxFieldLen, len(req.Action) > maxFieldLen,
		len(req.SocketID) > maxFieldLen, len(req.CorrelationID) > maxFieldLen:
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "field too long")
		return
	}

	correlationID, err := s.publisher.Publish(r.Context(), update.ControlAction{
		CorrelationID: req.CorrelationID,
		NodeID:        req.NodeID,
		Action:        req.Action,
		SocketID:      req.SocketID,
		Payload:       req.Payload,
	})
	s.audit(r, req, correlationID, err)
	if err != nil {
		if errors.Is(err, exchange.ErrInvalidAction) {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		s.logger.Error("control publish failed", "node_id", req.NodeID, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeUpstreamFailed, "control action could not be published")
		return
	}

	writeJSON(w, http.StatusAccepted, ControlResponse{
		CorrelationID: correlationID,
		SocketID:      req.SocketID,
	})
}

// audit records a control submission. A failed audit write is logged and
// never changes the response.
func (s *Server) audit(r *http.Request, req ControlRequest, correlationID string, publishErr error) {
	if s.auditLog == nil {
		return
	}

	e := &audit.Entry{
		NodeID:        req.NodeID,
		Action:        req.Action,
		CorrelationID: correlationID,
		SocketID:      req.SocketID,
		Source:        "api",
		Outcome:       audit.OutcomePublished,
	}
	if publishErr != nil {
		e.CorrelationID = req.CorrelationID
		e.Outcome = audit.OutcomeFailed
		e.Details = map[string]any{"error": publishErr.Error()}
	}
	if id, ok := r.Context().Value(ctxKeyRequestID).(string); ok {
		if e.Details == nil {
			e.Details = map[string]any{}
		}
		e.Details["request_id"] = id
	}

	if err := s.auditLog.Create(r.Context(), e); err != nil {
		s.logger.Warn("recording control audit entry failed", "node_id", req.NodeID, "error", err)
	}
}

// handleListAudit returns recorded control submissions, newest first.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.auditLog == nil {
		writeUnavailable(w, "control audit not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		NodeID:        q.Get("node_id"),
		CorrelationID: q.Get("correlation_id"),
	}
	if len(filter.NodeID) > maxFieldLen || len(filter.CorrelationID) > maxFieldLen {
		writeBadRequest(w, "filter value too long")
		return
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "invalid "+name)
			return
		}
		*dst = n
	}

	res, err := s.auditLog.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing control audit failed", "error", err)
		writeInternalError(w, "failed to list control audit")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
