package update

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Envelope is the outer message consumed from the update exchange.
//
// Payload is an opaque, kind-specific JSON document serialised as a string.
// CorrelationId travels in the body because MQTT 3.1.1 carries no headers.
type Envelope struct {
	CorrelationID    string `json:"CorrelationId,omitempty"`
	Action           string `json:"Action,omitempty"`
	Payload          string `json:"Payload"`
	PayloadType      string `json:"PayloadType"`
	ResponseMetadata string `json:"ResponseMetadata,omitempty"`
}

// DecodeEnvelope parses a broker message body.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyEnvelope
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	return &env, nil
}

// SocketID extracts the socket id a result should be pushed to.
//
// ResponseMetadata is either a JSON object {"SocketId": "..."} or the bare
// id string. An empty string means no notification was requested.
func (e *Envelope) SocketID() string {
	if e == nil {
		return ""
	}
	meta := strings.TrimSpace(e.ResponseMetadata)
	if meta == "" {
		return ""
	}
	if strings.HasPrefix(meta, "{") {
		var rm ResponseMetadata
		if err := json.Unmarshal([]byte(meta), &rm); err != nil {
			return ""
		}
		return rm.SocketID
	}
	return meta
}

// ResponseMetadata is the structured form of Envelope.ResponseMetadata.
type ResponseMetadata struct {
	SocketID string `json:"SocketId"`
}

// Payload is the typical shape of Envelope.Payload once deserialised.
// Key identifies the record; Data lists the fields to set.
type Payload struct {
	Key  []ColumnValue `json:"Key"`
	Data []ColumnValue `json:"Data"`
}

// ColumnValue is a single column assignment.
type ColumnValue struct {
	Column string `json:"Column"`
	Value  Value  `json:"Value"`
}

// Value is a column value as received on the wire. The integration layer
// sends strings, but numbers and booleans are accepted and kept in their
// textual form. JSON null (or an absent value) leaves Valid false.
type Value struct {
	Text  string
	Valid bool
}

// NewValue returns a valid Value holding s.
func NewValue(s string) Value {
	return Value{Text: s, Valid: true}
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*v = Value{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = NewValue(s)
		return nil
	}
	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) > 0 && (raw[0] == '{' || raw[0] == '[') {
		return fmt.Errorf("update: column value must be a scalar, got %s", raw)
	}
	*v = NewValue(string(raw))
	return nil
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.Text)
}

// Lookup returns the value of the first Data entry whose column matches
// name case-insensitively.
func (p *Payload) Lookup(name string) (Value, bool) {
	for _, cv := range p.Data {
		if strings.EqualFold(cv.Column, name) {
			return cv.Value, true
		}
	}
	return Value{}, false
}

// ControlAction is an outbound request submitted by a client for a node.
// It is published on the control exchange; the device layer answers later
// with an update envelope whose ResponseMetadata echoes SocketID.
type ControlAction struct {
	CorrelationID string          `json:"CorrelationId"`
	NodeID        string          `json:"NodeId"`
	Action        string          `json:"Action"`
	SocketID      string          `json:"SocketId,omitempty"`
	Payload       json.RawMessage `json:"Payload,omitempty"`
}

// StringPtr returns the text of a valid value, or nil for null.
func (v Value) StringPtr() *string {
	if !v.Valid {
		return nil
	}
	s := v.Text
	return &s
}

// Int64Ptr parses a valid value as a base-10 integer. Null yields nil.
func (v Value) Int64Ptr() (*int64, error) {
	if !v.Valid {
		return nil, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v.Text), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("update: %q is not an integer: %w", v.Text, err)
	}
	return &n, nil
}
