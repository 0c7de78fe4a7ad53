package event

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/wellsite-core/internal/store"
	"github.com/nerrad567/wellsite-core/internal/update"
)

// Responsibility is the PayloadType this package handles.
const Responsibility = "tblEvents"

// Event is one well event. Nil fields were absent from the update.
type Event struct {
	EventID     *int64
	NodeID      *string
	EventTypeID *int64
	Date        *string
	UserID      *string
	Note        *string
	Status      *string
}

// Key renders the event id for log entries.
func (e *Event) Key() string {
	if e == nil || e.EventID == nil {
		return ""
	}
	return strconv.FormatInt(*e.EventID, 10)
}

// Map converts an update payload into an Event. Recognised columns are
// matched case-insensitively; others are ignored. The id falls back to Key
// when Data lacks it, and a nil Event is returned when neither has one.
func Map(p update.Payload) (*Event, error) {
	var e Event
	for _, cv := range p.Data {
		var err error
		switch strings.ToLower(cv.Column) {
		case "eventid":
			if id, perr := cv.Value.Int64Ptr(); perr == nil {
				e.EventID = id
			}
		case "nodeid":
			e.NodeID = cv.Value.StringPtr()
		case "eventtypeid":
			e.EventTypeID, err = cv.Value.Int64Ptr()
		case "date":
			e.Date = cv.Value.StringPtr()
		case "userid":
			e.UserID = cv.Value.StringPtr()
		case "note":
			e.Note = cv.Value.StringPtr()
		case "status":
			e.Status = cv.Value.StringPtr()
		}
		if err != nil {
			return nil, fmt.Errorf("mapping column %s: %w", cv.Column, err)
		}
	}
	for _, cv := range p.Key {
		if e.EventID != nil {
			break
		}
		if strings.EqualFold(cv.Column, "EventID") {
			if id, perr := cv.Value.Int64Ptr(); perr == nil {
				e.EventID = id
			}
		}
	}
	if e.EventID == nil {
		return nil, nil
	}
	return &e, nil
}

func (e *Event) validate() error {
	if e.EventID == nil {
		return store.MissingField("Event", "EventID")
	}
	return nil
}

func (e *Event) hasNode() bool {
	return e.NodeID != nil && strings.TrimSpace(*e.NodeID) != ""
}
