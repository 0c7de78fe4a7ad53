package transaction

import (
	"strconv"
	"strings"

	"github.com/nerrad567/wellsite-core/internal/store"
	"github.com/nerrad567/wellsite-core/internal/update"
)

// Responsibility is the PayloadType this package handles.
const Responsibility = "tblTransactions"

// Transaction is one well-control transaction. Nil fields were absent from
// the update and are left unchanged in storage.
type Transaction struct {
	TransactionID *int64
	NodeID        *string
	Task          *string
	Input         *string
	Output        *string
	DateRequest   *string
	DateProcess   *string
	Source        *string
	CommStatus    *string
	PortID        *int64
}

// Key renders the transaction id for log entries.
func (t *Transaction) Key() string {
	if t == nil || t.TransactionID == nil {
		return ""
	}
	return strconv.FormatInt(*t.TransactionID, 10)
}

type assignFunc func(t *Transaction, v update.Value) error

func assignString(field func(t *Transaction) **string) assignFunc {
	return func(t *Transaction, v update.Value) error {
		*field(t) = v.StringPtr()
		return nil
	}
}

// columns maps lower-cased column names to their assignment.
var columns = map[string]assignFunc{
	"transactionid": func(t *Transaction, v update.Value) error {
		// An unparseable id is treated as absent so mapping fails cleanly.
		id, err := v.Int64Ptr()
		if err == nil {
			t.TransactionID = id
		}
		return nil
	},
	"nodeid":      assignString(func(t *Transaction) **string { return &t.NodeID }),
	"task":        assignString(func(t *Transaction) **string { return &t.Task }),
	"input":       assignString(func(t *Transaction) **string { return &t.Input }),
	"output":      assignString(func(t *Transaction) **string { return &t.Output }),
	"daterequest": assignString(func(t *Transaction) **string { return &t.DateRequest }),
	"dateprocess": assignString(func(t *Transaction) **string { return &t.DateProcess }),
	"source":      assignString(func(t *Transaction) **string { return &t.Source }),
	"commstatus":  assignString(func(t *Transaction) **string { return &t.CommStatus }),
	"portid": func(t *Transaction, v update.Value) error {
		port, err := v.Int64Ptr()
		if err != nil {
			return err
		}
		t.PortID = port
		return nil
	},
}

// Map converts an update payload into a Transaction. The id is read from
// Data, falling back to Key. It returns a nil Transaction when neither
// carries a usable TransactionID.
func Map(p update.Payload) (*Transaction, error) {
	var t Transaction
	for _, cv := range p.Data {
		assign, ok := columns[strings.ToLower(cv.Column)]
		if !ok {
			continue
		}
		if err := assign(&t, cv.Value); err != nil {
			return nil, err
		}
	}
	for _, cv := range p.Key {
		if t.TransactionID != nil {
			break
		}
		if strings.EqualFold(cv.Column, "TransactionID") {
			columns["transactionid"](&t, cv.Value) //nolint:errcheck // Never fails
		}
	}
	if t.TransactionID == nil {
		return nil, nil
	}
	return &t, nil
}

// validate re-checks the identifying field.
func (t *Transaction) validate() error {
	if t.TransactionID == nil {
		return store.MissingField("Transaction", "TransactionID")
	}
	return nil
}

// hasNode reports whether t carries a non-blank NodeID, which a new row needs.
func (t *Transaction) hasNode() bool {
	return t.NodeID != nil && strings.TrimSpace(*t.NodeID) != ""
}
