package flows

import (
	"time"

	"github.com/pkg/errors"
)

// ErrFlowNotFound is returned by stores when no record exists for the
// given key.
var ErrFlowNotFound = errors.New("payment flow not found")

// Record is the persisted correlation between an invoice and its flow
// and bridge. It is keyed by invoice id because that is what webhooks
// carry. The processed flag is what makes webhook handling idempotent:
// the bridge executes only for the call that flips it.
type Record struct {
	InvoiceID string    `db:"invoice_id"`
	FlowID    string    `db:"flow_id"`
	BridgeID  string    `db:"bridge_id"`
	Status    Status    `db:"status"`
	Processed bool      `db:"processed"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Store persists flow correlation records. Implementations must make
// MarkProcessed atomic: concurrent calls for the same invoice may see
// true at most once.
type Store interface {
	// SaveFlow inserts the record for a freshly created flow.
	SaveFlow(record Record) error
	// GetByInvoiceID returns the record for the given invoice, or
	// ErrFlowNotFound.
	GetByInvoiceID(invoiceID string) (Record, error)
	// GetByBridgeID returns the record for the given bridge, or
	// ErrFlowNotFound.
	GetByBridgeID(bridgeID string) (Record, error)
	// MarkProcessed flips the processed flag. It returns true if this
	// call flipped it, false if it was already set.
	MarkProcessed(invoiceID string) (bool, error)
	// ResetProcessed clears the processed flag, making the invoice
	// eligible for MarkProcessed again. Used when the work guarded by
	// the flag failed and should be retried.
	ResetProcessed(invoiceID string) error
	// UpdateStatus moves the flow to the given status. Transitions not
	// allowed by the state machine are rejected.
	UpdateStatus(invoiceID string, status Status) error
}
