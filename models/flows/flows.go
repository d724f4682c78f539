// Package flows holds the LightningPaymentFlow aggregate: the object the
// orchestrator hands back to callers, the flow status state machine, and
// the persisted invoice→bridge correlation records that make webhook
// handling idempotent.
package flows

import (
	"time"

	"github.com/volta-protocol/voltgate/atomiq"
	"github.com/volta-protocol/voltgate/chipipay"
)

// Status is the lifecycle state of a payment flow, a superset covering
// both the invoice and bridge legs.
type Status string

const (
	StatusAwaitingPayment  Status = "awaiting_payment"
	StatusPaymentReceived  Status = "payment_received"
	StatusProcessingBridge Status = "processing_bridge"
	StatusMintingVusd      Status = "minting_vusd"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
)

// IsTerminal reports whether there are no transitions out of this status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// validTransitions is the flow state machine. Anything not listed here
// is an invalid transition, in particular anything out of a terminal
// status.
var validTransitions = map[Status][]Status{
	StatusAwaitingPayment:  {StatusPaymentReceived, StatusProcessingBridge, StatusFailed, StatusCancelled},
	StatusPaymentReceived:  {StatusProcessingBridge, StatusFailed, StatusCancelled},
	StatusProcessingBridge: {StatusMintingVusd, StatusCompleted, StatusFailed},
	StatusMintingVusd:      {StatusCompleted, StatusFailed},
}

// CanTransition reports whether moving from one status to another is
// allowed by the state machine. Self-transitions are allowed, they are
// no-ops.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StepName identifies one entry in the fixed flow checklist.
type StepName string

const (
	StepBridgeCreated    StepName = "bridge_created"
	StepInvoiceCreated   StepName = "invoice_created"
	StepAwaitingPayment  StepName = "awaiting_payment"
	StepProcessingBridge StepName = "processing_bridge"
	StepMintingVusd      StepName = "minting_vusd"
)

// StepStatus is the state of a single checklist step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Step is one entry of the progress checklist shown to users.
type Step struct {
	Step        StepName   `json:"step"`
	Status      StepStatus `json:"status"`
	Description string     `json:"description"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// NewSteps returns the fixed 5-step checklist for a fresh flow. The
// bridge and invoice creation steps are already completed: both
// synchronous calls succeeded before a flow exists at all.
func NewSteps(now time.Time) []Step {
	return []Step{
		{Step: StepBridgeCreated, Status: StepCompleted, Description: "Bridge request created", CompletedAt: &now},
		{Step: StepInvoiceCreated, Status: StepCompleted, Description: "Lightning invoice created", CompletedAt: &now},
		{Step: StepAwaitingPayment, Status: StepPending, Description: "Waiting for Lightning payment"},
		{Step: StepProcessingBridge, Status: StepPending, Description: "Bridging to Starknet"},
		{Step: StepMintingVusd, Status: StepPending, Description: "Minting VUSD"},
	}
}

// LightningPaymentFlow is the aggregate handed back to callers: the
// invoice and bridge request created together, plus overall progress.
// Invariant: Invoice.VusdAmount always equals BridgeRequest.VusdAmount,
// both are set from the same input.
type LightningPaymentFlow struct {
	ID              string                    `json:"id"`
	BridgeRequestID string                    `json:"bridgeRequestId"`
	InvoiceID       string                    `json:"invoiceId"`
	Invoice         chipipay.LightningInvoice `json:"invoice"`
	BridgeRequest   atomiq.BridgeRequest      `json:"bridgeRequest"`
	Status          Status                    `json:"status"`
	Steps           []Step                    `json:"steps"`
	CreatedAt       time.Time                 `json:"createdAt"`
}
