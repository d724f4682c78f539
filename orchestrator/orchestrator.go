// Package orchestrator composes the invoice and bridge clients into a
// single payment flow: create bridge → create invoice → track flow state
// → react to webhook events → execute the bridge on payment
// confirmation. It holds no state of its own beyond the injected flow
// store.
package orchestrator

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/volta-protocol/voltgate/amounts"
	"github.com/volta-protocol/voltgate/atomiq"
	"github.com/volta-protocol/voltgate/build"
	"github.com/volta-protocol/voltgate/chipipay"
	"github.com/volta-protocol/voltgate/lnerr"
	"github.com/volta-protocol/voltgate/models/flows"
)

var log = build.AddSubLogger("ORCH")

// DefaultMinimumConfirmations is how many Starknet confirmations we wait
// for before treating a mint as final.
const DefaultMinimumConfirmations = 1

// Config holds the orchestrator settings.
type Config struct {
	// WebhookBaseURL is the externally reachable base URL of this
	// service, used as the webhook callback target for invoices.
	WebhookBaseURL string
	// MinimumConfirmations overrides DefaultMinimumConfirmations when
	// non-zero.
	MinimumConfirmations int
}

// Orchestrator coordinates the invoice and bridge legs of a payment.
// Construct with New; there are no package-level instances, callers
// inject the clients and store they want.
type Orchestrator struct {
	invoices *chipipay.Client
	bridges  *atomiq.Client
	store    flows.Store

	webhookBaseURL   string
	minConfirmations int
}

// New returns an orchestrator using the given clients and store.
func New(invoices *chipipay.Client, bridges *atomiq.Client,
	store flows.Store, conf Config) *Orchestrator {

	minConf := conf.MinimumConfirmations
	if minConf == 0 {
		minConf = DefaultMinimumConfirmations
	}
	return &Orchestrator{
		invoices:         invoices,
		bridges:          bridges,
		store:            store,
		webhookBaseURL:   conf.WebhookBaseURL,
		minConfirmations: minConf,
	}
}

// CreatePaymentFlowArgs is the input to CreatePaymentFlow.
type CreatePaymentFlowArgs struct {
	VusdAmount          float64
	UserStarknetAddress string
	BtcPriceUsd         float64
	Description         string
}

// CreatePaymentFlow creates the bridge request and the invoice for a new
// payment, in that order: the invoice webhook URL references the bridge
// id. The returned flow starts in awaiting_payment with the two creation
// steps already completed.
func (o *Orchestrator) CreatePaymentFlow(args CreatePaymentFlowArgs) (flows.LightningPaymentFlow, error) {
	// validate everything before touching a provider
	if err := amounts.ValidateVusdAmount(args.VusdAmount); err != nil {
		return flows.LightningPaymentFlow{}, err
	}
	if err := atomiq.ValidateStarknetAddress(args.UserStarknetAddress); err != nil {
		return flows.LightningPaymentFlow{}, err
	}
	if args.BtcPriceUsd <= 0 {
		return flows.LightningPaymentFlow{}, lnerr.InvalidAmount(
			"BTC price must be positive, got %f", args.BtcPriceUsd)
	}

	bridge, err := o.bridges.CreateBridgeRequest(atomiq.CreateBridgeRequestArgs{
		VusdAmount:      args.VusdAmount,
		StarknetAddress: args.UserStarknetAddress,
		BtcPriceUsd:     args.BtcPriceUsd,
	})
	if err != nil {
		return flows.LightningPaymentFlow{}, err
	}

	description := args.Description
	if description == "" {
		description = fmt.Sprintf("Mint %.2f VUSD via Lightning", args.VusdAmount)
	}

	invoice, err := o.invoices.CreateInvoice(chipipay.CreateInvoiceArgs{
		VusdAmount:  args.VusdAmount,
		BtcPriceUsd: args.BtcPriceUsd,
		Description: description,
		WebhookURL:  o.webhookURL(bridge.ID),
	})
	if err != nil {
		// the bridge leg exists but the invoice leg failed, don't leave
		// the bridge dangling
		if cancelErr := o.bridges.CancelBridgeRequest(bridge.ID); cancelErr != nil {
			log.WithError(cancelErr).WithField("bridgeId", bridge.ID).
				Error("Could not cancel bridge after invoice creation failure")
		}
		return flows.LightningPaymentFlow{}, err
	}

	now := time.Now()
	flow := flows.LightningPaymentFlow{
		ID:              newFlowID(),
		BridgeRequestID: bridge.ID,
		InvoiceID:       invoice.ID,
		Invoice:         invoice,
		BridgeRequest:   bridge,
		Status:          flows.StatusAwaitingPayment,
		Steps:           flows.NewSteps(now),
		CreatedAt:       now,
	}

	if err := o.store.SaveFlow(flows.Record{
		InvoiceID: invoice.ID,
		FlowID:    flow.ID,
		BridgeID:  bridge.ID,
		Status:    flows.StatusAwaitingPayment,
	}); err != nil {
		return flows.LightningPaymentFlow{}, errors.Wrap(err, "could not persist flow")
	}

	log.WithField("flowId", flow.ID).
		WithField("invoiceId", invoice.ID).
		WithField("bridgeId", bridge.ID).
		Info("Created payment flow")
	return flow, nil
}

func (o *Orchestrator) webhookURL(bridgeID string) string {
	if o.webhookBaseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/api/lightning/webhook/%s", o.webhookBaseURL, bridgeID)
}

// ProcessPaymentCompletion reacts to a settled invoice: it verifies the
// payment with the processor, and executes the associated bridge. This
// is the sole trigger for on-chain minting. Webhook deliveries repeat,
// so the method is idempotent: the bridge executes only for the caller
// that flips the processed flag, every later call just reports the
// current bridge status.
func (o *Orchestrator) ProcessPaymentCompletion(invoiceID string) (atomiq.BridgeStatus, error) {
	record, err := o.store.GetByInvoiceID(invoiceID)
	if err != nil {
		return atomiq.BridgeStatus{}, lnerr.Error{
			Code: lnerr.CodeFlowNotFound,
			Err:  errors.Wrapf(err, "no flow for invoice %s", invoiceID),
		}
	}

	if _, err := o.invoices.VerifyPayment(invoiceID); err != nil {
		return atomiq.BridgeStatus{}, err
	}

	flipped, err := o.store.MarkProcessed(invoiceID)
	if err != nil {
		return atomiq.BridgeStatus{}, errors.Wrap(err, "could not mark invoice processed")
	}
	if !flipped {
		log.WithField("invoiceId", invoiceID).
			Info("Payment already processed, skipping bridge execution")
		return o.bridges.GetBridgeStatus(record.BridgeID)
	}

	o.advance(invoiceID, flows.StatusPaymentReceived)
	o.advance(invoiceID, flows.StatusProcessingBridge)

	status, err := o.bridges.ExecuteBridge(record.BridgeID)
	if err != nil {
		// the payment is settled but the mint didn't happen: release the
		// processed flag so the provider's webhook retry can re-attempt
		// execution instead of leaving a paid invoice stuck
		if resetErr := o.store.ResetProcessed(invoiceID); resetErr != nil {
			log.WithError(resetErr).WithField("invoiceId", invoiceID).
				Error("Could not release processed flag after bridge failure")
			o.advance(invoiceID, flows.StatusFailed)
		}
		return atomiq.BridgeStatus{}, err
	}

	o.advance(invoiceID, flowStatusFor(status.Status))
	return status, nil
}

// flowStatusFor maps a bridge snapshot onto the flow state machine.
func flowStatusFor(status atomiq.BridgeStatusValue) flows.Status {
	switch status {
	case atomiq.BridgeStatusCompleted:
		return flows.StatusCompleted
	case atomiq.BridgeStatusFailed:
		return flows.StatusFailed
	case atomiq.BridgeStatusBridging:
		return flows.StatusMintingVusd
	default:
		return flows.StatusProcessingBridge
	}
}

// advance moves the flow status, logging instead of failing on invalid
// transitions: the store is the authority, a stale caller shouldn't take
// the whole request down.
func (o *Orchestrator) advance(invoiceID string, status flows.Status) {
	if err := o.store.UpdateStatus(invoiceID, status); err != nil {
		log.WithError(err).WithField("invoiceId", invoiceID).
			WithField("status", status).
			Warn("Could not advance flow status")
	}
}

// TimeoutReason says why a payment flow is being torn down. Expiry is a
// failure of the flow, an explicit cancel is not.
type TimeoutReason string

const (
	TimeoutReasonExpired   TimeoutReason = "expired"
	TimeoutReasonCancelled TimeoutReason = "cancelled"
)

func (r TimeoutReason) flowStatus() flows.Status {
	if r == TimeoutReasonCancelled {
		return flows.StatusCancelled
	}
	return flows.StatusFailed
}

// HandlePaymentTimeout reacts to an expired or cancelled invoice: the
// invoice is cancelled with the processor, then the associated bridge
// request is cancelled. The reason decides which terminal status the
// flow ends in, failed for expiry and cancelled for an explicit cancel.
func (o *Orchestrator) HandlePaymentTimeout(invoiceID string, reason TimeoutReason) error {
	var firstErr error
	if err := o.invoices.CancelInvoice(invoiceID); err != nil {
		firstErr = err
		log.WithError(err).WithField("invoiceId", invoiceID).
			Warn("Could not cancel invoice on timeout")
	}

	record, err := o.store.GetByInvoiceID(invoiceID)
	if err != nil {
		if firstErr != nil {
			return firstErr
		}
		return lnerr.Error{
			Code: lnerr.CodeFlowNotFound,
			Err:  errors.Wrapf(err, "no flow for invoice %s", invoiceID),
		}
	}

	if err := o.bridges.CancelBridgeRequest(record.BridgeID); err != nil {
		if firstErr == nil {
			firstErr = err
		}
		log.WithError(err).WithField("bridgeId", record.BridgeID).
			Warn("Could not cancel bridge on timeout")
	}

	o.advance(invoiceID, reason.flowStatus())
	return firstErr
}

// PaymentFlowStatus is the recovered state of a flow, served from the
// store plus a fresh invoice fetch. This works across restarts: the
// correlation lives in the store, not in memory.
type PaymentFlowStatus struct {
	FlowID    string                    `json:"flowId"`
	BridgeID  string                    `json:"bridgeId"`
	Status    flows.Status              `json:"status"`
	Processed bool                      `json:"processed"`
	Invoice   chipipay.LightningInvoice `json:"invoice"`
}

// GetPaymentFlowStatus returns the current state of the flow owning the
// given invoice.
func (o *Orchestrator) GetPaymentFlowStatus(invoiceID string) (PaymentFlowStatus, error) {
	record, err := o.store.GetByInvoiceID(invoiceID)
	if err != nil {
		return PaymentFlowStatus{}, lnerr.Error{
			Code: lnerr.CodeFlowNotFound,
			Err:  errors.Wrapf(err, "no flow for invoice %s", invoiceID),
		}
	}
	invoice, err := o.invoices.GetInvoice(invoiceID)
	if err != nil {
		return PaymentFlowStatus{}, err
	}
	return PaymentFlowStatus{
		FlowID:    record.FlowID,
		BridgeID:  record.BridgeID,
		Status:    record.Status,
		Processed: record.Processed,
		Invoice:   invoice,
	}, nil
}

// GetInvoice fetches the current state of an invoice.
func (o *Orchestrator) GetInvoice(invoiceID string) (chipipay.LightningInvoice, error) {
	return o.invoices.GetInvoice(invoiceID)
}

// VerifyWebhookSignature checks a webhook payload signature against the
// processor's shared secret.
func (o *Orchestrator) VerifyWebhookSignature(payload []byte, signature string) bool {
	return o.invoices.VerifyWebhookSignature(payload, signature)
}

// PaymentSummary is the upfront quote for a payment: amounts in every
// unit, the fee breakdown, and expectations about timing.
type PaymentSummary struct {
	VusdAmount           float64              `json:"vusdAmount"`
	BtcAmount            float64              `json:"btcAmount"`
	SatsAmount           int64                `json:"satsAmount"`
	Fees                 amounts.FeeBreakdown `json:"fees"`
	EstimatedTimeSec     int64                `json:"estimatedTime"`
	MinimumConfirmations int                  `json:"minimumConfirmations"`
}

// SummaryArgs is the input to GetPaymentSummary.
type SummaryArgs struct {
	VusdAmount  float64
	BtcPriceUsd float64
}

// GetPaymentSummary computes the quote for a payment. Pure composition
// of the amount and fee utilities, no network calls.
func (o *Orchestrator) GetPaymentSummary(args SummaryArgs) (PaymentSummary, error) {
	if err := amounts.ValidateVusdAmount(args.VusdAmount); err != nil {
		return PaymentSummary{}, err
	}
	if args.BtcPriceUsd <= 0 {
		return PaymentSummary{}, lnerr.InvalidAmount(
			"BTC price must be positive, got %f", args.BtcPriceUsd)
	}

	sats := amounts.CalculateSatsAmount(args.VusdAmount, args.BtcPriceUsd)
	return PaymentSummary{
		VusdAmount:           args.VusdAmount,
		BtcAmount:            amounts.CalculateBtcAmount(args.VusdAmount, args.BtcPriceUsd),
		SatsAmount:           sats,
		Fees:                 amounts.CalculateLightningFees(sats),
		EstimatedTimeSec:     int64(atomiq.EstimateBridgeTime(sats) / time.Second),
		MinimumConfirmations: o.minConfirmations,
	}, nil
}

// ValidationResult aggregates all field validations for upfront checking
// before committing to a flow.
type ValidationResult struct {
	IsValid bool     `json:"isValid"`
	Errors  []string `json:"errors"`
}

// ValidatePaymentRequirements runs every field validation and collects
// the failures, so UIs can display all problems at once.
func (o *Orchestrator) ValidatePaymentRequirements(args CreatePaymentFlowArgs) ValidationResult {
	// initialize to an empty list so JSON renders [] instead of null
	errs := []string{}
	if err := amounts.ValidateVusdAmount(args.VusdAmount); err != nil {
		errs = append(errs, err.Error())
	}
	if err := atomiq.ValidateStarknetAddress(args.UserStarknetAddress); err != nil {
		errs = append(errs, err.Error())
	}
	if args.BtcPriceUsd <= 0 {
		errs = append(errs, lnerr.InvalidAmount(
			"BTC price must be positive, got %f", args.BtcPriceUsd).Error())
	}
	return ValidationResult{IsValid: len(errs) == 0, Errors: errs}
}

func newFlowID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing means the whole host is broken
		panic(err)
	}
	return "flow_" + hex.EncodeToString(buf[:])
}
