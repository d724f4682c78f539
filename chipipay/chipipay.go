// Package chipipay is the client for the Chipi Pay Lightning payment
// processor. It translates domain requests into provider calls through a
// pluggable Transport, and normalizes provider responses into
// LightningInvoice values.
package chipipay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"sync"
	"time"

	"github.com/pkg/errors"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/volta-protocol/voltgate/amounts"
	"github.com/volta-protocol/voltgate/async"
	"github.com/volta-protocol/voltgate/build"
	"github.com/volta-protocol/voltgate/lnerr"
)

var log = build.AddSubLogger("CHIP")

// InvoiceStatus is the lifecycle state of a Lightning invoice.
type InvoiceStatus string

const (
	InvoiceStatusPending   InvoiceStatus = "pending"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusExpired   InvoiceStatus = "expired"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// IsTerminal reports whether there are no transitions out of this status.
func (s InvoiceStatus) IsTerminal() bool {
	switch s {
	case InvoiceStatusPaid, InvoiceStatusExpired, InvoiceStatusCancelled:
		return true
	}
	return false
}

// LightningInvoice is a Lightning payment request as we hand it to
// callers, amounts denominated in all the units the UI needs.
type LightningInvoice struct {
	ID          string        `json:"id"`
	PaymentHash string        `json:"paymentHash"`
	AmountSat   int64         `json:"amount"`
	AmountBtc   float64       `json:"amountBtc"`
	AmountUsd   float64       `json:"amountUsd"`
	VusdAmount  float64       `json:"vusdAmount"`
	Bolt11      string        `json:"bolt11"`
	Description string        `json:"description"`
	Status      InvoiceStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
	ExpiresAt   time.Time     `json:"expiresAt"`
	PaidAt      *time.Time    `json:"paidAt,omitempty"`
	QrCode      string        `json:"qrCode"`
	DeepLink    string        `json:"deepLink"`
}

// LightningPayment is the record returned when a payment has been
// verified as settled.
type LightningPayment struct {
	InvoiceID   string               `json:"invoiceId"`
	PaymentHash string               `json:"paymentHash"`
	AmountSat   int64                `json:"amountSat"`
	VusdAmount  float64              `json:"vusdAmount"`
	Fees        amounts.FeeBreakdown `json:"fees"`
	PaidAt      time.Time            `json:"paidAt"`
}

// DefaultInvoiceTTL is how long invoices are valid for unless the caller
// asks otherwise.
const DefaultInvoiceTTL = time.Hour

const qrCodeSize = 256

// Config holds the client settings that aren't the transport itself.
type Config struct {
	// WebhookSecret is the shared secret webhook signatures are computed
	// with. Leaving it empty disables verification, see
	// VerifyWebhookSignature.
	WebhookSecret string
	// InvoiceTTL is the default invoice expiry. Zero means
	// DefaultInvoiceTTL.
	InvoiceTTL time.Duration
	// PollInterval is the interval used by MonitorInvoice. Zero means 2s.
	PollInterval time.Duration
}

// Client talks to Chipi Pay through its Transport. Construct with
// NewClient, choosing an HTTPTransport for real traffic or a
// MockTransport for tests and development.
type Client struct {
	transport     Transport
	webhookSecret string
	invoiceTTL    time.Duration
	pollInterval  time.Duration

	mu sync.Mutex
	// terminal remembers invoices we have seen reach a terminal status,
	// so a status can never regress within a session even if the
	// provider answers inconsistently.
	terminal map[string]InvoiceStatus
	// vusdAmounts remembers the VUSD denomination of invoices created
	// through this client. The provider only stores sats, so a re-fetch
	// would otherwise lose the stablecoin amount.
	vusdAmounts map[string]float64
}

// NewClient returns a client using the given transport.
func NewClient(transport Transport, conf Config) *Client {
	ttl := conf.InvoiceTTL
	if ttl == 0 {
		ttl = DefaultInvoiceTTL
	}
	interval := conf.PollInterval
	if interval == 0 {
		interval = 2 * time.Second
	}
	return &Client{
		transport:     transport,
		webhookSecret: conf.WebhookSecret,
		invoiceTTL:    ttl,
		pollInterval:  interval,
		terminal:      make(map[string]InvoiceStatus),
		vusdAmounts:   make(map[string]float64),
	}
}

// CreateInvoiceArgs is the input to CreateInvoice.
type CreateInvoiceArgs struct {
	VusdAmount  float64
	BtcPriceUsd float64
	Description string
	WebhookURL  string
	// ExpiresIn overrides the configured invoice TTL when non-zero.
	ExpiresIn time.Duration
}

// CreateInvoice validates the amount, computes the satoshi value at the
// given BTC price and creates an invoice with the provider. The returned
// invoice is pending and carries a QR code and deep link for the
// encoded payment request.
func (c *Client) CreateInvoice(args CreateInvoiceArgs) (LightningInvoice, error) {
	if err := amounts.ValidateVusdAmount(args.VusdAmount); err != nil {
		return LightningInvoice{}, err
	}
	if args.BtcPriceUsd <= 0 {
		return LightningInvoice{}, lnerr.InvalidAmount("BTC price must be positive, got %f", args.BtcPriceUsd)
	}

	ttl := args.ExpiresIn
	if ttl == 0 {
		ttl = c.invoiceTTL
	}

	amountSat := amounts.CalculateSatsAmount(args.VusdAmount, args.BtcPriceUsd)
	created, err := c.transport.CreateInvoice(ProviderInvoiceRequest{
		AmountSat:   amountSat,
		Description: args.Description,
		WebhookURL:  args.WebhookURL,
		ExpirySec:   int64(ttl / time.Second),
	})
	if err != nil {
		return LightningInvoice{}, lnerr.InvoiceError{
			Code: lnerr.CodeProviderError,
			Err:  errors.Wrap(err, "could not create invoice"),
		}
	}

	qr, err := encodeQr(created.PaymentRequest)
	if err != nil {
		// the invoice itself is fine, don't fail the whole creation
		log.WithError(err).WithField("invoiceId", created.ID).
			Warn("Could not encode invoice QR code")
	}

	invoice := LightningInvoice{
		ID:          created.ID,
		PaymentHash: created.PaymentHash,
		AmountSat:   amountSat,
		AmountBtc:   amounts.CalculateBtcAmount(args.VusdAmount, args.BtcPriceUsd),
		AmountUsd:   args.VusdAmount,
		VusdAmount:  args.VusdAmount,
		Bolt11:      created.PaymentRequest,
		Description: args.Description,
		Status:      InvoiceStatusPending,
		CreatedAt:   created.CreatedAt,
		ExpiresAt:   created.CreatedAt.Add(ttl),
		QrCode:      qr,
		DeepLink:    "lightning:" + created.PaymentRequest,
	}

	c.mu.Lock()
	c.vusdAmounts[created.ID] = args.VusdAmount
	c.mu.Unlock()

	log.WithField("invoiceId", invoice.ID).
		WithField("amountSat", invoice.AmountSat).
		Info("Created Lightning invoice")
	return invoice, nil
}

// GetInvoice fetches the current provider state of an invoice and maps
// it into our domain type.
func (c *Client) GetInvoice(invoiceID string) (LightningInvoice, error) {
	fetched, err := c.transport.GetInvoice(invoiceID)
	if err != nil {
		return LightningInvoice{}, lnerr.InvoiceError{
			Code:      lnerr.CodeInvoiceNotFound,
			InvoiceID: invoiceID,
			Err:       errors.Wrap(err, "could not fetch invoice"),
		}
	}

	qr, err := encodeQr(fetched.PaymentRequest)
	if err != nil {
		log.WithError(err).WithField("invoiceId", invoiceID).
			Warn("Could not encode invoice QR code")
	}

	status := c.rememberStatus(invoiceID, mapProviderStatus(fetched.Status))
	invoice := LightningInvoice{
		ID:          fetched.ID,
		PaymentHash: fetched.PaymentHash,
		AmountSat:   fetched.AmountSat,
		AmountBtc:   float64(fetched.AmountSat) / amounts.SatsPerBtc,
		Bolt11:      fetched.PaymentRequest,
		Description: fetched.Description,
		Status:      status,
		CreatedAt:   fetched.CreatedAt,
		ExpiresAt:   fetched.CreatedAt.Add(time.Duration(fetched.ExpirySec) * time.Second),
		PaidAt:      fetched.PaidAt,
		QrCode:      qr,
		DeepLink:    "lightning:" + fetched.PaymentRequest,
	}

	// the provider only knows sats, the VUSD denomination comes from us
	c.mu.Lock()
	vusd, ok := c.vusdAmounts[invoiceID]
	c.mu.Unlock()
	if ok {
		invoice.VusdAmount = vusd
		invoice.AmountUsd = vusd
	}
	return invoice, nil
}

// GetInvoiceStatus fetches the current status of an invoice.
func (c *Client) GetInvoiceStatus(invoiceID string) (InvoiceStatus, error) {
	fetched, err := c.transport.GetInvoice(invoiceID)
	if err != nil {
		return "", lnerr.InvoiceError{
			Code:      lnerr.CodeInvoiceNotFound,
			InvoiceID: invoiceID,
			Err:       errors.Wrap(err, "could not fetch invoice status"),
		}
	}
	return c.rememberStatus(invoiceID, mapProviderStatus(fetched.Status)), nil
}

// rememberStatus applies the terminal-status cache: once an invoice has
// been observed in a terminal status, that status sticks.
func (c *Client) rememberStatus(invoiceID string, status InvoiceStatus) InvoiceStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.terminal[invoiceID]; ok {
		if status.IsTerminal() && status != cached {
			log.WithField("invoiceId", invoiceID).
				WithField("cached", cached).
				WithField("fetched", status).
				Warn("Provider reported a different terminal status, keeping the first")
		}
		return cached
	}
	if status.IsTerminal() {
		c.terminal[invoiceID] = status
	}
	return status
}

// VerifyPayment re-fetches the invoice and returns a settled payment
// record, failing with PAYMENT_FAILED unless the invoice is paid.
func (c *Client) VerifyPayment(invoiceID string) (LightningPayment, error) {
	invoice, err := c.GetInvoice(invoiceID)
	if err != nil {
		return LightningPayment{}, err
	}
	if invoice.Status != InvoiceStatusPaid {
		return LightningPayment{}, lnerr.InvoiceError{
			Code:      lnerr.CodePaymentFailed,
			InvoiceID: invoiceID,
			Err:       errors.Errorf("invoice status is %q, not paid", invoice.Status),
		}
	}

	paidAt := time.Now()
	if invoice.PaidAt != nil {
		paidAt = *invoice.PaidAt
	}
	return LightningPayment{
		InvoiceID:   invoice.ID,
		PaymentHash: invoice.PaymentHash,
		AmountSat:   invoice.AmountSat,
		VusdAmount:  invoice.VusdAmount,
		Fees:        amounts.CalculateLightningFees(invoice.AmountSat),
		PaidAt:      paidAt,
	}, nil
}

// CancelInvoice asks the provider to cancel the invoice. Best effort,
// provider errors propagate wrapped.
func (c *Client) CancelInvoice(invoiceID string) error {
	if err := c.transport.CancelInvoice(invoiceID); err != nil {
		return lnerr.InvoiceError{
			Code:      lnerr.CodeProviderError,
			InvoiceID: invoiceID,
			Err:       errors.Wrap(err, "could not cancel invoice"),
		}
	}
	c.rememberStatus(invoiceID, InvoiceStatusCancelled)
	return nil
}

// VerifyWebhookSignature checks the HMAC-SHA256 signature of a raw
// webhook payload against the configured shared secret.
//
// If no secret is configured, verification is skipped and every payload
// accepted. This is deliberate so development setups work without
// provider credentials, but it means production deployments MUST set the
// secret.
func (c *Client) VerifyWebhookSignature(payload []byte, signature string) bool {
	if c.webhookSecret == "" {
		log.Warn("No webhook secret configured, accepting webhook without verification")
		return true
	}

	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// MonitorInvoice polls the invoice status until it becomes terminal,
// invoking onChange for every status change and onTerminal exactly once.
// The returned stop function cancels the next scheduled poll.
func (c *Client) MonitorInvoice(invoiceID string,
	onChange func(InvoiceStatus), onTerminal func(InvoiceStatus),
	onError func(error)) (stop func()) {

	// bound the loop to the invoice lifetime, there is nothing left to
	// observe after expiry
	maxAttempts := int(c.invoiceTTL/c.pollInterval) + 1

	poller := async.Poller{
		InitialDelay: c.pollInterval,
		Interval:     c.pollInterval,
		MaxAttempts:  maxAttempts,
		Fetch: func() (string, error) {
			status, err := c.GetInvoiceStatus(invoiceID)
			return string(status), err
		},
		IsTerminal: func(status string) bool {
			return InvoiceStatus(status).IsTerminal()
		},
		OnChange: func(status string) {
			if onChange != nil {
				onChange(InvoiceStatus(status))
			}
		},
		OnTerminal: func(status string) {
			if onTerminal != nil {
				onTerminal(InvoiceStatus(status))
			}
		},
		OnError: func(err error) {
			if onError != nil {
				onError(lnerr.InvoiceError{
					Code:      lnerr.CodeProviderError,
					InvoiceID: invoiceID,
					Err:       err,
				})
			}
		},
	}
	return poller.Start()
}

// mapProviderStatus maps Chipi Pay status strings onto our invoice
// status enum. Unknown strings default to pending.
func mapProviderStatus(status string) InvoiceStatus {
	switch status {
	case "pending", "unpaid", "processing":
		return InvoiceStatusPending
	case "paid", "settled", "completed":
		return InvoiceStatusPaid
	case "expired":
		return InvoiceStatusExpired
	case "cancelled", "canceled":
		return InvoiceStatusCancelled
	default:
		log.WithField("status", status).Debug("Unknown provider invoice status")
		return InvoiceStatusPending
	}
}

func encodeQr(bolt11 string) (string, error) {
	if bolt11 == "" {
		return "", errors.New("empty payment request")
	}
	png, err := qrcode.Encode(bolt11, qrcode.Medium, qrCodeSize)
	if err != nil {
		return "", errors.Wrap(err, "could not encode QR code")
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
