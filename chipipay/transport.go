package chipipay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// ProviderInvoiceRequest is the wire format for creating an invoice with
// Chipi Pay.
type ProviderInvoiceRequest struct {
	AmountSat   int64  `json:"amount"`
	Description string `json:"description,omitempty"`
	WebhookURL  string `json:"webhook_url,omitempty"`
	ExpirySec   int64  `json:"expiry,omitempty"`
}

// ProviderInvoice is the wire format Chipi Pay answers with.
type ProviderInvoice struct {
	ID             string     `json:"id"`
	PaymentHash    string     `json:"payment_hash"`
	PaymentRequest string     `json:"payment_request"`
	Status         string     `json:"status"`
	AmountSat      int64      `json:"amount"`
	Description    string     `json:"description"`
	ExpirySec      int64      `json:"expiry"`
	CreatedAt      time.Time  `json:"created_at"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
}

// Transport is the provider boundary of the client. The HTTP transport
// talks to the real API, the mock transport generates local fixtures.
// Which one a Client uses is decided once, at construction time.
type Transport interface {
	CreateInvoice(req ProviderInvoiceRequest) (ProviderInvoice, error)
	GetInvoice(id string) (ProviderInvoice, error)
	CancelInvoice(id string) error
}

const invoicesEndpoint = "/v1/invoices"

// HTTPTransport performs real calls against the Chipi Pay API.
type HTTPTransport struct {
	BaseURL string
	APIKey  string
	// HTTP is the client requests go through. Nil means a client with a
	// 30 second timeout.
	HTTP *http.Client
}

var _ Transport = &HTTPTransport{}

func (t *HTTPTransport) client() *http.Client {
	if t.HTTP != nil {
		return t.HTTP
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (t *HTTPTransport) CreateInvoice(req ProviderInvoiceRequest) (ProviderInvoice, error) {
	var invoice ProviderInvoice
	err := t.do(http.MethodPost, invoicesEndpoint, req, &invoice)
	return invoice, err
}

func (t *HTTPTransport) GetInvoice(id string) (ProviderInvoice, error) {
	var invoice ProviderInvoice
	err := t.do(http.MethodGet, invoicesEndpoint+"/"+id, nil, &invoice)
	return invoice, err
}

func (t *HTTPTransport) CancelInvoice(id string) error {
	return t.do(http.MethodPost, invoicesEndpoint+"/"+id+"/cancel", nil, nil)
}

func (t *HTTPTransport) do(method, path string, body interface{}, dest interface{}) error {
	var reqBody *bytes.Buffer
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "could not marshal request")
		}
		reqBody = bytes.NewBuffer(payload)
	} else {
		reqBody = &bytes.Buffer{}
	}

	req, err := http.NewRequest(method, t.BaseURL+path, reqBody)
	if err != nil {
		return errors.Wrap(err, "could not construct request")
	}
	req.Header.Set("Authorization", "Bearer "+t.APIKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := t.client().Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s failed", method, path)
	}
	defer func() { _ = res.Body.Close() }()

	resBody, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return errors.Wrap(err, "could not read response body")
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("provider returned %d: %s", res.StatusCode, resBody)
	}

	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(resBody, dest); err != nil {
		return errors.Wrapf(err, "could not decode response: %s", resBody)
	}
	return nil
}
