package chipipay

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// MockTransport generates deterministic local invoice fixtures instead
// of calling the provider. It is used both in tests and when running the
// gateway without provider credentials.
type MockTransport struct {
	// Now is the clock fixtures are stamped with. Nil means time.Now.
	Now func() time.Time

	mu       sync.Mutex
	seq      int
	invoices map[string]ProviderInvoice
}

var _ Transport = &MockTransport{}

// NewMockTransport returns an empty mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{invoices: make(map[string]ProviderInvoice)}
}

func (m *MockTransport) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *MockTransport) CreateInvoice(req ProviderInvoiceRequest) (ProviderInvoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	id := fmt.Sprintf("inv_%08d", m.seq)

	// the payment hash and encoded request are derived from the id, so
	// fixtures are reproducible across runs
	hash := sha256.Sum256([]byte(id))
	paymentHash := hex.EncodeToString(hash[:])

	invoice := ProviderInvoice{
		ID:             id,
		PaymentHash:    paymentHash,
		PaymentRequest: fmt.Sprintf("lnbc%d0n1%s", req.AmountSat, paymentHash[:40]),
		Status:         "pending",
		AmountSat:      req.AmountSat,
		Description:    req.Description,
		ExpirySec:      req.ExpirySec,
		CreatedAt:      m.now(),
	}
	m.invoices[id] = invoice
	return invoice, nil
}

func (m *MockTransport) GetInvoice(id string) (ProviderInvoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	invoice, ok := m.invoices[id]
	if !ok {
		return ProviderInvoice{}, errors.Errorf("no such invoice: %s", id)
	}
	return invoice, nil
}

func (m *MockTransport) CancelInvoice(id string) error {
	return m.setStatus(id, "cancelled", false)
}

// SettleInvoice marks a mock invoice as paid, simulating an inbound
// Lightning payment.
func (m *MockTransport) SettleInvoice(id string) error {
	return m.setStatus(id, "paid", true)
}

// ExpireInvoice marks a mock invoice as expired.
func (m *MockTransport) ExpireInvoice(id string) error {
	return m.setStatus(id, "expired", false)
}

// SetRawStatus overrides the stored provider status string, including
// values our mapping doesn't know about.
func (m *MockTransport) SetRawStatus(id, status string) error {
	return m.setRaw(id, status, false)
}

func (m *MockTransport) setStatus(id, status string, settle bool) error {
	return m.setRaw(id, status, settle)
}

func (m *MockTransport) setRaw(id, status string, settle bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	invoice, ok := m.invoices[id]
	if !ok {
		return errors.Errorf("no such invoice: %s", id)
	}
	invoice.Status = status
	if settle {
		paidAt := m.now()
		invoice.PaidAt = &paidAt
	}
	m.invoices[id] = invoice
	return nil
}
