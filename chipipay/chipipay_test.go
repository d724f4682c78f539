package chipipay_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volta-protocol/voltgate/chipipay"
	"github.com/volta-protocol/voltgate/lnerr"
)

func newMockClient(conf chipipay.Config) (*chipipay.Client, *chipipay.MockTransport) {
	transport := chipipay.NewMockTransport()
	return chipipay.NewClient(transport, conf), transport
}

func TestCreateInvoice(t *testing.T) {
	t.Parallel()
	client, _ := newMockClient(chipipay.Config{})

	invoice, err := client.CreateInvoice(chipipay.CreateInvoiceArgs{
		VusdAmount:  100,
		BtcPriceUsd: 50000,
		Description: "Mint 100 VUSD",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(200000), invoice.AmountSat)
	assert.Equal(t, 0.002, invoice.AmountBtc)
	assert.Equal(t, float64(100), invoice.VusdAmount)
	assert.Equal(t, chipipay.InvoiceStatusPending, invoice.Status)
	assert.NotEmpty(t, invoice.Bolt11)
	assert.Equal(t, "lightning:"+invoice.Bolt11, invoice.DeepLink)
	assert.True(t, strings.HasPrefix(invoice.QrCode, "data:image/png;base64,"))
	assert.True(t, invoice.ExpiresAt.After(invoice.CreatedAt))
}

func TestGetInvoiceKeepsCreationFields(t *testing.T) {
	t.Parallel()
	client, transport := newMockClient(chipipay.Config{})

	created, err := client.CreateInvoice(chipipay.CreateInvoiceArgs{
		VusdAmount:  100,
		BtcPriceUsd: 50000,
	})
	require.NoError(t, err)

	// a status poll must hand back the same invoice, not a stripped one
	fetched, err := client.GetInvoice(created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.VusdAmount, fetched.VusdAmount)
	assert.Equal(t, created.AmountUsd, fetched.AmountUsd)
	assert.Equal(t, created.AmountSat, fetched.AmountSat)
	assert.Equal(t, created.QrCode, fetched.QrCode)
	assert.Equal(t, created.DeepLink, fetched.DeepLink)

	require.NoError(t, transport.SettleInvoice(created.ID))
	payment, err := client.VerifyPayment(created.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(100), payment.VusdAmount)
}

func TestCreateInvoiceRejectsBadAmounts(t *testing.T) {
	t.Parallel()
	client, _ := newMockClient(chipipay.Config{})

	_, err := client.CreateInvoice(chipipay.CreateInvoiceArgs{VusdAmount: 0, BtcPriceUsd: 50000})
	assert.Equal(t, lnerr.CodeInvalidAmount, lnerr.Code(err))

	_, err = client.CreateInvoice(chipipay.CreateInvoiceArgs{VusdAmount: 20000, BtcPriceUsd: 50000})
	assert.Equal(t, lnerr.CodeInvalidAmount, lnerr.Code(err))

	_, err = client.CreateInvoice(chipipay.CreateInvoiceArgs{VusdAmount: 100, BtcPriceUsd: 0})
	assert.Equal(t, lnerr.CodeInvalidAmount, lnerr.Code(err))
}

func TestVerifyPayment(t *testing.T) {
	t.Parallel()
	client, transport := newMockClient(chipipay.Config{})

	invoice, err := client.CreateInvoice(chipipay.CreateInvoiceArgs{
		VusdAmount:  50,
		BtcPriceUsd: 50000,
	})
	require.NoError(t, err)

	// not paid yet
	_, err = client.VerifyPayment(invoice.ID)
	assert.Equal(t, lnerr.CodePaymentFailed, lnerr.Code(err))

	require.NoError(t, transport.SettleInvoice(invoice.ID))

	payment, err := client.VerifyPayment(invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.ID, payment.InvoiceID)
	assert.Equal(t, invoice.AmountSat, payment.AmountSat)
	assert.Equal(t, payment.Fees.LightningFeeSat+payment.Fees.BridgeFeeSat+payment.Fees.ProcessorFeeSat,
		payment.Fees.TotalFeeSat)
	assert.False(t, payment.PaidAt.IsZero())
}

func TestInvoiceStatusNeverRegresses(t *testing.T) {
	t.Parallel()
	client, transport := newMockClient(chipipay.Config{})

	invoice, err := client.CreateInvoice(chipipay.CreateInvoiceArgs{
		VusdAmount:  10,
		BtcPriceUsd: 50000,
	})
	require.NoError(t, err)

	require.NoError(t, transport.SettleInvoice(invoice.ID))
	status, err := client.GetInvoiceStatus(invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, chipipay.InvoiceStatusPaid, status)

	// the provider flip-flops, our answer must not
	require.NoError(t, transport.SetRawStatus(invoice.ID, "expired"))
	status, err = client.GetInvoiceStatus(invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, chipipay.InvoiceStatusPaid, status)

	require.NoError(t, transport.SetRawStatus(invoice.ID, "pending"))
	status, err = client.GetInvoiceStatus(invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, chipipay.InvoiceStatusPaid, status)
}

func TestUnknownProviderStatusMapsToPending(t *testing.T) {
	t.Parallel()
	client, transport := newMockClient(chipipay.Config{})

	invoice, err := client.CreateInvoice(chipipay.CreateInvoiceArgs{
		VusdAmount:  10,
		BtcPriceUsd: 50000,
	})
	require.NoError(t, err)

	require.NoError(t, transport.SetRawStatus(invoice.ID, "something-new"))
	status, err := client.GetInvoiceStatus(invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, chipipay.InvoiceStatusPending, status)
}

func TestVerifyWebhookSignature(t *testing.T) {
	t.Parallel()

	const secret = "super-secret"
	client, _ := newMockClient(chipipay.Config{WebhookSecret: secret})

	payload := []byte(`{"event_type":"invoice.paid","invoice_id":"inv_00000001"}`)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	signature := hex.EncodeToString(mac.Sum(nil))

	t.Run("accepts correct signature", func(t *testing.T) {
		t.Parallel()
		assert.True(t, client.VerifyWebhookSignature(payload, signature))
	})

	t.Run("rejects mutated payload", func(t *testing.T) {
		t.Parallel()
		for i := range payload {
			mutated := append([]byte{}, payload...)
			mutated[i] ^= 0x01
			assert.False(t, client.VerifyWebhookSignature(mutated, signature),
				"mutation at byte %d was accepted", i)
		}
	})

	t.Run("rejects wrong signature", func(t *testing.T) {
		t.Parallel()
		assert.False(t, client.VerifyWebhookSignature(payload, "deadbeef"))
		assert.False(t, client.VerifyWebhookSignature(payload, ""))
	})

	t.Run("accepts everything without a secret", func(t *testing.T) {
		t.Parallel()
		unverified, _ := newMockClient(chipipay.Config{})
		assert.True(t, unverified.VerifyWebhookSignature(payload, "whatever"))
	})
}

func TestMonitorInvoice(t *testing.T) {
	t.Parallel()
	client, transport := newMockClient(chipipay.Config{
		PollInterval: time.Millisecond,
	})

	invoice, err := client.CreateInvoice(chipipay.CreateInvoiceArgs{
		VusdAmount:  10,
		BtcPriceUsd: 50000,
	})
	require.NoError(t, err)
	require.NoError(t, transport.SettleInvoice(invoice.ID))

	terminalCh := make(chan chipipay.InvoiceStatus, 1)
	stop := client.MonitorInvoice(invoice.ID,
		nil,
		func(status chipipay.InvoiceStatus) { terminalCh <- status },
		func(err error) { t.Errorf("unexpected monitor error: %v", err) })
	defer stop()

	select {
	case status := <-terminalCh:
		assert.Equal(t, chipipay.InvoiceStatusPaid, status)
	case <-time.After(time.Second):
		t.Fatal("monitor never reported the settled invoice")
	}
}
