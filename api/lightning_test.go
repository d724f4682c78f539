package api_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volta-protocol/voltgate/api"
	"github.com/volta-protocol/voltgate/atomiq"
	"github.com/volta-protocol/voltgate/chipipay"
	"github.com/volta-protocol/voltgate/models/flows"
	"github.com/volta-protocol/voltgate/orchestrator"
	"github.com/volta-protocol/voltgate/testutil/httptestutil"
)

const (
	testAddress   = "0x049d36570d4e46f48e99674bd3fcc84644ddd6b96f7c741b1562b82f9e004dc7"
	webhookSecret = "test-secret"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	harness  httptestutil.TestHarness
	invoices *chipipay.MockTransport
	bridges  *atomiq.MockTransport
	store    *flows.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	invoiceTransport := chipipay.NewMockTransport()
	bridgeTransport := atomiq.NewMockTransport()
	store := flows.NewMemoryStore()

	orch := orchestrator.New(
		chipipay.NewClient(invoiceTransport, chipipay.Config{WebhookSecret: webhookSecret}),
		atomiq.NewClient(bridgeTransport, atomiq.Config{
			ContractAddress: "0x00000000000000000000000000000000000000000000000000000000deadbeef",
		}),
		store,
		orchestrator.Config{WebhookBaseURL: "https://voltgate.test"},
	)

	app, err := api.NewApp(orch, api.Config{
		LogLevel:           logrus.ErrorLevel,
		Network:            "testnet",
		Environment:        "development",
		WebhookBaseURL:     "https://voltgate.test",
		ProviderConfigured: true,
		Debug:              true,
	})
	require.NoError(t, err)

	return &fixture{
		harness:  httptestutil.NewTestHarness(app.Router),
		invoices: invoiceTransport,
		bridges:  bridgeTransport,
		store:    store,
	}
}

func createFlowRequest(t *testing.T) *http.Request {
	t.Helper()
	return httptestutil.GetRequest(t, httptestutil.RequestArgs{
		Path:   "/api/lightning/create",
		Method: "POST",
		Body: fmt.Sprintf(`{
			"vusdAmount": 100,
			"userStarknetAddress": %q,
			"btcPriceUsd": 50000
		}`, testAddress),
	})
}

func sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestPing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req := httptestutil.GetRequest(t, httptestutil.RequestArgs{
		Path: "/ping", Method: "GET",
	})
	f.harness.AssertResponseOk(t, req)
}

func TestGetConfig(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req := httptestutil.GetRequest(t, httptestutil.RequestArgs{
		Path: "/api/lightning/config", Method: "GET",
	})
	res := f.harness.AssertResponseOkWithJson(t, req)

	assert.Equal(t, true, res["success"])
	status := res["status"].(map[string]interface{})
	assert.Equal(t, true, status["isConfigured"])
	assert.Equal(t, true, status["isDevelopment"])
	assert.Equal(t, "testnet", status["network"])
	assert.NotNil(t, status["paymentLimits"])
	assert.NotNil(t, status["webhookUrl"])
	assert.Equal(t, true, status["debugEnabled"])
}

func TestCreatePaymentFlowRoute(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res := f.harness.AssertResponseOkWithJson(t, createFlowRequest(t))
	assert.Equal(t, true, res["success"])

	paymentFlow := res["paymentFlow"].(map[string]interface{})
	assert.Equal(t, "awaiting_payment", paymentFlow["status"])

	invoice := paymentFlow["invoice"].(map[string]interface{})
	assert.Equal(t, float64(200000), invoice["amount"])
	assert.Equal(t, float64(100), invoice["vusdAmount"])

	bridgeRequest := paymentFlow["bridgeRequest"].(map[string]interface{})
	assert.Equal(t, float64(100), bridgeRequest["vusdAmount"])

	steps := paymentFlow["steps"].([]interface{})
	require.Len(t, steps, 5)
	first := steps[0].(map[string]interface{})
	assert.Equal(t, "completed", first["status"])
}

func TestCreatePaymentFlowRouteMissingFields(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req := httptestutil.GetRequest(t, httptestutil.RequestArgs{
		Path:   "/api/lightning/create",
		Method: "POST",
		Body:   `{"vusdAmount": 100}`,
	})
	res := f.harness.AssertResponseNotOkWithCode(t, req, 400)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &parsed))
	required := parsed["required"].([]interface{})
	assert.Contains(t, required, "userStarknetAddress")
	assert.Contains(t, required, "btcPriceUsd")
}

func TestCreatePaymentFlowRouteBadAddress(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req := httptestutil.GetRequest(t, httptestutil.RequestArgs{
		Path:   "/api/lightning/create",
		Method: "POST",
		Body:   `{"vusdAmount": 100, "userStarknetAddress": "0x12", "btcPriceUsd": 50000}`,
	})
	res := f.harness.AssertResponseNotOkWithCode(t, req, 400)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &parsed))
	assert.NotEmpty(t, parsed["errors"])
}

func TestGetInvoiceStatusRoute(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	created := f.harness.AssertResponseOkWithJson(t, createFlowRequest(t))
	invoiceID := created["paymentFlow"].(map[string]interface{})["invoiceId"].(string)

	req := httptestutil.GetRequest(t, httptestutil.RequestArgs{
		Path:   "/api/lightning/status/" + invoiceID,
		Method: "GET",
	})
	res := f.harness.AssertResponseOkWithJson(t, req)

	invoice := res["invoice"].(map[string]interface{})
	assert.Equal(t, invoiceID, invoice["id"])
	assert.Equal(t, "pending", invoice["status"])
}

func TestGetPaymentSummaryRoute(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	t.Run("valid", func(t *testing.T) {
		req := httptestutil.GetRequest(t, httptestutil.RequestArgs{
			Path:   "/api/lightning/summary?vusdAmount=100&btcPriceUsd=50000",
			Method: "GET",
		})
		res := f.harness.AssertResponseOkWithJson(t, req)

		summary := res["summary"].(map[string]interface{})
		assert.Equal(t, float64(100), summary["vusdAmount"])
		assert.Equal(t, float64(200000), summary["satsAmount"])
		assert.NotNil(t, summary["fees"])
		assert.NotNil(t, summary["estimatedTime"])
		assert.Equal(t, float64(1), summary["minimumConfirmations"])
	})

	t.Run("missing parameters", func(t *testing.T) {
		for _, path := range []string{
			"/api/lightning/summary",
			"/api/lightning/summary?vusdAmount=100",
			"/api/lightning/summary?vusdAmount=0&btcPriceUsd=50000",
			"/api/lightning/summary?vusdAmount=100&btcPriceUsd=0",
			"/api/lightning/summary?vusdAmount=100&btcPriceUsd=-5",
		} {
			req := httptestutil.GetRequest(t, httptestutil.RequestArgs{
				Path: path, Method: "GET",
			})
			f.harness.AssertResponseNotOkWithCode(t, req, 400)
		}
	})
}

func TestWebhookRoute(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	created := f.harness.AssertResponseOkWithJson(t, createFlowRequest(t))
	paymentFlow := created["paymentFlow"].(map[string]interface{})
	invoiceID := paymentFlow["invoiceId"].(string)
	bridgeID := paymentFlow["bridgeRequestId"].(string)

	require.NoError(t, f.invoices.SettleInvoice(invoiceID))

	payload := fmt.Sprintf(`{"event_type":"invoice.paid","invoice_id":%q}`, invoiceID)
	path := "/api/lightning/webhook/" + bridgeID

	t.Run("rejects bad signature", func(t *testing.T) {
		req := httptestutil.GetRequest(t, httptestutil.RequestArgs{
			Path:   path,
			Method: "POST",
			Body:   payload,
			Header: map[string]string{"x-chipipay-signature": "deadbeef"},
		})
		f.harness.AssertResponseNotOkWithCode(t, req, 401)
	})

	t.Run("rejects mutated payload", func(t *testing.T) {
		mutated := payload[:len(payload)-1] + " }"
		req := httptestutil.GetRequest(t, httptestutil.RequestArgs{
			Path:   path,
			Method: "POST",
			Body:   mutated,
			Header: map[string]string{"x-chipipay-signature": sign(payload)},
		})
		f.harness.AssertResponseNotOkWithCode(t, req, 401)
	})

	t.Run("processes paid event", func(t *testing.T) {
		req := httptestutil.GetRequest(t, httptestutil.RequestArgs{
			Path:   path,
			Method: "POST",
			Body:   payload,
			Header: map[string]string{"x-chipipay-signature": sign(payload)},
		})
		res := f.harness.AssertResponseOkWithJson(t, req)
		assert.Equal(t, true, res["success"])

		record, err := f.store.GetByInvoiceID(invoiceID)
		require.NoError(t, err)
		assert.True(t, record.Processed)
	})

	t.Run("acknowledges unknown events", func(t *testing.T) {
		unknown := `{"event_type":"invoice.weird","invoice_id":"inv_x"}`
		req := httptestutil.GetRequest(t, httptestutil.RequestArgs{
			Path:   path,
			Method: "POST",
			Body:   unknown,
			Header: map[string]string{"x-chipipay-signature": sign(unknown)},
		})
		res := f.harness.AssertResponseOkWithJson(t, req)
		assert.Equal(t, true, res["success"])
	})
}

func TestWebhookTimeoutEvent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	created := f.harness.AssertResponseOkWithJson(t, createFlowRequest(t))
	paymentFlow := created["paymentFlow"].(map[string]interface{})
	invoiceID := paymentFlow["invoiceId"].(string)
	bridgeID := paymentFlow["bridgeRequestId"].(string)

	payload := fmt.Sprintf(`{"event_type":"invoice.expired","invoice_id":%q}`, invoiceID)
	req := httptestutil.GetRequest(t, httptestutil.RequestArgs{
		Path:   "/api/lightning/webhook/" + bridgeID,
		Method: "POST",
		Body:   payload,
		Header: map[string]string{"x-chipipay-signature": sign(payload)},
	})
	res := f.harness.AssertResponseOkWithJson(t, req)
	assert.Equal(t, true, res["success"])

	// an expired invoice fails the flow, it was not cancelled by the user
	record, err := f.store.GetByInvoiceID(invoiceID)
	require.NoError(t, err)
	assert.Equal(t, flows.StatusFailed, record.Status)
}

func TestWebhookCancelledEvent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	created := f.harness.AssertResponseOkWithJson(t, createFlowRequest(t))
	paymentFlow := created["paymentFlow"].(map[string]interface{})
	invoiceID := paymentFlow["invoiceId"].(string)
	bridgeID := paymentFlow["bridgeRequestId"].(string)

	payload := fmt.Sprintf(`{"event_type":"invoice.cancelled","invoice_id":%q}`, invoiceID)
	req := httptestutil.GetRequest(t, httptestutil.RequestArgs{
		Path:   "/api/lightning/webhook/" + bridgeID,
		Method: "POST",
		Body:   payload,
		Header: map[string]string{"x-chipipay-signature": sign(payload)},
	})
	res := f.harness.AssertResponseOkWithJson(t, req)
	assert.Equal(t, true, res["success"])

	record, err := f.store.GetByInvoiceID(invoiceID)
	require.NoError(t, err)
	assert.Equal(t, flows.StatusCancelled, record.Status)
}
