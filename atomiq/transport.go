package atomiq

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// ProviderBridgeRequest is the wire format for registering a bridge with
// Atomiq.
type ProviderBridgeRequest struct {
	FromNetwork     string `json:"from_network"`
	ToNetwork       string `json:"to_network"`
	ToAddress       string `json:"to_address"`
	AmountSat       int64  `json:"amount"`
	ContractAddress string `json:"contract_address"`
	Method          string `json:"method"`
}

// ProviderBridge is the wire format Atomiq answers bridge creation with.
type ProviderBridge struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// ProviderBridgeStatus is the wire format of a bridge status snapshot.
type ProviderBridgeStatus struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Confirmations  int    `json:"confirmations"`
	StarknetTxHash string `json:"starknet_tx_hash,omitempty"`
	ErrorDetails   string `json:"error_details,omitempty"`
}

// Transport is the provider boundary of the bridge client.
type Transport interface {
	CreateBridge(req ProviderBridgeRequest) (ProviderBridge, error)
	GetBridgeStatus(id string) (ProviderBridgeStatus, error)
	ExecuteBridge(id string) (ProviderBridgeStatus, error)
	CancelBridge(id string) error
}

const bridgesEndpoint = "/v1/bridges"

// HTTPTransport performs real calls against the Atomiq API.
type HTTPTransport struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

var _ Transport = &HTTPTransport{}

func (t *HTTPTransport) client() *http.Client {
	if t.HTTP != nil {
		return t.HTTP
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (t *HTTPTransport) CreateBridge(req ProviderBridgeRequest) (ProviderBridge, error) {
	req.FromNetwork = "lightning"
	req.ToNetwork = "starknet"

	var bridge ProviderBridge
	err := t.do(http.MethodPost, bridgesEndpoint, req, &bridge)
	return bridge, err
}

func (t *HTTPTransport) GetBridgeStatus(id string) (ProviderBridgeStatus, error) {
	var status ProviderBridgeStatus
	err := t.do(http.MethodGet, bridgesEndpoint+"/"+id+"/status", nil, &status)
	return status, err
}

func (t *HTTPTransport) ExecuteBridge(id string) (ProviderBridgeStatus, error) {
	var status ProviderBridgeStatus
	err := t.do(http.MethodPost, bridgesEndpoint+"/"+id+"/execute", nil, &status)
	return status, err
}

func (t *HTTPTransport) CancelBridge(id string) error {
	return t.do(http.MethodPost, bridgesEndpoint+"/"+id+"/cancel", nil, nil)
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
