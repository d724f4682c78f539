// Package atomiq is the client for the Atomiq bridge, the cross-chain
// leg that turns a settled Lightning payment into a Starknet mint call.
// It mirrors the chipipay package: a Client over a pluggable Transport,
// with provider statuses normalized into our enums.
package atomiq

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/volta-protocol/voltgate/amounts"
	"github.com/volta-protocol/voltgate/async"
	"github.com/volta-protocol/voltgate/build"
	"github.com/volta-protocol/voltgate/lnerr"
)

var log = build.AddSubLogger("ATMQ")

// BridgeRequestStatus is the lifecycle state of a bridge request.
type BridgeRequestStatus string

const (
	BridgeRequestCreated   BridgeRequestStatus = "created"
	BridgeRequestPending   BridgeRequestStatus = "pending"
	BridgeRequestCompleted BridgeRequestStatus = "completed"
	BridgeRequestFailed    BridgeRequestStatus = "failed"
	BridgeRequestExpired   BridgeRequestStatus = "expired"
)

// BridgeStatusValue is the state reported by a point-in-time bridge
// status snapshot.
type BridgeStatusValue string

const (
	BridgeStatusPending       BridgeStatusValue = "pending"
	BridgeStatusLightningPaid BridgeStatusValue = "lightning_paid"
	BridgeStatusBridging      BridgeStatusValue = "bridging"
	BridgeStatusCompleted     BridgeStatusValue = "completed"
	BridgeStatusFailed        BridgeStatusValue = "failed"
)

// IsTerminal reports whether the bridge can make no further progress.
func (s BridgeStatusValue) IsTerminal() bool {
	return s == BridgeStatusCompleted || s == BridgeStatusFailed
}

// BridgeMetadata records the eventual on-chain call target.
type BridgeMetadata struct {
	ContractAddress string `json:"contractAddress"`
	Method          string `json:"method"`
	UserAddress     string `json:"userAddress"`
}

// BridgeRequest is a request to move value from Lightning into a
// Starknet mint call.
type BridgeRequest struct {
	ID              string              `json:"id"`
	FromNetwork     string              `json:"fromNetwork"`
	ToNetwork       string              `json:"toNetwork"`
	StarknetAddress string              `json:"starknetAddress"`
	VusdAmount      float64             `json:"vusdAmount"`
	BtcAmount       float64             `json:"btcAmount"`
	AmountSat       int64               `json:"amountSat"`
	Status          BridgeRequestStatus `json:"status"`
	CreatedAt       time.Time           `json:"createdAt"`
	Metadata        BridgeMetadata      `json:"metadata"`
}

// BridgeStatus is a point-in-time status snapshot, not a persisted
// entity.
type BridgeStatus struct {
	BridgeID       string            `json:"bridgeId"`
	Status         BridgeStatusValue `json:"status"`
	Confirmations  int               `json:"confirmations"`
	StarknetTxHash string            `json:"starknetTxHash,omitempty"`
	ErrorDetails   string            `json:"errorDetails,omitempty"`
}

// Bridge monitor timing: a 2 second period bounded to 150 iterations,
// roughly five minutes of nominal waiting.
const (
	DefaultPollInterval    = 2 * time.Second
	DefaultMaxPollAttempts = 150
)

// Config holds client settings beyond the transport.
type Config struct {
	// ContractAddress is the VUSD vault contract the bridge mints
	// through.
	ContractAddress string
	// MintMethod is the contract entrypoint invoked on completion.
	MintMethod string
	// PollInterval overrides the bridge monitor period when non-zero.
	PollInterval time.Duration
	// MaxPollAttempts overrides the monitor iteration ceiling when
	// non-zero.
	MaxPollAttempts int
}

// Client talks to Atomiq through its Transport.
type Client struct {
	transport       Transport
	contractAddress string
	mintMethod      string
	pollInterval    time.Duration
	maxPollAttempts int

	mu sync.Mutex
	// terminal pins bridges we have seen reach a terminal status, so
	// statuses never regress within a session.
	terminal map[string]BridgeStatusValue
}

// NewClient returns a client using the given transport.
func NewClient(transport Transport, conf Config) *Client {
	interval := conf.PollInterval
	if interval == 0 {
		interval = DefaultPollInterval
	}
	attempts := conf.MaxPollAttempts
	if attempts == 0 {
		attempts = DefaultMaxPollAttempts
	}
	mintMethod := conf.MintMethod
	if mintMethod == "" {
		mintMethod = "mint_vusd"
	}
	return &Client{
		transport:       transport,
		contractAddress: conf.ContractAddress,
		mintMethod:      mintMethod,
		pollInterval:    interval,
		maxPollAttempts: attempts,
		terminal:        make(map[string]BridgeStatusValue),
	}
}

// CreateBridgeRequestArgs is the input to CreateBridgeRequest.
type CreateBridgeRequestArgs struct {
	VusdAmount      float64
	StarknetAddress string
	BtcPriceUsd     float64
}

// CreateBridgeRequest validates the amount and recipient address and
// registers a Lightning→Starknet bridge request with the provider.
func (c *Client) CreateBridgeRequest(args CreateBridgeRequestArgs) (BridgeRequest, error) {
	if err := amounts.ValidateVusdAmount(args.VusdAmount); err != nil {
		return BridgeRequest{}, err
	}
	if err := ValidateStarknetAddress(args.StarknetAddress); err != nil {
		return BridgeRequest{}, err
	}
	if args.BtcPriceUsd <= 0 {
		return BridgeRequest{}, lnerr.InvalidAmount("BTC price must be positive, got %f", args.BtcPriceUsd)
	}

	amountSat := amounts.CalculateSatsAmount(args.VusdAmount, args.BtcPriceUsd)
	created, err := c.transport.CreateBridge(ProviderBridgeRequest{
		ToAddress:       args.StarknetAddress,
		AmountSat:       amountSat,
		ContractAddress: c.contractAddress,
		Method:          c.mintMethod,
	})
	if err != nil {
		return BridgeRequest{}, lnerr.BridgeError{
			Code: lnerr.CodeProviderError,
			Err:  errors.Wrap(err, "could not create bridge request"),
		}
	}

	request := BridgeRequest{
		ID:              created.ID,
		FromNetwork:     "lightning",
		ToNetwork:       "starknet",
		StarknetAddress: args.StarknetAddress,
		VusdAmount:      args.VusdAmount,
		BtcAmount:       amounts.CalculateBtcAmount(args.VusdAmount, args.BtcPriceUsd),
		AmountSat:       amountSat,
		Status:          BridgeRequestCreated,
		CreatedAt:       created.CreatedAt,
		Metadata: BridgeMetadata{
			ContractAddress: c.contractAddress,
			Method:          c.mintMethod,
			UserAddress:     args.StarknetAddress,
		},
	}

	log.WithField("bridgeId", request.ID).
		WithField("starknetAddress", request.StarknetAddress).
		WithField("amountSat", amountSat).
		Info("Created bridge request")
	return request, nil
}

// GetBridgeStatus fetches a point-in-time snapshot of the bridge.
func (c *Client) GetBridgeStatus(bridgeID string) (BridgeStatus, error) {
	fetched, err := c.transport.GetBridgeStatus(bridgeID)
	if err != nil {
		return BridgeStatus{}, lnerr.BridgeError{
			Code:     lnerr.CodeBridgeNotFound,
			BridgeID: bridgeID,
			Err:      errors.Wrap(err, "could not fetch bridge status"),
		}
	}
	return c.snapshot(bridgeID, fetched), nil
}

// ExecuteBridge tells the provider to run the bridge: spend the settled
// Lightning payment and submit the Starknet mint transaction. This is
// the only call in the flow that moves funds on-chain.
func (c *Client) ExecuteBridge(bridgeID string) (BridgeStatus, error) {
	executed, err := c.transport.ExecuteBridge(bridgeID)
	if err != nil {
		return BridgeStatus{}, lnerr.BridgeError{
			Code:     lnerr.CodeProviderError,
			BridgeID: bridgeID,
			Err:      errors.Wrap(err, "could not execute bridge"),
		}
	}
	log.WithField("bridgeId", bridgeID).Info("Executed bridge")
	return c.snapshot(bridgeID, executed), nil
}

// CancelBridgeRequest asks the provider to cancel the bridge request.
func (c *Client) CancelBridgeRequest(bridgeID string) error {
	if err := c.transport.CancelBridge(bridgeID); err != nil {
		return lnerr.BridgeError{
			Code:     lnerr.CodeProviderError,
			BridgeID: bridgeID,
			Err:      errors.Wrap(err, "could not cancel bridge request"),
		}
	}
	return nil
}

func (c *Client) snapshot(bridgeID string, p ProviderBridgeStatus) BridgeStatus {
	return BridgeStatus{
		BridgeID:       bridgeID,
		Status:         c.rememberStatus(bridgeID, mapAtomiqStatus(p.Status)),
		Confirmations:  p.Confirmations,
		StarknetTxHash: p.StarknetTxHash,
		ErrorDetails:   p.ErrorDetails,
	}
}

func (c *Client) rememberStatus(bridgeID string, status BridgeStatusValue) BridgeStatusValue {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.terminal[bridgeID]; ok {
		if status.IsTerminal() && status != cached {
			log.WithField("bridgeId", bridgeID).
				WithField("cached", cached).
				WithField("fetched", status).
				Warn("Provider reported a different terminal status, keeping the first")
		}
		return cached
	}
	if status.IsTerminal() {
		c.terminal[bridgeID] = status
	}
	return status
}

// MonitorBridge polls the bridge status until it completes or fails,
// invoking onStatusChange on each change and onComplete exactly once
// with the terminal snapshot. If the bridge never reaches a terminal
// state within the iteration ceiling, onError fires with
// BRIDGE_TIMEOUT. The returned function stops the monitor.
func (c *Client) MonitorBridge(bridgeID string,
	onStatusChange func(BridgeStatus), onComplete func(BridgeStatus),
	onError func(error)) (stop func()) {

	var mu sync.Mutex
	var latest BridgeStatus

	poller := async.Poller{
		InitialDelay: c.pollInterval,
		Interval:     c.pollInterval,
		MaxAttempts:  c.maxPollAttempts,
		Fetch: func() (string, error) {
			snapshot, err := c.GetBridgeStatus(bridgeID)
			if err != nil {
				return "", err
			}
			mu.Lock()
			latest = snapshot
			mu.Unlock()
			return string(snapshot.Status), nil
		},
		IsTerminal: func(status string) bool {
			return BridgeStatusValue(status).IsTerminal()
		},
		OnChange: func(string) {
			if onStatusChange != nil {
				mu.Lock()
				snapshot := latest
				mu.Unlock()
				onStatusChange(snapshot)
			}
		},
		OnTerminal: func(string) {
			if onComplete != nil {
				mu.Lock()
				snapshot := latest
				mu.Unlock()
				onComplete(snapshot)
			}
		},
		OnError: func(err error) {
			if onError != nil {
				onError(lnerr.BridgeError{
					Code:     lnerr.CodeBridgeTimeout,
					BridgeID: bridgeID,
					Err:      err,
				})
			}
		},
	}
	return poller.Start()
}

// Bridge time estimation: a 30 second base, scaling linearly up to 120
// seconds as the amount approaches 0.01 BTC.
const (
	baseBridgeTime    = 30 * time.Second
	maxBridgeTime     = 120 * time.Second
	bridgeScaleCapSat = 1_000_000
)

// EstimateBridgeTime returns the expected bridge duration for the given
// satoshi amount.
func EstimateBridgeTime(amountSat int64) time.Duration {
	if amountSat <= 0 {
		return baseBridgeTime
	}
	if amountSat >= bridgeScaleCapSat {
		return maxBridgeTime
	}
	scaled := float64(maxBridgeTime-baseBridgeTime) * float64(amountSat) / bridgeScaleCapSat
	return baseBridgeTime + time.Duration(scaled)
}

// mapAtomiqStatus maps Atomiq status strings onto our snapshot enum.
// Unknown strings default to pending.
func mapAtomiqStatus(status string) BridgeStatusValue {
	switch status {
	case "pending", "created", "waiting":
		return BridgeStatusPending
	case "lightning_paid", "paid":
		return BridgeStatusLightningPaid
	case "bridging", "processing", "executing":
		return BridgeStatusBridging
	case "completed", "success":
		return BridgeStatusCompleted
	case "failed", "error", "expired":
		return BridgeStatusFailed
	default:
		log.WithField("status", status).Debug("Unknown provider bridge status")
		return BridgeStatusPending
	}
}
