// Package amounts holds the pure money math for the payment flow:
// conversions between VUSD, BTC and satoshis, payment limit validation,
// and the fee model. Nothing in here performs IO.
package amounts

import (
	"math"

	"github.com/volta-protocol/voltgate/lnerr"
)

// Payment limits, in VUSD per transaction.
const (
	MinVusdAmount = 1
	MaxVusdAmount = 10000
)

// SatsPerBtc is the number of satoshis in one bitcoin.
const SatsPerBtc = 1e8

// Fee components, in basis points of the satoshi amount.
const (
	LightningFeeBps = 1   // routing
	BridgeFeeBps    = 10  // cross-chain leg
	ProcessorFeeBps = 100 // payment processor
)

// ValidateVusdAmount checks that the given VUSD amount is a real number
// within the configured per-transaction limits. It returns an
// INVALID_AMOUNT error otherwise.
func ValidateVusdAmount(amount float64) error {
	if math.IsNaN(amount) {
		return lnerr.InvalidAmount("amount is not a number")
	}
	if amount <= 0 {
		return lnerr.InvalidAmount("amount must be positive, got %f", amount)
	}
	if amount < MinVusdAmount {
		return lnerr.InvalidAmount("amount %f is below the %d VUSD minimum", amount, MinVusdAmount)
	}
	if amount > MaxVusdAmount {
		return lnerr.InvalidAmount("amount %f is above the %d VUSD maximum", amount, MaxVusdAmount)
	}
	return nil
}

// CalculateBtcAmount converts a VUSD amount to BTC at the given price.
func CalculateBtcAmount(vusdAmount, btcPriceUsd float64) float64 {
	return vusdAmount / btcPriceUsd
}

// CalculateSatsAmount converts a VUSD amount to whole satoshis at the
// given price, rounding to nearest.
func CalculateSatsAmount(vusdAmount, btcPriceUsd float64) int64 {
	return int64(math.Round(CalculateBtcAmount(vusdAmount, btcPriceUsd) * SatsPerBtc))
}

// FeeBreakdown is the satoshi cost of each leg of a payment.
type FeeBreakdown struct {
	LightningFeeSat int64 `json:"lightningFee"`
	BridgeFeeSat    int64 `json:"bridgeFee"`
	ProcessorFeeSat int64 `json:"processorFee"`
	TotalFeeSat     int64 `json:"totalFee"`
}

// CalculateLightningFees computes the fee breakdown for the given satoshi
// amount. Each component is ceiling-rounded to whole satoshis before
// summing, so the total is the sum of the rounded parts rather than a
// single basis-point fraction of the amount.
func CalculateLightningFees(amountSat int64) FeeBreakdown {
	lightning := bpsFee(amountSat, LightningFeeBps)
	bridge := bpsFee(amountSat, BridgeFeeBps)
	processor := bpsFee(amountSat, ProcessorFeeBps)

	return FeeBreakdown{
		LightningFeeSat: lightning,
		BridgeFeeSat:    bridge,
		ProcessorFeeSat: processor,
		TotalFeeSat:     lightning + bridge + processor,
	}
}

func bpsFee(amountSat int64, bps int64) int64 {
	return int64(math.Ceil(float64(amountSat) * float64(bps) / 10000))
}
